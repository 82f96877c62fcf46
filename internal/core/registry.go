package core

import (
	"sync"
)

type loadState int

const (
	loadStatePending loadState = iota
	loadStateLoaded
)

type registryEntry struct {
	state loadState
	owner string
	done  chan struct{}
}

// Registry is the process-wide record of library names that are loaded
// or currently being loaded. It makes loading idempotent (a loaded name
// is never passed to the platform loader again) and lets concurrent
// loaders of the same dependency wait for the in-flight attempt instead
// of racing it.
//
// Each pending entry records the owner token of the request holding it,
// and waiters register what they block on, so a wait that would close a
// cycle of requests (A holds liba and needs libb, B holds libb and
// needs liba) is detected instead of deadlocking.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	waits   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		waits:   make(map[string]string),
	}
}

// Begin claims the right to load name on behalf of the request
// identified by owner. On acquired=true the caller owns the load and
// must end it with Commit or Abort. Otherwise done is nil when the name
// is already loaded, or a channel that closes when the current owner
// finishes; the caller should wait and call Begin again.
func (r *Registry) Begin(name, owner string) (acquired bool, done <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[name]; ok {
		if entry.state == loadStateLoaded {
			return false, nil
		}
		return false, entry.done
	}
	r.entries[name] = &registryEntry{
		state: loadStatePending,
		owner: owner,
		done:  make(chan struct{}),
	}
	return true, nil
}

// BeginWait registers that owner is about to block on name's pending
// load. When the chain of pending owners starting at name leads back to
// owner, blocking would deadlock; BeginWait then registers nothing and
// reports cycle=true so the caller can back off. A false return must be
// balanced with EndWait once the wait is over.
func (r *Registry) BeginWait(owner, name string) (cycle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := name
	for i := 0; i <= len(r.entries); i++ {
		entry, ok := r.entries[cur]
		if !ok || entry.state != loadStatePending {
			break
		}
		if entry.owner == owner {
			return true
		}
		next, ok := r.waits[entry.owner]
		if !ok {
			break
		}
		cur = next
	}
	r.waits[owner] = name
	return false
}

// EndWait removes owner's registered wait edge.
func (r *Registry) EndWait(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waits, owner)
}

// Loaded reports whether name has completed a successful load.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	return ok && entry.state == loadStateLoaded
}

// Commit marks a pending name as loaded and releases waiters.
func (r *Registry) Commit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	if !ok || entry.state != loadStatePending {
		return
	}
	entry.state = loadStateLoaded
	close(entry.done)
}

// Abort drops a pending name so a later attempt may retry it, and
// releases waiters.
func (r *Registry) Abort(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	if !ok || entry.state != loadStatePending {
		return
	}
	delete(r.entries, name)
	close(entry.done)
}
