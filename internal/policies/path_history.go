package policies

import (
	"strings"
	"sync"
)

// PathHistory keeps the most recently observed base package paths so a
// base-package-missing report can show what the path looked like while
// things still worked.
type PathHistory struct {
	mu      sync.Mutex
	paths   []string
	maxSize int
}

func NewPathHistory(maxSize int) *PathHistory {
	if maxSize <= 0 {
		maxSize = 8
	}
	return &PathHistory{maxSize: maxSize}
}

// Record notes an observed path, skipping consecutive duplicates.
func (h *PathHistory) Record(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.paths) > 0 && h.paths[len(h.paths)-1] == path {
		return
	}
	h.paths = append(h.paths, path)
	if len(h.paths) > h.maxSize {
		h.paths = h.paths[len(h.paths)-h.maxSize:]
	}
}

// Report renders the recorded paths, oldest first.
func (h *PathHistory) Report() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.paths) == 0 {
		return "no base package paths observed"
	}
	return "observed paths: " + strings.Join(h.paths, ", ")
}
