package adapters_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"soloader/internal/types"
)

// recordingLoader is a call-counting platform-loader stub. Failures are
// scripted per library base name; paths are recorded in call order.
type recordingLoader struct {
	mu       sync.Mutex
	paths    []string
	fail     map[string]error
	failOnce map[string]error
}

func newRecordingLoader() *recordingLoader {
	return &recordingLoader{
		fail:     map[string]error{},
		failOnce: map[string]error{},
	}
}

func (l *recordingLoader) Load(ctx context.Context, path string, flags types.LoadFlags, policy types.ThreadPolicy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)

	name := baseName(path)
	if err, ok := l.failOnce[name]; ok {
		delete(l.failOnce, name)
		return err
	}
	return l.fail[name]
}

func (l *recordingLoader) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func (l *recordingLoader) loadedNames() []string {
	var names []string
	for _, path := range l.calls() {
		names = append(names, baseName(path))
	}
	return names
}

// baseName strips both directory prefixes and the <bundle>!/ archive
// addressing convention.
func baseName(path string) string {
	if idx := strings.LastIndex(path, "!/"); idx >= 0 {
		path = path[idx+2:]
	}
	return filepath.Base(path)
}
