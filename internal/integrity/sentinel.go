package integrity

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Sentinel watches sealed artifact directories for writes made outside the
// engine. The orchestrator drains the dirty set right after its own export
// step, dismissing its own writes; anything accumulated after that happened
// during sleep, came from another process, and gets re-verified.
type Sentinel struct {
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewSentinel watches the given directories. Directories that don't exist
// yet must be created before calling this.
func NewSentinel(dirs ...string) (*Sentinel, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return &Sentinel{
		watcher: watcher,
		dirty:   make(map[string]struct{}),
	}, nil
}

// Run consumes watcher events until the context is cancelled.
func (s *Sentinel) Run(ctx context.Context) error {
	defer s.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			// Temp files from atomic writes churn constantly; only the
			// final rename target matters.
			if strings.Contains(filepath.Base(ev.Name), ".tmp") {
				continue
			}
			s.mu.Lock()
			s.dirty[ev.Name] = struct{}{}
			s.mu.Unlock()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Drain returns the paths touched since the last drain and clears the set.
func (s *Sentinel) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}
	paths := make([]string, 0, len(s.dirty))
	for p := range s.dirty {
		paths = append(paths, p)
	}
	s.dirty = make(map[string]struct{})
	return paths
}
