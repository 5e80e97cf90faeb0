package template

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stencil/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches template roots for source changes and drops the affected
// store cache entries. The store's fingerprint check already self-corrects
// staleness on the next Load; the watcher just makes invalidation prompt.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       *Store
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for tests and debugging.
type WatcherStats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Invalidations int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// NewWatcher creates a watcher over the store's roots.
func NewWatcher(store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		store:       store,
		debounceMap: make(map[string]time.Time),
		debounceDur: 250 * time.Millisecond, // Settle rapid editor saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the store's root directories. Non-blocking; the
// event loop runs in a goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	// fsnotify watches are not recursive; templates live in subdirectories
	// (e.g. macros/, docs/), so every directory under a root is added.
	for _, root := range w.store.Roots() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			return w.watcher.Add(path)
		})
		if err != nil {
			// Root may not exist yet; the store reports that on Load.
			logging.Get(logging.CategoryStore).Warn("Watcher: cannot watch %s: %v", root, err)
			continue
		}
		logging.Get(logging.CategoryStore).Info("Watcher: watching %s", root)
	}

	go w.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("Watcher: error closing: %v", err)
	}
}

// Stats returns a copy of the watcher's counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryStore).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isTemplateSource(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod, etc.
	}

	logging.Get(logging.CategoryStore).Debug("Watcher: %s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType

	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}

	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processDebounced invalidates entries for events that settled past the
// debounce window.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var toProcess []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toProcess = append(toProcess, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range toProcess {
		for _, name := range w.cacheKeysFor(path) {
			w.store.Invalidate(name)
		}

		w.mu.Lock()
		w.stats.Invalidations++
		w.mu.Unlock()

		logging.Get(logging.CategoryStore).Info("Watcher: invalidated %s", path)
	}
}

// cacheKeysFor maps a changed file to the cache keys callers may have loaded
// it under: the root-relative path, the basename, each with and without the
// template extension.
func (w *Watcher) cacheKeysFor(path string) []string {
	trimmed := strings.TrimSuffix(path, ".meta.yaml")

	var keys []string
	seen := make(map[string]bool)
	var add func(string)
	add = func(key string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
		ext := filepath.Ext(key)
		switch ext {
		case ".tmpl", ".jinja", ".j2":
			add(strings.TrimSuffix(key, ext))
		}
	}

	for _, root := range w.store.Roots() {
		rel, err := filepath.Rel(root, trimmed)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		add(filepath.ToSlash(rel))
	}
	add(filepath.Base(trimmed))

	return keys
}

// isTemplateSource reports whether a path is a template or sidecar file.
func isTemplateSource(path string) bool {
	if strings.HasSuffix(path, ".meta.yaml") {
		return true
	}
	for _, suffix := range DefaultSuffixes {
		if suffix != "" && strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
