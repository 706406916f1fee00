package topic

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors the topics YAML file for changes and calls a callback with
// the new topic list when the file content changes. It uses polling (not
// fsnotify) to keep dependencies minimal.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(topics []Topic)
	store    *Store

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// Compile-time interface check.
var _ Provider = (*Watcher)(nil)

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a topics file watcher. It loads the file immediately and
// starts polling in a background goroutine. onChange fires only for changes
// after the initial load; read the starting list with [Watcher.Topics].
func NewWatcher(path string, onChange func(topics []Topic), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	topics, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("topic: watcher initial load: %w", err)
	}
	w.store = NewStore(topics)
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Topics implements [Provider] with the most recently loaded valid list.
func (w *Watcher) Topics() []Topic {
	return w.store.Topics()
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll checks the topics file periodically until Stop is called.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the topics file and, if its content changed and is valid,
// updates the current list and invokes onChange.
func (w *Watcher) check() {
	// Quick mtime check first to avoid hashing unchanged files.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("topic watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	topics, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		// Keep serving the previous valid list.
		slog.Warn("topic watcher: failed to load topics", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// File was touched but content is identical.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()
	w.store.Replace(topics)

	slog.Info("topic watcher: topics reloaded", "path", w.path, "count", len(topics))

	if w.onChange != nil {
		w.onChange(topics)
	}
}

// loadAndHash reads the topics file, parses and validates it, and returns the
// list alongside the file's SHA-256 hash and modification time.
func (w *Watcher) loadAndHash() ([]Topic, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	topics, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	return topics, sha256.Sum256(data), info.ModTime(), nil
}
