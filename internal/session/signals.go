package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalWatcher watches a session's signals directory for a cancel file,
// letting an outside process stop a running session without owning its
// context. A stat fallback covers watchers that miss events.
type SignalWatcher struct {
	signalsDir string

	mu        sync.RWMutex
	cancelled bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once

	// Cancelled is closed when a cancel signal is observed.
	Cancelled chan struct{}
}

// NewSignalWatcher creates a watcher over the session directory's
// signals subdirectory. A failed fsnotify setup degrades to stat-only
// checks via ShouldCancel.
func NewSignalWatcher(sessionDir string) (*SignalWatcher, error) {
	signalsDir := filepath.Join(sessionDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
		Cancelled:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sw, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return sw, nil
	}
	sw.watcher = watcher
	go sw.watch()
	return sw, nil
}

func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == "cancel" && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.markCancelled()
			}
		case <-sw.watcher.Errors:
			// Keep watching; ShouldCancel stats the file anyway.
		}
	}
}

func (sw *SignalWatcher) markCancelled() {
	sw.mu.Lock()
	already := sw.cancelled
	sw.cancelled = true
	sw.mu.Unlock()
	if !already {
		sw.once.Do(func() { close(sw.Cancelled) })
	}
}

// ShouldCancel reports whether a cancel signal has been received. It
// also stats the signal file directly in case the watcher missed it.
func (sw *SignalWatcher) ShouldCancel() bool {
	if _, err := os.Stat(filepath.Join(sw.signalsDir, "cancel")); err == nil {
		sw.markCancelled()
	}
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.cancelled
}

// SendCancel creates the cancel signal file for the session at
// sessionDir. Any process may call it.
func SendCancel(sessionDir string) error {
	signalsDir := filepath.Join(sessionDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(signalsDir, "cancel"), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the signal file and resets state, for session restart.
func (sw *SignalWatcher) Clear() {
	sw.mu.Lock()
	sw.cancelled = false
	sw.mu.Unlock()
	os.Remove(filepath.Join(sw.signalsDir, "cancel"))
}

// Close shuts the watcher down.
func (sw *SignalWatcher) Close() {
	select {
	case <-sw.done:
	default:
		close(sw.done)
	}
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}
