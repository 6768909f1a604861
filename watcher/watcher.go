// Package watcher observes a directory tree and emits debounced, deduplicated
// change notifications for file creation and modification. The watcher never
// blocks on its consumer: events are enqueued onto a buffered channel and the
// upload pipeline drains it at its own pace.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
)

// ChangeEvent is one coalesced filesystem change. Rapid raw events for the
// same path within the debounce window collapse into a single ChangeEvent.
type ChangeEvent struct {
	Path       string // relative to the watched root
	Kind       EventKind
	ObservedAt time.Time
}

// pendingChange tracks a path waiting out its debounce window. The size and
// mtime snapshot implement the stability check: the event is only emitted
// once the file has stopped changing for a full debounce interval.
type pendingChange struct {
	kind    EventKind
	size    int64
	modTime time.Time
	timer   *time.Timer
}

type Watcher struct {
	root      string
	recursive bool
	watcher   *fsnotify.Watcher
	ignore    *IgnoreMatcher
	debounce  time.Duration
	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[string]*pendingChange
}

func NewWatcher(root string, ignore *IgnoreMatcher, debounce time.Duration, recursive bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:      root,
		recursive: recursive,
		watcher:   fsw,
		ignore:    ignore,
		debounce:  debounce,
		events:    make(chan ChangeEvent, 256),
		done:      make(chan struct{}),
		pending:   make(map[string]*pendingChange),
	}, nil
}

func (w *Watcher) Start(ctx context.Context) error {
	if w.recursive {
		if err := w.addRecursive(w.root); err != nil {
			return err
		}
	} else {
		if err := w.watcher.Add(w.root); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)

	return nil
}

func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if !info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		if relPath != "." && w.ignore.ShouldIgnore(relPath) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			log.Printf("Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
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
			log.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || relPath == "." || strings.HasPrefix(relPath, "..") {
		// Outside the watched root
		return
	}

	if w.ignore.ShouldIgnore(relPath) {
		return
	}

	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		// New directory created under a recursive watch: start watching it.
		if w.recursive && event.Has(fsnotify.Create) {
			if err := w.addRecursive(event.Name); err != nil {
				log.Printf("Failed to add new directory %s: %v", event.Name, err)
			}
		}
		return
	}

	var kind EventKind
	switch {
	case event.Has(fsnotify.Create):
		kind = EventCreated
	case event.Has(fsnotify.Write):
		kind = EventModified
	default:
		// Deletes and renames do not trigger uploads
		return
	}

	w.notePending(relPath, kind)
}

// notePending records or refreshes the debounce state for a path. A create
// followed by writes within the window stays a single created event.
func (w *Watcher) notePending(relPath string, kind EventKind) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	size, modTime := w.snapshot(relPath)

	if p, ok := w.pending[relPath]; ok {
		if p.kind == EventCreated {
			kind = EventCreated
		}
		p.kind = kind
		p.size = size
		p.modTime = modTime
		p.timer.Stop()
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingChange{kind: kind, size: size, modTime: modTime}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.maybeFlush(relPath)
	})
	w.pending[relPath] = p
}

// maybeFlush emits the pending event for a path if the file has been stable
// for the full debounce interval. A file still being written re-arms the
// timer instead of being hashed mid-write.
func (w *Watcher) maybeFlush(relPath string) {
	w.pendingMu.Lock()

	p, ok := w.pending[relPath]
	if !ok {
		w.pendingMu.Unlock()
		return
	}

	absPath := filepath.Join(w.root, relPath)
	info, err := os.Stat(absPath)
	if err != nil {
		// File vanished before the window closed
		delete(w.pending, relPath)
		w.pendingMu.Unlock()
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer.Reset(w.debounce)
		w.pendingMu.Unlock()
		return
	}

	kind := p.kind
	delete(w.pending, relPath)
	w.pendingMu.Unlock()

	event := ChangeEvent{
		Path:       relPath,
		Kind:       kind,
		ObservedAt: time.Now(),
	}

	select {
	case <-w.done:
	case w.events <- event:
	default:
		log.Printf("Event channel full, dropping event for %s", relPath)
	}
}

func (w *Watcher) snapshot(relPath string) (int64, time.Time) {
	info, err := os.Stat(filepath.Join(w.root, relPath))
	if err != nil {
		return -1, time.Time{}
	}
	return info.Size(), info.ModTime()
}

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "CREATED"
	case EventModified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}
