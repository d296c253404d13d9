package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Event represents a file system event
type Event struct {
	Path string
	Type EventType
}

// Options controls what a Watcher covers
type Options struct {
	// Recursive adds every directory below the root, including ones
	// created after Start.
	Recursive bool
	// Ignore lists directory base names that are never descended into.
	Ignore []string
}

// Watcher watches a directory for file system events with debouncing
type Watcher struct {
	path       string
	debounce   time.Duration
	callback   func(Event)
	opts       Options
	ignore     map[string]struct{}
	watcher    *fsnotify.Watcher
	done       chan struct{}
	started    bool
	closed     bool
	mu         sync.Mutex
	debouncer  map[string]*time.Timer
	pending    map[string]EventType
	debounceMu sync.Mutex
}

// New creates a new Watcher for the given path
func New(path string, debounce time.Duration, callback func(Event)) (*Watcher, error) {
	return NewWithOptions(path, debounce, Options{}, callback)
}

// NewWithOptions creates a Watcher that may cover a whole tree
func NewWithOptions(path string, debounce time.Duration, opts Options, callback func(Event)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:      path,
		debounce:  debounce,
		callback:  callback,
		opts:      opts,
		ignore:    make(map[string]struct{}, len(opts.Ignore)),
		watcher:   watcher,
		done:      make(chan struct{}),
		debouncer: make(map[string]*time.Timer),
		pending:   make(map[string]EventType),
	}
	for _, name := range opts.Ignore {
		w.ignore[name] = struct{}{}
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", path, err)
	}

	if opts.Recursive {
		if err := w.addTree(path); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return w, nil
}

// addTree watches every non-ignored directory below root
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish while walking.
			if p != root && os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	_, skip := w.ignore[filepath.Base(path)]
	return skip
}

// AddPath adds an additional path to watch
func (w *Watcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	return w.watcher.Add(path)
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	w.started = true

	go w.watch()

	return nil
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	if w.started {
		close(w.done)
	}

	// Cancel all pending debounce timers
	w.debounceMu.Lock()
	for _, timer := range w.debouncer {
		timer.Stop()
	}
	w.debouncer = make(map[string]*time.Timer)
	w.pending = make(map[string]EventType)
	w.debounceMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			log.Printf("[Watcher] %s: %v", w.path, err)

		case <-w.done:
			return
		}
	}
}

// handleEvent processes a fsnotify event with debouncing
func (w *Watcher) handleEvent(event fsnotify.Event) {
	var eventType EventType

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventModify
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventRename
	default:
		// Unknown event type, ignore
		return
	}

	if w.opts.Recursive {
		if w.insideIgnored(event.Name) {
			return
		}
		if eventType == EventCreate {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.addTree(event.Name); err != nil {
					log.Printf("[Watcher] %v", err)
				} else if err := w.watcher.Add(event.Name); err != nil {
					log.Printf("[Watcher] failed to watch path %s: %v", event.Name, err)
				}
				return
			}
		}
	}

	e := Event{
		Path: event.Name,
		Type: eventType,
	}

	// Debounce the event
	w.debounceEvent(e)
}

// insideIgnored reports whether path sits in an ignored directory below
// the watched root
func (w *Watcher) insideIgnored(path string) bool {
	rel, err := filepath.Rel(w.path, path)
	if err != nil {
		return false
	}
	dir := filepath.Dir(rel)
	for dir != "." && dir != string(filepath.Separator) {
		if _, skip := w.ignore[filepath.Base(dir)]; skip {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return w.ignored(path)
}

// debounceEvent debounces events for the same file. A create followed by
// writes inside one window is still reported as a create.
func (w *Watcher) debounceEvent(e Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	// Cancel existing timer for this path if any
	if timer, exists := w.debouncer[e.Path]; exists {
		timer.Stop()
	}
	if prev, ok := w.pending[e.Path]; ok && prev == EventCreate && e.Type == EventModify {
		e.Type = EventCreate
	}
	w.pending[e.Path] = e.Type

	// Create new timer
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		if w.debouncer[e.Path] != timer {
			// Superseded by a later event for the same path.
			w.debounceMu.Unlock()
			return
		}
		delete(w.debouncer, e.Path)
		delete(w.pending, e.Path)
		w.debounceMu.Unlock()

		// Call the callback
		w.callback(e)
	})
	w.debouncer[e.Path] = timer
}
