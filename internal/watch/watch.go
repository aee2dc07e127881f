// Package watch re-runs a handler when files under a directory tree change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jorge-barreto/stencil/internal/logging"
)

type Op int

const (
	Created Op = iota
	Modified
	Deleted
	Renamed
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one file change.
type Event struct {
	Op   Op
	Path string
}

// Filter reports whether a path should be watched.
type Filter func(path string) bool

// Handler receives one debounced batch of events, sorted by path.
type Handler func(ctx context.Context, events []Event) error

// Debouncer groups rapid changes together. Later events for the same path
// replace earlier ones.
type Debouncer struct {
	delay   time.Duration
	out     chan []Event
	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]Event
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		out:     make(chan []Event, 1),
		pending: make(map[string]Event),
	}
}

// C delivers batches.
func (d *Debouncer) C() <-chan []Event { return d.out }

// Add records an event and restarts the quiet period.
func (d *Debouncer) Add(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[e.Path] = e
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// Drop discards pending events.
func (d *Debouncer) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	clear(d.pending)
}

func (d *Debouncer) Stop() {
	d.Drop()
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return
	}
	events := make([]Event, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	select {
	case d.out <- events:
		clear(d.pending)
	default:
		// previous batch not consumed yet; try again later
		d.timer = time.AfterFunc(d.delay, d.flush)
	}
}

// Watcher watches directory trees.
type Watcher struct {
	fs      *fsnotify.Watcher
	deb     *Debouncer
	mu      sync.RWMutex
	filters []Filter
}

// New creates a watcher whose batches settle after delay.
func New(delay time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fs: fw, deb: NewDebouncer(delay), filters: []Filter{NoScratchFilter}}, nil
}

func (w *Watcher) AddFilter(f Filter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filters = append(w.filters, f)
}

func (w *Watcher) accept(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, f := range w.filters {
		if !f(path) {
			return false
		}
	}
	return true
}

// AddRecursive watches root and every directory below it.
func (w *Watcher) AddRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !w.accept(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// Run delivers batches to h until ctx is done. Changes made while h runs
// are dropped, so a handler that writes into the watched tree does not
// trigger itself.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	log := logging.FromContext(ctx)
	defer w.deb.Stop()
	busy := false
	var mu sync.Mutex
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case events := <-w.deb.C():
				mu.Lock()
				busy = true
				mu.Unlock()
				if err := h(ctx, events); err != nil {
					log.Warn("watch handler failed", "error", err)
				}
				w.deb.Drop()
				mu.Lock()
				busy = false
				mu.Unlock()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			mu.Lock()
			skip := busy
			mu.Unlock()
			if skip {
				log.Debug("change ignored while handler runs", "path", ev.Name)
				continue
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !w.accept(ev.Name) {
		return
	}
	var op Op
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = Created
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.AddRecursive(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		op = Modified
	case ev.Op.Has(fsnotify.Remove):
		op = Deleted
	case ev.Op.Has(fsnotify.Rename):
		op = Renamed
	default:
		// chmod only
		return
	}
	w.deb.Add(Event{Op: op, Path: ev.Name})
}

func (w *Watcher) Close() error {
	w.deb.Stop()
	return w.fs.Close()
}

// NoScratchFilter drops VCS directories and editor scratch files.
func NoScratchFilter(path string) bool {
	base := filepath.Base(path)
	switch {
	case base == ".git", base == ".DS_Store", base == "4913":
		return false
	case strings.HasSuffix(base, "~"):
		return false
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return false
	case strings.HasPrefix(base, ".#"):
		return false
	case strings.HasPrefix(base, ".stencil-render-"):
		return false
	}
	return !strings.Contains(filepath.ToSlash(path), "/.git/")
}
