package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wethinkt/go-timegrid/internal/timeline"
	"github.com/wethinkt/go-timegrid/internal/tuilog"
)

// Watcher keeps the library in sync with media directories. Changes to a
// path are debounced; rapid writes collapse into one re-index.
type Watcher struct {
	store    *Store
	debounce time.Duration
	colors   bool
	watcher  *fsnotify.Watcher
	onChange func([]timeline.BucketKey)
	log      *tuilog.Logger
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer
	dirs   map[string]bool
}

// NewWatcher returns a watcher writing into store. onChange receives the
// bucket keys affected by each applied change. A zero debounce defaults to
// 2 seconds.
func NewWatcher(store *Store, debounce time.Duration, colors bool, onChange func([]timeline.BucketKey)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		store:    store,
		debounce: debounce,
		colors:   colors,
		watcher:  fw,
		onChange: onChange,
		log:      tuilog.Log.With("watcher"),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		dirs:     make(map[string]bool),
	}, nil
}

// Start watches dirs and every directory below them.
func (w *Watcher) Start(ctx context.Context, dirs ...string) error {
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		if err := w.addTree(abs); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops watching and cancels pending re-indexes.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
	w.mu.Unlock()
	return err
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	return out
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			w.log.Warn("failed to watch directory", "dir", p, "error", err)
			return nil
		}
		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "error", err)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return
		}
	}
	if MediaTypeOf(ev.Name) == "" {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.apply(path)
	})
	w.mu.Unlock()
}

// apply re-reads path: present files are upserted, missing ones removed.
func (w *Watcher) apply(path string) {
	select {
	case <-w.done:
		return
	default:
	}
	ctx := context.Background()

	var keys []timeline.BucketKey
	var err error
	if _, statErr := os.Stat(path); statErr != nil {
		keys, err = w.store.DeletePath(ctx, path)
		if err == nil && len(keys) > 0 {
			w.log.Info("removed", "path", path)
		}
	} else {
		var rec Record
		rec, err = Probe(path, w.colors)
		if err == nil {
			keys, err = w.store.Upsert(ctx, []Record{rec})
			w.log.Info("indexed", "path", path, "bucket", rec.Bucket)
		}
	}
	if err != nil {
		w.log.Error("re-index failed", "path", path, "error", err)
		return
	}
	if len(keys) > 0 && w.onChange != nil {
		w.onChange(keys)
	}
}
