// Package watch turns file-system notifications under a squad folder into a
// single debounced change signal per burst.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 300 * time.Millisecond

// Debouncer runs fn once after delay has passed without another Trigger.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels a pending run. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watcher watches Root and, recursively, Dir. Root is watched so that a
// squad folder created after startup is picked up. Retarget moves a running
// watcher to another root.
type Watcher struct {
	Root     string
	Dir      string
	Debounce time.Duration
	Logger   *log.Logger
	OnChange func(ctx context.Context)

	mu       sync.Mutex
	next     *target
	retarget chan struct{}
}

type target struct{ root, dir string }

func (w *Watcher) logf(format string, args ...any) {
	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("watch: "+format, args...)
}

func (w *Watcher) signal() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retarget == nil {
		w.retarget = make(chan struct{}, 1)
	}
	return w.retarget
}

// Retarget switches to a new root and squad folder. A running watcher drops
// its old watches and signals a change once the new ones are in place.
func (w *Watcher) Retarget(root, dir string) {
	ch := w.signal()
	w.mu.Lock()
	w.next = &target{root: root, dir: dir}
	w.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	if w.OnChange == nil {
		return errors.New("watch: OnChange required")
	}
	retarget := w.signal()
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	w.mu.Lock()
	cur := target{root: w.Root, dir: w.Dir}
	w.mu.Unlock()
	if err := fw.Add(cur.root); err != nil {
		return err
	}
	w.addTree(fw, cur.dir)

	deb := NewDebouncer(w.Debounce, func() { w.OnChange(ctx) })
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retarget:
			w.mu.Lock()
			next := w.next
			w.next = nil
			w.mu.Unlock()
			if next == nil || *next == cur {
				continue
			}
			for _, p := range fw.WatchList() {
				if err := fw.Remove(p); err != nil {
					w.logf("remove %s: %v", p, err)
				}
			}
			cur = *next
			if err := fw.Add(cur.root); err != nil {
				w.logf("add %s: %v", cur.root, err)
			}
			w.addTree(fw, cur.dir)
			deb.Trigger()
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(cur, evt) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					w.addTree(fw, evt.Name)
				}
			}
			deb.Trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logf("%v", err)
		}
	}
}

// relevant drops chmod-only events and anything in the root outside the
// squad folder itself.
func relevant(t target, evt fsnotify.Event) bool {
	if evt.Op == fsnotify.Chmod {
		return false
	}
	if filepath.Dir(evt.Name) == filepath.Clean(t.root) {
		return filepath.Clean(evt.Name) == filepath.Clean(t.dir)
	}
	return true
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(p); err != nil {
				w.logf("add %s: %v", p, err)
			}
		}
		return nil
	})
	if err != nil {
		w.logf("walk %s: %v", dir, err)
	}
}
