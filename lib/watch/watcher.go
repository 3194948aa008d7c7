// Package watch monitors the persisted GPU selection file and notifies
// subscribers when it changes out from under the daemon.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/logger"
)

// Event is a gpu-change notification. GPU is the freshly probed identity,
// not the value that was memoized before the change.
type Event struct {
	GPU gpu.GPU   `json:"gpu"`
	At  time.Time `json:"at"`
}

// Watcher observes one selection state path. At most one subscription to
// the filesystem is active at a time.
type Watcher interface {
	// Start begins watching. Calling Start while already watching is a no-op.
	Start(ctx context.Context) error

	// Stop cancels the watch. Calling Stop while not watching is a no-op.
	Stop()

	// Subscribe registers a listener for change events. The returned cancel
	// func releases the subscription. Slow listeners are skipped, never
	// blocked on.
	Subscribe() (<-chan Event, func())
}

type watcher struct {
	path string
	mgr  gpu.Manager

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	loopWG  sync.WaitGroup
	subs    map[int]chan Event
	nextSub int
}

// NewWatcher creates a watcher for the given selection state path. The
// parent directory is watched rather than the file itself so rewrites that
// replace the file (the usual way selector tools update it) keep being
// observed.
func NewWatcher(path string, mgr gpu.Manager) Watcher {
	return &watcher{
		path: filepath.Clean(path),
		mgr:  mgr,
		subs: make(map[int]chan Event),
	}
}

func (w *watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fsw = fsw
	w.loopWG.Add(1)
	go w.loop(ctx, fsw)

	logger.FromContext(ctx).InfoContext(ctx, "watching selection state", "path", w.path)
	return nil
}

func (w *watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	fsw.Close()
	w.loopWG.Wait()
}

func (w *watcher) Subscribe() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSub
	w.nextSub++
	ch := make(chan Event, 8)
	w.subs[id] = ch

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (w *watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.loopWG.Done()
	log := logger.FromContext(ctx)

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}

			// Re-probe instead of returning the memoized identity.
			g := w.mgr.Refresh(ctx)
			log.InfoContext(ctx, "selection state changed",
				"path", w.path,
				"op", ev.Op.String(),
				"gpu", g,
			)
			w.broadcast(ctx, Event{GPU: g, At: time.Now()})

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.WarnContext(ctx, "watch error", "path", w.path, "error", err)
		}
	}
}

func (w *watcher) broadcast(ctx context.Context, ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			logger.FromContext(ctx).WarnContext(ctx, "subscriber lagging, event dropped", "subscriber", id)
		}
	}
}
