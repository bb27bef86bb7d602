package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/openmined/cmissync/internal/utils"
	"github.com/rjeczalik/notify"
)

const notifyBufferSize = 1024

// NotifyWatcher watches a tree with rjeczalik/notify, which registers
// recursive watches natively where the OS supports it
type NotifyWatcher struct {
	events chan notify.EventInfo
	sink   WatchSink
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewNotifyWatcher() *NotifyWatcher {
	return &NotifyWatcher{
		done: make(chan struct{}),
	}
}

func (w *NotifyWatcher) Start(ctx context.Context, root string, sink WatchSink) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.events != nil {
		return ErrWatcherStarted
	}
	if !utils.DirExists(root) {
		return ErrDirNotExist
	}

	// notify drops events when the channel is full, so it is generously sized
	events := make(chan notify.EventInfo, notifyBufferSize)
	recursivePath := filepath.Join(root, "...")
	if err := notify.Watch(recursivePath, events, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		return err
	}
	w.events = events
	w.sink = sink

	slog.Info("file watcher start", "backend", BackendNotify, "dir", root)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *NotifyWatcher) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	events := w.events
	w.mu.Unlock()

	close(w.done)
	if events != nil {
		notify.Stop(events)
	}
	w.wg.Wait()
	slog.Info("file watcher stopped", "backend", BackendNotify)
	return nil
}

func (w *NotifyWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.events:
			if !ok {
				return
			}
			w.handleEvent(event)
		}
	}
}

func (w *NotifyWatcher) handleEvent(event notify.EventInfo) {
	path := event.Path()
	switch event.Event() {
	case notify.Create:
		w.sink.OnCreated(path)
	case notify.Remove:
		w.sink.OnDeleted(path)
	case notify.Write:
		w.sink.OnChanged(path)
	case notify.Rename:
		// both names of a rename are reported as Rename
		if utils.FileExists(path) || utils.DirExists(path) {
			w.sink.OnCreated(path)
		} else {
			w.sink.OnDeleted(path)
		}
	}
}
