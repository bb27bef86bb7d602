package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/openmined/cmissync/internal/utils"
)

const (
	BackendFsnotify = "fsnotify"
	BackendNotify   = "notify"
)

var (
	ErrWatcherClosed  = errors.New("watcher closed")
	ErrWatcherStarted = errors.New("watcher already started")
	ErrDirNotExist    = errors.New("directory to watch does not exist")
)

// WatchSink receives decoded filesystem notifications
type WatchSink interface {
	OnCreated(path string)
	OnChanged(path string)
	OnDeleted(path string)
	OnRenamed(oldPath, newPath string)
	OnError(err error)
}

// WatcherBackend delivers recursive filesystem notifications below a root
type WatcherBackend interface {
	Start(ctx context.Context, root string, sink WatchSink) error
	Stop() error
}

// NewWatcherBackend returns the backend registered under name. An empty name
// selects fsnotify.
func NewWatcherBackend(name string) (WatcherBackend, error) {
	switch name {
	case "", BackendFsnotify:
		return NewFsnotifyWatcher(), nil
	case BackendNotify:
		return NewNotifyWatcher(), nil
	default:
		return nil, fmt.Errorf("unknown watcher backend %q", name)
	}
}

// FsnotifyWatcher watches a tree with fsnotify. fsnotify is not recursive, so
// every directory gets its own watch, including directories created later.
type FsnotifyWatcher struct {
	watcher *fsnotify.Watcher
	sink    WatchSink
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func NewFsnotifyWatcher() *FsnotifyWatcher {
	return &FsnotifyWatcher{}
}

func (w *FsnotifyWatcher) Start(ctx context.Context, root string, sink WatchSink) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.watcher != nil {
		return ErrWatcherStarted
	}
	if !utils.DirExists(root) {
		return ErrDirNotExist
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	w.watcher = watcher
	w.sink = sink

	if err := w.recursivelyAddWatch(root); err != nil {
		watcher.Close()
		w.watcher = nil
		return err
	}

	slog.Info("file watcher start", "backend", BackendFsnotify, "dir", root)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *FsnotifyWatcher) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	watcher := w.watcher
	w.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	w.wg.Wait()
	slog.Info("file watcher stopped", "backend", BackendFsnotify)
	return err
}

func (w *FsnotifyWatcher) run(ctx context.Context) {
	defer w.wg.Done()

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
			w.sink.OnError(err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *FsnotifyWatcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		w.sink.OnCreated(event.Name)
		if err := w.onCreate(event); err != nil {
			slog.Error("failed to handle create event", "error", err, "path", event.Name)
			w.sink.OnError(err)
		}

	case event.Has(fsnotify.Remove):
		w.onRemove(event)
		w.sink.OnDeleted(event.Name)

	case event.Has(fsnotify.Rename):
		// the new name arrives as a separate Create
		w.onRemove(event)
		w.sink.OnDeleted(event.Name)

	case event.Has(fsnotify.Write):
		w.sink.OnChanged(event.Name)
	}
}

func (w *FsnotifyWatcher) onCreate(event fsnotify.Event) error {
	fileinfo, err := os.Lstat(event.Name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat file: %w", err)
	}

	if fileinfo.IsDir() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return nil
		}
		if err = w.recursivelyAddWatch(event.Name); err != nil {
			return fmt.Errorf("recursive add watch: %w", err)
		}
	}
	return nil
}

func (w *FsnotifyWatcher) onRemove(event fsnotify.Event) {
	// can't stat a deleted dir, so just try
	if err := w.watcher.Remove(event.Name); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		slog.Debug("remove watch", "path", event.Name, "error", err)
	}
}

func (w *FsnotifyWatcher) recursivelyAddWatch(dir string) error {
	slog.Debug("watcher add", "dir", dir)
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("walk dir: %w", err)
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("fsnotify add watch: %w", err)
			}
		}
		return nil
	})
}
