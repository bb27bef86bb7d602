package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/openmined/cmissync/internal/utils"
)

// ChangeType of a pending local change
type ChangeType int

const (
	ChangeNone ChangeType = iota
	ChangeCreated
	ChangeChanged
	ChangeDeleted
)

func (c ChangeType) String() string {
	switch c {
	case ChangeCreated:
		return "Created"
	case ChangeChanged:
		return "Changed"
	case ChangeDeleted:
		return "Deleted"
	default:
		return "None"
	}
}

// allowedPrior lists, per incoming change, the pending types it may supersede
var allowedPrior = map[ChangeType][]ChangeType{
	ChangeCreated: {ChangeDeleted},
	ChangeChanged: {ChangeCreated, ChangeChanged},
	ChangeDeleted: {ChangeCreated, ChangeChanged},
}

// FileChange is one pending change of an absolute local path
type FileChange struct {
	Path string
	Type ChangeType
}

// FileSystemChanges records local filesystem changes below a root between two
// sync passes. There is at most one pending change per path; a newer change
// replaces the older one and moves the path to the end of the list.
//
// Notifications arrive on the watcher backend goroutine through the On*
// methods; the sync pass reads snapshots and removes what it consumed.
type FileSystemChanges struct {
	root    string
	backend WatcherBackend

	mu      sync.Mutex
	order   []string
	changes map[string]ChangeType

	enabled     bool
	interrupted bool
}

func NewFileSystemChanges(root string, backend WatcherBackend) *FileSystemChanges {
	return &FileSystemChanges{
		root:        filepath.Clean(root),
		backend:     backend,
		changes:     make(map[string]ChangeType),
		interrupted: true,
	}
}

// Start begins delivering OS notifications. The detector stays disabled
// until SetEnabled(true).
func (c *FileSystemChanges) Start(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	if err := c.backend.Start(ctx, c.root, c); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	return nil
}

func (c *FileSystemChanges) Stop() error {
	c.SetEnabled(false)
	if c.backend == nil {
		return nil
	}
	return c.backend.Stop()
}

func (c *FileSystemChanges) Root() string {
	return c.root
}

// SetEnabled turns recording on or off. While disabled notifications are
// dropped, so disabling marks the detector as interrupted.
func (c *FileSystemChanges) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !enabled && c.enabled {
		c.interrupted = true
	}
	c.enabled = enabled
}

func (c *FileSystemChanges) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// ContinuouslyEnabled reports whether no notification can have been missed
// since the last Reset
func (c *FileSystemChanges) ContinuouslyEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && !c.interrupted
}

// Reset starts a new uninterrupted period
func (c *FileSystemChanges) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = false
}

func (c *FileSystemChanges) OnCreated(path string) {
	c.record(path, ChangeCreated)
}

func (c *FileSystemChanges) OnChanged(path string) {
	c.record(path, ChangeChanged)
}

func (c *FileSystemChanges) OnDeleted(path string) {
	c.record(path, ChangeDeleted)
}

// OnRenamed splits a rename into Deleted(old) and Created(new), keeping only
// the sides that lie under the root
func (c *FileSystemChanges) OnRenamed(oldPath, newPath string) {
	if c.underRoot(oldPath) {
		c.record(oldPath, ChangeDeleted)
	}
	if c.underRoot(newPath) {
		c.record(newPath, ChangeCreated)
	}
}

// OnError is called when the OS watcher failed or overflowed
func (c *FileSystemChanges) OnError(err error) {
	slog.Warn("file watcher error", "root", c.root, "error", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupted = true
}

func (c *FileSystemChanges) record(path string, change ChangeType) {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if !c.underRoot(path) {
		invariantFailed("change outside watched root", "root", c.root, "path", path, "change", change)
		return
	}

	if prior, ok := c.changes[path]; ok {
		if !slices.Contains(allowedPrior[change], prior) {
			invariantFailed("invalid change transition", "path", path, "from", prior, "to", change)
		}
		c.removeFromOrder(path)
	}
	c.order = append(c.order, path)
	c.changes[path] = change
}

func (c *FileSystemChanges) underRoot(path string) bool {
	path = filepath.Clean(path)
	return path != c.root && utils.IsWithin(c.root, path)
}

func (c *FileSystemChanges) removeFromOrder(path string) {
	if i := slices.Index(c.order, path); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}

// ChangeList returns the pending paths in order
func (c *FileSystemChanges) ChangeList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

// Changes returns the pending changes in order
func (c *FileSystemChanges) Changes() []FileChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]FileChange, 0, len(c.order))
	for _, p := range c.order {
		out = append(out, FileChange{Path: p, Type: c.changes[p]})
	}
	return out
}

// GetChangeType returns ChangeNone when nothing is pending for path
func (c *FileSystemChanges) GetChangeType(path string) ChangeType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[filepath.Clean(path)]
}

// RemoveChange drops the pending change of path if it still is expected. It
// reports whether something was removed.
func (c *FileSystemChanges) RemoveChange(path string, expected ChangeType) bool {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.changes[path]; !ok || current != expected {
		return false
	}
	delete(c.changes, path)
	c.removeFromOrder(path)
	return true
}

func (c *FileSystemChanges) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	clear(c.changes)
}

func (c *FileSystemChanges) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
