package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/cmissync/internal/client/config"
	"github.com/openmined/cmissync/internal/client/sync"
	"github.com/openmined/cmissync/internal/cmis"
)

// Client holds one SyncManager per configured folder
type Client struct {
	config    *config.Config
	connector cmis.Connector
	backend   sync.WatcherBackend
	clock     clockwork.Clock
	status    *sync.SyncStatus
	managers  []*sync.SyncManager
}

type Option func(*Client)

// WithConnector replaces the HTTP Browser Binding client
func WithConnector(connector cmis.Connector) Option {
	return func(c *Client) {
		c.connector = connector
	}
}

// WithClock drives the sync schedule from clock
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithWatcherBackend overrides the configured watcher for every folder
func WithWatcherBackend(backend sync.WatcherBackend) Option {
	return func(c *Client) {
		c.backend = backend
	}
}

func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:    cfg,
		connector: cmis.Connect,
		clock:     clockwork.NewRealClock(),
		status:    sync.NewSyncStatus(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, folder := range cfg.Folders {
		mgr, err := sync.NewManager(&sync.ManagerOptions{
			Name:       folder.Name,
			LocalPath:  folder.LocalPath,
			RemotePath: folder.RemotePath,
			DataDir:    cfg.DataDir,
			Params: &cmis.SessionParams{
				URL:          folder.URL,
				RepositoryID: folder.RepositoryID,
				User:         folder.User,
				Password:     folder.Password,
			},
			Connector:    c.connector,
			Watcher:      cfg.WatcherBackend,
			Backend:      c.backend,
			Interval:     cfg.Interval,
			IgnoredPaths: folder.IgnoredPaths,
			Listener:     c.status,
			Clock:        c.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sync manager for %s: %w", folder.Name, err)
		}
		c.managers = append(c.managers, mgr)
	}
	return c, nil
}

func (c *Client) Managers() []*sync.SyncManager {
	return c.managers
}

func (c *Client) SyncStatus() *sync.SyncStatus {
	return c.status
}

// SyncOnce runs one pass of every folder and releases them again. A folder
// that fails does not keep the others from syncing.
func (c *Client) SyncOnce(ctx context.Context) ([]*sync.PassSummary, error) {
	var (
		summaries []*sync.PassSummary
		errs      []error
	)

	for _, mgr := range c.managers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		summary, err := c.syncFolder(ctx, mgr)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if err != nil {
			slog.Error("sync failed", "folder", mgr.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", mgr.Name(), err))
		}
	}
	return summaries, errors.Join(errs...)
}

func (c *Client) syncFolder(ctx context.Context, mgr *sync.SyncManager) (*sync.PassSummary, error) {
	if err := mgr.Open(); err != nil {
		return nil, err
	}
	defer func() {
		if err := mgr.Stop(); err != nil {
			slog.Warn("failed to release folder", "folder", mgr.Name(), "error", err)
		}
	}()
	return mgr.RunOnce(ctx)
}

// Status reads the cache of every folder. It works next to a running daemon.
func (c *Client) Status() ([]*sync.MappingStatus, error) {
	out := make([]*sync.MappingStatus, 0, len(c.config.Folders))
	for _, folder := range c.config.Folders {
		status, err := sync.InspectMapping(c.config.DataDir, folder.Name, folder.LocalPath, folder.RemotePath)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", folder.Name, err)
		}
		out = append(out, status)
	}
	return out, nil
}
