package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/cmissync/internal/client/sync"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// ClientDaemon keeps every folder of a Client synchronized until its context
// ends
type ClientDaemon struct {
	client *Client
	cps    *ControlPlaneServer
}

// NewClientDaemon runs the folders of c. A control plane config with an
// address also serves the local http api.
func NewClientDaemon(c *Client, cpConfig *ControlPlaneConfig) (*ClientDaemon, error) {
	d := &ClientDaemon{client: c}
	if cpConfig == nil || cpConfig.Addr == "" {
		return d, nil
	}

	cps, err := NewControlPlaneServer(cpConfig, c)
	if err != nil {
		return nil, err
	}
	d.cps = cps
	return d, nil
}

// Start blocks until ctx is cancelled or a folder cannot be started
func (d *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start", "folders", len(d.client.managers), "datadir", d.client.config.DataDir)

	eg, egCtx := errgroup.WithContext(ctx)

	for _, mgr := range d.client.managers {
		eg.Go(func() error {
			if err := mgr.Start(egCtx); err != nil {
				return fmt.Errorf("failed to start sync manager %s: %w", mgr.Name(), err)
			}
			return nil
		})
	}

	if d.cps != nil {
		eg.Go(func() error {
			if err := d.cps.Start(egCtx); err != nil {
				return fmt.Errorf("failed to start control plane: %w", err)
			}
			return nil
		})
	}

	events := d.client.status.Subscribe()
	eg.Go(func() error {
		d.logEvents(egCtx, events)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping daemon")
		d.client.status.Unsubscribe(events)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

// Stop stops every folder, giving up on the ones still busy when ctx ends
func (d *ClientDaemon) Stop(ctx context.Context) error {
	var cpsErr error
	if d.cps != nil {
		if err := d.cps.Stop(ctx); err != nil {
			cpsErr = fmt.Errorf("failed to stop control plane: %w", err)
		}
	}

	done := make(chan error, 1)
	go func() {
		errs := []error{cpsErr}
		for _, mgr := range d.client.managers {
			if err := mgr.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop sync manager %s: %w", mgr.Name(), err))
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("daemon shutdown: %w", ctx.Err())
	}
}

func (d *ClientDaemon) logEvents(ctx context.Context, events <-chan *sync.SyncStatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Kind {
			case sync.EventConflict:
				slog.Warn("conflict, local version kept aside", "path", event.Path, "backup", event.Status.BackupPath)
			case sync.EventSyncFinished:
				if event.Summary != nil && event.Summary.HasChanges() {
					slog.Info("folder synchronized", "folder", event.Folder, "summary", event.Summary.String())
				}
			}
		}
	}
}
