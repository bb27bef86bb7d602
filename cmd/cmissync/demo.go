package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openmined/cmissync/internal/client/config"
	"github.com/openmined/cmissync/internal/cmis/cmistest"
	"github.com/openmined/cmissync/internal/cmis/memrepo"
)

const (
	demoUser           = "demo"
	demoPassword       = "demo"
	demoRemoteRoot     = "/Sites/demo"
	demoUpdateInterval = 30 * time.Second
)

var demoFiles = map[string]string{
	"README.txt":                 "Files in this folder come from the CmisSync demo repository.\nEdit them, add some, delete some: the next pass sends your changes back.\n",
	"Reports/2024-q1.csv":        "month,revenue\njan,120\nfeb,135\nmar,150\n",
	"Reports/2024-q2.csv":        "month,revenue\napr,160\nmay,158\njun,171\n",
	"Projects/cmissync/notes.md": "# Notes\n\n- keep local and remote in sync\n",
}

// demoEnv is an in-memory repository served over the Browser Binding on a
// loopback port, with a remote user editing a file now and then
type demoEnv struct {
	repo   *memrepo.Repository
	server *httptest.Server
	dir    string
	config *config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startDemo(ctx context.Context, base *config.Config) (*demoEnv, error) {
	dir, err := os.MkdirTemp("", "cmissync-demo-")
	if err != nil {
		return nil, fmt.Errorf("failed to create demo dir: %w", err)
	}

	repo := memrepo.New(memrepo.WithID("demo"), memrepo.WithCredentials(demoUser, demoPassword))
	if _, err := repo.MkdirAll(demoRemoteRoot); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	for name, content := range demoFiles {
		if _, err := repo.PutFile(demoRemoteRoot+"/"+name, []byte(content)); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}

	env := &demoEnv{
		repo:   repo,
		server: cmistest.NewServer(repo),
		dir:    dir,
	}
	env.config = &config.Config{
		DataDir:        filepath.Join(dir, "data"),
		LogFile:        base.LogFile,
		Interval:       base.Interval,
		WatcherBackend: base.WatcherBackend,
		Path:           base.Path,
		Folders: []*config.FolderConfig{{
			Name:       "demo",
			LocalPath:  filepath.Join(dir, "demo"),
			RemotePath: demoRemoteRoot,
			URL:        cmistest.ServiceURL(env.server),
			User:       demoUser,
			Password:   demoPassword,
		}},
	}

	ctx, cancel := context.WithCancel(ctx)
	env.cancel = cancel
	env.wg.Add(1)
	go func() {
		defer env.wg.Done()
		env.remoteEdits(ctx)
	}()

	slog.Info("demo repository started", "url", env.config.Folders[0].URL, "local", env.config.Folders[0].LocalPath)
	return env, nil
}

func (e *demoEnv) remoteEdits(ctx context.Context) {
	timer := time.NewTimer(demoUpdateInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			content := fmt.Sprintf("Last edited remotely at %s\n", now.UTC().Format(time.RFC3339))
			if _, err := e.repo.PutFile(demoRemoteRoot+"/clock.txt", []byte(content)); err != nil {
				slog.Warn("demo remote edit failed", "error", err)
			}
			timer.Reset(demoUpdateInterval)
		}
	}
}

func (e *demoEnv) Close() {
	e.cancel()
	e.wg.Wait()
	e.server.Close()
	if err := os.RemoveAll(e.dir); err != nil {
		slog.Warn("failed to remove demo dir", "path", e.dir, "error", err)
	}
}
