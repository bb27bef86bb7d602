package sync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/cmis/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu      gosync.Mutex
	sink    WatchSink
	started bool
	stopped bool
}

func (b *stubBackend) Start(ctx context.Context, root string, sink WatchSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
	b.started = true
	return nil
}

func (b *stubBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

type managerEnv struct {
	repo    *memrepo.Repository
	clock   clockwork.FakeClock
	backend *stubBackend
	opts    *ManagerOptions
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	tmp, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	repo := memrepo.New()
	_, err = repo.MkdirAll("/docs")
	require.NoError(t, err)

	env := &managerEnv{
		repo:    repo,
		clock:   clockwork.NewFakeClock(),
		backend: &stubBackend{},
	}
	env.opts = &ManagerOptions{
		Name:       "docs",
		LocalPath:  filepath.Join(tmp, "Documents"),
		RemotePath: "/docs",
		DataDir:    filepath.Join(tmp, "data"),
		Params:     &cmis.SessionParams{User: "admin"},
		Connector:  repo.Connector(),
		Backend:    env.backend,
		Interval:   time.Minute,
		Clock:      env.clock,
	}
	return env
}

func (e *managerEnv) localFile(name string) string {
	return filepath.Join(e.opts.LocalPath, name)
}

func TestNewManager_Validation(t *testing.T) {
	env := newManagerEnv(t)

	_, err := NewManager(&ManagerOptions{Name: "docs"})
	assert.ErrorIs(t, err, ErrInvalidFolder)

	opts := *env.opts
	opts.Connector = nil
	_, err = NewManager(&opts)
	assert.ErrorIs(t, err, ErrInvalidFolder)

	opts = *env.opts
	opts.Interval = 0
	m, err := NewManager(&opts)
	require.NoError(t, err)
	assert.Equal(t, DefaultSyncInterval, m.interval)
	assert.Equal(t, "docs", m.Name())
}

func TestSyncManager_StartRunsInitialPass(t *testing.T) {
	env := newManagerEnv(t)
	_, err := env.repo.PutFile("/docs/a.txt", []byte("alpha"))
	require.NoError(t, err)

	m, err := NewManager(env.opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	data, err := os.ReadFile(env.localFile("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	status, err := m.Status()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, StateIncremental.String(), status.State)
	assert.Equal(t, 1, status.Files)
	require.NotNil(t, status.LastPass)
	assert.Equal(t, 1, status.LastPass.Count(OutcomeDownloaded))
	assert.Empty(t, status.LastError)

	assert.ErrorIs(t, m.Start(context.Background()), ErrManagerStarted)

	require.NoError(t, m.Stop())
	assert.True(t, env.backend.stopped)
	assert.NoFileExists(t, filepath.Join(env.opts.DataDir, "docs.lock"))
	assert.FileExists(t, filepath.Join(env.opts.DataDir, "docs.db"))
}

func TestSyncManager_IntervalPass(t *testing.T) {
	env := newManagerEnv(t)

	m, err := NewManager(env.opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop() })

	_, err = env.repo.PutFile("/docs/later.txt", []byte("later"))
	require.NoError(t, err)

	// not before the interval elapses
	env.clock.BlockUntil(1)
	env.clock.Advance(30 * time.Second)
	assert.NoFileExists(t, env.localFile("later.txt"))

	env.clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(env.localFile("later.txt"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncManager_TriggerSync(t *testing.T) {
	env := newManagerEnv(t)

	m, err := NewManager(env.opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop() })

	_, err = env.repo.PutFile("/docs/now.txt", []byte("now"))
	require.NoError(t, err)

	m.TriggerSync()
	m.TriggerSync()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(env.localFile("now.txt"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncManager_FailedPassIsRetried(t *testing.T) {
	env := newManagerEnv(t)
	env.repo.SetOffline(true)

	m, err := NewManager(env.opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop() })

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNotConnected.String(), status.State)
	assert.NotEmpty(t, status.LastError)

	env.repo.SetOffline(false)
	_, err = env.repo.PutFile("/docs/back.txt", []byte("back"))
	require.NoError(t, err)

	env.clock.BlockUntil(1)
	env.clock.Advance(time.Minute)
	assert.Eventually(t, func() bool {
		status, err := m.Status()
		return err == nil && status.LastError == "" && status.Files == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncManager_Locked(t *testing.T) {
	env := newManagerEnv(t)

	first, err := NewManager(env.opts)
	require.NoError(t, err)
	require.NoError(t, first.Open())
	t.Cleanup(func() { first.Stop() })

	second, err := NewManager(env.opts)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Open(), ErrMappingLocked)
	assert.ErrorIs(t, second.Start(context.Background()), ErrMappingLocked)
}

func TestSyncManager_RunOnce(t *testing.T) {
	env := newManagerEnv(t)
	_, err := env.repo.PutFile("/docs/sub/b.txt", []byte("beta"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(env.opts.LocalPath, 0o755))
	require.NoError(t, os.WriteFile(env.localFile("local.txt"), []byte("mine"), 0o644))

	m, err := NewManager(env.opts)
	require.NoError(t, err)

	_, err = m.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrManagerNotStarted)

	require.NoError(t, m.Open())
	summary, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Strategy{StrategyFullCrawl}, summary.Strategies)
	assert.Equal(t, 2, summary.Count(OutcomeDownloaded))
	assert.Equal(t, 1, summary.Count(OutcomeUploaded))
	assert.True(t, env.repo.Exists("/docs/local.txt"))
	assert.False(t, env.backend.started)

	// a second process can look at the cache meanwhile
	status, err := InspectMapping(env.opts.DataDir, "docs", env.opts.LocalPath, "/docs")
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.Files)
	assert.Equal(t, 1, status.Folders)
	assert.NotEmpty(t, status.ChangeLogToken)

	require.NoError(t, m.Stop())

	status, err = InspectMapping(env.opts.DataDir, "docs", env.opts.LocalPath, "/docs")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Files)
}

func TestInspectMapping_NeverSynced(t *testing.T) {
	dir := t.TempDir()
	status, err := InspectMapping(dir, "fresh", filepath.Join(dir, "local"), "/fresh")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Zero(t, status.Files)
	assert.Empty(t, status.ChangeLogToken)
}
