package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
)

const DefaultSyncInterval = 5 * time.Second

var (
	ErrMappingLocked     = errors.New("mapping is used by another process")
	ErrManagerNotStarted = errors.New("sync manager not started")
	ErrManagerStarted    = errors.New("sync manager already started")
)

type ManagerOptions struct {
	Name       string
	LocalPath  string
	RemotePath string
	DataDir    string

	Params    *cmis.SessionParams
	Connector cmis.Connector

	// Watcher names the backend created when Backend is nil
	Watcher string
	Backend WatcherBackend

	Interval     time.Duration
	IgnoredPaths []string
	Listener     ActivityListener
	Clock        clockwork.Clock
}

// MappingStatus is a snapshot of one mapping, readable while another process
// runs it
type MappingStatus struct {
	Name           string       `json:"name" yaml:"name"`
	LocalPath      string       `json:"localPath" yaml:"localPath"`
	RemotePath     string       `json:"remotePath" yaml:"remotePath"`
	Running        bool         `json:"running" yaml:"running"`
	State          string       `json:"state,omitempty" yaml:"state,omitempty"`
	Files          int          `json:"files" yaml:"files"`
	Folders        int          `json:"folders" yaml:"folders"`
	ChangeLogToken string       `json:"changeLogToken,omitempty" yaml:"changeLogToken,omitempty"`
	PendingChanges int          `json:"pendingChanges" yaml:"pendingChanges"`
	LastPass       *PassSummary `json:"lastPass,omitempty" yaml:"lastPass,omitempty"`
	LastError      string       `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// SyncManager owns everything one mapping needs on disk (lock, cache, change
// detector) and schedules passes of its SynchronizedFolder: once at start,
// then every interval and whenever TriggerSync is called.
type SyncManager struct {
	name     string
	paths    *PathMapper
	dataDir  string
	opts     *ManagerOptions
	interval time.Duration
	clock    clockwork.Clock

	lock    *flock.Flock
	db      *SyncDatabase
	changes *FileSystemChanges
	folder  *SynchronizedFolder

	// serializes Start and Stop
	runMu   sync.Mutex
	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	opened   bool
	started  bool
	lastPass *PassSummary
	lastErr  error
}

func NewManager(opts *ManagerOptions) (*SyncManager, error) {
	if opts.Name == "" || opts.LocalPath == "" || opts.RemotePath == "" || opts.DataDir == "" {
		return nil, fmt.Errorf("%w: name, local path, remote path and data dir are required", ErrInvalidFolder)
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("%w: connector is required", ErrInvalidFolder)
	}

	m := &SyncManager{
		name:     opts.Name,
		paths:    NewPathMapper(opts.LocalPath, opts.RemotePath),
		dataDir:  opts.DataDir,
		opts:     opts,
		interval: opts.Interval,
		clock:    opts.Clock,
		lock:     flock.New(lockPath(opts.DataDir, opts.Name)),
		trigger:  make(chan struct{}, 1),
	}
	if m.interval <= 0 {
		m.interval = DefaultSyncInterval
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	return m, nil
}

func (m *SyncManager) Name() string {
	return m.name
}

// Open locks the mapping and prepares the cache, the detector and the folder.
// Start calls it; RunOnce needs it first.
func (m *SyncManager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened {
		return nil
	}

	if err := utils.EnsureDir(m.dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock mapping %s: %w", m.name, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrMappingLocked, m.name)
	}

	if err := m.open(); err != nil {
		m.unlock()
		return err
	}
	m.opened = true
	return nil
}

func (m *SyncManager) open() error {
	backend := m.opts.Backend
	if backend == nil {
		var err error
		if backend, err = NewWatcherBackend(m.opts.Watcher); err != nil {
			return err
		}
	}

	db := NewSyncDatabase(databasePath(m.dataDir, m.name), m.paths)
	if err := db.Open(); err != nil {
		return err
	}

	ignore := NewSyncIgnoreList(m.paths.LocalRoot(), m.opts.IgnoredPaths)
	ignore.Load()

	changes := NewFileSystemChanges(m.paths.LocalRoot(), backend)
	folder, err := NewSynchronizedFolder(&FolderOptions{
		Name:      m.name,
		Paths:     m.paths,
		Params:    m.opts.Params,
		Connector: m.opts.Connector,
		Database:  db,
		Changes:   changes,
		Ignore:    ignore,
		Listener:  m.opts.Listener,
		Clock:     m.clock,
	})
	if err != nil {
		db.Close()
		return err
	}

	m.db = db
	m.changes = changes
	m.folder = folder
	return nil
}

// Start opens the mapping, starts the change detector and runs the first pass
// before scheduling the next ones. It returns once the loop runs.
func (m *SyncManager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if err := m.Open(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	slog.Info("sync manager start", "folder", m.name, "local", m.paths.LocalRoot(), "remote", m.paths.RemoteRoot(), "interval", m.interval)

	if err := utils.EnsureDir(m.paths.LocalRoot()); err != nil {
		return fmt.Errorf("failed to create local root: %w", err)
	}
	if err := m.changes.Start(ctx); err != nil {
		return fmt.Errorf("failed to start change detector: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	slog.Info("running initial sync", "folder", m.name)
	m.runPass(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
	return nil
}

func (m *SyncManager) loop(ctx context.Context) {
	// a timer and not a ticker: a pass slower than the interval must not
	// queue up more passes
	timer := m.clock.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		case <-m.trigger:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		}
		m.runPass(ctx)
		timer.Reset(m.interval)
	}
}

// TriggerSync asks for a pass as soon as possible. Requests made while a pass
// is pending collapse into one.
func (m *SyncManager) TriggerSync() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs a single pass now, outside of the schedule
func (m *SyncManager) RunOnce(ctx context.Context) (*PassSummary, error) {
	m.mu.Lock()
	opened := m.opened
	m.mu.Unlock()
	if !opened {
		return nil, ErrManagerNotStarted
	}
	return m.sync(ctx)
}

func (m *SyncManager) runPass(ctx context.Context) {
	_, err := m.sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncAlreadyRunning):
		slog.Debug("sync pass skipped, another pass is running", "folder", m.name)
	case errors.Is(err, context.Canceled):
	default:
		slog.Warn("sync pass will be retried", "folder", m.name, "in", m.interval, "error", err)
	}
}

func (m *SyncManager) sync(ctx context.Context) (*PassSummary, error) {
	summary, err := m.folder.Sync(ctx)
	if errors.Is(err, ErrSyncAlreadyRunning) {
		return nil, err
	}

	m.mu.Lock()
	if summary != nil {
		m.lastPass = summary
	}
	m.lastErr = err
	m.mu.Unlock()
	return summary, err
}

// Stop ends the schedule, waits for a running pass and releases the mapping
func (m *SyncManager) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.Lock()
	opened := m.opened
	m.mu.Unlock()
	if !opened {
		return nil
	}

	slog.Info("sync manager stop", "folder", m.name)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()

	var errs []error
	if err := m.changes.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop change detector: %w", err))
	}
	if err := m.folder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.db.Close(); err != nil {
		errs = append(errs, err)
	}
	m.unlock()

	m.mu.Lock()
	m.opened = false
	m.started = false
	m.mu.Unlock()
	return errors.Join(errs...)
}

func (m *SyncManager) unlock() {
	if !m.lock.Locked() {
		return
	}
	if err := m.lock.Unlock(); err != nil {
		slog.Warn("failed to unlock mapping", "folder", m.name, "error", err)
		return
	}
	_ = os.Remove(m.lock.Path())
}

// Status describes the mapping as this manager sees it
func (m *SyncManager) Status() (*MappingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := &MappingStatus{
		Name:       m.name,
		LocalPath:  m.paths.LocalRoot(),
		RemotePath: m.paths.RemoteRoot(),
		Running:    m.started,
		LastPass:   m.lastPass,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	if !m.opened {
		return status, nil
	}

	status.State = m.folder.State().String()
	status.PendingChanges = m.changes.Len()
	if err := fillCacheStatus(m.db, status); err != nil {
		return nil, err
	}
	return status, nil
}

// InspectMapping reads the cache of a mapping without taking it over, so it
// works while a daemon runs the mapping
func InspectMapping(dataDir, name, localPath, remotePath string) (*MappingStatus, error) {
	status := &MappingStatus{
		Name:       name,
		LocalPath:  localPath,
		RemotePath: remotePath,
	}

	lock := flock.New(lockPath(dataDir, name))
	if utils.FileExists(lock.Path()) {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to probe lock of %s: %w", name, err)
		}
		if locked {
			lock.Unlock()
		}
		status.Running = !locked
	}

	dbPath := databasePath(dataDir, name)
	if !utils.FileExists(dbPath) {
		return status, nil
	}
	db := NewSyncDatabase(dbPath, NewPathMapper(localPath, remotePath))
	if err := db.Open(); err != nil {
		return nil, err
	}
	defer db.Close()

	if err := fillCacheStatus(db, status); err != nil {
		return nil, err
	}
	return status, nil
}

func fillCacheStatus(db *SyncDatabase, status *MappingStatus) error {
	files, folders, err := db.Count()
	if err != nil {
		return fmt.Errorf("failed to count cache entries: %w", err)
	}
	token, err := db.GetChangeLogToken()
	if err != nil {
		return fmt.Errorf("failed to read change log token: %w", err)
	}
	status.Files = files
	status.Folders = folders
	status.ChangeLogToken = token
	return nil
}

func databasePath(dataDir, name string) string {
	return filepath.Join(dataDir, name+".db")
}

func lockPath(dataDir, name string) string {
	return filepath.Join(dataDir, name+".lock")
}
