package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
)

const typeCacheSize = 64

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrInvalidFolder      = errors.New("invalid synchronized folder")

	// cache read failures end the pass
	errCacheRead = errors.New("sync database read failed")
)

// FolderState is the position of a mapping in its synchronization lifecycle
type FolderState int

const (
	StateNotConnected FolderState = iota
	StateNeedsFullCrawl
	StateIncremental
)

func (s FolderState) String() string {
	switch s {
	case StateNotConnected:
		return "NotConnected"
	case StateNeedsFullCrawl:
		return "NeedsFullCrawl"
	case StateIncremental:
		return "Incremental"
	default:
		return fmt.Sprintf("FolderState(%d)", int(s))
	}
}

type FolderOptions struct {
	Name      string
	Paths     *PathMapper
	Params    *cmis.SessionParams
	Connector cmis.Connector
	Database  *SyncDatabase
	Changes   *FileSystemChanges
	Ignore    *SyncIgnoreList
	Listener  ActivityListener
	Clock     clockwork.Clock
}

// SynchronizedFolder reconciles one local directory with one remote folder.
// Passes never overlap; Sync returns ErrSyncAlreadyRunning instead of
// queueing.
type SynchronizedFolder struct {
	name      string
	paths     *PathMapper
	params    *cmis.SessionParams
	connector cmis.Connector
	db        *SyncDatabase
	changes   *FileSystemChanges
	ignore    *SyncIgnoreList
	listener  ActivityListener
	clock     clockwork.Clock

	// owned by the running pass
	repoInfo *cmis.RepositoryInfo
	types    *lru.Cache[string, *cmis.TypeDefinition]

	muState    sync.RWMutex
	session    cmis.Session
	syncedFull bool

	muSync sync.Mutex
}

func NewSynchronizedFolder(opts *FolderOptions) (*SynchronizedFolder, error) {
	if opts.Paths == nil || opts.Connector == nil || opts.Database == nil || opts.Changes == nil {
		return nil, fmt.Errorf("%w: paths, connector, database and changes are required", ErrInvalidFolder)
	}

	types, err := lru.New[string, *cmis.TypeDefinition](typeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create type cache: %w", err)
	}

	f := &SynchronizedFolder{
		name:      opts.Name,
		paths:     opts.Paths,
		params:    opts.Params,
		connector: opts.Connector,
		db:        opts.Database,
		changes:   opts.Changes,
		ignore:    opts.Ignore,
		listener:  opts.Listener,
		clock:     opts.Clock,
		types:     types,
	}
	if f.name == "" {
		f.name = opts.Paths.RemoteRoot()
	}
	if f.params == nil {
		f.params = &cmis.SessionParams{}
	}
	if f.ignore == nil {
		f.ignore = NewSyncIgnoreList(opts.Paths.LocalRoot(), nil)
	}
	if f.listener == nil {
		f.listener = NopListener{}
	}
	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}
	return f, nil
}

func (f *SynchronizedFolder) Name() string {
	return f.name
}

func (f *SynchronizedFolder) Paths() *PathMapper {
	return f.paths
}

func (f *SynchronizedFolder) State() FolderState {
	f.muState.RLock()
	defer f.muState.RUnlock()

	switch {
	case f.session == nil:
		return StateNotConnected
	case !f.syncedFull || !f.changes.ContinuouslyEnabled():
		return StateNeedsFullCrawl
	default:
		return StateIncremental
	}
}

// Sync runs one pass: connect if needed, then a full crawl or the
// incremental strategies depending on State
func (f *SynchronizedFolder) Sync(ctx context.Context) (*PassSummary, error) {
	if !f.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer f.muSync.Unlock()

	summary := newPassSummary(f.name, f.clock.Now())
	f.listener.SyncStarted(f.name)

	err := f.runPass(ctx, summary)
	summary.Finished = f.clock.Now()

	if err != nil {
		if isFatal(err) {
			f.disconnect()
		}
		slog.Error("sync pass failed", "folder", f.name, "id", summary.ID, "error", err)
	} else {
		slog.Info("sync pass completed", "folder", f.name, "id", summary.ID, "strategies", summary.Strategies, "summary", summary.String())
	}

	f.listener.SyncFinished(f.name, summary, err)
	return summary, err
}

// Close drops the session. The database and the change detector belong to
// the caller.
func (f *SynchronizedFolder) Close() error {
	f.muSync.Lock()
	defer f.muSync.Unlock()

	f.disconnect()
	return nil
}

func (f *SynchronizedFolder) runPass(ctx context.Context, s *PassSummary) error {
	if err := f.connect(ctx); err != nil {
		return err
	}

	root, err := f.session.GetObjectByPath(ctx, f.paths.RemoteRoot())
	if err != nil {
		return fmt.Errorf("failed to get remote root %s: %w", f.paths.RemoteRoot(), err)
	}
	if !root.IsFolder() {
		return fmt.Errorf("%w: remote root %s is not a folder", ErrInvalidFolder, f.paths.RemoteRoot())
	}
	if err := utils.EnsureDir(f.paths.LocalRoot()); err != nil {
		return fmt.Errorf("failed to create local root: %w", err)
	}

	if f.State() == StateNeedsFullCrawl {
		return f.fullSync(ctx, root, s)
	}
	return f.incrementalSync(ctx, root, s)
}

func (f *SynchronizedFolder) fullSync(ctx context.Context, root *cmis.Object, s *PassSummary) error {
	// the crawl covers everything the detector could have reported so far
	f.changes.RemoveAll()
	f.changes.SetEnabled(true)
	f.changes.Reset()

	token, err := f.latestChangeLogToken(ctx)
	if err != nil {
		return err
	}

	s.addStrategy(StrategyFullCrawl)
	complete, err := f.crawlSync(ctx, root, crawlFull, s)
	if err != nil {
		return err
	}
	if !complete {
		slog.Warn("full crawl incomplete, will crawl again", "folder", f.name, "failed", s.Count(OutcomeFailed))
		return nil
	}

	if token != "" {
		if err := f.db.SetChangeLogToken(token); err != nil {
			return err
		}
	}
	f.muState.Lock()
	f.syncedFull = true
	f.muState.Unlock()
	return nil
}

func (f *SynchronizedFolder) incrementalSync(ctx context.Context, root *cmis.Object, s *PassSummary) error {
	token, err := f.db.GetChangeLogToken()
	if err != nil {
		return err
	}

	if f.repoInfo.ChangesCapability.HasChangeLog() && token != "" {
		s.addStrategy(StrategyChangeLog)
		if err := f.changeLogSync(ctx, token, s); err != nil {
			return err
		}
	} else {
		latest, err := f.latestChangeLogToken(ctx)
		if err != nil {
			return err
		}
		s.addStrategy(StrategyRemoteCrawl)
		complete, err := f.crawlSync(ctx, root, crawlRemote, s)
		if err != nil {
			return err
		}
		if complete && latest != "" {
			if err := f.db.SetChangeLogToken(latest); err != nil {
				return err
			}
		}
	}

	s.addStrategy(StrategyWatcher)
	return f.watcherSync(ctx, s)
}

// latestChangeLogToken returns "" when the repository keeps no change log
func (f *SynchronizedFolder) latestChangeLogToken(ctx context.Context) (string, error) {
	if !f.repoInfo.ChangesCapability.HasChangeLog() {
		return "", nil
	}
	info, err := f.session.RepositoryInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get repository info: %w", err)
	}
	return info.LatestChangeLogToken, nil
}

func (f *SynchronizedFolder) connect(ctx context.Context) error {
	f.muState.RLock()
	connected := f.session != nil
	f.muState.RUnlock()
	if connected {
		return nil
	}

	session, err := f.connector(ctx, f.params)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", f.params.URL, err)
	}
	info, err := session.RepositoryInfo(ctx)
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get repository info: %w", err)
	}

	f.repoInfo = info
	f.types.Purge()
	f.muState.Lock()
	f.session = session
	f.muState.Unlock()

	slog.Info("connected", "folder", f.name, "repository", info.ID, "product", info.ProductName, "changes", info.ChangesCapability)
	return nil
}

func (f *SynchronizedFolder) disconnect() {
	f.muState.Lock()
	session := f.session
	f.session = nil
	f.muState.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close session", "folder", f.name, "error", err)
		}
		slog.Info("disconnected", "folder", f.name)
	}
}

// isFatal reports errors that end the pass instead of a single object
func isFatal(err error) bool {
	return cmis.IsConnectionError(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrDatabaseNotOpen) ||
		errors.Is(err, errCacheRead)
}

func cacheReadError(err error) error {
	return fmt.Errorf("%w: %w", errCacheRead, err)
}
