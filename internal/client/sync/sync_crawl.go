package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cmissync/internal/cmis"
)

var ErrTypeMismatch = errors.New("local and remote object types differ")

// local filesystem access of the crawl, swapped out in tests
var (
	readLocalDir = os.ReadDir
	statLocal    = os.Lstat
)

type crawlMode int

const (
	// crawlFull also compares local content against the cache, since local
	// changes may have happened while nothing was watching
	crawlFull crawlMode = iota
	// crawlRemote trusts the local side; local changes are the watcher's job
	crawlRemote
)

func (m crawlMode) String() string {
	if m == crawlFull {
		return "full"
	}
	return "remote"
}

// crawlSync walks the remote tree below root and the local tree side by
// side. It reports whether every object was reconciled.
func (f *SynchronizedFolder) crawlSync(ctx context.Context, root *cmis.Object, mode crawlMode, s *PassSummary) (bool, error) {
	slog.Debug("crawl start", "folder", f.name, "mode", mode)
	complete, err := f.crawlFolder(ctx, root, "", mode, s)
	slog.Debug("crawl done", "folder", f.name, "mode", mode, "complete", complete, "error", err)
	return complete, err
}

func (f *SynchronizedFolder) crawlFolder(ctx context.Context, remote *cmis.Object, key string, mode crawlMode, s *PassSummary) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	children, err := f.session.GetChildren(ctx, remote)
	if err != nil {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to list remote folder: %w", err))
	}

	// an unreadable local folder must never look empty
	entries, err := readLocalDir(f.paths.Denormalize(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to list local folder: %w", err))
	}

	complete := true
	remoteNames := mapset.NewThreadUnsafeSet[string]()

	for _, child := range children {
		name := child.Name
		if child.IsDocument() && child.ContentStreamFileName != "" {
			name = child.ContentStreamFileName
		}
		remoteNames.Add(name)

		if IsInvalidName(name) {
			slog.Warn("sync skip invalid name", "folder", f.name, "parent", key, "name", name)
			s.Record(joinKey(key, name), OutcomeSkipped, nil)
			continue
		}
		childKey := joinKey(key, name)

		var ok bool
		switch {
		case child.IsFolder():
			ok, err = f.syncRemoteFolder(ctx, child, childKey, mode, s)
		case child.IsDocument() && child.ContentStreamFileName == "":
			slog.Debug("sync skip document without content", "folder", f.name, "path", childKey)
			s.Record(childKey, OutcomeSkipped, nil)
			continue
		case child.IsDocument():
			ok, err = f.syncRemoteDocument(ctx, child, childKey, mode, s)
		default:
			continue
		}
		if err != nil {
			return false, err
		}
		complete = complete && ok
	}

	for _, entry := range entries {
		if remoteNames.Contains(entry.Name()) {
			continue
		}
		ok, err := f.syncLocalOnly(ctx, remote, joinKey(key, entry.Name()), entry, s)
		if err != nil {
			return false, err
		}
		complete = complete && ok
	}
	return complete, nil
}

// syncRemoteFolder reconciles a remote folder with the local path of key
func (f *SynchronizedFolder) syncRemoteFolder(ctx context.Context, folder *cmis.Object, key string, mode crawlMode, s *PassSummary) (bool, error) {
	if reason := f.skipReason(key); reason != "" {
		slog.Debug("sync skip", "folder", f.name, "path", key, "reason", reason)
		return true, nil
	}

	localPath := f.paths.Denormalize(key)
	info, err := statLocal(localPath)
	switch {
	case err == nil && info.IsDir():
		cached, err := f.db.ContainsFolder(key)
		if err != nil {
			return false, cacheReadError(err)
		}
		if !cached {
			if err := f.db.AddFolder(key, folder.ID, serverTime(folder)); err != nil {
				return f.settle(s, key, OutcomeFailed, err)
			}
		}
		return f.crawlFolder(ctx, folder, key, mode, s)

	case err == nil:
		// a local file holds the name of the remote folder
		backupPath, err := moveAside(localPath, f.params.User)
		if err != nil {
			return f.settle(s, key, OutcomeFailed, err)
		}
		if err := f.db.RemoveFile(key); err != nil {
			return f.settle(s, key, OutcomeFailed, err)
		}
		s.noteConflict(key, backupPath)
		f.listener.ConflictDetected(localPath, backupPath)
		f.record(s, key, OutcomeConflict)
		return f.downloadFolder(ctx, folder, key, mode, s)

	case errors.Is(err, fs.ErrNotExist):
		cached, err := f.db.ContainsFolder(key)
		if err != nil {
			return false, cacheReadError(err)
		}
		if cached {
			outcome, err := f.deleteRemoteFolder(ctx, folder, key)
			return f.settle(s, key, outcome, err)
		}
		return f.downloadFolder(ctx, folder, key, mode, s)

	default:
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to stat %s: %w", key, err))
	}
}

func (f *SynchronizedFolder) downloadFolder(ctx context.Context, folder *cmis.Object, key string, mode crawlMode, s *PassSummary) (bool, error) {
	if err := os.MkdirAll(f.paths.Denormalize(key), 0o755); err != nil {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to create local folder: %w", err))
	}
	if err := f.db.AddFolder(key, folder.ID, serverTime(folder)); err != nil {
		return f.settle(s, key, OutcomeFailed, err)
	}
	f.record(s, key, OutcomeDownloaded)
	return f.crawlFolder(ctx, folder, key, mode, s)
}

// syncRemoteDocument reconciles a remote document with the local path of key
func (f *SynchronizedFolder) syncRemoteDocument(ctx context.Context, doc *cmis.Object, key string, mode crawlMode, s *PassSummary) (bool, error) {
	if reason := f.skipReason(key); reason != "" {
		slog.Debug("sync skip", "folder", f.name, "path", key, "reason", reason)
		return true, nil
	}

	info, err := statLocal(f.paths.Denormalize(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to stat %s: %w", key, err))
	}
	if err == nil && info.IsDir() {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("%w: local folder %s shadows a remote document", ErrTypeMismatch, key))
	}
	exists := err == nil

	tracked, err := f.db.GetFile(key)
	if err != nil {
		return false, cacheReadError(err)
	}

	var outcome Outcome
	switch {
	case tracked == nil && exists:
		outcome, err = f.downloadFile(ctx, doc, key, localUntracked, s)
	case tracked == nil:
		outcome, err = f.downloadFile(ctx, doc, key, localAbsent, s)
	case !exists:
		// the cache proves the file was synced, so its absence is a local delete
		outcome, err = f.deleteRemoteDocument(ctx, doc, key)
	case remoteNewer(doc, tracked):
		if f.db.LocalFileHasChanged(key) {
			outcome, err = f.downloadFile(ctx, doc, key, localModified, s)
		} else {
			outcome, err = f.downloadFile(ctx, doc, key, localClean, s)
		}
	case mode == crawlFull && f.db.LocalFileHasChanged(key):
		outcome, err = f.updateFile(ctx, doc, key)
	default:
		outcome = OutcomeUnchanged
	}
	return f.settle(s, key, outcome, err)
}

// syncLocalOnly handles a local entry without a remote counterpart below
// parent
func (f *SynchronizedFolder) syncLocalOnly(ctx context.Context, parent *cmis.Object, key string, entry fs.DirEntry, s *PassSummary) (bool, error) {
	if reason := f.skipReason(key); reason != "" {
		slog.Debug("sync skip", "folder", f.name, "path", key, "reason", reason)
		return true, nil
	}

	switch {
	case entry.IsDir():
		cached, err := f.db.ContainsFolder(key)
		if err != nil {
			return false, cacheReadError(err)
		}
		if cached {
			outcome, err := f.removeLocalFolder(key)
			return f.settle(s, key, outcome, err)
		}
		return f.uploadFolder(ctx, parent, key, s)

	case entry.Type().IsRegular():
		cached, err := f.db.ContainsFile(key)
		if err != nil {
			return false, cacheReadError(err)
		}
		if cached {
			return f.remoteFileGone(ctx, parent, key, s)
		}
		return f.uploadNewFile(ctx, parent, key, s)

	default:
		slog.Debug("sync skip special file", "folder", f.name, "path", key, "mode", entry.Type())
		return true, nil
	}
}

// remoteFileGone handles a tracked file whose remote document was deleted.
// An unmodified local copy is deleted too; a modified one is forgotten and
// uploaded as a new document. With a nil parent the upload is left to the
// next watcher sync.
func (f *SynchronizedFolder) remoteFileGone(ctx context.Context, parent *cmis.Object, key string, s *PassSummary) (bool, error) {
	localPath := f.paths.Denormalize(key)
	if _, err := os.Lstat(localPath); errors.Is(err, fs.ErrNotExist) {
		if err := f.db.RemoveFile(key); err != nil {
			return f.settle(s, key, OutcomeFailed, err)
		}
		return f.settle(s, key, OutcomeUnchanged, nil)
	}

	if !f.db.LocalFileHasChanged(key) {
		outcome, err := f.removeLocalFile(key)
		return f.settle(s, key, outcome, err)
	}

	slog.Info("sync keep file modified after remote delete", "folder", f.name, "path", key)
	if err := f.db.RemoveFile(key); err != nil {
		return f.settle(s, key, OutcomeFailed, err)
	}
	if parent == nil {
		f.requeue(localPath)
		return true, nil
	}
	return f.uploadNewFile(ctx, parent, key, s)
}

// removeLocalFolder handles a tracked folder whose remote folder was
// deleted. Unmodified tracked files are deleted; anything else is kept and
// queued for upload, so the folder survives if it still holds content.
func (f *SynchronizedFolder) removeLocalFolder(key string) (Outcome, error) {
	files, err := f.db.FilesUnder(key)
	if err != nil {
		return OutcomeFailed, cacheReadError(err)
	}
	for _, tracked := range files {
		if f.db.LocalFileHasChanged(tracked.Path) {
			continue
		}
		if err := os.Remove(f.paths.Denormalize(tracked.Path)); err != nil && !os.IsNotExist(err) {
			return OutcomeFailed, fmt.Errorf("failed to delete %s: %w", tracked.Path, err)
		}
	}
	if err := f.db.RemoveFolder(key); err != nil {
		return OutcomeFailed, err
	}

	localPath := f.paths.Denormalize(key)
	f.removeEmptyDirs(localPath)
	if _, err := os.Lstat(localPath); err == nil {
		slog.Info("sync keep folder with local changes after remote delete", "folder", f.name, "path", key)
		f.requeue(localPath)
	}
	return OutcomeDeletedLocal, nil
}

// removeEmptyDirs removes dir and its subfolders bottom-up as long as they
// hold nothing but files not worth syncing
func (f *SynchronizedFolder) removeEmptyDirs(dir string) {
	var dirs []string
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		} else if !f.ignore.WorthSyncing(f.paths.Normalize(p)) {
			os.Remove(p)
		}
		return nil
	})

	slices.Reverse(dirs)
	for _, d := range dirs {
		// fails while the folder still has content
		os.Remove(d)
	}
}

// requeue makes the next watcher sync look at localPath again
func (f *SynchronizedFolder) requeue(localPath string) {
	if f.changes.GetChangeType(localPath) == ChangeNone {
		f.changes.OnCreated(localPath)
	}
}

// skipReason returns why key stays out of synchronization, or ""
func (f *SynchronizedFolder) skipReason(key string) string {
	switch {
	case IsInvalidName(path.Base(key)):
		return "invalid name"
	case !f.ignore.WorthSyncing(key):
		return "ignored name"
	case f.ignore.IsPathIgnored(f.paths.RemotePath(key)):
		return "ignored path"
	}
	return ""
}

// settle records the result of one object. Fatal errors are returned to end
// the pass; vanished local files count as skipped; any other error marks the
// object failed and the walk goes on.
func (f *SynchronizedFolder) settle(s *PassSummary, key string, outcome Outcome, err error) (bool, error) {
	if err != nil {
		if isFatal(err) {
			return false, err
		}
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("sync", "folder", f.name, "op", OutcomeSkipped, "path", key, "error", err)
			s.Record(key, OutcomeSkipped, nil)
			return true, nil
		}
		slog.Warn("sync", "folder", f.name, "op", OutcomeFailed, "path", key, "error", err)
		s.Record(key, OutcomeFailed, err)
		return false, nil
	}
	f.record(s, key, outcome)
	return true, nil
}

func (f *SynchronizedFolder) record(s *PassSummary, key string, outcome Outcome) {
	if outcome.IsTransfer() {
		slog.Info("sync", "folder", f.name, "op", outcome, "path", key)
	}
	s.Record(key, outcome, nil)
}
