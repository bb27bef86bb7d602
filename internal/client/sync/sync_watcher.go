package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/openmined/cmissync/internal/cmis"
)

// watcherSync applies the local changes recorded since the last pass, in the
// order they happened. Applied changes are removed from the detector; failed
// ones stay for the next pass.
func (f *SynchronizedFolder) watcherSync(ctx context.Context, s *PassSummary) error {
	pending := f.changes.Changes()
	slog.Debug("watcher sync", "folder", f.name, "changes", len(pending))

	for _, change := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !f.paths.IsUnderRoot(change.Path) {
			f.changes.RemoveChange(change.Path, change.Type)
			continue
		}
		key := f.paths.Normalize(change.Path)
		if reason := f.skipReason(key); reason != "" {
			slog.Debug("sync skip", "folder", f.name, "path", key, "change", change.Type, "reason", reason)
			f.changes.RemoveChange(change.Path, change.Type)
			continue
		}

		ok, err := f.applyLocalChange(ctx, change, key, s)
		if err != nil {
			return err
		}
		if ok {
			f.changes.RemoveChange(change.Path, change.Type)
		}
	}
	return nil
}

// applyLocalChange looks at what is on disk now rather than at the change
// type, so a path deleted and recreated counts as changed
func (f *SynchronizedFolder) applyLocalChange(ctx context.Context, change FileChange, key string, s *PassSummary) (bool, error) {
	info, err := os.Lstat(change.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f.applyLocalDelete(ctx, key, s)
	case err != nil:
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to stat %s: %w", key, err))
	case info.IsDir():
		return f.applyLocalFolder(ctx, key, s)
	case info.Mode().IsRegular():
		return f.applyLocalFile(ctx, key, s)
	default:
		slog.Debug("sync skip special file", "folder", f.name, "path", key, "mode", info.Mode().Type())
		return true, nil
	}
}

func (f *SynchronizedFolder) applyLocalFolder(ctx context.Context, key string, s *PassSummary) (bool, error) {
	cached, err := f.db.ContainsFolder(key)
	if err != nil {
		return false, cacheReadError(err)
	}
	if cached {
		return true, nil
	}

	parent, ok, err := f.uploadTarget(ctx, key, s)
	if err != nil || !ok {
		return ok, err
	}
	return f.uploadFolder(ctx, parent, key, s)
}

func (f *SynchronizedFolder) applyLocalFile(ctx context.Context, key string, s *PassSummary) (bool, error) {
	tracked, err := f.db.GetFile(key)
	if err != nil {
		return false, cacheReadError(err)
	}
	if tracked == nil {
		parent, ok, err := f.uploadTarget(ctx, key, s)
		if err != nil || !ok {
			return ok, err
		}
		return f.uploadNewFile(ctx, parent, key, s)
	}

	if !f.db.LocalFileHasChanged(key) {
		return f.settle(s, key, OutcomeUnchanged, nil)
	}

	doc, err := f.session.GetObjectByPath(ctx, f.paths.RemotePath(key))
	switch {
	case errors.Is(err, cmis.ErrNotFound):
		slog.Info("sync keep file modified after remote delete", "folder", f.name, "path", key)
		if err := f.db.RemoveFile(key); err != nil {
			return f.settle(s, key, OutcomeFailed, err)
		}
		parent, ok, err := f.uploadTarget(ctx, key, s)
		if err != nil || !ok {
			return ok, err
		}
		return f.uploadNewFile(ctx, parent, key, s)
	case err != nil:
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to get remote document: %w", err))
	case !doc.IsDocument():
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("%w: remote %s is not a document", ErrTypeMismatch, key))
	}

	var outcome Outcome
	if remoteNewer(doc, tracked) {
		outcome, err = f.downloadFile(ctx, doc, key, localModified, s)
	} else {
		outcome, err = f.updateFile(ctx, doc, key)
	}
	return f.settle(s, key, outcome, err)
}

func (f *SynchronizedFolder) applyLocalDelete(ctx context.Context, key string, s *PassSummary) (bool, error) {
	folderCached, err := f.db.ContainsFolder(key)
	if err != nil {
		return false, cacheReadError(err)
	}
	fileCached, err := f.db.ContainsFile(key)
	if err != nil {
		return false, cacheReadError(err)
	}
	if !folderCached && !fileCached {
		return true, nil
	}

	remote, err := f.session.GetObjectByPath(ctx, f.paths.RemotePath(key))
	if errors.Is(err, cmis.ErrNotFound) {
		// gone on both sides
		if folderCached {
			err = f.db.RemoveFolder(key)
		} else {
			err = f.db.RemoveFile(key)
		}
		return f.settle(s, key, OutcomeUnchanged, err)
	}
	if err != nil {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to get remote object: %w", err))
	}

	var outcome Outcome
	switch {
	case folderCached && remote.IsFolder():
		outcome, err = f.deleteRemoteFolder(ctx, remote, key)
	case fileCached && remote.IsDocument():
		outcome, err = f.deleteRemoteDocument(ctx, remote, key)
	default:
		outcome, err = OutcomeFailed, fmt.Errorf("%w: remote %s changed kind", ErrTypeMismatch, key)
	}
	return f.settle(s, key, outcome, err)
}

// uploadTarget returns the remote folder a new local object of key goes to.
// When it does not exist yet, the local parent folder is queued so that it
// is uploaded first and false is returned.
func (f *SynchronizedFolder) uploadTarget(ctx context.Context, key string, s *PassSummary) (*cmis.Object, bool, error) {
	parent := parentKey(key)
	folder, err := f.session.GetObjectByPath(ctx, f.paths.RemotePath(parent))
	switch {
	case errors.Is(err, cmis.ErrNotFound) && parent != "":
		slog.Debug("sync waiting for remote parent", "folder", f.name, "path", key, "parent", parent)
		f.requeue(f.paths.Denormalize(parent))
		return nil, false, nil
	case err != nil:
		ok, err := f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to get remote parent: %w", err))
		return nil, ok, err
	case !folder.IsFolder():
		ok, err := f.settle(s, key, OutcomeFailed, fmt.Errorf("%w: remote parent of %s is not a folder", ErrTypeMismatch, key))
		return nil, ok, err
	}
	return folder, true, nil
}
