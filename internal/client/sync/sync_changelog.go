package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/openmined/cmissync/internal/cmis"
)

const changeLogPageSize = 100

// changeLogSync applies the repository change log from token on. The stored
// token moves past a page only when every event of it was applied.
func (f *SynchronizedFolder) changeLogSync(ctx context.Context, token string, s *PassSummary) error {
	for {
		page, err := f.session.GetContentChanges(ctx, token, changeLogPageSize)
		if err != nil {
			if isFatal(err) {
				return err
			}
			s.Record("", OutcomeFailed, fmt.Errorf("failed to get content changes: %w", err))
			slog.Warn("change log unavailable, will crawl again", "folder", f.name, "token", token, "error", err)
			f.muState.Lock()
			f.syncedFull = false
			f.muState.Unlock()
			return nil
		}

		slog.Debug("change log page", "folder", f.name, "token", token, "events", len(page.Events), "more", page.HasMore)

		complete := true
		for _, event := range page.Events {
			ok, err := f.applyRemoteChange(ctx, event, s)
			if err != nil {
				return err
			}
			complete = complete && ok
		}
		if !complete {
			slog.Warn("change log page incomplete, will retry", "folder", f.name, "token", token, "failed", s.Count(OutcomeFailed))
			return nil
		}

		if page.LatestToken == "" || page.LatestToken == token {
			if page.HasMore {
				slog.Warn("change log token did not advance", "folder", f.name, "token", token)
			}
			return nil
		}
		if err := f.db.SetChangeLogToken(page.LatestToken); err != nil {
			return err
		}
		token = page.LatestToken

		if !page.HasMore {
			return nil
		}
	}
}

func (f *SynchronizedFolder) applyRemoteChange(ctx context.Context, event cmis.ChangeEvent, s *PassSummary) (bool, error) {
	switch event.Type {
	case cmis.ChangeDeleted:
		return f.applyRemoteDelete(ctx, event.ObjectID, s)
	case cmis.ChangeCreated, cmis.ChangeUpdated:
	default:
		slog.Debug("change log skip", "folder", f.name, "type", event.Type, "id", event.ObjectID)
		return true, nil
	}

	if event.ObjectID == f.repoInfo.RootFolderID {
		return true, nil
	}

	obj, err := f.session.GetObject(ctx, event.ObjectID)
	if errors.Is(err, cmis.ErrNotFound) {
		// deleted later on, a delete event follows
		return f.applyRemoteDelete(ctx, event.ObjectID, s)
	}
	if err != nil {
		return f.settle(s, event.ObjectID, OutcomeFailed, fmt.Errorf("failed to get changed object: %w", err))
	}
	if !obj.IsFolder() && !obj.IsDocument() {
		return true, nil
	}

	key, inside, err := f.remoteKey(ctx, obj)
	if err != nil {
		return f.settle(s, event.ObjectID, OutcomeFailed, err)
	}
	if !inside || key == "" {
		slog.Debug("change log skip outside root", "folder", f.name, "id", obj.ID, "name", obj.Name)
		return true, nil
	}

	// moved or renamed remotely: the old location is gone
	tracked, err := f.db.GetPathByObjectID(obj.ID)
	if err != nil {
		return false, cacheReadError(err)
	}
	if tracked != nil && tracked.Path != key {
		slog.Info("sync remote move", "folder", f.name, "from", tracked.Path, "to", key)
		if ok, err := f.applyRemoteGone(ctx, tracked, s); err != nil || !ok {
			return ok, err
		}
	}

	if ok, err := f.ensureLocalParents(ctx, key, s); err != nil || !ok {
		return ok, err
	}

	if obj.IsFolder() {
		return f.syncRemoteFolder(ctx, obj, key, crawlRemote, s)
	}
	return f.syncRemoteDocument(ctx, obj, key, crawlRemote, s)
}

// applyRemoteDelete handles a deleted change of objectID
func (f *SynchronizedFolder) applyRemoteDelete(ctx context.Context, objectID string, s *PassSummary) (bool, error) {
	tracked, err := f.db.GetPathByObjectID(objectID)
	if err != nil {
		return false, cacheReadError(err)
	}
	if tracked == nil {
		return true, nil
	}
	return f.applyRemoteGone(ctx, tracked, s)
}

func (f *SynchronizedFolder) applyRemoteGone(ctx context.Context, tracked *TrackedObject, s *PassSummary) (bool, error) {
	if tracked.Folder {
		outcome, err := f.removeLocalFolder(tracked.Path)
		return f.settle(s, tracked.Path, outcome, err)
	}
	return f.remoteFileGone(ctx, nil, tracked.Path, s)
}

// remoteKey returns the cache key obj takes locally and whether it lies
// below the remote root at all
func (f *SynchronizedFolder) remoteKey(ctx context.Context, obj *cmis.Object) (string, bool, error) {
	if obj.IsFolder() && obj.Path != "" {
		key, inside := f.paths.RelFromRemote(obj.Path)
		return key, inside, nil
	}

	name := obj.Name
	if obj.IsDocument() {
		name = obj.ContentStreamFileName
		if name == "" {
			return "", false, nil
		}
	}

	parents, err := f.session.GetObjectParents(ctx, obj)
	if err != nil {
		return "", false, fmt.Errorf("failed to get parents of %s: %w", obj.ID, err)
	}
	for _, parent := range parents {
		if parent.Path == "" {
			continue
		}
		if key, inside := f.paths.RelFromRemote(path.Join(parent.Path, name)); inside {
			return key, true, nil
		}
	}
	return "", false, nil
}

// ensureLocalParents creates and tracks the folders above key that are not
// tracked yet
func (f *SynchronizedFolder) ensureLocalParents(ctx context.Context, key string, s *PassSummary) (bool, error) {
	parent := parentKey(key)
	if parent == "" {
		return true, nil
	}

	var ancestor string
	for _, name := range strings.Split(parent, "/") {
		ancestor = joinKey(ancestor, name)

		cached, err := f.db.ContainsFolder(ancestor)
		if err != nil {
			return false, cacheReadError(err)
		}
		if cached {
			continue
		}
		if reason := f.skipReason(ancestor); reason != "" {
			slog.Debug("sync skip", "folder", f.name, "path", ancestor, "reason", reason)
			return true, nil
		}

		folder, err := f.session.GetObjectByPath(ctx, f.paths.RemotePath(ancestor))
		if err != nil {
			return f.settle(s, ancestor, OutcomeFailed, fmt.Errorf("failed to get remote folder: %w", err))
		}
		if !folder.IsFolder() {
			return f.settle(s, ancestor, OutcomeFailed, fmt.Errorf("%w: %s is not a remote folder", ErrTypeMismatch, ancestor))
		}
		if err := os.MkdirAll(f.paths.Denormalize(ancestor), 0o755); err != nil {
			return f.settle(s, ancestor, OutcomeFailed, fmt.Errorf("failed to create local folder: %w", err))
		}
		if err := f.db.AddFolder(ancestor, folder.ID, serverTime(folder)); err != nil {
			return f.settle(s, ancestor, OutcomeFailed, err)
		}
		f.record(s, ancestor, OutcomeDownloaded)
	}
	return true, nil
}
