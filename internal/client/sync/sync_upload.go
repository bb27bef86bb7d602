package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
)

const defaultMimeType = "application/octet-stream"

// uploadFile creates a document for the local file of key below parent. If
// the local file disappears while uploading, the created document is deleted
// again.
func (f *SynchronizedFolder) uploadFile(ctx context.Context, parent *cmis.Object, key string) (Outcome, error) {
	localPath := f.paths.Denormalize(key)
	content, size, err := f.openContent(localPath)
	if err != nil {
		return OutcomeFailed, err
	}
	defer content.Close()

	doc, err := f.session.CreateDocument(ctx, parent, path.Base(key), cmis.TypeDocument, content)
	if err != nil {
		if !utils.FileExists(localPath) {
			return OutcomeSkipped, fmt.Errorf("%s vanished while uploading: %w", key, fs.ErrNotExist)
		}
		return OutcomeFailed, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	if !utils.FileExists(localPath) {
		slog.Warn("sync file deleted while uploading, reverting", "folder", f.name, "path", key)
		if err := f.session.DeleteAllVersions(ctx, doc); err != nil && !errors.Is(err, cmis.ErrNotFound) {
			return OutcomeFailed, fmt.Errorf("failed to revert upload of %s: %w", key, err)
		}
		return OutcomeSkipped, nil
	}

	metadata, err := f.fetchMetadata(ctx, doc)
	if err != nil {
		if isFatal(err) {
			return OutcomeFailed, err
		}
		// cached without metadata, the next download refreshes it
		slog.Warn("sync metadata unavailable", "folder", f.name, "path", key, "error", err)
	}
	if err := f.db.AddFile(key, doc.ID, serverTime(doc), metadata); err != nil {
		return OutcomeFailed, err
	}

	slog.Debug("sync upload", "folder", f.name, "path", key, "size", humanize.Bytes(uint64(size)))
	return OutcomeUploaded, nil
}

// updateFile replaces the content of doc with the local file of key
func (f *SynchronizedFolder) updateFile(ctx context.Context, doc *cmis.Object, key string) (Outcome, error) {
	localPath := f.paths.Denormalize(key)
	content, size, err := f.openContent(localPath)
	if err != nil {
		return OutcomeFailed, err
	}
	defer content.Close()

	updated, err := f.session.SetContentStream(ctx, doc, content, true)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to update %s: %w", key, err)
	}
	if err := f.db.SetFileServerSideModificationDate(key, serverTime(updated)); err != nil {
		return OutcomeFailed, err
	}
	if err := f.db.RecalculateChecksum(key); err != nil {
		return OutcomeFailed, err
	}

	slog.Debug("sync update", "folder", f.name, "path", key, "size", humanize.Bytes(uint64(size)))
	return OutcomeUpdated, nil
}

// uploadNewFile uploads an untracked local file. When a document with the
// same name already exists remotely, the two are reconciled like a first
// sight during a crawl.
func (f *SynchronizedFolder) uploadNewFile(ctx context.Context, parent *cmis.Object, key string, s *PassSummary) (bool, error) {
	outcome, err := f.uploadFile(ctx, parent, key)
	if errors.Is(err, cmis.ErrConstraint) {
		if doc, lookupErr := f.session.GetObjectByPath(ctx, f.paths.RemotePath(key)); lookupErr == nil && doc.IsDocument() {
			return f.syncRemoteDocument(ctx, doc, key, crawlRemote, s)
		}
	}
	return f.settle(s, key, outcome, err)
}

// uploadFolder creates the local folder of key below parent and uploads its
// content recursively. If the local folder disappears meanwhile, the created
// remote subtree is deleted again.
func (f *SynchronizedFolder) uploadFolder(ctx context.Context, parent *cmis.Object, key string, s *PassSummary) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	localPath := f.paths.Denormalize(key)
	folder, err := f.session.CreateFolder(ctx, parent, path.Base(key), cmis.TypeFolder)
	if err != nil {
		if errors.Is(err, cmis.ErrConstraint) {
			if existing, lookupErr := f.session.GetObjectByPath(ctx, f.paths.RemotePath(key)); lookupErr == nil && existing.IsFolder() {
				return f.syncRemoteFolder(ctx, existing, key, crawlRemote, s)
			}
		}
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to create remote folder %s: %w", key, err))
	}
	if err := f.db.AddFolder(key, folder.ID, serverTime(folder)); err != nil {
		return f.settle(s, key, OutcomeFailed, err)
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f.revertFolderUpload(ctx, folder, key, s)
		}
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to list local folder %s: %w", key, err))
	}
	f.record(s, key, OutcomeUploaded)

	complete := true
	for _, entry := range entries {
		childKey := joinKey(key, entry.Name())
		if reason := f.skipReason(childKey); reason != "" {
			slog.Debug("sync skip", "folder", f.name, "path", childKey, "reason", reason)
			continue
		}

		var ok bool
		switch {
		case entry.IsDir():
			ok, err = f.uploadFolder(ctx, folder, childKey, s)
		case entry.Type().IsRegular():
			ok, err = f.uploadNewFile(ctx, folder, childKey, s)
		default:
			continue
		}
		if err != nil {
			return false, err
		}
		complete = complete && ok
	}

	if !utils.DirExists(localPath) {
		return f.revertFolderUpload(ctx, folder, key, s)
	}
	return complete, nil
}

func (f *SynchronizedFolder) revertFolderUpload(ctx context.Context, folder *cmis.Object, key string, s *PassSummary) (bool, error) {
	slog.Warn("sync folder deleted while uploading, reverting", "folder", f.name, "path", key)
	if err := f.session.DeleteTree(ctx, folder, true, true); err != nil && !errors.Is(err, cmis.ErrNotFound) {
		return f.settle(s, key, OutcomeFailed, fmt.Errorf("failed to revert upload of %s: %w", key, err))
	}
	if err := f.db.RemoveFolder(key); err != nil {
		return f.settle(s, key, OutcomeFailed, err)
	}
	return f.settle(s, key, OutcomeSkipped, nil)
}

// deleteRemoteDocument propagates the local deletion of a tracked file
func (f *SynchronizedFolder) deleteRemoteDocument(ctx context.Context, doc *cmis.Object, key string) (Outcome, error) {
	if err := f.session.DeleteAllVersions(ctx, doc); err != nil && !errors.Is(err, cmis.ErrNotFound) {
		return OutcomeFailed, fmt.Errorf("failed to delete remote document %s: %w", key, err)
	}
	if err := f.db.RemoveFile(key); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDeletedRemote, nil
}

// deleteRemoteFolder propagates the local deletion of a tracked folder
func (f *SynchronizedFolder) deleteRemoteFolder(ctx context.Context, folder *cmis.Object, key string) (Outcome, error) {
	if err := f.session.DeleteTree(ctx, folder, true, true); err != nil && !errors.Is(err, cmis.ErrNotFound) {
		return OutcomeFailed, fmt.Errorf("failed to delete remote folder %s: %w", key, err)
	}
	if err := f.db.RemoveFolder(key); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDeletedRemote, nil
}

func (f *SynchronizedFolder) openContent(localPath string) (*cmis.ContentStream, int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("%s is a directory", localPath)
	}

	content := cmis.NewContentStream(info.Name(), detectMimeType(localPath), info.Size(), file)
	content.Progress = func(done, total int64) {
		f.listener.TransferProgress(localPath, done, total)
	}
	return content, info.Size(), nil
}

func detectMimeType(localPath string) string {
	mtype, err := mimetype.DetectFile(localPath)
	if err != nil {
		return defaultMimeType
	}
	value, _, _ := strings.Cut(mtype.String(), ";")
	return value
}
