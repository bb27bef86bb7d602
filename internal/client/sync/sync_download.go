package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
)

// localState describes what sits at the local path a download writes to
type localState int

const (
	localAbsent    localState = iota // nothing
	localClean                       // tracked and unmodified
	localModified                    // tracked and modified since
	localUntracked                   // present but never synchronized
)

// downloadFile fetches the content of doc into the local path of key. The
// content lands in <name>.sync first and replaces the local file only once
// the metadata is known. A modified local file is moved to its conflict
// backup name before being replaced; an untracked one only when its content
// differs.
func (f *SynchronizedFolder) downloadFile(ctx context.Context, doc *cmis.Object, key string, local localState, s *PassSummary) (Outcome, error) {
	if doc.ContentLength == 0 {
		slog.Debug("sync skip empty document", "folder", f.name, "path", key)
		return OutcomeSkipped, nil
	}

	stream, err := f.session.GetContentStream(ctx, doc)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to get content of %s: %w", key, err)
	}
	if stream == nil {
		slog.Debug("sync skip document without content", "folder", f.name, "path", key)
		return OutcomeSkipped, nil
	}
	defer stream.Close()

	localPath := f.paths.Denormalize(key)
	tmpPath := localPath + downloadSuffix

	total := stream.Length
	if total < 0 {
		total = doc.ContentLength
	}
	checksum, written, err := writeTempFile(tmpPath, stream.Reader, total, func(done int64) {
		f.listener.TransferProgress(localPath, done, total)
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to download %s: %w", key, err)
	}

	metadata, err := f.fetchMetadata(ctx, doc)
	if err != nil {
		os.Remove(tmpPath)
		return OutcomeFailed, err
	}

	outcome := OutcomeDownloaded
	backupPath := ""
	switch local {
	case localUntracked:
		current, err := utils.FileChecksum(localPath)
		if err == nil && current == checksum {
			os.Remove(tmpPath)
			if err := f.db.AddFile(key, doc.ID, serverTime(doc), metadata); err != nil {
				return OutcomeFailed, err
			}
			return OutcomeUnchanged, nil
		}
		if err == nil {
			if backupPath, err = moveAside(localPath, f.params.User); err != nil {
				os.Remove(tmpPath)
				return OutcomeFailed, err
			}
		}
	case localModified:
		if utils.FileExists(localPath) {
			if backupPath, err = moveAside(localPath, f.params.User); err != nil {
				os.Remove(tmpPath)
				return OutcomeFailed, err
			}
		}
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return OutcomeFailed, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	if err := f.db.AddFile(key, doc.ID, serverTime(doc), metadata); err != nil {
		return OutcomeFailed, err
	}

	if backupPath != "" {
		outcome = OutcomeConflict
		s.noteConflict(key, backupPath)
		f.listener.ConflictDetected(localPath, backupPath)
		slog.Warn("sync", "folder", f.name, "op", OutcomeConflict, "path", key, "movedTo", backupPath)
	}
	slog.Debug("sync download", "folder", f.name, "path", key, "size", humanize.Bytes(uint64(written)))
	return outcome, nil
}

// removeLocalFile deletes a tracked file whose remote document is gone
func (f *SynchronizedFolder) removeLocalFile(key string) (Outcome, error) {
	if err := os.Remove(f.paths.Denormalize(key)); err != nil && !os.IsNotExist(err) {
		return OutcomeFailed, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if err := f.db.RemoveFile(key); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeDeletedLocal, nil
}
