package sync

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/utils"
)

// writeTempFile streams r into tmpPath while hashing it and returns the SHA-1
// of what was written. The file is synced to disk before returning and
// removed on any failure. A negative expectedLength skips the size check.
func writeTempFile(tmpPath string, r io.Reader, expectedLength int64, progress func(done int64)) (string, int64, error) {
	if err := utils.EnsureParent(tmpPath); err != nil {
		return "", 0, fmt.Errorf("failed to ensure parent: %w", err)
	}

	tempFile, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	success := false

	// Cleanup temp file only on failure
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha1.New()
	var writer io.Writer = io.MultiWriter(tempFile, hasher)
	if progress != nil {
		writer = &progressWriter{w: writer, report: progress}
	}

	written, err := io.Copy(writer, r)
	if err != nil {
		return "", written, fmt.Errorf("failed to write temp file: %w", err)
	}
	if expectedLength >= 0 && written != expectedLength {
		return "", written, fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedLength, written)
	}

	// Sync to disk before the caller renames it into place
	if err := tempFile.Sync(); err != nil {
		return "", written, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", written, fmt.Errorf("failed to close temp file: %w", err)
	}

	success = true
	return hex.EncodeToString(hasher.Sum(nil)), written, nil
}

type progressWriter struct {
	w      io.Writer
	done   int64
	report func(done int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.report(p.done)
	return n, err
}

// joinKey appends a name to a cache key
func joinKey(key, name string) string {
	if key == "" {
		return name
	}
	return key + "/" + name
}

// parentKey returns the cache key of the folder holding key
func parentKey(key string) string {
	parent := path.Dir(key)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

// serverTime returns the UTC modification time of obj, or nil when unknown
func serverTime(obj *cmis.Object) *time.Time {
	if obj.ModTime.IsZero() {
		return nil
	}
	t := obj.ModTime.UTC()
	return &t
}

// remoteNewer reports whether doc changed on the server after it was cached.
// Servers that leave out modification times are compared by change token,
// then by object id, since some repositories give each version a new id.
func remoteNewer(doc *cmis.Object, tracked *TrackedFile) bool {
	if tracked.ServerModTime != nil && !doc.ModTime.IsZero() {
		return doc.ModTime.After(*tracked.ServerModTime)
	}
	if cached := tracked.Metadata.Value(cmis.PropChangeToken); cached != "" && doc.ChangeToken != "" {
		return cached != doc.ChangeToken
	}
	return doc.ID != tracked.ObjectID
}
