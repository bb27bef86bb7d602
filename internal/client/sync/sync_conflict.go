package sync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/cmissync/internal/utils"
)

const (
	conflictInfix    = "-version"
	conflictMaxTries = 1000
	defaultUserLabel = "local"
)

// conflictBackupPath returns a free sibling name for a locally modified file
// that is about to be replaced by the remote version:
//
//	report.docx -> report_alice-version.docx
//	            -> report_alice-version (1).docx, (2) ... when taken
func conflictBackupPath(localPath, user string) (string, error) {
	dir := filepath.Dir(localPath)
	name := filepath.Base(localPath)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		// dotfiles have no extension
		base, ext = name, ""
	}

	stem := base + "_" + userLabel(user) + conflictInfix
	candidate := filepath.Join(dir, stem+ext)
	for i := 1; i <= conflictMaxTries; i++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
	return "", fmt.Errorf("no free conflict name for %s", localPath)
}

// moveAside renames a conflicting local file to its backup name and returns
// the new path
func moveAside(localPath, user string) (string, error) {
	if !utils.FileExists(localPath) {
		return "", fmt.Errorf("cannot back up file: source file does not exist: %s", localPath)
	}

	backupPath, err := conflictBackupPath(localPath, user)
	if err != nil {
		return "", err
	}
	if err := os.Rename(localPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up %s to %s: %w", localPath, backupPath, err)
	}
	slog.Debug("conflict backup", "from", localPath, "to", backupPath)
	return backupPath, nil
}

func userLabel(user string) string {
	user = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(user))
	if user == "" {
		return defaultUserLabel
	}
	return user
}
