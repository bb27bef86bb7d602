package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/cmissync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	ignoreFileName = ".cmissyncignore"
	downloadSuffix = ".sync"
)

// names that are never worth syncing, in either direction
var defaultIgnoreLines = []string{
	// own
	ignoreFileName,
	"*" + downloadSuffix,
	// office lock and backup files
	`~\$*`,
	".~lock.*#",
	"*~",
	// editors
	".*.swp",
	".#*",
	// General excludes
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// SyncIgnoreList decides which paths stay out of synchronization: local names
// matching gitignore rules (built-in defaults plus an optional .cmissyncignore
// at the local root) and remote paths matching the configured globs.
type SyncIgnoreList struct {
	baseDir      string
	ignore       *gitignore.GitIgnore
	ignoredPaths []string
}

func NewSyncIgnoreList(baseDir string, ignoredPaths []string) *SyncIgnoreList {
	patterns := make([]string, 0, len(ignoredPaths))
	for _, p := range ignoredPaths {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			slog.Warn("skipping invalid ignored path pattern", "pattern", p)
			continue
		}
		patterns = append(patterns, p)
	}
	return &SyncIgnoreList{
		baseDir:      baseDir,
		ignore:       gitignore.CompileIgnoreLines(defaultIgnoreLines...),
		ignoredPaths: patterns,
	}
}

func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, ignoreFileName)
	ignoreLines := defaultIgnoreLines

	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// WorthSyncing reports whether the local path (relative to the root, or a
// bare name) should be synchronized at all
func (s *SyncIgnoreList) WorthSyncing(key string) bool {
	if key == "" {
		return true
	}
	return !s.ignore.MatchesPath(key)
}

// IsPathIgnored reports whether the remote path or one of its ancestors
// matches a configured ignore pattern
func (s *SyncIgnoreList) IsPathIgnored(remotePath string) bool {
	if len(s.ignoredPaths) == 0 {
		return false
	}
	remotePath = path.Clean("/" + strings.Trim(remotePath, "/"))
	for p := remotePath; p != "/"; p = path.Dir(p) {
		for _, pattern := range s.ignoredPaths {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
	}
	return false
}

// IsInvalidName reports names that cannot exist as a local file or folder
func IsInvalidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return true
	}
	if strings.ContainsAny(name, "/\x00") {
		return true
	}
	if runtime.GOOS == "windows" {
		if strings.ContainsAny(name, `<>:"|?*\`) {
			return true
		}
		if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
			return true
		}
	}
	return false
}
