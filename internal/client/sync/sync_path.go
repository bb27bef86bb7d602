package sync

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/openmined/cmissync/internal/utils"
)

// PathMapper translates between local absolute paths, root-relative cache
// keys and remote repository paths of one folder mapping.
//
// Cache keys use forward slashes, carry no leading slash and the mapping
// root itself is the empty key.
type PathMapper struct {
	localRoot  string
	remoteRoot string
}

func NewPathMapper(localRoot, remoteRoot string) *PathMapper {
	remoteRoot = path.Clean("/" + strings.Trim(remoteRoot, "/"))
	return &PathMapper{
		localRoot:  filepath.Clean(localRoot),
		remoteRoot: remoteRoot,
	}
}

func (m *PathMapper) LocalRoot() string {
	return m.localRoot
}

func (m *PathMapper) RemoteRoot() string {
	return m.remoteRoot
}

// Normalize accepts an absolute local path under the root or a relative path
// and returns its cache key
func (m *PathMapper) Normalize(p string) string {
	if filepath.IsAbs(p) && utils.IsWithin(m.localRoot, p) {
		rel, err := filepath.Rel(m.localRoot, p)
		if err == nil {
			p = rel
		}
	}
	p = path.Clean(filepath.ToSlash(p))
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Denormalize returns the absolute local path of a cache key
func (m *PathMapper) Denormalize(key string) string {
	if key == "" {
		return m.localRoot
	}
	return filepath.Join(m.localRoot, filepath.FromSlash(key))
}

// RemotePath returns the repository path of a cache key
func (m *PathMapper) RemotePath(key string) string {
	return utils.JoinRemote(m.remoteRoot, key)
}

// RelFromRemote returns the cache key of a repository path, or false when
// the path is outside the remote root
func (m *PathMapper) RelFromRemote(remotePath string) (string, bool) {
	remotePath = path.Clean("/" + strings.Trim(remotePath, "/"))
	if remotePath == m.remoteRoot {
		return "", true
	}
	prefix := m.remoteRoot
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(remotePath, prefix) {
		return "", false
	}
	return strings.TrimPrefix(remotePath, prefix), true
}

// IsUnderRoot reports whether the absolute local path p lies strictly below
// the local root
func (m *PathMapper) IsUnderRoot(p string) bool {
	p = filepath.Clean(p)
	return p != m.localRoot && utils.IsWithin(m.localRoot, p)
}
