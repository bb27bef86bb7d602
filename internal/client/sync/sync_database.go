package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/openmined/cmissync/internal/db"
	"github.com/openmined/cmissync/internal/utils"
)

const databaseSchema = `
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    object_id TEXT NOT NULL DEFAULT '',
    server_mod_time TEXT, -- RFC3339Nano, always UTC
    metadata TEXT,
    checksum TEXT
);

CREATE TABLE IF NOT EXISTS folders (
    path TEXT PRIMARY KEY,
    object_id TEXT NOT NULL DEFAULT '',
    server_mod_time TEXT
);

CREATE TABLE IF NOT EXISTS general (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE INDEX IF NOT EXISTS idx_files_object_id ON files(object_id);
CREATE INDEX IF NOT EXISTS idx_folders_object_id ON folders(object_id);
`

const changeLogTokenKey = "ChangeLogToken"

var (
	ErrNotUTC              = errors.New("server modification time must be UTC")
	ErrDatabaseNotOpen     = errors.New("sync database not open")
	ErrDatabaseAlreadyOpen = errors.New("sync database already open")
)

// PropertyMetadata is the cached form of one remote property
type PropertyMetadata struct {
	DisplayName  string            `json:"displayName"`
	Updatability cmis.Updatability `json:"updatability"`
	MultiValued  bool              `json:"multiValued"`
	Values       []string          `json:"values"`
}

// Metadata maps property ids to their cached values
type Metadata map[string]PropertyMetadata

// Value returns the first cached value of a property, or "" when unknown
func (m Metadata) Value(id string) string {
	if p, ok := m[id]; ok && len(p.Values) > 0 {
		return p.Values[0]
	}
	return ""
}

// TrackedFile is a file both sides agreed on at the last transfer
type TrackedFile struct {
	Path          string
	ObjectID      string
	ServerModTime *time.Time
	Checksum      string
	Metadata      Metadata
}

// TrackedFolder is a folder both sides agreed on at the last transfer
type TrackedFolder struct {
	Path          string
	ObjectID      string
	ServerModTime *time.Time
}

// TrackedObject is the result of a lookup by remote object id
type TrackedObject struct {
	Path   string
	Folder bool
}

type dbFile struct {
	Path          string         `db:"path"`
	ObjectID      string         `db:"object_id"`
	ServerModTime sql.NullString `db:"server_mod_time"`
	Metadata      sql.NullString `db:"metadata"`
	Checksum      sql.NullString `db:"checksum"`
}

type dbFolder struct {
	Path          string         `db:"path"`
	ObjectID      string         `db:"object_id"`
	ServerModTime sql.NullString `db:"server_mod_time"`
}

// SyncDatabase is the metadata cache of one folder mapping. It remembers what
// the local and remote side looked like after the last successful transfer of
// every path. Paths may be given absolute (under the local root) or relative;
// they are stored normalized.
type SyncDatabase struct {
	db     *sqlx.DB
	dbPath string
	paths  *PathMapper
}

func NewSyncDatabase(dbPath string, paths *PathMapper) *SyncDatabase {
	return &SyncDatabase{
		dbPath: dbPath,
		paths:  paths,
	}
}

// Open the database, creating it and its schema when missing
func (s *SyncDatabase) Open() error {
	if s.db != nil {
		return ErrDatabaseAlreadyOpen
	}

	if s.dbPath != ":memory:" {
		dbDir := filepath.Dir(s.dbPath)
		if err := utils.EnsureDir(dbDir); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	sdb, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("failed to open sync database: %w", err)
	}

	if _, err := sdb.Exec(databaseSchema); err != nil {
		sdb.Close()
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	s.db = sdb
	return nil
}

// Close the underlying database
func (s *SyncDatabase) Close() error {
	if s.db == nil {
		return ErrDatabaseNotOpen
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		slog.Error("failed to close sync database", "path", s.dbPath, "error", err)
		return err
	}
	slog.Debug("sync database closed", "path", s.dbPath)
	return nil
}

// Destroy closes the database and moves its file aside
func (s *SyncDatabase) Destroy() error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	if err := os.Rename(s.dbPath, fmt.Sprintf("%s.%s.bak", s.dbPath, timestamp)); err != nil {
		return fmt.Errorf("failed to rename database file: %w", err)
	}
	return nil
}

// AddFile records a file after a transfer. The checksum is computed from the
// local file; if the file vanished in the meantime nothing is written. Any
// other read failure is returned so the transfer counts as failed.
func (s *SyncDatabase) AddFile(path, objectID string, serverModTime *time.Time, metadata Metadata) error {
	key := s.paths.Normalize(path)

	checksum, err := utils.FileChecksum(s.paths.Denormalize(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("sync database skip vanished file", "path", key)
			return nil
		}
		return fmt.Errorf("failed to checksum %s: %w", key, err)
	}
	if checksum == "" {
		slog.Warn("sync database skip file without checksum", "path", key)
		return nil
	}

	var metaJSON sql.NullString
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", key, err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	row := dbFile{
		Path:          key,
		ObjectID:      objectID,
		ServerModTime: formatModTime(serverModTime),
		Metadata:      metaJSON,
		Checksum:      sql.NullString{String: checksum, Valid: true},
	}
	_, err = s.db.NamedExec(`INSERT OR REPLACE INTO files (path, object_id, server_mod_time, metadata, checksum)
		VALUES (:path, :object_id, :server_mod_time, :metadata, :checksum)`, row)
	if err != nil {
		return fmt.Errorf("failed to add file %s: %w", key, err)
	}
	slog.Debug("sync database add file", "path", key, "id", objectID)
	return nil
}

// AddFolder records a folder after a transfer
func (s *SyncDatabase) AddFolder(path, objectID string, serverModTime *time.Time) error {
	key := s.paths.Normalize(path)
	row := dbFolder{
		Path:          key,
		ObjectID:      objectID,
		ServerModTime: formatModTime(serverModTime),
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO folders (path, object_id, server_mod_time)
		VALUES (:path, :object_id, :server_mod_time)`, row)
	if err != nil {
		return fmt.Errorf("failed to add folder %s: %w", key, err)
	}
	slog.Debug("sync database add folder", "path", key, "id", objectID)
	return nil
}

func (s *SyncDatabase) RemoveFile(path string) error {
	key := s.paths.Normalize(path)
	if _, err := s.db.Exec("DELETE FROM files WHERE path = ?", key); err != nil {
		return fmt.Errorf("failed to remove file %s: %w", key, err)
	}
	return nil
}

// RemoveFolder removes the folder and every file and folder below it
func (s *SyncDatabase) RemoveFolder(path string) error {
	key := s.paths.Normalize(path)

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if key == "" {
		if _, err := tx.Exec("DELETE FROM folders"); err != nil {
			return fmt.Errorf("failed to remove folders: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM files"); err != nil {
			return fmt.Errorf("failed to remove files: %w", err)
		}
		return tx.Commit()
	}

	prefix := key + "/"
	if _, err := tx.Exec("DELETE FROM folders WHERE path = ? OR substr(path, 1, length(?)) = ?", key, prefix, prefix); err != nil {
		return fmt.Errorf("failed to remove folder %s: %w", key, err)
	}
	if _, err := tx.Exec("DELETE FROM files WHERE substr(path, 1, length(?)) = ?", prefix, prefix); err != nil {
		return fmt.Errorf("failed to remove files under %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SyncDatabase) ContainsFile(path string) (bool, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM files WHERE path = ?", s.paths.Normalize(path)); err != nil {
		return false, fmt.Errorf("failed to query file: %w", err)
	}
	return count > 0, nil
}

func (s *SyncDatabase) ContainsFolder(path string) (bool, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM folders WHERE path = ?", s.paths.Normalize(path)); err != nil {
		return false, fmt.Errorf("failed to query folder: %w", err)
	}
	return count > 0, nil
}

// GetFile returns nil, nil when the file is not tracked
func (s *SyncDatabase) GetFile(path string) (*TrackedFile, error) {
	key := s.paths.Normalize(path)
	var row dbFile
	err := s.db.Get(&row, "SELECT path, object_id, server_mod_time, metadata, checksum FROM files WHERE path = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query file %s: %w", key, err)
	}
	return row.toTrackedFile()
}

// GetFolder returns nil, nil when the folder is not tracked
func (s *SyncDatabase) GetFolder(path string) (*TrackedFolder, error) {
	key := s.paths.Normalize(path)
	var row dbFolder
	err := s.db.Get(&row, "SELECT path, object_id, server_mod_time FROM folders WHERE path = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query folder %s: %w", key, err)
	}
	return row.toTrackedFolder()
}

// GetPathByObjectID returns nil, nil when no tracked path has this id
func (s *SyncDatabase) GetPathByObjectID(objectID string) (*TrackedObject, error) {
	var key string
	err := s.db.Get(&key, "SELECT path FROM files WHERE object_id = ? LIMIT 1", objectID)
	if err == nil {
		return &TrackedObject{Path: key}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query object %s: %w", objectID, err)
	}

	err = s.db.Get(&key, "SELECT path FROM folders WHERE object_id = ? LIMIT 1", objectID)
	if err == nil {
		return &TrackedObject{Path: key, Folder: true}, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to query object %s: %w", objectID, err)
}

// FilesUnder lists the tracked files below folder, at any depth
func (s *SyncDatabase) FilesUnder(folder string) ([]*TrackedFile, error) {
	key := s.paths.Normalize(folder)
	var rows []dbFile
	var err error
	if key == "" {
		err = s.db.Select(&rows, "SELECT path, object_id, server_mod_time, metadata, checksum FROM files ORDER BY path")
	} else {
		prefix := key + "/"
		err = s.db.Select(&rows, `SELECT path, object_id, server_mod_time, metadata, checksum FROM files
			WHERE substr(path, 1, length(?)) = ? ORDER BY path`, prefix, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files under %s: %w", key, err)
	}

	files := make([]*TrackedFile, 0, len(rows))
	for _, row := range rows {
		f, err := row.toTrackedFile()
		if err != nil {
			slog.Error("sync database skip corrupt row", "path", row.Path, "error", err)
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// GetServerSideModificationDate returns nil, nil when the file is not tracked
func (s *SyncDatabase) GetServerSideModificationDate(path string) (*time.Time, error) {
	f, err := s.GetFile(path)
	if err != nil || f == nil {
		return nil, err
	}
	return f.ServerModTime, nil
}

// SetFileServerSideModificationDate updates the server time of a tracked file.
// t must be in UTC.
func (s *SyncDatabase) SetFileServerSideModificationDate(path string, t *time.Time) error {
	if t != nil && t.Location() != time.UTC {
		return fmt.Errorf("%s: %w", path, ErrNotUTC)
	}
	key := s.paths.Normalize(path)
	if _, err := s.db.Exec("UPDATE files SET server_mod_time = ? WHERE path = ?", formatModTime(t), key); err != nil {
		return fmt.Errorf("failed to update server time of %s: %w", key, err)
	}
	return nil
}

// RecalculateChecksum refreshes the stored checksum from the local file
func (s *SyncDatabase) RecalculateChecksum(path string) error {
	key := s.paths.Normalize(path)
	checksum, err := utils.FileChecksum(s.paths.Denormalize(key))
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", key, err)
	}
	if _, err := s.db.Exec("UPDATE files SET checksum = ? WHERE path = ?", checksum, key); err != nil {
		return fmt.Errorf("failed to update checksum of %s: %w", key, err)
	}
	return nil
}

// LocalFileHasChanged compares the local file with its stored checksum. An
// unreadable file or a missing checksum count as changed.
func (s *SyncDatabase) LocalFileHasChanged(path string) bool {
	key := s.paths.Normalize(path)

	current, err := utils.FileChecksum(s.paths.Denormalize(key))
	if err != nil {
		slog.Debug("sync database checksum failed", "path", key, "error", err)
		return true
	}

	var stored sql.NullString
	if err := s.db.Get(&stored, "SELECT checksum FROM files WHERE path = ?", key); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("sync database checksum query failed", "path", key, "error", err)
		}
		return true
	}
	return !stored.Valid || stored.String != current
}

// GetChangeLogToken returns "" when no token was stored yet
func (s *SyncDatabase) GetChangeLogToken() (string, error) {
	var token sql.NullString
	err := s.db.Get(&token, "SELECT value FROM general WHERE key = ?", changeLogTokenKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query change log token: %w", err)
	}
	return token.String, nil
}

func (s *SyncDatabase) SetChangeLogToken(token string) error {
	if _, err := s.db.Exec("INSERT OR REPLACE INTO general (key, value) VALUES (?, ?)", changeLogTokenKey, token); err != nil {
		return fmt.Errorf("failed to store change log token: %w", err)
	}
	return nil
}

// Count returns the number of tracked files and folders
func (s *SyncDatabase) Count() (files int, folders int, err error) {
	if err = s.db.Get(&files, "SELECT COUNT(*) FROM files"); err != nil {
		return 0, 0, fmt.Errorf("failed to count files: %w", err)
	}
	if err = s.db.Get(&folders, "SELECT COUNT(*) FROM folders"); err != nil {
		return 0, 0, fmt.Errorf("failed to count folders: %w", err)
	}
	return files, folders, nil
}

func (r *dbFile) toTrackedFile() (*TrackedFile, error) {
	modTime, err := parseModTime(r.ServerModTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored time for %s: %w", r.Path, err)
	}
	f := &TrackedFile{
		Path:          r.Path,
		ObjectID:      r.ObjectID,
		ServerModTime: modTime,
		Checksum:      r.Checksum.String,
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", r.Path, err)
		}
	}
	return f, nil
}

func (r *dbFolder) toTrackedFolder() (*TrackedFolder, error) {
	modTime, err := parseModTime(r.ServerModTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored time for %s: %w", r.Path, err)
	}
	return &TrackedFolder{Path: r.Path, ObjectID: r.ObjectID, ServerModTime: modTime}, nil
}

func formatModTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseModTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
