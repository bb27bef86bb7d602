package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	clientsync "github.com/openmined/cmissync/internal/client/sync"
	"github.com/openmined/cmissync/internal/utils"
	"github.com/spf13/viper"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".cmissync", "config.json")
	DefaultDataDir     = filepath.Join(home, ".cmissync", "data")
	DefaultLogFilePath = filepath.Join(home, ".cmissync", "logs", "cmissync.log")
	DefaultInterval    = clientsync.DefaultSyncInterval
	DefaultWatcher     = clientsync.BackendFsnotify
)

var (
	ErrNoFolders       = errors.New("no folders configured")
	ErrInvalidFolder   = errors.New("invalid folder")
	ErrDuplicateFolder = errors.New("duplicate folder")
	ErrInvalidURL      = errors.New("invalid repository url")
	ErrInvalidInterval = errors.New("invalid sync interval")
	ErrInvalidWatcher  = errors.New("invalid watcher backend")
)

// folder names end up in file names below the data dir
var folderNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Config struct {
	DataDir        string          `json:"data_dir" mapstructure:"data_dir"`
	LogFile        string          `json:"log_file,omitempty" mapstructure:"log_file"`
	Interval       time.Duration   `json:"-" mapstructure:"interval"`
	WatcherBackend string          `json:"watcher,omitempty" mapstructure:"watcher"`
	Folders        []*FolderConfig `json:"folders" mapstructure:"folders"`
	Path           string          `json:"-" mapstructure:"-"`
}

// FolderConfig maps one local directory to one remote folder
type FolderConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	LocalPath    string   `json:"local_path" mapstructure:"local_path"`
	RemotePath   string   `json:"remote_path" mapstructure:"remote_path"`
	URL          string   `json:"url" mapstructure:"url"`
	RepositoryID string   `json:"repository_id,omitempty" mapstructure:"repository_id"`
	User         string   `json:"user,omitempty" mapstructure:"user"`
	Password     string   `json:"password,omitempty" mapstructure:"password"`
	IgnoredPaths []string `json:"ignored_paths,omitempty" mapstructure:"ignored_paths"`
}

// Validate fills in defaults, resolves paths and checks every folder
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFilePath
	}
	if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	switch {
	case c.Interval == 0:
		c.Interval = DefaultInterval
	case c.Interval < time.Second:
		return fmt.Errorf("%w: %s is below one second", ErrInvalidInterval, c.Interval)
	}

	switch c.WatcherBackend {
	case "":
		c.WatcherBackend = DefaultWatcher
	case clientsync.BackendFsnotify, clientsync.BackendNotify:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidWatcher, c.WatcherBackend)
	}

	if len(c.Folders) == 0 {
		return ErrNoFolders
	}
	names := make(map[string]bool, len(c.Folders))
	locals := make([]string, 0, len(c.Folders))
	for _, f := range c.Folders {
		if f == nil {
			return fmt.Errorf("%w: empty entry", ErrInvalidFolder)
		}
		if err := f.Validate(); err != nil {
			return err
		}
		if names[f.Name] {
			return fmt.Errorf("%w: name %q", ErrDuplicateFolder, f.Name)
		}
		names[f.Name] = true

		for _, other := range locals {
			if utils.IsWithin(other, f.LocalPath) || utils.IsWithin(f.LocalPath, other) {
				return fmt.Errorf("%w: %s overlaps %s", ErrDuplicateFolder, f.LocalPath, other)
			}
		}
		locals = append(locals, f.LocalPath)
	}
	return nil
}

func (f *FolderConfig) Validate() error {
	if f.LocalPath == "" {
		return fmt.Errorf("%w: %q has no local path", ErrInvalidFolder, f.Name)
	}
	localPath, err := utils.ResolvePath(f.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: local path: %w", ErrInvalidFolder, err)
	}
	f.LocalPath = localPath

	if f.Name == "" {
		f.Name = filepath.Base(f.LocalPath)
	}
	if !folderNameRe.MatchString(f.Name) {
		return fmt.Errorf("%w: name %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidFolder, f.Name)
	}

	if !strings.HasPrefix(f.RemotePath, "/") {
		return fmt.Errorf("%w: %q remote path %q must be absolute", ErrInvalidFolder, f.Name, f.RemotePath)
	}
	f.RemotePath = path.Clean(f.RemotePath)

	if err := validateURL(f.URL); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidURL, f.Name, err)
	}
	f.URL = strings.TrimSuffix(f.URL, "/")
	return nil
}

// String is safe to log
func (f *FolderConfig) String() string {
	return fmt.Sprintf("%s: %s <-> %s%s (user=%s password=%s)",
		f.Name, f.LocalPath, f.URL, f.RemotePath, f.User, utils.MaskSecret(f.Password))
}

func (c *Config) Folder(name string) (*FolderConfig, bool) {
	for _, f := range c.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Save writes the config as JSON to c.Path
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// may hold credentials
	return os.WriteFile(c.Path, data, 0o600)
}

func (c *Config) MarshalJSON() ([]byte, error) {
	type plain Config
	return json.Marshal(&struct {
		*plain
		Interval string `json:"interval,omitempty"`
	}{
		plain:    (*plain)(c),
		Interval: durationString(c.Interval),
	})
}

// LoadFromFile reads and validates a config file without consulting flags or
// the environment
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read %q: %w", path, err)
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper decodes the settings held by v. Folders without credentials get
// the top-level user and password, which may come from the environment.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	user := v.GetString("user")
	password := v.GetString("password")
	for _, f := range cfg.Folders {
		if f == nil {
			continue
		}
		if f.User == "" {
			f.User = user
		}
		if f.Password == "" {
			f.Password = password
		}
	}
	return &cfg, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
