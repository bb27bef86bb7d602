package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/cmissync/internal/client"
	"github.com/openmined/cmissync/internal/client/config"
	"github.com/openmined/cmissync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "CMISSYNC"
	configFileName = "config"
)

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "cmissync",
	Short:   "Keep local folders synchronized with CMIS repositories",
	Version: version.Detailed(),
}

func init() {
	addGlobalFlags(rootCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "CmisSync config file")
	flags.StringP("datadir", "d", config.DefaultDataDir, "directory holding the sync databases")
	flags.DurationP("interval", "i", config.DefaultInterval, "time between two sync passes")
	flags.String("watcher", config.DefaultWatcher, "filesystem watcher backend (fsnotify, notify)")
	flags.Bool("demo", false, "sync against a built-in demo repository")
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges, lowest first: defaults, the config file, CMISSYNC_*
// environment variables and flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	if cmd.Flag("config").Changed {
		v.SetConfigFile(resolveConfigPath(cmd))
	} else if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".cmissync"))
		v.AddConfigPath(filepath.Join(home, ".config", "cmissync"))
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetDefault("log_file", config.DefaultLogFilePath)
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.BindPFlag("data_dir", cmd.Flag("datadir"))
	v.BindPFlag("interval", cmd.Flag("interval"))
	v.BindPFlag("watcher", cmd.Flag("watcher"))

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = resolveConfigPath(cmd)
	}
	return cfg, nil
}

// newClient builds the client of the folders in the config, or of the demo
// repository with --demo. The returned func releases what newClient started.
func newClient(cmd *cobra.Command) (*client.Client, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {}
	if demo, _ := cmd.Flags().GetBool("demo"); demo {
		env, err := startDemo(cmd.Context(), cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup = env.Close
		cfg = env.config
	}

	if err := cfg.Validate(); err != nil {
		cleanup()
		if errors.Is(err, config.ErrNoFolders) {
			return nil, nil, nil, fmt.Errorf("%w in %s, add one with `cmissync add` or try --demo", err, cfg.Path)
		}
		return nil, nil, nil, err
	}

	c, err := client.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return c, cfg, cleanup, nil
}
