package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/cmissync/internal/client"
	"github.com/openmined/cmissync/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

const defaultHTTPAddr = "localhost:7938"

func newDaemonCmd() *cobra.Command {
	var addr string
	var authToken string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep every configured folder synchronized until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, cleanup, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			cmd.SilenceUsage = true

			logs, err := attachLogFile(cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer logs.Close()

			showHeader(cmd)
			slog.Info("cmissync", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			slog.Info("daemon using config", "path", cfg.Path, "datadir", cfg.DataDir, "interval", cfg.Interval, "watcher", cfg.WatcherBackend, "log", cfg.LogFile)
			for _, f := range cfg.Folders {
				slog.Info("folder", "config", f.String())
			}

			daemon, err := client.NewClientDaemon(c, &client.ControlPlaneConfig{
				Addr:      addr,
				AuthToken: authToken,
			})
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon start", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringVarP(&addr, "http-addr", "a", defaultHTTPAddr, "Address to bind the local http api, empty to disable it")
	daemonCmd.Flags().StringVarP(&authToken, "http-token", "t", "", "Access token for the local http api")

	return daemonCmd
}

func showHeader(cmd *cobra.Command) {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("14")).
		Border(lipgloss.RoundedBorder()).
		Padding(0, 2).
		Render(version.ShortWithApp())
	fmt.Fprintln(cmd.OutOrStdout(), header)
}
