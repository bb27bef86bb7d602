package main

import (
	"fmt"

	clientsync "github.com/openmined/cmissync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass for every folder and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

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

			summaries, syncErr := c.SyncOnce(cmd.Context())
			if err := printSummaries(cmd.OutOrStdout(), output, summaries); err != nil {
				return err
			}
			if syncErr != nil {
				return syncErr
			}

			failed := 0
			for _, s := range summaries {
				failed += s.Count(clientsync.OutcomeFailed)
			}
			if failed > 0 {
				return fmt.Errorf("%d paths could not be synchronized, they are retried on the next pass", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json, yaml)")
	return cmd
}
