package main

import (
	"fmt"
	"time"

	"github.com/openmined/cmissync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var output string
	var watch time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the sync database of every folder holds",
		Long:  "Show what the sync database of every folder holds. Works while a daemon runs the folders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			show := func() error {
				statuses, err := c.Status()
				if err != nil {
					return err
				}
				return printStatuses(cmd.OutOrStdout(), output, statuses)
			}
			if err := show(); err != nil {
				return err
			}
			if watch <= 0 {
				return nil
			}

			timer := time.NewTimer(watch)
			defer timer.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-timer.C:
					fmt.Fprintln(cmd.OutOrStdout(), gray.Render(time.Now().Format(time.RFC3339)))
					if err := show(); err != nil {
						return err
					}
					timer.Reset(watch)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json, yaml)")
	cmd.Flags().DurationVarP(&watch, "watch", "w", 0, "print the status again every interval until interrupted")
	return cmd
}
