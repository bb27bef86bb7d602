package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/cmissync/internal/client/handlers"
	"github.com/spf13/cobra"
)

const triggerTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(newTriggerCmd())
}

func newTriggerCmd() *cobra.Command {
	var addr string
	var authToken string
	var folder string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running daemon to sync now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authToken == "" {
				authToken = os.Getenv(envPrefix + "_HTTP_TOKEN")
			}
			baseURL := addr
			if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
				baseURL = "http://" + baseURL
			}
			cmd.SilenceUsage = true

			api := req.C().
				SetBaseURL(baseURL).
				SetTimeout(triggerTimeout)
			if authToken != "" {
				api.SetCommonBearerAuthToken(authToken)
			}

			var result handlers.SyncTriggerResponse
			var apiErr handlers.ControlPlaneError
			resp, err := api.R().
				SetContext(cmd.Context()).
				SetQueryParam("folder", folder).
				SetSuccessResult(&result).
				SetErrorResult(&apiErr).
				Post("/v1/sync/now")
			if err != nil {
				return fmt.Errorf("failed to reach daemon at %s: %w", baseURL, err)
			}
			if resp.IsErrorState() {
				if apiErr.Error != "" {
					return fmt.Errorf("daemon refused: %s", apiErr.Error)
				}
				return fmt.Errorf("daemon refused: %s", resp.Status)
			}

			for _, name := range result.Folders {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("✓"), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "http-addr", "a", defaultHTTPAddr, "Address of the daemon's local http api")
	cmd.Flags().StringVarP(&authToken, "http-token", "t", "", "Access token of the daemon's local http api")
	cmd.Flags().StringVarP(&folder, "folder", "f", "", "only sync this folder")
	return cmd
}
