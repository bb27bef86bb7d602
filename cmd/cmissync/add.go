package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/openmined/cmissync/internal/client/config"
	"github.com/openmined/cmissync/internal/cmis"
	"github.com/spf13/cobra"
)

const checkTimeout = 30 * time.Second

// swapped out in tests
var (
	stdinIsTerminal = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	promptPassword = RunPasswordTUI
)

func init() {
	rootCmd.AddCommand(newAddCmd())
}

func newAddCmd() *cobra.Command {
	var folder config.FolderConfig
	var noCheck bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a folder to synchronize to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := folder.Validate(); err != nil {
				return err
			}
			if _, exists := cfg.Folder(folder.Name); exists {
				return fmt.Errorf("%w: %q is already configured", config.ErrDuplicateFolder, folder.Name)
			}
			cfg.Folders = append(cfg.Folders, &folder)
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			checked := noCheck
			if shouldPromptPassword(cmd, &folder) {
				password, err := promptPassword(PasswordTUIOpts{
					Folder: folder.Name,
					URL:    folder.URL,
					User:   folder.User,
					SubmitHandler: func(password string) error {
						if noCheck {
							return nil
						}
						candidate := folder
						candidate.Password = password
						return checkFolder(cmd.Context(), &candidate)
					},
				})
				if err != nil {
					return err
				}
				folder.Password = password
				checked = true
			}

			if !checked {
				if err := checkFolder(cmd.Context(), &folder); err != nil {
					return err
				}
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Folder %s added\n", green.Render(folder.Name))
			fmt.Fprintf(out, "Config Path: %s\n", green.Render(cfg.Path))
			fmt.Fprintf(out, "Local:       %s\n", cyan.Render(folder.LocalPath))
			fmt.Fprintf(out, "Remote:      %s\n", cyan.Render(folder.URL+" "+folder.RemotePath))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&folder.Name, "name", "n", "", "folder name, defaults to the local directory name")
	cmd.Flags().StringVarP(&folder.LocalPath, "local", "l", "", "local directory")
	cmd.Flags().StringVarP(&folder.RemotePath, "remote", "r", "", "remote folder path")
	cmd.Flags().StringVarP(&folder.URL, "url", "u", "", "Browser Binding service URL")
	cmd.Flags().StringVar(&folder.RepositoryID, "repository", "", "repository id, defaults to the first repository")
	cmd.Flags().StringVar(&folder.User, "user", "", "user name")
	cmd.Flags().StringVar(&folder.Password, "password", "", "password, asked for on a terminal when not given")
	cmd.Flags().StringSliceVar(&folder.IgnoredPaths, "ignore", nil, "remote path globs to leave out")
	cmd.Flags().BoolVar(&noCheck, "no-check", false, "save without connecting to the repository")
	cmd.MarkFlagRequired("local")
	cmd.MarkFlagRequired("remote")
	cmd.MarkFlagRequired("url")

	return cmd
}

// shouldPromptPassword reports whether add asks for the password: it was not
// given by flag or environment and someone sits at the terminal
func shouldPromptPassword(cmd *cobra.Command, f *config.FolderConfig) bool {
	if f.Password != "" || cmd.Flags().Changed("password") {
		return false
	}
	if os.Getenv(envPrefix+"_PASSWORD") != "" {
		return false
	}
	return stdinIsTerminal()
}

// checkFolder connects with the folder's settings and makes sure its remote
// path is a folder
func checkFolder(ctx context.Context, f *config.FolderConfig) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	session, err := cmis.Connect(ctx, &cmis.SessionParams{
		URL:          f.URL,
		RepositoryID: f.RepositoryID,
		User:         f.User,
		Password:     f.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", f.URL, err)
	}
	defer session.Close()

	obj, err := session.GetObjectByPath(ctx, f.RemotePath)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", f.RemotePath, err)
	}
	if !obj.IsFolder() {
		return fmt.Errorf("%w: %s is not a folder", config.ErrInvalidFolder, f.RemotePath)
	}
	return nil
}
