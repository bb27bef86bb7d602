package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openmined/cmissync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestConfigPathCommand_PrintsResolvedPath(t *testing.T) {
	cmd := &cobra.Command{Use: "cmissync"}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to config file")
	cmd.AddCommand(newConfigPathCmd())

	t.Setenv("CMISSYNC_CONFIG_PATH", "/tmp/env/config.json")

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config-path"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, "/tmp/env/config.json", strings.TrimSpace(out.String()))
}
