package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachLogFile(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "logs", "nested", "cmissync.log")

	logs, err := attachLogFile(path)
	require.NoError(t, err)

	slog.Debug("debug goes to the file", "folder", "docs")
	slog.Info("connect", "user", "alice", "password", "hunter2")
	require.NoError(t, logs.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(b)

	assert.Contains(t, content, "line=1 ")
	assert.Contains(t, content, `msg="debug goes to the file" folder=docs`)
	assert.Contains(t, content, "password=*****")
	assert.NotContains(t, content, "hunter2")
}

func TestLogLevel(t *testing.T) {
	t.Setenv("CMISSYNC_LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, logLevel())

	t.Setenv("CMISSYNC_LOG_LEVEL", "bogus")
	assert.Equal(t, slog.LevelInfo, logLevel())
}

func TestLogOutputCloseNil(t *testing.T) {
	var o *logOutput
	assert.NoError(t, o.Close())
}
