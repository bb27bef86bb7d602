package utils

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiLogHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	debugHandler := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiLogHandler(debugHandler, nil, infoHandler)).With("folder", "docs")
	logger.Debug("quiet")
	logger.Info("loud")

	assert.Contains(t, debugBuf.String(), "msg=quiet")
	assert.Contains(t, debugBuf.String(), "msg=loud")
	assert.NotContains(t, infoBuf.String(), "msg=quiet")
	assert.Contains(t, infoBuf.String(), "folder=docs")
}
