package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/cmissync/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 20
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// logOutput is the rotating log file attached once the config is known
type logOutput struct {
	file        *lumberjack.Logger
	interceptor *utils.LogInterceptor
}

func (o *logOutput) Close() error {
	if o == nil {
		return nil
	}
	o.interceptor.Close()
	return o.file.Close()
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("CMISSYNC_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func stdoutHandler(w io.Writer, level slog.Level) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})
}

// setupLogging logs to stdout only. attachLogFile adds the file later.
func setupLogging() {
	slog.SetDefault(slog.New(stdoutHandler(os.Stdout, logLevel())))
}

// attachLogFile sends every record to stdout and to a rotating log file at path
func attachLogFile(path string) (*logOutput, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if strings.EqualFold(a.Key, "password") {
				return slog.String(a.Key, utils.MaskSecret(a.Value.String()))
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler(os.Stdout, logLevel()), fileHandler)))
	return &logOutput{file: file, interceptor: interceptor}, nil
}
