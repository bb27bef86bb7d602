// Package utils provides small helpers shared by the sync agent and its CLI.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxBufferSize is the maximum size of a partial line held before it is flushed
	maxBufferSize = 1024 * 1024 // 1MB
)

// LogInterceptor implements io.Writer and prefixes every complete line written
// through it with a sequence number and an RFC3339 timestamp. Partial lines are
// held until their newline arrives or Close is called.
type LogInterceptor struct {
	target         io.Writer
	sequenceNumber *atomic.Uint64
	mu             sync.Mutex
	pending        bytes.Buffer
}

// NewLogInterceptor creates a LogInterceptor writing to target
func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target:         target,
		sequenceNumber: &atomic.Uint64{},
	}
}

func (i *LogInterceptor) writeFormattedLine(line []byte) error {
	lineNum := i.sequenceNumber.Add(1)

	prefix := slog.Uint64("line", lineNum).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}

	if _, err := i.target.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		_, err := i.target.Write([]byte{'\n'})
		return err
	}
	return nil
}

// Write implements io.Writer. It reports len(p) on success so callers such as
// slog handlers do not treat the added prefix as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.writeFormattedLine(line); err != nil {
			return 0, err
		}
	}

	if i.pending.Len() > maxBufferSize {
		if err := i.writeFormattedLine(i.pending.Bytes()); err != nil {
			return 0, err
		}
		i.pending.Reset()
	}

	return len(p), nil
}

// Close flushes any partial line still buffered
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	err := i.writeFormattedLine(i.pending.Bytes())
	i.pending.Reset()
	return err
}
