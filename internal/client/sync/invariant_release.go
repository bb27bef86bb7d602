//go:build !syncdebug

package sync

import "log/slog"

const invariantsPanic = false

// invariantFailed logs a broken internal invariant. Build with -tags syncdebug
// to panic instead.
func invariantFailed(msg string, args ...any) {
	slog.Error(msg, append([]any{"kind", "invariant"}, args...)...)
}
