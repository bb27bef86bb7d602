//go:build syncdebug

package sync

import "fmt"

const invariantsPanic = true

func invariantFailed(msg string, args ...any) {
	panic(fmt.Sprintf("invariant violated: %s %v", msg, args))
}
