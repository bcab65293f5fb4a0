// Package invariant centralizes the "this should be impossible" assertions
// used throughout the allocator. It mirrors the teacher runtime's own
// throw(msg) calls in malloc.go/mcentral.go: a failed invariant is a
// programmer error in the allocator itself, not a recoverable runtime
// condition, so it panics rather than returning an error.
package invariant

import "fmt"

// Check panics with a formatted message if cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic("cupy: invariant violated: " + fmt.Sprintf(format, args...))
	}
}
