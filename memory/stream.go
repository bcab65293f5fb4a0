package memory

import (
	"context"

	"github.com/sonots/cupy/internal/driver"
)

// streamTag is the weak identity the pool uses to key arenas and tag
// chunks: the pointer identity of a *driver.Stream, with 0 reserved for the
// device's default/null stream. Using the pointer value (rather than e.g. a
// user-chosen name) means two streams can never alias to the same tag by
// coincidence, matching the distilled spec's design note on stream
// identity.
type streamTag = uint64

func tagOf(s *driver.Stream) streamTag { return streamTag(s.Pointer()) }

// currentStreamTag resolves the stream active in ctx (via
// driver.CurrentStream) to its tag.
func currentStreamTag(ctx context.Context) streamTag {
	return tagOf(driver.CurrentStream(ctx))
}
