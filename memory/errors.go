package memory

import "github.com/pkg/errors"

// ErrInvalidFree is returned (wrapped) when Free is called with an address
// that is not currently owned by the pool's in-use map. It is the Go
// rendering of the distilled spec's InvalidFreeAddress error: a programmer
// error, not a transient runtime condition.
var ErrInvalidFree = errors.New("cannot free out-of-pool memory")

// ErrInvalidArgument names the class of data-model violations (zero-size
// pointer with nonzero offset, misaligned split size, ...). No function in
// this package returns it: its own constructors report such violations by
// panicking through invariant.Check.
var ErrInvalidArgument = errors.New("invalid argument")
