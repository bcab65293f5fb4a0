// Package dtype is the minimal slice of host-side typed-array machinery
// the sort dispatch layer needs: a handful of element kinds and their byte
// width. It is deliberately not a general ndarray/dtype system — that is
// out of scope for the allocator and its one peripheral client.
package dtype

// Kind identifies the element type of a buffer to be sorted.
type Kind int

const (
	Int32 Kind = iota
	Int64
	Float32
	Float64
)

// Size returns the width in bytes of one element of k.
func (k Kind) Size() int {
	switch k {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		panic("dtype: unknown kind")
	}
}

func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}
