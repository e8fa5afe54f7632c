package value

import (
	"strconv"
)

// Uint is the provided machine-word datum. Its expression type is ColRef.
type Uint uint

func (u Uint) String() string { return strconv.FormatUint(uint64(u), 10) }

// Uint32 is the provided 32-bit datum. Its expression type is ColRef.
type Uint32 uint32

func (u Uint32) String() string { return strconv.FormatUint(uint64(u), 10) }

// UintTuple converts machine words into a Uint tuple.
func UintTuple(xs ...uint) []Uint {
	t := make([]Uint, len(xs))
	for i, x := range xs {
		t[i] = Uint(x)
	}
	return t
}

// Uint32Tuple converts 32-bit words into a Uint32 tuple.
func Uint32Tuple(xs ...uint32) []Uint32 {
	t := make([]Uint32, len(xs))
	for i, x := range xs {
		t[i] = Uint32(x)
	}
	return t
}
