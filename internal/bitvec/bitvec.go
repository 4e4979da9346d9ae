// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type used for
// visit sets, subresource masks and slot allocation.
package bitvec

import (
	"iter"
	"math/bits"
	"unsafe"
)

// Uint represents the granularity of a bit vector.
type Uint interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// V is a growable bit vector with custom granularity.
// The zero value is an empty vector.
type V[T Uint] struct {
	s   []T
	rem int
}

// New returns a vector that can hold at least n bits,
// all of them unset.
func New[T Uint](n int) *V[T] {
	v := new(V[T])
	if n > 0 {
		nb := v.nbit()
		v.Grow((n + nb - 1) / nb)
	}
	return v
}

func (*V[T]) nbit() int { return int(unsafe.Sizeof(T(0))) * 8 }

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns the number of unset bits in the vector.
func (v *V[_]) Rem() int { return v.rem }

// Count returns the number of set bits in the vector.
func (v *V[_]) Count() int { return v.Len() - v.rem }

// Grow appends nplus Uints of unset bits to the vector.
// It returns the value of v.Len prior to the call.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.rem += nplus * v.nbit()
		v.s = append(v.s, make([]T, nplus)...)
	}
	return
}

// Set sets a given bit.
func (v *V[T]) Set(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// Unset unsets a given bit.
func (v *V[T]) Unset(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
// Indices past v.Len() are reported as unset.
func (v *V[T]) IsSet(index int) bool {
	n := v.nbit()
	i := index / n
	if index < 0 || i >= len(v.s) {
		return false
	}
	b := T(1) << (index & (n - 1))
	return v.s[i]&b != 0
}

// Search locates the first unset bit in the vector.
// It fails only when v.Rem() == 0.
func (v *V[T]) Search() (index int, ok bool) {
	if v.rem == 0 {
		return
	}
	for i, x := range v.s {
		if x == ^T(0) {
			continue
		}
		return i*v.nbit() + bits.TrailingZeros64(uint64(^x)), true
	}
	return
}

// Clear unsets every bit in the vector.
func (v *V[T]) Clear() {
	if v.rem == v.Len() {
		return
	}
	clear(v.s)
	v.rem = v.Len()
}

// Or sets every bit of v that is set in w.
// w must not be longer than v.
func (v *V[T]) Or(w *V[T]) {
	for i, x := range w.s {
		if x&^v.s[i] == 0 {
			continue
		}
		v.rem -= bits.OnesCount64(uint64(x &^ v.s[i]))
		v.s[i] |= x
	}
}

// Intersects returns whether v and w have a set bit
// in common.
func (v *V[T]) Intersects(w *V[T]) bool {
	n := min(len(v.s), len(w.s))
	for i := range n {
		if v.s[i]&w.s[i] != 0 {
			return true
		}
	}
	return false
}

// Clone returns a copy of v.
func (v *V[T]) Clone() *V[T] {
	return &V[T]{s: append([]T(nil), v.s...), rem: v.rem}
}

// Ones returns an iterator over the indices of set bits,
// in increasing order.
func (v *V[T]) Ones() iter.Seq[int] {
	return func(yield func(int) bool) {
		n := v.nbit()
		for i, x := range v.s {
			for x != 0 {
				b := bits.TrailingZeros64(uint64(x))
				if !yield(i*n + b) {
					return
				}
				x &^= T(1) << b
			}
		}
	}
}

// All returns an iterator over all bits of the vector.
// The first value in the pair represents the index of the
// bit, while the second indicates whether the bit is set.
func (v *V[T]) All() iter.Seq2[int, bool] {
	return func(yield func(int, bool) bool) {
		n := v.nbit()
		for i, x := range v.s {
			for b := range n {
				if !yield(i*n+b, x&(1<<b) != 0) {
					return
				}
			}
		}
	}
}
