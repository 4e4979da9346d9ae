// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package signal implements lists of callbacks whose
// connections are identified by stable slot indices.
package signal

// Conn identifies a connected callback.
// The zero value is not a valid connection.
type Conn struct {
	slot int
	gen  uint64
}

// Valid returns whether c was obtained from Connect.
func (c Conn) Valid() bool { return c.gen != 0 }

// List is a list of callbacks taking an argument of
// type T. The zero value is an empty list.
//
// Connect may be called from within a callback that is
// being emitted; the new callback is called in the same
// emission. Disconnect may also be called from within a
// callback, in which case the disconnected callback is
// not called if it has not been reached yet.
type List[T any] struct {
	fns  []func(T)
	gens []uint64
	gen  uint64
	n    int
}

// Connect appends f to the list.
func (l *List[T]) Connect(f func(T)) Conn {
	if f == nil {
		panic("signal: nil callback")
	}
	l.gen++
	l.fns = append(l.fns, f)
	l.gens = append(l.gens, l.gen)
	l.n++
	return Conn{slot: len(l.fns) - 1, gen: l.gen}
}

// Disconnect removes the callback identified by c.
// It returns false if c is not connected to l.
func (l *List[T]) Disconnect(c Conn) bool {
	if !c.Valid() || c.slot >= len(l.fns) || l.gens[c.slot] != c.gen || l.fns[c.slot] == nil {
		return false
	}
	l.fns[c.slot] = nil
	l.n--
	return true
}

// Len returns the number of connected callbacks.
func (l *List[T]) Len() int { return l.n }

// Emit calls every connected callback in connection order.
func (l *List[T]) Emit(x T) {
	// len(l.fns) is re-read on every iteration.
	for i := 0; i < len(l.fns); i++ {
		if f := l.fns[i]; f != nil {
			f(x)
		}
	}
}

// Reset disconnects every callback.
func (l *List[T]) Reset() {
	clear(l.fns)
	l.fns = l.fns[:0]
	l.gens = l.gens[:0]
	l.n = 0
}
