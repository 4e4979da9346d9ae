// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitOrder(t *testing.T) {
	var l List[int]
	var have []int
	for i := range 3 {
		l.Connect(func(x int) { have = append(have, x*10+i) })
	}
	l.Emit(1)
	require.Equal(t, []int{10, 11, 12}, have)
	require.Equal(t, 3, l.Len())
}

func TestDisconnect(t *testing.T) {
	var l List[string]
	var have []string
	a := l.Connect(func(s string) { have = append(have, "a"+s) })
	b := l.Connect(func(s string) { have = append(have, "b"+s) })
	require.True(t, l.Disconnect(a))
	require.False(t, l.Disconnect(a))
	require.False(t, l.Disconnect(Conn{}))
	l.Emit("!")
	require.Equal(t, []string{"b!"}, have)
	require.Equal(t, 1, l.Len())

	// Slots are not reused, so b remains valid.
	l.Connect(func(string) {})
	require.True(t, l.Disconnect(b))
}

func TestConnectDuringEmit(t *testing.T) {
	var l List[int]
	var calls int
	l.Connect(func(int) {
		calls++
		if calls == 1 {
			l.Connect(func(int) { calls += 100 })
		}
	})
	l.Emit(0)
	require.Equal(t, 101, calls)
	l.Emit(0)
	require.Equal(t, 202, calls)
}

func TestDisconnectDuringEmit(t *testing.T) {
	var l List[int]
	var second Conn
	var called bool
	l.Connect(func(int) { l.Disconnect(second) })
	second = l.Connect(func(int) { called = true })
	l.Emit(0)
	require.False(t, called)
	require.Equal(t, 1, l.Len())
}

func TestReset(t *testing.T) {
	var l List[int]
	c := l.Connect(func(int) { t.Fatal("callback called after Reset") })
	l.Reset()
	l.Emit(0)
	require.Equal(t, 0, l.Len())
	require.False(t, l.Disconnect(c))
}
