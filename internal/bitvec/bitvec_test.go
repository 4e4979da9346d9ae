// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package bitvec

import (
	"slices"
	"testing"
	"unsafe"
)

func TestNbit(t *testing.T) {
	for _, x := range [...][2]int{
		{int(unsafe.Sizeof(uint(0))) * 8, (&V[uint]{}).nbit()},
		{int(unsafe.Sizeof(uint8(0))) * 8, (&V[uint8]{}).nbit()},
		{int(unsafe.Sizeof(uint16(0))) * 8, (&V[uint16]{}).nbit()},
		{int(unsafe.Sizeof(uint32(0))) * 8, (&V[uint32]{}).nbit()},
		{int(unsafe.Sizeof(uint64(0))) * 8, (&V[uint64]{}).nbit()},
	} {
		if x[0] != x[1] {
			t.Fatalf("V[T].nbit:\nhave %d\nwant %d", x[0], x[1])
		}
	}
}

func TestNew(t *testing.T) {
	for _, x := range [...]struct {
		n, wantLen int
	}{
		{0, 0},
		{1, 8},
		{8, 8},
		{9, 16},
		{100, 104},
	} {
		v := New[uint8](x.n)
		if n := v.Len(); n != x.wantLen {
			t.Fatalf("New(%d).Len:\nhave %d\nwant %d", x.n, n, x.wantLen)
		}
		if n := v.Rem(); n != x.wantLen {
			t.Fatalf("New(%d).Rem:\nhave %d\nwant %d", x.n, n, x.wantLen)
		}
	}
}

func TestSetUnset(t *testing.T) {
	v := New[uint16](40)
	for _, i := range [...]int{0, 3, 15, 16, 47} {
		v.Set(i)
		v.Set(i)
		if !v.IsSet(i) {
			t.Fatalf("v.IsSet(%d):\nhave false\nwant true", i)
		}
	}
	if n := v.Count(); n != 5 {
		t.Fatalf("v.Count:\nhave %d\nwant 5", n)
	}
	v.Unset(15)
	v.Unset(15)
	if v.IsSet(15) {
		t.Fatal("v.IsSet(15):\nhave true\nwant false")
	}
	if n := v.Rem(); n != 48-4 {
		t.Fatalf("v.Rem:\nhave %d\nwant %d", n, 48-4)
	}
	if v.IsSet(1000) || v.IsSet(-1) {
		t.Fatal("v.IsSet: out of bounds index reported as set")
	}
}

func TestSearch(t *testing.T) {
	v := New[uint8](16)
	for i := range 16 {
		idx, ok := v.Search()
		if !ok || idx != i {
			t.Fatalf("v.Search:\nhave %d, %t\nwant %d, true", idx, ok, i)
		}
		v.Set(idx)
	}
	if _, ok := v.Search(); ok {
		t.Fatal("v.Search:\nhave true\nwant false")
	}
	v.Unset(11)
	if idx, ok := v.Search(); !ok || idx != 11 {
		t.Fatalf("v.Search:\nhave %d, %t\nwant 11, true", idx, ok)
	}
	v.Clear()
	if n := v.Count(); n != 0 {
		t.Fatalf("v.Count after Clear:\nhave %d\nwant 0", n)
	}
}

func TestOrIntersects(t *testing.T) {
	v := New[uint32](64)
	w := New[uint32](32)
	v.Set(1)
	v.Set(40)
	w.Set(2)
	if v.Intersects(w) {
		t.Fatal("v.Intersects:\nhave true\nwant false")
	}
	w.Set(1)
	if !v.Intersects(w) {
		t.Fatal("v.Intersects:\nhave false\nwant true")
	}
	v.Or(w)
	if n := v.Count(); n != 3 {
		t.Fatalf("v.Count after Or:\nhave %d\nwant 3", n)
	}
	c := v.Clone()
	c.Unset(40)
	if !v.IsSet(40) {
		t.Fatal("v.Clone: clone shares storage")
	}
}

func TestOnes(t *testing.T) {
	v := New[uint8](24)
	want := []int{0, 7, 8, 13, 23}
	for _, i := range want {
		v.Set(i)
	}
	if have := slices.Collect(v.Ones()); !slices.Equal(have, want) {
		t.Fatalf("v.Ones:\nhave %v\nwant %v", have, want)
	}
	var n int
	for i, set := range v.All() {
		if set != slices.Contains(want, i) {
			t.Fatalf("v.All: bit %d:\nhave %t\nwant %t", i, set, !set)
		}
		n++
	}
	if n != 24 {
		t.Fatalf("v.All: count:\nhave %d\nwant 24", n)
	}
}
