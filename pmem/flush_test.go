package pmem

import (
	"testing"
	"unsafe"

	"github.com/sharedcode/ccbench"
)

func TestAlignToCacheLine(t *testing.T) {
	cases := []struct {
		size uintptr
		want uintptr
	}{
		{0, 0},
		{1, CacheLineSize},
		{CacheLineSize, CacheLineSize},
		{CacheLineSize + 1, 2 * CacheLineSize},
	}
	for _, c := range cases {
		if got := AlignToCacheLine(c.size); got != c.want {
			t.Errorf("AlignToCacheLine(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestPwbRange_CoversWholeBuffer(t *testing.T) {
	buf := make([]byte, 200)
	// Must not panic regardless of strategy, and must stride the full range
	// without reading out of bounds.
	for _, strategy := range []ccbench.FlushStrategy{ccbench.CLWB, ccbench.CLFLUSH, ccbench.CLFLUSHOPT} {
		PwbRange(unsafe.Pointer(&buf[0]), uintptr(len(buf)), strategy)
	}
	Fence()
}

func TestPwb_NilIsNoop(t *testing.T) {
	Pwb(nil, ccbench.CLWB)
	PwbRange(nil, 0, ccbench.CLWB)
}
