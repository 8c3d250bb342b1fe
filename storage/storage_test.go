package storage

import (
	"bytes"
	"testing"
)

func TestFileDescriptor_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	fd, err := OpenFileDescriptor(dir, "extent", 4096)
	if err != nil {
		t.Fatalf("OpenFileDescriptor failed: %v", err)
	}
	defer fd.Close()

	if fd.TotalSize() != 4096 {
		t.Errorf("TotalSize() = %d, expected 4096", fd.TotalSize())
	}

	copy(fd.Bytes(), []byte("hello"))
	if !bytes.Equal(fd.Bytes()[:5], []byte("hello")) {
		t.Errorf("write through Bytes() did not round-trip")
	}
}

func TestRingAllocator_AllocateDoesNotOverlap(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRingAllocator(dir, 64, 1000)
	if err != nil {
		t.Fatalf("NewRingAllocator failed: %v", err)
	}
	defer r.Close()

	off1, b1 := r.Allocate(64)
	off2, b2 := r.Allocate(64)
	if off2 != off1+64 {
		t.Errorf("second allocation offset = %d, expected %d", off2, off1+64)
	}
	copy(b1, bytes.Repeat([]byte{0xAA}, len(b1)))
	copy(b2, bytes.Repeat([]byte{0xBB}, len(b2)))
	if b1[0] != 0xAA || b2[0] != 0xBB {
		t.Errorf("allocations overlap")
	}
}

func TestRingAllocator_Wraps(t *testing.T) {
	dir := t.TempDir()
	// Force a tiny extent (below the 1 GiB floor would still apply, so
	// exercise wrap logic directly against a small custom allocator).
	fd, err := OpenFileDescriptor(dir, AllocateFileName(), 256)
	if err != nil {
		t.Fatalf("OpenFileDescriptor failed: %v", err)
	}
	r := &RingAllocator{fd: fd}
	defer r.Close()

	off1, _ := r.Allocate(192)
	off2, _ := r.Allocate(192) // 192+192 > 256, must wrap
	if off1 != 0 {
		t.Errorf("first allocation offset = %d, expected 0", off1)
	}
	if off2 != 0 {
		t.Errorf("second allocation offset = %d, expected wrap to 0", off2)
	}
}

func TestScatteredAllocator_ExhaustionIsReported(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScatteredAllocator(dir, 128)
	if err != nil {
		t.Fatalf("NewScatteredAllocator failed: %v", err)
	}
	defer s.Close()

	if _, _, ok := s.Allocate(64); !ok {
		t.Fatalf("expected first Allocate to succeed")
	}
	if _, _, ok := s.Allocate(64); !ok {
		t.Fatalf("expected second Allocate to succeed")
	}
	if _, _, ok := s.Allocate(64); ok {
		t.Errorf("expected extent to be exhausted")
	}
}

func TestECScatteredAllocator_ReconstructsMissingShard(t *testing.T) {
	dirs := []string{t.TempDir(), t.TempDir(), t.TempDir()}
	ec, err := NewECScatteredAllocator(dirs, 2, 4096)
	if err != nil {
		t.Fatalf("NewECScatteredAllocator failed: %v", err)
	}
	defer ec.Close()

	data := bytes.Repeat([]byte{0x42}, 1000)
	offset, shardSize, err := ec.Put(data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ec.Get(offset, shardSize, len(data), []int{1})
	if err != nil {
		t.Fatalf("Get with one missing shard failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("reconstructed data did not match original")
	}
}
