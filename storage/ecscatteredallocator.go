package storage

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ECScatteredAllocator stripes each block across dataShards+parityShards
// directories using Reed-Solomon erasure coding, the redundancy mode the
// teacher's blob store layers on top of its own scattered placement
// (fs/blob_store_with_ec.go) for recovery when a drive is lost or a shard
// is corrupted. Each directory gets its own ScatteredAllocator so shards
// for the same block land at the same offset across all of them.
type ECScatteredAllocator struct {
	enc         reedsolomon.Encoder
	dataShards  int
	parityTotal int
	shardAllocs []*ScatteredAllocator
}

// NewECScatteredAllocator opens one ScatteredAllocator of extentSize bytes
// per entry in dirs (one directory per shard) and configures Reed-Solomon
// with dataShards data shards and len(dirs)-dataShards parity shards.
func NewECScatteredAllocator(dirs []string, dataShards int, extentSize uint64) (*ECScatteredAllocator, error) {
	parityShards := len(dirs) - dataShards
	if parityShards <= 0 {
		return nil, fmt.Errorf("storage: need more directories (%d) than data shards (%d)", len(dirs), dataShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("storage: reedsolomon.New: %w", err)
	}
	allocs := make([]*ScatteredAllocator, len(dirs))
	for i, dir := range dirs {
		a, err := NewScatteredAllocator(dir, extentSize)
		if err != nil {
			for _, opened := range allocs[:i] {
				opened.Close()
			}
			return nil, err
		}
		allocs[i] = a
	}
	return &ECScatteredAllocator{enc: enc, dataShards: dataShards, parityTotal: len(dirs), shardAllocs: allocs}, nil
}

// Put erasure-encodes data and writes one shard to each configured
// directory at a shared offset, returning that offset and the per-shard
// size so a later Get can reconstruct even if some shards are missing or
// corrupted.
func (e *ECScatteredAllocator) Put(data []byte) (offset uint64, shardSize uint64, err error) {
	shards, err := e.enc.Split(data)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: split: %w", err)
	}
	if err := e.enc.Encode(shards); err != nil {
		return 0, 0, fmt.Errorf("storage: encode: %w", err)
	}

	size := uint64(len(shards[0]))
	var off uint64
	for i, alloc := range e.shardAllocs {
		o, block, ok := alloc.Allocate(size)
		if !ok {
			return 0, 0, fmt.Errorf("storage: shard directory %d exhausted", i)
		}
		if i == 0 {
			off = o
		}
		copy(block, shards[i])
	}
	return off, size, nil
}

// Get reads every shard at offset/shardSize, reconstructing any that are
// missing (nil, which Go can't represent for a mmap'd region, so callers
// instead pass the set of known-bad shard indices), and returns the
// original totalSize bytes of data.
func (e *ECScatteredAllocator) Get(offset, shardSize uint64, totalSize int, badShards []int) ([]byte, error) {
	shards := make([][]byte, e.parityTotal)
	for i, alloc := range e.shardAllocs {
		shards[i] = alloc.Range()[offset : offset+shardSize]
	}
	for _, i := range badShards {
		if i >= 0 && i < len(shards) {
			shards[i] = nil
		}
	}

	ok, _ := e.enc.Verify(shards)
	if !ok {
		if err := e.enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("storage: reconstruct: %w", err)
		}
	}

	out := make([]byte, 0, totalSize)
	for _, s := range shards[:e.dataShards] {
		out = append(out, s...)
	}
	if len(out) > totalSize {
		out = out[:totalSize]
	}
	return out, nil
}

// Close releases every per-shard extent.
func (e *ECScatteredAllocator) Close() error {
	var firstErr error
	for _, a := range e.shardAllocs {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
