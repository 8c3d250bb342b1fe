// Package storage implements the mmap-backed file extents the ring and
// scattered allocators carve records, log chunks and version slots out of.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// fileIndexCounter hands out unique suffixes for allocator-owned files
// within a process, mirroring allocate_file_index/allocate_file_name.
var fileIndexCounter atomic.Uint32

// AllocateFileName returns a unique "Data_<n>" filename for a new extent.
func AllocateFileName() string {
	n := fileIndexCounter.Add(1) - 1
	return fmt.Sprintf("Data_%d", n)
}

// FileDescriptor is a directory-backed, mmap'd, shared-memory extent: the
// allocators' sole unit of backing storage. Created at a fixed size and
// never resized; the ring allocator wraps within it, the scattered
// allocator places blocks one after another until it runs out of room.
type FileDescriptor struct {
	file      *os.File
	data      []byte
	path      string
	totalSize uint64
}

// OpenFileDescriptor creates (or reopens) dirName/name, truncates it to
// allocSize and maps it MAP_SHARED so every mapping in the process sees the
// same bytes.
func OpenFileDescriptor(dirName, name string, allocSize uint64) (*FileDescriptor, error) {
	if err := os.MkdirAll(dirName, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir %q: %w", dirName, err)
	}
	path := filepath.Join(dirName, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}
	if err := f.Truncate(int64(allocSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncate %q: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(allocSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %q: %w", path, err)
	}

	return &FileDescriptor{file: f, data: data, path: path, totalSize: allocSize}, nil
}

// Path returns the backing file's path.
func (fd *FileDescriptor) Path() string { return fd.path }

// TotalSize returns the mapped extent's size in bytes.
func (fd *FileDescriptor) TotalSize() uint64 { return fd.totalSize }

// Bytes returns the mapped extent. The returned slice aliases the mapping;
// writes through it are visible to every other mapping of the same file
// and become durable only after the caller flushes them (see package pmem).
func (fd *FileDescriptor) Bytes() []byte { return fd.data }

// Close unmaps and closes the backing file. The file itself is left in
// place, matching the original's decision to leave removal commented out:
// extents are reused across process restarts rather than recreated.
func (fd *FileDescriptor) Close() error {
	var errs []error
	if fd.data != nil {
		if err := unix.Munmap(fd.data); err != nil {
			errs = append(errs, err)
		}
		fd.data = nil
	}
	if fd.file != nil {
		if err := fd.file.Close(); err != nil {
			errs = append(errs, err)
		}
		fd.file = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("storage: close: %v", errs)
	}
	return nil
}
