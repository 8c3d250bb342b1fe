package logstore

import (
	"bytes"
	"testing"

	"github.com/sharedcode/ccbench"
)

func TestLogTuple_EncodeDecodeRoundTrip(t *testing.T) {
	cases := []LogTuple{
		{Label: LabelCommit, Ts: 42},
		{Label: LabelDelete, Ts: 7, Key: ccbench.NewAbKey(1, 99)},
		{Label: LabelInsert, Ts: 3, Key: ccbench.NewAbKey(2, 5), Size: 4, Offset: 0, ExtraInfo: []byte("data")},
		{Label: LabelUpdate, Ts: 9, Key: ccbench.NewAbKey(2, 5), Size: 3, Offset: 4, ExtraInfo: []byte("abc")},
	}
	for _, c := range cases {
		buf := c.Encode(nil)
		if len(buf) != c.EncodedSize() {
			t.Errorf("%s: Encode produced %d bytes, EncodedSize() = %d", c.Label, len(buf), c.EncodedSize())
		}
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("%s: Decode failed: %v", c.Label, err)
		}
		if n != len(buf) {
			t.Errorf("%s: Decode consumed %d bytes, expected %d", c.Label, n, len(buf))
		}
		if got.Label != c.Label || got.Ts != c.Ts || got.Key != c.Key || got.Size != c.Size || got.Offset != c.Offset {
			t.Errorf("%s: round trip mismatch: got %+v, want %+v", c.Label, got, c)
		}
		if !bytes.Equal(got.ExtraInfo, c.ExtraInfo) {
			t.Errorf("%s: ExtraInfo mismatch: got %q, want %q", c.Label, got.ExtraInfo, c.ExtraInfo)
		}
	}
}

func TestLogSpace_AppendAdvancesCursorMonotonically(t *testing.T) {
	buf := make([]byte, 1024)
	space := NewLogSpace(0, uint64(len(buf)))

	tup := LogTuple{Label: LabelCommit, Ts: 1}
	off1, err := space.Append(buf, tup)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	off2, err := space.Append(buf, tup)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if off2 <= off1 {
		t.Errorf("cursor did not advance monotonically: off1=%d off2=%d", off1, off2)
	}
	if space.Cursor() != off2+uint64(tup.EncodedSize()) {
		t.Errorf("Cursor() = %d, expected %d", space.Cursor(), off2+uint64(tup.EncodedSize()))
	}
}

func TestLogSpace_AppendFailsWhenFull(t *testing.T) {
	buf := make([]byte, 20)
	space := NewLogSpace(0, uint64(len(buf)))
	tup := LogTuple{Label: LabelCommit, Ts: 1}

	if _, err := space.Append(buf, tup); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if _, err := space.Append(buf, tup); err == nil {
		t.Errorf("expected second Append to fail once space is exhausted")
	}
}

func TestLogChunkChain_WalkOrdersOldestFirst(t *testing.T) {
	var chain LogChunkChain
	for i := uintptr(1); i <= 3; i++ {
		chain.Append(i)
	}

	var seen []uintptr
	chain.Walk(func(ref uintptr) { seen = append(seen, ref) })

	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("Walk order = %v, expected [1 2 3]", seen)
	}

	chain.Clear()
	var afterClear []uintptr
	chain.Walk(func(ref uintptr) { afterClear = append(afterClear, ref) })
	if len(afterClear) != 0 {
		t.Errorf("expected empty chain after Clear, got %v", afterClear)
	}
}

func TestLogChunkChain_RotatesOnFullChunk(t *testing.T) {
	var chain LogChunkChain
	for i := uintptr(0); i < chunkCapacity+5; i++ {
		chain.Append(i)
	}
	count := 0
	chain.Walk(func(ref uintptr) { count++ })
	if count != chunkCapacity+5 {
		t.Errorf("Walk visited %d entries, expected %d", count, chunkCapacity+5)
	}
}

func TestManager_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 4)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	tup := LogTuple{Label: LabelInsert, Ts: 11, Key: ccbench.NewAbKey(1, 2), Size: 3, ExtraInfo: []byte("xyz")}
	offset, err := mgr.Append(0, tup)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, _, err := mgr.ReadAt(offset)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if got.Label != tup.Label || got.Ts != tup.Ts || got.Key != tup.Key {
		t.Errorf("ReadAt mismatch: got %+v, want %+v", got, tup)
	}
}
