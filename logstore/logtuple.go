// Package logstore implements the write-ahead log all four CC protocols
// append their writes to: LogTuple encoding, the
// per-thread LogSpace ring slice writers append into, and the LogChunk
// chain Romulus uses to track which headers still need restoring after a
// crash mid-commit.
package logstore

import (
	"encoding/binary"
	"fmt"

	"github.com/sharedcode/ccbench"
)

// Label identifies which kind of LogTuple a record is.
type Label uint8

const (
	// LabelInsert records a new record's key, size and body offset.
	LabelInsert Label = iota
	// LabelUpdate records an existing record's key, size and body offset.
	LabelUpdate
	// LabelDelete records a key being removed.
	LabelDelete
	// LabelCommit marks the transaction boundary; a transaction is durable
	// iff its Commit tuple has been flushed.
	LabelCommit
)

func (l Label) String() string {
	switch l {
	case LabelInsert:
		return "Insert"
	case LabelUpdate:
		return "Update"
	case LabelDelete:
		return "Delete"
	case LabelCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// header is the fixed-size prefix every encoded LogTuple starts with:
// label (1 byte, padded to 4) followed by the transaction timestamp.
const headerSize = 4 + 8

// LogTuple is a tagged record appended to a thread's LogSpace. Only the
// fields relevant to Label are meaningful: Insert/Update carry Key, Size
// and ExtraInfo; Delete carries only Key; Commit carries neither.
type LogTuple struct {
	Label     Label
	Ts        uint64
	Key       ccbench.AbKey
	Size      uint32
	Offset    uint32
	ExtraInfo []byte
}

// abKeySize is the encoded width of an AbKey: TypeTag (4 bytes) + LogicKey
// (8 bytes).
const abKeySize = 4 + 8

// EncodedSize returns the number of bytes Encode will write for t.
func (t LogTuple) EncodedSize() int {
	switch t.Label {
	case LabelCommit:
		return headerSize
	case LabelDelete:
		return headerSize + abKeySize
	case LabelInsert, LabelUpdate:
		return headerSize + abKeySize + 4 + 4 + len(t.ExtraInfo)
	default:
		return headerSize
	}
}

// Encode appends t's wire form to dst and returns the extended slice.
func (t LogTuple) Encode(dst []byte) []byte {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(t.Label))
	binary.LittleEndian.PutUint64(hdr[4:12], t.Ts)
	dst = append(dst, hdr[:]...)

	if t.Label == LabelCommit {
		return dst
	}

	var key [abKeySize]byte
	binary.LittleEndian.PutUint32(key[0:4], t.Key.TypeTag)
	binary.LittleEndian.PutUint64(key[4:12], t.Key.LogicKey)
	dst = append(dst, key[:]...)

	if t.Label == LabelDelete {
		return dst
	}

	var sizeOff [8]byte
	binary.LittleEndian.PutUint32(sizeOff[0:4], t.Size)
	binary.LittleEndian.PutUint32(sizeOff[4:8], t.Offset)
	dst = append(dst, sizeOff[:]...)
	dst = append(dst, t.ExtraInfo...)
	return dst
}

// Decode parses one LogTuple from the front of src, returning it and the
// number of bytes consumed.
func Decode(src []byte) (LogTuple, int, error) {
	if len(src) < headerSize {
		return LogTuple{}, 0, fmt.Errorf("logstore: short buffer for header (%d bytes)", len(src))
	}
	label := Label(binary.LittleEndian.Uint32(src[0:4]))
	ts := binary.LittleEndian.Uint64(src[4:12])
	n := headerSize

	t := LogTuple{Label: label, Ts: ts}
	switch label {
	case LabelCommit:
		return t, n, nil
	case LabelDelete:
		if len(src) < n+abKeySize {
			return LogTuple{}, 0, fmt.Errorf("logstore: short buffer for delete key")
		}
		t.Key = ccbench.NewAbKey(binary.LittleEndian.Uint32(src[n:n+4]), binary.LittleEndian.Uint64(src[n+4:n+12]))
		n += abKeySize
		return t, n, nil
	case LabelInsert, LabelUpdate:
		if len(src) < n+abKeySize+8 {
			return LogTuple{}, 0, fmt.Errorf("logstore: short buffer for insert/update fixed part")
		}
		t.Key = ccbench.NewAbKey(binary.LittleEndian.Uint32(src[n:n+4]), binary.LittleEndian.Uint64(src[n+4:n+12]))
		n += abKeySize
		t.Size = binary.LittleEndian.Uint32(src[n : n+4])
		t.Offset = binary.LittleEndian.Uint32(src[n+4 : n+8])
		n += 8
		extraLen := int(t.Size)
		if extraLen > 0 {
			if len(src) < n+extraLen {
				return LogTuple{}, 0, fmt.Errorf("logstore: short buffer for extra_info (%d bytes)", extraLen)
			}
			t.ExtraInfo = append([]byte(nil), src[n:n+extraLen]...)
			n += extraLen
		}
		return t, n, nil
	default:
		return LogTuple{}, 0, fmt.Errorf("logstore: unknown label %d", label)
	}
}
