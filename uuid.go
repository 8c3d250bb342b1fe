package ccbench

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID, keeping ccbench
// decoupled from the external package at call sites.
type UUID uuid.UUID

// NilUUID is the zero-value UUID.
var NilUUID UUID

// NewUUID returns a new randomly generated UUID, used for lock IDs
// (lock.LockKey). Generation essentially
// never fails, but retries briefly rather than propagating a spurious
// entropy-source error up through the commit path.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

// ParseUUID converts a string to a UUID, returning an error if it is not a
// valid UUID.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	return UUID(u), err
}

// IsNil reports whether the UUID equals the zero-value UUID.
func (id UUID) IsNil() bool {
	return bytes.Equal(id[:], NilUUID[:])
}

// String returns the canonical string representation of the UUID.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// Compare returns -1, 0 or 1 as x is less than, equal to, or greater than y.
func (x UUID) Compare(y UUID) int {
	return bytes.Compare(x[:], y[:])
}
