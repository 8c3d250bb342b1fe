package txctx

// HeaderRef identifies a record's header by identity (its address), the
// key a ThreadBuffer's event map is keyed by. Using identity rather than
// the raw target pointer resolves the original's
// DEBUG_ASSERT(target_ptr_ == other.target_ptr_) footgun: two events on
// the same header can have different target pointers (e.g. one touching
// bytes [0,8) and another [16,24) of the same record), and they must
// still combine.
type HeaderRef uintptr

// DelayUpdateEvent is a deferred persistence request for a byte range of
// a record's body: flush [Offset, Offset+Size) once the transaction
// commits, rather than immediately on every write. Grounded on the
// original's DelayUpdateEvent, generalized to store the header-relative
// offset instead of an already-adjusted target pointer, so Combine never
// has to compare or assume pointer identity.
type DelayUpdateEvent struct {
	Offset uint32
	Size   uint32
}

// End returns the byte one past the event's covered range.
func (e DelayUpdateEvent) End() uint32 { return e.Offset + e.Size }

// Combine merges other into e by taking the union of their byte ranges:
// the new range spans the lowest offset to the highest end of either
// event. Two writes to disjoint parts of the same record therefore collapse
// into one flush covering both, at the cost of flushing the (small) gap
// between them too.
func (e *DelayUpdateEvent) Combine(other DelayUpdateEvent) {
	newOffset := e.Offset
	if other.Offset < newOffset {
		newOffset = other.Offset
	}
	newEnd := e.End()
	if other.End() > newEnd {
		newEnd = other.End()
	}
	e.Offset = newOffset
	e.Size = newEnd - newOffset
}

// ThreadBuffer is a thread's temporary buffer of delayed-persistence
// requests staged by the Courier protocol: at most one DelayUpdateEvent
// per touched record, flushed as a single ranged pwb_range call at commit.
type ThreadBuffer struct {
	entries map[HeaderRef]*DelayUpdateEvent
}

// NewThreadBuffer returns an empty ThreadBuffer.
func NewThreadBuffer() *ThreadBuffer {
	return &ThreadBuffer{entries: make(map[HeaderRef]*DelayUpdateEvent)}
}

// Stage records that [offset, offset+size) of the record identified by
// ref needs persisting. If an event already exists for ref, the two
// ranges are combined; otherwise a new event is installed.
func (b *ThreadBuffer) Stage(ref HeaderRef, offset, size uint32) {
	event := DelayUpdateEvent{Offset: offset, Size: size}
	if existing, ok := b.entries[ref]; ok {
		existing.Combine(event)
		return
	}
	b.entries[ref] = &event
}

// Get returns the staged event for ref, if any.
func (b *ThreadBuffer) Get(ref HeaderRef) (DelayUpdateEvent, bool) {
	e, ok := b.entries[ref]
	if !ok {
		return DelayUpdateEvent{}, false
	}
	return *e, true
}

// Entries returns every staged (header, event) pair. Used at commit to
// flush each record's union range exactly once.
func (b *ThreadBuffer) Entries() map[HeaderRef]DelayUpdateEvent {
	out := make(map[HeaderRef]DelayUpdateEvent, len(b.entries))
	for k, v := range b.entries {
		out[k] = *v
	}
	return out
}

// Clear empties the event map, the step Courier takes right after
// flushing every staged range at commit.
func (b *ThreadBuffer) Clear() {
	b.entries = make(map[HeaderRef]*DelayUpdateEvent)
}

// Len returns the number of distinct records with a staged event.
func (b *ThreadBuffer) Len() int { return len(b.entries) }
