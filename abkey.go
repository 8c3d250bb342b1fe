package ccbench

import "strconv"

// AbKey is the composite key used across every table in the engine: a
// type tag identifying which table a record belongs to, plus a fixed-width
// numeric logical key. Ordering is lexicographic by (TypeTag, LogicKey);
// equality is componentwise. Arbitrary-length keys are out of scope.
type AbKey struct {
	TypeTag  uint32
	LogicKey uint64
}

// NewAbKey constructs an AbKey for the given table tag and logical key.
func NewAbKey(typeTag uint32, logicKey uint64) AbKey {
	return AbKey{TypeTag: typeTag, LogicKey: logicKey}
}

// Compare orders AbKeys lexicographically by (TypeTag, LogicKey).
func (k AbKey) Compare(other AbKey) int {
	if k.TypeTag != other.TypeTag {
		if k.TypeTag < other.TypeTag {
			return -1
		}
		return 1
	}
	switch {
	case k.LogicKey < other.LogicKey:
		return -1
	case k.LogicKey > other.LogicKey:
		return 1
	default:
		return 0
	}
}

// Less reports whether k sorts before other.
func (k AbKey) Less(other AbKey) bool {
	return k.Compare(other) < 0
}

// Equal reports componentwise equality.
func (k AbKey) Equal(other AbKey) bool {
	return k.TypeTag == other.TypeTag && k.LogicKey == other.LogicKey
}

// String renders the key as "<type_tag>:<logic_key>", the form used to
// derive cache and lock key names.
func (k AbKey) String() string {
	return strconv.FormatUint(uint64(k.TypeTag), 10) + ":" + strconv.FormatUint(k.LogicKey, 10)
}
