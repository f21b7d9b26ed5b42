package contract

import "math"

// invalidIndex is the free-list sentinel and the invalid-handle index.
const invalidIndex = math.MaxUint32

// Handle identifies a slot within a specific Pool and pins the generation
// it was issued for. A Handle obtained before a slot returns to Free is
// invalidated the instant the slot's generation is bumped, even though the
// struct itself remains a valid, copyable value.
type Handle struct {
	owner      *Pool
	index      uint32
	generation uint32
}

// InvalidHandle is the zero-cost "no slot" sentinel returned whenever an
// operation cannot produce a live handle.
var InvalidHandle = Handle{index: invalidIndex, generation: 0}

// IsValid reports whether h carries a non-sentinel index. It does not by
// itself confirm the slot is still live — use Pool.Validate for that.
func (h Handle) IsValid() bool {
	return h.index != invalidIndex
}

// Index returns the slot index this handle addresses, for diagnostics.
func (h Handle) Index() uint32 { return h.index }

// Generation returns the generation this handle was issued against.
func (h Handle) Generation() uint32 { return h.generation }
