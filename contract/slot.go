package contract

import "sync/atomic"

// Work is the callable stored in a slot. It carries no result; yieldable,
// graph-level work is layered on top in the workgraph package.
type Work func()

// slot is one entry of a Pool's fixed-capacity array. Every field is
// either atomic or exclusively owned by whichever party currently holds
// the Executing transition, per spec.md's shared-resource policy.
type slot struct {
	generation atomic.Uint32
	state      slotState
	work       atomic.Pointer[Work]
	execType   atomic.Uint32 // ExecutionType, written once per allocation
	nextFree   atomic.Uint32 // Treiber free-list link; invalidIndex = tail
}

func (s *slot) executionType() ExecutionType {
	return ExecutionType(s.execType.Load())
}
