// Package workgraph implements the DAG-based dependency orchestrator: a
// generation-indexed node arena, a CAS state machine per node, cascading
// failure and yield handling, and a capacity-aware dispatcher bound to a
// single contract.Pool.
package workgraph

import "math"

const invalidIndex = math.MaxUint32

// NodeHandle identifies a node within a specific WorkGraph and pins the
// generation it was issued for, mirroring contract.Handle's discipline.
type NodeHandle struct {
	owner      *WorkGraph
	index      uint32
	generation uint32
}

// InvalidNodeHandle is the "no node" sentinel.
var InvalidNodeHandle = NodeHandle{index: invalidIndex}

// IsValid reports whether h carries a non-sentinel index.
func (h NodeHandle) IsValid() bool { return h.index != invalidIndex }

// Index returns the arena slot this handle addresses, for diagnostics.
func (h NodeHandle) Index() uint32 { return h.index }
