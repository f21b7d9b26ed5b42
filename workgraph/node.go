package workgraph

import (
	"sync"
	"sync/atomic"

	"github.com/kforge/taskgraph/contract"
)

// YieldResult is returned by yieldable work to tell the graph whether it
// finished or wants to be rescheduled.
type YieldResult int

const (
	ResultComplete YieldResult = iota
	ResultYield
)

// PlainWork is a node's work for the common case: it runs once and either
// succeeds or returns an error.
type PlainWork func() error

// YieldingWork is a node's work for yieldable nodes: each invocation
// returns ResultComplete (done), ResultYield (run again later), or an
// error (treated as Failed).
type YieldingWork func() (YieldResult, error)

// CompleteCallback is invoked once a node reaches a terminal state.
type CompleteCallback func(handle NodeHandle, state NodeState, err error)

// node is one arena entry. Nodes are allocated individually (never moved
// by a slice append) so concurrent readers can hold a stable *node across
// the whole of a node's lifetime without additional synchronization on
// the atomic fields.
type node struct {
	name     string
	userData any
	// generation lets NodeHandle share contract.Handle's validation
	// discipline even though this arena never recycles slots; it is
	// fixed at 1 for every node.
	generation uint32

	state               atomic.Uint32 // NodeState
	pendingDeps         atomic.Int32
	failedParentCount   atomic.Int32
	completionProcessed atomic.Bool
	destroyed           atomic.Bool

	execType ExecutionType

	plainWork PlainWork
	yieldWork YieldingWork
	yieldable bool

	rescheduleCount  atomic.Uint32
	maxReschedules   uint32
	hasRescheduleCap bool

	handleMu       sync.Mutex
	contractHandle contract.Handle
	hasContract    bool

	childMu  sync.Mutex
	children []NodeHandle

	lastErr error
	errMu   sync.Mutex
}

// ExecutionType mirrors contract.ExecutionType at the graph level so
// callers of this package don't need to import contract directly just to
// name AnyThread/MainThread.
type ExecutionType = contract.ExecutionType

const (
	AnyThread  = contract.AnyThread
	MainThread = contract.MainThread
)

func (n *node) setContractHandle(h contract.Handle) {
	n.handleMu.Lock()
	n.contractHandle = h
	n.hasContract = true
	n.handleMu.Unlock()
}

func (n *node) clearContractHandle() {
	n.handleMu.Lock()
	n.contractHandle = contract.Handle{}
	n.hasContract = false
	n.handleMu.Unlock()
}

func (n *node) setErr(err error) {
	n.errMu.Lock()
	n.lastErr = err
	n.errMu.Unlock()
}

func (n *node) getErr() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.lastErr
}

func (n *node) addChild(h NodeHandle) {
	n.childMu.Lock()
	n.children = append(n.children, h)
	n.childMu.Unlock()
}

// snapshotChildren copies the child list under the node's own lock, per
// spec.md's "snapshot the node's child list under a shared lock, then,
// outside the lock" completion-handler discipline.
func (n *node) snapshotChildren() []NodeHandle {
	n.childMu.Lock()
	defer n.childMu.Unlock()
	out := make([]NodeHandle, len(n.children))
	copy(out, n.children)
	return out
}
