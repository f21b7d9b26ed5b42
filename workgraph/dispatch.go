package workgraph

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kforge/taskgraph/contract"
)

// DroppedFunc is invoked when a node is refused by the deferred FIFO
// because the FIFO was already at its bound; entries already queued are
// kept.
type DroppedFunc func(handle NodeHandle)

// deferredQueue is the bounded FIFO of nodes waiting for pool capacity. A
// cap of 0 means unbounded.
type deferredQueue struct {
	mu    sync.Mutex
	items []NodeHandle
	cap   int
}

func newDeferredQueue(cap int) *deferredQueue {
	return &deferredQueue{cap: cap}
}

func (q *deferredQueue) push(h NodeHandle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, h)
	return true
}

func (q *deferredQueue) pop() (NodeHandle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return NodeHandle{}, false
	}
	h := q.items[0]
	q.items = q.items[1:]
	return h, true
}

func (q *deferredQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NodeDispatcher turns Ready nodes into scheduled contracts against a
// single pool, deferring them when the pool has no free slot and draining
// the deferred FIFO as capacity becomes available.
type NodeDispatcher struct {
	pool    *contract.Pool
	tracker *NodeStateTracker
	nodeOf  func(NodeHandle) *node

	onExecuting func(handle NodeHandle, n *node)
	onTerminal  func(handle NodeHandle, n *node, state NodeState, err error)

	deferred     *deferredQueue
	onDropped    DroppedFunc
	drainPerTick int

	destroyed      atomic.Bool
	activeWrappers atomic.Int32

	capToken contract.CapacityToken
}

// newNodeDispatcher constructs a dispatcher bound to pool. drainCap bounds
// how many deferred nodes are pulled per capacity-available notification,
// so one pool's drain can't starve other work sharing the worker service.
func newNodeDispatcher(pool *contract.Pool, tracker *NodeStateTracker, nodeOf func(NodeHandle) *node, deferredCap, drainCap int, onDropped DroppedFunc) *NodeDispatcher {
	d := &NodeDispatcher{
		pool:         pool,
		tracker:      tracker,
		nodeOf:       nodeOf,
		deferred:     newDeferredQueue(deferredCap),
		onDropped:    onDropped,
		drainPerTick: drainCap,
	}
	d.capToken = pool.AddOnCapacityAvailable(func() {
		d.ProcessDeferred(d.drainPerTick)
	})
	return d
}

// ScheduleNode creates and schedules a contract for n if the pool has a
// free slot; otherwise it defers n. Returns true iff the node was
// actually scheduled this call.
func (d *NodeDispatcher) ScheduleNode(handle NodeHandle, n *node) bool {
	work := d.buildWork(handle, n)
	ch := d.pool.CreateContract(work, n.execType)
	if !ch.IsValid() {
		// Park the node at Ready so ProcessDeferred picks it up again.
		d.tracker.Force(handle, n, Ready)
		d.DeferNode(handle)
		return false
	}
	n.setContractHandle(ch)
	d.tracker.Transition(handle, n, Ready, Scheduled)
	if res := d.pool.Schedule(ch); res != contract.ResultScheduled {
		d.pool.Release(ch)
		n.clearContractHandle()
		d.tracker.Force(handle, n, Ready)
		d.DeferNode(handle)
		return false
	}
	return true
}

// DeferNode pushes handle onto the deferred FIFO. If the FIFO is at its
// bound, handle is dropped instead and onDropped fires.
func (d *NodeDispatcher) DeferNode(handle NodeHandle) {
	if !d.deferred.push(handle) && d.onDropped != nil {
		d.onDropped(handle)
	}
}

// ProcessDeferred pops up to max FIFO head entries, scheduling each that
// is still Ready, and returns how many were actually scheduled. max must
// be positive; callers needing "drain everything currently queued" pass
// the FIFO's current length.
func (d *NodeDispatcher) ProcessDeferred(max int) int {
	scheduled := 0
	for attempts := 0; attempts < max; attempts++ {
		h, ok := d.deferred.pop()
		if !ok {
			break
		}
		n := d.nodeOf(h)
		if n == nil || NodeState(n.state.Load()) != Ready {
			continue // stale entry: cancelled or already handled elsewhere
		}
		if d.ScheduleNode(h, n) {
			scheduled++
		}
	}
	return scheduled
}

// scheduleEntry pairs a handle with its resolved node for ScheduleReady.
type scheduleEntry struct {
	Handle NodeHandle
	Node   *node
}

// ScheduleReady is a batch helper over ScheduleNode.
func (d *NodeDispatcher) ScheduleReady(entries []scheduleEntry) int {
	count := 0
	for _, e := range entries {
		if d.ScheduleNode(e.Handle, e.Node) {
			count++
		}
	}
	return count
}

func (d *NodeDispatcher) buildWork(handle NodeHandle, n *node) contract.Work {
	return func() {
		if d.destroyed.Load() {
			return
		}
		d.activeWrappers.Add(1)
		defer d.activeWrappers.Add(-1)

		if d.onExecuting != nil {
			d.onExecuting(handle, n)
		}

		if n.yieldable {
			res, err := n.yieldWork()
			if err != nil {
				n.setErr(err)
				d.fireTerminal(handle, n, Failed, err)
				return
			}
			switch res {
			case ResultComplete:
				d.fireTerminal(handle, n, Completed, nil)
			case ResultYield:
				d.fireTerminal(handle, n, Yielded, nil)
			}
			return
		}

		if err := n.plainWork(); err != nil {
			n.setErr(err)
			d.fireTerminal(handle, n, Failed, err)
			return
		}
		d.fireTerminal(handle, n, Completed, nil)
	}
}

func (d *NodeDispatcher) fireTerminal(handle NodeHandle, n *node, state NodeState, err error) {
	if d.onTerminal != nil {
		d.onTerminal(handle, n, state, err)
	}
}

// close sets the destroyed flag, unsubscribes from capacity
// notifications, and waits for any in-flight work wrappers to return.
func (d *NodeDispatcher) close() {
	d.destroyed.Store(true)
	d.pool.RemoveOnCapacityAvailable(d.capToken)
	for d.activeWrappers.Load() > 0 {
		runtime.Gosched()
	}
}

func (d *NodeDispatcher) deferredLen() int { return d.deferred.len() }
