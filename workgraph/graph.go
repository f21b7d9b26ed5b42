package workgraph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kforge/taskgraph/contract"
	"github.com/kforge/taskgraph/internal/events"
)

// ErrInvalidHandle is returned whenever an operation is given a NodeHandle
// that does not resolve to a live node in this graph: out of range, from
// a different graph, or (were this arena ever to recycle slots) a stale
// generation.
var ErrInvalidHandle = errors.New("workgraph: invalid node handle")

// ErrCrossGraphHandle is returned when a handle issued by one WorkGraph is
// passed to another's operation.
var ErrCrossGraphHandle = errors.New("workgraph: handle belongs to a different graph")

// MissingDependencyError reports that add_dependency or add_continuation
// was given a handle that does not resolve to a node, per the teacher's
// scheduler.MissingDependencyError (string-ID) ported to the
// generation-handle discipline used here.
type MissingDependencyError struct {
	Handle NodeHandle
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("workgraph: missing dependency node (index=%d)", e.Handle.index)
}

func (e *MissingDependencyError) Unwrap() error { return ErrInvalidHandle }

// CycleError reports that add_dependency would have closed a cycle. Cycle
// lists the path from the new edge's destination back around to its
// source, the order a reader would walk it.
type CycleError struct {
	Cycle []NodeHandle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workgraph: adding this dependency would create a cycle through %d node(s)", len(e.Cycle))
}

// WaitResult is returned by Wait once a graph drains: the tally of
// terminal outcomes across every node. Cancelled is a supplement to
// spec.md §6's literal {completed, failed, dropped, all_completed} tuple,
// needed to satisfy the §8 "counter accuracy at quiescence" property
// (completed+failed+cancelled+dropped == total).
type WaitResult struct {
	Completed    int32
	Failed       int32
	Cancelled    int32
	Dropped      int32
	AllCompleted bool
}

// Config configures a WorkGraph. The zero value is usable: an unbounded
// deferred queue, a drain cap of 4 per capacity notification, and no
// event bus.
type Config struct {
	// Name tags every event this graph publishes, identifying which
	// graph emitted it when several share a Bus.
	Name string

	// DeferredCap bounds the dispatcher's deferred FIFO; 0 is unbounded.
	DeferredCap int

	// DrainPerTick bounds how many deferred nodes are scheduled per
	// capacity-available notification. Defaults to 4 if <= 0.
	DrainPerTick int

	// Bus, if non-nil, receives every lifecycle event this graph and its
	// dispatcher publish.
	Bus *events.Bus
}

// WorkGraph is the DAG-backed orchestrator of spec.md §4.7: nodes are
// appended to a generation-tagged arena, dependency edges are tracked as
// per-node child lists plus pending-dependency counters, and execution is
// driven by submitting ready nodes to a NodeDispatcher bound to a single
// contract.Pool.
type WorkGraph struct {
	pool       *contract.Pool
	tracker    *NodeStateTracker
	dispatcher *NodeDispatcher
	bus        *events.Bus
	name       string

	arenaMu sync.RWMutex
	nodes   []*node

	started   atomic.Bool
	suspended atomic.Bool
	destroyed atomic.Bool

	pendingNodes   atomic.Int32
	totalNodes     atomic.Int32
	completedCount atomic.Int32
	failedCount    atomic.Int32
	cancelledCount atomic.Int32
	droppedCount   atomic.Int32

	waitMu   sync.Mutex
	waitCond *sync.Cond

	onCompleteMu sync.Mutex
	onComplete   CompleteCallback
}

// New constructs a WorkGraph bound to pool. A graph owns exactly one
// pool for its lifetime, per spec.md §4.7.
func New(pool *contract.Pool, cfg Config) *WorkGraph {
	drainCap := cfg.DrainPerTick
	if drainCap <= 0 {
		drainCap = 4
	}

	g := &WorkGraph{
		pool: pool,
		bus:  cfg.Bus,
		name: cfg.Name,
	}
	g.waitCond = sync.NewCond(&g.waitMu)
	g.tracker = NewNodeStateTracker(nil)
	g.dispatcher = newNodeDispatcher(pool, g.tracker, g.nodeAt, cfg.DeferredCap, drainCap, g.handleDropped)
	g.dispatcher.onExecuting = g.handleExecuting
	g.dispatcher.onTerminal = g.handleTerminal
	return g
}

func (g *WorkGraph) pub(e events.Event) {
	if g.bus == nil {
		return
	}
	if g.name != "" && e.Pool == "" {
		e.Pool = g.name
	}
	g.bus.Emit(e)
}

// --- node insertion -------------------------------------------------

func (g *WorkGraph) appendNode(n *node) NodeHandle {
	n.generation = 1
	g.arenaMu.Lock()
	idx := uint32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.arenaMu.Unlock()

	h := NodeHandle{owner: g, index: idx, generation: n.generation}
	g.tracker.Register(n, Pending)
	g.pendingNodes.Add(1)
	g.totalNodes.Add(1)
	g.pub(events.NewEvent(events.NodeAdded).WithNode(n.name))

	// A node added after execute() has begun with no dependencies is
	// immediately eligible, per spec.md §4.7 "must be idempotent against
	// concurrent node addition".
	g.maybeSubmitRoot(h, n)
	return h
}

// AddNode appends a plain (non-yieldable) node and returns its handle.
func (g *WorkGraph) AddNode(work PlainWork, name string, userData any, execType ExecutionType) NodeHandle {
	n := &node{name: name, userData: userData, execType: execType, plainWork: work}
	return g.appendNode(n)
}

// AddYieldableNode appends a yieldable node. maxReschedules bounds how
// many times the node may return ResultYield before it is treated as
// Failed; pass a negative value for "no limit".
func (g *WorkGraph) AddYieldableNode(work YieldingWork, name string, userData any, execType ExecutionType, maxReschedules int) NodeHandle {
	n := &node{name: name, userData: userData, execType: execType, yieldWork: work, yieldable: true}
	if maxReschedules >= 0 {
		n.hasRescheduleCap = true
		n.maxReschedules = uint32(maxReschedules)
	}
	return g.appendNode(n)
}

// AddContinuation adds a plain node and installs a dependency edge from
// each of parents to it in one call.
func (g *WorkGraph) AddContinuation(parents []NodeHandle, work PlainWork, name string, execType ExecutionType) (NodeHandle, error) {
	for _, p := range parents {
		if g.nodeAt(p) == nil {
			return InvalidNodeHandle, &MissingDependencyError{Handle: p}
		}
	}
	n := &node{name: name, execType: execType, plainWork: work}
	n.generation = 1

	g.arenaMu.Lock()
	idx := uint32(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.arenaMu.Unlock()

	h := NodeHandle{owner: g, index: idx, generation: n.generation}
	g.tracker.Register(n, Pending)
	g.pendingNodes.Add(1)
	g.totalNodes.Add(1)
	g.pub(events.NewEvent(events.NodeAdded).WithNode(name))

	for _, p := range parents {
		if err := g.AddDependency(p, h); err != nil {
			return h, err
		}
	}
	// Dependencies are now in place; only submit once they're all wired,
	// in case the graph is already executing concurrently.
	g.maybeSubmitRoot(h, n)
	return h, nil
}

// AddDependency inserts an edge from -> to: to.pending_deps is
// incremented, and from's child list gains to. Fails fast on a cycle or
// a handle from another graph / that does not resolve to a node.
func (g *WorkGraph) AddDependency(from, to NodeHandle) error {
	if from.owner != g || to.owner != g {
		return ErrCrossGraphHandle
	}
	fn := g.nodeAt(from)
	if fn == nil {
		return &MissingDependencyError{Handle: from}
	}
	tn := g.nodeAt(to)
	if tn == nil {
		return &MissingDependencyError{Handle: to}
	}
	if path, found := g.reachable(to, from); found {
		return &CycleError{Cycle: path}
	}
	fn.addChild(to)
	tn.pendingDeps.Add(1)
	g.pub(events.NewEvent(events.NodeDependencyAdded).WithNode(tn.name))
	return nil
}

// reachable reports whether target is reachable from start by following
// child edges, returning the path walked if so. Used to detect that
// adding an edge target->start (named from->to at the call site; here
// start==to, target==from) would close a cycle.
func (g *WorkGraph) reachable(start, target NodeHandle) ([]NodeHandle, bool) {
	visited := map[uint32]bool{}
	var dfs func(cur NodeHandle, path []NodeHandle) ([]NodeHandle, bool)
	dfs = func(cur NodeHandle, path []NodeHandle) ([]NodeHandle, bool) {
		path = append(path, cur)
		if cur.index == target.index {
			return path, true
		}
		if visited[cur.index] {
			return nil, false
		}
		visited[cur.index] = true
		n := g.nodeAt(cur)
		if n == nil {
			return nil, false
		}
		for _, ch := range n.snapshotChildren() {
			if p, ok := dfs(ch, append([]NodeHandle{}, path...)); ok {
				return p, true
			}
		}
		return nil, false
	}
	return dfs(start, nil)
}

func (g *WorkGraph) nodeAt(h NodeHandle) *node {
	if h.owner != g || !h.IsValid() {
		return nil
	}
	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	if int(h.index) >= len(g.nodes) {
		return nil
	}
	n := g.nodes[h.index]
	if n.generation != h.generation {
		return nil
	}
	return n
}

func (g *WorkGraph) handleFor(idx int, n *node) NodeHandle {
	return NodeHandle{owner: g, index: uint32(idx), generation: n.generation}
}

// --- execution --------------------------------------------------------

// Execute transitions the graph to "started" and submits every node
// whose pending_deps is already zero. Idempotent: a second call is a
// no-op.
func (g *WorkGraph) Execute() {
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	g.pub(events.NewEvent(events.GraphStarted))

	g.arenaMu.RLock()
	nodes := make([]*node, len(g.nodes))
	copy(nodes, g.nodes)
	g.arenaMu.RUnlock()

	for i, n := range nodes {
		if NodeState(n.state.Load()) == Pending && n.pendingDeps.Load() == 0 {
			g.submitReady(g.handleFor(i, n))
		}
	}
}

func (g *WorkGraph) maybeSubmitRoot(h NodeHandle, n *node) {
	if !g.started.Load() {
		return
	}
	if n.pendingDeps.Load() != 0 {
		return
	}
	g.submitReady(h)
}

// submitReady moves a node from Pending or Yielded to Ready, then, unless
// the graph is suspended, on to Scheduled and into the dispatcher. While
// suspended, the node is left at Ready: Resume rescans for this case.
func (g *WorkGraph) submitReady(h NodeHandle) {
	n := g.nodeAt(h)
	if n == nil {
		return
	}
	switch cur := NodeState(n.state.Load()); cur {
	case Pending, Yielded:
		if !g.tracker.Transition(h, n, cur, Ready) {
			return
		}
	case Ready:
	default:
		return
	}
	if g.suspended.Load() {
		return
	}
	g.dispatchReady(h, n)
}

func (g *WorkGraph) dispatchReady(h NodeHandle, n *node) {
	if !g.tracker.Transition(h, n, Ready, Scheduled) {
		return
	}
	g.pub(events.NewEvent(events.NodeScheduled).WithNode(n.name))
	g.dispatcher.ScheduleNode(h, n)
}

// Suspend gates new scheduling: in-flight work continues, but nodes that
// become Ready (including yielded nodes awaiting reschedule) are held
// until Resume.
func (g *WorkGraph) Suspend() {
	g.suspended.Store(true)
	g.pub(events.NewEvent(events.GraphSuspended))
}

// Resume clears the suspend flag and dispatches every node currently
// sitting at Ready.
func (g *WorkGraph) Resume() {
	g.suspended.Store(false)
	g.pub(events.NewEvent(events.GraphResumed))

	g.arenaMu.RLock()
	nodes := make([]*node, len(g.nodes))
	copy(nodes, g.nodes)
	g.arenaMu.RUnlock()

	for i, n := range nodes {
		if NodeState(n.state.Load()) == Ready {
			g.dispatchReady(g.handleFor(i, n), n)
		}
	}
}

// IsSuspended reports whether the graph is currently suspended.
func (g *WorkGraph) IsSuspended() bool { return g.suspended.Load() }

// ProcessDeferredNodes is the external drain entry point for integrations
// that don't run a workerservice.Service (whose capacity-available
// subscription already drains the dispatcher automatically).
func (g *WorkGraph) ProcessDeferredNodes() int {
	n := g.dispatcher.deferredLen()
	if n == 0 {
		return 0
	}
	return g.dispatcher.ProcessDeferred(n)
}

// --- completion handling -----------------------------------------------

func (g *WorkGraph) handleExecuting(h NodeHandle, n *node) {
	g.tracker.Transition(h, n, Scheduled, Executing)
	g.pub(events.NewEvent(events.NodeExecuting).WithNode(n.name))
}

func (g *WorkGraph) handleTerminal(h NodeHandle, n *node, state NodeState, err error) {
	switch state {
	case Completed:
		g.completeNode(h, n)
	case Failed:
		g.failNode(h, n, err)
	case Yielded:
		g.yieldNode(h, n)
	}
}

func (g *WorkGraph) decrementPending() {
	if g.pendingNodes.Add(-1) == 0 {
		g.waitMu.Lock()
		g.waitCond.Broadcast()
		g.waitMu.Unlock()
		g.pub(events.NewEvent(events.GraphDrained))
	}
}

func (g *WorkGraph) fireComplete(h NodeHandle, state NodeState, err error) {
	g.onCompleteMu.Lock()
	cb := g.onComplete
	g.onCompleteMu.Unlock()
	if cb != nil {
		cb(h, state, err)
	}
}

// completeNode runs the §4.7 completion handler: mark completionProcessed
// (idempotency), transition to Completed, decrement pending_nodes, then
// outside any lock, decrement each child's pending_deps and submit any
// child that just reached zero with no failed parents.
func (g *WorkGraph) completeNode(h NodeHandle, n *node) {
	if !n.completionProcessed.CompareAndSwap(false, true) {
		return
	}
	g.tracker.Transition(h, n, Executing, Completed)
	g.completedCount.Add(1)
	g.decrementPending()
	g.pub(events.NewEvent(events.NodeCompleted).WithNode(n.name))
	g.fireComplete(h, Completed, nil)

	for _, ch := range n.snapshotChildren() {
		cn := g.nodeAt(ch)
		if cn == nil || NodeState(cn.state.Load()).IsTerminal() {
			continue
		}
		if cn.pendingDeps.Add(-1) == 0 && cn.failedParentCount.Load() == 0 {
			g.submitReady(ch)
		}
	}
}

// failNode runs the failure cascade: mark terminal, then increment every
// direct child's failed_parent_count and cancel it (recursing into its
// own descendants), per spec.md §4.7.
func (g *WorkGraph) failNode(h NodeHandle, n *node, err error) {
	if !n.completionProcessed.CompareAndSwap(false, true) {
		return
	}
	g.tracker.Transition(h, n, Executing, Failed)
	g.failedCount.Add(1)
	g.decrementPending()
	g.pub(events.NewEvent(events.NodeFailed).WithNode(n.name).WithError(err))
	g.fireComplete(h, Failed, err)

	for _, ch := range n.snapshotChildren() {
		g.cascadeToChild(ch)
	}
}

func (g *WorkGraph) cascadeToChild(h NodeHandle) {
	n := g.nodeAt(h)
	if n == nil {
		return
	}
	n.failedParentCount.Add(1)
	g.cancelCascade(h)
}

// cancelCascade cancels h (unless it is already terminal or currently
// Executing, which cannot be pre-empted per spec.md §5) and recurses into
// its children so the whole downstream subgraph is cancelled.
func (g *WorkGraph) cancelCascade(h NodeHandle) {
	n := g.nodeAt(h)
	if n == nil {
		return
	}
	cur := NodeState(n.state.Load())
	if cur.IsTerminal() || cur == Executing {
		return
	}
	if !n.completionProcessed.CompareAndSwap(false, true) {
		return
	}
	g.tracker.Force(h, n, Cancelled)
	g.cancelledCount.Add(1)
	g.decrementPending()
	g.pub(events.NewEvent(events.NodeCancelled).WithNode(n.name))
	g.fireComplete(h, Cancelled, nil)

	for _, ch := range n.snapshotChildren() {
		g.cascadeToChild(ch)
	}
}

// yieldNode handles a node's Executing -> Yielded transition: if it has
// not exhausted its reschedule budget it is resubmitted via Ready;
// otherwise it is treated as Failed, per spec.md §4.7/§8's "M+1
// executions" yield bound.
func (g *WorkGraph) yieldNode(h NodeHandle, n *node) {
	if !g.tracker.Transition(h, n, Executing, Yielded) {
		return
	}
	g.pub(events.NewEvent(events.NodeYielded).WithNode(n.name))

	if n.hasRescheduleCap {
		if n.rescheduleCount.Add(1) > n.maxReschedules {
			if n.completionProcessed.CompareAndSwap(false, true) {
				g.tracker.Force(h, n, Failed)
				g.failedCount.Add(1)
				g.decrementPending()
				g.pub(events.NewEvent(events.NodeFailed).WithNode(n.name))
				g.fireComplete(h, Failed, errYieldBudgetExhausted)
				for _, ch := range n.snapshotChildren() {
					g.cascadeToChild(ch)
				}
			}
			return
		}
	}
	g.submitReady(h)
}

var errYieldBudgetExhausted = errors.New("workgraph: node exceeded its reschedule budget")

// handleDropped is the dispatcher's on_dropped callback: a node refused
// by the full deferred FIFO is counted as failed for cascade purposes but
// tracked separately in Dropped, per spec.md §4.6/§8.
func (g *WorkGraph) handleDropped(h NodeHandle) {
	n := g.nodeAt(h)
	if n == nil {
		return
	}
	if !n.completionProcessed.CompareAndSwap(false, true) {
		return
	}
	g.tracker.Force(h, n, Failed)
	g.droppedCount.Add(1)
	g.decrementPending()
	g.pub(events.NewEvent(events.NodeDropped).WithNode(n.name))
	g.fireComplete(h, Failed, nil)

	for _, ch := range n.snapshotChildren() {
		g.cascadeToChild(ch)
	}
}

// --- observation --------------------------------------------------------

// Wait blocks until every node has reached a terminal state, then returns
// the tally of outcomes.
func (g *WorkGraph) Wait() WaitResult {
	g.waitMu.Lock()
	for g.pendingNodes.Load() > 0 {
		g.waitCond.Wait()
	}
	g.waitMu.Unlock()

	completed := g.completedCount.Load()
	total := g.totalNodes.Load()
	return WaitResult{
		Completed:    completed,
		Failed:       g.failedCount.Load(),
		Cancelled:    g.cancelledCount.Load(),
		Dropped:      g.droppedCount.Load(),
		AllCompleted: completed == total,
	}
}

// IsComplete reports, as a snapshot, whether every node has reached a
// terminal state.
func (g *WorkGraph) IsComplete() bool { return g.pendingNodes.Load() == 0 }

// GetPendingCount returns the number of nodes that have not yet reached a
// terminal state.
func (g *WorkGraph) GetPendingCount() int32 { return g.pendingNodes.Load() }

// GetStats returns a snapshot of per-state node counts.
func (g *WorkGraph) GetStats() Stats { return g.tracker.GetStats() }

// SetNodeCompleteCallback installs fn to be invoked once per node as it
// reaches a terminal state (Completed, Failed, or Cancelled). A nil fn
// clears any previously installed callback.
func (g *WorkGraph) SetNodeCompleteCallback(fn CompleteCallback) {
	g.onCompleteMu.Lock()
	g.onComplete = fn
	g.onCompleteMu.Unlock()
}

// Levels groups nodes by dependency depth (topological level): roots (no
// incoming edges observed via pending_deps at call time) are level 0,
// their children level 1, and so on. Supplements spec.md with dry-run
// style plan inspection, grounded on the teacher's Graph.GetLevels /
// Schedule.Levels (see SPEC_FULL.md §4.10).
func (g *WorkGraph) Levels() [][]NodeHandle {
	g.arenaMu.RLock()
	nodes := make([]*node, len(g.nodes))
	copy(nodes, g.nodes)
	g.arenaMu.RUnlock()

	depth := make([]int, len(nodes))
	for i := range depth {
		depth[i] = -1
	}
	remaining := make([]int32, len(nodes))
	for i, n := range nodes {
		remaining[i] = n.pendingDeps.Load()
	}

	var frontier []int
	for i, r := range remaining {
		if r == 0 {
			frontier = append(frontier, i)
			depth[i] = 0
		}
	}

	level := 0
	for len(frontier) > 0 {
		var next []int
		for _, i := range frontier {
			for _, ch := range nodes[i].snapshotChildren() {
				ci := int(ch.index)
				if ci < 0 || ci >= len(nodes) {
					continue
				}
				remaining[ci]--
				if remaining[ci] == 0 && depth[ci] == -1 {
					depth[ci] = level + 1
					next = append(next, ci)
				}
			}
		}
		frontier = next
		level++
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]NodeHandle, maxDepth+1)
	for i, n := range nodes {
		d := depth[i]
		if d == -1 {
			continue // unreachable from a zero-dependency root: a cycle would have rejected insertion, so this is dead code kept for arena robustness
		}
		levels[d] = append(levels[d], g.handleFor(i, n))
	}
	return levels
}

// Close marks the graph destroyed and releases its dispatcher: no
// in-flight work wrapper will fire callbacks after this returns, per
// spec.md's §4.7 destruction sequence.
func (g *WorkGraph) Close() {
	if !g.destroyed.CompareAndSwap(false, true) {
		return
	}
	g.dispatcher.close()
}
