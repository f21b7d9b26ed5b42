// Package contract implements the ContractPool: a fixed-capacity pool of
// work contracts addressed by generation-validated handles, with two
// independent lock-free ready-sets (any-thread and main-thread) backed by
// signalindex.Index.
package contract

import (
	"sync"
	"sync/atomic"

	"github.com/kforge/taskgraph/signalindex"
)

// Pool is a fixed-capacity set of contract slots. The zero value is not
// usable; construct with New.
type Pool struct {
	slots []slot

	freeHead atomic.Uint32

	anyIndex  *signalindex.Index
	mainIndex *signalindex.Index

	selecting     atomic.Int32
	mainSelecting atomic.Int32

	active         atomic.Int32
	scheduledAny   atomic.Int32
	scheduledMain  atomic.Int32
	executingAny   atomic.Int32
	executingMain  atomic.Int32

	stopping atomic.Bool

	mu   sync.Mutex // guards the wait condition only
	cond *sync.Cond

	providerMu sync.RWMutex
	provider   Provider

	capMu        sync.Mutex
	capCallbacks map[CapacityToken]func()
	nextToken    uint64
}

// New constructs a Pool with the given fixed slot capacity. Every slot
// starts Free with generation 1, per spec.md §3.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		slots:        make([]slot, capacity),
		anyIndex:     signalindex.New(capacity),
		mainIndex:    signalindex.New(capacity),
		capCallbacks: make(map[CapacityToken]func()),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.slots {
		p.slots[i].generation.Store(1)
		if i == len(p.slots)-1 {
			p.slots[i].nextFree.Store(invalidIndex)
		} else {
			p.slots[i].nextFree.Store(uint32(i + 1))
		}
	}
	p.freeHead.Store(0)
	return p
}

// Capacity returns the fixed number of slots in the pool.
func (p *Pool) Capacity() int { return len(p.slots) }

// Active returns the number of slots currently Allocated or later.
func (p *Pool) Active() int32 { return p.active.Load() }

// Scheduled returns the number of slots currently Scheduled, any-thread.
func (p *Pool) Scheduled() int32 { return p.scheduledAny.Load() }

// Executing returns the number of slots currently Executing, any-thread.
func (p *Pool) Executing() int32 { return p.executingAny.Load() }

// MainThreadScheduled returns the number of main-thread Scheduled slots.
func (p *Pool) MainThreadScheduled() int32 { return p.scheduledMain.Load() }

// MainThreadExecuting returns the number of main-thread Executing slots.
func (p *Pool) MainThreadExecuting() int32 { return p.executingMain.Load() }

// IsStopping reports whether Stop() has been called without a matching
// Resume().
func (p *Pool) IsStopping() bool { return p.stopping.Load() }

// SetConcurrencyProvider installs the provider notified of scheduling
// activity and pool teardown. Safe to call at any time; only taken under
// an exclusive lock, never on the hot path.
func (p *Pool) SetConcurrencyProvider(provider Provider) {
	p.providerMu.Lock()
	p.provider = provider
	p.providerMu.Unlock()
}

// AddOnCapacityAvailable registers a callback fired after every slot
// returns to Free. Returns a token for later removal.
func (p *Pool) AddOnCapacityAvailable(cb func()) CapacityToken {
	p.capMu.Lock()
	defer p.capMu.Unlock()
	p.nextToken++
	tok := CapacityToken(p.nextToken)
	p.capCallbacks[tok] = cb
	return tok
}

// RemoveOnCapacityAvailable unregisters a callback by token. A no-op if
// the token is unknown (already removed).
func (p *Pool) RemoveOnCapacityAvailable(tok CapacityToken) {
	p.capMu.Lock()
	delete(p.capCallbacks, tok)
	p.capMu.Unlock()
}

func (p *Pool) fireCapacityAvailable() {
	p.capMu.Lock()
	cbs := make([]func(), 0, len(p.capCallbacks))
	for _, cb := range p.capCallbacks {
		cbs = append(cbs, cb)
	}
	p.capMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// validate resolves h against the slot table, returning the slot only if
// h is live: owned by this pool, in range, generation-current, and not
// Free.
func (p *Pool) validate(h Handle) (*slot, bool) {
	if !h.IsValid() || h.owner != p || int(h.index) >= len(p.slots) {
		return nil, false
	}
	s := &p.slots[h.index]
	if s.generation.Load() != h.generation {
		return nil, false
	}
	if s.state.load() == Free {
		return nil, false
	}
	return s, true
}

// CreateContract allocates a Free slot, stores work and execType, and
// transitions it to Allocated. Returns InvalidHandle if no Free slot
// exists.
func (p *Pool) CreateContract(work Work, execType ExecutionType) Handle {
	for {
		head := p.freeHead.Load()
		if head == invalidIndex {
			return InvalidHandle
		}
		s := &p.slots[head]
		next := s.nextFree.Load()
		if !p.freeHead.CompareAndSwap(head, next) {
			continue
		}
		s.work.Store(&work)
		s.execType.Store(uint32(execType))
		if !s.state.cas(Free, Allocated) {
			// Unreachable under correct free-list discipline: a slot
			// popped from the free list is exclusively ours until this
			// CAS. Restore it rather than leak capacity.
			s.work.Store(nil)
			p.pushFree(head)
			return InvalidHandle
		}
		p.active.Add(1)
		return Handle{owner: p, index: head, generation: s.generation.Load()}
	}
}

func (p *Pool) pushFree(idx uint32) {
	s := &p.slots[idx]
	for {
		head := p.freeHead.Load()
		s.nextFree.Store(head)
		if p.freeHead.CompareAndSwap(head, idx) {
			return
		}
	}
}

// Schedule transitions Allocated -> Scheduled and publishes the slot's
// index into the execution-type-appropriate SignalIndex.
func (p *Pool) Schedule(h Handle) ScheduleResult {
	s, ok := p.validate(h)
	if !ok {
		return ResultInvalid
	}
	if !s.state.cas(Allocated, Scheduled) {
		switch s.state.load() {
		case Scheduled:
			return ResultAlreadyScheduled
		case Executing:
			return ResultExecuting
		default:
			return ResultInvalid
		}
	}
	if s.executionType() == MainThread {
		p.mainIndex.Set(int(h.index))
		p.scheduledMain.Add(1)
		p.notifyMainThreadWorkAvailable()
	} else {
		p.anyIndex.Set(int(h.index))
		p.scheduledAny.Add(1)
		p.notifyWorkAvailable()
	}
	return ResultScheduled
}

// Unschedule transitions Scheduled -> Allocated and removes the slot's
// index from its SignalIndex.
func (p *Pool) Unschedule(h Handle) ScheduleResult {
	s, ok := p.validate(h)
	if !ok {
		return ResultInvalid
	}
	if !s.state.cas(Scheduled, Allocated) {
		if s.state.load() == Executing {
			return ResultExecuting
		}
		return ResultNotScheduled
	}
	p.clearFromIndex(s, h.index)
	p.signalWaiters()
	return ResultUnscheduled
}

func (p *Pool) clearFromIndex(s *slot, idx uint32) {
	if s.executionType() == MainThread {
		p.mainIndex.Clear(int(idx))
		p.scheduledMain.Add(-1)
	} else {
		p.anyIndex.Clear(int(idx))
		p.scheduledAny.Add(-1)
	}
}

// Release forces a slot back to Free from Allocated or Scheduled. It is a
// no-op if the slot is Executing or already Free/Completed — the executor
// owns the terminal transition in that case.
func (p *Pool) Release(h Handle) {
	s, ok := p.validate(h)
	if !ok {
		return
	}
	for {
		switch s.state.load() {
		case Executing, Free, Completed:
			return
		case Scheduled:
			if s.state.cas(Scheduled, Allocated) {
				p.clearFromIndex(s, h.index)
			}
		case Allocated:
			if s.state.cas(Allocated, Free) {
				p.freeSlot(s, h.index)
				return
			}
		}
	}
}

func (p *Pool) freeSlot(s *slot, idx uint32) {
	s.work.Store(nil)
	s.generation.Add(1)
	p.active.Add(-1)
	p.pushFree(idx)
	p.signalWaiters()
	p.fireCapacityAvailable()
}

// SelectForExecution pulls one ready index from the any-thread SignalIndex
// and transitions it Scheduled -> Executing. Returns InvalidHandle if the
// pool is stopping, the index is empty, or the CAS lost the race.
func (p *Pool) SelectForExecution(bias *uint64) Handle {
	return p.selectFrom(p.anyIndex, &p.selecting, &p.scheduledAny, &p.executingAny, bias)
}

// SelectForMainThread is SelectForExecution's counterpart for the
// main-thread ready-set.
func (p *Pool) SelectForMainThread(bias *uint64) Handle {
	return p.selectFrom(p.mainIndex, &p.mainSelecting, &p.scheduledMain, &p.executingMain, bias)
}

func (p *Pool) selectFrom(idx *signalindex.Index, guard, scheduledCtr, executingCtr *atomic.Int32, bias *uint64) Handle {
	guard.Add(1)
	defer guard.Add(-1)
	if p.stopping.Load() {
		return InvalidHandle
	}
	i, ok, _ := idx.Select(bias)
	if !ok {
		return InvalidHandle
	}
	s := &p.slots[i]
	if !s.state.cas(Scheduled, Executing) {
		return InvalidHandle
	}
	scheduledCtr.Add(-1)
	executingCtr.Add(1)
	return Handle{owner: p, index: uint32(i), generation: s.generation.Load()}
}

// Execute invokes the work stored in h's slot. h must have been obtained
// from SelectForExecution or SelectForMainThread.
func (p *Pool) Execute(h Handle) {
	s, ok := p.validate(h)
	if !ok {
		return
	}
	if w := s.work.Load(); w != nil {
		(*w)()
	}
}

// Complete transitions an any-thread slot Executing -> Free.
func (p *Pool) Complete(h Handle) {
	p.completeInternal(h, &p.executingAny)
}

// CompleteMainThread transitions a main-thread slot Executing -> Free.
func (p *Pool) CompleteMainThread(h Handle) {
	p.completeInternal(h, &p.executingMain)
}

func (p *Pool) completeInternal(h Handle, executingCtr *atomic.Int32) {
	s, ok := p.validate(h)
	if !ok {
		return
	}
	if !s.state.cas(Executing, Free) {
		panic("contract: complete called on a slot that was not Executing")
	}
	executingCtr.Add(-1)
	p.freeSlot(s, h.index)
}

func (p *Pool) signalWaiters() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until all scheduled and executing work drains. If the pool
// is stopping, it instead blocks until executing and in-flight selectors
// reach zero (scheduled work that never got picked up is abandoned).
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.drained() {
		p.cond.Wait()
	}
}

func (p *Pool) drained() bool {
	if p.stopping.Load() {
		return p.executingAny.Load() == 0 &&
			p.executingMain.Load() == 0 &&
			p.selecting.Load() == 0 &&
			p.mainSelecting.Load() == 0
	}
	return p.scheduledAny.Load() == 0 &&
		p.scheduledMain.Load() == 0 &&
		p.executingAny.Load() == 0 &&
		p.executingMain.Load() == 0
}

// Stop sets the stopping flag: select_* calls start returning invalid even
// if signals remain, but currently executing work is left to finish.
func (p *Pool) Stop() {
	p.stopping.Store(true)
	p.signalWaiters()
}

// Resume clears the stopping flag.
func (p *Pool) Resume() {
	p.stopping.Store(false)
	p.signalWaiters()
}

// ExecuteAllBackground loops select->execute->complete on the calling
// goroutine until the any-thread ready-set is empty.
func (p *Pool) ExecuteAllBackground() int {
	var bias uint64
	n := 0
	for {
		h := p.SelectForExecution(&bias)
		if !h.IsValid() {
			return n
		}
		p.Execute(h)
		p.Complete(h)
		n++
	}
}

// ExecuteAllMainThread loops select->execute->complete on the calling
// (main) thread, stopping after max iterations or an empty ready-set.
func (p *Pool) ExecuteAllMainThread(max int) int {
	var bias uint64
	n := 0
	for n < max {
		h := p.SelectForMainThread(&bias)
		if !h.IsValid() {
			return n
		}
		p.Execute(h)
		p.CompleteMainThread(h)
		n++
	}
	return n
}

// ExecuteMainThread is an alias of ExecuteAllMainThread, named to match
// spec.md §6's pool-surface listing of `execute_main_thread(n)` as an
// entry distinct from `execute_all_main_thread(max)`; both names bound
// the calling thread to at most n contracts from the main-thread
// ready-set. workerservice.Service.ExecuteMainThreadWorkForPool calls
// this one.
func (p *Pool) ExecuteMainThread(n int) int {
	return p.ExecuteAllMainThread(n)
}

func (p *Pool) notifyWorkAvailable() {
	p.providerMu.RLock()
	pv := p.provider
	p.providerMu.RUnlock()
	if pv != nil {
		pv.NotifyWorkAvailable(p)
	}
}

func (p *Pool) notifyMainThreadWorkAvailable() {
	p.providerMu.RLock()
	pv := p.provider
	p.providerMu.RUnlock()
	if pv != nil {
		pv.NotifyMainThreadWorkAvailable(p)
	}
}

// Close runs the pool's destruction sequence: stop, wait for executing
// and in-flight selectors to drain, force-unschedule any still-Scheduled
// slots, force-release remaining Allocated slots, assert counters are
// zero, and detach from the provider.
func (p *Pool) Close() {
	p.Stop()
	p.Wait()
	for i := range p.slots {
		h := Handle{owner: p, index: uint32(i), generation: p.slots[i].generation.Load()}
		p.Release(h)
	}
	if p.active.Load() != 0 {
		panic("contract: pool closed with active slots remaining")
	}
	p.providerMu.Lock()
	if p.provider != nil {
		p.provider.NotifyGroupDestroyed(p)
	}
	p.provider = nil
	p.providerMu.Unlock()
}
