// Package workerservice implements the multi-threaded worker service that
// multiplexes many contract pools across a fixed thread set via a
// pluggable scheduling policy, with safe concurrent pool registration and
// teardown while workers are active.
package workerservice

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kforge/taskgraph/contract"
	"github.com/kforge/taskgraph/schedpolicy"
)

// AddPoolResult reports the outcome of AddPool.
type AddPoolResult int

const (
	Added AddPoolResult = iota
	Exists
)

func (r AddPoolResult) String() string {
	if r == Added {
		return "Added"
	}
	return "Exists"
}

// RemovePoolResult reports the outcome of RemovePool.
type RemovePoolResult int

const (
	Removed RemovePoolResult = iota
	NotFound
)

func (r RemovePoolResult) String() string {
	if r == Removed {
		return "Removed"
	}
	return "NotFound"
}

// MainThreadWorkResult is returned by ExecuteMainThreadWork.
type MainThreadWorkResult struct {
	Executed      int
	PoolsWithWork int
	MoreAvailable bool
}

// Service is a thread pool that repeatedly asks a schedpolicy.Policy which
// registered pool to service next, and drives that pool's any-thread
// ready-set. Main-thread-affinity work is left for the caller to pump via
// ExecuteMainThreadWork.
type Service struct {
	registry    *registry
	policy      schedpolicy.Policy
	threadCount int

	softFailureThreshold int
	failureSleep         time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	eg      *errgroup.Group

	wakeMu sync.Mutex
	wakeCh chan struct{}
}

// mainThreadSlot is the extra registry reader cell reserved for
// ExecuteMainThreadWork / HasMainThreadWork, which run on whatever
// goroutine the caller pumps them from rather than a worker thread.
const mainThreadSlot = 0

// New constructs a Service. threadCount of 0 uses runtime.GOMAXPROCS(0),
// clamped to at least 1, mirroring spec.md's "0 => hardware parallelism"
// directive.
func New(threadCount int, policy schedpolicy.Policy, cfg ServiceConfig) *Service {
	if threadCount <= 0 {
		threadCount = runtime.GOMAXPROCS(0)
	}
	if threadCount < 1 {
		threadCount = 1
	}
	s := &Service{
		registry:             newRegistry(threadCount + 1), // +1 for the main-thread pump cell
		policy:               policy,
		threadCount:          threadCount,
		softFailureThreshold: cfg.softFailureThresholdOrDefault(),
		failureSleep:         cfg.failureSleepOrDefault(),
		wakeCh:               make(chan struct{}),
	}
	return s
}

// workerThreadID offsets worker thread IDs past the reserved main-thread
// slot so the two never collide in the registry's reader cells.
func workerThreadID(t int) int { return t + 1 }

// AddPool registers pool with the service and installs the service as its
// concurrency provider.
func (s *Service) AddPool(p *contract.Pool) AddPoolResult {
	res := s.registry.add(p)
	if res == addedResult {
		p.SetConcurrencyProvider(s)
		return Added
	}
	return Exists
}

// RemovePool unregisters pool. A no-op (returning NotFound) if it was
// never registered.
func (s *Service) RemovePool(p *contract.Pool) RemovePoolResult {
	if s.registry.remove(p) == removedResult {
		return Removed
	}
	return NotFound
}

// PoolCount returns the number of currently registered pools.
func (s *Service) PoolCount() int { return s.registry.count() }

// Clear removes every registered pool from the service, per spec.md §6's
// `clear()` service operation. Pools already selecting or executing work
// finish that cycle on their own; Clear only stops future selection from
// considering them.
func (s *Service) Clear() { s.registry.clearAll() }

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Service) IsRunning() bool { return s.running.Load() }

// Start launches one goroutine per worker thread. A no-op if already
// running.
func (s *Service) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg
	for t := 0; t < s.threadCount; t++ {
		id := workerThreadID(t)
		eg.Go(func() error {
			s.workerLoop(egCtx, id)
			return nil
		})
	}
}

// RequestStop signals all worker goroutines to exit their loops and wakes
// any that are currently sleeping in backoff.
func (s *Service) RequestStop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.broadcastWake()
}

// WaitForStop blocks until all worker goroutines have exited.
func (s *Service) WaitForStop() error {
	if s.eg == nil {
		return nil
	}
	err := s.eg.Wait()
	s.running.Store(false)
	return err
}

// Stop requests a stop and waits for it to complete.
func (s *Service) Stop() error {
	s.RequestStop()
	return s.WaitForStop()
}

// broadcastWake wakes every worker goroutine parked in backoff, using the
// standard close-and-replace channel idiom: closing wakeCh broadcasts to
// every goroutine selecting on it, then a fresh channel is installed for
// the next round of sleepers.
func (s *Service) broadcastWake() {
	s.wakeMu.Lock()
	close(s.wakeCh)
	s.wakeCh = make(chan struct{})
	s.wakeMu.Unlock()
}

func (s *Service) sleepChannel() chan struct{} {
	s.wakeMu.Lock()
	ch := s.wakeCh
	s.wakeMu.Unlock()
	return ch
}

// NotifyWorkAvailable implements contract.Provider: wakes sleeping workers
// so they re-scan the registry promptly instead of waiting out the full
// backoff timeout.
func (s *Service) NotifyWorkAvailable(*contract.Pool) { s.broadcastWake() }

// NotifyMainThreadWorkAvailable implements contract.Provider. The
// main-thread pump is driven externally (ExecuteMainThreadWork), so there
// is nothing to wake here beyond making the work visible to the next poll.
func (s *Service) NotifyMainThreadWorkAvailable(*contract.Pool) {}

// NotifyGroupDestroyed implements contract.Provider: a pool that has torn
// itself down is removed from the registry so workers stop scanning it.
func (s *Service) NotifyGroupDestroyed(p *contract.Pool) { s.registry.remove(p) }

func (s *Service) workerLoop(ctx context.Context, threadID int) {
	var hint uint64 // policy rotation state
	var bias uint64 // SignalIndex traversal bias
	missStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pools := s.registry.snapshot(threadID)
		decision := s.policy.Select(pools, threadID, &hint)
		s.registry.clear(threadID)

		switch decision.Action {
		case schedpolicy.ActionTry:
			h := decision.Pool.SelectForExecution(&bias)
			if !h.IsValid() {
				s.policy.OnMiss(decision.Pool, threadID)
				missStreak++
				break
			}
			decision.Pool.Execute(h)
			decision.Pool.Complete(h)
			s.policy.OnExecuted(decision.Pool, threadID)
			missStreak = 0
		case schedpolicy.ActionYield:
			runtime.Gosched()
			missStreak++
		case schedpolicy.ActionSleep:
			missStreak = s.softFailureThreshold
		}

		if missStreak >= s.softFailureThreshold {
			s.parkUntilWoken(ctx)
			missStreak = 0
		}
	}
}

func (s *Service) parkUntilWoken(ctx context.Context) {
	ch := s.sleepChannel()
	timer := time.NewTimer(s.failureSleep)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// ExecuteMainThreadWork pumps the main-thread ready-set of every
// registered pool from the calling goroutine, round-robin, until max
// contracts have executed or every pool's main-thread ready-set is empty.
func (s *Service) ExecuteMainThreadWork(max int) MainThreadWorkResult {
	pools := s.registry.snapshot(mainThreadSlot)
	defer s.registry.clear(mainThreadSlot)

	executed := 0
	for executed < max {
		ranThisPass := false
		for _, p := range pools {
			if executed >= max {
				break
			}
			if n := p.ExecuteAllMainThread(1); n > 0 {
				executed += n
				ranThisPass = true
			}
		}
		if !ranThisPass {
			break
		}
	}

	poolsWithWork := 0
	moreAvailable := false
	for _, p := range pools {
		if p.MainThreadScheduled() > 0 || p.MainThreadExecuting() > 0 {
			poolsWithWork++
		}
		if p.MainThreadScheduled() > 0 {
			moreAvailable = true
		}
	}

	return MainThreadWorkResult{Executed: executed, PoolsWithWork: poolsWithWork, MoreAvailable: moreAvailable}
}

// ExecuteMainThreadWorkForPool pumps a single pool's main-thread ready-set
// from the calling goroutine, per spec.md §6's
// `execute_main_thread_work(pool, max) -> executed` form. It is a thin
// wrapper over pool.ExecuteMainThread(max): since the caller already
// holds the pool reference, there is no registry scan to pin against the
// reserved main-thread reader slot, unlike the all-pools form above.
func (s *Service) ExecuteMainThreadWorkForPool(p *contract.Pool, max int) int {
	return p.ExecuteMainThread(max)
}

// HasMainThreadWork is a cheap snapshot query across all registered pools.
func (s *Service) HasMainThreadWork() bool {
	pools := s.registry.snapshot(mainThreadSlot)
	defer s.registry.clear(mainThreadSlot)
	for _, p := range pools {
		if p.MainThreadScheduled() > 0 {
			return true
		}
	}
	return false
}
