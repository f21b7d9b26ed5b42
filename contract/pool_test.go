package contract

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContractAllocatesAndRecyclesSlots(t *testing.T) {
	p := New(2)

	h1 := p.CreateContract(func() {}, AnyThread)
	require.True(t, h1.IsValid())
	h2 := p.CreateContract(func() {}, AnyThread)
	require.True(t, h2.IsValid())

	h3 := p.CreateContract(func() {}, AnyThread)
	assert.False(t, h3.IsValid(), "pool at capacity must return an invalid handle")

	p.Release(h1)
	h4 := p.CreateContract(func() {}, AnyThread)
	assert.True(t, h4.IsValid(), "releasing a slot must make capacity available again")
}

func TestScheduleTransitionsAndReportsStates(t *testing.T) {
	p := New(1)
	h := p.CreateContract(func() {}, AnyThread)

	assert.Equal(t, ResultScheduled, p.Schedule(h))
	assert.Equal(t, ResultAlreadyScheduled, p.Schedule(h))

	var bias uint64
	exec := p.SelectForExecution(&bias)
	require.True(t, exec.IsValid())
	assert.Equal(t, ResultExecuting, p.Schedule(exec))
}

func TestUnscheduleRemovesFromReadySet(t *testing.T) {
	p := New(1)
	h := p.CreateContract(func() {}, AnyThread)
	require.Equal(t, ResultScheduled, p.Schedule(h))

	assert.Equal(t, ResultUnscheduled, p.Unschedule(h))

	var bias uint64
	got := p.SelectForExecution(&bias)
	assert.False(t, got.IsValid(), "unscheduled slot must not be selectable")

	assert.Equal(t, ResultNotScheduled, p.Unschedule(h))
}

func TestReleaseIsNoopWhileExecuting(t *testing.T) {
	p := New(1)
	h := p.CreateContract(func() {}, AnyThread)
	require.Equal(t, ResultScheduled, p.Schedule(h))

	var bias uint64
	exec := p.SelectForExecution(&bias)
	require.True(t, exec.IsValid())

	p.Release(exec)
	assert.Equal(t, int32(1), p.Active(), "release must not touch an Executing slot")

	p.Complete(exec)
	assert.Equal(t, int32(0), p.Active())
}

func TestGenerationInvalidatesStaleHandles(t *testing.T) {
	p := New(1)
	h := p.CreateContract(func() {}, AnyThread)
	require.Equal(t, ResultScheduled, p.Schedule(h))

	var bias uint64
	exec := p.SelectForExecution(&bias)
	require.True(t, exec.IsValid())
	p.Complete(exec)

	assert.Equal(t, ResultInvalid, p.Schedule(h), "handle from before release must be invalid afterward")
}

func TestSelectForExecutionNeverReturnsMainThreadSlot(t *testing.T) {
	p := New(4)
	anyH := p.CreateContract(func() {}, AnyThread)
	mainH := p.CreateContract(func() {}, MainThread)
	require.Equal(t, ResultScheduled, p.Schedule(anyH))
	require.Equal(t, ResultScheduled, p.Schedule(mainH))

	var bias uint64
	got := p.SelectForExecution(&bias)
	require.True(t, got.IsValid())
	assert.Equal(t, anyH.Index(), got.Index())

	none := p.SelectForExecution(&bias)
	assert.False(t, none.IsValid(), "main-thread work must not surface on the any-thread ready-set")
}

func TestExecuteAllBackgroundDrainsReadySet(t *testing.T) {
	p := New(8)
	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		h := p.CreateContract(func() { ran.Add(1) }, AnyThread)
		require.Equal(t, ResultScheduled, p.Schedule(h))
	}

	n := p.ExecuteAllBackground()
	assert.Equal(t, 8, n)
	assert.Equal(t, int32(8), ran.Load())
	assert.Equal(t, int32(0), p.Active())
}

func TestExecuteAllMainThreadRespectsBudget(t *testing.T) {
	p := New(8)
	for i := 0; i < 8; i++ {
		h := p.CreateContract(func() {}, MainThread)
		require.Equal(t, ResultScheduled, p.Schedule(h))
	}

	n := p.ExecuteAllMainThread(3)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(5), p.MainThreadScheduled())
}

func TestExecuteMainThreadIsEquivalentToExecuteAllMainThread(t *testing.T) {
	p := New(8)
	for i := 0; i < 5; i++ {
		h := p.CreateContract(func() {}, MainThread)
		require.Equal(t, ResultScheduled, p.Schedule(h))
	}

	n := p.ExecuteMainThread(3)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(2), p.MainThreadScheduled())
}

func TestStopDrainsOnlyAfterExecutingAndSelectingReachZero(t *testing.T) {
	p := New(1)
	h := p.CreateContract(func() {}, AnyThread)
	require.Equal(t, ResultScheduled, p.Schedule(h))

	var bias uint64
	exec := p.SelectForExecution(&bias)
	require.True(t, exec.IsValid())

	p.Stop()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before the executing slot completed")
	default:
	}

	p.Complete(exec)
	<-done
}

type fakeProvider struct {
	mu            sync.Mutex
	workAvailable int
	mainAvailable int
	destroyed     int
}

func (f *fakeProvider) NotifyWorkAvailable(*Pool) {
	f.mu.Lock()
	f.workAvailable++
	f.mu.Unlock()
}

func (f *fakeProvider) NotifyMainThreadWorkAvailable(*Pool) {
	f.mu.Lock()
	f.mainAvailable++
	f.mu.Unlock()
}

func (f *fakeProvider) NotifyGroupDestroyed(*Pool) {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
}

func TestProviderNotifiedOnScheduleAndClose(t *testing.T) {
	p := New(2)
	fp := &fakeProvider{}
	p.SetConcurrencyProvider(fp)

	h := p.CreateContract(func() {}, AnyThread)
	require.Equal(t, ResultScheduled, p.Schedule(h))

	p.Close()

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Equal(t, 1, fp.workAvailable)
	assert.Equal(t, 1, fp.destroyed)
}

func TestCapacityAvailableCallbackFiresOnRelease(t *testing.T) {
	p := New(1)
	var fired atomic.Int32
	tok := p.AddOnCapacityAvailable(func() { fired.Add(1) })

	h := p.CreateContract(func() {}, AnyThread)
	p.Release(h)
	assert.Equal(t, int32(1), fired.Load())

	p.RemoveOnCapacityAvailable(tok)
	h2 := p.CreateContract(func() {}, AnyThread)
	p.Release(h2)
	assert.Equal(t, int32(1), fired.Load(), "callback must not fire after removal")
}

// Free-list integrity: concurrent create/release on a small pool must
// never let the active count exceed capacity, and must never hand out
// the same slot index to two live handles simultaneously.
func TestFreeListIntegrityUnderConcurrency(t *testing.T) {
	const capacity = 16
	const workers = 32
	const rounds = 200

	p := New(capacity)
	var owned sync.Map // index -> true while a handle holds it

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				h := p.CreateContract(func() {}, AnyThread)
				if !h.IsValid() {
					continue
				}
				if _, loaded := owned.LoadOrStore(h.Index(), true); loaded {
					t.Errorf("slot %d double-allocated", h.Index())
				}
				owned.Delete(h.Index())
				p.Release(h)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Active(), int32(capacity))
	assert.Equal(t, int32(0), p.Active())
}
