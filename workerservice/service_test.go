package workerservice

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kforge/taskgraph/contract"
	"github.com/kforge/taskgraph/schedpolicy"
)

func testConfig() ServiceConfig {
	return ServiceConfig{SoftFailureThreshold: 4, FailureSleep: 5 * time.Millisecond}
}

func TestAddPoolReportsExistsOnDuplicate(t *testing.T) {
	s := New(2, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(4)

	assert.Equal(t, Added, s.AddPool(p))
	assert.Equal(t, Exists, s.AddPool(p))
	assert.Equal(t, 1, s.PoolCount())
}

func TestRemovePoolReportsNotFound(t *testing.T) {
	s := New(2, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(4)

	assert.Equal(t, NotFound, s.RemovePool(p))
	s.AddPool(p)
	assert.Equal(t, Removed, s.RemovePool(p))
	assert.Equal(t, NotFound, s.RemovePool(p))
}

func TestServiceDrivesScheduledWork(t *testing.T) {
	s := New(2, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(8)
	s.AddPool(p)
	s.Start()
	defer func() { require.NoError(t, s.Stop()) }()

	var ran atomic.Int32
	done := make(chan struct{})
	var completed atomic.Int32
	const n = 20
	for i := 0; i < n; i++ {
		h := p.CreateContract(func() {
			ran.Add(1)
			if completed.Add(1) == n {
				close(done)
			}
		}, contract.AnyThread)
		require.True(t, h.IsValid())
		require.Equal(t, contract.ResultScheduled, p.Schedule(h))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scheduled work to execute")
	}
	assert.Equal(t, int32(n), ran.Load())
}

func TestClearRemovesAllRegisteredPools(t *testing.T) {
	s := New(2, schedpolicy.NewRoundRobin(), testConfig())
	s.AddPool(contract.New(4))
	s.AddPool(contract.New(4))
	require.Equal(t, 2, s.PoolCount())

	s.Clear()
	assert.Equal(t, 0, s.PoolCount())
}

func TestExecuteMainThreadWorkForPoolBypassesRegistry(t *testing.T) {
	s := New(1, schedpolicy.NewRoundRobin(), testConfig())
	registered := contract.New(4)
	unregistered := contract.New(4)
	s.AddPool(registered)

	for i := 0; i < 3; i++ {
		h := unregistered.CreateContract(func() {}, contract.MainThread)
		require.True(t, h.IsValid())
		require.Equal(t, contract.ResultScheduled, unregistered.Schedule(h))
	}

	executed := s.ExecuteMainThreadWorkForPool(unregistered, 10)
	assert.Equal(t, 3, executed, "the per-pool pump must drive a pool even if it was never added to the service")
}

func TestExecuteMainThreadWorkRespectsBudgetAndReportsMore(t *testing.T) {
	s := New(1, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(8)
	s.AddPool(p)

	for i := 0; i < 5; i++ {
		h := p.CreateContract(func() {}, contract.MainThread)
		require.True(t, h.IsValid())
		require.Equal(t, contract.ResultScheduled, p.Schedule(h))
	}

	res := s.ExecuteMainThreadWork(3)
	assert.Equal(t, 3, res.Executed)
	assert.True(t, res.MoreAvailable)
	assert.Equal(t, 1, res.PoolsWithWork)

	res2 := s.ExecuteMainThreadWork(10)
	assert.Equal(t, 2, res2.Executed)
	assert.False(t, res2.MoreAvailable)
}

func TestHasMainThreadWork(t *testing.T) {
	s := New(1, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(4)
	s.AddPool(p)
	assert.False(t, s.HasMainThreadWork())

	h := p.CreateContract(func() {}, contract.MainThread)
	require.Equal(t, contract.ResultScheduled, p.Schedule(h))
	assert.True(t, s.HasMainThreadWork())
}

func TestPoolDestructionRemovesItFromRegistry(t *testing.T) {
	s := New(1, schedpolicy.NewRoundRobin(), testConfig())
	p := contract.New(4)
	s.AddPool(p)
	require.Equal(t, 1, s.PoolCount())

	p.Close()
	assert.Equal(t, 0, s.PoolCount())
}

func TestStartIsIdempotentAndStopDrainsGoroutines(t *testing.T) {
	s := New(2, schedpolicy.NewRoundRobin(), testConfig())
	s.Start()
	s.Start() // must not launch a second set of workers
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
