package schedpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kforge/taskgraph/contract"
)

func scheduledPool(t *testing.T, n int) *contract.Pool {
	t.Helper()
	p := contract.New(n + 1)
	for i := 0; i < n; i++ {
		h := p.CreateContract(func() {}, contract.AnyThread)
		require.True(t, h.IsValid())
		require.Equal(t, contract.ResultScheduled, p.Schedule(h))
	}
	return p
}

func TestRoundRobinSkipsEmptyPools(t *testing.T) {
	empty := scheduledPool(t, 0)
	busy := scheduledPool(t, 1)

	rr := NewRoundRobin()
	var hint uint64
	d := rr.Select([]*contract.Pool{empty, busy}, 0, &hint)
	assert.Equal(t, ActionTry, d.Action)
	assert.Same(t, busy, d.Pool)
}

func TestRoundRobinYieldsWhenAllEmpty(t *testing.T) {
	a := scheduledPool(t, 0)
	b := scheduledPool(t, 0)

	rr := NewRoundRobin()
	var hint uint64
	d := rr.Select([]*contract.Pool{a, b}, 0, &hint)
	assert.Equal(t, ActionYield, d.Action)
	assert.Nil(t, d.Pool)
}

func TestRoundRobinRotatesAcrossCalls(t *testing.T) {
	a := scheduledPool(t, 1)
	b := scheduledPool(t, 1)

	rr := NewRoundRobin()
	var hint uint64
	first := rr.Select([]*contract.Pool{a, b}, 0, &hint)
	second := rr.Select([]*contract.Pool{a, b}, 0, &hint)
	assert.NotSame(t, first.Pool, second.Pool, "round robin should not pick the same pool twice in a row when both have work")
}

func TestDirectIgnoresOtherPools(t *testing.T) {
	bound := scheduledPool(t, 1)
	other := scheduledPool(t, 1)

	d := NewDirect(bound)
	var hint uint64
	decision := d.Select([]*contract.Pool{other}, 0, &hint)
	assert.Same(t, bound, decision.Pool)
}

func TestDirectYieldsWhenBoundPoolEmpty(t *testing.T) {
	bound := scheduledPool(t, 0)
	d := NewDirect(bound)
	var hint uint64
	decision := d.Select(nil, 0, &hint)
	assert.Equal(t, ActionYield, decision.Action)
}

func TestAdaptivePrefersDeeperQueue(t *testing.T) {
	shallow := scheduledPool(t, 1)
	deep := scheduledPool(t, 4)

	ad := NewAdaptive()
	var hint uint64
	d := ad.Select([]*contract.Pool{shallow, deep}, 0, &hint)
	assert.Same(t, deep, d.Pool)
}

func TestAdaptivePenalizesRepeatedMisses(t *testing.T) {
	noisy := scheduledPool(t, 2)
	steady := scheduledPool(t, 1)

	ad := NewAdaptive()
	for i := 0; i < missPenaltyRounds; i++ {
		ad.OnMiss(noisy, 0)
	}

	var hint uint64
	d := ad.Select([]*contract.Pool{noisy, steady}, 0, &hint)
	assert.Same(t, steady, d.Pool, "a pool with repeated misses should lose out once its penalty exceeds its queue-depth edge")
}

func TestAdaptiveOnExecutedClearsPenalty(t *testing.T) {
	pool := scheduledPool(t, 1)
	ad := NewAdaptive()
	ad.OnMiss(pool, 0)
	ad.OnMiss(pool, 0)
	ad.OnExecuted(pool, 0)

	ad.mu.Lock()
	_, present := ad.penalty[pool]
	ad.mu.Unlock()
	assert.False(t, present)
}

func TestRandomEventuallyFindsTheOnlyBusyPool(t *testing.T) {
	busy := scheduledPool(t, 1)
	empties := make([]*contract.Pool, 5)
	for i := range empties {
		empties[i] = scheduledPool(t, 0)
	}
	pools := append(empties, busy)

	r := NewRandom()
	var hint uint64 = 12345
	found := false
	for i := 0; i < 50; i++ {
		d := r.Select(pools, 0, &hint)
		if d.Action == ActionTry {
			found = true
			assert.Same(t, busy, d.Pool)
			break
		}
	}
	assert.True(t, found, "random scan should eventually surface the only busy pool")
}
