package workerservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kforge/taskgraph/contract"
)

func TestRegistryAddAndRemove(t *testing.T) {
	r := newRegistry(2)
	p1 := contract.New(1)
	p2 := contract.New(1)

	require.Equal(t, addedResult, r.add(p1))
	require.Equal(t, existsResult, r.add(p1))
	require.Equal(t, addedResult, r.add(p2))
	assert.Equal(t, 2, r.count())

	require.Equal(t, removedResult, r.remove(p1))
	require.Equal(t, notFoundResult, r.remove(p1))
	assert.Equal(t, 1, r.count())
}

func TestRegistryClearAllEmptiesSnapshot(t *testing.T) {
	r := newRegistry(2)
	r.add(contract.New(1))
	r.add(contract.New(1))
	require.Equal(t, 2, r.count())

	r.clearAll()
	assert.Equal(t, 0, r.count())
}

func TestRegistrySnapshotIsolatedFromConcurrentMutation(t *testing.T) {
	r := newRegistry(1)
	p1 := contract.New(1)
	r.add(p1)

	snap := r.snapshot(0)
	require.Len(t, snap, 1)

	p2 := contract.New(1)
	r.add(p2)

	// The snapshot already taken must not observe the later addition.
	assert.Len(t, snap, 1)
	r.clear(0)

	snap2 := r.snapshot(0)
	assert.Len(t, snap2, 2)
	r.clear(0)
}

func TestRegistryReclaimsOnlyAfterReadersAdvance(t *testing.T) {
	r := newRegistry(1)
	p1 := contract.New(1)
	r.add(p1)

	_ = r.snapshot(0) // reader cell now pinned at an early generation

	p2 := contract.New(1)
	r.add(p2) // retires the pre-p2 snapshot while reader 0 is still "in"

	r.mu.Lock()
	retiredWhileReading := len(r.retired)
	r.mu.Unlock()
	assert.Greater(t, retiredWhileReading, 0, "retired snapshot must be held while a reader might still reference it")

	r.clear(0)
	r.add(contract.New(1)) // triggers another reclaim pass

	r.mu.Lock()
	retiredAfterClear := len(r.retired)
	r.mu.Unlock()
	assert.Less(t, retiredAfterClear, retiredWhileReading+1, "retired snapshots must shrink once the reader clears")
}
