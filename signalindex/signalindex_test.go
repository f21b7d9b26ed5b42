package signalindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundsCapacityToPow2Leaves(t *testing.T) {
	for _, capacity := range []int{1, 64, 65, 128, 127, 200, 1000} {
		idx := New(capacity)
		assert.True(t, idx.Capacity() >= capacity, "capacity %d should cover requested %d", idx.Capacity(), capacity)
		leaves := idx.Capacity() / 64
		assert.Equal(t, 0, leaves&(leaves-1), "leaf count %d must be a power of two", leaves)
		assert.GreaterOrEqual(t, leaves, 2, "leaf count must never degenerate to a single leaf")
	}
}

func TestSetSelectClearSingleSignal(t *testing.T) {
	idx := New(256)
	idx.Set(5)
	assert.False(t, idx.IsEmpty())
	assert.Equal(t, 1, idx.Count())

	var bias uint64
	got, ok, empty := idx.Select(&bias)
	require.True(t, ok)
	assert.Equal(t, 5, got)
	assert.True(t, empty)
	assert.True(t, idx.IsEmpty())
}

func TestSetIsIdempotent(t *testing.T) {
	idx := New(256)
	idx.Set(10)
	idx.Set(10)
	idx.Set(10)
	assert.Equal(t, 1, idx.Count())
}

func TestClearIsIdempotent(t *testing.T) {
	idx := New(256)
	idx.Set(10)
	idx.Clear(10)
	idx.Clear(10)
	assert.Equal(t, 0, idx.Count())
	assert.True(t, idx.IsEmpty())
}

func TestClearWithoutSetIsNoop(t *testing.T) {
	idx := New(256)
	idx.Clear(42)
	assert.True(t, idx.IsEmpty())
}

func TestSelectOnEmptyReturnsNotOK(t *testing.T) {
	idx := New(256)
	var bias uint64
	_, ok, empty := idx.Select(&bias)
	assert.False(t, ok)
	assert.True(t, empty)
}

// Uniqueness: every set signal is selected exactly once across repeated
// Select calls draining a fully-populated index.
func TestSelectUniquenessFullDrain(t *testing.T) {
	idx := New(256)
	n := idx.Capacity()
	for i := 0; i < n; i++ {
		idx.Set(i)
	}

	seen := make(map[int]bool, n)
	var bias uint64
	for {
		got, ok, _ := idx.Select(&bias)
		if !ok {
			break
		}
		require.False(t, seen[got], "signal %d selected more than once", got)
		seen[got] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, idx.IsEmpty())
}

// Counter consistency: the root count always matches the number of
// currently-set bits, through a mixed sequence of Set/Select/Clear.
func TestCounterConsistencyMixedOps(t *testing.T) {
	idx := New(256)
	want := 0
	for i := 0; i < 50; i++ {
		idx.Set(i)
		want++
	}
	assert.Equal(t, want, idx.Count())

	for i := 0; i < 20; i++ {
		idx.Clear(i)
		want--
	}
	assert.Equal(t, want, idx.Count())

	var bias uint64
	for i := 0; i < 10; i++ {
		_, ok, _ := idx.Select(&bias)
		require.True(t, ok)
		want--
	}
	assert.Equal(t, want, idx.Count())
}

// Fairness under bias rotation: selecting N times out of a full index of
// size N must return every signal exactly once, regardless of which
// subtrees are favored by the rotating bias hint.
func TestFairnessBiasRotationCoversAllSignals(t *testing.T) {
	idx := New(1024)
	n := idx.Capacity()
	for i := 0; i < n; i++ {
		idx.Set(i)
	}

	seen := make([]bool, n)
	var bias uint64
	for i := 0; i < n; i++ {
		got, ok, _ := idx.Select(&bias)
		require.True(t, ok, "expected a signal on iteration %d", i)
		require.False(t, seen[got], "signal %d returned twice", got)
		seen[got] = true
	}
	for i, s := range seen {
		assert.True(t, s, "signal %d never selected", i)
	}
}

// Concurrent Set/Select from many goroutines must never double-deliver a
// signal and must account for every signal exactly once.
func TestConcurrentSetSelectNoDuplication(t *testing.T) {
	idx := New(2048)
	n := idx.Capacity()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.Set(i)
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, idx.Count())

	var mu sync.Mutex
	seen := make(map[int]bool, n)
	results := make(chan int, n)
	workers := 8
	var selWg sync.WaitGroup
	for w := 0; w < workers; w++ {
		selWg.Add(1)
		go func(seed uint64) {
			defer selWg.Done()
			bias := seed
			for {
				got, ok, _ := idx.Select(&bias)
				if !ok {
					if idx.IsEmpty() {
						return
					}
					continue
				}
				results <- got
			}
		}(uint64(w) * 0x9E3779B1)
	}

	go func() {
		selWg.Wait()
		close(results)
	}()

	for got := range results {
		mu.Lock()
		require.False(t, seen[got], "signal %d delivered more than once", got)
		seen[got] = true
		mu.Unlock()
	}
	assert.Len(t, seen, n)
	assert.True(t, idx.IsEmpty())
}

func TestOutOfRangeIndexPanics(t *testing.T) {
	idx := New(64)
	assert.Panics(t, func() { idx.Set(idx.Capacity()) })
	assert.Panics(t, func() { idx.Set(-1) })
}
