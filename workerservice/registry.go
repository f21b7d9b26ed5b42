package workerservice

import (
	"sync"
	"sync/atomic"

	"github.com/kforge/taskgraph/contract"
)

// noReader is the sentinel a thread's generation cell holds while it is
// not in the middle of reading the registry snapshot.
const noReader = ^uint64(0)

// registry is the epoch-reclaimed, copy-on-write vector of registered
// pools described in spec.md §4.4. Reads are lock-free: a worker thread
// publishes the current global generation to its own cell, loads the
// snapshot pointer, and clears its cell when done. Writers serialize under
// a mutex, publish a new snapshot, and retire the old one until every
// thread's cell has advanced past the retirement generation.
type registry struct {
	ptr       atomic.Pointer[[]*contract.Pool]
	globalGen atomic.Uint64

	threadGens []atomic.Uint64

	mu      sync.Mutex
	retired []retiredSnapshot
}

type retiredSnapshot struct {
	gen uint64
	snp *[]*contract.Pool
}

// newRegistry constructs an empty registry with readerSlots independent
// generation cells (one per worker thread, plus any extra callers such as
// a main-thread pump).
func newRegistry(readerSlots int) *registry {
	r := &registry{threadGens: make([]atomic.Uint64, readerSlots)}
	empty := make([]*contract.Pool, 0)
	r.ptr.Store(&empty)
	for i := range r.threadGens {
		r.threadGens[i].Store(noReader)
	}
	return r
}

// snapshot publishes the current global generation to readerID's cell,
// then returns the current pool vector. Callers must call clear(readerID)
// once done referencing the returned slice.
func (r *registry) snapshot(readerID int) []*contract.Pool {
	gen := r.globalGen.Load()
	r.threadGens[readerID].Store(gen)
	return *r.ptr.Load()
}

// clear releases readerID's advertised generation, allowing retired
// snapshots it may have been reading to be reclaimed.
func (r *registry) clear(readerID int) {
	r.threadGens[readerID].Store(noReader)
}

type addResult int

const (
	addedResult addResult = iota
	existsResult
)

type removeResult int

const (
	removedResult removeResult = iota
	notFoundResult
)

func (r *registry) add(p *contract.Pool) addResult {
	result := addedResult
	r.mutate(func(old []*contract.Pool) []*contract.Pool {
		for _, q := range old {
			if q == p {
				result = existsResult
				return old
			}
		}
		next := make([]*contract.Pool, len(old)+1)
		copy(next, old)
		next[len(old)] = p
		return next
	})
	return result
}

func (r *registry) remove(p *contract.Pool) removeResult {
	result := notFoundResult
	r.mutate(func(old []*contract.Pool) []*contract.Pool {
		idx := -1
		for i, q := range old {
			if q == p {
				idx = i
				break
			}
		}
		if idx < 0 {
			return old
		}
		result = removedResult
		next := make([]*contract.Pool, 0, len(old)-1)
		next = append(next, old[:idx]...)
		next = append(next, old[idx+1:]...)
		return next
	})
	return result
}

// clearAll empties the registry in one mutation, retiring the current
// snapshot the same way add/remove do.
func (r *registry) clearAll() {
	r.mutate(func(old []*contract.Pool) []*contract.Pool {
		return make([]*contract.Pool, 0)
	})
}

func (r *registry) mutate(fn func(old []*contract.Pool) []*contract.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldPtr := r.ptr.Load()
	next := fn(*oldPtr)
	r.ptr.Store(&next)
	gen := r.globalGen.Add(1)
	r.retired = append(r.retired, retiredSnapshot{gen: gen, snp: oldPtr})
	r.reclaim()
}

// reclaim drops retired snapshots whose generation every active reader
// has already advanced past. Must be called with r.mu held.
func (r *registry) reclaim() {
	minGen := ^uint64(0)
	for i := range r.threadGens {
		g := r.threadGens[i].Load()
		if g != noReader && g < minGen {
			minGen = g
		}
	}
	kept := r.retired[:0]
	for _, snap := range r.retired {
		if snap.gen < minGen {
			continue // eligible for GC; drop our reference
		}
		kept = append(kept, snap)
	}
	r.retired = kept
}

func (r *registry) count() int {
	return len(*r.ptr.Load())
}
