package schedpolicy

import (
	"sync"

	"github.com/kforge/taskgraph/contract"
)

// Adaptive ranks pools by their current Scheduled() depth, preferring the
// pool with the most queued work on the theory that it is least likely to
// go empty between the rank check and the actual select. Each miss adds
// one to a pool's penalty (at most missPenaltyRounds), and the penalty
// lasts until that pool's next successful execution, so one noisy pool
// can't starve a worker thread that keeps retrying it.
type Adaptive struct {
	mu      sync.Mutex
	penalty map[*contract.Pool]int
}

// NewAdaptive constructs an Adaptive policy.
func NewAdaptive() *Adaptive {
	return &Adaptive{penalty: make(map[*contract.Pool]int)}
}

const missPenaltyRounds = 3

func (a *Adaptive) score(p *contract.Pool) int {
	depth := int(p.Scheduled())
	if depth == 0 {
		return -1
	}
	a.mu.Lock()
	penalty := a.penalty[p]
	a.mu.Unlock()
	return depth - penalty
}

func (a *Adaptive) Select(pools []*contract.Pool, threadID int, hint *uint64) Decision {
	n := len(pools)
	if n == 0 {
		return Decision{Action: ActionYield}
	}
	start := int(*hint % uint64(n))
	best := -1
	bestScore := -1
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := a.score(pools[idx])
		if s > bestScore {
			bestScore = s
			best = idx
		}
	}
	if best < 0 || bestScore < 0 {
		*hint = uint64(start)
		return Decision{Action: ActionYield}
	}
	*hint = uint64(best + 1)
	return Decision{Pool: pools[best], Action: ActionTry}
}

func (a *Adaptive) OnExecuted(pool *contract.Pool, threadID int) {
	a.mu.Lock()
	delete(a.penalty, pool)
	a.mu.Unlock()
}

func (a *Adaptive) OnMiss(pool *contract.Pool, threadID int) {
	a.mu.Lock()
	if a.penalty[pool] < missPenaltyRounds {
		a.penalty[pool]++
	}
	a.mu.Unlock()
}
