package schedpolicy

import "github.com/kforge/taskgraph/contract"

// RoundRobin cycles through the registered pools in order, starting from
// where the last call for this thread's hint left off. It is stateless
// beyond the caller-owned hint.
type RoundRobin struct{}

// NewRoundRobin constructs a RoundRobin policy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (RoundRobin) Select(pools []*contract.Pool, threadID int, hint *uint64) Decision {
	n := len(pools)
	if n == 0 {
		return Decision{Action: ActionYield}
	}
	start := int(*hint % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if pools[idx].Scheduled() > 0 {
			*hint = uint64(idx + 1)
			return Decision{Pool: pools[idx], Action: ActionTry}
		}
	}
	*hint = uint64(start)
	return Decision{Action: ActionYield}
}

func (RoundRobin) OnExecuted(*contract.Pool, int) {}
func (RoundRobin) OnMiss(*contract.Pool, int)     {}
