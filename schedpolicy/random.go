package schedpolicy

import "github.com/kforge/taskgraph/contract"

// Random starts its scan at a pseudo-random offset derived from the
// caller's hint, which it also advances (a small xorshift64), rather than
// taking a global PRNG lock on the hot path.
type Random struct{}

// NewRandom constructs a Random policy.
func NewRandom() *Random { return &Random{} }

func xorshift64(x uint64) uint64 {
	if x == 0 {
		x = 0x9E3779B97F4A7C15
	}
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}

func (Random) Select(pools []*contract.Pool, threadID int, hint *uint64) Decision {
	n := len(pools)
	if n == 0 {
		return Decision{Action: ActionYield}
	}
	*hint = xorshift64(*hint)
	start := int(*hint % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if pools[idx].Scheduled() > 0 {
			return Decision{Pool: pools[idx], Action: ActionTry}
		}
	}
	return Decision{Action: ActionYield}
}

func (Random) OnExecuted(*contract.Pool, int) {}
func (Random) OnMiss(*contract.Pool, int)     {}
