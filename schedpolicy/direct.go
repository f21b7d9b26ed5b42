package schedpolicy

import "github.com/kforge/taskgraph/contract"

// Direct binds every worker thread to a single fixed pool, bypassing scan
// order entirely. Useful when a service is known to have exactly one pool
// of interest and the scan overhead of the other policies is unwanted.
type Direct struct {
	pool *contract.Pool
}

// NewDirect constructs a Direct policy bound to pool.
func NewDirect(pool *contract.Pool) *Direct {
	return &Direct{pool: pool}
}

func (d *Direct) Select(pools []*contract.Pool, threadID int, hint *uint64) Decision {
	if d.pool == nil || d.pool.Scheduled() == 0 {
		return Decision{Action: ActionYield}
	}
	return Decision{Pool: d.pool, Action: ActionTry}
}

func (d *Direct) OnExecuted(*contract.Pool, int) {}
func (d *Direct) OnMiss(*contract.Pool, int)     {}
