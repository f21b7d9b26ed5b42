// Package schedpolicy implements the pluggable scheduler policy queried by
// a workerservice.Service on each loop iteration: given a set of pools,
// which one (if any) should a worker try next, and if none, should it
// yield or sleep.
package schedpolicy

import "github.com/kforge/taskgraph/contract"

// Action is the directive a Policy hands back when it has no pool to try.
type Action int

const (
	// ActionTry means Decision.Pool names a pool worth attempting a
	// SelectForExecution against.
	ActionTry Action = iota
	// ActionYield means no pool currently has work; the caller should
	// yield the processor and retry soon.
	ActionYield
	// ActionSleep means the caller should back off further, typically by
	// blocking on a condition variable until woken or timed out.
	ActionSleep
)

func (a Action) String() string {
	switch a {
	case ActionTry:
		return "Try"
	case ActionYield:
		return "Yield"
	case ActionSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

// Decision is a Policy's answer to Select.
type Decision struct {
	Pool   *contract.Pool
	Action Action
}

// Policy is queried by a worker loop on each iteration. hint is owned by
// the calling worker thread (one per thread_id) and carried across calls
// so a policy can remember rotation state without shared mutable state
// between threads.
type Policy interface {
	// Select returns either a pool to try (ActionTry) or a backoff
	// directive (ActionYield / ActionSleep).
	Select(pools []*contract.Pool, threadID int, hint *uint64) Decision
	// OnExecuted is feedback after a successful select+execute+complete
	// cycle against pool.
	OnExecuted(pool *contract.Pool, threadID int)
	// OnMiss is feedback after a selection attempt against pool came back
	// empty or lost its CAS race.
	OnMiss(pool *contract.Pool, threadID int)
}
