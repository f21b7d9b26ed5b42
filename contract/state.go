package contract

import "sync/atomic"

// SlotState is the lifecycle state of a ContractSlot, backed by a plain
// uint32 so it can live inside an atomic.Uint32 and participate in CAS
// transitions.
type SlotState uint32

const (
	Free SlotState = iota
	Allocated
	Scheduled
	Executing
	Completed
)

func (s SlotState) String() string {
	switch s {
	case Free:
		return "Free"
	case Allocated:
		return "Allocated"
	case Scheduled:
		return "Scheduled"
	case Executing:
		return "Executing"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// ScheduleResult reports the outcome of a schedule/unschedule attempt.
type ScheduleResult int

const (
	ResultScheduled ScheduleResult = iota
	ResultAlreadyScheduled
	// ResultUnscheduled reports a successful Scheduled->Allocated transition.
	// spec.md lists only the failure outcomes for unschedule; we add an
	// explicit success value rather than overload ResultScheduled, which
	// would read backwards for an unschedule call.
	ResultUnscheduled
	ResultNotScheduled
	ResultExecuting
	ResultInvalid
)

func (r ScheduleResult) String() string {
	switch r {
	case ResultScheduled:
		return "Scheduled"
	case ResultAlreadyScheduled:
		return "AlreadyScheduled"
	case ResultUnscheduled:
		return "Unscheduled"
	case ResultNotScheduled:
		return "NotScheduled"
	case ResultExecuting:
		return "Executing"
	case ResultInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ExecutionType marks which ready-set a slot's index is published to.
type ExecutionType int

const (
	AnyThread ExecutionType = iota
	MainThread
)

func (e ExecutionType) String() string {
	if e == MainThread {
		return "MainThread"
	}
	return "AnyThread"
}

// slotState is a lock-free CAS-based state cell, the same pattern as the
// teacher's FastState: pure atomic transitions, no mutex, no validation
// beyond the CAS itself. Legality of a transition is enforced by the
// caller choosing the correct (from, to) pair.
type slotState struct {
	v atomic.Uint32
}

func (s *slotState) load() SlotState {
	return SlotState(s.v.Load())
}

func (s *slotState) store(state SlotState) {
	s.v.Store(uint32(state))
}

func (s *slotState) cas(from, to SlotState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
