// Package events implements the lifecycle event bus that
// workgraph.WorkGraph optionally publishes to. The pool and service event
// types below are defined, but contract.Pool and workerservice.Service do
// not emit them.
// It is the ambient observability layer the core delegates to instead of
// a structured logging library, following the teacher's own events.Bus +
// events.LogHandler pattern (see DESIGN.md for why no logging library
// from the corpus was a better fit).
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is a single occurrence in the scheduling substrate's lifecycle: a
// contract scheduled, a node transitioning state, a pool destroyed.
type Event struct {
	// ID is a monotonic, sortable identifier assigned by the Bus on
	// Emit, so a consumer reading events out of band (a dashboard)
	// can order them without relying on wall-clock time alone.
	ID ulid.ULID `json:"id"`

	// Time is when the event occurred, set by the Bus on Emit.
	Time time.Time `json:"time"`

	// Type identifies what happened.
	Type EventType `json:"type"`

	// Pool names the contract.Pool this event relates to, empty if the
	// event is not pool-scoped.
	Pool string `json:"pool,omitempty"`

	// Node names the workgraph node this event relates to, empty if the
	// event is not node-scoped.
	Node string `json:"node,omitempty"`

	// Payload carries event-specific data; its shape varies by Type.
	Payload any `json:"payload,omitempty"`

	// Error holds a failure message if this is a failure event.
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category.
type EventType string

// Pool lifecycle events.
const (
	PoolContractCreated   EventType = "pool.contract.created"
	PoolContractScheduled EventType = "pool.contract.scheduled"
	PoolContractExecuting EventType = "pool.contract.executing"
	PoolContractCompleted EventType = "pool.contract.completed"
	PoolStopped           EventType = "pool.stopped"
	PoolDestroyed         EventType = "pool.destroyed"
)

// Worker service lifecycle events.
const (
	ServiceStarted     EventType = "service.started"
	ServiceStopped     EventType = "service.stopped"
	ServicePoolAdded   EventType = "service.pool.added"
	ServicePoolRemoved EventType = "service.pool.removed"
)

// WorkGraph / node lifecycle events.
const (
	GraphStarted        EventType = "graph.started"
	GraphSuspended      EventType = "graph.suspended"
	GraphResumed        EventType = "graph.resumed"
	GraphDrained        EventType = "graph.drained"
	NodeAdded           EventType = "node.added"
	NodeDependencyAdded EventType = "node.dependency.added"
	NodeScheduled       EventType = "node.scheduled"
	NodeExecuting       EventType = "node.executing"
	NodeCompleted       EventType = "node.completed"
	NodeFailed          EventType = "node.failed"
	NodeCancelled       EventType = "node.cancelled"
	NodeYielded         EventType = "node.yielded"
	NodeDropped         EventType = "node.dropped"
)

// NewEvent creates an event of the given type, unstamped: Bus.Emit fills
// in ID and Time.
func NewEvent(eventType EventType) Event {
	return Event{Type: eventType}
}

// WithPool returns a copy of the event tagged with a pool name.
func (e Event) WithPool(name string) Event {
	e.Pool = name
	return e
}

// WithNode returns a copy of the event tagged with a node name.
func (e Event) WithNode(name string) Event {
	e.Node = name
	return e
}

// WithPayload returns a copy of the event with the payload set.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure reports whether this is a failure event type.
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed")
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Pool != "" {
		parts = append(parts, "pool="+e.Pool)
	}
	if e.Node != "" {
		parts = append(parts, "node="+e.Node)
	}
	if e.Error != "" {
		parts = append(parts, "err="+e.Error)
	}
	return strings.Join(parts, " ")
}
