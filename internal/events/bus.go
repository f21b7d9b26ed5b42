package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Handler receives events published to a Bus. Handlers run synchronously
// on the publishing goroutine but outside the Bus's subscriber lock, so a
// slow handler stalls only the component that emitted, never other
// subscribers' registration/removal calls.
type Handler func(Event)

// Token identifies a registered Handler for later removal via Unsubscribe.
type Token uint64

// Bus is a mutex-guarded pub/sub event bus. The teacher's own bus.go
// defined a Bus with a Capacity and an unused events channel but no
// working Emit/Subscribe; this promotes that sketch into something the
// core's components can actually publish lifecycle events to (see
// DESIGN.md).
type Bus struct {
	entropy *ulid.MonotonicEntropy

	mu        sync.Mutex
	handlers  map[Token]Handler
	nextToken Token
}

// NewBus constructs an empty Bus ready for Subscribe/Emit.
func NewBus() *Bus {
	return &Bus{
		entropy:  ulid.Monotonic(rand.Reader, 0),
		handlers: make(map[Token]Handler),
	}
}

// Subscribe registers handler and returns a token for later removal.
func (b *Bus) Subscribe(handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok := b.nextToken
	b.nextToken++
	b.handlers[tok] = handler
	return tok
}

// Unsubscribe removes a previously registered handler. A no-op if tok is
// unknown (already removed, or never valid).
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, tok)
}

// Emit stamps e with an ID and timestamp (if not already set) and
// delivers it to every currently registered handler, in registration
// order. Handlers are invoked outside the subscriber lock: a handler that
// subscribes or unsubscribes from within itself does not deadlock.
func (b *Bus) Emit(e Event) {
	now := time.Now()
	if e.Time.IsZero() {
		e.Time = now
	}

	b.mu.Lock()
	var zero ulid.ULID
	if e.ID == zero {
		// ulid's MonotonicEntropy is not safe for concurrent New calls;
		// generate it under the same lock that guards handler registration.
		e.ID = ulid.MustNew(ulid.Timestamp(now), b.entropy)
	}
	snapshot := make([]Handler, 0, len(b.handlers))
	for tok := Token(0); tok < b.nextToken; tok++ {
		if h, ok := b.handlers[tok]; ok {
			snapshot = append(snapshot, h)
		}
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		h(e)
	}
}
