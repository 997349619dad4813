package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventRingCapacity is the number of validation events retained.
const EventRingCapacity = 100

// Event result values.
const (
	EventResultOK          = "ok"
	EventResultViolation   = "violation"
	EventResultUnsupported = "unsupported_constraint"
)

// Event records the outcome of one validation check.
type Event struct {
	ID           string    `json:"event_id"`
	TypeName     string    `json:"type_name"`
	Result       string    `json:"result"`
	ConstraintID string    `json:"constraint_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// EventRing is a bounded ring buffer of validation events.
// When full, the oldest event is evicted.
type EventRing struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

// NewEventRing creates a ring with the given capacity.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = EventRingCapacity
	}
	return &EventRing{buf: make([]Event, capacity)}
}

// Push appends an event, evicting the oldest when the ring is full.
// An empty ID and zero timestamp are filled in.
func (r *EventRing) Push(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the retained events, oldest first.
func (r *EventRing) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of retained events.
func (r *EventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reset discards all retained events. Test-only.
func (r *EventRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.count = 0
}
