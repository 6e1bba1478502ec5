// Package trajectory records the event tree a completion run produces.
// Events are append-only and immutable once recorded; sub-completion
// events link to their parent call and carry a strictly greater depth.
package trajectory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/recurse/pkg/models"
)

// Sink receives every recorded event. Sinks must tolerate concurrent
// writers.
type Sink interface {
	Write(event models.TrajectoryEvent) error
}

// Recorder accumulates the events of one trajectory in creation order.
type Recorder struct {
	mu     sync.Mutex
	id     string
	events []models.TrajectoryEvent
	sinks  []Sink

	nowFunc func() time.Time
}

// NewRecorder creates a recorder. An empty id mints a fresh UUID.
func NewRecorder(id string, sinks ...Sink) *Recorder {
	if id == "" {
		id = uuid.NewString()
	}
	return &Recorder{id: id, sinks: sinks, nowFunc: time.Now}
}

// ID returns the trajectory identifier.
func (r *Recorder) ID() string { return r.id }

// Record appends one event, stamping the trajectory id and timestamp.
// Sink write failures are ignored; recording must never fail a run.
func (r *Recorder) Record(event models.TrajectoryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.TrajectoryID = r.id
	if event.CallID == "" {
		event.CallID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.nowFunc()
	}
	r.events = append(r.events, event)
	for _, sink := range r.sinks {
		_ = sink.Write(event)
	}
}

// Merge appends a sub-run's events under this trajectory, preserving
// their order and internal parent links. Each event keeps its own depth;
// callers adjust depths before the sub-run starts, not after.
func (r *Recorder) Merge(events []models.TrajectoryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		event.TrajectoryID = r.id
		r.events = append(r.events, event)
		for _, sink := range r.sinks {
			_ = sink.Write(event)
		}
	}
}

// Events returns a copy of all recorded events in creation order.
func (r *Recorder) Events() []models.TrajectoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TrajectoryEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Usage sums token consumption across all recorded events.
func (r *Recorder) Usage() models.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total models.Usage
	for _, event := range r.events {
		total.InputTokens += event.InputTokens
		total.OutputTokens += event.OutputTokens
	}
	return total
}

// Costs returns the per-event cost estimates in creation order. Entries
// are nil where the model had no pricing.
func (r *Recorder) Costs() []*float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*float64, len(r.events))
	for i, event := range r.events {
		out[i] = event.EstimatedCostUSD
	}
	return out
}

// SetNowFunc overrides the clock. Tests only.
func (r *Recorder) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}
