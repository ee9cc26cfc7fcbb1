package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shipd-io/shipd/pkg/run"
)

// These are all the types of events.
const (
	EventRunCreated       = "run_created"
	EventStageFinished    = "stage_finished"
	EventAwaitingApproval = "awaiting_approval"
	EventApproved         = "approved"
	EventRejected         = "rejected"
	EventPublished        = "published"
	EventDescriptorUpdate = "descriptor_updated"
	EventRunFinished      = "run_finished"
)

type Event struct {
	// ID is a UUID for this event. Auto-set when recording if blank.
	ID string `json:"id"`

	RunID run.ID `json:"runID"`

	// Type is one of the Event* constants above.
	Type string `json:"type"`

	RecordedAt time.Time `json:"recordedAt"`

	// Message is a pre-formatted string for humans reading the run
	// history.
	Message string `json:"message,omitempty"`
}

type Writer interface {
	// Record appends an event to the history.
	Record(Event) error
}

func New(runID run.ID, typ, message string) Event {
	return Event{
		ID:         uuid.New().String(),
		RunID:      runID,
		Type:       typ,
		RecordedAt: time.Now().UTC(),
		Message:    message,
	}
}

// Ring keeps the most recent events in memory, for the API to serve.
type Ring struct {
	mu     sync.Mutex
	events []Event
	max    int
}

func NewRing(max int) *Ring {
	return &Ring{max: max}
}

func (r *Ring) Record(e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	return nil
}

// For returns the recorded events for one run, oldest first.
func (r *Ring) For(runID run.ID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}
