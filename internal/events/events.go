// Package events publishes scan outcomes to interested collaborators and keeps
// a bounded history of recent detections for operator review.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cvalentine99/binscore/internal/models"
)

// EventType defines the type of event.
type EventType string

const (
	// EventScanCompleted is emitted for every scored file or vector.
	EventScanCompleted EventType = "scan:completed"
	// EventScanThreat is emitted alongside EventScanCompleted when the verdict is a threat.
	EventScanThreat EventType = "scan:threat"
	// EventScanFailed is emitted when a scan returned an error.
	EventScanFailed EventType = "scan:failed"
)

// Event describes one scan outcome.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Path        string         `json:"path,omitempty"`
	Digest      string         `json:"digest,omitempty"`
	Probability float64        `json:"probability"`
	Verdict     models.Verdict `json:"verdict,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Partial     bool           `json:"partial,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// FromResult builds a completion event from a scoring result.
func FromResult(r *models.ScoreResult) *Event {
	ev := &Event{
		ID:          r.ID,
		Type:        EventScanCompleted,
		Timestamp:   r.ScoredAt,
		Probability: r.Probability,
		Verdict:     r.Verdict,
		Severity:    r.Verdict.Severity(),
		Partial:     r.Partial,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if r.File != nil {
		ev.Path = r.File.Path
		ev.Digest = r.File.BLAKE3
	}
	return ev
}

// FromError builds a failure event for path.
func FromError(path string, err error) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      EventScanFailed,
		Timestamp: time.Now(),
		Path:      path,
		Error:     err.Error(),
	}
}

// JSON returns the JSON representation of an event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// Event Bus
// =============================================================================

// EventHandler is a function that handles events.
type EventHandler func(event *Event)

// EventBus fans events out to subscribers synchronously, in subscription order.
type EventBus struct {
	handlers      map[EventType][]EventHandler
	globalHandler EventHandler
	mu            sync.RWMutex

	eventsEmitted atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// SetGlobalHandler sets a handler that receives all events.
func (eb *EventBus) SetGlobalHandler(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.globalHandler = handler
}

// Subscribe adds a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Unsubscribe removes all handlers for a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.handlers, eventType)
}

// Emit dispatches event to the global handler and the handlers for its type.
func (eb *EventBus) Emit(event *Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	eb.eventsEmitted.Add(1)

	if eb.globalHandler != nil {
		eb.globalHandler(event)
	}
	for _, handler := range eb.handlers[event.Type] {
		handler(event)
	}
}

// PublishResult emits a completion event, and a threat event when the verdict calls for one.
func (eb *EventBus) PublishResult(r *models.ScoreResult) {
	ev := FromResult(r)
	eb.Emit(ev)
	if r.Verdict.IsThreat() {
		threat := *ev
		threat.Type = EventScanThreat
		eb.Emit(&threat)
	}
}

// PublishError emits a failure event.
func (eb *EventBus) PublishError(path string, err error) {
	eb.Emit(FromError(path, err))
}

// Emitted returns the number of events dispatched.
func (eb *EventBus) Emitted() uint64 {
	return eb.eventsEmitted.Load()
}
