package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionTransition EventType = "session_transition"
	EventSessionFinished   EventType = "session_finished"
	EventJobSubmitted      EventType = "job_submitted"
	EventJobProgress       EventType = "job_progress"
	EventAttemptFinished   EventType = "attempt_finished"
	EventMonitorRunStarted EventType = "monitor_run_started"
	EventMonitorRunDone    EventType = "monitor_run_finished"
	EventWebhookFailed     EventType = "webhook_failed"

	// EventAll subscribes a handler to every event type
	EventAll EventType = "*"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe registers handler and returns a function that removes it
	Subscribe(eventType EventType, handler EventHandler) (func(), error)

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
