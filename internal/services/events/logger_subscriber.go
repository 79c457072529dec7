package events

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var sessionID, jobID, monitorID, state string
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			sessionID, _ = payload["session_id"].(string)
			jobID, _ = payload["job_id"].(string)
			monitorID, _ = payload["monitor_id"].(string)
			state, _ = payload["state"].(string)
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if sessionID != "" {
			logEvent = logEvent.Str("session_id", sessionID)
		}
		if jobID != "" {
			logEvent = logEvent.Str("job_id", jobID)
		}
		if monitorID != "" {
			logEvent = logEvent.Str("monitor_id", monitorID)
		}
		if state != "" {
			logEvent = logEvent.Str("state", state)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to every event type
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) (func(), error) {
	return eventService.Subscribe(interfaces.EventAll, NewLoggerSubscriber(logger))
}
