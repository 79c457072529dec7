package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/services/events"
)

func dialWebSocket(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var status WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, "status", status.Type)

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	return conn
}

// readTypes collects message types until the read deadline passes
func readTypes(conn *websocket.Conn, wait time.Duration) []string {
	var types []string
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return types
		}
		types = append(types, msg.Type)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	logger := arbor.NewLogger()
	svc := events.NewService(logger)
	defer svc.Close()

	handler := NewWebSocketHandler(svc, logger, &common.WebSocketConfig{})
	defer handler.Close()
	conn := dialWebSocket(t, handler)

	ctx := context.Background()
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventSessionStarted,
		Payload: map[string]interface{}{"session_id": "ses_1", "intent": "recalls"},
	}))

	var msg WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventSessionStarted), msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ses_1", payload["session_id"])
}

func TestWebSocketFiltersAndThrottles(t *testing.T) {
	logger := arbor.NewLogger()
	svc := events.NewService(logger)
	defer svc.Close()

	handler := NewWebSocketHandler(svc, logger, &common.WebSocketConfig{
		AllowedEvents:     []string{string(interfaces.EventJobProgress), string(interfaces.EventSessionFinished)},
		ThrottleIntervals: map[string]string{string(interfaces.EventJobProgress): "1m"},
	})
	defer handler.Close()
	conn := dialWebSocket(t, handler)

	ctx := context.Background()
	publish := func(eventType interfaces.EventType, jobID string) {
		require.NoError(t, svc.PublishSync(ctx, interfaces.Event{
			Type:    eventType,
			Payload: map[string]interface{}{"job_id": jobID},
		}))
	}

	publish(interfaces.EventJobProgress, "job-a")
	publish(interfaces.EventJobProgress, "job-a")  // throttled
	publish(interfaces.EventJobProgress, "job-b")  // separate job, not throttled
	publish(interfaces.EventJobSubmitted, "job-c") // not in the allow list
	publish(interfaces.EventSessionFinished, "job-a")

	types := readTypes(conn, 300*time.Millisecond)
	assert.Equal(t, []string{
		string(interfaces.EventJobProgress),
		string(interfaces.EventJobProgress),
		string(interfaces.EventSessionFinished),
	}, types)
}

func TestWebSocketWithoutEventService(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), nil)
	conn := dialWebSocket(t, handler)

	handler.Broadcast(WSMessage{Type: "ping", Timestamp: time.Now()})
	assert.Equal(t, []string{"ping"}, readTypes(conn, 300*time.Millisecond))

	handler.Close()
	assert.Eventually(t, func() bool { return handler.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
