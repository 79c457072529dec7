package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/common"
	"github.com/ternarybob/catchall/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local API, any origin
	},
}

// writeWait bounds a single write to a slow client
const writeWait = 5 * time.Second

// WSMessage is the envelope of every message sent to clients
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusUpdate is sent once on connect
type StatusUpdate struct {
	Service          string `json:"service"`
	Version          string `json:"version"`
	ServerInstanceID string `json:"server_instance_id"` // Changes on restart; clients reset state
}

// WebSocketHandler streams session, poll and monitor events to /ws clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	allowedEvents    map[string]bool          // Empty allows all events
	throttleInterval map[string]time.Duration // Per event type
	throttlers       map[string]*rate.Limiter // Keyed by event type and job
	throttleMu       sync.Mutex
	unsubscribe      func()
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and, when eventService is not nil,
// subscribes it to every event.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[string]bool),
		throttleInterval: make(map[string]time.Duration),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		for eventType, intervalStr := range config.ThrottleIntervals {
			interval := common.ParseDuration(logger, "websocket.throttle_intervals."+eventType, intervalStr, 0)
			if interval > 0 {
				h.throttleInterval[eventType] = interval
			}
		}
	}

	if eventService != nil {
		unsubscribe, err := eventService.Subscribe(interfaces.EventAll, h.handleEvent)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe WebSocket handler to events")
		} else {
			h.unsubscribe = unsubscribe
		}
	}

	logger.Debug().
		Str("server_instance_id", h.serverInstanceID).
		Int("allowed_events", len(h.allowedEvents)).
		Int("throttled_events", len(h.throttleInterval)).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{
		Type: "status",
		Payload: StatusUpdate{
			Service:          "catchall",
			Version:          common.GetVersion(),
			ServerInstanceID: h.serverInstanceID,
		},
		Timestamp: time.Now(),
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Clients only listen; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	eventType := string(event.Type)
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return nil
	}
	if !h.allow(eventType, event.Payload) {
		return nil
	}

	h.Broadcast(WSMessage{
		Type:      eventType,
		Payload:   event.Payload,
		Timestamp: time.Now(),
	})
	return nil
}

// allow applies the per-type throttle. Progress of different jobs is
// throttled separately so one busy job cannot starve another.
func (h *WebSocketHandler) allow(eventType string, payload interface{}) bool {
	interval, ok := h.throttleInterval[eventType]
	if !ok {
		return true
	}

	key := eventType
	if m, ok := payload.(map[string]interface{}); ok {
		if jobID, ok := m["job_id"].(string); ok {
			key += ":" + jobID
		}
	}

	h.throttleMu.Lock()
	limiter, ok := h.throttlers[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		h.throttlers[key] = limiter
	}
	h.throttleMu.Unlock()

	return limiter.Allow()
}

// Broadcast sends msg to every connected client
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		h.send(conn, mutexes[i], msg)
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to WebSocket client")
	}
}

// Close unsubscribes from events and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, mutex := range h.clients {
		mutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
}
