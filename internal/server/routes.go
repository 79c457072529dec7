package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket progress stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// API routes - Deep search sessions
	mux.HandleFunc("/api/sessions", s.app.SessionHandler.SessionsHandler)    // GET (list), POST (start)
	mux.HandleFunc("/api/sessions/", s.app.SessionHandler.GetSessionHandler) // GET /{id}

	// API routes - Monitors
	mux.HandleFunc("/api/monitors", s.app.MonitorHandler.MonitorsHandler) // GET (list), POST (create)
	mux.HandleFunc("/api/monitors/", s.app.MonitorHandler.MonitorRoutes)  // PUT /{id}, /{id}/{action}

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
