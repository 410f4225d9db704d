package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classhub/internal/room"
	"classhub/internal/websocket"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Registry is the connection-tracking slice the API reads for counts.
type Registry interface {
	GetSessionConnections(sessionID string) []*websocket.Connection
	GetStats() map[string]int
}

// Server is the REST surface for session lifecycle: create, inspect, list
// and end sessions, plus health and stats. No classroom logic lives here.
type Server struct {
	sessionManager interfaces.SessionManager
	dbManager      interfaces.DatabaseManager
	registry       Registry
	rooms          *room.Manager
	router         *http.ServeMux
}

// NewServer creates the API server and wires its routes.
func NewServer(sessionManager interfaces.SessionManager, dbManager interfaces.DatabaseManager,
	registry Registry, rooms *room.Manager) *Server {
	s := &Server{
		sessionManager: sessionManager,
		dbManager:      dbManager,
		registry:       registry,
		rooms:          rooms,
		router:         http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if path == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sessionID := strings.Split(path, "/")[0]

	switch r.Method {
	case http.MethodGet:
		s.getSession(w, r, sessionID)
	case http.MethodDelete:
		s.endSession(w, r, sessionID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type CreateSessionRequest struct {
	Name       string   `json:"name"`
	TeacherID  string   `json:"teacher_id"`
	StudentIDs []string `json:"student_ids"`
}

type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
}

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	ConnectionCount int            `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	*types.Session
	ConnectionCount int `json:"connection_count"`
}

type StatsResponse struct {
	Connections map[string]int `json:"connections"`
	ActiveRooms int            `json:"active_rooms"`
	Timestamp   time.Time      `json:"timestamp"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createSession handles POST /api/sessions. The teacher_id becomes the
// only user allowed to claim the session's teacher seat.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		s.sendError(w, "Session name is required", http.StatusBadRequest)
		return
	}
	if req.TeacherID == "" {
		s.sendError(w, "Teacher ID is required", http.StatusBadRequest)
		return
	}
	if len(req.StudentIDs) == 0 {
		s.sendError(w, "At least one student ID is required", http.StatusBadRequest)
		return
	}

	session, err := s.sessionManager.CreateSession(r.Context(), req.Name, req.TeacherID, req.StudentIDs)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{Session: session})
}

// getSession handles GET /api/sessions/{id}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessionManager.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		}
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Session:         session,
		ConnectionCount: len(s.registry.GetSessionConnections(sessionID)),
	})
}

// endSession handles DELETE /api/sessions/{id}: notify connected clients,
// mark the record ended, and reclaim the live room immediately.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	ended := types.NewEnvelope("SESSION_ENDED", map[string]string{
		"reason": "Session ended by teacher",
	})
	for _, conn := range s.registry.GetSessionConnections(sessionID) {
		_ = conn.WriteJSON(ended)
	}

	if err := s.sessionManager.EndSession(r.Context(), sessionID); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			s.sendError(w, "Session not found", http.StatusNotFound)
		case strings.Contains(err.Error(), "already ended"):
			s.sendError(w, "Session already ended", http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		}
		return
	}

	s.rooms.Remove(sessionID)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Session ended successfully"})
}

// listSessions handles GET /api/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionManager.ListActiveSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	withConnections := make([]SessionWithConnections, len(sessions))
	for i, session := range sessions {
		withConnections[i] = SessionWithConnections{
			Session:         session,
			ConnectionCount: len(s.registry.GetSessionConnections(session.ID)),
		}
	}

	json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: withConnections})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	json.NewEncoder(w).Encode(StatsResponse{
		Connections: s.registry.GetStats(),
		ActiveRooms: s.rooms.Count(),
		Timestamp:   time.Now(),
	})
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
