package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"classhub/internal/room"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deferred to the reverse proxy in deployment.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// MessageSink is the hub surface the handler feeds: lifecycle events and
// inbound messages. Defined here so the hub can depend on this package
// without a cycle.
type MessageSink interface {
	SendMessage(msg *types.Message, conn *Connection) error
	RegisterConnection(conn *Connection) error
	UnregisterConnection(conn *Connection) error
}

// Handler upgrades classroom WebSocket connections. Validation happens in
// stages before the upgrade (parameters, session membership, teacher
// seat), so a rejected client gets a proper HTTP status instead of an
// immediately closed socket.
type Handler struct {
	sink           MessageSink
	sessionManager interfaces.SessionManager
	rooms          *room.Manager
}

// NewHandler creates a WebSocket handler.
func NewHandler(sink MessageSink, sessionManager interfaces.SessionManager, rooms *room.Manager) *Handler {
	return &Handler{
		sink:           sink,
		sessionManager: sessionManager,
		rooms:          rooms,
	}
}

// HandleWebSocket handles one connection request.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	claimedRole := r.URL.Query().Get("role")
	sessionID := r.URL.Query().Get("session_id")

	if userID == "" || claimedRole == "" || sessionID == "" {
		http.Error(w, "Missing required query parameters: user_id, role, session_id", http.StatusBadRequest)
		return
	}

	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	if claimedRole != types.RoleTeacher && claimedRole != types.RoleStudent {
		http.Error(w, "Invalid role: must be 'teacher' or 'student'", http.StatusBadRequest)
		return
	}

	if err := h.sessionManager.ValidateSessionMembership(sessionID, userID, claimedRole); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			http.Error(w, "Session not found or ended", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrUnauthorized):
			http.Error(w, "Not authorized to join this session", http.StatusForbidden)
		default:
			http.Error(w, "Session validation failed", http.StatusInternalServerError)
		}
		return
	}

	// The teacher seat is claimed before the upgrade, so a second teacher
	// gets a clean 409 instead of a socket that closes on arrival.
	assignedRole, err := h.rooms.AssignRole(sessionID, userID, claimedRole)
	if err != nil {
		if errors.Is(err, room.ErrTeacherSeatTaken) {
			http.Error(w, "Session already has a teacher", http.StatusConflict)
			return
		}
		http.Error(w, "Role assignment failed", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, defaultWriteBuffer)
	if err := wsConn.SetCredentials(userID, assignedRole, sessionID); err != nil {
		log.Printf("Failed to set credentials: %v", err)
		_ = wsConn.Close()
		return
	}

	if err := h.sink.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	// Join after registration so the joining user receives the roster
	// broadcast their own arrival triggers. The full snapshot goes straight
	// to this connection either way.
	liveRoom := h.rooms.GetOrCreate(sessionID)
	snapshot := liveRoom.Join(userID, assignedRole)
	if err := wsConn.WriteJSON(types.NewEnvelope(types.MessageTypeRoleAssigned, snapshot)); err != nil {
		log.Printf("Failed to send role assignment to %s: %v", userID, err)
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the per-connection read loop with ping/pong
// heartbeat: 30 second pings against a 60 second read deadline.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.sink.UnregisterConnection(conn); err != nil {
			log.Printf("Failed to queue deregistration for %s: %v", conn.GetUserID(), err)
		}
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", conn.GetUserID(), err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Discarding malformed message from %s: %v", conn.GetUserID(), err)
			continue
		}

		if err := h.sink.SendMessage(&msg, conn); err != nil {
			log.Printf("Failed to queue message from %s: %v", conn.GetUserID(), err)
		}
	}
}
