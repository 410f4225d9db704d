package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"classhub/internal/metrics"
	"classhub/internal/room"
	"classhub/internal/signal"
	"classhub/internal/websocket"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Hub is the coordination point between the WebSocket layer and everything
// behind it. All lifecycle events and inbound messages flow through
// buffered channels into one processing goroutine, so registration,
// departure cleanup and routing never race each other.
type Hub struct {
	messageChannel    chan *MessageContext
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	registry    *websocket.Registry
	router      interfaces.MessageRouter
	rooms       *room.Manager
	signalRelay *signal.Relay

	running bool
	mu      sync.RWMutex
}

// MessageContext wraps an inbound message with the sender's connection
// credentials. Routing metadata always comes from the connection, never
// from the message body.
type MessageContext struct {
	Message   *types.Message
	SenderID  string
	SessionID string
	Timestamp time.Time
}

// NewHub creates a hub over the given components.
func NewHub(registry *websocket.Registry, msgRouter interfaces.MessageRouter,
	rooms *room.Manager, signalRelay *signal.Relay) *Hub {
	return &Hub{
		messageChannel:    make(chan *MessageContext, 1000), // classroom burst headroom
		registerChannel:   make(chan *websocket.Connection, 100),
		unregisterChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
		router:            msgRouter,
		rooms:             rooms,
		signalRelay:       signalRelay,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

// SendMessage queues one inbound message for routing. Non-blocking: a
// full queue sheds the message rather than stalling the caller's read
// loop.
func (h *Hub) SendMessage(msg *types.Message, conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	msgCtx := &MessageContext{
		Message:   msg,
		SenderID:  conn.GetUserID(),
		SessionID: conn.GetSessionID(),
		Timestamp: time.Now(),
	}

	select {
	case h.messageChannel <- msgCtx:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// RegisterConnection queues a connection for registration.
func (h *Hub) RegisterConnection(conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// UnregisterConnection queues a departed connection for cleanup. The
// connection instance is passed, not just its ids, so a reconnect that
// already replaced this handle is left untouched.
func (h *Hub) UnregisterConnection(conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.unregisterChannel <- conn:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case msgCtx := <-h.messageChannel:
			h.handleMessage(ctx, msgCtx)

		case conn := <-h.registerChannel:
			h.handleRegistration(conn)

		case conn := <-h.unregisterChannel:
			h.handleDeregistration(conn)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// handleMessage routes one message. Rejections are logged server-side
// only; the sender gets no feedback frame, so a tampered client cannot
// probe authority state.
func (h *Hub) handleMessage(ctx context.Context, msgCtx *MessageContext) {
	msgCtx.Message.FromUser = msgCtx.SenderID
	msgCtx.Message.SessionID = msgCtx.SessionID

	if err := h.router.RouteMessage(ctx, msgCtx.Message); err != nil {
		log.Printf("Rejected %s from %s in session %s: %v",
			msgCtx.Message.Type, msgCtx.SenderID, msgCtx.SessionID, err)
	}
}

func (h *Hub) handleRegistration(conn *websocket.Connection) {
	if conn == nil {
		log.Printf("Attempted to register nil connection")
		return
	}

	if err := h.registry.RegisterConnection(conn); err != nil {
		log.Printf("Connection registration failed for user %s: %v", conn.GetUserID(), err)
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Failed to close connection after registration failure: %v", closeErr)
		}
		return
	}

	metrics.ActiveConnections.Inc()
	metrics.ActiveRooms.Set(float64(h.rooms.Count()))
	log.Printf("Connection registered: user=%s role=%s session=%s",
		conn.GetUserID(), conn.GetRole(), conn.GetSessionID())
}

// handleDeregistration cleans up after a departed connection: registry
// removal, room departure with its fan-out, and peer teardown notices.
// Runs only when the departed handle is still the registered one; a
// reconnect that already replaced it keeps the participant alive with no
// departure broadcast at all.
func (h *Hub) handleDeregistration(conn *websocket.Connection) {
	if conn == nil {
		return
	}

	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()

	current, exists := h.registry.GetUserConnection(sessionID, userID)
	if !exists || current != conn {
		log.Printf("Skipping cleanup for superseded connection: user=%s", userID)
		return
	}

	h.registry.UnregisterConnection(conn)
	metrics.ActiveConnections.Dec()

	if liveRoom, ok := h.rooms.Get(sessionID); ok {
		liveRoom.Leave(userID)
	}
	h.signalRelay.HandleDisconnect(sessionID, userID)

	log.Printf("Connection deregistered: user=%s session=%s", userID, sessionID)
}
