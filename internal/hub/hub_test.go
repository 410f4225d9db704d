package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classhub/internal/room"
	"classhub/internal/signal"
	"classhub/internal/websocket"
	"classhub/pkg/types"
)

type mockRouter struct {
	mu     sync.Mutex
	routed []*types.Message
	notify chan struct{}
}

func newMockRouter() *mockRouter {
	return &mockRouter{notify: make(chan struct{}, 100)}
}

func (m *mockRouter) RouteMessage(ctx context.Context, message *types.Message) error {
	m.mu.Lock()
	m.routed = append(m.routed, message)
	m.mu.Unlock()
	m.notify <- struct{}{}
	return nil
}

func (m *mockRouter) waitForMessage(t *testing.T) *types.Message {
	t.Helper()
	select {
	case <-m.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("message never routed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routed[len(m.routed)-1]
}

type discardBroadcaster struct{}

func (discardBroadcaster) ToAll(sessionID string, msg *types.Envelope)        {}
func (discardBroadcaster) ToStudents(sessionID string, msg *types.Envelope)   {}
func (discardBroadcaster) ToTeacher(sessionID string, msg *types.Envelope)    {}
func (discardBroadcaster) ToOne(sessionID, userID string, msg *types.Envelope) {}
func (discardBroadcaster) IsOnline(sessionID, userID string) bool             { return false }

type hubFixture struct {
	hub      *Hub
	registry *websocket.Registry
	router   *mockRouter
	rooms    *room.Manager
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	registry := websocket.NewRegistry()
	router := newMockRouter()
	rooms := room.NewManager(discardBroadcaster{}, time.Minute)
	h := NewHub(registry, router, rooms, signal.NewRelay(discardBroadcaster{}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		h.Stop()
		cancel()
	})

	return &hubFixture{hub: h, registry: registry, router: router, rooms: rooms}
}

func authedConn(t *testing.T, userID, role string) *websocket.Connection {
	t.Helper()
	conn := websocket.NewConnection(nil, 1)
	if err := conn.SetCredentials(userID, role, "session-1"); err != nil {
		t.Fatalf("credentials: %v", err)
	}
	return conn
}

// waitFor polls until the condition holds; hub processing is asynchronous.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestHub_Lifecycle(t *testing.T) {
	h := NewHub(websocket.NewRegistry(), newMockRouter(),
		room.NewManager(discardBroadcaster{}, time.Minute), signal.NewRelay(discardBroadcaster{}))

	if err := h.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("stopping a stopped hub: got %v", err)
	}
	if err := h.SendMessage(&types.Message{}, authedConn(t, "s1", types.RoleStudent)); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("send before start: got %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("double start: got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestHub_StampsRoutingMetadataFromConnection(t *testing.T) {
	f := newHubFixture(t)

	conn := authedConn(t, "s1", types.RoleStudent)
	msg := &types.Message{
		Type:      types.MessageTypeRaiseHand,
		FromUser:  "forged-user",
		SessionID: "forged-session",
	}
	if err := f.hub.SendMessage(msg, conn); err != nil {
		t.Fatalf("send: %v", err)
	}

	routed := f.router.waitForMessage(t)
	if routed.FromUser != "s1" || routed.SessionID != "session-1" {
		t.Errorf("metadata = %s/%s, must come from the connection", routed.FromUser, routed.SessionID)
	}
}

func TestHub_RegistrationAndDeparture(t *testing.T) {
	f := newHubFixture(t)

	liveRoom := f.rooms.GetOrCreate("session-1")
	liveRoom.Join("s1", types.RoleStudent)

	conn := authedConn(t, "s1", types.RoleStudent)
	if err := f.hub.RegisterConnection(conn); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, func() bool {
		_, exists := f.registry.GetUserConnection("session-1", "s1")
		return exists
	})

	if err := f.hub.UnregisterConnection(conn); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	waitFor(t, func() bool {
		_, exists := f.registry.GetUserConnection("session-1", "s1")
		return !exists
	})
	waitFor(t, func() bool {
		return liveRoom.ParticipantRole("s1") == ""
	})
}

func TestHub_SupersededConnectionSkipsCleanup(t *testing.T) {
	f := newHubFixture(t)

	liveRoom := f.rooms.GetOrCreate("session-1")
	liveRoom.Join("s1", types.RoleStudent)

	first := authedConn(t, "s1", types.RoleStudent)
	f.hub.RegisterConnection(first)
	waitFor(t, func() bool {
		current, exists := f.registry.GetUserConnection("session-1", "s1")
		return exists && current == first
	})

	second := authedConn(t, "s1", types.RoleStudent)
	f.hub.RegisterConnection(second)
	waitFor(t, func() bool {
		current, _ := f.registry.GetUserConnection("session-1", "s1")
		return current == second
	})

	// The stale handle's deferred cleanup fires after the reconnect.
	f.hub.UnregisterConnection(first)

	// The participant must stay: give the hub time to process, then check.
	time.Sleep(50 * time.Millisecond)
	if _, exists := f.registry.GetUserConnection("session-1", "s1"); !exists {
		t.Error("reconnect must survive the stale handle's cleanup")
	}
	if liveRoom.ParticipantRole("s1") != types.RoleStudent {
		t.Error("no departure may fire for a superseded connection")
	}
}

func TestHub_UnauthenticatedRegistrationRejected(t *testing.T) {
	f := newHubFixture(t)

	bare := websocket.NewConnection(nil, 1)
	if err := f.hub.RegisterConnection(bare); err != nil {
		t.Fatalf("enqueue should succeed: %v", err)
	}

	// Registration fails inside the hub; the connection never appears.
	time.Sleep(50 * time.Millisecond)
	if got := f.registry.GetStats()["total_connections"]; got != 0 {
		t.Errorf("unauthenticated connection must not register, have %d", got)
	}
}
