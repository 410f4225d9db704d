package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"classhub/internal/room"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type mockSessionManager struct {
	interfaces.SessionManager

	validateErr map[string]error // userID -> error
}

func (m *mockSessionManager) ValidateSessionMembership(sessionID, userID, role string) error {
	return m.validateErr[userID]
}

type recordingSink struct {
	mu           sync.Mutex
	messages     []*types.Message
	registered   []*Connection
	unregistered []*Connection
	notify       chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 100)}
}

func (s *recordingSink) SendMessage(msg *types.Message, conn *Connection) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.notify <- struct{}{}
	return nil
}

func (s *recordingSink) RegisterConnection(conn *Connection) error {
	s.mu.Lock()
	s.registered = append(s.registered, conn)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) UnregisterConnection(conn *Connection) error {
	s.mu.Lock()
	s.unregistered = append(s.unregistered, conn)
	s.mu.Unlock()
	return nil
}

type discardBroadcaster struct{}

func (discardBroadcaster) ToAll(sessionID string, msg *types.Envelope)         {}
func (discardBroadcaster) ToStudents(sessionID string, msg *types.Envelope)    {}
func (discardBroadcaster) ToTeacher(sessionID string, msg *types.Envelope)     {}
func (discardBroadcaster) ToOne(sessionID, userID string, msg *types.Envelope) {}
func (discardBroadcaster) IsOnline(sessionID, userID string) bool              { return false }

type handlerFixture struct {
	server   *httptest.Server
	sink     *recordingSink
	sessions *mockSessionManager
	rooms    *room.Manager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	sink := newRecordingSink()
	sessions := &mockSessionManager{validateErr: make(map[string]error)}
	rooms := room.NewManager(discardBroadcaster{}, time.Minute)
	handler := NewHandler(sink, sessions, rooms)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, sink: sink, sessions: sessions, rooms: rooms}
}

func (f *handlerFixture) wsURL(userID, role, sessionID string) string {
	base := "ws" + strings.TrimPrefix(f.server.URL, "http")
	return base + "?user_id=" + userID + "&role=" + role + "&session_id=" + sessionID
}

// dial connects and returns the client socket; callers read the role
// snapshot themselves.
func (f *handlerFixture) dial(t *testing.T, userID, role string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(userID, role, "session-1"), nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandler_RejectionsBeforeUpgrade(t *testing.T) {
	f := newHandlerFixture(t)
	f.sessions.validateErr["ghost"] = interfaces.ErrSessionNotFound
	f.sessions.validateErr["outsider"] = interfaces.ErrUnauthorized

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing parameters", f.server.URL, http.StatusBadRequest},
		{"bad user id", f.server.URL + "?user_id=has%20space&role=student&session_id=s", http.StatusBadRequest},
		{"bad role", f.server.URL + "?user_id=s1&role=admin&session_id=s", http.StatusBadRequest},
		{"unknown session", f.server.URL + "?user_id=ghost&role=student&session_id=s", http.StatusNotFound},
		{"not a member", f.server.URL + "?user_id=outsider&role=student&session_id=s", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(tt.url)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandler_SecondTeacherGets409(t *testing.T) {
	f := newHandlerFixture(t)

	f.dial(t, "t1", types.RoleTeacher)

	resp, err := http.Get(f.server.URL + "?user_id=t2&role=teacher&session_id=session-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second teacher status = %d, want 409", resp.StatusCode)
	}
}

func TestHandler_ConnectDeliversSnapshot(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "t1", types.RoleTeacher)

	got := readEnvelope(t, conn)
	if got.Type != types.MessageTypeRoleAssigned {
		t.Fatalf("first frame = %q, want role assignment", got.Type)
	}

	waitForCondition(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.registered) == 1
	})
	if f.rooms.GetOrCreate("session-1").ParticipantRole("t1") != types.RoleTeacher {
		t.Error("connecting must join the room")
	}
}

func TestHandler_InboundMessagesReachSink(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "s1", types.RoleStudent)
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": types.MessageTypeRaiseHand}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-f.sink.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the sink")
	}

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if f.sink.messages[0].Type != types.MessageTypeRaiseHand {
		t.Errorf("sink got %q", f.sink.messages[0].Type)
	}
}

func TestHandler_DisconnectQueuesDeregistration(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "s1", types.RoleStudent)
	readEnvelope(t, conn)
	conn.Close()

	waitForCondition(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.unregistered) == 1
	})
}

func waitForCondition(t *testing.T, condition func() bool) {
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
