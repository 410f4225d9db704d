package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedFrame struct {
	session string
	target  string
	frame   runFrame
}

// fakeSandbox is an httptest WebSocket service that records inbound frames
// and can emit output frames back.
type fakeSandbox struct {
	server *httptest.Server

	mu       sync.Mutex
	inbound  []recordedFrame
	sockets  []*websocket.Conn
	received chan recordedFrame
}

func newFakeSandbox(t *testing.T) *fakeSandbox {
	t.Helper()

	fs := &fakeSandbox{received: make(chan recordedFrame, 100)}
	upgrader := websocket.Upgrader{}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		session := r.URL.Query().Get("session")
		target := r.URL.Query().Get("target")

		fs.mu.Lock()
		fs.sockets = append(fs.sockets, conn)
		fs.mu.Unlock()

		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame runFrame
				if err := json.Unmarshal(data, &frame); err != nil {
					continue
				}
				rec := recordedFrame{session: session, target: target, frame: frame}
				fs.mu.Lock()
				fs.inbound = append(fs.inbound, rec)
				fs.mu.Unlock()
				fs.received <- rec
			}
		}()
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeSandbox) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http") + "/run"
}

func (fs *fakeSandbox) waitForFrame(t *testing.T) recordedFrame {
	t.Helper()
	select {
	case rec := <-fs.received:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox never received a frame")
		return recordedFrame{}
	}
}

// emitOutput writes an output frame on the most recent socket.
func (fs *fakeSandbox) emitOutput(t *testing.T, data string) {
	t.Helper()
	fs.mu.Lock()
	conn := fs.sockets[len(fs.sockets)-1]
	fs.mu.Unlock()
	if err := conn.WriteJSON(runFrame{Type: "output", Data: data}); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	chunks []string
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 100)}
}

func (s *recordingSink) OnTerminalOutput(sessionID, target, chunk string) {
	s.mu.Lock()
	s.chunks = append(s.chunks, sessionID+"/"+target+": "+chunk)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) waitForChunk(t *testing.T) string {
	t.Helper()
	select {
	case <-s.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received output")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[len(s.chunks)-1]
}

func TestClient_RunSendsCodeAndStreamsOutput(t *testing.T) {
	fs := newFakeSandbox(t)
	sink := newRecordingSink()
	client := NewClient(fs.url(), sink)
	t.Cleanup(client.Close)

	err := client.Run(context.Background(), "session-1", "teacher", "python", "print(1)")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	rec := fs.waitForFrame(t)
	if rec.session != "session-1" || rec.target != "teacher" {
		t.Errorf("addressing = %s/%s", rec.session, rec.target)
	}
	if rec.frame.Type != "run" || rec.frame.Language != "python" || rec.frame.Code != "print(1)" {
		t.Errorf("run frame = %+v", rec.frame)
	}

	fs.emitOutput(t, "1\n")
	if got := sink.waitForChunk(t); got != "session-1/teacher: 1\n" {
		t.Errorf("sink got %q", got)
	}
}

func TestClient_WriteForwardsStdin(t *testing.T) {
	fs := newFakeSandbox(t)
	client := NewClient(fs.url(), newRecordingSink())
	t.Cleanup(client.Close)

	if err := client.Write("session-1", "teacher", "x"); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("write without a run: got %v", err)
	}

	if err := client.Run(context.Background(), "session-1", "teacher", "python", "input()"); err != nil {
		t.Fatalf("run: %v", err)
	}
	fs.waitForFrame(t) // the run frame

	if err := client.Write("session-1", "teacher", "hello\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := fs.waitForFrame(t)
	if rec.frame.Type != "stdin" || rec.frame.Data != "hello\n" {
		t.Errorf("stdin frame = %+v", rec.frame)
	}
}

func TestClient_NewRunReplacesPrevious(t *testing.T) {
	fs := newFakeSandbox(t)
	client := NewClient(fs.url(), newRecordingSink())
	t.Cleanup(client.Close)

	ctx := context.Background()
	client.Run(ctx, "session-1", "teacher", "python", "first")
	fs.waitForFrame(t)
	client.Run(ctx, "session-1", "teacher", "python", "second")
	fs.waitForFrame(t)

	// Stdin lands on the replacement run's socket.
	if err := client.Write("session-1", "teacher", "in"); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec := fs.waitForFrame(t)
	if rec.frame.Type != "stdin" {
		t.Errorf("frame = %+v", rec.frame)
	}
}

func TestClient_CloseSessionEndsRuns(t *testing.T) {
	fs := newFakeSandbox(t)
	client := NewClient(fs.url(), newRecordingSink())
	t.Cleanup(client.Close)

	ctx := context.Background()
	client.Run(ctx, "session-1", "teacher", "python", "x")
	client.Run(ctx, "session-1", "s1", "python", "y")
	client.Run(ctx, "session-2", "teacher", "python", "z")

	client.CloseSession("session-1")

	if err := client.Write("session-1", "teacher", "x"); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("closed session write: got %v", err)
	}
	if err := client.Write("session-2", "teacher", "x"); err != nil {
		t.Errorf("other session must stay live: %v", err)
	}
}

func TestClient_UnreachableSandbox(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/run", newRecordingSink())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.Run(ctx, "session-1", "teacher", "python", "x")
	if !errors.Is(err, ErrSandboxUnavailable) {
		t.Errorf("got %v, want ErrSandboxUnavailable", err)
	}
}
