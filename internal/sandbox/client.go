package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classhub/pkg/interfaces"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Client talks to the external execution service over WebSocket, one
// socket per running (session, target) pair. A new Run for the same pair
// replaces the previous run. Output frames are read by a single goroutine
// per run, so chunks reach the sink in arrival order.
type Client struct {
	baseURL string
	sink    interfaces.TerminalSink
	dialer  *websocket.Dialer

	mu   sync.Mutex
	runs map[runKey]*run
}

type runKey struct {
	sessionID string
	target    string
}

type run struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Wire frames exchanged with the sandbox service.
type runFrame struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	Data     string `json:"data,omitempty"`
}

// NewClient creates a sandbox client. baseURL is the service's WebSocket
// endpoint, e.g. ws://sandbox:9000/run.
func NewClient(baseURL string, sink interfaces.TerminalSink) *Client {
	return &Client{
		baseURL: baseURL,
		sink:    sink,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		runs:    make(map[runKey]*run),
	}
}

// Run starts executing code for the target's workspace. Any previous run
// for the same target is torn down first; its socket close ends the old
// reader before the new run's output starts flowing.
func (c *Client) Run(ctx context.Context, sessionID, target, language, code string) error {
	endpoint, err := c.runURL(sessionID, target)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}

	next := &run{conn: conn}
	if err := next.send(runFrame{Type: "run", Language: language, Code: code}); err != nil {
		next.close()
		return err
	}

	key := runKey{sessionID: sessionID, target: target}
	c.mu.Lock()
	prev := c.runs[key]
	c.runs[key] = next
	c.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	go c.readLoop(key, next)
	return nil
}

// Write forwards keystrokes to the target's running program.
func (c *Client) Write(sessionID, target, data string) error {
	c.mu.Lock()
	active := c.runs[runKey{sessionID: sessionID, target: target}]
	c.mu.Unlock()

	if active == nil {
		return ErrNoActiveRun
	}
	return active.send(runFrame{Type: "stdin", Data: data})
}

// CloseSession tears down every run belonging to the session.
func (c *Client) CloseSession(sessionID string) {
	c.mu.Lock()
	var closing []*run
	for key, active := range c.runs {
		if key.sessionID == sessionID {
			closing = append(closing, active)
			delete(c.runs, key)
		}
	}
	c.mu.Unlock()

	for _, active := range closing {
		active.close()
	}
}

// Close tears down all runs.
func (c *Client) Close() {
	c.mu.Lock()
	runs := c.runs
	c.runs = make(map[runKey]*run)
	c.mu.Unlock()

	for _, active := range runs {
		active.close()
	}
}

// readLoop streams sandbox output into the sink until the socket dies,
// then drops the run entry if it is still the current one.
func (c *Client) readLoop(key runKey, active *run) {
	defer active.close()

	for {
		_, data, err := active.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame runFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Discarding malformed sandbox frame for %s/%s: %v", key.sessionID, key.target, err)
			continue
		}
		if frame.Type == "output" && frame.Data != "" {
			c.sink.OnTerminalOutput(key.sessionID, key.target, frame.Data)
		}
	}

	c.mu.Lock()
	if c.runs[key] == active {
		delete(c.runs, key)
	}
	c.mu.Unlock()
}

func (c *Client) runURL(sessionID, target string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("target", target)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *run) send(frame runFrame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return r.conn.WriteJSON(frame)
}

func (r *run) close() {
	r.closeOnce.Do(func() {
		r.conn.Close()
	})
}
