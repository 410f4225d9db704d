package room

import (
	"context"
	"log"
	"sync"
	"time"
)

// Reaper is called when an idle room is garbage collected, so sibling
// subsystems (chat relay, signaling relay, sandbox runs) can drop their
// per-session state too.
type Reaper func(sessionID string)

// Manager owns the live rooms, one per active session, and garbage
// collects rooms that have sat empty past the configured timeout. Rooms
// are created lazily on first join and die only through the GC pass, so a
// brief full disconnect (teacher refreshing the page) never loses
// classroom state.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	bc      Broadcaster
	reapers []Reaper

	emptyTimeout time.Duration
	gcInterval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a room manager. emptyTimeout is how long a room may
// be empty before it is reclaimed.
func NewManager(bc Broadcaster, emptyTimeout time.Duration) *Manager {
	return &Manager{
		rooms:        make(map[string]*Room),
		bc:           bc,
		emptyTimeout: emptyTimeout,
		gcInterval:   time.Minute,
	}
}

// AddReaper registers a cleanup hook invoked with the session id of every
// collected room. Must be called before Start.
func (m *Manager) AddReaper(r Reaper) {
	m.reapers = append(m.reapers, r)
}

// Start launches the background GC loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.gcLoop(ctx)
}

// Stop terminates the GC loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// GetOrCreate returns the live room for a session, creating it on first
// use.
func (m *Manager) GetOrCreate(sessionID string) *Room {
	m.mu.RLock()
	r, exists := m.rooms[sessionID]
	m.mu.RUnlock()
	if exists {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, exists := m.rooms[sessionID]; exists {
		return r
	}
	r = newRoom(sessionID, m.bc)
	m.rooms[sessionID] = r
	log.Printf("Created room for session %s", sessionID)
	return r
}

// Get returns the live room for a session, if one exists.
func (m *Manager) Get(sessionID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, exists := m.rooms[sessionID]
	return r, exists
}

// AssignRole resolves the connecting user's role in the session's room,
// enforcing the single-teacher seat. Creates the room when it is the
// session's first connection.
func (m *Manager) AssignRole(sessionID, userID, claimedRole string) (string, error) {
	return m.GetOrCreate(sessionID).assignRole(userID, claimedRole)
}

// Remove drops a room immediately and runs the reapers. Used when a
// session is ended through the API rather than by idling out.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	_, exists := m.rooms[sessionID]
	delete(m.rooms, sessionID)
	m.mu.Unlock()

	if exists {
		m.reap(sessionID)
	}
}

// OnTerminalOutput implements the sandbox TerminalSink: output for a
// session with no live room is dropped, everything else lands in the
// target's buffer and fans out to its watchers.
func (m *Manager) OnTerminalOutput(sessionID, target, chunk string) {
	if r, exists := m.Get(sessionID); exists {
		r.AppendTerminal(target, chunk)
	}
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) gcLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.collect(now)
		}
	}
}

func (m *Manager) collect(now time.Time) {
	m.mu.Lock()
	var expired []string
	for sessionID, r := range m.rooms {
		if idle := r.emptyFor(now); idle > m.emptyTimeout {
			expired = append(expired, sessionID)
			delete(m.rooms, sessionID)
		}
	}
	m.mu.Unlock()

	for _, sessionID := range expired {
		log.Printf("Reclaimed idle room for session %s", sessionID)
		m.reap(sessionID)
	}
}

func (m *Manager) reap(sessionID string) {
	for _, reaper := range m.reapers {
		reaper(sessionID)
	}
}
