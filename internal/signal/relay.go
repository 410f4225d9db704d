package signal

import (
	"log"
	"sync"

	"classhub/pkg/types"
)

// Sender is the slice of the websocket broadcaster the relay needs:
// point-to-point delivery and presence checks.
type Sender interface {
	ToOne(sessionID, userID string, msg *types.Envelope)
	IsOnline(sessionID, userID string) bool
}

// Relay forwards WebRTC signaling frames between peers of a session. The
// server never parses SDP bodies or gathers candidates itself; it checks
// that both ends are participants, links the pair, and passes frames
// through verbatim. The link table exists so a disconnect can tell every
// peer with standing negotiation state to tear it down.
type Relay struct {
	sender Sender

	mu    sync.Mutex
	links map[string]map[string]map[string]linkState // sessionID -> userID -> peer -> state
}

// linkState tracks where a pair's negotiation stands. Pending means an
// offer is in flight; connected means an answer completed the exchange.
type linkState int

const (
	linkPending linkState = iota + 1
	linkConnected
)

// NewRelay creates a signaling relay.
func NewRelay(sender Sender) *Relay {
	return &Relay{
		sender: sender,
		links:  make(map[string]map[string]map[string]linkState),
	}
}

// RelayOffer forwards an SDP offer from -> to and marks the pair's
// negotiation in flight. An offer while a previous one for the same pair
// is still unanswered is dropped so glare retries cannot stack duplicate
// negotiations; an offer for a connected pair is a renegotiation (new
// track, ICE restart) and passes through, putting the pair back in flight.
func (r *Relay) RelayOffer(sessionID, from string, payload *types.SDPPayload) error {
	if payload.To == "" || payload.To == from {
		return ErrInvalidPeer
	}
	if !r.sender.IsOnline(sessionID, payload.To) {
		return ErrPeerOffline
	}

	r.mu.Lock()
	if r.stateLocked(sessionID, from, payload.To) == linkPending {
		r.mu.Unlock()
		log.Printf("Dropping duplicate in-flight offer %s -> %s in session %s", from, payload.To, sessionID)
		return nil
	}
	r.setLocked(sessionID, from, payload.To, linkPending)
	r.mu.Unlock()

	payload.From = from
	r.sender.ToOne(sessionID, payload.To, types.NewEnvelope(types.MessageTypeWebRTCOffer, payload))
	return nil
}

// RelayAnswer forwards an SDP answer verbatim and marks the pair
// connected, so the next offer between these peers is treated as a
// renegotiation rather than a duplicate.
func (r *Relay) RelayAnswer(sessionID, from string, payload *types.SDPPayload) error {
	if payload.To == "" || payload.To == from {
		return ErrInvalidPeer
	}
	if !r.sender.IsOnline(sessionID, payload.To) {
		return ErrPeerOffline
	}

	r.mu.Lock()
	r.setLocked(sessionID, from, payload.To, linkConnected)
	r.mu.Unlock()

	payload.From = from
	r.sender.ToOne(sessionID, payload.To, types.NewEnvelope(types.MessageTypeWebRTCAnswer, payload))
	return nil
}

// RelayICECandidate forwards one ICE candidate verbatim. Candidates for an
// offline peer are dropped; trickle ICE tolerates loss.
func (r *Relay) RelayICECandidate(sessionID, from string, payload *types.ICECandidatePayload) error {
	if payload.To == "" || payload.To == from {
		return ErrInvalidPeer
	}
	if !r.sender.IsOnline(sessionID, payload.To) {
		return ErrPeerOffline
	}

	payload.From = from
	r.sender.ToOne(sessionID, payload.To, types.NewEnvelope(types.MessageTypeWebRTCICECandidate, payload))
	return nil
}

// HandleDisconnect tells every peer linked to the departed user to tear
// down its connection, then forgets the user's links.
func (r *Relay) HandleDisconnect(sessionID, userID string) {
	r.mu.Lock()
	var peers []string
	if session, exists := r.links[sessionID]; exists {
		for peer := range session[userID] {
			peers = append(peers, peer)
			delete(session[peer], userID)
			if len(session[peer]) == 0 {
				delete(session, peer)
			}
		}
		delete(session, userID)
		if len(session) == 0 {
			delete(r.links, sessionID)
		}
	}
	r.mu.Unlock()

	gone := types.NewEnvelope(types.MessageTypePeerDisconnected,
		types.PeerDisconnectedPayload{PeerID: userID})
	for _, peer := range peers {
		r.sender.ToOne(sessionID, peer, gone)
	}
}

// RemoveSession drops all link state for a reclaimed session.
func (r *Relay) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, sessionID)
}

// LinkCount returns the number of users with standing links in a session.
func (r *Relay) LinkCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links[sessionID])
}

func (r *Relay) stateLocked(sessionID, a, b string) linkState {
	return r.links[sessionID][a][b]
}

func (r *Relay) setLocked(sessionID, a, b string, state linkState) {
	session, exists := r.links[sessionID]
	if !exists {
		session = make(map[string]map[string]linkState)
		r.links[sessionID] = session
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if session[pair[0]] == nil {
			session[pair[0]] = make(map[string]linkState)
		}
		session[pair[0]][pair[1]] = state
	}
}
