package signal

import (
	"errors"
	"sync"
	"testing"

	"classhub/pkg/types"
)

type sentFrame struct {
	userID string
	msg    *types.Envelope
}

type mockSender struct {
	mu      sync.Mutex
	frames  []sentFrame
	offline map[string]bool
}

func newMockSender() *mockSender {
	return &mockSender{offline: make(map[string]bool)}
}

func (m *mockSender) ToOne(sessionID, userID string, msg *types.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, sentFrame{userID: userID, msg: msg})
}

func (m *mockSender) IsOnline(sessionID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.offline[userID]
}

func (m *mockSender) framesOfType(msgType string) []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentFrame
	for _, f := range m.frames {
		if f.msg.Type == msgType {
			out = append(out, f)
		}
	}
	return out
}

func TestRelay_OfferForwardedAndStamped(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	payload := &types.SDPPayload{To: "s1", From: "forged"}
	if err := relay.RelayOffer("session-1", "t1", payload); err != nil {
		t.Fatalf("offer rejected: %v", err)
	}

	offers := sender.framesOfType(types.MessageTypeWebRTCOffer)
	if len(offers) != 1 || offers[0].userID != "s1" {
		t.Fatalf("expected offer delivered to s1, got %+v", offers)
	}
	delivered := offers[0].msg.Payload.(*types.SDPPayload)
	if delivered.From != "t1" {
		t.Errorf("relay must stamp the real sender, got %q", delivered.From)
	}
}

func TestRelay_DuplicateOfferDropped(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})
	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"}); err != nil {
		t.Fatalf("duplicate offer should be silently dropped, got %v", err)
	}

	if got := len(sender.framesOfType(types.MessageTypeWebRTCOffer)); got != 1 {
		t.Errorf("expected 1 delivered offer, got %d", got)
	}
}

func TestRelay_RenegotiationOfferForwardedAfterAnswer(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})
	if err := relay.RelayAnswer("session-1", "s1", &types.SDPPayload{To: "t1"}); err != nil {
		t.Fatalf("answer rejected: %v", err)
	}

	// The pair is connected; a fresh offer is a renegotiation and must
	// reach the peer.
	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"}); err != nil {
		t.Fatalf("renegotiation offer rejected: %v", err)
	}
	if got := len(sender.framesOfType(types.MessageTypeWebRTCOffer)); got != 2 {
		t.Fatalf("renegotiation offer not delivered, total offers %d", got)
	}

	// The renegotiation is in flight again, so its duplicate is dropped.
	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})
	if got := len(sender.framesOfType(types.MessageTypeWebRTCOffer)); got != 2 {
		t.Errorf("duplicate in-flight offer must be dropped, total offers %d", got)
	}
}

func TestRelay_InvalidPeers(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: ""}); !errors.Is(err, ErrInvalidPeer) {
		t.Errorf("empty target: expected ErrInvalidPeer, got %v", err)
	}
	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "t1"}); !errors.Is(err, ErrInvalidPeer) {
		t.Errorf("self target: expected ErrInvalidPeer, got %v", err)
	}

	sender.offline["s1"] = true
	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"}); !errors.Is(err, ErrPeerOffline) {
		t.Errorf("offline target: expected ErrPeerOffline, got %v", err)
	}
}

func TestRelay_AnswerAndCandidatesFlowBack(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})

	if err := relay.RelayAnswer("session-1", "s1", &types.SDPPayload{To: "t1"}); err != nil {
		t.Fatalf("answer rejected: %v", err)
	}
	if err := relay.RelayICECandidate("session-1", "s1", &types.ICECandidatePayload{To: "t1"}); err != nil {
		t.Fatalf("candidate rejected: %v", err)
	}

	if len(sender.framesOfType(types.MessageTypeWebRTCAnswer)) != 1 {
		t.Error("answer not delivered")
	}
	candidates := sender.framesOfType(types.MessageTypeWebRTCICECandidate)
	if len(candidates) != 1 || candidates[0].userID != "t1" {
		t.Errorf("candidate not delivered to t1: %+v", candidates)
	}
}

func TestRelay_DisconnectNotifiesLinkedPeers(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})
	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s2"})

	relay.HandleDisconnect("session-1", "t1")

	gone := sender.framesOfType(types.MessageTypePeerDisconnected)
	notified := map[string]bool{}
	for _, f := range gone {
		notified[f.userID] = true
		if f.msg.Payload.(types.PeerDisconnectedPayload).PeerID != "t1" {
			t.Errorf("teardown notice must name the departed peer")
		}
	}
	if !notified["s1"] || !notified["s2"] {
		t.Errorf("both linked peers must be notified, got %v", notified)
	}

	// Links are gone: a fresh offer is not a duplicate.
	if err := relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"}); err != nil {
		t.Fatalf("re-offer after disconnect: %v", err)
	}
	if got := len(sender.framesOfType(types.MessageTypeWebRTCOffer)); got != 3 {
		t.Errorf("expected the re-offer to be delivered, total offers %d", got)
	}
}

func TestRelay_RemoveSessionDropsLinks(t *testing.T) {
	sender := newMockSender()
	relay := NewRelay(sender)

	relay.RelayOffer("session-1", "t1", &types.SDPPayload{To: "s1"})
	if relay.LinkCount("session-1") == 0 {
		t.Fatal("expected standing links")
	}

	relay.RemoveSession("session-1")
	if relay.LinkCount("session-1") != 0 {
		t.Error("RemoveSession must drop all link state")
	}

	// No teardown notices fire for a reclaimed session.
	before := len(sender.framesOfType(types.MessageTypePeerDisconnected))
	relay.HandleDisconnect("session-1", "t1")
	if len(sender.framesOfType(types.MessageTypePeerDisconnected)) != before {
		t.Error("disconnect after session removal must notify nobody")
	}
}
