package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Sender is the slice of the websocket broadcaster the relay needs.
type Sender interface {
	ToOne(sessionID, userID string, msg *types.Envelope)
	IsOnline(sessionID, userID string) bool
}

// Relay handles private messaging: persist first, then forward to the
// recipient if they are online. An offline recipient loses nothing; the
// stored conversation replays when they open the chat. Unread counts are
// tracked per recipient per counterpart and survive until an OPEN_CHAT
// clears them.
type Relay struct {
	db     interfaces.DatabaseManager
	sender Sender

	mu     sync.Mutex
	unread map[string]map[string]map[string]int // sessionID -> recipient -> counterpart -> count
}

// NewRelay creates a chat relay backed by the database manager.
func NewRelay(db interfaces.DatabaseManager, sender Sender) *Relay {
	return &Relay{
		db:     db,
		sender: sender,
		unread: make(map[string]map[string]map[string]int),
	}
}

// Send stores and relays one private message. The server stamps id and
// timestamp; the stored copy is the source of truth, so a persistence
// failure fails the whole send rather than delivering an unrecorded
// message.
func (r *Relay) Send(ctx context.Context, sessionID, from string, payload *types.PrivateMessagePayload) error {
	if payload.To == "" || payload.To == from {
		return ErrInvalidRecipient
	}
	if payload.Text == "" || len(payload.Text) > maxMessageBytes {
		return ErrInvalidText
	}

	msg := &types.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		From:      from,
		To:        payload.To,
		Text:      payload.Text,
		Timestamp: time.Now().UTC(),
	}

	if err := r.db.StoreChatMessage(ctx, msg); err != nil {
		return err
	}

	if r.sender.IsOnline(sessionID, payload.To) {
		r.sender.ToOne(sessionID, payload.To,
			types.NewEnvelope(types.MessageTypePrivateMessage, msg))
	}

	counts := r.bumpUnread(sessionID, payload.To, from)
	if r.sender.IsOnline(sessionID, payload.To) {
		r.sender.ToOne(sessionID, payload.To,
			types.NewEnvelope(types.MessageTypeChatUnread, types.ChatUnreadPayload{Counts: counts}))
	}
	return nil
}

// OpenChat marks the conversation with one counterpart as read and replays
// its stored history to the opener.
func (r *Relay) OpenChat(ctx context.Context, sessionID, userID, withID string) error {
	if withID == "" || withID == userID {
		return ErrInvalidRecipient
	}

	counts := r.clearUnread(sessionID, userID, withID)
	r.sender.ToOne(sessionID, userID,
		types.NewEnvelope(types.MessageTypeChatUnread, types.ChatUnreadPayload{Counts: counts}))

	history, err := r.db.GetConversation(ctx, sessionID, userID, withID)
	if err != nil {
		log.Printf("Failed to load conversation %s/%s in session %s: %v", userID, withID, sessionID, err)
		return err
	}
	r.sender.ToOne(sessionID, userID,
		types.NewEnvelope(types.MessageTypeChatHistory,
			types.ChatHistoryPayload{With: withID, Messages: history}))
	return nil
}

// UnreadCounts returns the opener's current unread counts, for resync.
func (r *Relay) UnreadCounts(sessionID, userID string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyCounts(r.unread[sessionID][userID])
}

// RemoveSession drops all unread state for a reclaimed session. Stored
// messages stay in the database.
func (r *Relay) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unread, sessionID)
}

func (r *Relay) bumpUnread(sessionID, recipient, counterpart string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.unread[sessionID]
	if !exists {
		session = make(map[string]map[string]int)
		r.unread[sessionID] = session
	}
	if session[recipient] == nil {
		session[recipient] = make(map[string]int)
	}
	session[recipient][counterpart]++
	return copyCounts(session[recipient])
}

func (r *Relay) clearUnread(sessionID, userID, withID string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := r.unread[sessionID][userID]
	delete(counts, withID)
	return copyCounts(counts)
}

func copyCounts(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
