package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/influmatch/influmatch/internal/domain/conversation"
)

// Event names published on the realtime channel.
const (
	EventChatNew             = "chat:new"
	EventChatAutomated       = "chat:automated"
	EventStateChanged        = "conversation_state_changed"
	EventConversationsUpsert = "conversations:upsert"
	EventUnreadCountUpdated  = "unread_count_updated"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// EventHub publishes realtime events to per-conversation rooms and per-user
// channels. Emission is best-effort and never blocks the caller.
type EventHub interface {
	EmitToConversation(conversationID uuid.UUID, event string, payload any)
	EmitToUser(userID uuid.UUID, event string, payload any)
}

// Pusher delivers flow-state push notifications. Failures are logged and
// swallowed by callers; delivery is never part of the state transaction.
type Pusher interface {
	SendFlowStateNotification(ctx context.Context, conversationID, userID uuid.UUID, state conversation.FlowState, body string) error
}

// RateLimiter bounds message throughput per (user, room) over a sliding
// window. Allow must be consulted before any mutation.
type RateLimiter interface {
	Allow(userID uuid.UUID, room string) bool
}

// SSEClient is an active event-stream subscriber. Rooms are conversation ids
// the client watches.
type SSEClient struct {
	ClientID    string
	UserID      *uuid.UUID
	Rooms       []string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a subscriber with a buffered channel.
func NewSSEClient(clientID string, userID *uuid.UUID, rooms []string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		Rooms:       rooms,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel.
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// InRoom reports whether the client subscribed to the room.
func (c *SSEClient) InRoom(room string) bool {
	for _, r := range c.Rooms {
		if r == room {
			return true
		}
	}
	return false
}

// SSEMessage is one event-stream frame. IDs are stable so clients can
// deduplicate redeliveries.
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates an event frame with a fresh stable id.
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
