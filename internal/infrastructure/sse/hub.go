package sse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/domain/notification"
)

// Hub manages SSE clients and fans events out to conversation rooms and
// per-user channels. Sends never block; a full client channel drops the
// frame and the client reconciles via the context endpoint.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notification.SSEClient
	logger  zerolog.Logger
}

var _ notification.EventHub = (*Hub)(nil)

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*notification.SSEClient),
		logger:  logger.With().Str("service", "sse").Logger(),
	}
}

func (h *Hub) Register(client *notification.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClient(clientID string) *notification.SSEClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmitToConversation delivers an event to every client in the conversation's
// room.
func (h *Hub) EmitToConversation(conversationID uuid.UUID, event string, payload any) {
	msg := h.frame(event, payload)
	if msg == nil {
		return
	}
	room := conversationID.String()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.InRoom(room) {
			h.trySend(c, msg)
		}
	}
}

// EmitToUser delivers an event to every connection the user holds.
func (h *Hub) EmitToUser(userID uuid.UUID, event string, payload any) {
	msg := h.frame(event, payload)
	if msg == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID != nil && *c.UserID == userID {
			h.trySend(c, msg)
		}
	}
}

// SendToClient targets one connection, for replay after reconnect.
func (h *Hub) SendToClient(clientID string, msg *notification.SSEMessage) error {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return notification.ErrClientNotFound
	}
	if !h.trySend(c, msg) {
		return notification.ErrChannelFull
	}
	return nil
}

func (h *Hub) Start(ctx context.Context) {
	_ = ctx
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func (h *Hub) frame(event string, payload any) *notification.SSEMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to marshal SSE payload")
		return nil
	}
	return notification.NewSSEMessage(event, data)
}

func (h *Hub) trySend(c *notification.SSEClient, msg *notification.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		h.logger.Warn().Str("client_id", c.ClientID).Str("event", msg.Event).Msg("SSE channel full; dropping frame")
		return false
	}
}
