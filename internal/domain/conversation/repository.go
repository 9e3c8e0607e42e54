package conversation

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for conversations, messages and requests.
// Within an engine action all calls run inside the transaction installed by
// TxRunner; reads outside an action hit the pool directly.
type Repository interface {
	Create(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*Conversation, error)
	GetByOrderID(ctx context.Context, orderID string) (*Conversation, error)
	FindByBid(ctx context.Context, bidID, brandOwnerID, influencerID uuid.UUID) (*Conversation, error)
	FindByCampaign(ctx context.Context, campaignID, brandOwnerID, influencerID uuid.UUID) (*Conversation, error)
	Update(ctx context.Context, c *Conversation) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Conversation, error)

	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, beforeID string) ([]*Message, error)
	LatestMessage(ctx context.Context, conversationID uuid.UUID) (*Message, error)

	CreateRequest(ctx context.Context, r *Request) error
	GetRequestByBid(ctx context.Context, bidID, influencerID uuid.UUID) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error

	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, messageID string) error
}

// TxRunner serializes one action per conversation: fn runs inside a single
// transaction holding the per-conversation lock; every repository call made
// with the supplied context joins that transaction.
type TxRunner interface {
	WithConversation(ctx context.Context, conversationID uuid.UUID, fn func(ctx context.Context) error) error
}
