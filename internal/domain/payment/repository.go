package payment

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_gateway.go -package=mocks . Gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LedgerRepository persists immutable ledger rows.
type LedgerRepository interface {
	Append(ctx context.Context, tx *Transaction) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*Transaction, error)
	FindVerified(ctx context.Context, orderID, paymentID string) (*Transaction, error)
	BalancePaise(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

// EscrowRepository persists escrow holds.
type EscrowRepository interface {
	Create(ctx context.Context, hold *EscrowHold) error
	GetActive(ctx context.Context, conversationID uuid.UUID) (*EscrowHold, error)
	UpdateStatus(ctx context.Context, holdID uuid.UUID, status EscrowStatus, releasedAt *time.Time) error
}

// CommissionRepository reads commission settings.
type CommissionRepository interface {
	ListActive(ctx context.Context) ([]*CommissionSetting, error)
}

// OrderInput is the request for a gateway order.
type OrderInput struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Gateway abstracts the payment provider. CreateOrder is fail-soft for the
// caller (state stays pending on error); VerifySignature gates the verified
// transition.
type Gateway interface {
	CreateOrder(ctx context.Context, in OrderInput) (*Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// AdminTracking looks up the admin-managed payment record for a conversation.
// A nil Tracking with nil error means no record exists.
type AdminTracking interface {
	Lookup(ctx context.Context, conversationID uuid.UUID) (*Tracking, error)
	MarkFinalCompleted(ctx context.Context, conversationID uuid.UUID) error
}
