package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/payment"
)

// Service controls the escrow lifecycle: hold verified funds, release on
// approval, refund on admin closure. All methods run inside the caller's
// per-conversation transaction.
type Service struct {
	holds  payment.EscrowRepository
	ledger payment.LedgerRepository
	logger zerolog.Logger
}

// NewService creates an escrow controller.
func NewService(holds payment.EscrowRepository, ledger payment.LedgerRepository, logger zerolog.Logger) *Service {
	return &Service{
		holds:  holds,
		ledger: ledger,
		logger: logger.With().Str("service", "escrow").Logger(),
	}
}

// Hold retains amountPaise for a conversation. At most one active hold may
// exist per conversation.
func (s *Service) Hold(ctx context.Context, conversationID uuid.UUID, amountPaise int64, now time.Time) (*payment.EscrowHold, error) {
	if amountPaise <= 0 {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "escrow amount must be positive")
	}
	existing, err := s.holds.GetActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, conversation.NewError(conversation.ErrPreconditionFailed, "conversation already has an active escrow hold")
	}

	hold := &payment.EscrowHold{
		HoldID:         uuid.New(),
		ConversationID: conversationID,
		AmountPaise:    amountPaise,
		Status:         payment.EscrowStatusHeld,
		CreatedAt:      now,
	}
	if err := s.holds.Create(ctx, hold); err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: conversationID,
		Direction:      payment.DirectionIn,
		Stage:          payment.StageEscrowHold,
		AmountPaise:    amountPaise,
		Status:         payment.TransactionStatusHeld,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}
	return hold, nil
}

// Release pays the active hold out to the influencer on work approval.
func (s *Service) Release(ctx context.Context, conversationID, influencerID uuid.UUID, now time.Time) (*payment.EscrowHold, error) {
	hold, err := s.activeHold(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.holds.UpdateStatus(ctx, hold.HoldID, payment.EscrowStatusReleased, &now); err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: conversationID,
		Direction:      payment.DirectionOut,
		Stage:          payment.StageEscrowRelease,
		AmountPaise:    hold.AmountPaise,
		Status:         payment.TransactionStatusCompleted,
		ReceiverID:     &influencerID,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}
	hold.Status = payment.EscrowStatusReleased
	hold.ReleasedAt = &now
	return hold, nil
}

// Refund returns the active hold to the brand owner on admin closure.
func (s *Service) Refund(ctx context.Context, conversationID, brandOwnerID uuid.UUID, now time.Time) (*payment.EscrowHold, error) {
	hold, err := s.activeHold(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.holds.UpdateStatus(ctx, hold.HoldID, payment.EscrowStatusRefunded, &now); err != nil {
		return nil, err
	}
	if err := s.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: conversationID,
		Direction:      payment.DirectionOut,
		Stage:          payment.StageRefund,
		AmountPaise:    hold.AmountPaise,
		Status:         payment.TransactionStatusCompleted,
		ReceiverID:     &brandOwnerID,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}
	hold.Status = payment.EscrowStatusRefunded
	hold.ReleasedAt = &now
	return hold, nil
}

// ActiveHold returns the current hold, or nil when none is active.
func (s *Service) ActiveHold(ctx context.Context, conversationID uuid.UUID) (*payment.EscrowHold, error) {
	return s.holds.GetActive(ctx, conversationID)
}

func (s *Service) activeHold(ctx context.Context, conversationID uuid.UUID) (*payment.EscrowHold, error) {
	hold, err := s.holds.GetActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, conversation.NewError(conversation.ErrPreconditionFailed, "no active escrow hold for conversation %s", conversationID)
	}
	return hold, nil
}
