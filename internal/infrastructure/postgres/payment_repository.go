package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/influmatch/influmatch/internal/domain/payment"
)

// LedgerRepository implements payment.LedgerRepository over the append-only
// transactions table.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) Append(ctx context.Context, t *payment.Transaction) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		INSERT INTO transactions
		(transaction_id, conversation_id, direction, stage, amount_paise, status,
		 sender_id, receiver_id, external_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.TransactionID, t.ConversationID, t.Direction, t.Stage, t.AmountPaise, t.Status,
		t.SenderID, t.ReceiverID, t.ExternalRef, t.CreatedAt)
	return err
}

func (r *LedgerRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*payment.Transaction, error) {
	rows, err := q(ctx, r.pool).Query(ctx, `
		SELECT id, transaction_id, conversation_id, direction, stage, amount_paise, status,
		       sender_id, receiver_id, external_ref, created_at
		FROM transactions WHERE conversation_id=$1
		ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payment.Transaction
	for rows.Next() {
		var t payment.Transaction
		if err := rows.Scan(&t.ID, &t.TransactionID, &t.ConversationID, &t.Direction, &t.Stage,
			&t.AmountPaise, &t.Status, &t.SenderID, &t.ReceiverID, &t.ExternalRef, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) FindVerified(ctx context.Context, orderID, paymentID string) (*payment.Transaction, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT t.id, t.transaction_id, t.conversation_id, t.direction, t.stage, t.amount_paise, t.status,
		       t.sender_id, t.receiver_id, t.external_ref, t.created_at
		FROM transactions t
		JOIN conversations c ON c.conversation_id = t.conversation_id
		WHERE t.stage=$1 AND t.external_ref=$2 AND c.flow_data->>'razorpay_order_id'=$3
	`, payment.StageVerified, paymentID, orderID)
	var t payment.Transaction
	if err := row.Scan(&t.ID, &t.TransactionID, &t.ConversationID, &t.Direction, &t.Stage,
		&t.AmountPaise, &t.Status, &t.SenderID, &t.ReceiverID, &t.ExternalRef, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *LedgerRepository) BalancePaise(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction=$2 THEN amount_paise ELSE -amount_paise END), 0)
		FROM transactions
		WHERE conversation_id=$1 AND status=$3
	`, conversationID, payment.DirectionIn, payment.TransactionStatusCompleted)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// EscrowRepository implements payment.EscrowRepository. A partial unique
// index guarantees at most one HELD row per conversation.
type EscrowRepository struct {
	pool *pgxpool.Pool
}

func NewEscrowRepository(pool *pgxpool.Pool) *EscrowRepository {
	return &EscrowRepository{pool: pool}
}

func (r *EscrowRepository) Create(ctx context.Context, h *payment.EscrowHold) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		INSERT INTO escrow_holds (hold_id, conversation_id, amount_paise, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, h.HoldID, h.ConversationID, h.AmountPaise, h.Status, h.CreatedAt)
	return err
}

func (r *EscrowRepository) GetActive(ctx context.Context, conversationID uuid.UUID) (*payment.EscrowHold, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT id, hold_id, conversation_id, amount_paise, status, created_at, released_at
		FROM escrow_holds WHERE conversation_id=$1 AND status=$2
	`, conversationID, payment.EscrowStatusHeld)
	var h payment.EscrowHold
	if err := row.Scan(&h.ID, &h.HoldID, &h.ConversationID, &h.AmountPaise, &h.Status, &h.CreatedAt, &h.ReleasedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func (r *EscrowRepository) UpdateStatus(ctx context.Context, holdID uuid.UUID, status payment.EscrowStatus, releasedAt *time.Time) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		UPDATE escrow_holds SET status=$1, released_at=$2 WHERE hold_id=$3
	`, status, releasedAt, holdID)
	return err
}

// CommissionRepository implements payment.CommissionRepository.
type CommissionRepository struct {
	pool *pgxpool.Pool
}

func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

func (r *CommissionRepository) ListActive(ctx context.Context) ([]*payment.CommissionSetting, error) {
	rows, err := q(ctx, r.pool).Query(ctx, `
		SELECT setting_id, percent_bps, condition, is_active, effective_from
		FROM commission_settings
		WHERE is_active AND effective_from <= NOW()
		ORDER BY effective_from DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payment.CommissionSetting
	for rows.Next() {
		var s payment.CommissionSetting
		if err := rows.Scan(&s.SettingID, &s.PercentBps, &s.Condition, &s.IsActive, &s.EffectiveFrom); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// TrackingRepository implements payment.AdminTracking.
type TrackingRepository struct {
	pool *pgxpool.Pool
}

func NewTrackingRepository(pool *pgxpool.Pool) *TrackingRepository {
	return &TrackingRepository{pool: pool}
}

func (r *TrackingRepository) Lookup(ctx context.Context, conversationID uuid.UUID) (*payment.Tracking, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT conversation_id, advance_payment_status, final_payment_status,
		       advance_paise, final_paise, updated_at, confirmed_at
		FROM admin_payment_trackings WHERE conversation_id=$1
	`, conversationID)
	var t payment.Tracking
	if err := row.Scan(&t.ConversationID, &t.AdvancePaymentStatus, &t.FinalPaymentStatus,
		&t.AdvancePaise, &t.FinalPaise, &t.UpdatedAt, &t.ConfirmedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TrackingRepository) MarkFinalCompleted(ctx context.Context, conversationID uuid.UUID) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		UPDATE admin_payment_trackings
		SET final_payment_status=$1, updated_at=NOW()
		WHERE conversation_id=$2
	`, payment.TrackingStatusCompleted, conversationID)
	return err
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
