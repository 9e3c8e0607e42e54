package payment

import (
	"time"

	"github.com/google/uuid"
)

// Direction describes which way money moves relative to the platform.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Stage describes what a ledger entry records.
type Stage string

const (
	StageOrderCreated  Stage = "ORDER_CREATED"
	StageVerified      Stage = "VERIFIED"
	StageEscrowHold    Stage = "ESCROW_HOLD"
	StageEscrowRelease Stage = "ESCROW_RELEASE"
	StageAdvance       Stage = "ADVANCE"
	StageFinal         Stage = "FINAL"
	StageRefund        Stage = "REFUND"
	StageReceived      Stage = "RECEIVED"
)

// TransactionStatus describes whether an entry counts toward the conversation
// balance. Only COMPLETED entries do; CREATED records an order awaiting
// verification and HELD mirrors an escrow hold.
type TransactionStatus string

const (
	TransactionStatusCreated   TransactionStatus = "CREATED"
	TransactionStatusHeld      TransactionStatus = "HELD"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
)

// Transaction is one immutable ledger row tied to a conversation.
type Transaction struct {
	ID             int64             `json:"id"`
	TransactionID  uuid.UUID         `json:"transactionId"`
	ConversationID uuid.UUID         `json:"conversationId"`
	Direction      Direction         `json:"direction"`
	Stage          Stage             `json:"stage"`
	AmountPaise    int64             `json:"amountPaise"`
	Status         TransactionStatus `json:"status"`
	SenderID       *uuid.UUID        `json:"senderId,omitempty"`
	ReceiverID     *uuid.UUID        `json:"receiverId,omitempty"`
	ExternalRef    *string           `json:"externalRef,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// EscrowStatus describes the lifecycle of held funds.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "HELD"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
)

// EscrowHold retains verified funds until work approval. At most one hold per
// conversation is active at a time.
type EscrowHold struct {
	ID             int64        `json:"id"`
	HoldID         uuid.UUID    `json:"holdId"`
	ConversationID uuid.UUID    `json:"conversationId"`
	AmountPaise    int64        `json:"amountPaise"`
	Status         EscrowStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	ReleasedAt     *time.Time   `json:"releasedAt,omitempty"`
}

// Active reports whether the hold still retains funds.
func (h *EscrowHold) Active() bool {
	return h.Status == EscrowStatusHeld
}

// CommissionSetting configures the platform fee. Condition is an optional
// boolean expression over {amount_paise, source}; an empty condition always
// matches.
type CommissionSetting struct {
	ID            int64     `json:"id"`
	SettingID     uuid.UUID `json:"settingId"`
	PercentBps    int64     `json:"percentBps"`
	Condition     string    `json:"condition,omitempty"`
	IsActive      bool      `json:"isActive"`
	EffectiveFrom time.Time `json:"effectiveFrom"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Order is the payment-gateway order created for a pending payment.
type Order struct {
	OrderID     string `json:"order_id"`
	AmountPaise int64  `json:"amount_paise"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

// Tracking is the admin-managed payment record consulted on work approval.
// Advance AdminConfirmed with a pending final routes approval through the
// admin final-payment flow instead of direct escrow release.
type Tracking struct {
	ConversationID       uuid.UUID  `json:"conversationId"`
	AdvancePaymentStatus string     `json:"advancePaymentStatus"`
	FinalPaymentStatus   string     `json:"finalPaymentStatus"`
	AdvancePaise         int64      `json:"advancePaise"`
	FinalPaise           int64      `json:"finalPaise"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	ConfirmedAt          *time.Time `json:"confirmedAt,omitempty"`
}

const (
	TrackingStatusPending        = "PENDING"
	TrackingStatusAdminConfirmed = "ADMIN_CONFIRMED"
	TrackingStatusCompleted      = "COMPLETED"
)

// AdminManaged reports whether approval must wait for the admin final
// disbursement.
func (t *Tracking) AdminManaged() bool {
	return t != nil &&
		t.AdvancePaymentStatus == TrackingStatusAdminConfirmed &&
		t.FinalPaymentStatus == TrackingStatusPending
}
