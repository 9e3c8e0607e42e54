package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/influmatch/influmatch/internal/domain/payment"
)

// FlowState is the current node of the negotiation state machine.
type FlowState string

const (
	StateInfluencerResponding        FlowState = "INFLUENCER_RESPONDING"
	StateBrandOwnerDetails           FlowState = "BRAND_OWNER_DETAILS"
	StateInfluencerReviewing         FlowState = "INFLUENCER_REVIEWING"
	StateBrandOwnerPricing           FlowState = "BRAND_OWNER_PRICING"
	StateInfluencerPriceResponse     FlowState = "INFLUENCER_PRICE_RESPONSE"
	StateBrandOwnerNegotiation       FlowState = "BRAND_OWNER_NEGOTIATION"
	StateInfluencerNegotiationInput  FlowState = "INFLUENCER_NEGOTIATION_INPUT"
	StateBrandOwnerNegotiationReview FlowState = "BRAND_OWNER_NEGOTIATION_REVIEW"
	StatePaymentPending              FlowState = "PAYMENT_PENDING"
	StatePaymentCompleted            FlowState = "PAYMENT_COMPLETED"
	StateWorkInProgress              FlowState = "WORK_IN_PROGRESS"
	StateWorkSubmitted               FlowState = "WORK_SUBMITTED"
	StateWorkFinalReview             FlowState = "WORK_FINAL_REVIEW"
	StateAdminFinalPaymentPending    FlowState = "ADMIN_FINAL_PAYMENT_PENDING"
	StateAdminFinalPaymentComplete   FlowState = "ADMIN_FINAL_PAYMENT_COMPLETE"
	StateWorkApproved                FlowState = "WORK_APPROVED"
	StateWorkRejected                FlowState = "WORK_REJECTED"
	StatePriceRejected               FlowState = "PRICE_REJECTED"
	StateProjectRejected             FlowState = "PROJECT_REJECTED"
	StateClosed                      FlowState = "CLOSED"
)

// Terminal reports whether no further non-admin actions are accepted.
func (s FlowState) Terminal() bool {
	switch s {
	case StateAdminFinalPaymentComplete, StateWorkApproved, StateWorkRejected,
		StatePriceRejected, StateProjectRejected, StateClosed:
		return true
	}
	return false
}

// Role identifies the party performing or awaiting an action.
type Role string

const (
	RoleBrandOwner Role = "BRAND_OWNER"
	RoleInfluencer Role = "INFLUENCER"
	RoleAdmin      Role = "ADMIN"
	RoleSystem     Role = "SYSTEM"
	RoleBoth       Role = "BOTH"
	RoleNone       Role = "NONE"
)

// ChatStatus describes what kind of messaging the conversation accepts.
type ChatStatus string

const (
	ChatStatusAutomated ChatStatus = "AUTOMATED"
	ChatStatusRealTime  ChatStatus = "REAL_TIME"
	ChatStatusClosed    ChatStatus = "CLOSED"
)

// Action is a state-machine input.
type Action string

const (
	ActionAcceptConnection         Action = "accept_connection"
	ActionRejectConnection         Action = "reject_connection"
	ActionSendProjectDetails       Action = "send_project_details"
	ActionAcceptProjectDetails     Action = "accept_project_details"
	ActionRejectProjectDetails     Action = "reject_project_details"
	ActionSendPriceOffer           Action = "send_price_offer"
	ActionAcceptPrice              Action = "accept_price"
	ActionRejectPrice              Action = "reject_price"
	ActionNegotiatePrice           Action = "negotiate_price"
	ActionAcceptNegotiation        Action = "accept_negotiation"
	ActionRejectNegotiation        Action = "reject_negotiation"
	ActionSendNegotiatedPrice      Action = "send_negotiated_price"
	ActionAcceptNegotiatedPrice    Action = "accept_negotiated_price"
	ActionRejectNegotiatedPrice    Action = "reject_negotiated_price"
	ActionProceedToPayment         Action = "proceed_to_payment"
	ActionStartWork                Action = "start_work"
	ActionSubmitWork               Action = "submit_work"
	ActionResubmitWork             Action = "resubmit_work"
	ActionApproveWork              Action = "approve_work"
	ActionRequestRevision          Action = "request_revision"
	ActionRejectFinalWork          Action = "reject_final_work"
	ActionReceiveBrandOwnerPayment Action = "receive_brand_owner_payment"
	ActionReleaseAdvance           Action = "release_advance"
	ActionReleaseFinal             Action = "release_final"
	ActionRefundFinal              Action = "refund_final"
	ActionForceClose               Action = "force_close"
)

// DefaultMaxRevisions bounds the revision loop.
const DefaultMaxRevisions = 3

// NegotiationEvent is one entry in the negotiation history.
type NegotiationEvent struct {
	Event      string    `json:"event"`
	By         Role      `json:"by"`
	PricePaise *int64    `json:"price_paise,omitempty"`
	At         time.Time `json:"at"`
}

// Revision is one entry in the revision history.
type Revision struct {
	RevisionNumber int        `json:"revision_number"`
	RequestedAt    time.Time  `json:"requested_at"`
	Feedback       string     `json:"feedback"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	Status         string     `json:"status"`
}

const (
	RevisionStatusRequested = "REQUESTED"
	RevisionStatusSubmitted = "SUBMITTED"
)

// WorkSubmission is the influencer's deliverable payload captured on submit.
type WorkSubmission struct {
	Deliverables  []string   `json:"deliverables,omitempty"`
	Description   string     `json:"description,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	AttachmentIDs []string   `json:"attachment_ids,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
}

// FlowData carries the recognized per-conversation flow values. All monetary
// fields are paise.
type FlowData struct {
	PriceOfferPaise      int64           `json:"price_offer_paise,omitempty"`
	NegotiatedPricePaise int64           `json:"negotiated_price_paise,omitempty"`
	AgreedPricePaise     int64           `json:"agreed_price_paise,omitempty"`
	ProjectDetails       string          `json:"project_details,omitempty"`
	RazorpayOrderID      string          `json:"razorpay_order_id,omitempty"`
	Submission           *WorkSubmission `json:"submission,omitempty"`
	PriceOfferedAt       *time.Time      `json:"price_offered_at,omitempty"`
	AgreedAt             *time.Time      `json:"agreed_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
}

// Conversation is the primary aggregate: one negotiation between a brand
// owner and an influencer, optionally linked to a bid xor a campaign.
type Conversation struct {
	ID                 int64              `json:"id"`
	ConversationID     uuid.UUID          `json:"conversationId"`
	BrandOwnerID       uuid.UUID          `json:"brandOwnerId"`
	InfluencerID       uuid.UUID          `json:"influencerId"`
	BidID              *uuid.UUID         `json:"bidId,omitempty"`
	CampaignID         *uuid.UUID         `json:"campaignId,omitempty"`
	RequestID          *uuid.UUID         `json:"requestId,omitempty"`
	FlowState          FlowState          `json:"flowState"`
	AwaitingRole       Role               `json:"awaitingRole"`
	ChatStatus         ChatStatus         `json:"chatStatus"`
	FlowData           FlowData           `json:"flowData"`
	NegotiationHistory []NegotiationEvent `json:"negotiationHistory,omitempty"`
	RevisionCount      int                `json:"revisionCount"`
	MaxRevisions       int                `json:"maxRevisions"`
	RevisionHistory    []Revision         `json:"revisionHistory,omitempty"`
	CurrentActionData  *ActionPrompt      `json:"currentActionData,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// ParticipantID resolves the user id acting under role. Admin and system
// actions carry the nil UUID system identity.
func (c *Conversation) ParticipantID(role Role) uuid.UUID {
	switch role {
	case RoleBrandOwner:
		return c.BrandOwnerID
	case RoleInfluencer:
		return c.InfluencerID
	}
	return uuid.Nil
}

// Counterparty returns the other human party for a given role, or uuid.Nil
// when the role is not a party (system broadcast).
func (c *Conversation) Counterparty(role Role) uuid.UUID {
	switch role {
	case RoleBrandOwner:
		return c.InfluencerID
	case RoleInfluencer:
		return c.BrandOwnerID
	}
	return uuid.Nil
}

// IsParticipant reports whether userID is one of the two parties.
func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	return userID == c.BrandOwnerID || userID == c.InfluencerID
}

// OnLastAllowedRevision reports whether the current submission is the final
// one: once revision_count reaches max_revisions-1, the next resubmission goes
// to final review where the only exits are approval or final rejection.
func (c *Conversation) OnLastAllowedRevision() bool {
	return c.RevisionCount >= c.MaxRevisions-1
}

// MessageType classifies a persisted message.
type MessageType string

const (
	MessageTypeAutomated           MessageType = "AUTOMATED"
	MessageTypeUser                MessageType = "USER"
	MessageTypeSystemPaymentUpdate MessageType = "SYSTEM_PAYMENT_UPDATE"
)

// Message is one append-only chat entry. Messages are immutable once written;
// read state lives on a side record.
type Message struct {
	ID             string        `json:"id"`
	ConversationID uuid.UUID     `json:"conversationId"`
	SenderID       uuid.UUID     `json:"senderId"`
	ReceiverID     *uuid.UUID    `json:"receiverId,omitempty"`
	Message        string        `json:"message"`
	MessageType    MessageType   `json:"messageType"`
	ActionRequired bool          `json:"actionRequired"`
	ActionData     *ActionPrompt `json:"actionData,omitempty"`
	Attachments    []string      `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// PromptButton is one client action button inside a prompt.
type PromptButton struct {
	ID     string         `json:"id"`
	Text   string         `json:"text"`
	Style  string         `json:"style"`
	Action Action         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// PromptInput describes the free-form input a prompt requests.
type PromptInput struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"required"`
	Min         *float64 `json:"min,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
}

// ActionPrompt is the structured instruction published to clients alongside an
// automated message. FlowState names the state the prompt belongs to.
type ActionPrompt struct {
	Title            string             `json:"title"`
	Subtitle         string             `json:"subtitle,omitempty"`
	VisibleTo        Role               `json:"visible_to"`
	FlowState        FlowState          `json:"flow_state"`
	MessageType      MessageType        `json:"message_type"`
	Buttons          []PromptButton     `json:"buttons,omitempty"`
	InputField       *PromptInput       `json:"input_field,omitempty"`
	PaymentBreakdown *payment.Breakdown `json:"payment_breakdown,omitempty"`
	Order            *payment.Order     `json:"order,omitempty"`
	AutoTrigger      string             `json:"auto_trigger,omitempty"`
}

// RequestStatus tracks the bid-request lifecycle used by listings.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusAccepted  RequestStatus = "ACCEPTED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
)

// Request links an influencer to a bid and carries proposed/final amounts.
type Request struct {
	ID                     int64         `json:"id"`
	RequestID              uuid.UUID     `json:"requestId"`
	BidID                  uuid.UUID     `json:"bidId"`
	BrandOwnerID           uuid.UUID     `json:"brandOwnerId"`
	InfluencerID           uuid.UUID     `json:"influencerId"`
	ProposedAmountPaise    int64         `json:"proposedAmountPaise"`
	FinalAgreedAmountPaise *int64        `json:"finalAgreedAmountPaise,omitempty"`
	Status                 RequestStatus `json:"status"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}
