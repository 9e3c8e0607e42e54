package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/application/commission"
	"github.com/influmatch/influmatch/internal/application/escrow"
	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/notification"
	"github.com/influmatch/influmatch/internal/domain/payment"
)

// Engine drives the negotiation and escrow state machine. One action per
// conversation runs at a time: load, authorize, compute and persist happen
// inside the per-conversation transaction; events and push notifications go
// out only after commit.
type Engine struct {
	repo       conversation.Repository
	ledger     payment.LedgerRepository
	escrow     *escrow.Service
	commission *commission.Service
	gateway    payment.Gateway
	tracking   payment.AdminTracking
	tx         conversation.TxRunner
	events     notification.EventHub
	push       notification.Pusher
	limiter    notification.RateLimiter
	logger     zerolog.Logger

	maxRevisions int
	now          func() time.Time
	msgID        func() string
}

// SetMaxRevisions overrides the revision budget applied to new conversations.
func (e *Engine) SetMaxRevisions(n int) {
	if n > 0 {
		e.maxRevisions = n
	}
}

// NewEngine wires the state machine with its collaborators.
func NewEngine(
	repo conversation.Repository,
	ledger payment.LedgerRepository,
	escrowSvc *escrow.Service,
	commissionSvc *commission.Service,
	gateway payment.Gateway,
	tracking payment.AdminTracking,
	tx conversation.TxRunner,
	events notification.EventHub,
	push notification.Pusher,
	limiter notification.RateLimiter,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		repo:       repo,
		ledger:     ledger,
		escrow:     escrowSvc,
		commission: commissionSvc,
		gateway:    gateway,
		tracking:   tracking,
		tx:         tx,
		events:     events,
		push:       push,
		limiter:    limiter,
		logger:     logger.With().Str("service", "engine").Logger(),

		maxRevisions: conversation.DefaultMaxRevisions,
		now:          func() time.Time { return time.Now().UTC() },
		msgID:        func() string { return ulid.Make().String() },
	}
}

// ActionPayload is the closed set of recognized payload keys across all
// actions. Unknown keys are ignored; missing required keys fail per action.
type ActionPayload struct {
	Price             *float64 `json:"price,omitempty"`
	ProjectDetails    string   `json:"project_details,omitempty"`
	Feedback          string   `json:"feedback,omitempty"`
	Deliverables      []string `json:"deliverables,omitempty"`
	Description       string   `json:"description,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	AttachmentIDs     []string `json:"attachment_ids,omitempty"`
	AmountPaise       *int64   `json:"amount_paise,omitempty"`
	ProofAttachmentID string   `json:"proof_attachment_id,omitempty"`
	RefundEscrow      bool     `json:"refund_escrow,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

func (p ActionPayload) proofRef() *string {
	if p.ProofAttachmentID == "" {
		return nil
	}
	ref := p.ProofAttachmentID
	return &ref
}

func (p ActionPayload) attachments() []string {
	if p.ProofAttachmentID == "" {
		return nil
	}
	return []string{p.ProofAttachmentID}
}

// ParsePayload decodes a raw action payload. Unknown keys are ignored.
func ParsePayload(raw json.RawMessage) (ActionPayload, error) {
	var p ActionPayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, conversation.NewError(conversation.ErrInvalidInput, "malformed payload: %v", err)
	}
	return p, nil
}

// ActionResult is the engine boundary response shape.
type ActionResult struct {
	ConversationID    uuid.UUID                  `json:"conversation_id"`
	State             conversation.FlowState     `json:"state"`
	AwaitingRole      conversation.Role          `json:"awaiting_role"`
	Message           *conversation.Message      `json:"message,omitempty"`
	CurrentActionData *conversation.ActionPrompt `json:"current_action_data,omitempty"`
}

// effects accumulates everything an apply function staged during the
// transaction; it is dispatched only after commit.
type effects struct {
	conv      *conversation.Conversation
	request   *conversation.Request
	messages  []*conversation.Message
	prevState conversation.FlowState
}

func (fx *effects) stateChanged() bool {
	return fx.conv != nil && fx.conv.FlowState != fx.prevState
}

// InitializeBidInput starts (or resumes) a bid conversation.
type InitializeBidInput struct {
	BidID          uuid.UUID
	BrandOwnerID   uuid.UUID
	InfluencerID   uuid.UUID
	ProposedAmount float64
}

// InitializeBid is idempotent per (bid, brand owner, influencer): an existing
// conversation is returned with its latest message and state.
func (e *Engine) InitializeBid(ctx context.Context, in InitializeBidInput) (*ActionResult, error) {
	if in.BidID == uuid.Nil || in.BrandOwnerID == uuid.Nil || in.InfluencerID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "bid_id, brand_owner_id and influencer_id are required")
	}
	proposedPaise := payment.RupeesToPaise(in.ProposedAmount)
	if proposedPaise <= 0 {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "proposed_amount must be positive")
	}

	existing, err := e.repo.FindByBid(ctx, in.BidID, in.BrandOwnerID, in.InfluencerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.resultWithLatestMessage(ctx, existing)
	}

	bidID := in.BidID
	c := &conversation.Conversation{
		ConversationID: uuid.New(),
		BrandOwnerID:   in.BrandOwnerID,
		InfluencerID:   in.InfluencerID,
		BidID:          &bidID,
	}
	return e.initialize(ctx, c, proposedPaise, func(ctx context.Context) error {
		req, err := e.repo.GetRequestByBid(ctx, in.BidID, in.InfluencerID)
		if err != nil {
			return err
		}
		if req == nil {
			now := e.now()
			req = &conversation.Request{
				RequestID:           uuid.New(),
				BidID:               in.BidID,
				BrandOwnerID:        in.BrandOwnerID,
				InfluencerID:        in.InfluencerID,
				ProposedAmountPaise: proposedPaise,
				Status:              conversation.RequestStatusPending,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := e.repo.CreateRequest(ctx, req); err != nil {
				return err
			}
		}
		reqID := req.RequestID
		c.RequestID = &reqID
		return nil
	})
}

// InitializeCampaignInput starts (or resumes) a campaign conversation.
type InitializeCampaignInput struct {
	CampaignID     uuid.UUID
	BrandOwnerID   uuid.UUID
	InfluencerID   uuid.UUID
	CampaignBudget float64
}

// InitializeCampaign mirrors InitializeBid using the campaign budget for the
// initial prompt context.
func (e *Engine) InitializeCampaign(ctx context.Context, in InitializeCampaignInput) (*ActionResult, error) {
	if in.CampaignID == uuid.Nil || in.BrandOwnerID == uuid.Nil || in.InfluencerID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "campaign_id, brand_owner_id and influencer_id are required")
	}
	budgetPaise := payment.RupeesToPaise(in.CampaignBudget)
	if budgetPaise <= 0 {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "campaign budget must be positive")
	}

	existing, err := e.repo.FindByCampaign(ctx, in.CampaignID, in.BrandOwnerID, in.InfluencerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.resultWithLatestMessage(ctx, existing)
	}

	campaignID := in.CampaignID
	c := &conversation.Conversation{
		ConversationID: uuid.New(),
		BrandOwnerID:   in.BrandOwnerID,
		InfluencerID:   in.InfluencerID,
		CampaignID:     &campaignID,
	}
	return e.initialize(ctx, c, budgetPaise, nil)
}

func (e *Engine) initialize(ctx context.Context, c *conversation.Conversation, amountPaise int64, linkFn func(ctx context.Context) error) (*ActionResult, error) {
	now := e.now()
	c.FlowState = conversation.StateInfluencerResponding
	c.AwaitingRole = conversation.RoleInfluencer
	c.ChatStatus = conversation.ChatStatusAutomated
	c.MaxRevisions = e.maxRevisions
	c.CreatedAt = now
	c.UpdatedAt = now

	prompt := promptInfluencerResponding(amountPaise)
	c.CurrentActionData = prompt

	fx := &effects{conv: c, prevState: ""}
	influencer := c.InfluencerID
	msg := &conversation.Message{
		ID:             e.msgID(),
		ConversationID: c.ConversationID,
		SenderID:       c.BrandOwnerID,
		ReceiverID:     &influencer,
		Message:        "You have a new collaboration request.",
		MessageType:    conversation.MessageTypeAutomated,
		ActionRequired: true,
		ActionData:     prompt,
		CreatedAt:      now,
	}
	fx.messages = append(fx.messages, msg)

	err := e.tx.WithConversation(ctx, c.ConversationID, func(ctx context.Context) error {
		if linkFn != nil {
			if err := linkFn(ctx); err != nil {
				return err
			}
		}
		if err := e.repo.Create(ctx, c); err != nil {
			return err
		}
		return e.repo.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, fx)
	return &ActionResult{
		ConversationID:    c.ConversationID,
		State:             c.FlowState,
		AwaitingRole:      c.AwaitingRole,
		Message:           msg,
		CurrentActionData: c.CurrentActionData,
	}, nil
}

// HandleActionInput is one state-machine step request.
type HandleActionInput struct {
	ConversationID uuid.UUID
	ActorRole      conversation.Role
	Action         conversation.Action
	Payload        json.RawMessage
}

// HandleAction validates, authorizes and applies one action, persisting the
// transition atomically. Authorization failures leave no trace.
func (e *Engine) HandleAction(ctx context.Context, in HandleActionInput) (*ActionResult, error) {
	if in.ConversationID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "conversation_id is required")
	}
	if in.Action == "" {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "action is required")
	}
	payload, err := ParsePayload(in.Payload)
	if err != nil {
		return nil, err
	}

	var fx *effects
	err = e.tx.WithConversation(ctx, in.ConversationID, func(ctx context.Context) error {
		c, err := e.repo.GetByID(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		if c == nil {
			return conversation.NewError(conversation.ErrNotFound, "conversation not found: %s", in.ConversationID)
		}

		actor := in.ActorRole
		apply, err := e.route(c, actor, in.Action)
		if err != nil {
			return err
		}

		fx = &effects{conv: c, prevState: c.FlowState}
		if c.RequestID != nil && c.BidID != nil {
			req, err := e.repo.GetRequestByBid(ctx, *c.BidID, c.InfluencerID)
			if err != nil {
				return err
			}
			fx.request = req
		}

		if err := apply(ctx, e, c, actor, payload, fx); err != nil {
			return err
		}
		return e.persist(ctx, fx)
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, fx)

	var last *conversation.Message
	if n := len(fx.messages); n > 0 {
		last = fx.messages[n-1]
	}
	return &ActionResult{
		ConversationID:    fx.conv.ConversationID,
		State:             fx.conv.FlowState,
		AwaitingRole:      fx.conv.AwaitingRole,
		Message:           last,
		CurrentActionData: fx.conv.CurrentActionData,
	}, nil
}

// route authorizes the actor and selects the transition. Admin actors are
// confined to the admin-scoped actions; table transitions require the exact
// owning role. Terminal states reject everything before any mutation.
func (e *Engine) route(c *conversation.Conversation, actor conversation.Role, action conversation.Action) (applyFn, error) {
	adminApply, isAdminAction := adminTransitions[action]
	if isAdminAction {
		if actor != conversation.RoleAdmin {
			return nil, conversation.NotYourTurn(actor, conversation.RoleAdmin)
		}
		if c.FlowState.Terminal() {
			return nil, conversation.NewError(conversation.ErrInvalidState, "conversation is already in terminal state %s", c.FlowState)
		}
		return adminApply, nil
	}

	if c.FlowState.Terminal() {
		return nil, conversation.NewError(conversation.ErrInvalidState, "conversation is closed; no further actions accepted")
	}

	byAction := transitions[c.FlowState]
	t, ok := byAction[action]
	if ok {
		if actor != t.actor {
			return nil, conversation.NotYourTurn(actor, c.AwaitingRole)
		}
		return t.apply, nil
	}

	// Undefined for this state: an out-of-turn actor gets "not your turn",
	// the awaited actor gets "unknown action".
	if actor != c.AwaitingRole && actor != conversation.RoleAdmin {
		return nil, conversation.NotYourTurn(actor, c.AwaitingRole)
	}
	return nil, conversation.NewError(conversation.ErrInvalidState, "action %q is not available in state %s", action, c.FlowState)
}

// VerifyPaymentInput is the gateway verification callback.
type VerifyPaymentInput struct {
	OrderID   string
	PaymentID string
	Signature string
}

// VerifyPayment verifies the gateway signature, records the verified funds,
// opens the escrow hold and advances the conversation. Idempotent by
// (order_id, payment_id): a duplicate returns success without new writes or
// events.
func (e *Engine) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*ActionResult, error) {
	if in.OrderID == "" || in.PaymentID == "" {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "order_id and payment_id are required")
	}

	c, err := e.repo.GetByOrderID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, conversation.NewError(conversation.ErrNotFound, "no conversation for order %s", in.OrderID)
	}

	var fx *effects
	duplicate := false
	err = e.tx.WithConversation(ctx, c.ConversationID, func(ctx context.Context) error {
		c, err = e.repo.GetByID(ctx, c.ConversationID)
		if err != nil {
			return err
		}

		prior, err := e.ledger.FindVerified(ctx, in.OrderID, in.PaymentID)
		if err != nil {
			return err
		}
		if prior != nil {
			duplicate = true
			return nil
		}

		if c.FlowState != conversation.StatePaymentPending {
			return conversation.NewError(conversation.ErrInvalidState, "conversation is not awaiting payment (state %s)", c.FlowState)
		}
		if !e.gateway.VerifySignature(in.OrderID, in.PaymentID, in.Signature) {
			return conversation.NewError(conversation.ErrSignatureInvalid, "payment signature verification failed")
		}

		now := e.now()
		breakdown := e.breakdownFor(ctx, c, c.FlowData.AgreedPricePaise)
		brandOwner := c.BrandOwnerID
		paymentID := in.PaymentID
		if err := e.ledger.Append(ctx, &payment.Transaction{
			TransactionID:  uuid.New(),
			ConversationID: c.ConversationID,
			Direction:      payment.DirectionIn,
			Stage:          payment.StageVerified,
			AmountPaise:    breakdown.TotalPaise,
			Status:         payment.TransactionStatusCompleted,
			SenderID:       &brandOwner,
			ExternalRef:    &paymentID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		// Platform commission leaves the conversation balance immediately;
		// the remaining net goes into escrow.
		if err := e.ledger.Append(ctx, &payment.Transaction{
			TransactionID:  uuid.New(),
			ConversationID: c.ConversationID,
			Direction:      payment.DirectionOut,
			Stage:          payment.StageReceived,
			AmountPaise:    breakdown.CommissionPaise,
			Status:         payment.TransactionStatusCompleted,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if _, err := e.escrow.Hold(ctx, c.ConversationID, breakdown.NetPaise, now); err != nil {
			return err
		}

		c.FlowData.PaidAt = &now
		fx = &effects{conv: c, prevState: c.FlowState}
		e.setState(c, conversation.StatePaymentCompleted, conversation.RoleInfluencer, conversation.ChatStatusRealTime)
		e.stagePrompt(fx, c, conversation.RoleSystem,
			fmt.Sprintf("Payment of %s verified. %s held in escrow.", breakdown.Display.Total, breakdown.Display.Net),
			promptStartWork())
		return e.persist(ctx, fx)
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		return &ActionResult{
			ConversationID: c.ConversationID,
			State:          c.FlowState,
			AwaitingRole:   c.AwaitingRole,
		}, nil
	}

	e.dispatch(ctx, fx)
	var last *conversation.Message
	if n := len(fx.messages); n > 0 {
		last = fx.messages[n-1]
	}
	return &ActionResult{
		ConversationID:    fx.conv.ConversationID,
		State:             fx.conv.FlowState,
		AwaitingRole:      fx.conv.AwaitingRole,
		Message:           last,
		CurrentActionData: fx.conv.CurrentActionData,
	}, nil
}

// PostUserMessageInput is a free-form chat message.
type PostUserMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Text           string
	Attachments    []string
}

// PostUserMessage appends a user message while the work loop runs in
// real-time chat. Rate limits are enforced before any mutation.
func (e *Engine) PostUserMessage(ctx context.Context, in PostUserMessageInput) (*conversation.Message, error) {
	if in.ConversationID == uuid.Nil || in.SenderID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "conversation_id and sender_id are required")
	}
	if in.Text == "" && len(in.Attachments) == 0 {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "message text or attachments required")
	}

	var msg *conversation.Message
	var receiver uuid.UUID
	err := e.tx.WithConversation(ctx, in.ConversationID, func(ctx context.Context) error {
		c, err := e.repo.GetByID(ctx, in.ConversationID)
		if err != nil {
			return err
		}
		if c == nil {
			return conversation.NewError(conversation.ErrNotFound, "conversation not found: %s", in.ConversationID)
		}
		if !c.IsParticipant(in.SenderID) {
			return conversation.NewError(conversation.ErrUnauthorized, "sender is not a participant")
		}
		switch c.ChatStatus {
		case conversation.ChatStatusRealTime:
		case conversation.ChatStatusClosed:
			return conversation.NewError(conversation.ErrInvalidState, "conversation is closed")
		default:
			return conversation.NewError(conversation.ErrInvalidState, "free-form chat opens after payment")
		}
		if e.limiter != nil && !e.limiter.Allow(in.SenderID, c.ConversationID.String()) {
			return conversation.NewError(conversation.ErrRateLimited, "message rate exceeded; slow down")
		}

		receiver = c.BrandOwnerID
		if in.SenderID == c.BrandOwnerID {
			receiver = c.InfluencerID
		}
		msg = &conversation.Message{
			ID:             e.msgID(),
			ConversationID: c.ConversationID,
			SenderID:       in.SenderID,
			ReceiverID:     &receiver,
			Message:        in.Text,
			MessageType:    conversation.MessageTypeUser,
			Attachments:    in.Attachments,
			CreatedAt:      e.now(),
		}
		return e.repo.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	e.events.EmitToConversation(msg.ConversationID, notification.EventChatNew, msg)
	e.events.EmitToUser(receiver, notification.EventUnreadCountUpdated, map[string]any{
		"conversation_id": msg.ConversationID,
	})
	return msg, nil
}

// ContextSnapshot is the full conversation view clients use to reconcile.
type ContextSnapshot struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Messages     []*conversation.Message    `json:"messages"`
	EscrowHold   *payment.EscrowHold        `json:"escrow_hold,omitempty"`
	Ledger       []*payment.Transaction     `json:"ledger,omitempty"`
}

// GetContext returns the conversation snapshot with recent messages, the
// active escrow hold, and the ledger.
func (e *Engine) GetContext(ctx context.Context, conversationID uuid.UUID) (*ContextSnapshot, error) {
	c, err := e.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, conversation.NewError(conversation.ErrNotFound, "conversation not found: %s", conversationID)
	}
	messages, err := e.repo.ListMessages(ctx, conversationID, 100, "")
	if err != nil {
		return nil, err
	}
	hold, err := e.escrow.ActiveHold(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ledger, err := e.ledger.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &ContextSnapshot{Conversation: c, Messages: messages, EscrowHold: hold, Ledger: ledger}, nil
}

// ListConversations returns the conversations a user participates in.
func (e *Engine) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*conversation.Conversation, error) {
	if userID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "user_id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return e.repo.ListForUser(ctx, userID, limit, offset)
}

// ListMessages pages the message log newest-last.
func (e *Engine) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, beforeID string) ([]*conversation.Message, error) {
	if conversationID == uuid.Nil {
		return nil, conversation.NewError(conversation.ErrInvalidInput, "conversation_id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return e.repo.ListMessages(ctx, conversationID, limit, beforeID)
}

// MarkRead advances the user's read cursor and refreshes their unread count.
func (e *Engine) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, messageID string) error {
	if conversationID == uuid.Nil || userID == uuid.Nil || messageID == "" {
		return conversation.NewError(conversation.ErrInvalidInput, "conversation_id, user_id and message_id are required")
	}
	if err := e.repo.MarkRead(ctx, conversationID, userID, messageID); err != nil {
		return err
	}
	e.events.EmitToUser(userID, notification.EventUnreadCountUpdated, map[string]any{
		"conversation_id": conversationID,
	})
	return nil
}

// --- internals ---

func (e *Engine) setState(c *conversation.Conversation, next conversation.FlowState, awaiting conversation.Role, chat conversation.ChatStatus) {
	c.FlowState = next
	c.AwaitingRole = awaiting
	c.ChatStatus = chat
	c.UpdatedAt = e.now()
}

func (e *Engine) closeConversation(c *conversation.Conversation, terminal conversation.FlowState) {
	c.FlowState = terminal
	c.AwaitingRole = conversation.RoleNone
	c.ChatStatus = conversation.ChatStatusClosed
	c.CurrentActionData = nil
	c.UpdatedAt = e.now()
}

// stagePrompt stages an automated message carrying a prompt, denormalizing it
// into current_action_data for late joiners.
func (e *Engine) stagePrompt(fx *effects, c *conversation.Conversation, actor conversation.Role, text string, prompt *conversation.ActionPrompt) {
	c.CurrentActionData = prompt
	e.stageMessage(fx, c, actor, text, prompt.MessageType, nil)
	last := fx.messages[len(fx.messages)-1]
	last.ActionRequired = true
	last.ActionData = prompt
	if prompt.VisibleTo == conversation.RoleBrandOwner || prompt.VisibleTo == conversation.RoleInfluencer {
		receiver := c.ParticipantID(prompt.VisibleTo)
		last.ReceiverID = &receiver
	}
}

func (e *Engine) stageMessage(fx *effects, c *conversation.Conversation, actor conversation.Role, text string, mt conversation.MessageType, attachments []string) {
	sender := c.ParticipantID(actor)
	var receiver *uuid.UUID
	if cp := c.Counterparty(actor); cp != uuid.Nil {
		receiver = &cp
	}
	fx.messages = append(fx.messages, &conversation.Message{
		ID:             e.msgID(),
		ConversationID: c.ConversationID,
		SenderID:       sender,
		ReceiverID:     receiver,
		Message:        text,
		MessageType:    mt,
		Attachments:    attachments,
		CreatedAt:      e.now(),
	})
}

func (e *Engine) persist(ctx context.Context, fx *effects) error {
	if err := e.repo.Update(ctx, fx.conv); err != nil {
		return err
	}
	for _, m := range fx.messages {
		if err := e.repo.AppendMessage(ctx, m); err != nil {
			return err
		}
	}
	if fx.request != nil {
		fx.request.UpdatedAt = e.now()
		if err := e.repo.UpdateRequest(ctx, fx.request); err != nil {
			return err
		}
	}
	return nil
}

// dispatch publishes post-commit events and push notifications. Failures are
// logged and swallowed; clients reconcile via GetContext.
func (e *Engine) dispatch(ctx context.Context, fx *effects) {
	if fx == nil || fx.conv == nil {
		return
	}
	c := fx.conv

	for _, m := range fx.messages {
		event := notification.EventChatAutomated
		if m.MessageType == conversation.MessageTypeUser {
			event = notification.EventChatNew
		}
		e.events.EmitToConversation(c.ConversationID, event, m)
		if m.ReceiverID != nil {
			e.events.EmitToUser(*m.ReceiverID, notification.EventUnreadCountUpdated, map[string]any{
				"conversation_id": c.ConversationID,
			})
		}
	}

	if fx.stateChanged() {
		payload := map[string]any{
			"conversation_id": c.ConversationID,
			"state":           c.FlowState,
			"awaiting_role":   c.AwaitingRole,
		}
		e.events.EmitToConversation(c.ConversationID, notification.EventStateChanged, payload)
		e.events.EmitToUser(c.BrandOwnerID, notification.EventConversationsUpsert, payload)
		e.events.EmitToUser(c.InfluencerID, notification.EventConversationsUpsert, payload)

		if target := c.ParticipantID(c.AwaitingRole); target != uuid.Nil && e.push != nil {
			body := ""
			if n := len(fx.messages); n > 0 {
				body = fx.messages[n-1].Message
			}
			if err := e.push.SendFlowStateNotification(ctx, c.ConversationID, target, c.FlowState, body); err != nil {
				e.logger.Warn().Err(err).
					Str("conversation_id", c.ConversationID.String()).
					Str("state", string(c.FlowState)).
					Msg("push notification failed")
			}
		}
	}
}

// breakdownFor computes the money split for an agreed amount using the
// commission snapshot at call time.
func (e *Engine) breakdownFor(ctx context.Context, c *conversation.Conversation, agreedPaise int64) payment.Breakdown {
	source := "campaign"
	if c.BidID != nil {
		source = "bid"
	}
	bps := e.commission.ResolveBps(ctx, agreedPaise, source)
	return payment.ComputeBreakdown(agreedPaise, bps)
}

func (e *Engine) resultWithLatestMessage(ctx context.Context, c *conversation.Conversation) (*ActionResult, error) {
	msg, err := e.repo.LatestMessage(ctx, c.ConversationID)
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		ConversationID:    c.ConversationID,
		State:             c.FlowState,
		AwaitingRole:      c.AwaitingRole,
		Message:           msg,
		CurrentActionData: c.CurrentActionData,
	}, nil
}

// orderReceipt builds the gateway receipt, capped at the provider's 40-char
// limit.
func orderReceipt(conversationID uuid.UUID, now time.Time) string {
	receipt := fmt.Sprintf("conv_%s_%d", conversationID, now.UnixMilli())
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	return receipt
}
