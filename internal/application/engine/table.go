package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/payment"
)

// applyFn computes one transition: it mutates the conversation, stages
// messages and ledger writes, and records post-commit effects. It runs inside
// the per-conversation transaction.
type applyFn func(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error

// transition binds an action under a flow state to the role allowed to take
// it and its effect.
type transition struct {
	actor conversation.Role
	apply applyFn
}

// transitions is the declarative (state, action) table. Any input outside it
// is rejected without mutation.
var transitions = map[conversation.FlowState]map[conversation.Action]transition{
	conversation.StateInfluencerResponding: {
		conversation.ActionAcceptConnection: {conversation.RoleInfluencer, applyAcceptConnection},
		conversation.ActionRejectConnection: {conversation.RoleInfluencer, applyRejectConnection},
	},
	conversation.StateBrandOwnerDetails: {
		conversation.ActionSendProjectDetails: {conversation.RoleBrandOwner, applySendProjectDetails},
	},
	conversation.StateInfluencerReviewing: {
		conversation.ActionAcceptProjectDetails: {conversation.RoleInfluencer, applyAcceptProjectDetails},
		conversation.ActionRejectProjectDetails: {conversation.RoleInfluencer, applyRejectProjectDetails},
	},
	conversation.StateBrandOwnerPricing: {
		conversation.ActionSendPriceOffer: {conversation.RoleBrandOwner, applySendPriceOffer},
	},
	conversation.StateInfluencerPriceResponse: {
		conversation.ActionAcceptPrice:    {conversation.RoleInfluencer, applyAcceptPrice},
		conversation.ActionRejectPrice:    {conversation.RoleInfluencer, applyRejectPrice},
		conversation.ActionNegotiatePrice: {conversation.RoleInfluencer, applyNegotiatePrice},
	},
	conversation.StateBrandOwnerNegotiation: {
		conversation.ActionAcceptNegotiation: {conversation.RoleBrandOwner, applyAcceptNegotiation},
		conversation.ActionRejectNegotiation: {conversation.RoleBrandOwner, applyRejectNegotiation},
	},
	conversation.StateInfluencerNegotiationInput: {
		conversation.ActionSendNegotiatedPrice: {conversation.RoleInfluencer, applySendNegotiatedPrice},
	},
	conversation.StateBrandOwnerNegotiationReview: {
		conversation.ActionAcceptNegotiatedPrice: {conversation.RoleBrandOwner, applyAcceptNegotiatedPrice},
		conversation.ActionRejectNegotiatedPrice: {conversation.RoleBrandOwner, applyRejectNegotiatedPrice},
	},
	conversation.StatePaymentPending: {
		conversation.ActionProceedToPayment: {conversation.RoleBrandOwner, applyProceedToPayment},
	},
	conversation.StatePaymentCompleted: {
		conversation.ActionStartWork: {conversation.RoleInfluencer, applyStartWork},
	},
	conversation.StateWorkInProgress: {
		conversation.ActionSubmitWork:   {conversation.RoleInfluencer, applySubmitWork},
		conversation.ActionResubmitWork: {conversation.RoleInfluencer, applySubmitWork},
	},
	conversation.StateWorkSubmitted: {
		conversation.ActionApproveWork:     {conversation.RoleBrandOwner, applyApproveWork},
		conversation.ActionRequestRevision: {conversation.RoleBrandOwner, applyRequestRevision},
		conversation.ActionRejectFinalWork: {conversation.RoleBrandOwner, applyRejectFinalWork},
	},
	conversation.StateWorkFinalReview: {
		conversation.ActionApproveWork:     {conversation.RoleBrandOwner, applyApproveWork},
		conversation.ActionRejectFinalWork: {conversation.RoleBrandOwner, applyRejectFinalWork},
	},
	conversation.StateAdminFinalPaymentPending: {
		conversation.ActionReleaseFinal: {conversation.RoleAdmin, applyReleaseFinal},
	},
}

// adminTransitions are admin overrides accepted from any non-terminal state.
// release_final is not an override; it lives in the table under its own state.
var adminTransitions = map[conversation.Action]applyFn{
	conversation.ActionReceiveBrandOwnerPayment: applyReceivePayment,
	conversation.ActionReleaseAdvance:           applyReleaseAdvance,
	conversation.ActionRefundFinal:              applyRefundFinal,
	conversation.ActionForceClose:               applyForceClose,
}

func applyAcceptConnection(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	e.setState(c, conversation.StateBrandOwnerDetails, conversation.RoleBrandOwner, conversation.ChatStatusAutomated)
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusAccepted
	}
	e.stagePrompt(fx, c, actor, "Collaboration accepted. Waiting for project details.", promptBrandOwnerDetails())
	return nil
}

func applyRejectConnection(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	e.closeConversation(c, conversation.StateProjectRejected)
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusRejected
	}
	e.stageMessage(fx, c, actor, "The influencer declined the collaboration.", conversation.MessageTypeAutomated, nil)
	return nil
}

func applySendProjectDetails(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	details := strings.TrimSpace(p.ProjectDetails)
	if details == "" {
		return conversation.NewError(conversation.ErrInvalidInput, "project_details is required")
	}
	c.FlowData.ProjectDetails = details
	e.setState(c, conversation.StateInfluencerReviewing, conversation.RoleInfluencer, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor, details, promptInfluencerReviewing())
	return nil
}

func applyAcceptProjectDetails(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	e.setState(c, conversation.StateBrandOwnerPricing, conversation.RoleBrandOwner, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor, "Project details accepted. Waiting for a price offer.", promptBrandOwnerPricing())
	return nil
}

func applyRejectProjectDetails(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	e.closeConversation(c, conversation.StateProjectRejected)
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusRejected
	}
	e.stageMessage(fx, c, actor, "The influencer declined the project details.", conversation.MessageTypeAutomated, nil)
	return nil
}

func applySendPriceOffer(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	pricePaise, err := pricePaiseFromPayload(p)
	if err != nil {
		return err
	}
	now := e.now()
	c.FlowData.PriceOfferPaise = pricePaise
	c.FlowData.PriceOfferedAt = &now
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "price_offered", By: actor, PricePaise: &pricePaise, At: now,
	})
	e.setState(c, conversation.StateInfluencerPriceResponse, conversation.RoleInfluencer, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("Price offered: %s", payment.FormatPaise(pricePaise)),
		promptInfluencerPriceResponse(pricePaise))
	return nil
}

func applyAcceptPrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	return e.agreeOnPrice(ctx, c, actor, c.FlowData.PriceOfferPaise, fx)
}

func applyRejectPrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	now := e.now()
	price := c.FlowData.PriceOfferPaise
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "price_rejected", By: actor, PricePaise: &price, At: now,
	})
	e.closeConversation(c, conversation.StatePriceRejected)
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusRejected
	}
	e.stageMessage(fx, c, actor, "The influencer rejected the price offer.", conversation.MessageTypeAutomated, nil)
	return nil
}

func applyNegotiatePrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "negotiation_requested", By: actor, At: e.now(),
	})
	e.setState(c, conversation.StateBrandOwnerNegotiation, conversation.RoleBrandOwner, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor, "The influencer wants to negotiate the price.", promptBrandOwnerNegotiation())
	return nil
}

func applyAcceptNegotiation(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "negotiation_accepted", By: actor, At: e.now(),
	})
	e.setState(c, conversation.StateInfluencerNegotiationInput, conversation.RoleInfluencer, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor, "Negotiation opened. Waiting for the influencer's proposal.", promptInfluencerNegotiationInput())
	return nil
}

func applyRejectNegotiation(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "negotiation_rejected", By: actor, At: e.now(),
	})
	// Back to the original offer; the influencer decides on it again.
	e.setState(c, conversation.StateInfluencerPriceResponse, conversation.RoleInfluencer, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("The brand owner keeps the original offer of %s.", payment.FormatPaise(c.FlowData.PriceOfferPaise)),
		promptInfluencerPriceResponse(c.FlowData.PriceOfferPaise))
	return nil
}

func applySendNegotiatedPrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	pricePaise, err := pricePaiseFromPayload(p)
	if err != nil {
		return err
	}
	c.FlowData.NegotiatedPricePaise = pricePaise
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "negotiated_price_submitted", By: actor, PricePaise: &pricePaise, At: e.now(),
	})
	e.setState(c, conversation.StateBrandOwnerNegotiationReview, conversation.RoleBrandOwner, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("Counter-offer: %s", payment.FormatPaise(pricePaise)),
		promptBrandOwnerNegotiationReview(pricePaise))
	return nil
}

func applyAcceptNegotiatedPrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	return e.agreeOnPrice(ctx, c, actor, c.FlowData.NegotiatedPricePaise, fx)
}

func applyRejectNegotiatedPrice(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	price := c.FlowData.NegotiatedPricePaise
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "negotiated_price_rejected", By: actor, PricePaise: &price, At: e.now(),
	})
	e.setState(c, conversation.StateInfluencerNegotiationInput, conversation.RoleInfluencer, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor, "Proposal declined. Waiting for a new price.", promptInfluencerNegotiationInput())
	return nil
}

func applyProceedToPayment(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	agreed := c.FlowData.AgreedPricePaise
	if agreed <= 0 {
		return conversation.NewError(conversation.ErrPreconditionFailed, "no agreed price on conversation")
	}
	breakdown := e.breakdownFor(ctx, c, agreed)

	receipt := orderReceipt(c.ConversationID, e.now())
	order, err := e.gateway.CreateOrder(ctx, payment.OrderInput{
		AmountPaise: breakdown.TotalPaise,
		Currency:    "INR",
		Receipt:     receipt,
		Notes: map[string]string{
			"conversation_id": c.ConversationID.String(),
		},
	})
	if err != nil {
		return conversation.NewError(conversation.ErrExternalUnavailable, "payment order creation failed: %v", err)
	}

	c.FlowData.RazorpayOrderID = order.OrderID
	brandOwner := c.BrandOwnerID
	if err := e.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: c.ConversationID,
		Direction:      payment.DirectionIn,
		Stage:          payment.StageOrderCreated,
		AmountPaise:    breakdown.TotalPaise,
		Status:         payment.TransactionStatusCreated,
		SenderID:       &brandOwner,
		ExternalRef:    &order.OrderID,
		CreatedAt:      e.now(),
	}); err != nil {
		return err
	}

	// State stays payment_pending; the verify callback advances it.
	e.setState(c, conversation.StatePaymentPending, conversation.RoleBrandOwner, c.ChatStatus)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("Payment order created for %s.", breakdown.Display.Total),
		promptPaymentPending(breakdown, order))
	return nil
}

func applyStartWork(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	e.setState(c, conversation.StateWorkInProgress, conversation.RoleInfluencer, conversation.ChatStatusRealTime)
	e.stagePrompt(fx, c, actor, "Work started.", promptSubmitWork(false))
	return nil
}

func applySubmitWork(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	now := e.now()
	sub := &conversation.WorkSubmission{
		Deliverables:  p.Deliverables,
		Description:   strings.TrimSpace(p.Description),
		Notes:         strings.TrimSpace(p.Notes),
		AttachmentIDs: p.AttachmentIDs,
		SubmittedAt:   &now,
	}
	c.FlowData.Submission = sub

	// Close out the open revision record, if this is a resubmission.
	if n := len(c.RevisionHistory); n > 0 && c.RevisionHistory[n-1].SubmittedAt == nil {
		c.RevisionHistory[n-1].SubmittedAt = &now
		c.RevisionHistory[n-1].Status = conversation.RevisionStatusSubmitted
	}

	finalReview := c.OnLastAllowedRevision()
	next := conversation.StateWorkSubmitted
	if finalReview {
		next = conversation.StateWorkFinalReview
	}
	e.setState(c, next, conversation.RoleBrandOwner, conversation.ChatStatusRealTime)
	e.stagePrompt(fx, c, actor, "Work submitted for review.", promptWorkReview(c, finalReview))
	return nil
}

func applyRequestRevision(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	feedback := strings.TrimSpace(p.Feedback)
	if feedback == "" {
		return conversation.NewError(conversation.ErrInvalidInput, "feedback is required")
	}
	if c.RevisionCount >= c.MaxRevisions {
		return conversation.NewError(conversation.ErrPreconditionFailed, "revision budget exhausted")
	}
	now := e.now()
	c.RevisionCount++
	c.RevisionHistory = append(c.RevisionHistory, conversation.Revision{
		RevisionNumber: c.RevisionCount,
		RequestedAt:    now,
		Feedback:       feedback,
		Status:         conversation.RevisionStatusRequested,
	})
	e.setState(c, conversation.StateWorkInProgress, conversation.RoleInfluencer, conversation.ChatStatusRealTime)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("Revision %d of %d requested: %s", c.RevisionCount, c.MaxRevisions, feedback),
		promptSubmitWork(true))
	return nil
}

func applyRejectFinalWork(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	if !c.OnLastAllowedRevision() {
		return conversation.NewError(conversation.ErrPreconditionFailed,
			"final rejection is only available at the final review (%d of %d revisions used)", c.RevisionCount, c.MaxRevisions)
	}
	e.closeConversation(c, conversation.StateWorkRejected)
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusRejected
	}
	e.stageMessage(fx, c, actor, "Final work rejected; the collaboration is closed.", conversation.MessageTypeAutomated, nil)
	return nil
}

func applyApproveWork(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	tracking, err := e.tracking.Lookup(ctx, c.ConversationID)
	if err != nil {
		return err
	}
	if tracking.AdminManaged() {
		breakdown := e.breakdownFor(ctx, c, c.FlowData.AgreedPricePaise)
		e.setState(c, conversation.StateAdminFinalPaymentPending, conversation.RoleAdmin, conversation.ChatStatusRealTime)
		e.stagePrompt(fx, c, actor, "Work approved. Final disbursement is pending with the platform.", promptAdminFinalPayment(breakdown))
		return nil
	}

	now := e.now()
	if _, err := e.escrow.Release(ctx, c.ConversationID, c.InfluencerID, now); err != nil {
		return err
	}
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusCompleted
	}
	e.closeConversation(c, conversation.StateWorkApproved)
	e.stageMessage(fx, c, actor, "Work approved. Escrowed funds released to the influencer.", conversation.MessageTypeSystemPaymentUpdate, nil)
	return nil
}

func applyReleaseFinal(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	tracking, err := e.tracking.Lookup(ctx, c.ConversationID)
	if err != nil {
		return err
	}
	amount := int64(0)
	if tracking != nil {
		amount = tracking.FinalPaise
	}
	if amount <= 0 {
		amount = e.breakdownFor(ctx, c, c.FlowData.AgreedPricePaise).FinalPaise
	}

	influencer := c.InfluencerID
	if err := e.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: c.ConversationID,
		Direction:      payment.DirectionOut,
		Stage:          payment.StageFinal,
		AmountPaise:    amount,
		Status:         payment.TransactionStatusCompleted,
		ReceiverID:     &influencer,
		ExternalRef:    p.proofRef(),
		CreatedAt:      e.now(),
	}); err != nil {
		return err
	}
	if tracking != nil {
		if err := e.tracking.MarkFinalCompleted(ctx, c.ConversationID); err != nil {
			return err
		}
	}
	if fx.request != nil {
		fx.request.Status = conversation.RequestStatusCompleted
	}
	e.closeConversation(c, conversation.StateAdminFinalPaymentComplete)
	e.stageMessage(fx, c, actor,
		fmt.Sprintf("Final payment of %s released by the platform.", payment.FormatPaise(amount)),
		conversation.MessageTypeSystemPaymentUpdate, p.attachments())
	return nil
}

func applyReceivePayment(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	amount, err := amountPaiseFromPayload(p)
	if err != nil {
		return err
	}
	brandOwner := c.BrandOwnerID
	if err := e.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: c.ConversationID,
		Direction:      payment.DirectionIn,
		Stage:          payment.StageReceived,
		AmountPaise:    amount,
		Status:         payment.TransactionStatusCompleted,
		SenderID:       &brandOwner,
		ExternalRef:    p.proofRef(),
		CreatedAt:      e.now(),
	}); err != nil {
		return err
	}
	e.stageMessage(fx, c, actor,
		fmt.Sprintf("Platform received %s from the brand owner.", payment.FormatPaise(amount)),
		conversation.MessageTypeSystemPaymentUpdate, p.attachments())
	return nil
}

func applyReleaseAdvance(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	amount := int64(0)
	if p.AmountPaise != nil {
		amount = *p.AmountPaise
	}
	if amount <= 0 {
		amount = e.breakdownFor(ctx, c, c.FlowData.AgreedPricePaise).AdvancePaise
	}
	if amount <= 0 {
		return conversation.NewError(conversation.ErrInvalidInput, "advance amount unavailable")
	}

	influencer := c.InfluencerID
	if err := e.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: c.ConversationID,
		Direction:      payment.DirectionOut,
		Stage:          payment.StageAdvance,
		AmountPaise:    amount,
		Status:         payment.TransactionStatusCompleted,
		ReceiverID:     &influencer,
		ExternalRef:    p.proofRef(),
		CreatedAt:      e.now(),
	}); err != nil {
		return err
	}
	e.setState(c, conversation.StateWorkInProgress, conversation.RoleInfluencer, conversation.ChatStatusRealTime)
	e.stageMessage(fx, c, actor,
		fmt.Sprintf("Advance of %s released to the influencer. Work can begin.", payment.FormatPaise(amount)),
		conversation.MessageTypeSystemPaymentUpdate, p.attachments())
	return nil
}

func applyRefundFinal(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	amount, err := amountPaiseFromPayload(p)
	if err != nil {
		return err
	}
	brandOwner := c.BrandOwnerID
	if err := e.ledger.Append(ctx, &payment.Transaction{
		TransactionID:  uuid.New(),
		ConversationID: c.ConversationID,
		Direction:      payment.DirectionOut,
		Stage:          payment.StageRefund,
		AmountPaise:    amount,
		Status:         payment.TransactionStatusCompleted,
		ReceiverID:     &brandOwner,
		ExternalRef:    p.proofRef(),
		CreatedAt:      e.now(),
	}); err != nil {
		return err
	}
	e.closeConversation(c, conversation.StateClosed)
	e.stageMessage(fx, c, actor,
		fmt.Sprintf("Final amount of %s refunded to the brand owner.", payment.FormatPaise(amount)),
		conversation.MessageTypeSystemPaymentUpdate, p.attachments())
	return nil
}

func applyForceClose(ctx context.Context, e *Engine, c *conversation.Conversation, actor conversation.Role, p ActionPayload, fx *effects) error {
	if p.RefundEscrow {
		hold, err := e.escrow.ActiveHold(ctx, c.ConversationID)
		if err != nil {
			return err
		}
		if hold != nil {
			if _, err := e.escrow.Refund(ctx, c.ConversationID, c.BrandOwnerID, e.now()); err != nil {
				return err
			}
		}
	}
	reason := strings.TrimSpace(p.Reason)
	text := "Conversation closed by the platform."
	if reason != "" {
		text = fmt.Sprintf("Conversation closed by the platform: %s", reason)
	}
	e.closeConversation(c, conversation.StateClosed)
	e.stageMessage(fx, c, actor, text, conversation.MessageTypeSystemPaymentUpdate, nil)
	return nil
}

// agreeOnPrice fixes the agreed amount and moves the conversation into
// payment_pending with a breakdown prompt for the brand owner.
func (e *Engine) agreeOnPrice(ctx context.Context, c *conversation.Conversation, actor conversation.Role, pricePaise int64, fx *effects) error {
	if pricePaise <= 0 {
		return conversation.NewError(conversation.ErrPreconditionFailed, "no price on the table")
	}
	now := e.now()
	c.FlowData.AgreedPricePaise = pricePaise
	c.FlowData.AgreedAt = &now
	c.NegotiationHistory = append(c.NegotiationHistory, conversation.NegotiationEvent{
		Event: "price_agreed", By: actor, PricePaise: &pricePaise, At: now,
	})
	if fx.request != nil {
		fx.request.FinalAgreedAmountPaise = &pricePaise
	}

	breakdown := e.breakdownFor(ctx, c, pricePaise)
	e.setState(c, conversation.StatePaymentPending, conversation.RoleBrandOwner, conversation.ChatStatusAutomated)
	e.stagePrompt(fx, c, actor,
		fmt.Sprintf("Price agreed at %s. Waiting for payment.", breakdown.Display.Total),
		promptPaymentPending(breakdown, nil))
	return nil
}

func pricePaiseFromPayload(p ActionPayload) (int64, error) {
	if p.Price == nil {
		return 0, conversation.NewError(conversation.ErrInvalidInput, "price is required")
	}
	paise := payment.RupeesToPaise(*p.Price)
	if paise <= 0 {
		return 0, conversation.NewError(conversation.ErrInvalidInput, "price must be positive")
	}
	return paise, nil
}

func amountPaiseFromPayload(p ActionPayload) (int64, error) {
	if p.AmountPaise == nil || *p.AmountPaise <= 0 {
		return 0, conversation.NewError(conversation.ErrInvalidInput, "amount_paise must be positive")
	}
	return *p.AmountPaise, nil
}
