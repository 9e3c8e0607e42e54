package engine

import (
	"fmt"

	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/payment"
)

// Prompt builders produce the structured action instructions published to
// clients. Every prompt names the flow state it belongs to so late joiners can
// reconcile against current_action_data.

func promptInfluencerResponding(amountPaise int64) *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "New collaboration request",
		Subtitle:    fmt.Sprintf("Proposed amount %s", payment.FormatPaise(amountPaise)),
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StateInfluencerResponding,
		MessageType: conversation.MessageTypeAutomated,
		Buttons: []conversation.PromptButton{
			{ID: "accept", Text: "Accept", Style: "primary", Action: conversation.ActionAcceptConnection},
			{ID: "reject", Text: "Reject", Style: "danger", Action: conversation.ActionRejectConnection},
		},
	}
}

func promptBrandOwnerDetails() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Share project details",
		Subtitle:    "Describe the deliverables you expect",
		VisibleTo:   conversation.RoleBrandOwner,
		FlowState:   conversation.StateBrandOwnerDetails,
		MessageType: conversation.MessageTypeAutomated,
		InputField: &conversation.PromptInput{
			ID:          "project_details",
			Type:        "textarea",
			Placeholder: "Project details",
			Required:    true,
			MaxLength:   intPtr(4000),
		},
		Buttons: []conversation.PromptButton{
			{ID: "send_details", Text: "Send details", Style: "primary", Action: conversation.ActionSendProjectDetails},
		},
	}
}

func promptInfluencerReviewing() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Review project details",
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StateInfluencerReviewing,
		MessageType: conversation.MessageTypeAutomated,
		Buttons: []conversation.PromptButton{
			{ID: "accept", Text: "Accept project", Style: "primary", Action: conversation.ActionAcceptProjectDetails},
			{ID: "reject", Text: "Decline project", Style: "danger", Action: conversation.ActionRejectProjectDetails},
		},
	}
}

func promptBrandOwnerPricing() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Make a price offer",
		VisibleTo:   conversation.RoleBrandOwner,
		FlowState:   conversation.StateBrandOwnerPricing,
		MessageType: conversation.MessageTypeAutomated,
		InputField: &conversation.PromptInput{
			ID:          "price",
			Type:        "number",
			Placeholder: "Offer amount in rupees",
			Required:    true,
			Min:         floatPtr(1),
		},
		Buttons: []conversation.PromptButton{
			{ID: "send_offer", Text: "Send offer", Style: "primary", Action: conversation.ActionSendPriceOffer},
		},
	}
}

func promptInfluencerPriceResponse(offerPaise int64) *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Price offer received",
		Subtitle:    fmt.Sprintf("Offer: %s", payment.FormatPaise(offerPaise)),
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StateInfluencerPriceResponse,
		MessageType: conversation.MessageTypeAutomated,
		Buttons: []conversation.PromptButton{
			{ID: "accept", Text: "Accept price", Style: "primary", Action: conversation.ActionAcceptPrice},
			{ID: "negotiate", Text: "Negotiate", Style: "secondary", Action: conversation.ActionNegotiatePrice},
			{ID: "reject", Text: "Reject", Style: "danger", Action: conversation.ActionRejectPrice},
		},
	}
}

func promptBrandOwnerNegotiation() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Negotiation requested",
		Subtitle:    "The influencer wants to discuss the price",
		VisibleTo:   conversation.RoleBrandOwner,
		FlowState:   conversation.StateBrandOwnerNegotiation,
		MessageType: conversation.MessageTypeAutomated,
		Buttons: []conversation.PromptButton{
			{ID: "accept", Text: "Open negotiation", Style: "primary", Action: conversation.ActionAcceptNegotiation},
			{ID: "reject", Text: "Keep original offer", Style: "secondary", Action: conversation.ActionRejectNegotiation},
		},
	}
}

func promptInfluencerNegotiationInput() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Propose your price",
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StateInfluencerNegotiationInput,
		MessageType: conversation.MessageTypeAutomated,
		InputField: &conversation.PromptInput{
			ID:          "price",
			Type:        "number",
			Placeholder: "Proposed amount in rupees",
			Required:    true,
			Min:         floatPtr(1),
		},
		Buttons: []conversation.PromptButton{
			{ID: "send_price", Text: "Send proposal", Style: "primary", Action: conversation.ActionSendNegotiatedPrice},
		},
	}
}

func promptBrandOwnerNegotiationReview(pricePaise int64) *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Counter-offer received",
		Subtitle:    fmt.Sprintf("Proposed: %s", payment.FormatPaise(pricePaise)),
		VisibleTo:   conversation.RoleBrandOwner,
		FlowState:   conversation.StateBrandOwnerNegotiationReview,
		MessageType: conversation.MessageTypeAutomated,
		Buttons: []conversation.PromptButton{
			{ID: "accept", Text: "Accept proposal", Style: "primary", Action: conversation.ActionAcceptNegotiatedPrice},
			{ID: "reject", Text: "Ask for another price", Style: "secondary", Action: conversation.ActionRejectNegotiatedPrice},
		},
	}
}

func promptPaymentPending(breakdown payment.Breakdown, order *payment.Order) *conversation.ActionPrompt {
	p := &conversation.ActionPrompt{
		Title:            "Complete the payment",
		Subtitle:         fmt.Sprintf("Total payable %s", breakdown.Display.Total),
		VisibleTo:        conversation.RoleBrandOwner,
		FlowState:        conversation.StatePaymentPending,
		MessageType:      conversation.MessageTypeAutomated,
		PaymentBreakdown: &breakdown,
		Buttons: []conversation.PromptButton{
			{ID: "pay", Text: "Proceed to payment", Style: "primary", Action: conversation.ActionProceedToPayment},
		},
	}
	if order != nil {
		p.Order = order
		p.AutoTrigger = "razorpay_checkout"
	}
	return p
}

func promptStartWork() *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:       "Payment received",
		Subtitle:    "Funds are held in escrow; you can start working",
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StatePaymentCompleted,
		MessageType: conversation.MessageTypeSystemPaymentUpdate,
		Buttons: []conversation.PromptButton{
			{ID: "start", Text: "Start work", Style: "primary", Action: conversation.ActionStartWork},
		},
	}
}

func promptSubmitWork(resubmission bool) *conversation.ActionPrompt {
	action := conversation.ActionSubmitWork
	title := "Work in progress"
	if resubmission {
		action = conversation.ActionResubmitWork
		title = "Revision requested"
	}
	return &conversation.ActionPrompt{
		Title:       title,
		Subtitle:    "Submit your deliverables when ready",
		VisibleTo:   conversation.RoleInfluencer,
		FlowState:   conversation.StateWorkInProgress,
		MessageType: conversation.MessageTypeAutomated,
		InputField: &conversation.PromptInput{
			ID:          "description",
			Type:        "textarea",
			Placeholder: "Describe the submitted work",
			Required:    true,
		},
		Buttons: []conversation.PromptButton{
			{ID: "submit", Text: "Submit work", Style: "primary", Action: action},
		},
	}
}

// promptWorkReview offers approve plus either a revision request or the final
// rejection, depending on the remaining revision budget.
func promptWorkReview(c *conversation.Conversation, finalReview bool) *conversation.ActionPrompt {
	state := conversation.StateWorkSubmitted
	buttons := []conversation.PromptButton{
		{ID: "approve", Text: "Approve work", Style: "primary", Action: conversation.ActionApproveWork},
	}
	if finalReview {
		state = conversation.StateWorkFinalReview
		buttons = append(buttons, conversation.PromptButton{
			ID: "reject_final", Text: "Reject final work", Style: "danger", Action: conversation.ActionRejectFinalWork,
		})
	} else {
		buttons = append(buttons, conversation.PromptButton{
			ID: "revise", Text: "Request revision", Style: "secondary", Action: conversation.ActionRequestRevision,
			Data: map[string]any{"revisions_used": c.RevisionCount, "max_revisions": c.MaxRevisions},
		})
	}
	return &conversation.ActionPrompt{
		Title:       "Work submitted for review",
		VisibleTo:   conversation.RoleBrandOwner,
		FlowState:   state,
		MessageType: conversation.MessageTypeAutomated,
		Buttons:     buttons,
	}
}

func promptAdminFinalPayment(breakdown payment.Breakdown) *conversation.ActionPrompt {
	return &conversation.ActionPrompt{
		Title:            "Final disbursement pending",
		Subtitle:         fmt.Sprintf("Release %s to the influencer", breakdown.Display.Final),
		VisibleTo:        conversation.RoleAdmin,
		FlowState:        conversation.StateAdminFinalPaymentPending,
		MessageType:      conversation.MessageTypeSystemPaymentUpdate,
		PaymentBreakdown: &breakdown,
		Buttons: []conversation.PromptButton{
			{ID: "release_final", Text: "Release final payment", Style: "primary", Action: conversation.ActionReleaseFinal},
		},
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
