package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/influmatch/influmatch/internal/application/engine"
	"github.com/influmatch/influmatch/internal/domain/conversation"
)

type initializeBidRequest struct {
	BidID          uuid.UUID `json:"bid_id"`
	BrandOwnerID   uuid.UUID `json:"brand_owner_id"`
	InfluencerID   uuid.UUID `json:"influencer_id"`
	ProposedAmount float64   `json:"proposed_amount"`
}

func (s *Server) initializeBid(w http.ResponseWriter, r *http.Request) {
	var req initializeBidRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	res, err := s.engine.InitializeBid(r.Context(), engine.InitializeBidInput{
		BidID:          req.BidID,
		BrandOwnerID:   req.BrandOwnerID,
		InfluencerID:   req.InfluencerID,
		ProposedAmount: req.ProposedAmount,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type initializeCampaignRequest struct {
	CampaignID     uuid.UUID `json:"campaign_id"`
	BrandOwnerID   uuid.UUID `json:"brand_owner_id"`
	InfluencerID   uuid.UUID `json:"influencer_id"`
	CampaignBudget float64   `json:"campaign_budget"`
}

func (s *Server) initializeCampaign(w http.ResponseWriter, r *http.Request) {
	var req initializeCampaignRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	res, err := s.engine.InitializeCampaign(r.Context(), engine.InitializeCampaignInput{
		CampaignID:     req.CampaignID,
		BrandOwnerID:   req.BrandOwnerID,
		InfluencerID:   req.InfluencerID,
		CampaignBudget: req.CampaignBudget,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "user_id is required")
		return
	}
	conversations, err := s.engine.ListConversations(r.Context(), userID,
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	conversationID, err := parseUUIDParam(r, "conversationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid conversation id")
		return
	}
	snapshot, err := s.engine.GetContext(r.Context(), conversationID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

type actionRequest struct {
	ActorRole conversation.Role   `json:"actor_role"`
	Action    conversation.Action `json:"action"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	conversationID, err := parseUUIDParam(r, "conversationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid conversation id")
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	res, err := s.engine.HandleAction(r.Context(), engine.HandleActionInput{
		ConversationID: conversationID,
		ActorRole:      req.ActorRole,
		Action:         req.Action,
		Payload:        req.Payload,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := parseUUIDParam(r, "conversationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid conversation id")
		return
	}
	messages, err := s.engine.ListMessages(r.Context(), conversationID,
		queryInt(r, "limit", 50), r.URL.Query().Get("before"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type postMessageRequest struct {
	SenderID    uuid.UUID `json:"sender_id"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, err := parseUUIDParam(r, "conversationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid conversation id")
		return
	}
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	msg, err := s.engine.PostUserMessage(r.Context(), engine.PostUserMessageInput{
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		Attachments:    req.Attachments,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

type markReadRequest struct {
	UserID    uuid.UUID `json:"user_id"`
	MessageID string    `json:"message_id"`
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	conversationID, err := parseUUIDParam(r, "conversationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid conversation id")
		return
	}
	var req markReadRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.engine.MarkRead(r.Context(), conversationID, req.UserID, req.MessageID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	res, err := s.engine.VerifyPayment(r.Context(), engine.VerifyPaymentInput{
		OrderID:   req.RazorpayOrderID,
		PaymentID: req.RazorpayPaymentID,
		Signature: req.RazorpaySignature,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
