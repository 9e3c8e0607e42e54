package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/influmatch/influmatch/internal/application/commission"
	"github.com/influmatch/influmatch/internal/application/escrow"
	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/notification"
	"github.com/influmatch/influmatch/internal/domain/payment"
)

// --- in-memory fakes ---

type memStore struct {
	conversations map[uuid.UUID]*conversation.Conversation
	messages      map[uuid.UUID][]*conversation.Message
	requests      map[uuid.UUID]*conversation.Request
	reads         map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		messages:      make(map[uuid.UUID][]*conversation.Message),
		requests:      make(map[uuid.UUID]*conversation.Request),
		reads:         make(map[string]string),
	}
}

func (s *memStore) Create(_ context.Context, c *conversation.Conversation) error {
	cp := *c
	s.conversations[c.ConversationID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetByOrderID(_ context.Context, orderID string) (*conversation.Conversation, error) {
	for _, c := range s.conversations {
		if c.FlowData.RazorpayOrderID == orderID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByBid(_ context.Context, bidID, brandOwnerID, influencerID uuid.UUID) (*conversation.Conversation, error) {
	for _, c := range s.conversations {
		if c.BidID != nil && *c.BidID == bidID && c.BrandOwnerID == brandOwnerID && c.InfluencerID == influencerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByCampaign(_ context.Context, campaignID, brandOwnerID, influencerID uuid.UUID) (*conversation.Conversation, error) {
	for _, c := range s.conversations {
		if c.CampaignID != nil && *c.CampaignID == campaignID && c.BrandOwnerID == brandOwnerID && c.InfluencerID == influencerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Update(_ context.Context, c *conversation.Conversation) error {
	cp := *c
	s.conversations[c.ConversationID] = &cp
	return nil
}

func (s *memStore) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	for _, c := range s.conversations {
		if c.BrandOwnerID == userID || c.InfluencerID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AppendMessage(_ context.Context, m *conversation.Message) error {
	cp := *m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, id uuid.UUID, limit int, beforeID string) ([]*conversation.Message, error) {
	msgs := s.messages[id]
	end := len(msgs)
	if beforeID != "" {
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return msgs[start:end], nil
}

func (s *memStore) LatestMessage(_ context.Context, id uuid.UUID) (*conversation.Message, error) {
	msgs := s.messages[id]
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

func (s *memStore) CreateRequest(_ context.Context, r *conversation.Request) error {
	cp := *r
	s.requests[r.RequestID] = &cp
	return nil
}

func (s *memStore) GetRequestByBid(_ context.Context, bidID, influencerID uuid.UUID) (*conversation.Request, error) {
	for _, r := range s.requests {
		if r.BidID == bidID && r.InfluencerID == influencerID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateRequest(_ context.Context, r *conversation.Request) error {
	cp := *r
	s.requests[r.RequestID] = &cp
	return nil
}

func (s *memStore) UnreadCount(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	readUpTo := s.reads[conversationID.String()+"/"+userID.String()]
	n := 0
	for _, m := range s.messages[conversationID] {
		if m.ReceiverID != nil && *m.ReceiverID == userID && m.ID > readUpTo {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkRead(_ context.Context, conversationID, userID uuid.UUID, messageID string) error {
	s.reads[conversationID.String()+"/"+userID.String()] = messageID
	return nil
}

type memLedger struct {
	rows []*payment.Transaction
}

func (l *memLedger) Append(_ context.Context, tx *payment.Transaction) error {
	cp := *tx
	l.rows = append(l.rows, &cp)
	return nil
}

func (l *memLedger) ListByConversation(_ context.Context, id uuid.UUID) ([]*payment.Transaction, error) {
	var out []*payment.Transaction
	for _, r := range l.rows {
		if r.ConversationID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *memLedger) FindVerified(_ context.Context, orderID, paymentID string) (*payment.Transaction, error) {
	for _, r := range l.rows {
		if r.Stage == payment.StageVerified && r.ExternalRef != nil && *r.ExternalRef == paymentID {
			return r, nil
		}
	}
	return nil, nil
}

func (l *memLedger) BalancePaise(_ context.Context, id uuid.UUID) (int64, error) {
	var balance int64
	for _, r := range l.rows {
		if r.ConversationID != id || r.Status != payment.TransactionStatusCompleted {
			continue
		}
		if r.Direction == payment.DirectionIn {
			balance += r.AmountPaise
		} else {
			balance -= r.AmountPaise
		}
	}
	return balance, nil
}

type memHolds struct {
	holds []*payment.EscrowHold
}

func (h *memHolds) Create(_ context.Context, hold *payment.EscrowHold) error {
	cp := *hold
	h.holds = append(h.holds, &cp)
	return nil
}

func (h *memHolds) GetActive(_ context.Context, id uuid.UUID) (*payment.EscrowHold, error) {
	for _, hold := range h.holds {
		if hold.ConversationID == id && hold.Active() {
			cp := *hold
			return &cp, nil
		}
	}
	return nil, nil
}

func (h *memHolds) UpdateStatus(_ context.Context, holdID uuid.UUID, status payment.EscrowStatus, releasedAt *time.Time) error {
	for _, hold := range h.holds {
		if hold.HoldID == holdID {
			hold.Status = status
			hold.ReleasedAt = releasedAt
			return nil
		}
	}
	return fmt.Errorf("hold not found: %s", holdID)
}

type memCommission struct {
	settings []*payment.CommissionSetting
}

func (c *memCommission) ListActive(_ context.Context) ([]*payment.CommissionSetting, error) {
	return c.settings, nil
}

type fakeGateway struct {
	orders     int
	failCreate bool
	validSig   string
}

func (g *fakeGateway) CreateOrder(_ context.Context, in payment.OrderInput) (*payment.Order, error) {
	if g.failCreate {
		return nil, fmt.Errorf("gateway unreachable")
	}
	g.orders++
	return &payment.Order{
		OrderID:     fmt.Sprintf("order_%03d", g.orders),
		AmountPaise: in.AmountPaise,
		Currency:    in.Currency,
		Receipt:     in.Receipt,
	}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return signature == g.validSig
}

type memTracking struct {
	records map[uuid.UUID]*payment.Tracking
}

func (t *memTracking) Lookup(_ context.Context, id uuid.UUID) (*payment.Tracking, error) {
	if t.records == nil {
		return nil, nil
	}
	return t.records[id], nil
}

func (t *memTracking) MarkFinalCompleted(_ context.Context, id uuid.UUID) error {
	if rec, ok := t.records[id]; ok {
		rec.FinalPaymentStatus = payment.TrackingStatusCompleted
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithConversation(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordedEvent struct {
	target string
	event  string
}

type memHub struct {
	events []recordedEvent
}

func (h *memHub) EmitToConversation(id uuid.UUID, event string, _ any) {
	h.events = append(h.events, recordedEvent{target: "conv:" + id.String(), event: event})
}

func (h *memHub) EmitToUser(id uuid.UUID, event string, _ any) {
	h.events = append(h.events, recordedEvent{target: "user:" + id.String(), event: event})
}

func (h *memHub) count(event string) int {
	n := 0
	for _, e := range h.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type memPusher struct {
	sent int
	err  error
}

func (p *memPusher) SendFlowStateNotification(_ context.Context, _, _ uuid.UUID, _ conversation.FlowState, _ string) error {
	p.sent++
	return p.err
}

type allowAll struct{}

func (allowAll) Allow(uuid.UUID, string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(uuid.UUID, string) bool { return false }

// --- harness ---

type harness struct {
	engine   *Engine
	store    *memStore
	ledger   *memLedger
	holds    *memHolds
	gateway  *fakeGateway
	tracking *memTracking
	hub      *memHub
	pusher   *memPusher

	brandOwner uuid.UUID
	influencer uuid.UUID
	bidID      uuid.UUID
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      newMemStore(),
		ledger:     &memLedger{},
		holds:      &memHolds{},
		gateway:    &fakeGateway{validSig: "good-signature"},
		tracking:   &memTracking{},
		hub:        &memHub{},
		pusher:     &memPusher{},
		brandOwner: uuid.New(),
		influencer: uuid.New(),
		bidID:      uuid.New(),
		clock:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	logger := zerolog.Nop()
	h.engine = NewEngine(
		h.store,
		h.ledger,
		escrow.NewService(h.holds, h.ledger, logger),
		commission.NewService(&memCommission{}, 0, logger),
		h.gateway,
		h.tracking,
		passthroughTx{},
		h.hub,
		h.pusher,
		allowAll{},
		logger,
	)
	seq := 0
	h.engine.now = func() time.Time {
		h.clock = h.clock.Add(time.Second)
		return h.clock
	}
	h.engine.msgID = func() string {
		seq++
		return fmt.Sprintf("01MSG%021d", seq)
	}
	return h
}

func (h *harness) start(t *testing.T, amount float64) uuid.UUID {
	t.Helper()
	res, err := h.engine.InitializeBid(context.Background(), InitializeBidInput{
		BidID:          h.bidID,
		BrandOwnerID:   h.brandOwner,
		InfluencerID:   h.influencer,
		ProposedAmount: amount,
	})
	require.NoError(t, err)
	require.Equal(t, conversation.StateInfluencerResponding, res.State)
	return res.ConversationID
}

func (h *harness) act(t *testing.T, id uuid.UUID, role conversation.Role, action conversation.Action, payload string) *ActionResult {
	t.Helper()
	res, err := h.engine.HandleAction(context.Background(), HandleActionInput{
		ConversationID: id,
		ActorRole:      role,
		Action:         action,
		Payload:        json.RawMessage(payload),
	})
	require.NoError(t, err)
	return res
}

func (h *harness) actErr(t *testing.T, id uuid.UUID, role conversation.Role, action conversation.Action, payload string) error {
	t.Helper()
	_, err := h.engine.HandleAction(context.Background(), HandleActionInput{
		ConversationID: id,
		ActorRole:      role,
		Action:         action,
		Payload:        json.RawMessage(payload),
	})
	require.Error(t, err)
	return err
}

// advance drives a conversation from the initial state to payment_pending with
// a direct price acceptance.
func (h *harness) agreePrice(t *testing.T, id uuid.UUID, rupees float64) {
	t.Helper()
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendProjectDetails, `{"project_details":"Three reels and one story"}`)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptProjectDetails, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendPriceOffer, fmt.Sprintf(`{"price":%v}`, rupees))
	res := h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptPrice, "")
	require.Equal(t, conversation.StatePaymentPending, res.State)
}

func (h *harness) payAndVerify(t *testing.T, id uuid.UUID) *ActionResult {
	t.Helper()
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionProceedToPayment, "")
	require.NotNil(t, res.CurrentActionData)
	require.NotNil(t, res.CurrentActionData.Order)

	verified, err := h.engine.VerifyPayment(context.Background(), VerifyPaymentInput{
		OrderID:   res.CurrentActionData.Order.OrderID,
		PaymentID: "pay_abc",
		Signature: "good-signature",
	})
	require.NoError(t, err)
	require.Equal(t, conversation.StatePaymentCompleted, verified.State)
	return verified
}

func (h *harness) conv(t *testing.T, id uuid.UUID) *conversation.Conversation {
	t.Helper()
	c, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

// --- scenarios ---

func TestHappyPathBidToApproval(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)

	h.agreePrice(t, id, 900)

	c := h.conv(t, id)
	require.Equal(t, int64(90000), c.FlowData.AgreedPricePaise)
	require.NotNil(t, c.CurrentActionData)
	bd := c.CurrentActionData.PaymentBreakdown
	require.NotNil(t, bd)
	assert.Equal(t, int64(90000), bd.TotalPaise)
	assert.Equal(t, int64(9000), bd.CommissionPaise)
	assert.Equal(t, int64(81000), bd.NetPaise)
	assert.Equal(t, int64(24300), bd.AdvancePaise)
	assert.Equal(t, int64(56700), bd.FinalPaise)

	h.payAndVerify(t, id)

	c = h.conv(t, id)
	assert.Equal(t, conversation.RoleInfluencer, c.AwaitingRole)
	assert.Equal(t, conversation.ChatStatusRealTime, c.ChatStatus)

	balance, err := h.ledger.BalancePaise(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(81000), balance, "verified funds minus commission stay with the conversation")

	hold, err := h.holds.GetActive(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, hold)
	assert.Equal(t, int64(81000), hold.AmountPaise)

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionStartWork, "")
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSubmitWork, `{"description":"All deliverables posted","deliverables":["reel-1","reel-2","reel-3","story"]}`)
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionApproveWork, "")

	assert.Equal(t, conversation.StateWorkApproved, res.State)
	assert.Equal(t, conversation.RoleNone, res.AwaitingRole)

	c = h.conv(t, id)
	assert.Equal(t, conversation.ChatStatusClosed, c.ChatStatus)
	assert.Nil(t, c.CurrentActionData)

	balance, err = h.ledger.BalancePaise(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, balance, "escrow release zeroes the conversation balance")

	hold, err = h.holds.GetActive(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, hold)

	req, err := h.store.GetRequestByBid(context.Background(), h.bidID, h.influencer)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, conversation.RequestStatusCompleted, req.Status)
	require.NotNil(t, req.FinalAgreedAmountPaise)
	assert.Equal(t, int64(90000), *req.FinalAgreedAmountPaise)
}

func TestNegotiationLoopReachesAgreement(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 1000)

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendProjectDetails, `{"project_details":"One sponsored video"}`)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptProjectDetails, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendPriceOffer, `{"price":1000}`)

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionNegotiatePrice, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionAcceptNegotiation, "")
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSendNegotiatedPrice, `{"price":1500}`)

	// First counter declined, second accepted.
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionRejectNegotiatedPrice, "")
	require.Equal(t, conversation.StateInfluencerNegotiationInput, res.State)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSendNegotiatedPrice, `{"price":1200}`)
	res = h.act(t, id, conversation.RoleBrandOwner, conversation.ActionAcceptNegotiatedPrice, "")

	require.Equal(t, conversation.StatePaymentPending, res.State)
	c := h.conv(t, id)
	assert.Equal(t, int64(120000), c.FlowData.AgreedPricePaise)

	events := make([]string, 0, len(c.NegotiationHistory))
	for _, ev := range c.NegotiationHistory {
		events = append(events, ev.Event)
	}
	assert.Equal(t, []string{
		"price_offered",
		"negotiation_requested",
		"negotiation_accepted",
		"negotiated_price_submitted",
		"negotiated_price_rejected",
		"negotiated_price_submitted",
		"price_agreed",
	}, events)
}

func TestNegotiationRejectedFallsBackToOriginalOffer(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 1000)

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendProjectDetails, `{"project_details":"details"}`)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptProjectDetails, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendPriceOffer, `{"price":1000}`)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionNegotiatePrice, "")

	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionRejectNegotiation, "")
	require.Equal(t, conversation.StateInfluencerPriceResponse, res.State)

	res = h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptPrice, "")
	require.Equal(t, conversation.StatePaymentPending, res.State)
	assert.Equal(t, int64(100000), h.conv(t, id).FlowData.AgreedPricePaise)
}

func TestRevisionBudgetAndFinalRejection(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionStartWork, "")
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSubmitWork, `{"description":"draft 1"}`)

	// reject_final_work is gated until the final review.
	err := h.actErr(t, id, conversation.RoleBrandOwner, conversation.ActionRejectFinalWork, "")
	assert.Equal(t, conversation.ErrPreconditionFailed, conversation.KindOf(err))

	// Revision 1 lands a regular review.
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionRequestRevision, `{"feedback":"wrong aspect ratio"}`)
	res := h.act(t, id, conversation.RoleInfluencer, conversation.ActionResubmitWork, `{"description":"draft 2"}`)
	require.Equal(t, conversation.StateWorkSubmitted, res.State)

	// With max_revisions 3, the resubmission after revision 2 is the final
	// review: approve or reject only.
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionRequestRevision, `{"feedback":"audio out of sync"}`)
	res = h.act(t, id, conversation.RoleInfluencer, conversation.ActionResubmitWork, `{"description":"draft 3"}`)
	require.Equal(t, conversation.StateWorkFinalReview, res.State)

	// No third revision.
	err = h.actErr(t, id, conversation.RoleBrandOwner, conversation.ActionRequestRevision, `{"feedback":"one more"}`)
	assert.Equal(t, conversation.ErrInvalidState, conversation.KindOf(err))

	res = h.act(t, id, conversation.RoleBrandOwner, conversation.ActionRejectFinalWork, "")
	assert.Equal(t, conversation.StateWorkRejected, res.State)

	c := h.conv(t, id)
	assert.Equal(t, 2, c.RevisionCount)
	assert.Len(t, c.RevisionHistory, 2)
	for _, rev := range c.RevisionHistory {
		assert.Equal(t, conversation.RevisionStatusSubmitted, rev.Status)
		assert.NotNil(t, rev.SubmittedAt)
	}

	// Funds stay held; rejection does not touch escrow.
	hold, err2 := h.holds.GetActive(context.Background(), id)
	require.NoError(t, err2)
	require.NotNil(t, hold)
}

func TestForceCloseLeavesEscrowUnlessRefundRequested(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	res := h.act(t, id, conversation.RoleAdmin, conversation.ActionForceClose, `{"reason":"dispute escalated"}`)
	assert.Equal(t, conversation.StateClosed, res.State)

	hold, err := h.holds.GetActive(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, hold, "force_close without refund_escrow leaves the hold intact")

	// Terminal state rejects further participant actions.
	err = h.actErr(t, id, conversation.RoleInfluencer, conversation.ActionStartWork, "")
	assert.Equal(t, conversation.ErrInvalidState, conversation.KindOf(err))
}

func TestForceCloseWithRefundReturnsEscrow(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	h.act(t, id, conversation.RoleAdmin, conversation.ActionForceClose, `{"refund_escrow":true,"reason":"brand owner withdrew"}`)

	hold, err := h.holds.GetActive(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, hold)

	balance, err := h.ledger.BalancePaise(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestOutOfTurnActorGetsNotYourTurn(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)

	// State awaits the influencer; the brand owner acting at all, even with
	// an action undefined here, is an authorization failure first.
	err := h.actErr(t, id, conversation.RoleBrandOwner, conversation.ActionSendPriceOffer, `{"price":500}`)
	assert.Equal(t, conversation.ErrUnauthorized, conversation.KindOf(err))
	var derr *conversation.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "not_your_turn", derr.Subkind)

	// The awaited actor attempting an undefined action gets invalid state.
	err = h.actErr(t, id, conversation.RoleInfluencer, conversation.ActionApproveWork, "")
	assert.Equal(t, conversation.ErrInvalidState, conversation.KindOf(err))

	// Rejected inputs leave no trace.
	msgs, err2 := h.store.ListMessages(context.Background(), id, 100, "")
	require.NoError(t, err2)
	assert.Len(t, msgs, 1, "only the initial prompt message exists")
}

func TestAdminCannotTakeParticipantActions(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendProjectDetails, `{"project_details":"Three reels"}`)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptProjectDetails, "")
	h.act(t, id, conversation.RoleBrandOwner, conversation.ActionSendPriceOffer, `{"price":500}`)

	before := h.conv(t, id)
	require.Equal(t, conversation.StateInfluencerPriceResponse, before.FlowState)

	// Admin privilege is scoped to the admin actions; the price decision
	// belongs to the influencer.
	err := h.actErr(t, id, conversation.RoleAdmin, conversation.ActionAcceptPrice, "")
	assert.Equal(t, conversation.ErrUnauthorized, conversation.KindOf(err))
	var derr *conversation.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "not_your_turn", derr.Subkind)

	after := h.conv(t, id)
	assert.Equal(t, conversation.StateInfluencerPriceResponse, after.FlowState)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "rejected admin action mutates nothing")

	// Admin work approval is rejected the same way later in the flow.
	res := h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptPrice, "")
	require.Equal(t, conversation.StatePaymentPending, res.State)
	err = h.actErr(t, id, conversation.RoleAdmin, conversation.ActionProceedToPayment, "")
	assert.Equal(t, conversation.ErrUnauthorized, conversation.KindOf(err))
}

func TestVerifyPaymentRejectsBadSignatureWithoutWrites(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.agreePrice(t, id, 900)
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionProceedToPayment, "")
	orderID := res.CurrentActionData.Order.OrderID

	before := len(h.ledger.rows)
	_, err := h.engine.VerifyPayment(context.Background(), VerifyPaymentInput{
		OrderID:   orderID,
		PaymentID: "pay_abc",
		Signature: "tampered",
	})
	require.Error(t, err)
	assert.Equal(t, conversation.ErrSignatureInvalid, conversation.KindOf(err))
	assert.Len(t, h.ledger.rows, before, "failed verification writes nothing")
	assert.Equal(t, conversation.StatePaymentPending, h.conv(t, id).FlowState)

	hold, err2 := h.holds.GetActive(context.Background(), id)
	require.NoError(t, err2)
	assert.Nil(t, hold)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.agreePrice(t, id, 900)
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionProceedToPayment, "")
	orderID := res.CurrentActionData.Order.OrderID

	in := VerifyPaymentInput{OrderID: orderID, PaymentID: "pay_abc", Signature: "good-signature"}
	first, err := h.engine.VerifyPayment(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, conversation.StatePaymentCompleted, first.State)

	rows := len(h.ledger.rows)
	msgs := len(h.store.messages[id])
	events := len(h.hub.events)

	second, err := h.engine.VerifyPayment(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatePaymentCompleted, second.State)
	assert.Len(t, h.ledger.rows, rows, "duplicate verify writes no ledger rows")
	assert.Len(t, h.store.messages[id], msgs, "duplicate verify writes no messages")
	assert.Len(t, h.hub.events, events, "duplicate verify emits nothing")
}

func TestGatewayFailureKeepsPaymentPending(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.agreePrice(t, id, 900)

	h.gateway.failCreate = true
	err := h.actErr(t, id, conversation.RoleBrandOwner, conversation.ActionProceedToPayment, "")
	assert.Equal(t, conversation.ErrExternalUnavailable, conversation.KindOf(err))
	assert.Equal(t, conversation.StatePaymentPending, h.conv(t, id).FlowState)

	// Retry succeeds once the gateway recovers.
	h.gateway.failCreate = false
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionProceedToPayment, "")
	require.NotNil(t, res.CurrentActionData.Order)
}

func TestAdminManagedApprovalRoutesToFinalPayment(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.tracking.records = map[uuid.UUID]*payment.Tracking{}
	h.agreePrice(t, id, 900)
	h.payAndVerify(t, id)

	h.tracking.records[id] = &payment.Tracking{
		ConversationID:       id,
		AdvancePaymentStatus: payment.TrackingStatusAdminConfirmed,
		FinalPaymentStatus:   payment.TrackingStatusPending,
		FinalPaise:           56700,
	}

	h.act(t, id, conversation.RoleInfluencer, conversation.ActionStartWork, "")
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSubmitWork, `{"description":"done"}`)
	res := h.act(t, id, conversation.RoleBrandOwner, conversation.ActionApproveWork, "")
	require.Equal(t, conversation.StateAdminFinalPaymentPending, res.State)
	require.Equal(t, conversation.RoleAdmin, res.AwaitingRole)

	// Only the admin can release.
	err := h.actErr(t, id, conversation.RoleBrandOwner, conversation.ActionReleaseFinal, "")
	assert.Equal(t, conversation.ErrUnauthorized, conversation.KindOf(err))

	res = h.act(t, id, conversation.RoleAdmin, conversation.ActionReleaseFinal, `{"proof_attachment_id":"txn-ref-991"}`)
	assert.Equal(t, conversation.StateAdminFinalPaymentComplete, res.State)

	rec := h.tracking.records[id]
	assert.Equal(t, payment.TrackingStatusCompleted, rec.FinalPaymentStatus)

	var finalRow *payment.Transaction
	for _, r := range h.ledger.rows {
		if r.Stage == payment.StageFinal {
			finalRow = r
		}
	}
	require.NotNil(t, finalRow)
	assert.Equal(t, int64(56700), finalRow.AmountPaise)
	require.NotNil(t, finalRow.ExternalRef)
	assert.Equal(t, "txn-ref-991", *finalRow.ExternalRef)
}

func TestInitializeBidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	in := InitializeBidInput{
		BidID:          h.bidID,
		BrandOwnerID:   h.brandOwner,
		InfluencerID:   h.influencer,
		ProposedAmount: 700,
	}
	first, err := h.engine.InitializeBid(context.Background(), in)
	require.NoError(t, err)

	second, err := h.engine.InitializeBid(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Len(t, h.store.conversations, 1)
	assert.Len(t, h.store.messages[first.ConversationID], 1)
	require.NotNil(t, second.Message)
	assert.Equal(t, first.Message.ID, second.Message.ID)
}

func TestPostUserMessageRequiresRealTimeChat(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)

	_, err := h.engine.PostUserMessage(context.Background(), PostUserMessageInput{
		ConversationID: id,
		SenderID:       h.brandOwner,
		Text:           "hey",
	})
	require.Error(t, err)
	assert.Equal(t, conversation.ErrInvalidState, conversation.KindOf(err))

	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	msg, err := h.engine.PostUserMessage(context.Background(), PostUserMessageInput{
		ConversationID: id,
		SenderID:       h.brandOwner,
		Text:           "excited to see the drafts",
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.MessageTypeUser, msg.MessageType)
	require.NotNil(t, msg.ReceiverID)
	assert.Equal(t, h.influencer, *msg.ReceiverID)
	assert.Equal(t, 1, h.hub.count(notification.EventChatNew))
}

// lockDelayTx runs a hook when the conversation lock is acquired, standing in
// for a concurrent writer that commits just before.
type lockDelayTx struct {
	before func()
}

func (tx *lockDelayTx) WithConversation(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if tx.before != nil {
		hook := tx.before
		tx.before = nil
		hook()
	}
	return fn(ctx)
}

func TestPostUserMessageRechecksStateUnderLock(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	// A force_close commits while the sender waits on the conversation lock.
	h.engine.tx = &lockDelayTx{before: func() {
		c, err := h.store.GetByID(context.Background(), id)
		require.NoError(t, err)
		c.FlowState = conversation.StateClosed
		c.AwaitingRole = conversation.RoleNone
		c.ChatStatus = conversation.ChatStatusClosed
		require.NoError(t, h.store.Update(context.Background(), c))
	}}

	_, err := h.engine.PostUserMessage(context.Background(), PostUserMessageInput{
		ConversationID: id,
		SenderID:       h.brandOwner,
		Text:           "still there?",
	})
	require.Error(t, err)
	assert.Equal(t, conversation.ErrInvalidState, conversation.KindOf(err))

	msgs, err := h.store.ListMessages(context.Background(), id, 100, "")
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, conversation.MessageTypeUser, m.MessageType, "no user message lands on a closed conversation")
	}
	assert.Zero(t, h.hub.count(notification.EventChatNew))
}

func TestPostUserMessageRateLimited(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.agreePrice(t, id, 500)
	h.payAndVerify(t, id)

	h.engine.limiter = denyAll{}
	before := len(h.store.messages[id])
	_, err := h.engine.PostUserMessage(context.Background(), PostUserMessageInput{
		ConversationID: id,
		SenderID:       h.influencer,
		Text:           "spam",
	})
	require.Error(t, err)
	assert.Equal(t, conversation.ErrRateLimited, conversation.KindOf(err))
	assert.Len(t, h.store.messages[id], before, "limited message is not persisted")
}

func TestStateChangeEventsAndPush(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)

	h.hub.events = nil
	h.pusher.sent = 0
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")

	assert.Equal(t, 1, h.hub.count(notification.EventStateChanged))
	assert.Equal(t, 2, h.hub.count(notification.EventConversationsUpsert))
	assert.Equal(t, 1, h.hub.count(notification.EventChatAutomated))
	assert.Equal(t, 1, h.pusher.sent, "the newly awaited participant is pushed")
}

func TestPushFailureDoesNotFailAction(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 500)
	h.pusher.err = fmt.Errorf("fcm unavailable")

	res := h.act(t, id, conversation.RoleInfluencer, conversation.ActionAcceptConnection, "")
	assert.Equal(t, conversation.StateBrandOwnerDetails, res.State)
}

func TestAdminOverrideReleaseAdvance(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.agreePrice(t, id, 900)
	h.payAndVerify(t, id)

	res := h.act(t, id, conversation.RoleAdmin, conversation.ActionReleaseAdvance, "")
	assert.Equal(t, conversation.StateWorkInProgress, res.State)

	var advance *payment.Transaction
	for _, r := range h.ledger.rows {
		if r.Stage == payment.StageAdvance {
			advance = r
		}
	}
	require.NotNil(t, advance)
	assert.Equal(t, int64(24300), advance.AmountPaise)
	require.NotNil(t, advance.ReceiverID)
	assert.Equal(t, h.influencer, *advance.ReceiverID)
}

func TestEveryPromptNamesItsState(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, 900)
	h.agreePrice(t, id, 900)
	h.payAndVerify(t, id)
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionStartWork, "")
	h.act(t, id, conversation.RoleInfluencer, conversation.ActionSubmitWork, `{"description":"done"}`)

	for _, m := range h.store.messages[id] {
		if m.ActionData == nil {
			continue
		}
		assert.NotEmpty(t, m.ActionData.FlowState, "prompt on message %s must carry its state", m.ID)
	}
}
