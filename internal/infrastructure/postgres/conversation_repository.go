package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/influmatch/influmatch/internal/domain/conversation"
)

// ConversationRepository implements conversation.Repository.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `
	id, conversation_id, brand_owner_id, influencer_id, bid_id, campaign_id, request_id,
	flow_state, awaiting_role, chat_status, flow_data, negotiation_history,
	revision_count, max_revisions, revision_history, current_action_data,
	created_at, updated_at`

func (r *ConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	flowData, history, revisions, actionData, err := marshalConversationJSON(c)
	if err != nil {
		return err
	}
	_, err = q(ctx, r.pool).Exec(ctx, `
		INSERT INTO conversations
		(conversation_id, brand_owner_id, influencer_id, bid_id, campaign_id, request_id,
		 flow_state, awaiting_role, chat_status, flow_data, negotiation_history,
		 revision_count, max_revisions, revision_history, current_action_data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, c.ConversationID, c.BrandOwnerID, c.InfluencerID, c.BidID, c.CampaignID, c.RequestID,
		c.FlowState, c.AwaitingRole, c.ChatStatus, flowData, history,
		c.RevisionCount, c.MaxRevisions, revisions, actionData, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*conversation.Conversation, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE conversation_id=$1
	`, conversationID)
	return scanConversation(row)
}

func (r *ConversationRepository) GetByOrderID(ctx context.Context, orderID string) (*conversation.Conversation, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE flow_data->>'razorpay_order_id'=$1
	`, orderID)
	return scanConversation(row)
}

func (r *ConversationRepository) FindByBid(ctx context.Context, bidID, brandOwnerID, influencerID uuid.UUID) (*conversation.Conversation, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE bid_id=$1 AND brand_owner_id=$2 AND influencer_id=$3
	`, bidID, brandOwnerID, influencerID)
	return scanConversation(row)
}

func (r *ConversationRepository) FindByCampaign(ctx context.Context, campaignID, brandOwnerID, influencerID uuid.UUID) (*conversation.Conversation, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations WHERE campaign_id=$1 AND brand_owner_id=$2 AND influencer_id=$3
	`, campaignID, brandOwnerID, influencerID)
	return scanConversation(row)
}

func (r *ConversationRepository) Update(ctx context.Context, c *conversation.Conversation) error {
	flowData, history, revisions, actionData, err := marshalConversationJSON(c)
	if err != nil {
		return err
	}
	_, err = q(ctx, r.pool).Exec(ctx, `
		UPDATE conversations SET
			request_id=$1, flow_state=$2, awaiting_role=$3, chat_status=$4,
			flow_data=$5, negotiation_history=$6, revision_count=$7, max_revisions=$8,
			revision_history=$9, current_action_data=$10, updated_at=$11
		WHERE conversation_id=$12
	`, c.RequestID, c.FlowState, c.AwaitingRole, c.ChatStatus,
		flowData, history, c.RevisionCount, c.MaxRevisions,
		revisions, actionData, c.UpdatedAt, c.ConversationID)
	return err
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*conversation.Conversation, error) {
	rows, err := q(ctx, r.pool).Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE brand_owner_id=$1 OR influencer_id=$1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, m *conversation.Message) error {
	var actionData []byte
	if m.ActionData != nil {
		var err error
		actionData, err = json.Marshal(m.ActionData)
		if err != nil {
			return err
		}
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return err
	}
	_, err = q(ctx, r.pool).Exec(ctx, `
		INSERT INTO messages
		(message_id, conversation_id, sender_id, receiver_id, body, message_type,
		 action_required, action_data, attachments, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Message, m.MessageType,
		m.ActionRequired, actionData, attachments, m.CreatedAt)
	return err
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, beforeID string) ([]*conversation.Message, error) {
	query := `
		SELECT message_id, conversation_id, sender_id, receiver_id, body, message_type,
		       action_required, action_data, attachments, created_at
		FROM messages WHERE conversation_id=$1`
	args := []any{conversationID}
	if beforeID != "" {
		query += ` AND message_id < $2`
		args = append(args, beforeID)
	}
	query += ` ORDER BY message_id DESC LIMIT $` + itoa(len(args)+1)
	args = append(args, limit)

	rows, err := q(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// ULID ids order by creation; flip to oldest-first for clients.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *ConversationRepository) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*conversation.Message, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT message_id, conversation_id, sender_id, receiver_id, body, message_type,
		       action_required, action_data, attachments, created_at
		FROM messages WHERE conversation_id=$1
		ORDER BY message_id DESC LIMIT 1
	`, conversationID)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *ConversationRepository) CreateRequest(ctx context.Context, req *conversation.Request) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		INSERT INTO requests
		(request_id, bid_id, brand_owner_id, influencer_id, proposed_amount_paise,
		 final_agreed_amount_paise, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, req.RequestID, req.BidID, req.BrandOwnerID, req.InfluencerID, req.ProposedAmountPaise,
		req.FinalAgreedAmountPaise, req.Status, req.CreatedAt, req.UpdatedAt)
	return err
}

func (r *ConversationRepository) GetRequestByBid(ctx context.Context, bidID, influencerID uuid.UUID) (*conversation.Request, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT id, request_id, bid_id, brand_owner_id, influencer_id, proposed_amount_paise,
		       final_agreed_amount_paise, status, created_at, updated_at
		FROM requests WHERE bid_id=$1 AND influencer_id=$2
	`, bidID, influencerID)
	var req conversation.Request
	if err := row.Scan(&req.ID, &req.RequestID, &req.BidID, &req.BrandOwnerID, &req.InfluencerID,
		&req.ProposedAmountPaise, &req.FinalAgreedAmountPaise, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *ConversationRepository) UpdateRequest(ctx context.Context, req *conversation.Request) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		UPDATE requests SET final_agreed_amount_paise=$1, status=$2, updated_at=$3
		WHERE request_id=$4
	`, req.FinalAgreedAmountPaise, req.Status, req.UpdatedAt, req.RequestID)
	return err
}

func (r *ConversationRepository) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	row := q(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.conversation_id=$1 AND m.receiver_id=$2
		  AND m.message_id > COALESCE(
			(SELECT last_read_message_id FROM message_reads
			 WHERE conversation_id=$1 AND user_id=$2), '')
	`, conversationID, userID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, messageID string) error {
	_, err := q(ctx, r.pool).Exec(ctx, `
		INSERT INTO message_reads (conversation_id, user_id, last_read_message_id, updated_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET last_read_message_id=GREATEST(message_reads.last_read_message_id, EXCLUDED.last_read_message_id), updated_at=NOW()
	`, conversationID, userID, messageID)
	return err
}

func marshalConversationJSON(c *conversation.Conversation) (flowData, history, revisions, actionData []byte, err error) {
	if flowData, err = json.Marshal(c.FlowData); err != nil {
		return
	}
	if history, err = json.Marshal(c.NegotiationHistory); err != nil {
		return
	}
	if revisions, err = json.Marshal(c.RevisionHistory); err != nil {
		return
	}
	if c.CurrentActionData != nil {
		actionData, err = json.Marshal(c.CurrentActionData)
	}
	return
}

func scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var c conversation.Conversation
	var flowData, history, revisions, actionData []byte
	err := row.Scan(&c.ID, &c.ConversationID, &c.BrandOwnerID, &c.InfluencerID, &c.BidID, &c.CampaignID, &c.RequestID,
		&c.FlowState, &c.AwaitingRole, &c.ChatStatus, &flowData, &history,
		&c.RevisionCount, &c.MaxRevisions, &revisions, &actionData,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(flowData) > 0 {
		if err := json.Unmarshal(flowData, &c.FlowData); err != nil {
			return nil, err
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.NegotiationHistory); err != nil {
			return nil, err
		}
	}
	if len(revisions) > 0 {
		if err := json.Unmarshal(revisions, &c.RevisionHistory); err != nil {
			return nil, err
		}
	}
	if len(actionData) > 0 {
		if err := json.Unmarshal(actionData, &c.CurrentActionData); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*conversation.Message, error) {
	var m conversation.Message
	var actionData, attachments []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Message, &m.MessageType,
		&m.ActionRequired, &actionData, &attachments, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(actionData) > 0 {
		if err := json.Unmarshal(actionData, &m.ActionData); err != nil {
			return nil, err
		}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
