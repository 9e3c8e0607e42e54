package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/domain/notification"
)

// Notifier posts flow-state notifications to the configured webhook. Delivery
// is best-effort; callers log and continue on failure.
type Notifier struct {
	http       *resty.Client
	webhookURL string
	logger     zerolog.Logger
}

var _ notification.Pusher = (*Notifier)(nil)

// NewNotifier creates a webhook pusher. An empty URL yields a no-op notifier.
func NewNotifier(webhookURL string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		http:       resty.New().SetTimeout(5 * time.Second),
		webhookURL: webhookURL,
		logger:     logger.With().Str("service", "push").Logger(),
	}
}

type flowStatePayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	State          string `json:"state"`
	Body           string `json:"body,omitempty"`
	SentAt         string `json:"sent_at"`
}

func (n *Notifier) SendFlowStateNotification(ctx context.Context, conversationID, userID uuid.UUID, state conversation.FlowState, body string) error {
	if n.webhookURL == "" {
		return nil
	}
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(flowStatePayload{
			ConversationID: conversationID.String(),
			UserID:         userID.String(),
			State:          string(state),
			Body:           body,
			SentAt:         time.Now().UTC().Format(time.RFC3339),
		}).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("push webhook unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push webhook returned %d", resp.StatusCode())
	}
	n.logger.Debug().
		Str("conversation_id", conversationID.String()).
		Str("state", string(state)).
		Msg("push notification delivered")
	return nil
}
