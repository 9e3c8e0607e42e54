package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/domain/payment"
)

const defaultBaseURL = "https://api.razorpay.com"

// Client implements payment.Gateway against the Razorpay Orders API.
type Client struct {
	http      *resty.Client
	keyID     string
	keySecret string
	logger    zerolog.Logger
}

var _ payment.Gateway = (*Client)(nil)

// NewClient creates a Razorpay gateway client with basic-auth credentials.
func NewClient(keyID, keySecret string, logger zerolog.Logger) *Client {
	return NewClientWithBaseURL(defaultBaseURL, keyID, keySecret, logger)
}

// NewClientWithBaseURL allows pointing the client at a test server.
func NewClientWithBaseURL(baseURL, keyID, keySecret string, logger zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetTimeout(15 * time.Second)
	return &Client{
		http:      http,
		keyID:     keyID,
		keySecret: keySecret,
		logger:    logger.With().Str("service", "razorpay").Logger(),
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a gateway order for the amount in paise.
func (c *Client) CreateOrder(ctx context.Context, in payment.OrderInput) (*payment.Order, error) {
	var result orderResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(orderRequest{
			Amount:   in.AmountPaise,
			Currency: in.Currency,
			Receipt:  in.Receipt,
			Notes:    in.Notes,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		return nil, fmt.Errorf("razorpay order request failed: %w", err)
	}
	if resp.IsError() {
		c.logger.Warn().
			Int("status", resp.StatusCode()).
			Str("code", apiErr.Error.Code).
			Msg("razorpay order creation rejected")
		return nil, fmt.Errorf("razorpay order creation failed: %s (%s)", apiErr.Error.Description, apiErr.Error.Code)
	}
	return &payment.Order{
		OrderID:     result.ID,
		AmountPaise: result.Amount,
		Currency:    result.Currency,
		Receipt:     result.Receipt,
	}, nil
}

// VerifySignature checks the checkout callback signature: HMAC-SHA256 of
// "<order_id>|<payment_id>" keyed with the API secret, hex encoded.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
