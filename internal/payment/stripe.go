// internal/payment/stripe.go
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"nutrition-bot/internal/models"
)

const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrDisabled       = errors.New("payments are not configured")
	ErrNotPaid        = errors.New("checkout session is not paid")
	ErrBadMetadata    = errors.New("checkout session metadata is invalid")
	ErrUnexpectedType = errors.New("unexpected event type")
)

type Config struct {
	SecretKey  string
	WebhookKey string
	PriceLight string
	PricePro   string
}

// Enabled reports whether checkout and webhooks can work.
func (c Config) Enabled() bool {
	return c.SecretKey != "" && c.WebhookKey != "" && (c.PriceLight != "" || c.PricePro != "")
}

// PriceFor returns the monthly price id of a paid grade.
func (c Config) PriceFor(g models.Grade) (string, bool) {
	switch g {
	case models.GradePaidLight:
		return c.PriceLight, c.PriceLight != ""
	case models.GradePaidPro:
		return c.PricePro, c.PricePro != ""
	}
	return "", false
}

// Checkout describes one subscription purchase.
type Checkout struct {
	UserID     int64
	Grade      models.Grade
	Months     int
	SuccessURL string
	CancelURL  string
}

type StripeClient struct {
	cfg Config
}

func NewStripeClient(cfg Config) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey
	return &StripeClient{cfg: cfg}
}

func (s *StripeClient) Enabled() bool {
	return s != nil && s.cfg.Enabled()
}

func (s *StripeClient) Config() Config {
	return s.cfg
}

// CreateCheckoutSession returns the hosted checkout URL. One line item of
// the monthly price is bought per month; the purchase is echoed back in the
// session metadata.
func (s *StripeClient) CreateCheckoutSession(c Checkout) (string, string, error) {
	if !s.Enabled() {
		return "", "", ErrDisabled
	}
	price, ok := s.cfg.PriceFor(c.Grade)
	if !ok || c.Months <= 0 {
		return "", "", fmt.Errorf("checkout %d months of %q: %w", c.Months, c.Grade, models.ErrInvalidInput)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(int64(c.Months)),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.SuccessURL),
		CancelURL:         stripe.String(c.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(c.UserID, 10)),
	}
	for k, v := range Metadata(c.UserID, c.Grade, c.Months) {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
func (s *StripeClient) VerifyWebhook(payload []byte, sig string) (stripe.Event, error) {
	if s == nil || s.cfg.WebhookKey == "" {
		return stripe.Event{}, ErrDisabled
	}
	return webhook.ConstructEvent(payload, sig, s.cfg.WebhookKey)
}

func Metadata(userID int64, g models.Grade, months int) map[string]string {
	return map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"grade":   string(g),
		"months":  strconv.Itoa(months),
	}
}

// ParseCompletedSession turns a checkout.session.completed event into the
// payment it confirms.
func ParseCompletedSession(event stripe.Event) (*models.Payment, error) {
	if event.Type != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: empty event data", ErrBadMetadata)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPaid, sess.ID, sess.PaymentStatus)
	}

	userRef := sess.Metadata["user_id"]
	if userRef == "" {
		userRef = sess.ClientReferenceID
	}
	userID, err := strconv.ParseInt(userRef, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: user_id %q", ErrBadMetadata, userRef)
	}
	grade := models.Grade(sess.Metadata["grade"])
	if !grade.IsPaid() {
		return nil, fmt.Errorf("%w: grade %q", ErrBadMetadata, grade)
	}
	months, err := strconv.Atoi(sess.Metadata["months"])
	if err != nil || months <= 0 {
		return nil, fmt.Errorf("%w: months %q", ErrBadMetadata, sess.Metadata["months"])
	}

	return &models.Payment{
		UserID:   userID,
		Grade:    grade,
		Months:   months,
		Amount:   sess.AmountTotal,
		Currency: string(sess.Currency),
		StripeID: sess.ID,
	}, nil
}
