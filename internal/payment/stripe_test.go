package payment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"nutrition-bot/internal/models"
)

func completedEvent(t *testing.T, body map[string]interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return stripe.Event{Type: EventCheckoutCompleted, Data: &stripe.EventData{Raw: raw}}
}

func TestConfig(t *testing.T) {
	cfg := Config{SecretKey: "sk", WebhookKey: "wh", PriceLight: "price_light"}
	assert.True(t, cfg.Enabled())

	price, ok := cfg.PriceFor(models.GradePaidLight)
	assert.True(t, ok)
	assert.Equal(t, "price_light", price)

	_, ok = cfg.PriceFor(models.GradePaidPro)
	assert.False(t, ok)
	_, ok = cfg.PriceFor(models.GradeTrialLight)
	assert.False(t, ok)

	assert.False(t, Config{SecretKey: "sk", PriceLight: "p"}.Enabled())
}

func TestCreateCheckoutSessionDisabled(t *testing.T) {
	c := NewStripeClient(Config{})
	_, _, err := c.CreateCheckoutSession(Checkout{UserID: 1, Grade: models.GradePaidLight, Months: 1})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestCreateCheckoutSessionRejectsBadPurchase(t *testing.T) {
	c := NewStripeClient(Config{SecretKey: "sk", WebhookKey: "wh", PriceLight: "price_light"})

	_, _, err := c.CreateCheckoutSession(Checkout{UserID: 1, Grade: models.GradePaidPro, Months: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, _, err = c.CreateCheckoutSession(Checkout{UserID: 1, Grade: models.GradePaidLight, Months: 0})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestVerifyWebhookWithoutSecret(t *testing.T) {
	c := NewStripeClient(Config{SecretKey: "sk"})
	_, err := c.VerifyWebhook([]byte("{}"), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestParseCompletedSession(t *testing.T) {
	event := completedEvent(t, map[string]interface{}{
		"id":             "cs_test_1",
		"payment_status": "paid",
		"amount_total":   1500,
		"currency":       "eur",
		"metadata":       Metadata(42, models.GradePaidPro, 3),
	})

	p, err := ParseCompletedSession(event)
	require.NoError(t, err)
	assert.Equal(t, &models.Payment{
		UserID:   42,
		Grade:    models.GradePaidPro,
		Months:   3,
		Amount:   1500,
		Currency: "eur",
		StripeID: "cs_test_1",
	}, p)
}

func TestParseCompletedSessionFallsBackToClientReference(t *testing.T) {
	event := completedEvent(t, map[string]interface{}{
		"id":                  "cs_test_2",
		"payment_status":      "paid",
		"client_reference_id": "7",
		"metadata":            map[string]string{"grade": "paid-light", "months": "1"},
	})

	p, err := ParseCompletedSession(event)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
}

func TestParseCompletedSessionErrors(t *testing.T) {
	tests := []struct {
		name  string
		event func(t *testing.T) stripe.Event
		want  error
	}{
		{
			name: "other event type",
			event: func(t *testing.T) stripe.Event {
				return stripe.Event{Type: "payment_intent.succeeded", Data: &stripe.EventData{Raw: []byte("{}")}}
			},
			want: ErrUnexpectedType,
		},
		{
			name: "unpaid",
			event: func(t *testing.T) stripe.Event {
				return completedEvent(t, map[string]interface{}{
					"id":             "cs_1",
					"payment_status": "unpaid",
					"metadata":       Metadata(1, models.GradePaidLight, 1),
				})
			},
			want: ErrNotPaid,
		},
		{
			name: "free grade",
			event: func(t *testing.T) stripe.Event {
				return completedEvent(t, map[string]interface{}{
					"id":             "cs_1",
					"payment_status": "paid",
					"metadata":       Metadata(1, models.GradeFree, 1),
				})
			},
			want: ErrBadMetadata,
		},
		{
			name: "zero months",
			event: func(t *testing.T) stripe.Event {
				return completedEvent(t, map[string]interface{}{
					"id":             "cs_1",
					"payment_status": "paid",
					"metadata":       Metadata(1, models.GradePaidLight, 0),
				})
			},
			want: ErrBadMetadata,
		},
		{
			name: "missing user",
			event: func(t *testing.T) stripe.Event {
				return completedEvent(t, map[string]interface{}{
					"id":             "cs_1",
					"payment_status": "paid",
					"metadata":       map[string]string{"grade": "paid-light", "months": "1"},
				})
			},
			want: ErrBadMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCompletedSession(tt.event(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
