package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"nutrition-bot/internal/models"
	"nutrition-bot/internal/payment"
)

const maxWebhookBody = 64 << 10

func (t *TelegramBot) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		t.logger.Errorw("Failed to read webhook body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		t.logger.Warnw("Missing Stripe signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := t.stripe.VerifyWebhook(body, signature)
	if err != nil {
		t.logger.Warnw("Failed to verify webhook signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case payment.EventCheckoutCompleted:
		p, err := payment.ParseCompletedSession(event)
		if err != nil {
			// Malformed or unpaid sessions are acknowledged and dropped.
			t.logger.Warnw("Ignoring checkout session", "event_id", event.ID, "error", err)
			break
		}
		if err := t.completePayment(r.Context(), p); err != nil {
			t.logger.Errorw("Failed to record payment", "user_id", p.UserID, "stripe_id", p.StripeID, "error", err)
			t.alerter.Alert(r.Context(), "stripe webhook", err)
			http.Error(w, "Failed to record payment", http.StatusInternalServerError)
			return
		}

	case "payment_intent.payment_failed":
		t.logger.Warnw("Payment failed", "event_id", event.ID)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}

// completePayment applies a confirmed checkout once; redelivered events
// are acknowledged without effect.
func (t *TelegramBot) completePayment(ctx context.Context, p *models.Payment) error {
	exists, err := t.store.PaymentExists(ctx, p.StripeID)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if exists {
		t.logger.Infow("Payment already recorded", "user_id", p.UserID, "stripe_id", p.StripeID)
		return nil
	}

	u, err := t.ledger.RecordPaymentSuccess(ctx, p)
	if u == nil {
		return err
	}
	if err != nil {
		// The payment is stored; only the referral reward failed.
		t.logger.Errorw("Failed to reward referrer", "user_id", p.UserID, "error", err)
		t.alerter.Alert(ctx, "referral reward", err)
	}

	t.logger.Infow("Payment recorded", "user_id", u.ID, "grade", u.Grade, "months", p.Months)
	end := "?"
	if u.PeriodEnd != nil {
		end = u.LocalTime(*u.PeriodEnd).Format("02.01.2006")
	}
	t.reply(ctx, u.ChatID, fmt.Sprintf(textPaymentDone, gradeNames[u.Grade], end), nil)
	return nil
}
