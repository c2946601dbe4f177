package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/models"
	"nutrition-bot/internal/payment"
)

// Callback is a decoded inline button payload "<action>[:arg...]".
type Callback struct {
	Action string
	Args   []string
}

var callbackArity = map[string]int{
	"save":                2,
	"edit":                1,
	"del":                 1,
	"pick":                2,
	"hist":                1,
	"sub":                 2,
	"form":                1,
	capture.SubscribeData: 0,
}

func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	cb := Callback{Action: parts[0], Args: parts[1:]}
	arity, ok := callbackArity[cb.Action]
	if !ok {
		return Callback{}, fmt.Errorf("%w: callback %q", models.ErrInvalidInput, data)
	}
	if len(cb.Args) != arity {
		return Callback{}, fmt.Errorf("%w: callback %q", models.ErrInvalidInput, data)
	}
	return cb, nil
}

func historyData(offset int) string { return "hist:" + strconv.Itoa(offset) }

func planData(g models.Grade, months int) string { return fmt.Sprintf("sub:%s:%d", g, months) }

func formData(value string) string { return "form:" + value }

// handleCallbackQuery processes callback queries from inline keyboards
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.From == nil {
		return nil
	}
	src := capture.Source{UserID: q.From.ID, ChatID: q.From.ID}
	msgID := 0
	if q.Message != nil && q.Message.Chat != nil {
		src.ChatID = q.Message.Chat.ID
		msgID = q.Message.MessageID
	}

	t.logger.Infow("Received callback query", "user_id", src.UserID, "data", q.Data)

	if err := t.messenger.AnswerCallback(ctx, q.ID, ""); err != nil {
		t.logger.Warnw("Failed to answer callback", "user_id", src.UserID, "error", err)
	}

	cb, err := ParseCallback(q.Data)
	if err != nil {
		t.logger.Warnw("Ignoring callback", "user_id", src.UserID, "error", err)
		return nil
	}

	switch cb.Action {
	case "save":
		return t.capture.Save(ctx, src, cb.Args[0], cb.Args[1] == "half")
	case "edit":
		return t.capture.Edit(ctx, src, cb.Args[0])
	case "del":
		return t.capture.Discard(ctx, src, cb.Args[0])
	case "pick":
		idx, err := strconv.Atoi(cb.Args[1])
		if err != nil {
			return fmt.Errorf("%w: candidate %q", models.ErrInvalidInput, cb.Args[1])
		}
		return t.capture.Choose(ctx, src, cb.Args[0], idx)
	case "hist":
		offset, err := strconv.Atoi(cb.Args[0])
		if err != nil {
			return fmt.Errorf("%w: history offset %q", models.ErrInvalidInput, cb.Args[0])
		}
		return t.showHistory(ctx, src, msgID, offset)
	case capture.SubscribeData:
		t.showPlans(ctx, src)
	case "sub":
		months, err := strconv.Atoi(cb.Args[1])
		if err != nil {
			return fmt.Errorf("%w: months %q", models.ErrInvalidInput, cb.Args[1])
		}
		t.checkout(ctx, src, models.Grade(cb.Args[0]), months)
	case "form":
		if t.formState(src.UserID) == "" {
			return nil
		}
		return t.advanceForm(ctx, src, cb.Args[0])
	}
	return nil
}

var planMonths = []int{1, 3, 6}

// showPlans lists every configured grade with its purchasable durations.
func (t *TelegramBot) showPlans(ctx context.Context, src capture.Source) {
	if !t.stripe.Enabled() {
		t.reply(ctx, src.ChatID, textPaymentsOff, nil)
		return
	}
	cfg := t.stripe.Config()
	var kb delivery.Keyboard
	for _, g := range []models.Grade{models.GradePaidLight, models.GradePaidPro} {
		if _, ok := cfg.PriceFor(g); !ok {
			continue
		}
		var row []delivery.Button
		for _, m := range planMonths {
			row = append(row, delivery.Button{
				Text: fmt.Sprintf("%s · %d мес.", gradeNames[g], m),
				Data: planData(g, m),
			})
		}
		kb = append(kb, row)
	}
	t.reply(ctx, src.ChatID, textChoosePlan, kb)
}

func (t *TelegramBot) checkout(ctx context.Context, src capture.Source, g models.Grade, months int) {
	_, url, err := t.stripe.CreateCheckoutSession(payment.Checkout{
		UserID:     src.UserID,
		Grade:      g,
		Months:     months,
		SuccessURL: t.startLink(startPaid),
		CancelURL:  t.startLink(startCancel),
	})
	if err != nil {
		t.logger.Errorw("Failed to create Stripe session", "user_id", src.UserID, "grade", g, "error", err)
		t.reply(ctx, src.ChatID, textCheckoutError, nil)
		return
	}
	t.reply(ctx, src.ChatID, textCheckout, delivery.Keyboard{
		delivery.Row(delivery.Button{Text: textPayButton, URL: url}),
	})
}

// startLink opens the bot with a /start payload.
func (t *TelegramBot) startLink(payload string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", t.username, payload)
}
