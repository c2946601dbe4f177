package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	"nutrition-bot/pkg/logger"
)

// API is the subset of *tgbotapi.BotAPI used for delivery.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram sends messages with bounded exponential backoff. Rate limits and
// transport errors are retried; bad requests are not.
type Telegram struct {
	api      API
	logger   *logger.Logger
	attempts uint64
	base     time.Duration
	maxDelay time.Duration
}

func NewTelegram(api API, l *logger.Logger) *Telegram {
	return &Telegram{
		api:      api,
		logger:   l,
		attempts: 4,
		base:     500 * time.Millisecond,
		maxDelay: 10 * time.Second,
	}
}

// WithBackoff overrides the retry policy.
func (t *Telegram) WithBackoff(attempts uint64, base, maxDelay time.Duration) *Telegram {
	t.attempts, t.base, t.maxDelay = attempts, base, maxDelay
	return t
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = markup(kb)
	}
	var sent tgbotapi.Message
	err := t.do(ctx, "send", chatID, func() error {
		m, err := t.api.Send(msg)
		sent = m
		return err
	})
	return sent.MessageID, err
}

func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if kb != nil {
		m := markup(kb)
		edit.ReplyMarkup = &m
	}
	err := t.do(ctx, "edit", chatID, func() error {
		_, err := t.api.Request(edit)
		return err
	})
	if isNotModified(err) {
		return nil
	}
	return err
}

func (t *Telegram) Delete(ctx context.Context, chatID int64, messageID int) error {
	return t.do(ctx, "delete", chatID, func() error {
		_, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return err
	})
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	return t.do(ctx, "document", chatID, func() error {
		_, err := t.api.Send(doc)
		return err
	})
}

// AnswerCallback acknowledges a button press.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.do(ctx, "callback", 0, func() error {
		_, err := t.api.Request(tgbotapi.NewCallback(callbackID, text))
		return err
	})
}

func (t *Telegram) do(ctx context.Context, op string, chatID int64, fn func() error) error {
	backoff := retry.NewExponential(t.base)
	backoff = retry.WithCappedDuration(t.maxDelay, backoff)
	if t.attempts > 0 {
		backoff = retry.WithMaxRetries(t.attempts-1, backoff)
	}

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		retryable, wait := classify(err)
		if !retryable {
			return err
		}
		t.logger.Warnw("Telegram request failed, retrying",
			"op", op, "chat_id", chatID, "attempt", attempt, "error", err)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	}
	if !isNotModified(err) {
		t.logger.Errorw("Telegram request failed", "op", op, "chat_id", chatID, "attempts", attempt, "error", err)
	}
	return fmt.Errorf("telegram %s: %w", op, err)
}

// classify reports whether err is worth retrying and how long Telegram asked
// to wait.
func classify(err error) (bool, time.Duration) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return true, 0
	}
	switch {
	case apiErr.Code == 429:
		return true, time.Duration(apiErr.RetryAfter) * time.Second
	case apiErr.Code >= 500:
		return true, 0
	}
	return false, 0
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 400 &&
		strings.Contains(apiErr.Message, "message is not modified")
}

func markup(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
