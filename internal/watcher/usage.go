package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/internal/models"
	"nutrition-bot/pkg/logger"
)

const usageDayKey = "usage_report_day"

type UsageStore interface {
	GetOption(ctx context.Context, key string) (string, error)
	SetOption(ctx context.Context, key, value string) error
	TakeCounter(ctx context.Context, key string) (int64, error)
	CountUsersBetween(ctx context.Context, from, to time.Time) (int, error)
	CountMealsBetween(ctx context.Context, from, to time.Time) (int, error)
}

// Usage reports the previous UTC day's statistics once the date changes
// and resets the token counter.
type Usage struct {
	store     UsageStore
	messenger delivery.Messenger
	logger    *logger.Logger
	chats     []int64
	interval  time.Duration
}

func NewUsage(store UsageStore, m delivery.Messenger, l *logger.Logger, chats []int64, interval time.Duration) *Usage {
	return &Usage{store: store, messenger: m, logger: l, chats: chats, interval: interval}
}

func (u *Usage) Name() string            { return "usage" }
func (u *Usage) Interval() time.Duration { return u.interval }

func (u *Usage) Tick(ctx context.Context, now time.Time) error {
	today := now.UTC().Format("2006-01-02")
	last, err := u.store.GetOption(ctx, usageDayKey)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return u.store.SetOption(ctx, usageDayKey, today)
	case err != nil:
		return fmt.Errorf("read report day: %w", err)
	case last == today:
		return nil
	}

	midnight := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	since := midnight.AddDate(0, 0, -1)

	if err := u.store.SetOption(ctx, usageDayKey, today); err != nil {
		return fmt.Errorf("store report day: %w", err)
	}
	tokens, err := u.store.TakeCounter(ctx, gpt.TokensCounterKey)
	if err != nil {
		return fmt.Errorf("take token counter: %w", err)
	}
	users, err := u.store.CountUsersBetween(ctx, since, midnight)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	meals, err := u.store.CountMealsBetween(ctx, since, midnight)
	if err != nil {
		return fmt.Errorf("count meals: %w", err)
	}

	u.logger.Infow("Daily usage", "day", last, "tokens", tokens, "new_users", users, "meals", meals)
	text := fmt.Sprintf("📊 Статистика за %s\nНовых пользователей: %d\nЗаписей: %d\nТокенов: %d", last, users, meals, tokens)
	for _, chat := range u.chats {
		notify(ctx, u.messenger, u.logger, chat, text, nil)
	}
	return nil
}
