package watcher

import (
	"context"
	"fmt"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/models"
	"nutrition-bot/pkg/logger"
)

const (
	NthRequest       = 10
	SignupNoMealsAge = 2 * 24 * time.Hour
)

// InactivityDays are the inactivity marks, largest first.
var InactivityDays = []int{30, 14, 7}

type EngagementStore interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	CountMeals(ctx context.Context, userID int64) (int, error)
	MarkNudge(ctx context.Context, userID int64, kind string) (bool, error)
}

// Engagement sends milestone nudges. Each nudge kind is recorded before it
// is sent and is sent at most once.
type Engagement struct {
	store     EngagementStore
	messenger delivery.Messenger
	logger    *logger.Logger
	interval  time.Duration
}

func NewEngagement(store EngagementStore, m delivery.Messenger, l *logger.Logger, interval time.Duration) *Engagement {
	return &Engagement{store: store, messenger: m, logger: l, interval: interval}
}

func (e *Engagement) Name() string            { return "engagement" }
func (e *Engagement) Interval() time.Duration { return e.interval }

func (e *Engagement) Tick(ctx context.Context, now time.Time) error {
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if !u.Reachable() {
			continue
		}
		if err := e.check(ctx, u, now); err != nil {
			e.logger.Errorw("Engagement check failed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}

func (e *Engagement) check(ctx context.Context, u *models.User, now time.Time) error {
	if u.RequestsUsed >= 1 {
		if err := e.nudge(ctx, u, "first_request", "🎉 Первая запись! Продолжайте отправлять блюда, а итоги смотрите в /stats."); err != nil {
			return err
		}
	}
	if u.RequestsUsed >= NthRequest {
		if err := e.nudge(ctx, u, fmt.Sprintf("request_%d", NthRequest), "💪 Уже 10 записей! Поставьте цель по КБЖУ: /goal"); err != nil {
			return err
		}
	}

	if now.Sub(u.CreatedAt) >= SignupNoMealsAge {
		n, err := e.store.CountMeals(ctx, u.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := e.nudge(ctx, u, "signup_no_meals", "👋 Просто отправьте фото или описание блюда, и я посчитаю калории."); err != nil {
				return err
			}
		}
	}

	// One message per inactivity episode: the largest mark reached is sent,
	// smaller marks are recorded silently.
	episode := u.LastActivity.UTC().Format("20060102")
	sent := false
	for _, days := range InactivityDays {
		if now.Sub(u.LastActivity) < time.Duration(days)*24*time.Hour {
			continue
		}
		fresh, err := e.store.MarkNudge(ctx, u.ID, fmt.Sprintf("inactive_%d_%s", days, episode))
		if err != nil {
			return err
		}
		if fresh && !sent {
			notify(ctx, e.messenger, e.logger, u.ChatID,
				fmt.Sprintf("Мы скучаем! Вы не заходили %d дн. Запишите сегодняшний приём пищи.", days), nil)
			sent = true
		}
	}
	return nil
}

func (e *Engagement) nudge(ctx context.Context, u *models.User, kind, text string) error {
	fresh, err := e.store.MarkNudge(ctx, u.ID, kind)
	if err != nil {
		return err
	}
	if fresh {
		notify(ctx, e.messenger, e.logger, u.ChatID, text, nil)
	}
	return nil
}
