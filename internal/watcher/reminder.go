package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/goal"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/models"
	"nutrition-bot/pkg/logger"
)

const (
	GoalInactivity = 3 * 24 * time.Hour
	FreeGoalTrial  = 7 * 24 * time.Hour
)

type GoalStore interface {
	GetGoal(ctx context.Context, userID int64) (*models.Goal, error)
	ListGoals(ctx context.Context) ([]*models.Goal, error)
	DeleteGoal(ctx context.Context, userID int64) error
	LastMealAt(ctx context.Context, userID int64) (*time.Time, error)
}

type DailyTotals interface {
	DailyTotals(ctx context.Context, u *models.User, date time.Time) (models.Macros, error)
}

// Reminder fires the per-user daily reminders in local time and retires
// goals that are no longer followed.
type Reminder struct {
	users     UserStore
	goals     GoalStore
	totals    DailyTotals
	messenger delivery.Messenger
	logger    *logger.Logger
	interval  time.Duration
}

func NewReminder(users UserStore, goals GoalStore, totals DailyTotals, m delivery.Messenger, l *logger.Logger, interval time.Duration) *Reminder {
	return &Reminder{users: users, goals: goals, totals: totals, messenger: m, logger: l, interval: interval}
}

func (r *Reminder) Name() string            { return "reminder" }
func (r *Reminder) Interval() time.Duration { return r.interval }

func (r *Reminder) Tick(ctx context.Context, now time.Time) error {
	users, err := r.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byID := make(map[int64]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
		if u.TZOffset == nil || !u.Reachable() {
			continue
		}
		local := u.LocalTime(now)
		for _, kind := range models.ReminderKinds {
			if !u.Reminder(kind).Due(local) {
				continue
			}
			if err := r.fire(ctx, u.ID, kind, now); err != nil {
				r.logger.Errorw("Reminder failed", "user_id", u.ID, "kind", kind, "error", err)
			}
		}
	}
	return r.retireGoals(ctx, now, byID)
}

// fire marks the slot inside the row transaction first, so a duplicate tick
// on the same local day finds it already fired.
func (r *Reminder) fire(ctx context.Context, id int64, kind models.ReminderKind, now time.Time) error {
	u, err := r.users.UpdateUser(ctx, id, func(u *models.User) error {
		local := u.LocalTime(now)
		slot := u.Reminder(kind)
		if !slot.Due(local) {
			return errNothingToDo
		}
		slot.MarkFired(local)
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return nil
	}
	if err != nil {
		return err
	}
	notify(ctx, r.messenger, r.logger, u.ChatID, r.text(ctx, u, kind, now), nil)
	return nil
}

func (r *Reminder) text(ctx context.Context, u *models.User, kind models.ReminderKind, now time.Time) string {
	g, err := r.goals.GetGoal(ctx, u.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		r.logger.Warnw("Failed to load goal", "user_id", u.ID, "error", err)
	}

	switch kind {
	case models.ReminderMorning:
		text := "☀️ Доброе утро! Не забудьте записать завтрак."
		if g != nil && g.MorningPlan {
			text += "\n\n" + goal.TargetsText(g.Targets)
		}
		return text
	case models.ReminderDay:
		return "🍲 Время обеда. Отправьте фото или описание блюда."
	}

	text := "🌙 Итоги дня."
	totals, err := r.totals.DailyTotals(ctx, u, now)
	if err != nil {
		r.logger.Warnw("Failed to sum today's meals", "user_id", u.ID, "error", err)
		return text
	}
	text += "\n" + history.MacrosLine(totals)
	if g != nil && g.EveningSummary {
		text += "\n\n" + goal.ProgressText(totals, g.Targets)
	}
	return text
}

// retireGoals deletes goals without a logged meal for GoalInactivity and
// free-tier goals older than FreeGoalTrial.
func (r *Reminder) retireGoals(ctx context.Context, now time.Time, users map[int64]*models.User) error {
	goals, err := r.goals.ListGoals(ctx)
	if err != nil {
		return fmt.Errorf("list goals: %w", err)
	}
	for _, g := range goals {
		u := users[g.UserID]
		last, err := r.goals.LastMealAt(ctx, g.UserID)
		if err != nil {
			r.logger.Errorw("Failed to load last meal", "user_id", g.UserID, "error", err)
			continue
		}
		since := g.CreatedAt
		if last != nil && last.After(since) {
			since = *last
		}

		var text string
		switch {
		case now.Sub(since) >= GoalInactivity:
			text = "🎯 Цель отключена: три дня без записей. Включить снова: /goal"
		case u != nil && u.Grade == models.GradeFree && now.Sub(g.CreatedAt) >= FreeGoalTrial:
			text = "🎯 Пробный период цели закончился. Оформите подписку, чтобы продолжить: /subscribe"
		default:
			continue
		}
		if err := r.goals.DeleteGoal(ctx, g.UserID); err != nil {
			r.logger.Errorw("Failed to delete goal", "user_id", g.UserID, "error", err)
			continue
		}
		r.logger.Infow("Goal retired", "user_id", g.UserID)
		if u != nil && u.Reachable() {
			notify(ctx, r.messenger, r.logger, u.ChatID, text, nil)
		}
	}
	return nil
}
