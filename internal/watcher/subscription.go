package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/models"
	"nutrition-bot/pkg/logger"
)

type UserStore interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, id int64, fn func(*models.User) error) (*models.User, error)
}

var errNothingToDo = errors.New("nothing to do")

// Thresholds are the days-remaining marks that trigger a notice, largest
// first.
var Thresholds = []int{7, 3, 1, 0}

func expiryFlag(f *models.ExpiryFlags, days int) *bool {
	switch days {
	case 7:
		return &f.Days7
	case 3:
		return &f.Days3
	case 1:
		return &f.Days1
	case 0:
		return &f.Days0
	}
	return nil
}

// DueThreshold returns the smallest threshold reached by days whose notice
// was not sent yet.
func DueThreshold(f models.ExpiryFlags, days int) (int, bool) {
	if days < 0 {
		return 0, false
	}
	for i := len(Thresholds) - 1; i >= 0; i-- {
		t := Thresholds[i]
		if days <= t {
			if !*expiryFlag(&f, t) {
				return t, true
			}
			return 0, false
		}
	}
	return 0, false
}

// Subscription sends one notice per days-remaining threshold. Flags for the
// reached threshold and every larger one are set together, so a user who
// skipped ahead gets only the most urgent notice.
type Subscription struct {
	users     UserStore
	messenger delivery.Messenger
	logger    *logger.Logger
	interval  time.Duration
}

func NewSubscription(users UserStore, m delivery.Messenger, l *logger.Logger, interval time.Duration) *Subscription {
	return &Subscription{users: users, messenger: m, logger: l, interval: interval}
}

func (s *Subscription) Name() string            { return "subscription" }
func (s *Subscription) Interval() time.Duration { return s.interval }

func (s *Subscription) Tick(ctx context.Context, now time.Time) error {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if (u.Grade == models.GradeFree && u.Expiry.Lapsed == "") || !u.Reachable() {
			continue
		}
		if err := s.check(ctx, u.ID, now); err != nil {
			s.logger.Errorw("Subscription check failed", "user_id", u.ID, "error", err)
		}
	}
	return nil
}

func (s *Subscription) check(ctx context.Context, id int64, now time.Time) error {
	var (
		threshold int
		grade     models.Grade
	)
	u, err := s.users.UpdateUser(ctx, id, func(u *models.User) error {
		if u.Grade == models.GradeFree {
			// The period ended through another path before the final notice.
			if u.Expiry.Lapsed == "" {
				return errNothingToDo
			}
			threshold, grade = 0, u.Expiry.Lapsed
			u.Expiry = models.ExpiryFlags{Days7: true, Days3: true, Days1: true, Days0: true}
			return nil
		}
		t, ok := DueThreshold(u.Expiry, ledger.DaysLeft(u, now))
		if !ok {
			return errNothingToDo
		}
		threshold, grade = t, u.Grade
		for _, th := range Thresholds {
			if th >= t {
				*expiryFlag(&u.Expiry, th) = true
			}
		}
		ledger.Refresh(u, now)
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return nil
	}
	if err != nil {
		return err
	}
	notify(ctx, s.messenger, s.logger, u.ChatID, expiryText(grade, threshold), subscribeKeyboard())
	s.logger.Infow("Expiry notice sent", "user_id", id, "days", threshold)
	return nil
}

func expiryText(g models.Grade, days int) string {
	what, ended := "Подписка", "закончилась"
	if g.IsTrial() {
		what, ended = "Пробный период", "закончился"
	}
	switch days {
	case 0:
		return fmt.Sprintf("⏰ %s %s. Вы переведены на бесплатный тариф.", what, ended)
	case 1:
		return fmt.Sprintf("⏰ %s заканчивается завтра.", what)
	}
	return fmt.Sprintf("⏰ %s заканчивается через %d дн.", what, days)
}

func subscribeKeyboard() delivery.Keyboard {
	return delivery.Keyboard{delivery.Row(delivery.Button{Text: "💳 Продлить", Data: capture.SubscribeData})}
}
