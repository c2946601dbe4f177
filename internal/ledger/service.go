package ledger

import (
	"context"
	"fmt"
	"time"

	"nutrition-bot/internal/models"
)

// Repository is the storage the ledger needs. UpdateUser must load the row
// under a lock, run fn, and commit the result in one transaction; an error
// from fn discards every change.
type Repository interface {
	EnsureUser(ctx context.Context, id, chatID int64, username string, init func(*models.User)) (*models.User, bool, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, fn func(*models.User) error) (*models.User, error)
	RecordPayment(ctx context.Context, p *models.Payment, fn func(*models.User) error) (*models.User, error)
	CountPayments(ctx context.Context, userID int64) (int, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ensure looks the user up, creating it on first contact. The referrer is
// only recorded at creation; zero or self references are ignored. The
// boolean is true for a newly created user.
func (s *Service) Ensure(ctx context.Context, id, chatID int64, username string, referrer int64) (*models.User, bool, error) {
	now := s.now()
	u, created, err := s.repo.EnsureUser(ctx, id, chatID, username, func(u *models.User) {
		Init(u, now)
		if referrer != 0 && referrer != id {
			ref := referrer
			u.ReferrerID = &ref
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure user %d: %w", id, err)
	}
	return u, created, nil
}

// Touch records activity and persists any elapsed-time transition.
func (s *Service) Touch(ctx context.Context, id int64) (*models.User, error) {
	now := s.now()
	return s.repo.UpdateUser(ctx, id, func(u *models.User) error {
		Refresh(u, now)
		u.LastActivity = now
		return nil
	})
}

// Consume takes one request unit in a single transaction. A denial leaves
// the row untouched and is reported through the returned reason.
func (s *Service) Consume(ctx context.Context, id int64) (*models.User, Reason, error) {
	now := s.now()
	reason := ReasonOK
	u, err := s.repo.UpdateUser(ctx, id, func(u *models.User) error {
		var ok bool
		ok, reason = Consume(u, now)
		if !ok {
			return reason.Err()
		}
		u.LastActivity = now
		return nil
	})
	if reason != ReasonOK {
		cur, gerr := s.repo.GetUser(ctx, id)
		if gerr != nil {
			return nil, reason, gerr
		}
		return cur, reason, nil
	}
	if err != nil {
		return nil, reason, fmt.Errorf("consume quota for %d: %w", id, err)
	}
	return u, reason, nil
}

func (s *Service) GrantDays(ctx context.Context, id int64, days int, grade models.Grade) (*models.User, error) {
	if days <= 0 || !grade.Valid() || grade == models.GradeFree {
		return nil, fmt.Errorf("grant %d days of %q: %w", days, grade, models.ErrInvalidInput)
	}
	now := s.now()
	return s.repo.UpdateUser(ctx, id, func(u *models.User) error {
		GrantDays(u, days, grade, now)
		return nil
	})
}

// StartTrial begins the one-time trial; ok is false when not eligible.
func (s *Service) StartTrial(ctx context.Context, id int64, grade models.Grade) (*models.User, bool, error) {
	now := s.now()
	started := false
	u, err := s.repo.UpdateUser(ctx, id, func(u *models.User) error {
		started = StartTrial(u, grade, now)
		return nil
	})
	return u, started, err
}

// RecordPaymentSuccess applies the payment and appends the payment row in
// the same transaction. The referrer, if any, is rewarded on the first
// payment only.
func (s *Service) RecordPaymentSuccess(ctx context.Context, p *models.Payment) (*models.User, error) {
	if p.Months <= 0 || !p.Grade.IsPaid() {
		return nil, fmt.Errorf("payment of %d months of %q: %w", p.Months, p.Grade, models.ErrInvalidInput)
	}
	prior, err := s.repo.CountPayments(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}

	now := s.now()
	p.CreatedAt = now
	u, err := s.repo.RecordPayment(ctx, p, func(u *models.User) error {
		RecordPayment(u, p.Months, p.Grade, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record payment for %d: %w", p.UserID, err)
	}

	if prior == 0 && u.ReferrerID != nil {
		if _, err := s.GrantDays(ctx, *u.ReferrerID, ReferralBonus, models.GradePaidLight); err != nil {
			return u, fmt.Errorf("referral reward for %d: %w", *u.ReferrerID, err)
		}
	}
	return u, nil
}

// SetBlocked toggles the blocked flag.
func (s *Service) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	_, err := s.repo.UpdateUser(ctx, id, func(u *models.User) error {
		u.Blocked = blocked
		return nil
	})
	return err
}
