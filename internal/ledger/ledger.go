// Package ledger holds the quota and subscription rules: per-grade limits,
// rolling windows, trial and paid periods. The functions in this file are
// pure transitions over *models.User; Service persists them.
package ledger

import (
	"time"

	"nutrition-bot/internal/models"
)

const (
	Day             = 24 * time.Hour
	FreeWindow      = 30 * Day
	DailyWindow     = Day
	DaysPerMonth    = 30
	TrialDays       = 3
	ReferralBonus   = 7
	FreeRequestsCap = 20
)

type Limits struct {
	Monthly    int
	Daily      int // 0 means no separate daily cap
	AllowPhoto bool
}

var gradeLimits = map[models.Grade]Limits{
	models.GradeFree:       {Monthly: FreeRequestsCap},
	models.GradeTrialLight: {Monthly: 40, AllowPhoto: true},
	models.GradeTrialPro:   {Monthly: 80, AllowPhoto: true},
	models.GradePaidLight:  {Monthly: 300, Daily: 30, AllowPhoto: true},
	models.GradePaidPro:    {Monthly: 1000, Daily: 100, AllowPhoto: true},
}

// LimitsFor returns the limits of a grade, falling back to free.
func LimitsFor(g models.Grade) Limits {
	if l, ok := gradeLimits[g]; ok {
		return l
	}
	return gradeLimits[models.GradeFree]
}

type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonMonthlyLimit Reason = "monthly_limit"
	ReasonDailyLimit   Reason = "daily_limit"
)

// Err maps a denial reason onto its sentinel error.
func (r Reason) Err() error {
	switch r {
	case ReasonMonthlyLimit:
		return models.ErrMonthlyLimit
	case ReasonDailyLimit:
		return models.ErrDailyLimit
	}
	return nil
}

// Init prepares a freshly created user.
func Init(u *models.User, now time.Time) {
	u.Grade = models.GradeFree
	u.RequestLimit = LimitsFor(models.GradeFree).Monthly
	u.RequestsUsed = 0
	u.PeriodStart = now
	u.DailyWindowStart = now
	u.LastActivity = now
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
}

// Refresh applies elapsed-time transitions. It must run before any quota
// check.
func Refresh(u *models.User, now time.Time) {
	switch {
	case u.Grade.IsPaid() && u.PeriodEnd != nil && !now.Before(*u.PeriodEnd):
		downgrade(u, now)
	case u.Grade.IsTrial() && trialEnd(u) != nil && !now.Before(*trialEnd(u)):
		downgrade(u, now)
	case u.Grade == models.GradeFree && !now.Before(u.PeriodStart.Add(FreeWindow)):
		u.RequestsUsed = 0
		u.PeriodStart = now
	}

	if u.RequestLimit == 0 {
		u.RequestLimit = LimitsFor(u.Grade).Monthly
	}
	if !now.Before(u.DailyWindowStart.Add(DailyWindow)) {
		u.DailyUsed = 0
		u.DailyWindowStart = now
	}
}

func trialEnd(u *models.User) *time.Time {
	if u.TrialEnd != nil {
		return u.TrialEnd
	}
	return u.PeriodEnd
}

func downgrade(u *models.User, now time.Time) {
	if !u.Expiry.Days0 {
		u.Expiry.Lapsed = u.Grade
	}
	u.Grade = models.GradeFree
	u.RequestLimit = LimitsFor(models.GradeFree).Monthly
	u.RequestsUsed = 0
	u.DailyUsed = 0
	u.DailyWindowStart = now
	u.PeriodStart = now
	u.PeriodEnd = nil
	u.TrialEnd = nil
}

// HasQuota reports whether one more request fits the monthly counter.
func HasQuota(u *models.User, now time.Time) bool {
	Refresh(u, now)
	return u.RequestsUsed < u.RequestLimit
}

// Consume takes one request unit. Paid grades are additionally held to a
// daily cap even when monthly quota remains.
func Consume(u *models.User, now time.Time) (bool, Reason) {
	Refresh(u, now)
	if u.RequestsUsed >= u.RequestLimit {
		return false, ReasonMonthlyLimit
	}
	if l := LimitsFor(u.Grade); u.Grade.IsPaid() && l.Daily > 0 && u.DailyUsed >= l.Daily {
		return false, ReasonDailyLimit
	}
	u.RequestsUsed++
	u.DailyUsed++
	return true, ReasonOK
}

// GrantDays extends an unexpired period of the same kind or starts a new one.
func GrantDays(u *models.User, days int, grade models.Grade, now time.Time) {
	Refresh(u, now)
	span := time.Duration(days) * Day

	if u.Grade != models.GradeFree && u.PeriodEnd != nil && now.Before(*u.PeriodEnd) {
		end := u.PeriodEnd.Add(span)
		u.PeriodEnd = &end
		if rank(grade) > rank(u.Grade) {
			u.Grade = grade
			u.RequestLimit = LimitsFor(grade).Monthly
		}
		syncTrialEnd(u)
		return
	}

	end := now.Add(span)
	u.Grade = grade
	u.PeriodStart = now
	u.PeriodEnd = &end
	u.RequestsUsed = 0
	u.DailyUsed = 0
	u.DailyWindowStart = now
	u.RequestLimit = LimitsFor(grade).Monthly
	u.Expiry = models.ExpiryFlags{}
	syncTrialEnd(u)
}

// syncTrialEnd keeps the trial end on the period end while a trial grade
// runs and clears it otherwise.
func syncTrialEnd(u *models.User) {
	if !u.Grade.IsTrial() || u.PeriodEnd == nil {
		u.TrialEnd = nil
		return
	}
	end := *u.PeriodEnd
	u.TrialEnd = &end
}

// StartTrial begins the one-time trial. It reports false when the trial was
// already used or a paid period is running.
func StartTrial(u *models.User, grade models.Grade, now time.Time) bool {
	Refresh(u, now)
	if u.TrialUsed || u.Grade.IsPaid() || !grade.IsTrial() {
		return false
	}
	GrantDays(u, TrialDays, grade, now)
	start := now
	u.TrialStart = &start
	u.TrialUsed = true
	return true
}

// RecordPayment applies a successful payment of the given number of months.
func RecordPayment(u *models.User, months int, grade models.Grade, now time.Time) {
	Refresh(u, now)
	span := time.Duration(DaysPerMonth*months) * Day

	base := now
	if u.Grade.IsPaid() && u.PeriodEnd != nil && now.Before(*u.PeriodEnd) {
		base = *u.PeriodEnd
	} else {
		u.PeriodStart = now
	}
	end := base.Add(span)
	u.PeriodEnd = &end
	u.Grade = grade
	u.RequestLimit = LimitsFor(grade).Monthly
	u.RequestsUsed = 0
	u.DailyUsed = 0
	u.DailyWindowStart = now
	u.Expiry = models.ExpiryFlags{}
	u.TrialUsed = true
	u.TrialEnd = nil
}

// DaysLeft returns whole days remaining in the current period, rounded up,
// or -1 when there is no bounded period.
func DaysLeft(u *models.User, now time.Time) int {
	if u.PeriodEnd == nil || u.Grade == models.GradeFree {
		return -1
	}
	left := u.PeriodEnd.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + Day - 1) / Day)
}

func rank(g models.Grade) int {
	switch g {
	case models.GradeTrialLight:
		return 1
	case models.GradeTrialPro:
		return 2
	case models.GradePaidLight:
		return 3
	case models.GradePaidPro:
		return 4
	}
	return 0
}
