// internal/models/user.go
package models

import (
	"time"
)

type Grade string

const (
	GradeFree       Grade = "free"
	GradeTrialLight Grade = "trial-light"
	GradeTrialPro   Grade = "trial-pro"
	GradePaidLight  Grade = "paid-light"
	GradePaidPro    Grade = "paid-pro"
)

func (g Grade) IsPaid() bool {
	return g == GradePaidLight || g == GradePaidPro
}

func (g Grade) IsTrial() bool {
	return g == GradeTrialLight || g == GradeTrialPro
}

func (g Grade) Valid() bool {
	switch g {
	case GradeFree, GradeTrialLight, GradeTrialPro, GradePaidLight, GradePaidPro:
		return true
	}
	return false
}

type User struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	Username  string `json:"username"`
	Grade     Grade  `json:"grade"`
	Blocked   bool   `json:"blocked"`
	LeftChat  bool   `json:"left_chat"`
	TrialUsed bool   `json:"trial_used"`

	RequestsUsed     int       `json:"requests_used"`
	RequestLimit     int       `json:"request_limit"`
	DailyUsed        int       `json:"daily_used"`
	DailyWindowStart time.Time `json:"daily_window_start"`

	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   *time.Time  `json:"period_end"`
	TrialStart  *time.Time  `json:"trial_start"`
	TrialEnd    *time.Time  `json:"trial_end"`
	Expiry      ExpiryFlags `json:"expiry"`

	// TZOffset is minutes east of UTC; nil until the user sets it.
	TZOffset *int     `json:"tz_offset"`
	Morning  Reminder `json:"morning"`
	Day      Reminder `json:"day"`
	Evening  Reminder `json:"evening"`

	ReferrerID   *int64    `json:"referrer_id"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExpiryFlags records which days-remaining notices were already sent for
// the current billing period. Lapsed holds the grade of a period that ended
// before its final notice went out.
type ExpiryFlags struct {
	Days7  bool  `json:"days7"`
	Days3  bool  `json:"days3"`
	Days1  bool  `json:"days1"`
	Days0  bool  `json:"days0"`
	Lapsed Grade `json:"lapsed,omitempty"`
}

type ReminderKind string

const (
	ReminderMorning ReminderKind = "morning"
	ReminderDay     ReminderKind = "day"
	ReminderEvening ReminderKind = "evening"
)

var ReminderKinds = []ReminderKind{ReminderMorning, ReminderDay, ReminderEvening}

// Reminder is one daily reminder slot. At is local "HH:MM"; LastFired holds
// the local calendar date of the last delivery.
type Reminder struct {
	Enabled   bool       `json:"enabled"`
	At        string     `json:"at"`
	LastFired *time.Time `json:"last_fired"`
}

// Due reports whether the slot should fire at the given local time.
func (r Reminder) Due(local time.Time) bool {
	if !r.Enabled || r.At == "" {
		return false
	}
	if local.Format("15:04") != r.At {
		return false
	}
	return r.LastFired == nil || !SameDate(*r.LastFired, local)
}

func (r *Reminder) MarkFired(local time.Time) {
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	r.LastFired = &d
}

// Reminder returns the slot for the given kind.
func (u *User) Reminder(kind ReminderKind) *Reminder {
	switch kind {
	case ReminderMorning:
		return &u.Morning
	case ReminderDay:
		return &u.Day
	case ReminderEvening:
		return &u.Evening
	}
	return nil
}

// Location returns a fixed zone for the stored offset, UTC when unset.
func (u *User) Location() *time.Location {
	if u.TZOffset == nil {
		return time.UTC
	}
	return time.FixedZone("", *u.TZOffset*60)
}

// LocalTime converts t into the user's local time.
func (u *User) LocalTime(t time.Time) time.Time {
	return t.In(u.Location())
}

// Reachable reports whether notifications may be sent to the user.
func (u *User) Reachable() bool {
	return !u.Blocked && !u.LeftChat
}

func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type Payment struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Grade     Grade     `json:"grade"`
	Months    int       `json:"months"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	StripeID  string    `json:"stripe_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserState is the transient form state of the goal setup conversation.
type UserState struct {
	TelegramID   int64      `json:"telegram_id"`
	CurrentState string     `json:"current_state"`
	Draft        Biometrics `json:"draft"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
