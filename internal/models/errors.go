package models

import "errors"

var (
	// storage
	ErrNotFound = errors.New("not found")

	// capture
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidInput    = errors.New("invalid input")

	// quota and access
	ErrBlocked      = errors.New("user is blocked")
	ErrFeatureGated = errors.New("feature not available for grade")
	ErrMonthlyLimit = errors.New("monthly limit reached")
	ErrDailyLimit   = errors.New("daily limit reached")
)
