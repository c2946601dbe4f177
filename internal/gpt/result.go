package gpt

import (
	"errors"

	"nutrition-bot/internal/models"
)

// ConfidenceThreshold gates acceptance of a recognition.
const ConfidenceThreshold = 0.7

// Result is the normalized outcome of one analysis. It is one of NotFood,
// Ambiguous, NeedsClarification, Recognized or TransientFailure.
type Result interface {
	Kind() string
}

type NotFood struct {
	Confidence float64
}

type Ambiguous struct {
	Candidates []models.Dish
}

// NeedsClarification carries what was extracted besides the name.
type NeedsClarification struct {
	Partial models.Dish
}

type Recognized struct {
	Dish       models.Dish
	Confidence float64
}

type FailureKind string

const (
	FailureRateLimited FailureKind = "rate_limited"
	FailureMalformed   FailureKind = "malformed_response"
	FailureUpstream    FailureKind = "upstream_error"
)

type TransientFailure struct {
	Failure FailureKind
	Err     error
}

func (NotFood) Kind() string            { return "not_food" }
func (Ambiguous) Kind() string          { return "ambiguous" }
func (NeedsClarification) Kind() string { return "needs_clarification" }
func (Recognized) Kind() string         { return "recognized" }
func (TransientFailure) Kind() string   { return "transient_failure" }

var (
	// ErrRateLimited marks a backend error worth retrying.
	ErrRateLimited = errors.New("rate limited")
	ErrUpstream    = errors.New("upstream error")
)

// Summary is a flat, JSON-friendly view of a Result.
type Summary struct {
	Kind       string        `json:"kind"`
	Dish       *models.Dish  `json:"dish,omitempty"`
	Candidates []models.Dish `json:"candidates,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func Summarize(r Result) Summary {
	s := Summary{Kind: r.Kind()}
	switch v := r.(type) {
	case NotFood:
		s.Confidence = v.Confidence
	case Ambiguous:
		s.Candidates = v.Candidates
	case NeedsClarification:
		d := v.Partial
		s.Dish = &d
	case Recognized:
		d := v.Dish
		s.Dish = &d
		s.Confidence = v.Confidence
	case TransientFailure:
		s.Failure = v.Failure
		if v.Err != nil {
			s.Error = v.Err.Error()
		}
	}
	return s
}
