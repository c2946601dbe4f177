package bot

import (
	"context"
	"errors"

	"nutrition-bot/internal/goal"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/models"
)

type progressStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetGoal(ctx context.Context, userID int64) (*models.Goal, error)
}

// Progress renders the day so far after a meal is saved: the goal deltas
// when a goal is active, otherwise the plain totals.
type Progress struct {
	store   progressStore
	history *history.Service
}

func NewProgress(store progressStore, h *history.Service) *Progress {
	return &Progress{store: store, history: h}
}

func (p *Progress) AfterSave(ctx context.Context, userID int64) (string, error) {
	u, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	totals, err := p.history.Today(ctx, u)
	if err != nil {
		return "", err
	}

	g, err := p.store.GetGoal(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "Сегодня: " + history.MacrosLine(totals), nil
	case err != nil:
		return "", err
	}
	return goal.ProgressText(totals, g.Targets), nil
}
