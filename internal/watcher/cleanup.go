package watcher

import (
	"context"
	"fmt"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/session"
	"nutrition-bot/pkg/logger"
)

const (
	StalenessWindow    = time.Hour
	DefaultRetention   = 365 * 24 * time.Hour
	textSessionExpired = "⌛ Время на подтверждение истекло, запись не сохранена."
	textUnsaved        = "📝 У вас есть несохранённая запись. Сохраните её, пока она не устарела."
)

type MealPurger interface {
	DeleteMealsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup evicts stale pending meals, releases their media, nudges about
// unsaved meals and purges meals past retention.
type Cleanup struct {
	sessions  session.Store
	media     media.Store
	meals     MealPurger
	messenger delivery.Messenger
	logger    *logger.Logger
	interval  time.Duration
	window    time.Duration
	retention time.Duration
}

func NewCleanup(s session.Store, ms media.Store, meals MealPurger, m delivery.Messenger, l *logger.Logger, interval time.Duration) *Cleanup {
	return &Cleanup{
		sessions:  s,
		media:     ms,
		meals:     meals,
		messenger: m,
		logger:    l,
		interval:  interval,
		window:    StalenessWindow,
		retention: DefaultRetention,
	}
}

func (c *Cleanup) WithWindow(window time.Duration) *Cleanup {
	c.window = window
	return c
}

func (c *Cleanup) WithRetention(retention time.Duration) *Cleanup {
	c.retention = retention
	return c
}

func (c *Cleanup) Name() string            { return "cleanup" }
func (c *Cleanup) Interval() time.Duration { return c.interval }

func (c *Cleanup) Tick(ctx context.Context, now time.Time) error {
	evicted, orphaned := session.Sweep(c.sessions, now, c.window)
	for _, p := range evicted {
		if p.MessageID != 0 {
			if err := c.messenger.Edit(ctx, p.ChatID, p.MessageID, textSessionExpired, nil); err != nil {
				c.logger.Warnw("Failed to mark expired session", "session_id", p.ID, "error", err)
			}
		}
	}
	for _, path := range orphaned {
		c.remove(ctx, path)
	}
	if len(evicted) > 0 {
		c.logger.Infow("Evicted stale sessions", "count", len(evicted), "media", len(orphaned))
	}

	for _, p := range c.sessions.Scan() {
		if p.Reminded || now.Sub(p.CreatedAt) < c.window/2 {
			continue
		}
		p.Reminded = true
		if c.sessions.Replace(p) {
			notify(ctx, c.messenger, c.logger, p.ChatID, textUnsaved, nil)
		}
	}

	paths, err := c.media.Orphans(ctx, now.Add(-c.window))
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	for _, path := range paths {
		if !session.Referenced(c.sessions, path, "") {
			c.remove(ctx, path)
		}
	}

	if c.retention > 0 {
		n, err := c.meals.DeleteMealsBefore(ctx, now.Add(-c.retention))
		if err != nil {
			return fmt.Errorf("purge meals: %w", err)
		}
		if n > 0 {
			c.logger.Infow("Purged old meals", "count", n)
		}
	}
	return nil
}

func (c *Cleanup) remove(ctx context.Context, path string) {
	if err := c.media.Remove(ctx, path); err != nil {
		c.logger.Warnw("Failed to remove media", "path", path, "error", err)
	}
}
