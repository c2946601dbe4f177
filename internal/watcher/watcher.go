// Package watcher runs the periodic background tasks.
package watcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/pkg/logger"
)

// Watcher is one periodic task. Tick evaluates the task at the given time.
type Watcher interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context, now time.Time) error
}

type Alerter interface {
	Alert(ctx context.Context, source string, err error)
}

// Runner drives watchers on their intervals.
type Runner struct {
	logger  *logger.Logger
	alerter Alerter
	now     func() time.Time
}

func NewRunner(l *logger.Logger, a Alerter) *Runner {
	return &Runner{logger: l, alerter: a, now: time.Now}
}

// Run ticks w until ctx is done. A failing or panicking iteration is logged
// and alerted; the loop goes on with the next tick.
func (r *Runner) Run(ctx context.Context, w Watcher) {
	r.logger.Infow("Watcher started", "watcher", w.Name(), "interval", w.Interval())
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	for {
		r.RunOnce(ctx, w, r.now())
		select {
		case <-ctx.Done():
			r.logger.Infow("Watcher stopped", "watcher", w.Name())
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single iteration behind recover.
func (r *Runner) RunOnce(ctx context.Context, w Watcher, now time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			r.logger.Errorw("Watcher panicked", "watcher", w.Name(), "panic", rec, "stack", string(debug.Stack()))
		}
		if err != nil {
			r.alerter.Alert(ctx, "watcher "+w.Name(), err)
		}
	}()
	return w.Tick(ctx, now)
}

// notify sends a message and logs a failure; delivery problems never stop a
// watcher iteration.
func notify(ctx context.Context, m delivery.Messenger, l *logger.Logger, chatID int64, text string, kb delivery.Keyboard) bool {
	if _, err := m.Send(ctx, chatID, text, kb); err != nil {
		l.Warnw("Failed to deliver notification", "chat_id", chatID, "error", err)
		return false
	}
	return true
}
