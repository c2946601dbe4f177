package gpt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"nutrition-bot/internal/models"
	"nutrition-bot/pkg/logger"
)

const TokensCounterKey = "tokens_today"

// Catalog is the reference product database.
type Catalog interface {
	SearchProducts(ctx context.Context, name string, limit int) ([]models.Dish, error)
}

// Counter accumulates token usage.
type Counter interface {
	AddCounter(ctx context.Context, key string, delta int64) (int64, error)
}

// Input is either an image or a text description. Prior carries the last
// recognition when the user clarifies it.
type Input struct {
	Image     []byte
	ImageMIME string
	Text      string
	Prior     *models.Dish
}

type Gateway struct {
	backend  Backend
	catalog  Catalog
	counter  Counter
	logger   *logger.Logger
	attempts uint64
	base     time.Duration
	maxDelay time.Duration
}

func NewGateway(backend Backend, l *logger.Logger) *Gateway {
	return &Gateway{
		backend:  backend,
		logger:   l,
		attempts: 3,
		base:     time.Second,
		maxDelay: 8 * time.Second,
	}
}

func (g *Gateway) WithCatalog(c Catalog) *Gateway {
	g.catalog = c
	return g
}

func (g *Gateway) WithCounter(c Counter) *Gateway {
	g.counter = c
	return g
}

// WithBackoff overrides the rate-limit retry policy.
func (g *Gateway) WithBackoff(attempts uint64, base, maxDelay time.Duration) *Gateway {
	g.attempts, g.base, g.maxDelay = attempts, base, maxDelay
	return g
}

// Analyze calls the backend and normalizes its answer. Only rate limiting is
// retried; malformed and upstream failures surface at once.
func (g *Gateway) Analyze(ctx context.Context, in Input, hint string) Result {
	req := BuildRequest(in, hint)

	backoff := retry.NewExponential(g.base)
	backoff = retry.WithCappedDuration(g.maxDelay, backoff)
	if g.attempts > 0 {
		backoff = retry.WithMaxRetries(g.attempts-1, backoff)
	}

	var comp Completion
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := g.backend.Complete(ctx, req)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				g.logger.Warnw("Analysis backend rate limited, retrying", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		comp = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return TransientFailure{Failure: FailureRateLimited, Err: err}
		}
		return TransientFailure{Failure: FailureUpstream, Err: err}
	}

	g.recordUsage(ctx, comp.Tokens)

	res := Normalize(comp.Content)
	if rec, ok := res.(Recognized); ok && hint == "" && in.Prior == nil {
		if amb, ok := g.disambiguate(ctx, rec); ok {
			return amb
		}
	}
	return res
}

func (g *Gateway) disambiguate(ctx context.Context, rec Recognized) (Ambiguous, bool) {
	if g.catalog == nil {
		return Ambiguous{}, false
	}
	matches, err := g.catalog.SearchProducts(ctx, rec.Dish.Name, 5)
	if err != nil {
		g.logger.Errorw("Product catalog lookup failed", "error", err, "name", rec.Dish.Name)
		return Ambiguous{}, false
	}
	if len(matches) < 2 {
		return Ambiguous{}, false
	}
	return Ambiguous{Candidates: matches}, true
}

func (g *Gateway) recordUsage(ctx context.Context, tokens int) {
	if g.counter == nil || tokens <= 0 {
		return
	}
	if _, err := g.counter.AddCounter(ctx, TokensCounterKey, int64(tokens)); err != nil {
		g.logger.Errorw("Failed to record token usage", "error", err)
	}
}

const systemPrompt = `You are a nutritionist. Identify the food or drink and estimate its nutrition.
Answer with a single JSON object and nothing else:
{"is_food": bool, "confidence": 0..1, "type": "meal"|"drink", "name": string,
 "ingredients": [string], "serving": grams, "calories": kcal, "protein": g, "fat": g, "carbs": g}
Set "name" to "" when you can tell it is food but cannot name it.`

// BuildRequest assembles the backend request for an input and optional
// clarification hint.
func BuildRequest(in Input, hint string) Request {
	var b strings.Builder
	if len(in.Image) > 0 {
		b.WriteString("Analyze the dish in the photo.")
	} else {
		fmt.Fprintf(&b, "Analyze this meal description: %q.", in.Text)
	}
	if in.Prior != nil {
		fmt.Fprintf(&b, "\nPrevious estimate: %s, %.0f g, %.0f kcal, protein %.1f g, fat %.1f g, carbs %.1f g.",
			in.Prior.Name, in.Prior.Serving, in.Prior.Calories, in.Prior.Protein, in.Prior.Fat, in.Prior.Carbs)
	}
	if hint != "" {
		fmt.Fprintf(&b, "\nThe user clarifies: %q. Recalculate using this.", hint)
	}
	return Request{
		System:    systemPrompt,
		Prompt:    b.String(),
		Image:     in.Image,
		ImageMIME: in.ImageMIME,
	}
}
