// Package capture drives a meal from the user's photo or text to a saved
// meal row.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/models"
	"nutrition-bot/internal/session"
	"nutrition-bot/pkg/logger"
)

// MaxClarifications bounds the re-analysis calls per pending meal.
const MaxClarifications = 3

type Ledger interface {
	Touch(ctx context.Context, id int64) (*models.User, error)
	Consume(ctx context.Context, id int64) (*models.User, ledger.Reason, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, in gpt.Input, hint string) gpt.Result
}

type MealRepository interface {
	CreateMeal(ctx context.Context, m *models.Meal) error
}

// Progress renders the text shown after a meal is saved.
type Progress interface {
	AfterSave(ctx context.Context, userID int64) (string, error)
}

type Deps struct {
	Ledger    Ledger
	Analyzer  Analyzer
	Sessions  session.Store
	Meals     MealRepository
	Messenger delivery.Messenger
	Media     media.Store
	Progress  Progress
	Logger    *logger.Logger
}

type Machine struct {
	ledger    Ledger
	analyzer  Analyzer
	sessions  session.Store
	meals     MealRepository
	messenger delivery.Messenger
	media     media.Store
	progress  Progress
	logger    *logger.Logger
	now       func() time.Time
}

func NewMachine(d Deps) *Machine {
	return &Machine{
		ledger:    d.Ledger,
		analyzer:  d.Analyzer,
		sessions:  d.Sessions,
		meals:     d.Meals,
		messenger: d.Messenger,
		media:     d.Media,
		progress:  d.Progress,
		logger:    d.Logger,
		now:       time.Now,
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Source identifies who sent an input and where to answer.
type Source struct {
	UserID int64
	ChatID int64
}

// SubmitText starts a capture from a text description.
func (m *Machine) SubmitText(ctx context.Context, src Source, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ErrInvalidInput
	}
	if err := m.gate(ctx, src, models.InputText); err != nil {
		return err
	}
	msgID := m.send(ctx, src.ChatID, textAnalyzing, nil)
	res := m.analyzer.Analyze(ctx, gpt.Input{Text: text}, "")
	m.route(ctx, src, msgID, res, &models.PendingMeal{InputKind: models.InputText, RawText: text})
	return nil
}

// SubmitPhoto starts a capture from an image. The image is kept in the media
// store until the pending meal is finalized or evicted.
func (m *Machine) SubmitPhoto(ctx context.Context, src Source, data []byte, ext string) error {
	if err := m.gate(ctx, src, models.InputPhoto); err != nil {
		return err
	}
	msgID := m.send(ctx, src.ChatID, textAnalyzing, nil)

	path, err := m.media.Save(ctx, data, ext)
	if err != nil {
		m.show(ctx, src.ChatID, msgID, textUnavailable, nil)
		return fmt.Errorf("save photo: %w", err)
	}
	res := m.analyzer.Analyze(ctx, gpt.Input{Image: data, ImageMIME: mimeType(ext)}, "")
	m.route(ctx, src, msgID, res, &models.PendingMeal{InputKind: models.InputPhoto, MediaPath: path})
	return nil
}

// gate refreshes the user, checks access to the input kind and consumes one
// request unit. Denials are reported to the user and returned as sentinel
// errors.
func (m *Machine) gate(ctx context.Context, src Source, kind models.InputKind) error {
	u, err := m.ledger.Touch(ctx, src.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.Blocked {
		m.send(ctx, src.ChatID, textBlocked, nil)
		return models.ErrBlocked
	}
	if kind == models.InputPhoto && !ledger.LimitsFor(u.Grade).AllowPhoto {
		m.send(ctx, src.ChatID, textPhotoGated, subscribeKeyboard())
		return models.ErrFeatureGated
	}

	_, reason, err := m.ledger.Consume(ctx, src.UserID)
	if err != nil {
		return err
	}
	switch reason {
	case ledger.ReasonMonthlyLimit:
		m.send(ctx, src.ChatID, textMonthlyLimit, subscribeKeyboard())
		return reason.Err()
	case ledger.ReasonDailyLimit:
		m.send(ctx, src.ChatID, textDailyLimit, nil)
		return reason.Err()
	}
	return nil
}

// route turns the first analysis of an input into a pending meal, or ends
// the capture when there is nothing to confirm.
func (m *Machine) route(ctx context.Context, src Source, msgID int, res gpt.Result, p *models.PendingMeal) {
	p.ID = session.NewID(src.UserID)
	p.UserID = src.UserID
	p.ChatID = src.ChatID
	p.MessageID = msgID
	p.CreatedAt = m.now()

	switch r := res.(type) {
	case gpt.NotFood:
		m.show(ctx, src.ChatID, msgID, textNotFood, nil)
		m.releaseMedia(ctx, p)
		return
	case gpt.TransientFailure:
		m.logger.Warnw("Analysis failed", "user_id", src.UserID, "failure", r.Failure, "error", r.Err)
		m.show(ctx, src.ChatID, msgID, textUnavailable, nil)
		m.releaseMedia(ctx, p)
		return
	case gpt.Ambiguous:
		p.State = models.StateDisambiguating
		p.Candidates = r.Candidates
	case gpt.NeedsClarification:
		p.State = models.StateClarifying
		p.Dish = r.Partial
	case gpt.Recognized:
		p.State = models.StateConfirming
		p.Dish = r.Dish
	default:
		m.logger.Errorw("Unknown analysis result", "kind", res.Kind())
		m.show(ctx, src.ChatID, msgID, textUnavailable, nil)
		m.releaseMedia(ctx, p)
		return
	}

	p.MessageID = m.render(ctx, p)
	m.sessions.Put(p)
	m.logger.Infow("Pending meal created", "user_id", src.UserID, "session_id", p.ID, "state", p.State)
}

// render shows the prompt matching the pending meal's state and returns the
// message id holding it.
func (m *Machine) render(ctx context.Context, p *models.PendingMeal) int {
	switch p.State {
	case models.StateDisambiguating:
		return m.show(ctx, p.ChatID, p.MessageID, textChoose, chooseKeyboard(p.ID, p.Candidates))
	case models.StateClarifying:
		text := textClarify
		if p.Dish.Name != "" {
			text = DishCard(p.Dish) + "\n\n" + textEditPrompt
		}
		return m.show(ctx, p.ChatID, p.MessageID, text, deleteKeyboard(p.ID))
	default:
		return m.show(ctx, p.ChatID, p.MessageID, DishCard(p.Dish), confirmKeyboard(p.ID))
	}
}

// Clarify feeds a text hint to the user's newest clarifying session. It
// reports false when no such session exists, so the text is a new input.
func (m *Machine) Clarify(ctx context.Context, src Source, hint string) (bool, error) {
	p, ok := session.FindByUser(m.sessions, src.UserID, models.StateClarifying)
	if !ok {
		return false, nil
	}
	if !gpt.HasDigits(hint) {
		m.send(ctx, src.ChatID, textNeedDigits, nil)
		return true, models.ErrInvalidInput
	}
	if p.Clarifications >= MaxClarifications {
		m.send(ctx, src.ChatID, textTooManyEdits, nil)
		return true, nil
	}

	in, err := m.originalInput(ctx, p)
	if err != nil {
		m.logger.Warnw("Original input is gone", "session_id", p.ID, "error", err)
		m.sessions.Pop(p.ID)
		m.send(ctx, src.ChatID, textExpired, nil)
		return true, models.ErrSessionNotFound
	}
	if p.Dish.Name != "" {
		prior := p.Dish
		in.Prior = &prior
	}

	p.MessageID = m.show(ctx, p.ChatID, p.MessageID, textAnalyzing, nil)
	res := m.analyzer.Analyze(ctx, in, hint)

	switch r := res.(type) {
	case gpt.Recognized:
		p.Clarifications++
		p.Dish = r.Dish
		p.State = models.StateConfirming
	case gpt.NeedsClarification:
		p.Clarifications++
		p.Dish = r.Partial
	case gpt.Ambiguous:
		p.Clarifications++
		p.Candidates = r.Candidates
		p.State = models.StateDisambiguating
	case gpt.NotFood:
		p.Clarifications++
		m.send(ctx, src.ChatID, textNotFood, nil)
	case gpt.TransientFailure:
		m.logger.Warnw("Clarification analysis failed", "session_id", p.ID, "failure", r.Failure, "error", r.Err)
		m.send(ctx, src.ChatID, textUnavailable, nil)
	}

	// The user may have deleted the session while the analysis ran.
	if !m.sessions.Replace(p) {
		m.logger.Infow("Session finalized during analysis, dropping result", "session_id", p.ID)
		return true, nil
	}
	m.render(ctx, p)
	return true, nil
}

func (m *Machine) originalInput(ctx context.Context, p *models.PendingMeal) (gpt.Input, error) {
	if p.InputKind != models.InputPhoto {
		return gpt.Input{Text: p.RawText}, nil
	}
	data, err := m.media.Load(ctx, p.MediaPath)
	if err != nil {
		return gpt.Input{}, err
	}
	return gpt.Input{Image: data, ImageMIME: mimeType(p.MediaPath)}, nil
}

// Edit switches a confirming session into clarification.
func (m *Machine) Edit(ctx context.Context, src Source, sid string) error {
	p, err := m.lookup(ctx, src, sid)
	if err != nil {
		return err
	}
	if p.Clarifications >= MaxClarifications {
		m.send(ctx, src.ChatID, textTooManyEdits, nil)
		return nil
	}
	p.State = models.StateClarifying
	if !m.sessions.Replace(p) {
		m.send(ctx, src.ChatID, textExpired, nil)
		return models.ErrSessionNotFound
	}
	m.render(ctx, p)
	return nil
}

// Choose picks one of the disambiguation candidates.
func (m *Machine) Choose(ctx context.Context, src Source, sid string, idx int) error {
	p, err := m.lookup(ctx, src, sid)
	if err != nil {
		return err
	}
	if p.State != models.StateDisambiguating || idx < 0 || idx >= len(p.Candidates) {
		return fmt.Errorf("%w: candidate %d of session %s", models.ErrInvalidInput, idx, sid)
	}
	p.Dish = p.Candidates[idx]
	p.Candidates = nil
	p.State = models.StateConfirming
	if !m.sessions.Replace(p) {
		m.send(ctx, src.ChatID, textExpired, nil)
		return models.ErrSessionNotFound
	}
	m.render(ctx, p)
	return nil
}

// Save finalizes a confirming session into a meal row. Pop makes a second
// save of the same session impossible.
func (m *Machine) Save(ctx context.Context, src Source, sid string, half bool) error {
	p, err := m.lookup(ctx, src, sid)
	if err != nil {
		return err
	}
	if p.State != models.StateConfirming {
		return fmt.Errorf("%w: session %s is %s", models.ErrInvalidInput, sid, p.State)
	}
	p, ok := m.sessions.Pop(sid)
	if !ok {
		m.send(ctx, src.ChatID, textExpired, nil)
		return models.ErrSessionNotFound
	}
	// The record may have moved on since it was read.
	if p.State != models.StateConfirming {
		m.sessions.Put(p)
		return fmt.Errorf("%w: session %s is %s", models.ErrInvalidInput, sid, p.State)
	}

	dish := p.Dish
	if half {
		dish = dish.Half()
	}
	meal := models.NewMeal(p.UserID, dish, m.now())
	if err := m.meals.CreateMeal(ctx, meal); err != nil {
		m.sessions.Put(p)
		m.send(ctx, src.ChatID, textSaveFailed, nil)
		return fmt.Errorf("create meal: %w", err)
	}
	m.releaseMedia(ctx, p)
	m.logger.Infow("Meal saved", "user_id", p.UserID, "session_id", p.ID, "meal_id", meal.ID, "half", half)

	text := "✅ Сохранено\n\n" + DishCard(dish)
	if m.progress != nil {
		extra, err := m.progress.AfterSave(ctx, p.UserID)
		if err != nil {
			m.logger.Errorw("Failed to build progress", "user_id", p.UserID, "error", err)
		} else if extra != "" {
			text += "\n\n" + extra
		}
	}
	m.show(ctx, p.ChatID, p.MessageID, text, nil)
	return nil
}

// Discard drops a pending session from any state.
func (m *Machine) Discard(ctx context.Context, src Source, sid string) error {
	if _, err := m.lookup(ctx, src, sid); err != nil {
		return err
	}
	p, ok := m.sessions.Pop(sid)
	if !ok {
		m.send(ctx, src.ChatID, textExpired, nil)
		return models.ErrSessionNotFound
	}
	m.releaseMedia(ctx, p)
	m.show(ctx, p.ChatID, p.MessageID, textDeleted, nil)
	return nil
}

// lookup loads a session owned by the source user. Missing or foreign
// sessions are reported as expired.
func (m *Machine) lookup(ctx context.Context, src Source, sid string) (*models.PendingMeal, error) {
	p, ok := m.sessions.Get(sid)
	if !ok || p.UserID != src.UserID {
		m.send(ctx, src.ChatID, textExpired, nil)
		return nil, models.ErrSessionNotFound
	}
	return p, nil
}

// releaseMedia removes the session's photo unless another live session still
// references it.
func (m *Machine) releaseMedia(ctx context.Context, p *models.PendingMeal) {
	if p.MediaPath == "" || session.Referenced(m.sessions, p.MediaPath, p.ID) {
		return
	}
	if err := m.media.Remove(ctx, p.MediaPath); err != nil {
		m.logger.Warnw("Failed to remove media", "path", p.MediaPath, "error", err)
	}
}

func (m *Machine) send(ctx context.Context, chatID int64, text string, kb delivery.Keyboard) int {
	id, err := m.messenger.Send(ctx, chatID, text, kb)
	if err != nil {
		m.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
	}
	return id
}

// show edits the message when there is one and sends a new message
// otherwise. It returns the id of the message now holding the text.
func (m *Machine) show(ctx context.Context, chatID int64, msgID int, text string, kb delivery.Keyboard) int {
	if msgID != 0 {
		err := m.messenger.Edit(ctx, chatID, msgID, text, kb)
		if err == nil {
			return msgID
		}
		if errors.Is(err, delivery.ErrForbidden) {
			m.logger.Warnw("Chat unreachable", "chat_id", chatID, "error", err)
			return msgID
		}
		m.logger.Warnw("Failed to edit message, sending a new one", "chat_id", chatID, "error", err)
	}
	return m.send(ctx, chatID, text, kb)
}

func mimeType(ext string) string {
	switch {
	case strings.HasSuffix(ext, "png"):
		return "image/png"
	case strings.HasSuffix(ext, "webp"):
		return "image/webp"
	}
	return "image/jpeg"
}

// IsUserFacing reports whether err is an expected outcome already explained
// to the user.
func IsUserFacing(err error) bool {
	for _, target := range []error{
		models.ErrSessionNotFound, models.ErrBlocked, models.ErrFeatureGated,
		models.ErrMonthlyLimit, models.ErrDailyLimit, models.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
