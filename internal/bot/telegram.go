package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/models"
	"nutrition-bot/internal/payment"
	"nutrition-bot/pkg/logger"
)

// Store is the persistence the command handlers use directly.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, fn func(*models.User) error) (*models.User, error)
	AllMeals(ctx context.Context, userID int64) ([]models.Meal, error)
	GetGoal(ctx context.Context, userID int64) (*models.Goal, error)
	SaveGoal(ctx context.Context, g *models.Goal) error
	DeleteGoal(ctx context.Context, userID int64) error
	PaymentExists(ctx context.Context, stripeID string) (bool, error)
	CountUsersBetween(ctx context.Context, from, to time.Time) (int, error)
	CountMealsBetween(ctx context.Context, from, to time.Time) (int, error)
	GetOption(ctx context.Context, key string) (string, error)
}

type Messenger interface {
	delivery.Messenger
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Capture is the meal capture flow driven by messages and buttons.
type Capture interface {
	SubmitText(ctx context.Context, src capture.Source, text string) error
	SubmitPhoto(ctx context.Context, src capture.Source, data []byte, ext string) error
	Clarify(ctx context.Context, src capture.Source, hint string) (bool, error)
	Edit(ctx context.Context, src capture.Source, sid string) error
	Choose(ctx context.Context, src capture.Source, sid string, idx int) error
	Save(ctx context.Context, src capture.Source, sid string, half bool) error
	Discard(ctx context.Context, src capture.Source, sid string) error
}

// Photos fetches an uploaded file by its platform id.
type Photos interface {
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

type AdminConfig struct {
	Command  string
	Password string
}

type Deps struct {
	API       *tgbotapi.BotAPI
	Messenger Messenger
	Photos    Photos
	Store     Store
	Ledger    *ledger.Service
	History   *history.Service
	Capture   Capture
	Stripe    *payment.StripeClient
	Alerter   *delivery.Alerter
	Admin     AdminConfig
	Logger    *logger.Logger
}

type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	messenger  Messenger
	photos     Photos
	store      Store
	ledger     *ledger.Service
	history    *history.Service
	capture    Capture
	stripe     *payment.StripeClient
	alerter    *delivery.Alerter
	admin      AdminConfig
	logger     *logger.Logger
	userStates map[int64]*models.UserState
	stateMutex sync.Mutex
	username   string
	wg         sync.WaitGroup
	now        func() time.Time
}

func NewTelegramBot(d Deps) *TelegramBot {
	t := &TelegramBot{
		bot:        d.API,
		messenger:  d.Messenger,
		photos:     d.Photos,
		store:      d.Store,
		ledger:     d.Ledger,
		history:    d.History,
		capture:    d.Capture,
		stripe:     d.Stripe,
		alerter:    d.Alerter,
		admin:      d.Admin,
		logger:     d.Logger,
		userStates: make(map[int64]*models.UserState),
		now:        time.Now,
	}
	if d.API != nil {
		t.username = d.API.Self.UserName
		t.logger.Infow("Authorized on Telegram", "username", t.username)
	}
	return t
}

// WithClock replaces the time source.
func (t *TelegramBot) WithClock(now func() time.Time) *TelegramBot {
	t.now = now
	return t
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	t.logger.Infow("Removing any existing webhook")
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}

	updates := t.bot.GetUpdatesChan(updateConfig)
	t.logger.Infow("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)
	return nil
}

// handleUpdates processes every update on its own goroutine.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		t.wg.Add(1)
		go func(update tgbotapi.Update) {
			defer t.wg.Done()
			t.HandleUpdate(ctx, update)
		}(update)
	}
}

// HandleUpdate dispatches one update. A panic or an unexpected error is
// logged, alerted and answered with a generic reply; the bot keeps running.
func (t *TelegramBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	chatID := updateChat(update)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorw("Recovered from panic while processing update",
				"update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
			t.fail(ctx, chatID, "update handler", fmt.Errorf("panic: %v", r))
		}
	}()

	var err error
	switch {
	case update.MyChatMember != nil:
		err = t.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		err = t.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		err = t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
	if err != nil && !capture.IsUserFacing(err) {
		t.logger.Errorw("Failed to process update", "update_id", update.UpdateID, "chat_id", chatID, "error", err)
		t.fail(ctx, chatID, "update handler", err)
	}
}

func (t *TelegramBot) fail(ctx context.Context, chatID int64, source string, err error) {
	if chatID != 0 {
		t.reply(ctx, chatID, textServerError, nil)
	}
	t.alerter.Alert(ctx, source, err)
}

func updateChat(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}

// handleMessage registers the sender and routes the message by content.
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil || message.Chat == nil {
		return nil
	}
	src := capture.Source{UserID: message.From.ID, ChatID: message.Chat.ID}

	var referrer int64
	if message.IsCommand() && message.Command() == "start" {
		referrer = parseReferrer(message.CommandArguments())
	}
	if _, _, err := t.ledger.Ensure(ctx, src.UserID, src.ChatID, message.From.UserName, referrer); err != nil {
		return err
	}

	t.logger.Infow("Received message", "user_id", src.UserID, "chat_id", src.ChatID)

	switch {
	case message.IsCommand():
		return t.handleCommand(ctx, src, message)
	case len(message.Photo) > 0:
		return t.handlePhoto(ctx, src, message.Photo)
	case message.Text != "":
		return t.handleText(ctx, src, message.Text)
	}
	t.reply(ctx, src.ChatID, textUnsupported, nil)
	return nil
}

// handleText feeds the goal form when it is open, then a pending
// clarification, and otherwise starts a new capture.
func (t *TelegramBot) handleText(ctx context.Context, src capture.Source, text string) error {
	if t.formState(src.UserID) != "" {
		return t.advanceForm(ctx, src, text)
	}
	handled, err := t.capture.Clarify(ctx, src, text)
	if handled {
		return err
	}
	return t.capture.SubmitText(ctx, src, text)
}

func (t *TelegramBot) handlePhoto(ctx context.Context, src capture.Source, sizes []tgbotapi.PhotoSize) error {
	largest := sizes[len(sizes)-1]
	data, ext, err := t.photos.Download(ctx, largest.FileID)
	if err != nil {
		t.logger.Warnw("Failed to download photo", "user_id", src.UserID, "error", err)
		t.reply(ctx, src.ChatID, textPhotoFailed, nil)
		return nil
	}
	return t.capture.SubmitPhoto(ctx, src, data, ext)
}

// handleMembership tracks whether the bot can still reach the user.
func (t *TelegramBot) handleMembership(ctx context.Context, m *tgbotapi.ChatMemberUpdated) error {
	left := m.NewChatMember.HasLeft() || m.NewChatMember.WasKicked()
	_, err := t.store.UpdateUser(ctx, m.From.ID, func(u *models.User) error {
		u.LeftChat = left
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err == nil {
		t.logger.Infow("Chat membership changed", "user_id", m.From.ID, "left_chat", left)
	}
	return err
}

func (t *TelegramBot) reply(ctx context.Context, chatID int64, text string, kb delivery.Keyboard) {
	if _, err := t.messenger.Send(ctx, chatID, text, kb); err != nil {
		t.logger.Warnw("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
