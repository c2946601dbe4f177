package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	"nutrition-bot/internal/bot"
	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/config"
	"nutrition-bot/internal/db"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/payment"
	"nutrition-bot/internal/server"
	"nutrition-bot/internal/session"
	"nutrition-bot/internal/watcher"
	"nutrition-bot/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(cfg.Log.Dir)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = l.Sync() }()
	l.Infow("Starting nutrition bot...")

	if err := cfg.Validate(); err != nil {
		l.Fatalw("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, cfg.DB); err != nil {
		l.Fatalw("Failed to apply migrations", "error", err)
	}

	// Initialize database connection with retry
	var database *db.PostgresDB
	backoff := retry.WithMaxRetries(4, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		database, err = db.NewPostgresDB(cfg.DB)
		if err != nil {
			l.Warnw("Failed to connect to database, retrying...", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		l.Fatalw("Failed to connect to database after multiple attempts", "error", err)
	}
	defer database.Close()

	store, err := newMediaStore(ctx, cfg)
	if err != nil {
		l.Fatalw("Failed to initialize media store", "error", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		l.Fatalw("Failed to create Telegram bot", "error", err)
	}
	messenger := delivery.NewTelegram(api, l)
	alerter := delivery.NewAlerter(messenger, cfg.AlertChatIDs, l)

	gateway := gpt.NewGateway(gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model), l).
		WithCatalog(database).
		WithCounter(database)

	ledgerService := ledger.NewService(database)
	historyService := history.NewService(database)
	sessions := session.NewMemoryStore()

	machine := capture.NewMachine(capture.Deps{
		Ledger:    ledgerService,
		Analyzer:  gateway,
		Sessions:  sessions,
		Meals:     database,
		Messenger: messenger,
		Media:     store,
		Progress:  bot.NewProgress(database, historyService),
		Logger:    l,
	})

	stripeClient := payment.NewStripeClient(cfg.Stripe)
	if !stripeClient.Enabled() {
		l.Warnw("Stripe is not configured, subscriptions are disabled")
	}

	telegramBot := bot.NewTelegramBot(bot.Deps{
		API:       api,
		Messenger: messenger,
		Photos:    bot.NewFileDownloader(api, &http.Client{Timeout: 30 * time.Second}),
		Store:     database,
		Ledger:    ledgerService,
		History:   historyService,
		Capture:   machine,
		Stripe:    stripeClient,
		Alerter:   alerter,
		Admin:     bot.AdminConfig{Command: cfg.Admin.Command, Password: cfg.Admin.Password},
		Logger:    l,
	})

	l.Infow("Starting Telegram bot...")
	if err := telegramBot.Start(ctx); err != nil {
		l.Fatalw("Failed to start Telegram bot", "error", err)
	}

	interval := cfg.WatcherInterval()
	runner := watcher.NewRunner(l, alerter)
	watchers := []watcher.Watcher{
		watcher.NewCleanup(sessions, store, database, messenger, l, interval).WithRetention(cfg.MealRetention()),
		watcher.NewSubscription(database, messenger, l, interval),
		watcher.NewReminder(database, database, historyService, messenger, l, interval),
		watcher.NewEngagement(database, messenger, l, interval),
		watcher.NewUsage(database, messenger, l, cfg.AlertChatIDs, interval),
	}
	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w watcher.Watcher) {
			defer wg.Done()
			runner.Run(ctx, w)
		}(w)
	}

	// Start webhook server
	var webhook http.HandlerFunc
	if stripeClient.Enabled() {
		webhook = telegramBot.HandleStripeWebhook
	}
	httpServer := server.NewServer(cfg.Server.Port, webhook, l)
	go func() {
		l.Infow("Starting HTTP server...", "port", cfg.Server.Port)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Errorw("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Infow("Shutting down bot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	// Then stop bot
	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during bot shutdown", "error", err)
	}
	wg.Wait()

	l.Infow("Bot stopped successfully")
}

// newMediaStore keeps photos in S3 when a bucket is configured and on the
// local disk otherwise.
func newMediaStore(ctx context.Context, cfg *config.Config) (media.Store, error) {
	if cfg.Media.S3.Bucket != "" {
		s, err := media.NewS3Store(ctx, cfg.Media.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		return s, nil
	}
	s, err := media.NewDiskStore(cfg.Media.Dir)
	if err != nil {
		return nil, fmt.Errorf("disk store: %w", err)
	}
	return s, nil
}
