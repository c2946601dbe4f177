// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nutrition-bot/internal/db"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/payment"
)

type Config struct {
	Telegram struct {
		Token string
	}
	DB  db.Config
	GPT struct {
		APIKey string
		Model  string
	}
	Admin struct {
		Command  string
		Password string
	}
	Stripe payment.Config
	Media  struct {
		Dir string
		S3  media.S3Config
	}
	Log struct {
		Dir string
	}
	Server struct {
		Port string
	}
	// CheckingInterval is the watcher period in seconds.
	CheckingInterval  int
	MealRetentionDays int
	ShutdownTimeout   time.Duration

	AlertChatIDs []int64 `mapstructure:"-"`
}

// env maps config keys to the environment variables that override them.
var env = map[string]string{
	"telegram.token":     "TELEGRAM_TOKEN",
	"db.url":             "DATABASE_URL",
	"db.host":            "DB_HOST",
	"db.port":            "DB_PORT",
	"db.user":            "DB_USER",
	"db.password":        "DB_PASSWORD",
	"db.dbname":          "DB_NAME",
	"db.sslmode":         "DB_SSL_MODE",
	"gpt.apikey":         "GPT_API_KEY",
	"gpt.model":          "GPT_MODEL",
	"admin.command":      "ADMIN_COMMAND",
	"admin.password":     "ADMIN_PASSWORD",
	"stripe.secretkey":   "STRIPE_SECRET_KEY",
	"stripe.webhookkey":  "STRIPE_WEBHOOK_KEY",
	"stripe.pricelight":  "STRIPE_PRICE_LIGHT",
	"stripe.pricepro":    "STRIPE_PRICE_PRO",
	"media.dir":          "MEDIA_DIR",
	"media.s3.bucket":    "MEDIA_S3_BUCKET",
	"media.s3.region":    "MEDIA_S3_REGION",
	"media.s3.endpoint":  "MEDIA_S3_ENDPOINT",
	"media.s3.accesskey": "MEDIA_S3_ACCESS_KEY",
	"media.s3.secretkey": "MEDIA_S3_SECRET_KEY",
	"log.dir":            "LOG_DIR",
	"server.port":        "SERVER_PORT",
	"checkinginterval":   "CHECKING_INTERVAL",
	"mealretentiondays":  "MEAL_RETENTION_DAYS",
	"alert.chatids":      "ALERT_CHAT_IDS",
	"shutdowntimeout":    "SHUTDOWN_TIMEOUT",
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.nutrition-bot")

	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4o-mini")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Admin.Command", "admin")
	v.SetDefault("Media.Dir", "media")
	v.SetDefault("CheckingInterval", 60)
	v.SetDefault("MealRetentionDays", 365)
	v.SetDefault("DB.Host", "localhost")
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.User", "postgres")
	v.SetDefault("DB.DBName", "nutrition_bot")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			v.Set(key, os.Getenv(envVar))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	ids, err := parseChatIDs(v.GetString("alert.chatids"))
	if err != nil {
		return nil, err
	}
	cfg.AlertChatIDs = ids

	return &cfg, nil
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid alert chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MaxCheckingInterval keeps every minute covered, since reminders fire on an
// exact HH:MM match.
const MaxCheckingInterval = 60

// Validate reports missing mandatory settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is not configured"))
	}
	if c.GPT.APIKey == "" {
		errs = append(errs, errors.New("GPT API key is not configured"))
	}
	if c.DB.URL == "" && c.DB.Host == "" {
		errs = append(errs, errors.New("database location is not configured"))
	}
	if c.Stripe.SecretKey != "" && !c.Stripe.Enabled() {
		errs = append(errs, errors.New("stripe configuration is incomplete"))
	}
	if c.CheckingInterval <= 0 || c.CheckingInterval > MaxCheckingInterval {
		errs = append(errs, fmt.Errorf("checking interval must be within 1..%d seconds, got %d",
			MaxCheckingInterval, c.CheckingInterval))
	}
	return errors.Join(errs...)
}

func (c *Config) WatcherInterval() time.Duration {
	return time.Duration(c.CheckingInterval) * time.Second
}

func (c *Config) MealRetention() time.Duration {
	return time.Duration(c.MealRetentionDays) * 24 * time.Hour
}
