package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"vipgate/internal/settings"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	JWTSecret   string

	TelegramBotToken string
	BotUsername      string
	AdminChatID      string
	AdminIDs         []string
	DashboardURL     string

	StripeSecretKey     string
	StripeWebhookSecret string

	TonWalletAddress string
	ToncenterAPIKey  string
	TonAPIBaseURL    string
	ToncenterBaseURL string
	TonProxyAddr     string

	SweepInterval time.Duration

	MetricsUser     string
	MetricsPassword string
	CORSOrigins     []string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	interval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		BotUsername:         strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@"),
		AdminChatID:         os.Getenv("ADMIN_CHAT_ID"),
		AdminIDs:            splitList(os.Getenv("ADMIN_IDS")),
		DashboardURL:        getEnv("DASHBOARD_URL", os.Getenv("BASE_URL")),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		// DIRECCION_TON: старое имя переменной
		TonWalletAddress: getEnv("TON_WALLET_ADDRESS", os.Getenv("DIRECCION_TON")),
		ToncenterAPIKey:  os.Getenv("TONCENTER_API_KEY"),
		TonAPIBaseURL:    os.Getenv("TONAPI_BASE_URL"),
		ToncenterBaseURL: os.Getenv("TONCENTER_BASE_URL"),
		TonProxyAddr:     os.Getenv("TON_PROXY_ADDR"),
		SweepInterval:    interval,
		MetricsUser:      os.Getenv("METRICS_USER"),
		MetricsPassword:  os.Getenv("METRICS_PASSWORD"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.SweepInterval < time.Second {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be at least 1s"))
	}
	if (c.MetricsUser == "") != (c.MetricsPassword == "") {
		errs = append(errs, errors.New("METRICS_USER and METRICS_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// PaymentSettings: значения из окружения; используются, если в базе ничего не задано.
func (c *Config) PaymentSettings() settings.PaymentSettings {
	return settings.PaymentSettings{
		StripeSecretKey:     c.StripeSecretKey,
		StripeWebhookSecret: c.StripeWebhookSecret,
		TonWalletAddress:    c.TonWalletAddress,
		ToncenterAPIKey:     c.ToncenterAPIKey,
	}
}

// CheckoutReturnURL: куда Stripe вернёт пользователя после оплаты.
func (c *Config) CheckoutReturnURL() string {
	if c.BotUsername == "" {
		return "https://t.me"
	}
	return "https://t.me/" + c.BotUsername
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
