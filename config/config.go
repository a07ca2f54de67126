package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL         string `env:"DATABASE_URL,required,notEmpty"`
	GatewayServiceToken string `env:"GATEWAY_SERVICE_TOKEN,required,notEmpty"`
	Port                int    `env:"PORT" envDefault:"5200"`
	AllowedOrigins      string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	// Background jobs
	SweepInterval             time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	ReconcileInterval         time.Duration `env:"RECONCILE_INTERVAL" envDefault:"2m"`
	ReconcileBatchSize        int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
	NotificationRetryInterval time.Duration `env:"NOTIFICATION_RETRY_INTERVAL" envDefault:"30s"`
	NotificationMaxAttempts   int           `env:"NOTIFICATION_MAX_ATTEMPTS" envDefault:"3"`

	// Rate limiting (admin and member routes; webhooks are never limited)
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	Mpesa          MpesaConfig          `envPrefix:"MPESA_"`
	AfricasTalking AfricasTalkingConfig `envPrefix:"AT_"`
	Archive        ArchiveConfig
}

// MpesaConfig configures Daraja STK push. Deposits are disabled when ConsumerKey is empty.
type MpesaConfig struct {
	Environment    string `env:"ENVIRONMENT" envDefault:"sandbox"`
	ConsumerKey    string `env:"CONSUMER_KEY"`
	ConsumerSecret string `env:"CONSUMER_SECRET"`
	Shortcode      string `env:"SHORTCODE"`
	Passkey        string `env:"PASSKEY"`
	CallbackURL    string `env:"CALLBACK_URL"`
	CallbackToken  string `env:"CALLBACK_TOKEN"`
}

// AfricasTalkingConfig configures outbound SMS. Delivery is disabled when APIKey is empty.
type AfricasTalkingConfig struct {
	APIKey   string `env:"API_KEY"`
	Username string `env:"USERNAME" envDefault:"sandbox"`
	SenderID string `env:"SENDER_ID"`
	BaseURL  string `env:"BASE_URL"`
}

// ArchiveConfig points at the R2 bucket raw webhook payloads are copied to.
type ArchiveConfig struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	BucketName      string `env:"R2_BUCKET_NAME"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RateLimitMax < 1 {
		return nil, fmt.Errorf("parse config: RATE_LIMIT_MAX must be positive, got %d", cfg.RateLimitMax)
	}
	return cfg, nil
}

func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != ""
}

// BaseURL resolves the Daraja host for the configured environment.
func (m MpesaConfig) BaseURL() string {
	if m.Environment == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

func (a AfricasTalkingConfig) Enabled() bool {
	return a.APIKey != ""
}

func (a ArchiveConfig) Enabled() bool {
	return a.AccountID != "" && a.BucketName != ""
}
