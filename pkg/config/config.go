package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all externally supplied tunables for the ingestion pipeline.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Postgres DSN, e.g. "host=localhost user=mail dbname=scholarmail sslmode=disable"
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Google OAuth application credentials used for token refresh.
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Pub/Sub intake. The pull subscriber only starts when a project ID is set;
	// the HTTP push endpoint works either way.
	GoogleProjectID   string `env:"GOOGLE_PROJECT_ID"`
	GooglePubSubTopic string `env:"GOOGLE_PUBSUB_TOPIC" envDefault:"gmail-updates"`
	GoogleCredentials string `env:"GOOGLE_CREDENTIALS"`

	// AI classifier.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	// Knowledge base (optional). Classification runs without it.
	ChromaAPIKey   string `env:"CHROMA_API_KEY"`
	ChromaTenant   string `env:"CHROMA_TENANT"`
	ChromaDatabase string `env:"CHROMA_DATABASE"`

	// Operator alerting via FCM (optional).
	FirebaseCredentials string   `env:"FIREBASE_CREDENTIALS"`
	OperatorAlertTokens []string `env:"OPERATOR_ALERT_TOKENS" envSeparator:","`

	// Operator API auth.
	OperatorJWTSecret string `env:"OPERATOR_JWT_SECRET" envDefault:"change-me-in-production"`

	// 64 hex characters (32 bytes) used to seal OAuth tokens at rest.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY,required"`

	// Queue worker tunables.
	QueueBatchSize    int           `env:"QUEUE_BATCH_SIZE" envDefault:"10"`
	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"30s"`
	ItemTimeout       time.Duration `env:"ITEM_TIMEOUT" envDefault:"90s"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"RETRY_BACKOFF" envDefault:"5m"`
	InterItemDelay    time.Duration `env:"INTER_ITEM_DELAY" envDefault:"45s"`

	// Humanized pre-send delay bounds.
	ReplyDelayFloor   time.Duration `env:"REPLY_DELAY_FLOOR" envDefault:"2m"`
	ReplyDelayCeiling time.Duration `env:"REPLY_DELAY_CEILING" envDefault:"20m"`

	// Tokens are refreshed this long before their recorded expiry.
	TokenRefreshSkew time.Duration `env:"TOKEN_REFRESH_SKEW" envDefault:"2m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from the environment, honoring a local .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.TokenEncryptionKey) != 64 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be 64 hex characters, got %d", len(cfg.TokenEncryptionKey))
	}
	if cfg.ReplyDelayFloor > cfg.ReplyDelayCeiling {
		return nil, fmt.Errorf("REPLY_DELAY_FLOOR %s exceeds REPLY_DELAY_CEILING %s", cfg.ReplyDelayFloor, cfg.ReplyDelayCeiling)
	}

	return cfg, nil
}
