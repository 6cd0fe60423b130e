package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Encryption EncryptionConfig
	Webhook    WebhookConfig
	Plaid      PlaidConfig
	Teller     TellerConfig
	Scheduler  SchedulerConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type EncryptionConfig struct {
	Key string
}

// WebhookConfig controls inbound webhook verification.
// VerificationEnabled=false is intended for non-production environments only;
// the verifier logs a warning and passes requests through unauthenticated.
type WebhookConfig struct {
	VerificationEnabled bool
	KeySetURL           string
	TokenHeader         string
	ReplayWindow        time.Duration
	FetchTimeout        time.Duration
}

type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string // sandbox, development, production
}

type TellerConfig struct {
	BaseURL  string
	CertFile string
	KeyFile  string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

// Per-environment webhook key set endpoints, used when WEBHOOK_KEYSET_URL is unset.
var defaultKeySetURLs = map[string]string{
	"sandbox":     "https://sandbox.plaid.com/webhook_verification/keys",
	"development": "https://development.plaid.com/webhook_verification/keys",
	"production":  "https://production.plaid.com/webhook_verification/keys",
}

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}

	replayWindow, err := time.ParseDuration(getEnv("WEBHOOK_REPLAY_WINDOW", "300s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_REPLAY_WINDOW: %w", err)
	}
	fetchTimeout, err := time.ParseDuration(getEnv("WEBHOOK_KEY_FETCH_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_KEY_FETCH_TIMEOUT: %w", err)
	}

	plaidEnv := getEnv("PLAID_ENVIRONMENT", "sandbox")
	if _, ok := defaultKeySetURLs[plaidEnv]; !ok {
		return nil, fmt.Errorf("invalid PLAID_ENVIRONMENT: %q (must be sandbox, development, or production)", plaidEnv)
	}

	var allowedHosts []string
	for _, host := range strings.Split(getEnv("ALLOWED_HOSTS", ""), ",") {
		host = strings.TrimSpace(host)
		if host != "" {
			allowedHosts = append(allowedHosts, host)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "finsync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "finsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Webhook: WebhookConfig{
			VerificationEnabled: getBoolEnv("WEBHOOK_VERIFICATION_ENABLED", true),
			KeySetURL:           getEnv("WEBHOOK_KEYSET_URL", defaultKeySetURLs[plaidEnv]),
			TokenHeader:         getEnv("WEBHOOK_TOKEN_HEADER", "Plaid-Verification"),
			ReplayWindow:        replayWindow,
			FetchTimeout:        fetchTimeout,
		},
		Plaid: PlaidConfig{
			ClientID:    getEnv("PLAID_CLIENT_ID", ""),
			Secret:      getEnv("PLAID_SECRET", ""),
			Environment: plaidEnv,
		},
		Teller: TellerConfig{
			BaseURL:  getEnv("TELLER_BASE_URL", "https://api.teller.io"),
			CertFile: getEnv("TELLER_CERT_FILE", ""),
			KeyFile:  getEnv("TELLER_KEY_FILE", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes: strings.Split(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"), ","),
			WorkerCount:   schedulerWorkers,
			JobDelay:      schedulerJobDelay,
			QueueSize:     schedulerQueueSize,
			RunOnStartup:  getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "finsync-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
	}

	// Validate required fields
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if !cfg.Webhook.VerificationEnabled && plaidEnv == "production" {
		return nil, fmt.Errorf("WEBHOOK_VERIFICATION_ENABLED=false is not allowed in production")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
