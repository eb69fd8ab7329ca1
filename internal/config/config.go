package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	SSLMode   string
	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	LedgerProvider string
	BusProvider    string

	ApiEnabled string
	ApiPort    string
	GRPCPort   string

	TelegramEnabled string
	BotToken        string
	AdminID         int64
	Workers         int

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration

	DefaultBalance int64
	CostPerRequest int64

	Environment string
}

// New loads and validates configuration from environment variables.
// Missing credentials fail here, at process start, never on the request path.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:          os.Getenv("PROMPTMETER_POSTGRES_USER"),
		DBPass:          os.Getenv("PROMPTMETER_POSTGRES_PASSWORD"),
		DBHost:          os.Getenv("PROMPTMETER_POSTGRES_HOST"),
		DBPort:          getEnv("PROMPTMETER_POSTGRES_PORT", "5432"),
		DBName:          os.Getenv("PROMPTMETER_POSTGRES_DB"),
		SSLMode:         getEnv("PROMPTMETER_POSTGRES_SSLMODE", "disable"),
		RedisHost:       os.Getenv("PROMPTMETER_REDIS_HOST"),
		RedisPort:       getEnv("PROMPTMETER_REDIS_PORT", "6379"),
		NatsHost:        os.Getenv("PROMPTMETER_NATS_HOST"),
		NatsPort:        getEnv("PROMPTMETER_NATS_PORT", "4222"),
		LedgerProvider:  getEnv("PROMPTMETER_LEDGER_PROVIDER", "postgres"),
		BusProvider:     getEnv("PROMPTMETER_BUS_PROVIDER", "none"),
		ApiEnabled:      os.Getenv("PROMPTMETER_API_ENABLED"),
		ApiPort:         os.Getenv("PROMPTMETER_API_PORT"),
		GRPCPort:        os.Getenv("PROMPTMETER_GRPC_PORT"),
		TelegramEnabled: getEnv("PROMPTMETER_TELEGRAM_ENABLED", "true"),
		BotToken:        os.Getenv("PROMPTMETER_BOT_TOKEN"),
		AdminID:         getEnvInt64("PROMPTMETER_ADMIN_ID", 0),
		Workers:         int(getEnvInt64("PROMPTMETER_WORKERS", 32)),
		OpenAIAPIKey:    os.Getenv("PROMPTMETER_OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("PROMPTMETER_OPENAI_BASE_URL"),
		OpenAIModel:     getEnv("PROMPTMETER_OPENAI_MODEL", "gpt-3.5-turbo"),
		SystemPrompt:    os.Getenv("PROMPTMETER_SYSTEM_PROMPT"),
		MaxTokens:       int(getEnvInt64("PROMPTMETER_MAX_TOKENS", 1000)),
		Temperature:     getEnvFloat("PROMPTMETER_TEMPERATURE", 0.7),
		RequestTimeout:  getEnvDuration("PROMPTMETER_REQUEST_TIMEOUT", 30*time.Second),
		DefaultBalance:  getEnvInt64("PROMPTMETER_DEFAULT_BALANCE", 3),
		CostPerRequest:  getEnvInt64("PROMPTMETER_COST_PER_REQUEST", 1),
		Environment:     strings.ToLower(getEnv("PROMPTMETER_ENVIRONMENT", "development")),
	}

	var missing []string

	// Required: AI provider
	if cfg.OpenAIAPIKey == "" {
		missing = append(missing, "PROMPTMETER_OPENAI_API_KEY")
	}

	// Required when the bot runs: token and the admin who receives escalations
	if cfg.TelegramOn() {
		if cfg.BotToken == "" {
			missing = append(missing, "PROMPTMETER_BOT_TOKEN")
		}
		if cfg.AdminID == 0 {
			missing = append(missing, "PROMPTMETER_ADMIN_ID")
		}
	}

	switch cfg.LedgerProvider {
	case "postgres":
	case "redis":
		if cfg.RedisHost == "" {
			missing = append(missing, "PROMPTMETER_REDIS_HOST")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("invalid ledger provider %q, must be 'postgres', 'redis' or 'memory'", cfg.LedgerProvider)
	}

	switch cfg.BusProvider {
	case "nats":
		if cfg.NatsHost == "" {
			missing = append(missing, "PROMPTMETER_NATS_HOST")
		}
	case "none":
	default:
		return nil, fmt.Errorf("invalid bus provider %q, must be 'nats' or 'none'", cfg.BusProvider)
	}

	// Postgres backs the postgres ledger and the journal fed by the bus.
	if cfg.NeedsPostgres() && (cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "") {
		missing = append(missing, "PROMPTMETER_POSTGRES_USER/HOST/DB")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}

	if cfg.DefaultBalance < 0 {
		return nil, fmt.Errorf("PROMPTMETER_DEFAULT_BALANCE must be >= 0, got %d", cfg.DefaultBalance)
	}
	if cfg.CostPerRequest <= 0 {
		return nil, fmt.Errorf("PROMPTMETER_COST_PER_REQUEST must be > 0, got %d", cfg.CostPerRequest)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("PROMPTMETER_WORKERS must be > 0, got %d", cfg.Workers)
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) NeedsPostgres() bool {
	return c.LedgerProvider == "postgres" || c.BusProvider == "nats"
}

func (c *Config) TelegramOn() bool {
	return c.TelegramEnabled == "true"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if PROMPTMETER_API_ENABLED != "true"; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("PROMPTMETER_API_PORT is required when PROMPTMETER_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (PROMPTMETER_API_ENABLED != true)")
}

// GRPCAddr returns the health server listen address, or an error if no port is set.
func (c *Config) GRPCAddr() (string, error) {
	if c.GRPCPort == "" {
		return "", fmt.Errorf("gRPC health server is disabled (PROMPTMETER_GRPC_PORT is empty)")
	}
	return ":" + c.GRPCPort, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, err := time.ParseDuration(os.Getenv(key))
	if err != nil || val <= 0 {
		return defaultVal
	}
	return val
}
