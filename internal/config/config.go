package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"payflow/internal/provider"
)

type Config struct {
	DBUser         string
	DBPass         string
	DBHost         string
	DBPort         string
	DBName         string
	SSLMode        string
	RedisHost      string
	RedisPort      string
	NatsHost       string
	NatsPort       string
	ApiPort        string
	ApiEnabled     string
	GRPCPort       string
	Env            string
	Providers      []string
	TxIsolation    pgx.TxIsoLevel
	IdempotencyTTL time.Duration
	PendingTTL     time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if PAYFLOW_API_ENABLED != "true", ApiAddr() returns an error
// and the HTTP server simply won't start. The gRPC health server is started only
// when PAYFLOW_GRPC_PORT is set.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:         os.Getenv("PAYFLOW_POSTGRES_USER"),
		DBPass:         os.Getenv("PAYFLOW_POSTGRES_PASSWORD"),
		DBHost:         os.Getenv("PAYFLOW_POSTGRES_HOST"),
		DBPort:         getEnv("PAYFLOW_POSTGRES_PORT", "5432"),
		DBName:         os.Getenv("PAYFLOW_POSTGRES_DB"),
		SSLMode:        os.Getenv("PAYFLOW_POSTGRES_SSLMODE"),
		RedisHost:      os.Getenv("PAYFLOW_REDIS_HOST"),
		RedisPort:      os.Getenv("PAYFLOW_REDIS_PORT"),
		NatsHost:       os.Getenv("PAYFLOW_NATS_HOST"),
		NatsPort:       os.Getenv("PAYFLOW_NATS_PORT"),
		ApiPort:        os.Getenv("PAYFLOW_API_PORT"),
		ApiEnabled:     os.Getenv("PAYFLOW_API_ENABLED"),
		GRPCPort:       os.Getenv("PAYFLOW_GRPC_PORT"),
		Env:            getEnv("PAYFLOW_ENV", "development"),
		IdempotencyTTL: getEnvDuration("PAYFLOW_IDEMPOTENCY_TTL", 24*time.Hour),
		PendingTTL:     getEnvDuration("PAYFLOW_IDEMPOTENCY_PENDING_TTL", 15*time.Minute),
		StaleAfter:     getEnvDuration("PAYFLOW_STALE_AFTER", 10*time.Minute),
		SweepInterval:  getEnvDuration("PAYFLOW_SWEEP_INTERVAL", time.Minute),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: PAYFLOW_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: PAYFLOW_REDIS_HOST/PORT")
	}

	// Required: nats
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: PAYFLOW_NATS_HOST/PORT")
	}

	iso, err := parseIsolation(getEnv("PAYFLOW_TX_ISOLATION", "read_committed"))
	if err != nil {
		return nil, err
	}
	cfg.TxIsolation = iso

	providers, err := parseProviders(getEnv("PAYFLOW_PROVIDERS", strings.Join(provider.Keys(), ",")))
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	if cfg.StaleAfter <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("PAYFLOW_STALE_AFTER and PAYFLOW_SWEEP_INTERVAL must be positive")
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

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if PAYFLOW_API_ENABLED != "true"; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("PAYFLOW_API_PORT is required when PAYFLOW_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (PAYFLOW_API_ENABLED != true)")
}

// GRPCAddr returns the gRPC health server listen address, or an error when no port is set.
func (c *Config) GRPCAddr() (string, error) {
	if c.GRPCPort == "" {
		return "", fmt.Errorf("gRPC server is disabled (PAYFLOW_GRPC_PORT is empty)")
	}
	return ":" + c.GRPCPort, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseIsolation(val string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "read_committed", "read committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read", "repeatable read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("invalid PAYFLOW_TX_ISOLATION %q, must be read_committed, repeatable_read or serializable", val)
	}
}

func parseProviders(val string) ([]string, error) {
	var keys []string
	for _, k := range strings.Split(val, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !provider.Known(k) {
			return nil, fmt.Errorf("invalid payment provider %q in PAYFLOW_PROVIDERS, must be one of %v", k, provider.Keys())
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("PAYFLOW_PROVIDERS must enable at least one provider")
	}
	return keys, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
