package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tutorpay/internal/ratelimit"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort    string
	ApiEnabled string

	// AdminIDs is the static allow-list of administrators who receive
	// decision prompts and whose decisions are accepted.
	AdminIDs []int64

	// SubmissionPolicy guards evidence submission; InteractionPolicy guards
	// everything else. Callers always name the policy explicitly.
	SubmissionPolicy  ratelimit.Policy
	InteractionPolicy ratelimit.Policy

	// DedupRetention bounds the fast-path fingerprint cache, not the durable
	// uniqueness constraint.
	DedupRetention time.Duration

	// TokenTTL is how long a settled correlation token survives before the
	// sweeper evicts it; TokenMaxAge caps unsettled tokens.
	TokenTTL    time.Duration
	TokenMaxAge time.Duration
}

// New loads and validates configuration from environment variables.
// Misconfiguration is fatal at startup: a bad policy or an empty admin list
// is returned as an error here and never silently defaulted at runtime.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:     os.Getenv("TUTORPAY_POSTGRES_USER"),
		DBPass:     os.Getenv("TUTORPAY_POSTGRES_PASSWORD"),
		DBHost:     os.Getenv("TUTORPAY_POSTGRES_HOST"),
		DBPort:     os.Getenv("TUTORPAY_POSTGRES_PORT"),
		DBName:     os.Getenv("TUTORPAY_POSTGRES_DB"),
		SSLMode:    os.Getenv("TUTORPAY_POSTGRES_SSLMODE"),
		RedisHost:  os.Getenv("TUTORPAY_REDIS_HOST"),
		RedisPort:  os.Getenv("TUTORPAY_REDIS_PORT"),
		NatsHost:   os.Getenv("TUTORPAY_NATS_HOST"),
		NatsPort:   os.Getenv("TUTORPAY_NATS_PORT"),
		ApiPort:    os.Getenv("TUTORPAY_API_PORT"),
		ApiEnabled: os.Getenv("TUTORPAY_API_ENABLED"),

		SubmissionPolicy: ratelimit.Policy{
			Name:        "submission",
			MaxRequests: getEnvInt("TUTORPAY_SUBMIT_MAX_REQUESTS", 5),
			Window:      time.Duration(getEnvInt("TUTORPAY_SUBMIT_WINDOW_SECONDS", 60)) * time.Second,
			Penalty:     time.Duration(getEnvInt("TUTORPAY_SUBMIT_PENALTY_SECONDS", 30)) * time.Second,
		},
		InteractionPolicy: ratelimit.Policy{
			Name:        "interaction",
			MaxRequests: getEnvInt("TUTORPAY_INTERACT_MAX_REQUESTS", 60),
			Window:      time.Duration(getEnvInt("TUTORPAY_INTERACT_WINDOW_SECONDS", 60)) * time.Second,
		},

		DedupRetention: time.Duration(getEnvInt("TUTORPAY_DEDUP_RETENTION_HOURS", 7*24)) * time.Hour,
		TokenTTL:       time.Duration(getEnvInt("TUTORPAY_TOKEN_TTL_MINUTES", 30)) * time.Minute,
		TokenMaxAge:    time.Duration(getEnvInt("TUTORPAY_TOKEN_MAX_AGE_HOURS", 48)) * time.Hour,
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: TUTORPAY_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: TUTORPAY_REDIS_HOST/PORT")
	}

	// Required: nats
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: TUTORPAY_NATS_HOST/PORT")
	}

	// Required: admin allow-list
	admins, err := parseAdminIDs(os.Getenv("TUTORPAY_ADMIN_IDS"))
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		return nil, fmt.Errorf("missing required env: TUTORPAY_ADMIN_IDS (comma-separated admin ids)")
	}
	cfg.AdminIDs = admins

	for _, p := range []ratelimit.Policy{cfg.SubmissionPolicy, cfg.InteractionPolicy} {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rate limit policy %q: %w", p.Name, err)
		}
	}

	if cfg.DedupRetention <= 0 || cfg.TokenTTL <= 0 || cfg.TokenMaxAge <= 0 {
		return nil, fmt.Errorf("retention windows must be positive")
	}

	// Optional: HTTP API — ApiAddr() will return an error if not enabled.

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
// Returns an error if TUTORPAY_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("TUTORPAY_API_PORT is required when TUTORPAY_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (TUTORPAY_API_ENABLED != true)")
}

func parseAdminIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q in TUTORPAY_ADMIN_IDS", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
