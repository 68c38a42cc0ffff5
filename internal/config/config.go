package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port            string
	PublicURL       string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type SupabaseConfig struct {
	URL           string
	ServiceKey    string
	JWTSecret     string
	StorageBucket string
}

type LemonSqueezyConfig struct {
	APIKey        string
	APIURL        string
	StoreID       string
	VariantID     string
	WebhookSecret string
	CheckoutTTL   time.Duration
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type AdminConfig struct {
	PasswordHash  string
	SessionSecret string
	SessionTTL    time.Duration
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type WorkerConfig struct {
	Concurrency int
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

type SweeperConfig struct {
	Spec           string
	StuckPaidAfter time.Duration
	BatchSize      int
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Supabase     SupabaseConfig
	LemonSqueezy LemonSqueezyConfig
	Email        EmailConfig
	Admin        AdminConfig
	RabbitMQ     RabbitMQConfig
	Worker       WorkerConfig
	Sweeper      SweeperConfig
	RateLimit    RateLimitConfig
}

// NewConfig reads .env (when present) and the process environment.
func NewConfig() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	return FromEnv(os.Getenv)
}

// LoadDotEnv loads .env into the environment; a missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := &reader{getenv: getenv}

	cfg := &Config{}

	cfg.App.Port = r.str("APP_PORT", "8080")
	cfg.App.PublicURL = strings.TrimRight(r.str("APP_PUBLIC_URL", "http://localhost:8080"), "/")
	cfg.App.ShutdownTimeout = r.duration("APP_SHUTDOWN_TIMEOUT", 15*time.Second)
	cfg.App.LogLevel = r.str("LOG_LEVEL", "info")
	cfg.App.LogFormat = r.str("LOG_FORMAT", "json")

	cfg.Postgres = r.postgres()

	cfg.Supabase.URL = strings.TrimRight(r.required("SUPABASE_URL"), "/")
	cfg.Supabase.ServiceKey = r.required("SUPABASE_SERVICE_KEY")
	cfg.Supabase.JWTSecret = r.required("SUPABASE_JWT_SECRET")
	cfg.Supabase.StorageBucket = r.str("SUPABASE_STORAGE_BUCKET", "products")

	cfg.LemonSqueezy.APIKey = r.required("LEMONSQUEEZY_API_KEY")
	cfg.LemonSqueezy.APIURL = strings.TrimRight(r.str("LEMONSQUEEZY_API_URL", "https://api.lemonsqueezy.com"), "/")
	cfg.LemonSqueezy.StoreID = r.required("LEMONSQUEEZY_STORE_ID")
	cfg.LemonSqueezy.VariantID = r.required("LEMONSQUEEZY_VARIANT_ID")
	cfg.LemonSqueezy.WebhookSecret = r.required("LEMONSQUEEZY_WEBHOOK_SECRET")
	cfg.LemonSqueezy.CheckoutTTL = r.duration("LEMONSQUEEZY_CHECKOUT_TTL", 24*time.Hour)

	cfg.Email.ResendAPIKey = r.required("RESEND_API_KEY")
	cfg.Email.From = r.str("EMAIL_FROM", "Storefront <orders@example.com>")

	cfg.Admin.PasswordHash = r.required("ADMIN_PASSWORD_HASH")
	cfg.Admin.SessionSecret = r.required("ADMIN_SESSION_SECRET")
	cfg.Admin.SessionTTL = r.duration("ADMIN_SESSION_TTL", 12*time.Hour)

	cfg.RabbitMQ.URL = r.str("RABBITMQ_URL", "")
	cfg.RabbitMQ.Exchange = r.str("RABBITMQ_EXCHANGE", "order_exchange")

	cfg.Worker.Concurrency = r.integer("WORKER_CONCURRENCY", 4)
	cfg.Worker.QueueSize = r.integer("WORKER_QUEUE_SIZE", 256)
	cfg.Worker.MaxAttempts = r.integer("WORKER_MAX_ATTEMPTS", 5)
	cfg.Worker.BaseBackoff = r.duration("WORKER_BASE_BACKOFF", 2*time.Second)

	cfg.Sweeper.Spec = r.str("SWEEPER_SPEC", "@every 5m")
	cfg.Sweeper.StuckPaidAfter = r.duration("SWEEPER_STUCK_PAID_AFTER", 30*time.Minute)
	cfg.Sweeper.BatchSize = r.integer("SWEEPER_BATCH_SIZE", 100)

	cfg.RateLimit.RequestsPerSecond = r.integer("RATE_LIMIT_RPS", 10)
	cfg.RateLimit.Burst = r.integer("RATE_LIMIT_BURST", 20)

	if err := r.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresFromEnv reads only the database settings; used by the migrate command.
func PostgresFromEnv(getenv func(string) string) (PostgresConfig, error) {
	r := &reader{getenv: getenv}
	pg := r.postgres()
	if err := r.err(); err != nil {
		return PostgresConfig{}, err
	}
	return pg, nil
}

type reader struct {
	getenv  func(string) string
	missing []string
	invalid []string
}

func (r *reader) postgres() PostgresConfig {
	return PostgresConfig{
		Host:            r.required("DB_HOST"),
		Port:            r.str("DB_PORT", "5432"),
		User:            r.required("DB_USER"),
		Password:        r.required("DB_PASSWORD"),
		DBName:          r.required("DB_NAME"),
		SSLMode:         r.str("DB_SSLMODE", "disable"),
		MaxConns:        int32(r.integer("DB_MAX_CONNS", 10)),
		MinConns:        int32(r.integer("DB_MIN_CONNS", 2)),
		MaxConnLifetime: r.duration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		MigrationsPath:  r.str("DB_MIGRATIONS_PATH", "migrations"),
	}
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.missing = append(r.missing, key)
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.invalid = append(r.invalid, key)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.invalid = append(r.invalid, key)
		return def
	}
	return d
}

func (r *reader) err() error {
	var parts []string
	if len(r.missing) > 0 {
		parts = append(parts, "missing required variables: "+strings.Join(r.missing, ", "))
	}
	if len(r.invalid) > 0 {
		parts = append(parts, "invalid values for: "+strings.Join(r.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
