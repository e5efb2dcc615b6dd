package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Auth        AuthConfig
	Store       StoreConfig
	Sync        SyncConfig
	Departments DepartmentsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	Timezone              string
}

// PostgresConfig holds ledger connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	CounterTTLHrs int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	BootstrapAdminEmail   string
	BootstrapAdminPass    string
}

// StoreConfig locates the terminal's durable local state.
type StoreConfig struct {
	Path         string
	HistoryLimit int
}

// SyncConfig tunes the ledger synchronization loops.
type SyncConfig struct {
	FeedEnabled             bool
	FeedChannel             string
	ConnectivityIntervalSec int
	DrainIntervalSec        int
	FallbackPollSec         int
	SafetyPollSec           int
	DepartmentPollMillis    int
	CloseRetries            int
	CloseRetryBackoffMillis int
}

// DepartmentsConfig points at an optional department registry file.
type DepartmentsConfig struct {
	File string
}

// Load reads configuration from environment variables, applying defaults
// where possible. envFile, when set, is loaded before the process environment
// is read; a missing default .env is ignored.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "fila-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Timezone:              getEnv("APP_TIMEZONE", "America/Sao_Paulo"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 0)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:          os.Getenv("REDIS_ADDR"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "fila:"),
			CounterTTLHrs: getEnvAsInt("REDIS_COUNTER_TTL_HOURS", 48),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 720),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapAdminEmail:   os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPass:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Store: StoreConfig{
			Path:         getEnv("STORE_PATH", "fila.db"),
			HistoryLimit: getEnvAsInt("STORE_HISTORY_LIMIT", 200),
		},
		Sync: SyncConfig{
			FeedEnabled:             getEnvAsBool("SYNC_FEED_ENABLED", true),
			FeedChannel:             getEnv("SYNC_FEED_CHANNEL", "fila_changes"),
			ConnectivityIntervalSec: getEnvAsInt("SYNC_CONNECTIVITY_INTERVAL_SECONDS", 5),
			DrainIntervalSec:        getEnvAsInt("SYNC_DRAIN_INTERVAL_SECONDS", 15),
			FallbackPollSec:         getEnvAsInt("SYNC_FALLBACK_POLL_SECONDS", 3),
			SafetyPollSec:           getEnvAsInt("SYNC_SAFETY_POLL_SECONDS", 60),
			DepartmentPollMillis:    getEnvAsInt("SYNC_DEPARTMENT_POLL_MILLIS", 2000),
			CloseRetries:            getEnvAsInt("SYNC_CLOSE_RETRIES", 3),
			CloseRetryBackoffMillis: getEnvAsInt("SYNC_CLOSE_RETRY_BACKOFF_MILLIS", 200),
		},
		Departments: DepartmentsConfig{
			File: os.Getenv("DEPARTMENTS_FILE"),
		},
	}

	if _, err := cfg.App.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the timezone calendar days are counted in.
func (a AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// AccessTokenTTL returns the token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// CounterTTL returns how long a shared daily counter outlives its day.
func (r RedisConfig) CounterTTL() time.Duration {
	return time.Duration(r.CounterTTLHrs) * time.Hour
}

func (s SyncConfig) ConnectivityInterval() time.Duration { return seconds(s.ConnectivityIntervalSec) }
func (s SyncConfig) DrainInterval() time.Duration        { return seconds(s.DrainIntervalSec) }
func (s SyncConfig) FallbackPollInterval() time.Duration { return seconds(s.FallbackPollSec) }
func (s SyncConfig) SafetyPollInterval() time.Duration   { return seconds(s.SafetyPollSec) }

func (s SyncConfig) DepartmentPollInterval() time.Duration {
	return time.Duration(s.DepartmentPollMillis) * time.Millisecond
}

func (s SyncConfig) CloseRetryBackoff() time.Duration {
	return time.Duration(s.CloseRetryBackoffMillis) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
