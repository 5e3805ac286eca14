package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Provider  Provider  `yaml:"provider"`
	Identity  Identity  `yaml:"identity"`
	Database  Database  `yaml:"database"`
	Sync      Sync      `yaml:"sync"`
	Scheduler Scheduler `yaml:"scheduler"`
	S3        S3        `yaml:"s3"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Provider holds messaging provider API configuration
type Provider struct {
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL" env-default:"https://api.chatbridge.io"`

	// Legacy shared credential pair, used when a child has no credential
	// record of its own. Empty means no fallback.
	FallbackInstanceID string `yaml:"fallback_instance_id" env:"PROVIDER_FALLBACK_INSTANCE_ID"`
	FallbackToken      string `yaml:"fallback_token" env:"PROVIDER_FALLBACK_TOKEN"`
}

// Identity holds identity-verification service configuration
type Identity struct {
	BaseURL  string        `yaml:"base_url" env:"IDENTITY_BASE_URL" env-default:"http://localhost:8000"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"IDENTITY_CACHE_TTL" env-default:"5m"`
}

// Database holds database configuration
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`

	MaxConns     int           `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns     int           `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Sync holds conversation synchronizer tunables. The budget must stay under
// the hosting environment's invocation timeout.
type Sync struct {
	Budget           time.Duration `yaml:"budget" env:"SYNC_BUDGET" env-default:"40s"`
	MaxConversations int           `yaml:"max_conversations" env:"SYNC_MAX_CONVERSATIONS" env-default:"4"`
	HistoryCount     int           `yaml:"history_count" env:"SYNC_HISTORY_COUNT" env-default:"40"`
	MaxMediaLookups  int           `yaml:"max_media_lookups" env:"SYNC_MAX_MEDIA_LOOKUPS" env-default:"5"`
	MaxRetries       int           `yaml:"max_retries" env:"SYNC_MAX_RETRIES" env-default:"4"`
}

// Scheduler holds scheduler configuration
type Scheduler struct {
	Enabled   bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"false"`
	Interval  time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"10m"`
	SyncAge   time.Duration `yaml:"sync_age" env:"SCHEDULER_SYNC_AGE" env-default:"30m"`
	BatchSize int           `yaml:"batch_size" env:"SCHEDULER_BATCH_SIZE" env-default:"5"`
}

// S3 holds S3/MinIO media archive configuration. An empty endpoint disables
// media archiving.
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL"`
}

// Enabled reports whether media archiving is configured.
func (s S3) Enabled() bool {
	return s.Endpoint != ""
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
