package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	OIDC      OIDCConfig
	JWT       JWTConfig
	Collab    CollabConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
	// Insecure enables the claims-only verifier for local runs. Never set
	// in production.
	Insecure bool
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// CollabConfig tunes the document coordination core.
type CollabConfig struct {
	// LockTimeout bounds how long an unrenewed editor lock stays valid.
	LockTimeout time.Duration
	// ReclaimInterval is the period of the expired-lock sweep.
	ReclaimInterval time.Duration
	// HistoryKeepVersions is how many recent revisions keep their payloads
	// inline before the archiver offloads them.
	HistoryKeepVersions int64
	// StorageRetries bounds internal retries of transient storage errors.
	StorageRetries int
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("MONGODB_DATABASE", "docservice")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("LOCK_TIMEOUT_SECONDS", 1800)
	viper.SetDefault("LOCK_RECLAIM_INTERVAL_SECONDS", 300)
	viper.SetDefault("HISTORY_KEEP_VERSIONS", 50)
	viper.SetDefault("STORAGE_RETRIES", 3)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 10.0)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("OIDC_ISSUER"),
			ClientID: viper.GetString("OIDC_CLIENT_ID"),
			Insecure: viper.GetBool("OIDC_INSECURE"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		Collab: CollabConfig{
			LockTimeout:         time.Duration(viper.GetInt("LOCK_TIMEOUT_SECONDS")) * time.Second,
			ReclaimInterval:     time.Duration(viper.GetInt("LOCK_RECLAIM_INTERVAL_SECONDS")) * time.Second,
			HistoryKeepVersions: viper.GetInt64("HISTORY_KEEP_VERSIONS"),
			StorageRetries:      viper.GetInt("STORAGE_RETRIES"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	// Without Mongo the service falls back to the in-memory store, which
	// only makes sense outside production.
	if cfg.MongoDB.URI == "" && cfg.Server.Environment == "production" {
		log.Fatalf("MONGODB_URI is required in production")
	}

	return cfg, nil
}
