package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IntegrityThreshold is the correlation percentage the compliance gate
// requires between the customer and internal streams.
const IntegrityThreshold = 99.7

// Server captures process-level configuration.
type Server struct {
	Addr string

	DatabaseURL      string
	DBMaxOpenConns   int
	DBCommandTimeout time.Duration

	Redis             RedisConfig
	IntegrityCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	// AdminJWTKey signs/validates admin bearer tokens for the internal
	// stream. AdminKeyHash optionally accepts a static operator key
	// (bcrypt hash, never the plaintext).
	AdminJWTKey  string
	AdminKeyHash string
}

// RedisConfig captures Redis connection settings. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CHRONICLE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtKey := os.Getenv("ADMIN_JWT_KEY")
	if jwtKey == "" {
		// Development default - must be overridden in production.
		jwtKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "chronicle.audit.v1"
	}

	return Server{
		Addr:             addr,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:   envInt("DB_MAX_OPEN_CONNS", 20),
		DBCommandTimeout: envDuration("DB_COMMAND_TIMEOUT", 5*time.Second),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		IntegrityCacheTTL: envDuration("INTEGRITY_CACHE_TTL", 30*time.Second),
		KafkaBrokers:      brokers,
		KafkaTopic:        topic,
		AdminJWTKey:       jwtKey,
		AdminKeyHash:      os.Getenv("ADMIN_KEY_HASH"),
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
