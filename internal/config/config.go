package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat server
type Config struct {
	// Common
	Environment string
	LogLevel    string

	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	API      APIConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	ApplySchema     bool
}

// DSN builds the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Database,
		d.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	PresenceKey     string // set of online user IDs
	PresenceChannel string // pub/sub channel for presence events
}

// ServerConfig holds the WebSocket listener and connection settings
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxConnections  int
	MaxMessageSize  int64
	SendQueueSize   int
	DispatchWorkers int
	DispatchTimeout time.Duration
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// AuthConfig holds token and password settings
type AuthConfig struct {
	JWTSecret  string
	JWTExpiry  time.Duration
	BcryptCost int
}

// APIConfig holds REST API configuration
type APIConfig struct {
	RateLimitRPS int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "chatuser"),
			Password:        getEnv("DB_PASSWORD", "chatpassword"),
			Database:        getEnv("DB_NAME", "chat_app"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			QueryTimeout:    getEnvAsDuration("DB_QUERY_TIMEOUT", 5*time.Second),
			ApplySchema:     getEnvAsBool("DB_APPLY_SCHEMA", true),
		},
		Redis: RedisConfig{
			Enabled:         getEnvAsBool("REDIS_ENABLED", true),
			Host:            getEnv("REDIS_HOST", "localhost"),
			Port:            getEnvAsInt("REDIS_PORT", 6379),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			PoolSize:        getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:    getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			PresenceKey:     getEnv("REDIS_PRESENCE_KEY", "chat:online"),
			PresenceChannel: getEnv("REDIS_PRESENCE_CHANNEL", "chat:presence"),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:    getEnvAsDuration("SERVER_PING_INTERVAL", 30*time.Second),
			MaxConnections:  getEnvAsInt("SERVER_MAX_CONNECTIONS", 10000),
			MaxMessageSize:  int64(getEnvAsInt("SERVER_MAX_MESSAGE_SIZE", 64*1024)),
			SendQueueSize:   getEnvAsInt("SERVER_SEND_QUEUE_SIZE", 256),
			DispatchWorkers: getEnvAsInt("SERVER_DISPATCH_WORKERS", 64),
			DispatchTimeout: getEnvAsDuration("SERVER_DISPATCH_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsStringSlice("SERVER_ALLOWED_ORIGINS", []string{}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
			JWTExpiry:  getEnvAsDuration("AUTH_JWT_EXPIRY", 24*time.Hour),
			BcryptCost: getEnvAsInt("AUTH_BCRYPT_COST", 10),
		},
		API: APIConfig{
			RateLimitRPS: getEnvAsInt("API_RATE_LIMIT_RPS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is true")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("SERVER_PORT must be positive")
	}
	if c.Server.SendQueueSize <= 0 {
		return fmt.Errorf("SERVER_SEND_QUEUE_SIZE must be positive")
	}
	if c.Server.DispatchWorkers <= 0 {
		return fmt.Errorf("SERVER_DISPATCH_WORKERS must be positive")
	}
	if c.Environment == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Split by comma and trim spaces
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
