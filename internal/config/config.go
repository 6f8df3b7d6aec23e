package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

type Config struct {
	Port      string
	Broker    string
	RedisURL  string
	NatsURL   string
	JWTSecret string
	JWTIssuer string
	LogLevel  string
	SendQueue int
}

// Client holds the defaults for the live viewer CLI.
type Client struct {
	LiveURL   string
	UserID    string
	Token     string
	Heartbeat time.Duration
	LogLevel  string
}

// LoadEnvFile loads a .env file when present. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		Broker:    strings.ToLower(getEnv("BROKER", BrokerLocal)),
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
		NatsURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		SendQueue: getEnvInt("SEND_QUEUE", 256),
	}
}

func LoadClient() *Client {
	return &Client{
		LiveURL:   getEnv("LIVE_URL", ""),
		UserID:    getEnv("LIVE_USER_ID", ""),
		Token:     getEnv("LIVE_TOKEN", ""),
		Heartbeat: time.Duration(getEnvInt("LIVE_HEARTBEAT_SECONDS", 10)) * time.Second,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
