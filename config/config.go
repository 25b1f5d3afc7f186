// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mongoward/mongoward/mongodb"
)

// Config holds all configuration for the application.
type Config struct {
	Mongo     MongoConfig
	Bootstrap BootstrapConfig
	Server    ServerConfig
	Log       LogConfig
}

// MongoConfig holds connection and retry configuration.
type MongoConfig struct {
	Host             string
	Port             int
	MaxPoolSize      uint64
	WaitQueueTimeout time.Duration
	ConnectTimeout   time.Duration
	AuthSource       string
	AuthMechanism    string
	Username         string
	Password         string

	WriteRetry      int
	WriteRetryDelay time.Duration
	ReadRetry       int
	ReadRetryDelay  time.Duration
	RetryCodes      []int32
}

// Params converts the connection part into driver parameters.
func (c MongoConfig) Params() mongodb.Params {
	return mongodb.Params{
		Host:             c.Host,
		Port:             c.Port,
		MaxPoolSize:      c.MaxPoolSize,
		WaitQueueTimeout: c.WaitQueueTimeout,
		ConnectTimeout:   c.ConnectTimeout,
		AuthSource:       c.AuthSource,
		AuthMechanism:    c.AuthMechanism,
		Username:         c.Username,
		Password:         c.Password,
	}
}

// BootstrapConfig holds schema bootstrap configuration.
type BootstrapConfig struct {
	Database string
	WaitStep time.Duration
	MaxWait  time.Duration
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host    string
	Port    int
	GinMode string
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	retryCodes, err := getEnvAsCodes("MONGO_RETRY_CODES", mongodb.DefaultRetryCodes)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Mongo: MongoConfig{
			Host:             getEnv("MONGO_HOST", "localhost"),
			Port:             getEnvAsInt("MONGO_PORT", 27017),
			MaxPoolSize:      uint64(getEnvAsInt("MONGO_MAX_POOL_SIZE", 1)),
			WaitQueueTimeout: time.Duration(getEnvAsInt("MONGO_QUEUE_TIMEOUT_MS", 400)) * time.Millisecond,
			ConnectTimeout:   time.Duration(getEnvAsInt("MONGO_CONNECT_TIMEOUT_MS", 15000)) * time.Millisecond,
			AuthSource:       getEnv("MONGO_AUTH_SOURCE", ""),
			AuthMechanism:    getEnv("MONGO_AUTH_MECHANISM", ""),
			Username:         getEnv("MONGO_USER", ""),
			Password:         getEnv("MONGO_PASSWORD", ""),
			WriteRetry:       getEnvAsInt("MONGO_WRITE_RETRY", 3),
			WriteRetryDelay:  time.Duration(getEnvAsInt("MONGO_WRITE_RETRY_DELAY_MS", 1300)) * time.Millisecond,
			ReadRetry:        getEnvAsInt("MONGO_READ_RETRY", 2),
			ReadRetryDelay:   time.Duration(getEnvAsInt("MONGO_READ_RETRY_DELAY_MS", 701)) * time.Millisecond,
			RetryCodes:       retryCodes,
		},
		Bootstrap: BootstrapConfig{
			Database: getEnv("BOOTSTRAP_DATABASE", "mongoward"),
			WaitStep: time.Duration(getEnvAsInt("BOOTSTRAP_WAIT_STEP_SECONDS", 7)) * time.Second,
			MaxWait:  time.Duration(getEnvAsInt("BOOTSTRAP_MAX_WAIT_SECONDS", 55)) * time.Second,
		},
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvAsInt("SERVER_PORT", 8080),
			GinMode: getEnv("GIN_MODE", "release"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsCodes parses a comma-separated list of server error codes.
func getEnvAsCodes(key string, defaultValue []int32) ([]int32, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	codes := make([]int32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		codes = append(codes, int32(code))
	}
	return codes, nil
}
