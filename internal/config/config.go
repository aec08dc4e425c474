// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Clients  ClientsConfig
	NATSUrl  string
}

// ServiceConfig identifies the service in logs.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the Postgres connection settings. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// ClientsConfig holds base URLs and the shared timeout for the external
// collaborator services.
type ClientsConfig struct {
	OrgDirectoryURL   string
	VendorMasterURL   string
	AccountsURL       string
	PaymentChannelURL string
	RequestTimeout    time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-ap-workflow"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8086),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 2)),
		},
		Clients: ClientsConfig{
			OrgDirectoryURL:   getEnv("ORG_DIRECTORY_URL", ""),
			VendorMasterURL:   getEnv("VENDOR_MASTER_URL", ""),
			AccountsURL:       getEnv("ACCOUNTS_URL", ""),
			PaymentChannelURL: getEnv("PAYMENT_CHANNEL_URL", ""),
			RequestTimeout:    getEnvDuration("CLIENT_REQUEST_TIMEOUT", 10*time.Second),
		},
		NATSUrl: os.Getenv("NATS_URL"),
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", cfg.Server.Port)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
