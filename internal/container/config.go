// Package container provides dependency injection and lifecycle management
// for the expense approval service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Auth configuration
	Auth AuthConfig

	// Approval configuration
	Approval ApprovalConfig

	// Storage configuration
	Storage StorageConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	// JWTSecret signs session tokens (HS256)
	JWTSecret string

	// TokenTTL is how long an issued token stays valid
	TokenTTL time.Duration

	// Issuer is written to the iss claim
	Issuer string

	// BcryptCost is the bcrypt work factor
	BcryptCost int
}

// ApprovalConfig holds decision processing settings.
type ApprovalConfig struct {
	// MaxDecisionRetries bounds attempts on expense version conflicts
	MaxDecisionRetries int
}

// StorageConfig holds receipt storage settings.
type StorageConfig struct {
	// BaseDir is the root directory for stored receipts
	BaseDir string

	// MaxReceiptBytes caps a single upload
	MaxReceiptBytes int64
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// Mode is the gin mode: debug, release or test
	Mode string

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/expenses.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			Issuer:     "expense-approval",
			BcryptCost: 10,
		},
		Approval: ApprovalConfig{
			MaxDecisionRetries: 3,
		},
		Storage: StorageConfig{
			BaseDir:         "data/files",
			MaxReceiptBytes: 5 << 20,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Mode:         "release",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Approval.MaxDecisionRetries < 1 {
		return fmt.Errorf("approval.max_decision_retries must be at least 1")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	return nil
}
