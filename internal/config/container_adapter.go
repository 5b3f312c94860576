package config

import (
	"github.com/garyjia/expense-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Auth: container.AuthConfig{
			JWTSecret:  c.Auth.JWTSecret,
			TokenTTL:   c.Auth.TokenTTL,
			Issuer:     c.Auth.Issuer,
			BcryptCost: c.Auth.BcryptCost,
		},
		Approval: container.ApprovalConfig{
			MaxDecisionRetries: c.Approval.MaxDecisionRetries,
		},
		Storage: container.StorageConfig{
			BaseDir:         c.Storage.BaseDir,
			MaxReceiptBytes: c.Storage.MaxReceiptBytes,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			Mode:         c.Server.Mode,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}
