package container

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/infrastructure/export"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/storage"
	"github.com/garyjia/expense-approval/pkg/auth"
	"github.com/garyjia/expense-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// AuthBundle holds token and password components.
type AuthBundle struct {
	Tokens *auth.TokenManager
	Hasher *auth.BcryptHasher
}

// ServiceDeps holds dependencies required to create services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Storage    port.FileStorage
	Exporter   port.ExpenseExporter
	Auth       *AuthBundle
	Dispatcher dispatcher.Dispatcher
	Approval   *ApprovalConfig
	StorageCfg *StorageConfig
	Logger     *zap.Logger
}

// ProvideDatabase opens the database and applies the embedded migrations.
// Returns DatabaseBundle containing sql.DB and TransactionManager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Company:  repository.NewCompanyRepository(sqlDB, logger),
		User:     repository.NewUserRepository(sqlDB, logger),
		Workflow: repository.NewWorkflowRepository(sqlDB, logger),
		Expense:  repository.NewExpenseRepository(sqlDB, logger),
		History:  repository.NewHistoryRepository(sqlDB, logger),
	}, nil
}

// ProvideAuth creates the token manager and password hasher.
func ProvideAuth(cfg *AuthConfig) (*AuthBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &AuthBundle{
		Tokens: auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL, cfg.Issuer),
		Hasher: auth.NewBcryptHasher(cfg.BcryptCost),
	}, nil
}

// ProvideStorage creates the receipt file storage rooted at cfg.BaseDir.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (port.FileStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return storage.NewLocalFileStorage(cfg.BaseDir, logger), nil
}

// ProvideExporter creates the spreadsheet exporter.
func ProvideExporter(logger *zap.Logger) port.ExpenseExporter {
	return export.NewExcelExporter(logger)
}

// ProvideDispatcher creates the event dispatcher and registers the
// audit-log and stats subscribers on every event type.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, *service.EventStats, error) {
	if logger == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	)
	stats := service.NewEventStats()

	disp.SubscribeNamed(dispatcher.AnyType, "audit-log", service.AuditLogHandler(&zapLoggerAdapter{logger: logger.Named("audit")}))
	disp.SubscribeNamed(dispatcher.AnyType, "stats", stats.Handle)

	return disp, stats, nil
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service deps are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth bundle is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	svcLogger := &zapLoggerAdapter{logger: deps.Logger.Named("service")}
	repos := deps.Repos

	return &ServiceBundle{
		Auth: service.NewAuthService(
			repos.Company,
			repos.User,
			deps.TxManager,
			deps.Auth.Hasher,
			deps.Auth.Tokens,
			svcLogger,
		),
		Admin: service.NewAdminService(
			repos.User,
			repos.Workflow,
			repos.Expense,
			deps.Auth.Hasher,
			deps.Exporter,
			deps.Dispatcher,
			svcLogger,
		),
		Expense: service.NewExpenseService(
			repos.Company,
			repos.User,
			repos.Workflow,
			repos.Expense,
			repos.History,
			deps.TxManager,
			deps.Storage,
			deps.Dispatcher,
			service.ExpenseConfig{
				MaxReceiptBytes: deps.StorageCfg.MaxReceiptBytes,
				MaxRetries:      deps.Approval.MaxDecisionRetries,
			},
			svcLogger,
		),
		Approval: service.NewApprovalService(
			repos.Expense,
			repos.History,
			deps.TxManager,
			deps.Dispatcher,
			service.ApprovalConfig{MaxRetries: deps.Approval.MaxDecisionRetries},
			svcLogger,
		),
	}, nil
}
