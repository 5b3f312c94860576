// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxUploadBytes bounds how much of a receipt upload is read; 0 means no bound
	MaxUploadBytes int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		Mode:           gin.ReleaseMode,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxUploadBytes: 5 << 20,
	}
}

// Services groups the use cases exposed over HTTP
type Services struct {
	Auth     service.AuthService
	Admin    service.AdminService
	Expense  service.ExpenseService
	Approval service.ApprovalService
}

// HealthFunc reports overall health plus a component breakdown
type HealthFunc func() (healthy bool, details interface{})

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	tokens     TokenValidator
	health     HealthFunc
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	services Services,
	tokens TokenValidator,
	health HealthFunc,
	logger Logger,
) *Server {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		tokens:   tokens,
		health:   health,
		logger:   logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())

	s.router.Use(corsMiddleware())
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []interface{}{
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		}
		if actor := actorFrom(c); actor.UserID != "" {
			fields = append(fields, "user_id", actor.UserID)
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.health, s.config.MaxUploadBytes, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/signup", handlers.Signup)
		authGroup.POST("/login", handlers.Login)
	}

	protected := api.Group("", s.authMiddleware())

	expenses := protected.Group("/expenses")
	{
		expenses.POST("", handlers.SubmitExpense)
		expenses.GET("/my", handlers.ListMyExpenses)
		expenses.GET("/:id", handlers.GetExpense)
		expenses.GET("/:id/history", handlers.ExpenseHistory)
		expenses.POST("/:id/receipt", handlers.UploadReceipt)
		expenses.GET("/:id/receipt", handlers.DownloadReceipt)
	}

	approvals := protected.Group("/approvals", requireRoles(entity.RoleManager, entity.RoleAdmin))
	{
		approvals.GET("/pending", handlers.ListPending)
		approvals.POST("/:expenseId/decide", handlers.Decide)
	}

	admin := protected.Group("/admin", requireRoles(entity.RoleAdmin))
	{
		admin.POST("/users", handlers.CreateUser)
		admin.GET("/users", handlers.ListUsers)
		admin.PUT("/users/:userId", handlers.UpdateUser)
		admin.POST("/workflows", handlers.SaveWorkflow)
		admin.GET("/workflows", handlers.GetWorkflow)
		admin.GET("/expenses/all", handlers.ListCompanyExpenses)
		admin.GET("/expenses/export", handlers.ExportExpenses)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
