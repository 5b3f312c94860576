package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services       Services
	health         HealthFunc
	maxUploadBytes int64
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, maxUploadBytes int64, logger Logger) *Handlers {
	return &Handlers{
		services:       services,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Version   string      `json:"version"`
	Details   interface{} `json:"details,omitempty"`
}

// SignupRequest registers a company together with its first admin
type SignupRequest struct {
	CompanyName string `json:"company_name" binding:"required"`
	Currency    string `json:"currency"`
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

// LoginRequest carries user credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by signup and login
type AuthResponse struct {
	Token   string          `json:"token"`
	User    *entity.User    `json:"user"`
	Company *entity.Company `json:"company,omitempty"`
}

// SubmitExpenseRequest is the body of POST /api/expenses. ExpenseDate
// accepts YYYY-MM-DD or RFC 3339.
type SubmitExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category" binding:"required"`
	Description string          `json:"description"`
	ExpenseDate string          `json:"expense_date" binding:"required"`
	ReceiptURL  string          `json:"receipt_url"`
}

// DecisionRequest is the body of POST /api/approvals/:expenseId/decide
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// DecisionResponse reports the expense after a decision was recorded
type DecisionResponse struct {
	Expense   *entity.Expense `json:"expense"`
	Finalized bool            `json:"finalized"`
	Activated []string        `json:"activated,omitempty"`
	Skipped   []string        `json:"skipped,omitempty"`
}

// CreateUserRequest is the body of POST /api/admin/users
type CreateUserRequest struct {
	Name      string `json:"name" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Role      string `json:"role" binding:"required"`
	ManagerID string `json:"manager_id"`
}

// UpdateUserRequest is the body of PUT /api/admin/users/:userId
type UpdateUserRequest struct {
	Role      *string `json:"role"`
	ManagerID *string `json:"manager_id"`
}

// WorkflowRequest is the body of POST /api/admin/workflows
type WorkflowRequest struct {
	Name           string                `json:"name"`
	IsManagerFirst bool                  `json:"is_manager_first"`
	Steps          []entity.WorkflowStep `json:"steps"`
}

// ExpenseListQuery filters GET /api/admin/expenses/all
type ExpenseListQuery struct {
	Status     string `form:"status"`
	EmployeeID string `form:"employee_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health()
		response.Details = details
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// Signup handles POST /api/auth/signup
func (h *Handlers) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := h.services.Auth.Signup(c.Request.Context(), service.SignupInput{
		CompanyName: req.CompanyName,
		Currency:    req.Currency,
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		h.writeError(c, "signup", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    toAuthResponse(result),
	})
}

// Login handles POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := h.services.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, "login", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toAuthResponse(result),
	})
}

// SubmitExpense handles POST /api/expenses
func (h *Handlers) SubmitExpense(c *gin.Context) {
	var req SubmitExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	expenseDate, err := parseExpenseDate(req.ExpenseDate)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	expense, err := h.services.Expense.Submit(c.Request.Context(), actorFrom(c), service.SubmitInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
		ExpenseDate: expenseDate,
		ReceiptURL:  req.ReceiptURL,
	})
	if err != nil {
		h.writeError(c, "submit expense", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    expense,
	})
}

// ListMyExpenses handles GET /api/expenses/my
func (h *Handlers) ListMyExpenses(c *gin.Context) {
	expenses, err := h.services.Expense.ListMine(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, "list my expenses", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nonNil(expenses),
	})
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.services.Expense.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, "get expense", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expense,
	})
}

// ExpenseHistory handles GET /api/expenses/:id/history
func (h *Handlers) ExpenseHistory(c *gin.Context) {
	history, err := h.services.Approval.History(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, "expense history", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nonNil(history),
	})
}

// UploadReceipt handles POST /api/expenses/:id/receipt (multipart field "file")
func (h *Handlers) UploadReceipt(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "unreadable upload")
		return
	}
	defer file.Close()

	var reader io.Reader = file
	if h.maxUploadBytes > 0 {
		// One byte past the limit is enough for the service to refuse it
		reader = io.LimitReader(file, h.maxUploadBytes+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		badRequest(c, "unreadable upload")
		return
	}

	expense, err := h.services.Expense.UploadReceipt(c.Request.Context(), actorFrom(c), c.Param("id"), fileHeader.Filename, content)
	if err != nil {
		h.writeError(c, "upload receipt", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    expense,
	})
}

// DownloadReceipt handles GET /api/expenses/:id/receipt. External receipt
// links are answered with a redirect.
func (h *Handlers) DownloadReceipt(c *gin.Context) {
	receipt, err := h.services.Expense.Receipt(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, "download receipt", err)
		return
	}

	if receipt.Content == nil {
		c.Redirect(http.StatusFound, receipt.URL)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", receipt.Name))
	c.Data(http.StatusOK, http.DetectContentType(receipt.Content), receipt.Content)
}

// ListPending handles GET /api/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	expenses, err := h.services.Approval.ListPending(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, "list pending", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nonNil(expenses),
	})
}

// Decide handles POST /api/approvals/:expenseId/decide
func (h *Handlers) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	outcome, err := h.services.Approval.Decide(
		c.Request.Context(),
		actorFrom(c),
		c.Param("expenseId"),
		entity.Decision(req.Decision),
		req.Comment,
	)
	if err != nil {
		h.writeError(c, "decide", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toDecisionResponse(outcome),
	})
}

// CreateUser handles POST /api/admin/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, err := h.services.Admin.CreateUser(c.Request.Context(), actorFrom(c), service.CreateUserInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      entity.Role(strings.ToUpper(req.Role)),
		ManagerID: req.ManagerID,
	})
	if err != nil {
		h.writeError(c, "create user", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    user,
	})
}

// ListUsers handles GET /api/admin/users
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.services.Admin.ListUsers(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, "list users", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nonNil(users),
	})
}

// UpdateUser handles PUT /api/admin/users/:userId
func (h *Handlers) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	in := service.UpdateUserInput{ManagerID: req.ManagerID}
	if req.Role != nil {
		role := entity.Role(strings.ToUpper(*req.Role))
		in.Role = &role
	}

	user, err := h.services.Admin.UpdateUser(c.Request.Context(), actorFrom(c), c.Param("userId"), in)
	if err != nil {
		h.writeError(c, "update user", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    user,
	})
}

// SaveWorkflow handles POST /api/admin/workflows. A company has one
// workflow; posting again replaces it.
func (h *Handlers) SaveWorkflow(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	wf, err := h.services.Admin.CreateWorkflow(c.Request.Context(), actorFrom(c), service.WorkflowInput{
		Name:           req.Name,
		IsManagerFirst: req.IsManagerFirst,
		Steps:          req.Steps,
	})
	if err != nil {
		h.writeError(c, "save workflow", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    wf,
	})
}

// GetWorkflow handles GET /api/admin/workflows
func (h *Handlers) GetWorkflow(c *gin.Context) {
	wf, err := h.services.Admin.GetWorkflow(c.Request.Context(), actorFrom(c))
	if errors.Is(err, service.ErrNoWorkflow) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, "get workflow", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    wf,
	})
}

// ListCompanyExpenses handles GET /api/admin/expenses/all
func (h *Handlers) ListCompanyExpenses(c *gin.Context) {
	var query ExpenseListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	status := entity.ExpenseStatus(strings.ToUpper(query.Status))
	switch status {
	case "", entity.ExpenseStatusPending, entity.ExpenseStatusApproved, entity.ExpenseStatusRejected:
	default:
		badRequest(c, "status must be PENDING, APPROVED or REJECTED")
		return
	}

	expenses, err := h.services.Admin.ListCompanyExpenses(c.Request.Context(), actorFrom(c), port.ExpenseFilter{
		Status:     status,
		EmployeeID: query.EmployeeID,
	})
	if err != nil {
		h.writeError(c, "list company expenses", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    nonNil(expenses),
	})
}

// ExportExpenses handles GET /api/admin/expenses/export
func (h *Handlers) ExportExpenses(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.services.Admin.ExportCompanyExpenses(c.Request.Context(), actorFrom(c), &buf); err != nil {
		h.writeError(c, "export expenses", err)
		return
	}

	filename := fmt.Sprintf("expenses-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func parseExpenseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expense_date must be YYYY-MM-DD or RFC 3339")
}

func toAuthResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:   result.Token,
		User:    result.User,
		Company: result.Company,
	}
}

func toDecisionResponse(outcome *service.DecisionOutcome) DecisionResponse {
	resp := DecisionResponse{Expense: outcome.Expense}
	if outcome.Result == nil {
		return resp
	}
	resp.Finalized = outcome.Result.Finalized()
	for _, idx := range outcome.Result.Activated {
		resp.Activated = append(resp.Activated, outcome.Result.Chain[idx].Approver)
	}
	for _, idx := range outcome.Result.Skipped {
		resp.Skipped = append(resp.Skipped, outcome.Result.Chain[idx].Approver)
	}
	return resp
}

// nonNil keeps empty lists as [] rather than null in responses
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
