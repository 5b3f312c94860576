package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// receiptPrefix marks receipt URLs that point into FileStorage
const receiptPrefix = "receipts/"

// SubmitInput carries the fields of a new expense claim
type SubmitInput struct {
	Amount      decimal.Decimal
	Currency    string
	Category    string
	Description string
	ExpenseDate time.Time
	ReceiptURL  string
}

// Receipt is a stored receipt file, or an external link when Content is nil
type Receipt struct {
	Name    string
	Content []byte
	URL     string
}

// ExpenseConfig holds the limits applied by ExpenseService
type ExpenseConfig struct {
	MaxReceiptBytes int64
	MaxRetries      int
}

// ExpenseService handles submission and employee-side access to expenses
type ExpenseService interface {
	Submit(ctx context.Context, actor Actor, in SubmitInput) (*entity.Expense, error)
	ListMine(ctx context.Context, actor Actor) ([]*entity.Expense, error)
	Get(ctx context.Context, actor Actor, expenseID string) (*entity.Expense, error)
	UploadReceipt(ctx context.Context, actor Actor, expenseID, filename string, content []byte) (*entity.Expense, error)
	Receipt(ctx context.Context, actor Actor, expenseID string) (*Receipt, error)
}

type expenseServiceImpl struct {
	companyRepo  port.CompanyRepository
	userRepo     port.UserRepository
	workflowRepo port.WorkflowRepository
	expenseRepo  port.ExpenseRepository
	historyRepo  port.HistoryRepository
	txManager    port.TransactionManager
	storage      port.FileStorage
	events       EventPublisher
	cfg          ExpenseConfig
	logger       Logger
	now          func() time.Time
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(
	companyRepo port.CompanyRepository,
	userRepo port.UserRepository,
	workflowRepo port.WorkflowRepository,
	expenseRepo port.ExpenseRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	storage port.FileStorage,
	events EventPublisher,
	cfg ExpenseConfig,
	logger Logger,
) ExpenseService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &expenseServiceImpl{
		companyRepo:  companyRepo,
		userRepo:     userRepo,
		workflowRepo: workflowRepo,
		expenseRepo:  expenseRepo,
		historyRepo:  historyRepo,
		txManager:    txManager,
		storage:      storage,
		events:       events,
		cfg:          cfg,
		logger:       logger,
		now:          utcNow,
	}
}

// Submit builds the approval chain from the company workflow and stores the
// expense as PENDING together with its SUBMITTED history row
func (s *expenseServiceImpl) Submit(ctx context.Context, actor Actor, in SubmitInput) (*entity.Expense, error) {
	category := utils.SanitizeString(in.Category)
	description := utils.SanitizeString(in.Description)

	if err := utils.ValidateAmount(in.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if in.ExpenseDate.IsZero() {
		return nil, fmt.Errorf("%w: expense date is required", ErrInvalidInput)
	}
	receiptURL, err := externalReceiptURL(in.ReceiptURL)
	if err != nil {
		return nil, err
	}

	employee, err := s.userRepo.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("load employee: %w", err)
	}
	if employee == nil {
		return nil, ErrNotFound
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		company, err := s.companyRepo.GetByID(ctx, employee.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("load company: %w", err)
		}
		currency = entity.DefaultCurrency
		if company != nil && company.DefaultCurrency != "" {
			currency = company.DefaultCurrency
		}
	}
	if err := utils.ValidateCurrency(currency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	wf, err := s.workflowRepo.GetByCompany(ctx, employee.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf == nil {
		return nil, ErrNoWorkflow
	}

	chain, err := approval.Build(employee, wf)
	if err != nil {
		s.logger.Error("Failed to build approval chain", "error", err, "employee_id", employee.ID, "workflow_id", wf.ID)
		return nil, err
	}

	now := s.now()
	expense := &entity.Expense{
		ID:          newID(),
		EmployeeID:  employee.ID,
		CompanyID:   employee.CompanyID,
		Amount:      in.Amount,
		Currency:    currency,
		Category:    category,
		Description: description,
		ExpenseDate: in.ExpenseDate.UTC(),
		ReceiptURL:  receiptURL,
		Status:      entity.ExpenseStatusPending,
		Approvals:   chain,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.expenseRepo.Create(txCtx, expense); err != nil {
			return fmt.Errorf("create expense: %w", err)
		}
		history := &entity.ApprovalHistory{
			ExpenseID: expense.ID,
			ActorID:   employee.ID,
			Action:    entity.ActionSubmitted,
			NewStatus: string(entity.ExpenseStatusPending),
			Timestamp: now,
		}
		if err := s.historyRepo.Create(txCtx, history); err != nil {
			return fmt.Errorf("create history: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit expense", "error", err, "employee_id", employee.ID)
		return nil, err
	}

	s.events.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(
		event.TypeExpenseSubmitted, expense.CompanyID, expense.ID, employee.ID,
		map[string]interface{}{
			"amount":    expense.Amount.String(),
			"currency":  expense.Currency,
			"approvers": pendingApprovers(expense.Approvals),
		},
	))

	s.logger.Info("Expense submitted", "expense_id", expense.ID, "employee_id", employee.ID, "chain_length", len(chain))
	return expense, nil
}

func (s *expenseServiceImpl) ListMine(ctx context.Context, actor Actor) ([]*entity.Expense, error) {
	return s.expenseRepo.ListByEmployee(ctx, actor.UserID)
}

func (s *expenseServiceImpl) Get(ctx context.Context, actor Actor, expenseID string) (*entity.Expense, error) {
	return loadVisible(ctx, s.expenseRepo, actor, expenseID)
}

// UploadReceipt stores a receipt file for a PENDING expense of the caller
// and points the expense's receipt URL at it
func (s *expenseServiceImpl) UploadReceipt(ctx context.Context, actor Actor, expenseID, filename string, content []byte) (*entity.Expense, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: receipt is empty", ErrInvalidInput)
	}
	if s.cfg.MaxReceiptBytes > 0 && int64(len(content)) > s.cfg.MaxReceiptBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrReceiptTooLarge, len(content), s.cfg.MaxReceiptBytes)
	}

	var expense *entity.Expense
	err := retryOnConflict(s.cfg.MaxRetries, func() error {
		var err error
		expense, err = s.expenseRepo.GetByID(ctx, expenseID)
		if err != nil {
			return err
		}
		if expense == nil {
			return ErrNotFound
		}
		if expense.EmployeeID != actor.UserID {
			return ErrForbidden
		}
		if expense.Status != entity.ExpenseStatusPending {
			return fmt.Errorf("%w: status is %s", approval.ErrAlreadyFinalized, expense.Status)
		}

		key := receiptDir(expense) + utils.SanitizeFileName(filename)
		if err := s.storage.Save(ctx, key, content); err != nil {
			return fmt.Errorf("store receipt: %w", err)
		}

		expense.ReceiptURL = key
		expense.UpdatedAt = s.now()
		return s.expenseRepo.Update(ctx, expense)
	})
	if err != nil {
		if !isClientError(err) {
			s.logger.Error("Failed to upload receipt", "error", err, "expense_id", expenseID)
		}
		return nil, err
	}

	s.logger.Info("Receipt uploaded", "expense_id", expense.ID, "path", expense.ReceiptURL, "size", len(content))
	return expense, nil
}

func (s *expenseServiceImpl) Receipt(ctx context.Context, actor Actor, expenseID string) (*Receipt, error) {
	expense, err := loadVisible(ctx, s.expenseRepo, actor, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.ReceiptURL == "" {
		return nil, ErrNoReceipt
	}

	if !strings.HasPrefix(expense.ReceiptURL, receiptPrefix) {
		link, err := externalReceiptURL(expense.ReceiptURL)
		if err != nil || link == "" {
			s.logger.Error("Stored receipt link is not servable", "expense_id", expense.ID)
			return nil, ErrNoReceipt
		}
		return &Receipt{URL: link}, nil
	}

	// Only files uploaded for this very expense are served
	if !strings.HasPrefix(expense.ReceiptURL, receiptDir(expense)) {
		s.logger.Error("Receipt key outside the expense directory", "expense_id", expense.ID, "path", expense.ReceiptURL)
		return nil, ErrNoReceipt
	}

	content, err := s.storage.Read(ctx, expense.ReceiptURL)
	if err != nil {
		s.logger.Error("Failed to read receipt", "error", err, "expense_id", expense.ID)
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	return &Receipt{Name: path.Base(expense.ReceiptURL), Content: content}, nil
}

// receiptDir is the storage directory holding the expense's uploads,
// with a trailing slash
func receiptDir(expense *entity.Expense) string {
	return path.Join(receiptPrefix, expense.CompanyID, expense.ID) + "/"
}

// externalReceiptURL accepts an empty value or an absolute http(s) link.
// Storage keys are only ever set by UploadReceipt.
func externalReceiptURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: receipt url: %v", ErrInvalidInput, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: receipt url must be an absolute http or https link", ErrInvalidInput)
	}
	return u.String(), nil
}

// loadVisible loads an expense and applies the read rule. Expenses the
// actor may not see are reported as not found.
func loadVisible(ctx context.Context, repo port.ExpenseRepository, actor Actor, expenseID string) (*entity.Expense, error) {
	expense, err := repo.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil || !canView(actor, expense) {
		return nil, ErrNotFound
	}
	return expense, nil
}

// retryOnConflict runs fn until it returns something other than a version
// conflict, at most attempts times
func retryOnConflict(attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, port.ErrVersionConflict) {
			return err
		}
	}
	return err
}

func isClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrForbidden, ErrInvalidInput, ErrReceiptTooLarge,
		approval.ErrAlreadyFinalized, approval.ErrNoPendingApproval,
		approval.ErrInvalidDecision, approval.ErrMissingComment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func pendingApprovers(chain []entity.ApprovalStep) []string {
	var out []string
	for _, step := range chain {
		if step.Status == entity.StepStatusPending {
			out = append(out, step.Approver)
		}
	}
	return out
}
