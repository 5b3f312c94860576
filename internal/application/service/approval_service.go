package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// ApprovalConfig holds the settings of ApprovalService
type ApprovalConfig struct {
	// MaxRetries bounds read-advance-write attempts on version conflicts
	MaxRetries int
}

// DecisionOutcome is the state left behind by an accepted decision
type DecisionOutcome struct {
	Expense *entity.Expense
	Result  *approval.Result
}

// ApprovalService lets approvers see and decide the expenses waiting on them
type ApprovalService interface {
	ListPending(ctx context.Context, actor Actor) ([]*entity.Expense, error)
	Decide(ctx context.Context, actor Actor, expenseID string, decision entity.Decision, comment string) (*DecisionOutcome, error)
	History(ctx context.Context, actor Actor, expenseID string) ([]*entity.ApprovalHistory, error)
}

type approvalServiceImpl struct {
	expenseRepo port.ExpenseRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	events      EventPublisher
	locks       *keyedMutex
	cfg         ApprovalConfig
	logger      Logger
	now         func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	expenseRepo port.ExpenseRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	events EventPublisher,
	cfg ApprovalConfig,
	logger Logger,
) ApprovalService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &approvalServiceImpl{
		expenseRepo: expenseRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		events:      events,
		locks:       newKeyedMutex(),
		cfg:         cfg,
		logger:      logger,
		now:         utcNow,
	}
}

func (s *approvalServiceImpl) ListPending(ctx context.Context, actor Actor) ([]*entity.Expense, error) {
	return s.expenseRepo.ListPendingFor(ctx, actor.CompanyID, actor.UserID)
}

// Decide records actor's decision on their pending entry of the expense.
//
// Decisions on one expense are serialised in-process by a per-expense lock;
// across processes the version check in ExpenseRepository.Update catches a
// lost race and the whole read-advance-write is retried on fresh state.
// Validation failures are returned as-is and never retried.
func (s *approvalServiceImpl) Decide(ctx context.Context, actor Actor, expenseID string, decision entity.Decision, comment string) (*DecisionOutcome, error) {
	unlock := s.locks.Lock(expenseID)
	defer unlock()

	var (
		expense  *entity.Expense
		result   *approval.Result
		previous entity.ExpenseStatus
	)

	err := retryOnConflict(s.cfg.MaxRetries, func() error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			var err error
			expense, err = s.expenseRepo.GetByID(txCtx, expenseID)
			if err != nil {
				return fmt.Errorf("load expense: %w", err)
			}
			if expense == nil || expense.CompanyID != actor.CompanyID {
				return ErrNotFound
			}

			previous = expense.Status
			now := s.now()
			result, err = approval.Apply(expense, actor.UserID, decision, comment, now)
			if err != nil {
				return err
			}

			if err := s.expenseRepo.Update(txCtx, expense); err != nil {
				return err
			}

			action := entity.ActionApproved
			if decision == entity.DecisionRejected {
				action = entity.ActionRejected
			}
			history := &entity.ApprovalHistory{
				ExpenseID:      expense.ID,
				ActorID:        actor.UserID,
				Action:         action,
				PreviousStatus: string(previous),
				NewStatus:      string(expense.Status),
				Comment:        strings.TrimSpace(comment),
				Timestamp:      now,
			}
			if err := s.historyRepo.Create(txCtx, history); err != nil {
				return fmt.Errorf("create history: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if isClientError(err) {
			s.logger.Info("Decision refused", "expense_id", expenseID, "approver_id", actor.UserID, "reason", err.Error())
		} else {
			s.logger.Error("Failed to record decision", "error", err, "expense_id", expenseID, "approver_id", actor.UserID)
		}
		return nil, err
	}

	s.publishDecision(ctx, actor, expense, result, decision)

	s.logger.Info("Decision recorded",
		"expense_id", expense.ID,
		"approver_id", actor.UserID,
		"decision", decision,
		"status", expense.Status,
		"version", expense.Version,
	)
	return &DecisionOutcome{Expense: expense, Result: result}, nil
}

func (s *approvalServiceImpl) History(ctx context.Context, actor Actor, expenseID string) ([]*entity.ApprovalHistory, error) {
	if _, err := loadVisible(ctx, s.expenseRepo, actor, expenseID); err != nil {
		return nil, err
	}
	return s.historyRepo.GetByExpenseID(ctx, expenseID)
}

func (s *approvalServiceImpl) publishDecision(ctx context.Context, actor Actor, expense *entity.Expense, result *approval.Result, decision entity.Decision) {
	ctx = context.WithoutCancel(ctx)

	activated := make([]string, 0, len(result.Activated))
	for _, i := range result.Activated {
		activated = append(activated, expense.Approvals[i].Approver)
	}

	decided := event.NewEvent(event.TypeStepDecided, expense.CompanyID, expense.ID, actor.UserID,
		map[string]interface{}{
			"decision":  string(decision),
			"stage":     expense.Approvals[result.Decided].Stage,
			"status":    string(expense.Status),
			"activated": activated,
			"skipped":   len(result.Skipped),
		},
	)
	s.events.DispatchAsync(ctx, decided)

	if !result.Finalized() {
		return
	}
	final := event.TypeExpenseApproved
	if expense.Status == entity.ExpenseStatusRejected {
		final = event.TypeExpenseRejected
	}
	s.events.DispatchAsync(ctx, decided.Follow(final, map[string]interface{}{
		"employee_id": expense.EmployeeID,
		"amount":      expense.Amount.String(),
		"currency":    expense.Currency,
	}))
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
