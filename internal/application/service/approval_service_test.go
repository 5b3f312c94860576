package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

var (
	managerActor = Actor{UserID: "mgr", CompanyID: "co-1", Role: entity.RoleManager}
	financeActor = Actor{UserID: "fin", CompanyID: "co-1", Role: entity.RoleManager}
)

func twoStepExpense() *entity.Expense {
	return &entity.Expense{
		ID:         "exp-1",
		EmployeeID: "emp",
		CompanyID:  "co-1",
		Status:     entity.ExpenseStatusPending,
		Approvals: []entity.ApprovalStep{
			{Approver: "mgr", Status: entity.StepStatusPending, Stage: 0, RuleType: entity.RuleTypeNone},
			{Approver: "fin", Status: entity.StepStatusQueued, Stage: 1, RuleType: entity.RuleTypeNone},
		},
		Version: 1,
	}
}

type approvalDeps struct {
	repo    *memExpenseRepo
	history *mockHistoryRepo
	events  *recordingPublisher
	cfg     ApprovalConfig
}

func newApprovalDeps(expense *entity.Expense) *approvalDeps {
	return &approvalDeps{
		repo:    newMemExpenseRepo(expense),
		history: &mockHistoryRepo{},
		events:  &recordingPublisher{},
		cfg:     ApprovalConfig{MaxRetries: 3},
	}
}

func (d *approvalDeps) service() ApprovalService {
	svc := NewApprovalService(&d.repo.mockExpenseRepo, d.history, &mockTxManager{}, d.events, d.cfg, &mockLogger{})
	svc.(*approvalServiceImpl).now = func() time.Time { return fixedNow }
	return svc
}

func TestApprovalService_DecideAdvancesChain(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())

	out, err := deps.service().Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")

	require.NoError(t, err)
	stored := deps.repo.snapshot()
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, entity.ExpenseStatusPending, stored.Status)
	assert.Equal(t, entity.StepStatusApproved, stored.Approvals[0].Status)
	assert.Equal(t, entity.StepStatusPending, stored.Approvals[1].Status)
	require.NotNil(t, stored.Approvals[0].DecisionDate)
	assert.Equal(t, fixedNow, *stored.Approvals[0].DecisionDate)
	assert.Equal(t, []int{1}, out.Result.Activated)

	require.Len(t, deps.history.created, 1)
	h := deps.history.created[0]
	assert.Equal(t, entity.ActionApproved, h.Action)
	assert.Equal(t, "mgr", h.ActorID)
	assert.Equal(t, "PENDING", h.PreviousStatus)
	assert.Equal(t, "PENDING", h.NewStatus)

	assert.Equal(t, []event.Type{event.TypeStepDecided}, deps.events.types())
	assert.Equal(t, []string{"fin"}, deps.events.events[0].Payload["activated"])
}

func TestApprovalService_DecideFinalApproval(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	svc := deps.service()

	_, err := svc.Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")
	require.NoError(t, err)
	out, err := svc.Decide(context.Background(), financeActor, "exp-1", entity.DecisionApproved, "ok")
	require.NoError(t, err)

	assert.Equal(t, entity.ExpenseStatusApproved, out.Expense.Status)
	assert.Equal(t, entity.ExpenseStatusApproved, deps.repo.snapshot().Status)
	assert.Equal(t, []event.Type{event.TypeStepDecided, event.TypeStepDecided, event.TypeExpenseApproved}, deps.events.types())
	assert.Equal(t, deps.events.events[1].CorrelationID, deps.events.events[2].CorrelationID)
}

func TestApprovalService_DecideRejection(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())

	out, err := deps.service().Decide(context.Background(), managerActor, "exp-1", entity.DecisionRejected, "  over budget ")

	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusRejected, out.Expense.Status)
	stored := deps.repo.snapshot()
	assert.Equal(t, entity.StepStatusRejected, stored.Approvals[0].Status)
	assert.Equal(t, "over budget", stored.Approvals[0].Comment)
	assert.Equal(t, entity.StepStatusQueued, stored.Approvals[1].Status)

	require.Len(t, deps.history.created, 1)
	assert.Equal(t, entity.ActionRejected, deps.history.created[0].Action)
	assert.Equal(t, "REJECTED", deps.history.created[0].NewStatus)
	assert.Equal(t, "over budget", deps.history.created[0].Comment)
	assert.Equal(t, []event.Type{event.TypeStepDecided, event.TypeExpenseRejected}, deps.events.types())
}

func TestApprovalService_DecideRefusals(t *testing.T) {
	finalized := twoStepExpense()
	finalized.Status = entity.ExpenseStatusRejected
	finalized.Approvals[0].Status = entity.StepStatusRejected

	tests := []struct {
		name      string
		stored    *entity.Expense
		actor     Actor
		expenseID string
		decision  entity.Decision
		comment   string
		wantErr   error
	}{
		{"rejection without comment", twoStepExpense(), managerActor, "exp-1", entity.DecisionRejected, " ", approval.ErrMissingComment},
		{"unknown decision", twoStepExpense(), managerActor, "exp-1", "MAYBE", "", approval.ErrInvalidDecision},
		{"queued approver", twoStepExpense(), financeActor, "exp-1", entity.DecisionApproved, "", approval.ErrNoPendingApproval},
		{"finalized expense", finalized, managerActor, "exp-1", entity.DecisionApproved, "", approval.ErrAlreadyFinalized},
		{"other company", twoStepExpense(), Actor{UserID: "mgr", CompanyID: "co-2"}, "exp-1", entity.DecisionApproved, "", ErrNotFound},
		{"missing expense", twoStepExpense(), managerActor, "exp-404", entity.DecisionApproved, "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newApprovalDeps(tt.stored)
			before := deps.repo.snapshot()

			_, err := deps.service().Decide(context.Background(), tt.actor, tt.expenseID, tt.decision, tt.comment)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, deps.repo.snapshot())
			assert.Equal(t, 0, deps.repo.updates)
			assert.Empty(t, deps.history.created)
			assert.Empty(t, deps.events.types())
		})
	}
}

func TestApprovalService_DecideRetriesOnVersionConflict(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	casUpdate := deps.repo.updateFunc
	attempts := 0
	deps.repo.updateFunc = func(ctx context.Context, e *entity.Expense) error {
		attempts++
		if attempts == 1 {
			// another process wrote the expense after our read
			deps.repo.mu.Lock()
			deps.repo.stored.Version++
			deps.repo.mu.Unlock()
		}
		return casUpdate(ctx, e)
	}

	out, err := deps.service().Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(3), out.Expense.Version)
	assert.Len(t, deps.history.created, 1)
}

func TestApprovalService_DecideGivesUpAfterMaxRetries(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	deps.cfg.MaxRetries = 2
	attempts := 0
	deps.repo.updateFunc = func(ctx context.Context, e *entity.Expense) error {
		attempts++
		return port.ErrVersionConflict
	}

	_, err := deps.service().Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")

	assert.ErrorIs(t, err, port.ErrVersionConflict)
	assert.Equal(t, 2, attempts)
	assert.Empty(t, deps.events.types())
}

func TestApprovalService_DecideDoesNotRetryOtherErrors(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	attempts := 0
	deps.repo.updateFunc = func(ctx context.Context, e *entity.Expense) error {
		attempts++
		return errors.New("disk full")
	}

	_, err := deps.service().Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")

	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, attempts)
}

func TestApprovalService_ConcurrentQuorumDecisions(t *testing.T) {
	members := []string{"a", "b", "c", "d"}
	expense := &entity.Expense{ID: "exp-1", EmployeeID: "emp", CompanyID: "co-1", Status: entity.ExpenseStatusPending, Version: 1}
	for _, m := range members {
		expense.Approvals = append(expense.Approvals, entity.ApprovalStep{
			Approver: m,
			Status:   entity.StepStatusPending,
			RuleType: entity.RuleTypePercentage,
			Rule:     &entity.StageRule{Percentage: 100},
		})
	}
	deps := newApprovalDeps(expense)
	svc := deps.service()

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		wg.Add(1)
		go func(i int, approver string) {
			defer wg.Done()
			_, errs[i] = svc.Decide(context.Background(), Actor{UserID: approver, CompanyID: "co-1"}, "exp-1", entity.DecisionApproved, "")
		}(i, m)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	stored := deps.repo.snapshot()
	assert.Equal(t, entity.ExpenseStatusApproved, stored.Status)
	assert.Equal(t, int64(5), stored.Version)
	assert.Equal(t, 4, deps.repo.updates)
	assert.Len(t, deps.history.created, 4)
}

func TestApprovalService_ConcurrentDuplicateDecision(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	svc := deps.service()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Decide(context.Background(), managerActor, "exp-1", entity.DecisionApproved, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, approval.ErrNoPendingApproval)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, deps.repo.updates)
}

func TestApprovalService_ListPending(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	deps.repo.listPendingForFunc = func(ctx context.Context, companyID, approverID string) ([]*entity.Expense, error) {
		assert.Equal(t, "co-1", companyID)
		assert.Equal(t, "mgr", approverID)
		return []*entity.Expense{twoStepExpense()}, nil
	}

	expenses, err := deps.service().ListPending(context.Background(), managerActor)

	require.NoError(t, err)
	assert.Len(t, expenses, 1)
}

func TestApprovalService_History(t *testing.T) {
	deps := newApprovalDeps(twoStepExpense())
	deps.history.getByExpenseIDFunc = func(ctx context.Context, expenseID string) ([]*entity.ApprovalHistory, error) {
		return []*entity.ApprovalHistory{{ExpenseID: expenseID, Action: entity.ActionSubmitted}}, nil
	}
	svc := deps.service()

	rows, err := svc.History(context.Background(), financeActor, "exp-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = svc.History(context.Background(), Actor{UserID: "emp-2", CompanyID: "co-1"}, "exp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)

	unlockA()
	unlockB()
	assert.Empty(t, k.locks)
}
