package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

type mockCompanyRepo struct {
	createFunc  func(ctx context.Context, company *entity.Company) error
	getByIDFunc func(ctx context.Context, id string) (*entity.Company, error)
}

func (m *mockCompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, company)
	}
	return nil
}

func (m *mockCompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

type mockUserRepo struct {
	createFunc        func(ctx context.Context, user *entity.User) error
	getByIDFunc       func(ctx context.Context, id string) (*entity.User, error)
	getByEmailFunc    func(ctx context.Context, email string) (*entity.User, error)
	updateFunc        func(ctx context.Context, user *entity.User) error
	listByCompanyFunc func(ctx context.Context, companyID string) ([]*entity.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *entity.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	if m.getByEmailFunc != nil {
		return m.getByEmailFunc(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *entity.User) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	if m.listByCompanyFunc != nil {
		return m.listByCompanyFunc(ctx, companyID)
	}
	return []*entity.User{}, nil
}

// usersByID builds a mockUserRepo serving the given users
func usersByID(users ...*entity.User) *mockUserRepo {
	byID := make(map[string]*entity.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return &mockUserRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.User, error) {
			if u, ok := byID[id]; ok {
				cp := *u
				return &cp, nil
			}
			return nil, nil
		},
		listByCompanyFunc: func(ctx context.Context, companyID string) ([]*entity.User, error) {
			var out []*entity.User
			for _, u := range users {
				if u.CompanyID == companyID {
					out = append(out, u)
				}
			}
			return out, nil
		},
	}
}

type mockWorkflowRepo struct {
	saveFunc         func(ctx context.Context, wf *entity.WorkflowDefinition) error
	getByCompanyFunc func(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error)
}

func (m *mockWorkflowRepo) Save(ctx context.Context, wf *entity.WorkflowDefinition) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, wf)
	}
	return nil
}

func (m *mockWorkflowRepo) GetByCompany(ctx context.Context, companyID string) (*entity.WorkflowDefinition, error) {
	if m.getByCompanyFunc != nil {
		return m.getByCompanyFunc(ctx, companyID)
	}
	return nil, nil
}

type mockExpenseRepo struct {
	createFunc         func(ctx context.Context, expense *entity.Expense) error
	getByIDFunc        func(ctx context.Context, id string) (*entity.Expense, error)
	updateFunc         func(ctx context.Context, expense *entity.Expense) error
	listByEmployeeFunc func(ctx context.Context, employeeID string) ([]*entity.Expense, error)
	listPendingForFunc func(ctx context.Context, companyID, approverID string) ([]*entity.Expense, error)
	listByCompanyFunc  func(ctx context.Context, companyID string, filter port.ExpenseFilter) ([]*entity.Expense, error)
}

func (m *mockExpenseRepo) Create(ctx context.Context, expense *entity.Expense) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, expense)
	}
	expense.Version = 1
	return nil
}

func (m *mockExpenseRepo) GetByID(ctx context.Context, id string) (*entity.Expense, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockExpenseRepo) Update(ctx context.Context, expense *entity.Expense) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, expense)
	}
	expense.Version++
	return nil
}

func (m *mockExpenseRepo) ListByEmployee(ctx context.Context, employeeID string) ([]*entity.Expense, error) {
	if m.listByEmployeeFunc != nil {
		return m.listByEmployeeFunc(ctx, employeeID)
	}
	return []*entity.Expense{}, nil
}

func (m *mockExpenseRepo) ListPendingFor(ctx context.Context, companyID, approverID string) ([]*entity.Expense, error) {
	if m.listPendingForFunc != nil {
		return m.listPendingForFunc(ctx, companyID, approverID)
	}
	return []*entity.Expense{}, nil
}

func (m *mockExpenseRepo) ListByCompany(ctx context.Context, companyID string, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	if m.listByCompanyFunc != nil {
		return m.listByCompanyFunc(ctx, companyID, filter)
	}
	return []*entity.Expense{}, nil
}

// memExpenseRepo keeps one expense in memory and enforces the version check
type memExpenseRepo struct {
	mockExpenseRepo
	mu      sync.Mutex
	stored  entity.Expense
	updates int
}

func newMemExpenseRepo(expense *entity.Expense) *memExpenseRepo {
	r := &memExpenseRepo{stored: *expense}
	r.getByIDFunc = func(ctx context.Context, id string) (*entity.Expense, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if id != r.stored.ID {
			return nil, nil
		}
		cp := r.stored
		cp.Approvals = append([]entity.ApprovalStep(nil), r.stored.Approvals...)
		return &cp, nil
	}
	r.updateFunc = func(ctx context.Context, expense *entity.Expense) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if expense.Version != r.stored.Version {
			return port.ErrVersionConflict
		}
		expense.Version++
		r.stored = *expense
		r.stored.Approvals = append([]entity.ApprovalStep(nil), expense.Approvals...)
		r.updates++
		return nil
	}
	return r
}

func (r *memExpenseRepo) snapshot() entity.Expense {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stored
}

type mockHistoryRepo struct {
	mu                 sync.Mutex
	created            []*entity.ApprovalHistory
	createFunc         func(ctx context.Context, history *entity.ApprovalHistory) error
	getByExpenseIDFunc func(ctx context.Context, expenseID string) ([]*entity.ApprovalHistory, error)
}

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.ApprovalHistory) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, history); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.created = append(m.created, history)
	m.mu.Unlock()
	return nil
}

func (m *mockHistoryRepo) GetByExpenseID(ctx context.Context, expenseID string) ([]*entity.ApprovalHistory, error) {
	if m.getByExpenseIDFunc != nil {
		return m.getByExpenseIDFunc(ctx, expenseID)
	}
	return []*entity.ApprovalHistory{}, nil
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{files: make(map[string][]byte)}
}

func (m *mockStorage) Save(ctx context.Context, path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
	return nil
}

func (m *mockStorage) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return content, nil
}

func (m *mockStorage) Exists(ctx context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *mockStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// plainHasher stores passwords with a fixed prefix
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type mockTokenIssuer struct{}

func (mockTokenIssuer) Issue(user *entity.User) (string, error) {
	return "token-" + user.ID, nil
}

type mockExporter struct {
	exportFunc func(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error
}

func (m *mockExporter) Export(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error {
	if m.exportFunc != nil {
		return m.exportFunc(ctx, w, expenses, users)
	}
	return nil
}

// recordingPublisher collects events instead of dispatching them
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) DispatchAsync(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}
