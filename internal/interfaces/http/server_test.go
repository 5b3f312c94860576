package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

type testApp struct {
	t         *testing.T
	router    *gin.Engine
	container *container.Container
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dir := t.TempDir()
	cfg := container.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "expenses.db")
	cfg.Storage.BaseDir = filepath.Join(dir, "files")
	cfg.Storage.MaxReceiptBytes = 1024
	cfg.Auth.JWTSecret = "http-test-secret-value"
	cfg.Auth.BcryptCost = 4

	c, err := container.NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	services := c.Services()
	serverCfg := DefaultServerConfig()
	serverCfg.Mode = gin.TestMode
	serverCfg.MaxUploadBytes = cfg.Storage.MaxReceiptBytes

	server := NewServer(
		serverCfg,
		Services{
			Auth:     services.Auth,
			Admin:    services.Admin,
			Expense:  services.Expense,
			Approval: services.Approval,
		},
		c.Auth().Tokens,
		func() (bool, interface{}) {
			h := c.Health()
			return h.Overall, h
		},
		nopLogger{},
	)

	return &testApp{t: t, router: server.Router(), container: c}
}

func (a *testApp) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) upload(path, token, filename string, content []byte) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(a.t, err)
	_, err = part.Write(content)
	require.NoError(a.t, err)
	require.NoError(a.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func (a *testApp) login(email, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: email, Password: password})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AuthResponse](a.t, rec).Data.Token
}

func (a *testApp) createUser(adminToken string, req CreateUserRequest) *entity.User {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/admin/users", adminToken, req)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*entity.User](a.t, rec).Data
}

func TestHealthCheck(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env := decode[HealthResponse](t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.NotNil(t, env.Data.Details)
}

func TestAuthEndpoints(t *testing.T) {
	app := newTestApp(t)

	signup := SignupRequest{
		CompanyName: "Acme",
		Currency:    "eur",
		Name:        "Ada Admin",
		Email:       "ada@acme.test",
		Password:    "correct-horse",
	}
	rec := app.do(http.MethodPost, "/api/auth/signup", "", signup)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode[AuthResponse](t, rec)
	assert.NotEmpty(t, env.Data.Token)
	assert.Equal(t, entity.RoleAdmin, env.Data.User.Role)
	assert.Equal(t, "EUR", env.Data.Company.DefaultCurrency)
	assert.NotContains(t, rec.Body.String(), "correct-horse")

	rec = app.do(http.MethodPost, "/api/auth/signup", "", signup)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{CompanyName: "X", Name: "Y", Email: "y@x.test", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ada@acme.test", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@acme.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.NotEmpty(t, app.login("ADA@acme.test", "correct-horse"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/expenses/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(http.MethodGet, "/api/expenses/my", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/expenses/my", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpenseApprovalFlow(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{
		CompanyName: "Acme",
		Name:        "Ada Admin",
		Email:       "ada@acme.test",
		Password:    "admin-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adminToken := decode[AuthResponse](t, rec).Data.Token

	manager := app.createUser(adminToken, CreateUserRequest{
		Name: "Max Manager", Email: "max@acme.test", Password: "manager-password", Role: "manager",
	})
	finance := app.createUser(adminToken, CreateUserRequest{
		Name: "Fay Finance", Email: "fay@acme.test", Password: "finance-password", Role: "MANAGER",
	})
	employee := app.createUser(adminToken, CreateUserRequest{
		Name: "Eve Employee", Email: "eve@acme.test", Password: "employee-password", Role: "EMPLOYEE", ManagerID: manager.ID,
	})
	require.NotNil(t, employee.ManagerID)

	employeeToken := app.login("eve@acme.test", "employee-password")
	managerToken := app.login("max@acme.test", "manager-password")
	financeToken := app.login("fay@acme.test", "finance-password")

	submit := SubmitExpenseRequest{
		Category:    "Travel",
		Description: "Train to the client",
		ExpenseDate: "2025-03-10",
	}
	require.NoError(t, json.Unmarshal([]byte(`"120.50"`), &submit.Amount))

	// No workflow configured yet
	rec = app.do(http.MethodPost, "/api/expenses", employeeToken, submit)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodGet, "/api/admin/workflows", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(http.MethodPost, "/api/admin/workflows", employeeToken, WorkflowRequest{Name: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(http.MethodPost, "/api/admin/workflows", adminToken, WorkflowRequest{
		Name:           "Default",
		IsManagerFirst: true,
		Steps: []entity.WorkflowStep{
			{Sequence: 1, Approver: finance.ID, RuleType: entity.RuleTypeNone},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(http.MethodPost, "/api/expenses", employeeToken, submit)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	expense := decode[*entity.Expense](t, rec).Data
	require.Len(t, expense.Approvals, 2)
	assert.Equal(t, entity.ExpenseStatusPending, expense.Status)
	assert.Equal(t, "USD", expense.Currency)
	assert.Equal(t, manager.ID, expense.Approvals[0].Approver)
	assert.Equal(t, entity.StepStatusPending, expense.Approvals[0].Status)
	assert.Equal(t, finance.ID, expense.Approvals[1].Approver)
	assert.Equal(t, entity.StepStatusQueued, expense.Approvals[1].Status)

	expensePath := "/api/expenses/" + expense.ID

	// Receipt round trip while the expense is pending
	rec = app.upload(expensePath+"/receipt", employeeToken, "../ticket.png", []byte("fake image bytes"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[*entity.Expense](t, rec).Data.ReceiptURL)

	rec = app.do(http.MethodGet, expensePath+"/receipt", managerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake image bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ticket.png")

	rec = app.upload(expensePath+"/receipt", employeeToken, "big.png", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = app.upload(expensePath+"/receipt", managerToken, "other.png", []byte("x"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Role gates
	rec = app.do(http.MethodGet, "/api/approvals/pending", employeeToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = app.do(http.MethodGet, "/api/admin/users", managerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Finance is queued, so has nothing to decide yet
	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", financeToken, DecisionRequest{Decision: "APPROVED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(http.MethodGet, "/api/approvals/pending", managerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]*entity.Expense](t, rec).Data
	require.Len(t, pending, 1)
	assert.Equal(t, expense.ID, pending[0].ID)

	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", managerToken, DecisionRequest{Decision: "MAYBE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", managerToken, DecisionRequest{Decision: "APPROVED", Comment: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided := decode[DecisionResponse](t, rec).Data
	assert.False(t, decided.Finalized)
	assert.Equal(t, []string{finance.ID}, decided.Activated)
	assert.Equal(t, entity.StepStatusApproved, decided.Expense.Approvals[0].Status)
	assert.Equal(t, entity.StepStatusPending, decided.Expense.Approvals[1].Status)

	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", financeToken, DecisionRequest{Decision: "REJECTED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", financeToken, DecisionRequest{Decision: "REJECTED", Comment: "No receipt for return leg"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decided = decode[DecisionResponse](t, rec).Data
	assert.True(t, decided.Finalized)
	assert.Equal(t, entity.ExpenseStatusRejected, decided.Expense.Status)

	rec = app.do(http.MethodPost, "/api/approvals/"+expense.ID+"/decide", managerToken, DecisionRequest{Decision: "APPROVED"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Employee views
	rec = app.do(http.MethodGet, "/api/expenses/my", employeeToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]*entity.Expense](t, rec).Data
	require.Len(t, mine, 1)
	assert.Equal(t, entity.ExpenseStatusRejected, mine[0].Status)

	rec = app.do(http.MethodGet, expensePath+"/history", employeeToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*entity.ApprovalHistory](t, rec).Data, 3)

	rec = app.do(http.MethodGet, "/api/expenses/missing-id", employeeToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Admin reporting
	rec = app.do(http.MethodGet, "/api/admin/expenses/all?status=rejected", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*entity.Expense](t, rec).Data, 1)

	rec = app.do(http.MethodGet, "/api/admin/expenses/all?status=APPROVED", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]*entity.Expense](t, rec).Data)

	rec = app.do(http.MethodGet, "/api/admin/expenses/all?status=bogus", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodGet, "/api/admin/expenses/export", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	require.Eventually(t, func() bool {
		events := app.container.Health().Events
		return events["expense.submitted"] == 1 && events["expense.rejected"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateUser(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{
		CompanyName: "Acme", Name: "Ada", Email: "ada@acme.test", Password: "admin-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	adminToken := decode[AuthResponse](t, rec).Data.Token

	boss := app.createUser(adminToken, CreateUserRequest{Name: "Boss", Email: "boss@acme.test", Password: "boss-password", Role: "MANAGER"})
	worker := app.createUser(adminToken, CreateUserRequest{Name: "Worker", Email: "w@acme.test", Password: "worker-password", Role: "EMPLOYEE"})

	role := "manager"
	rec = app.do(http.MethodPut, "/api/admin/users/"+worker.ID, adminToken, UpdateUserRequest{Role: &role, ManagerID: &boss.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[*entity.User](t, rec).Data
	assert.Equal(t, entity.RoleManager, updated.Role)
	require.NotNil(t, updated.ManagerID)
	assert.Equal(t, boss.ID, *updated.ManagerID)

	rec = app.do(http.MethodPut, "/api/admin/users/"+worker.ID, adminToken, UpdateUserRequest{ManagerID: &worker.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPut, "/api/admin/users/nobody", adminToken, UpdateUserRequest{Role: &role})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(http.MethodGet, "/api/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*entity.User](t, rec).Data, 3)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestCORSPreflight(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/expenses", nil)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func (a *testApp) signup(company, email, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{
		CompanyName: company, Name: "Admin of " + company, Email: email, Password: password,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AuthResponse](a.t, rec).Data.Token
}

func TestTokenRoleFollowsStoredUser(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.signup("Acme", "ada@acme.test", "admin-password")

	second := app.createUser(adminToken, CreateUserRequest{
		Name: "Sam Second", Email: "sam@acme.test", Password: "second-password", Role: "ADMIN",
	})
	secondToken := app.login("sam@acme.test", "second-password")

	rec := app.do(http.MethodGet, "/api/admin/users", secondToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	role := "MANAGER"
	rec = app.do(http.MethodPut, "/api/admin/users/"+second.ID, adminToken, UpdateUserRequest{Role: &role})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The token still claims ADMIN; the stored role decides
	rec = app.do(http.MethodPost, "/api/admin/users", secondToken, CreateUserRequest{
		Name: "Mallory", Email: "mallory@acme.test", Password: "mallory-password", Role: "ADMIN",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(http.MethodGet, "/api/approvals/pending", secondToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkflowRejectsEmployeeApprover(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.signup("Acme", "ada@acme.test", "admin-password")
	employee := app.createUser(adminToken, CreateUserRequest{
		Name: "Eve", Email: "eve@acme.test", Password: "employee-password", Role: "EMPLOYEE",
	})

	rec := app.do(http.MethodPost, "/api/admin/workflows", adminToken, WorkflowRequest{
		Name:  "Default",
		Steps: []entity.WorkflowStep{{Sequence: 1, Approver: employee.ID}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(http.MethodPost, "/api/admin/users", adminToken, CreateUserRequest{
		Name: "Ian", Email: "ian@acme.test", Password: "intern-password", Role: "EMPLOYEE", ManagerID: employee.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiptURLCannotReachOtherCompanies(t *testing.T) {
	app := newTestApp(t)

	submit := SubmitExpenseRequest{Category: "Travel", ExpenseDate: "2025-03-10"}
	require.NoError(t, json.Unmarshal([]byte(`"42.00"`), &submit.Amount))

	// Company A stores a receipt file
	adminA := app.signup("Acme", "ada@acme.test", "admin-password")
	adminAUser := decode[AuthResponse](t, app.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "ada@acme.test", Password: "admin-password"})).Data.User
	rec := app.do(http.MethodPost, "/api/admin/workflows", adminA, WorkflowRequest{
		Name: "A", Steps: []entity.WorkflowStep{{Sequence: 1, Approver: adminAUser.ID}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(http.MethodPost, "/api/expenses", adminA, submit)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	expenseA := decode[*entity.Expense](t, rec).Data

	rec = app.upload("/api/expenses/"+expenseA.ID+"/receipt", adminA, "payslip.pdf", []byte("confidential"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	storedKey := decode[*entity.Expense](t, rec).Data.ReceiptURL
	require.NotEmpty(t, storedKey)

	// Company B tries to point its own expense at that file
	adminB := app.signup("Globex", "hank@globex.test", "admin-password")
	adminBUser := decode[AuthResponse](t, app.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "hank@globex.test", Password: "admin-password"})).Data.User
	rec = app.do(http.MethodPost, "/api/admin/workflows", adminB, WorkflowRequest{
		Name: "B", Steps: []entity.WorkflowStep{{Sequence: 1, Approver: adminBUser.ID}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, link := range []string{storedKey, "javascript:alert(1)", "//evil.test/r.pdf"} {
		stolen := submit
		stolen.ReceiptURL = link
		rec = app.do(http.MethodPost, "/api/expenses", adminB, stolen)
		assert.Equal(t, http.StatusBadRequest, rec.Code, link)
	}

	linked := submit
	linked.ReceiptURL = "https://files.globex.test/r.pdf"
	rec = app.do(http.MethodPost, "/api/expenses", adminB, linked)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	expenseB := decode[*entity.Expense](t, rec).Data

	rec = app.do(http.MethodGet, "/api/expenses/"+expenseB.ID+"/receipt", adminB, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://files.globex.test/r.pdf", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "confidential")
}
