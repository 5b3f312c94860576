package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// CreateUserInput carries the fields of a user created by an admin
type CreateUserInput struct {
	Name      string
	Email     string
	Password  string
	Role      entity.Role
	ManagerID string
}

// UpdateUserInput changes a user's role and reporting line. Nil fields are
// left as they are; an empty ManagerID clears the manager.
type UpdateUserInput struct {
	Role      *entity.Role
	ManagerID *string
}

// WorkflowInput is the definition an admin submits for their company
type WorkflowInput struct {
	Name           string
	IsManagerFirst bool
	Steps          []entity.WorkflowStep
}

// AdminService manages a company's users, workflow and expense reporting
type AdminService interface {
	CreateUser(ctx context.Context, actor Actor, in CreateUserInput) (*entity.User, error)
	UpdateUser(ctx context.Context, actor Actor, userID string, in UpdateUserInput) (*entity.User, error)
	ListUsers(ctx context.Context, actor Actor) ([]*entity.User, error)
	CreateWorkflow(ctx context.Context, actor Actor, in WorkflowInput) (*entity.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, actor Actor) (*entity.WorkflowDefinition, error)
	ListCompanyExpenses(ctx context.Context, actor Actor, filter port.ExpenseFilter) ([]*entity.Expense, error)
	ExportCompanyExpenses(ctx context.Context, actor Actor, w io.Writer) error
}

type adminServiceImpl struct {
	userRepo     port.UserRepository
	workflowRepo port.WorkflowRepository
	expenseRepo  port.ExpenseRepository
	hasher       port.PasswordHasher
	exporter     port.ExpenseExporter
	events       EventPublisher
	logger       Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(
	userRepo port.UserRepository,
	workflowRepo port.WorkflowRepository,
	expenseRepo port.ExpenseRepository,
	hasher port.PasswordHasher,
	exporter port.ExpenseExporter,
	events EventPublisher,
	logger Logger,
) AdminService {
	return &adminServiceImpl{
		userRepo:     userRepo,
		workflowRepo: workflowRepo,
		expenseRepo:  expenseRepo,
		hasher:       hasher,
		exporter:     exporter,
		events:       events,
		logger:       logger,
	}
}

func (s *adminServiceImpl) CreateUser(ctx context.Context, actor Actor, in CreateUserInput) (*entity.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	name := utils.SanitizeString(in.Name)
	email := utils.NormalizeEmail(in.Email)
	role := in.Role
	if role == "" {
		role = entity.RoleEmployee
	}

	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := utils.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	var managerID *string
	if in.ManagerID != "" {
		if _, err := s.approverUser(ctx, actor.CompanyID, in.ManagerID); err != nil {
			return nil, fmt.Errorf("manager: %w", err)
		}
		id := in.ManagerID
		managerID = &id
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := utcNow()
	user := &entity.User{
		ID:           newID(),
		CompanyID:    actor.CompanyID,
		ManagerID:    managerID,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, port.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		s.logger.Error("Failed to create user", "error", err, "company_id", actor.CompanyID)
		return nil, err
	}

	s.logger.Info("User created", "user_id", user.ID, "company_id", user.CompanyID, "role", user.Role)
	return user, nil
}

func (s *adminServiceImpl) UpdateUser(ctx context.Context, actor Actor, userID string, in UpdateUserInput) (*entity.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	user, err := s.companyUser(ctx, actor.CompanyID, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if in.Role != nil {
		if !in.Role.IsValid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.Role)
		}
		if user.Role.CanApprove() && !in.Role.CanApprove() {
			if err := s.checkNoApprovalDuties(ctx, actor.CompanyID, user.ID); err != nil {
				return nil, err
			}
		}
		user.Role = *in.Role
	}

	if in.ManagerID != nil {
		switch managerID := *in.ManagerID; {
		case managerID == "":
			user.ManagerID = nil
		case managerID == user.ID:
			return nil, fmt.Errorf("%w: a user cannot manage themselves", ErrInvalidInput)
		default:
			if _, err := s.approverUser(ctx, actor.CompanyID, managerID); err != nil {
				return nil, fmt.Errorf("manager: %w", err)
			}
			user.ManagerID = &managerID
		}
	}

	user.UpdatedAt = utcNow()
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Error("Failed to update user", "error", err, "user_id", user.ID)
		return nil, err
	}

	s.logger.Info("User updated", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *adminServiceImpl) ListUsers(ctx context.Context, actor Actor) ([]*entity.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.userRepo.ListByCompany(ctx, actor.CompanyID)
}

// CreateWorkflow stores the company's workflow, replacing any previous one.
// Every approver the steps can expand to must be a MANAGER or ADMIN of the
// company.
func (s *adminServiceImpl) CreateWorkflow(ctx context.Context, actor Actor, in WorkflowInput) (*entity.WorkflowDefinition, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	name := utils.SanitizeString(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: workflow name is required", ErrInvalidInput)
	}

	users, err := s.userRepo.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list company users: %w", err)
	}
	members := make(map[string]*entity.User, len(users))
	for _, u := range users {
		members[u.ID] = u
	}

	steps := make([]entity.WorkflowStep, len(in.Steps))
	for i, step := range in.Steps {
		if step.RuleType == "" {
			step.RuleType = entity.RuleTypeNone
		}
		if step.Approver == "" {
			return nil, fmt.Errorf("%w: step %d has no approver", ErrInvalidInput, step.Sequence)
		}

		policy, err := approval.PolicyFor(step.RuleType)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidInput, step.Sequence, err)
		}
		approvers, _, err := policy.Expand(step)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidInput, step.Sequence, err)
		}
		for _, id := range approvers {
			member, ok := members[id]
			if !ok {
				return nil, fmt.Errorf("%w: step %d approver %s", ErrUnknownUser, step.Sequence, id)
			}
			if !member.Role.CanApprove() {
				return nil, fmt.Errorf("%w: step %d approver %s has role %s", ErrInvalidInput, step.Sequence, id, member.Role)
			}
		}
		steps[i] = step
	}

	existing, err := s.workflowRepo.GetByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	now := utcNow()
	wf := &entity.WorkflowDefinition{
		ID:             newID(),
		CompanyID:      actor.CompanyID,
		Name:           name,
		IsManagerFirst: in.IsManagerFirst,
		Steps:          steps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		wf.ID = existing.ID
		wf.CreatedAt = existing.CreatedAt
	}

	if err := s.workflowRepo.Save(ctx, wf); err != nil {
		s.logger.Error("Failed to save workflow", "error", err, "company_id", actor.CompanyID)
		return nil, err
	}

	s.events.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(
		event.TypeWorkflowChanged, actor.CompanyID, "", actor.UserID,
		map[string]interface{}{
			"workflow_id": wf.ID,
			"steps":       len(wf.Steps),
			"replaced":    existing != nil,
		},
	))

	s.logger.Info("Workflow saved", "workflow_id", wf.ID, "company_id", wf.CompanyID, "steps", len(wf.Steps))
	return wf, nil
}

func (s *adminServiceImpl) GetWorkflow(ctx context.Context, actor Actor) (*entity.WorkflowDefinition, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	wf, err := s.workflowRepo.GetByCompany(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, ErrNoWorkflow
	}
	return wf, nil
}

func (s *adminServiceImpl) ListCompanyExpenses(ctx context.Context, actor Actor, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.expenseRepo.ListByCompany(ctx, actor.CompanyID, filter)
}

// ExportCompanyExpenses writes every company expense as a spreadsheet to w
func (s *adminServiceImpl) ExportCompanyExpenses(ctx context.Context, actor Actor, w io.Writer) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	expenses, err := s.expenseRepo.ListByCompany(ctx, actor.CompanyID, port.ExpenseFilter{})
	if err != nil {
		return fmt.Errorf("list expenses: %w", err)
	}
	users, err := s.userRepo.ListByCompany(ctx, actor.CompanyID)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byID := make(map[string]*entity.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	if err := s.exporter.Export(ctx, w, expenses, byID); err != nil {
		s.logger.Error("Failed to export expenses", "error", err, "company_id", actor.CompanyID)
		return err
	}
	s.logger.Info("Expenses exported", "company_id", actor.CompanyID, "count", len(expenses))
	return nil
}

// companyUser loads a user and checks they belong to companyID
// approverUser loads a company user who may hold chain entries
func (s *adminServiceImpl) approverUser(ctx context.Context, companyID, userID string) (*entity.User, error) {
	user, err := s.companyUser(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	if !user.Role.CanApprove() {
		return nil, fmt.Errorf("%w: %s has role %s", ErrInvalidInput, userID, user.Role)
	}
	return user, nil
}

// checkNoApprovalDuties fails when userID still manages someone, appears in
// the company workflow or has a pending decision. Demoting such a user would
// leave chains nobody can advance.
func (s *adminServiceImpl) checkNoApprovalDuties(ctx context.Context, companyID, userID string) error {
	users, err := s.userRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return fmt.Errorf("list company users: %w", err)
	}
	for _, u := range users {
		if u.ManagerID != nil && *u.ManagerID == userID {
			return fmt.Errorf("%w: user still manages %s", ErrInvalidInput, u.ID)
		}
	}

	wf, err := s.workflowRepo.GetByCompany(ctx, companyID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf != nil {
		for _, step := range wf.Steps {
			approvers := []string{step.Approver}
			if policy, err := approval.PolicyFor(step.RuleType); err == nil {
				if expanded, _, err := policy.Expand(step); err == nil {
					approvers = expanded
				}
			}
			for _, id := range approvers {
				if id == userID {
					return fmt.Errorf("%w: user approves workflow step %d", ErrInvalidInput, step.Sequence)
				}
			}
		}
	}

	pending, err := s.expenseRepo.ListPendingFor(ctx, companyID, userID)
	if err != nil {
		return fmt.Errorf("list pending expenses: %w", err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: user has %d pending decisions", ErrInvalidInput, len(pending))
	}
	return nil
}

func (s *adminServiceImpl) companyUser(ctx context.Context, companyID, userID string) (*entity.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.CompanyID != companyID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return user, nil
}
