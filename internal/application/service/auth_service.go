package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/utils"
)

const minPasswordLength = 8

// SignupInput carries the fields needed to open a new company account
type SignupInput struct {
	CompanyName string
	Currency    string
	Name        string
	Email       string
	Password    string
}

// AuthResult is returned by successful signup and login
type AuthResult struct {
	Token   string
	User    *entity.User
	Company *entity.Company
}

// AuthService registers companies and authenticates users
type AuthService interface {
	Signup(ctx context.Context, in SignupInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	// Authenticate resolves a token's subject against the store. Role and
	// company come from the stored user, not from the token.
	Authenticate(ctx context.Context, userID string) (Actor, error)
}

type authServiceImpl struct {
	companyRepo port.CompanyRepository
	userRepo    port.UserRepository
	txManager   port.TransactionManager
	hasher      port.PasswordHasher
	tokens      port.TokenIssuer
	logger      Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	companyRepo port.CompanyRepository,
	userRepo port.UserRepository,
	txManager port.TransactionManager,
	hasher port.PasswordHasher,
	tokens port.TokenIssuer,
	logger Logger,
) AuthService {
	return &authServiceImpl{
		companyRepo: companyRepo,
		userRepo:    userRepo,
		txManager:   txManager,
		hasher:      hasher,
		tokens:      tokens,
		logger:      logger,
	}
}

// Signup creates a company together with its first ADMIN user
func (s *authServiceImpl) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	companyName := utils.SanitizeString(in.CompanyName)
	name := utils.SanitizeString(in.Name)
	email := utils.NormalizeEmail(in.Email)
	currency := utils.NormalizeCurrency(in.Currency, entity.DefaultCurrency)

	if companyName == "" || name == "" {
		return nil, fmt.Errorf("%w: company name and user name are required", ErrInvalidInput)
	}
	if err := utils.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := utils.ValidateCurrency(currency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := utcNow()
	company := &entity.Company{
		ID:              newID(),
		Name:            companyName,
		DefaultCurrency: currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	admin := &entity.User{
		ID:           newID(),
		CompanyID:    company.ID,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         entity.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.companyRepo.Create(txCtx, company); err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		if err := s.userRepo.Create(txCtx, admin); err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	})
	if errors.Is(err, port.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		s.logger.Error("Failed to sign up company", "error", err, "email", email)
		return nil, err
	}

	token, err := s.tokens.Issue(admin)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("Company signed up", "company_id", company.ID, "admin_id", admin.ID)
	return &AuthResult{Token: token, User: admin, Company: company}, nil
}

// Login verifies credentials and issues a token
func (s *authServiceImpl) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.logger.Info("Login rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *authServiceImpl) Authenticate(ctx context.Context, userID string) (Actor, error) {
	if userID == "" {
		return Actor{}, ErrInvalidCredentials
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return Actor{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return Actor{}, ErrInvalidCredentials
	}
	return Actor{UserID: user.ID, CompanyID: user.CompanyID, Role: user.Role}, nil
}

func validatePassword(password string) error {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}
