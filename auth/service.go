package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrNotAdmin signals an admin login attempt by a client identity.
	ErrNotAdmin = errors.New("auth: not an admin account")
	// ErrPendingApproval signals a client login before an administrator approved the account.
	ErrPendingApproval = errors.New("auth: account pending approval")
)

// Service handles authentication business logic.
type Service struct {
	repo   Repository
	codec  *Codec
	logger *slog.Logger
	// dummyHash keeps the unknown-email path as slow as a wrong password.
	dummyHash string
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Role      Role
	User      User
}

// NewService creates a new authentication service.
func NewService(repo Repository, codec *Codec, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := HashPassword("signaldesk-timing-equalizer")
	return &Service{
		repo:      repo,
		codec:     codec,
		logger:    logger,
		dummyHash: dummy,
	}
}

// Register creates a pending client identity.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Surname = strings.TrimSpace(req.Surname)
	req.Email = normalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return User{}, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return User{}, err
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Name:         req.Name,
		Surname:      req.Surname,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return User{}, err
	}

	s.logger.InfoContext(ctx, "client registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login checks the password and issues a credential for the requested role.
// An empty role means client.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return LoginResult{}, err
	}
	role := req.Role
	if role == "" {
		role = RoleClient
	}

	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			CheckPassword(s.dummyHash, req.Password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !CheckPassword(user.PasswordHash, req.Password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	switch role {
	case RoleAdmin:
		if user.Role != RoleAdmin {
			return LoginResult{}, ErrNotAdmin
		}
	default:
		if !user.Approved() {
			return LoginResult{}, ErrPendingApproval
		}
	}

	token, expiresAt, err := s.codec.Issue(user.ID, role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      role,
		User:      user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// EnsureAdmin provisions seed as an approved admin with a fresh password hash.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) (User, error) {
	seed.Email = normalizeEmail(seed.Email)
	if err := seed.Validate(); err != nil {
		return User{}, fmt.Errorf("auth: admin seed %q: %w", seed.Email, err)
	}

	hash, err := HashPassword(seed.Password)
	if err != nil {
		return User{}, err
	}
	name := seed.Name
	if name == "" {
		name = "Administrator"
	}

	user, err := s.repo.UpsertAdmin(ctx, CreateUserParams{
		Name:         name,
		Email:        seed.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return User{}, err
	}
	s.logger.InfoContext(ctx, "admin provisioned", slog.String("user_id", user.ID), slog.String("email", user.Email))
	return user, nil
}

// EnsureAdmins provisions every seed, stopping at the first failure.
func (s *Service) EnsureAdmins(ctx context.Context, seeds []AdminSeed) error {
	for _, seed := range seeds {
		if _, err := s.EnsureAdmin(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}
