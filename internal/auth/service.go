package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

// AdminChecker answers the canonical admin-like check.
type AdminChecker interface {
	IsAdminLike(ctx context.Context, userID int64) bool
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	admins   AdminChecker
	validate *validator.Validate
	logger   *slog.Logger
	cost     int
}

// Option customises the Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// NewService constructs a new Service.
func NewService(repo Repository, admins AdminChecker, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		admins:   admins,
		validate: validator.New(),
		logger:   logger,
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup registers a pending account awaiting admin approval.
func (s *Service) Signup(ctx context.Context, input SignupInput) (*User, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("auth: signup: %v: %w", err, shared.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, input.Email, input.Name, string(hash))
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", slog.Int64("user_id", user.ID))
	return user, nil
}

// Authenticate validates email/password credentials. Accounts that are not
// approved may only sign in when they are admin-like.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if user.Status != users.StatusApproved && !s.isAdmin(ctx, user.ID) {
		return nil, fmt.Errorf("auth: account %s: %w", user.Status, shared.ErrForbidden)
	}
	return user, nil
}

// ResolveIdentity maps the session user to an Identity. The second result
// is false for anonymous sessions and for users that no longer exist.
func (s *Service) ResolveIdentity(ctx context.Context, sess *shared.Session) (shared.Identity, bool, error) {
	if sess == nil || sess.User() == "" {
		return shared.Identity{}, false, nil
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil || id <= 0 {
		return shared.Identity{}, false, nil
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Identity{}, false, nil
		}
		return shared.Identity{}, false, err
	}
	return shared.Identity{UserID: user.ID, Status: string(user.Status)}, true, nil
}

// MayProceed reports whether the identity can use approved-only routes.
func (s *Service) MayProceed(ctx context.Context, id shared.Identity) bool {
	return id.Approved() || s.isAdmin(ctx, id.UserID)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *Service) isAdmin(ctx context.Context, userID int64) bool {
	return s.admins != nil && s.admins.IsAdminLike(ctx, userID)
}
