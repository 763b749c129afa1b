package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/port"
)

// UserService manages user accounts and buyer deposits.
type UserService struct {
	users port.UserRepository
	log   *slog.Logger
}

func NewUserService(users port.UserRepository, log *slog.Logger) *UserService {
	return &UserService{users: users, log: log}
}

func (s *UserService) CreateUser(ctx context.Context, username string, role domain.Role) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user created", "user_id", user.ID, "role", user.Role)
	return &user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUser(ctx, userID)
}

// UpdateUser changes the username and role. Empty values keep the
// current ones. The balance is never touched here.
func (s *UserService) UpdateUser(ctx context.Context, userID, username string, role domain.Role) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u := strings.TrimSpace(username); u != "" {
		user.Username = u
	}
	if role != "" {
		if !role.Valid() {
			return nil, domain.ErrInvalidRole
		}
		user.Role = role
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.users.UpdateUser(ctx, *user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info("user deleted", "user_id", userID)
	return nil
}

// Deposit credits a buyer's balance.
func (s *UserService) Deposit(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := s.requireBuyer(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.Deposit(ctx, userID, amount)
}

// ResetBalance sets a buyer's balance back to zero.
func (s *UserService) ResetBalance(ctx context.Context, userID string) (*domain.User, error) {
	if err := s.requireBuyer(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.ResetBalance(ctx, userID)
}

func (s *UserService) requireBuyer(ctx context.Context, userID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != domain.RoleBuyer {
		return domain.ErrNotAuthorizedToPerformAction
	}
	return nil
}
