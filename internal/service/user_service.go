package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/repository"
)

// UserService covers profile reads and updates plus account deactivation.
type UserService struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	audit  repository.AuditLogRepository
	node   *snowflake.Node
	logger *zap.Logger
}

// NewUserService wires dependencies.
func NewUserService(users repository.UserRepository, tokens repository.RefreshTokenRepository, audit repository.AuditLogRepository, node *snowflake.Node, logger *zap.Logger) *UserService {
	return &UserService{users: users, tokens: tokens, audit: audit, node: node, logger: logger}
}

// GetProfile returns the sanitized user.
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*SanitizedUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("User not found")
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	sanitized := sanitizeUser(user)
	return &sanitized, nil
}

// UpdateProfile changes the name fields.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, firstName, lastName *string) (*SanitizedUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("User not found")
		}
		return nil, fmt.Errorf("update profile lookup: %w", err)
	}

	if firstName != nil {
		user.FirstName = *firstName
	}
	if lastName != nil {
		user.LastName = *lastName
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	sanitized := sanitizeUser(updated)
	return &sanitized, nil
}

// DeactivateAccount soft-deletes the account and revokes every live
// session. The record is never hard-deleted.
func (s *UserService) DeactivateAccount(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("User not found")
		}
		return fmt.Errorf("deactivate lookup: %w", err)
	}

	user.IsActive = false
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("deactivate update: %w", err)
	}

	if err := s.tokens.RevokeAllForUser(ctx, userID, time.Now()); err != nil {
		return fmt.Errorf("deactivate revoke sessions: %w", err)
	}

	entry := domain.AuditLogEntry{
		ID:       s.node.Generate().Int64(),
		UserID:   userID,
		Action:   domain.AuditAccountDeactivated,
		Resource: "USER",
		Success:  true,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
	return nil
}

// ListUsers returns all users, sanitized. Admin only at the route level.
func (s *UserService) ListUsers(ctx context.Context) ([]SanitizedUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]SanitizedUser, 0, len(users))
	for _, u := range users {
		out = append(out, sanitizeUser(u))
	}
	return out, nil
}
