package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/password"
	"github.com/keystonehq/identity/internal/repository"
)

// EnsureAdmin creates a default admin user at startup when ADMIN_EMAIL and
// ADMIN_PASSWORD are configured. A no-op otherwise, and idempotent when the
// user already exists.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, hasher, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:              node.Generate().Int64(),
		Email:           email,
		PasswordHash:    hashed,
		FirstName:       "Admin",
		LastName:        "User",
		Roles:           []domain.Role{domain.RoleAdmin},
		IsEmailVerified: true,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
