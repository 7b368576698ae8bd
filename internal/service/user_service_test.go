package service_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/service"
)

func newUserFixture(t *testing.T) (*service.UserService, *fixture) {
	t.Helper()
	f := newFixture(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	users := service.NewUserService(f.users, f.tokens, f.audit, node, zap.NewNop())
	return users, f
}

func TestGetProfileStripsSensitiveFields(t *testing.T) {
	ctx := context.Background()
	users, f := newUserFixture(t)
	user := f.registerVerified(t, "alice@example.com", "s3cret-password")

	profile, err := users.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", profile.Email)
	require.Equal(t, "Test", profile.FirstName)

	_, err = users.GetProfile(ctx, 999)
	require.Equal(t, "not_found", authCode(t, err))
}

func TestUpdateProfilePartialFields(t *testing.T) {
	ctx := context.Background()
	users, f := newUserFixture(t)
	user := f.registerVerified(t, "bob@example.com", "s3cret-password")

	newFirst := "Robert"
	updated, err := users.UpdateProfile(ctx, user.ID, &newFirst, nil)
	require.NoError(t, err)
	require.Equal(t, "Robert", updated.FirstName)
	require.Equal(t, "User", updated.LastName)
}

func TestDeactivateAccountRevokesSessionsAndBlocksLogin(t *testing.T) {
	ctx := context.Background()
	users, f := newUserFixture(t)
	user := f.registerVerified(t, "carol@example.com", "s3cret-password")

	login, err := f.auth.Login(ctx, "carol@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)
	f.audit.reset()

	require.NoError(t, users.DeactivateAccount(ctx, user.ID))
	require.Equal(t, []string{domain.AuditAccountDeactivated}, f.audit.actions())

	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	require.Equal(t, "token_revoked", authCode(t, err))

	_, err = f.auth.Login(ctx, "carol@example.com", "s3cret-password", "", "", "")
	require.Equal(t, "account_deactivated", authCode(t, err))
}

func TestListUsersSanitized(t *testing.T) {
	ctx := context.Background()
	users, f := newUserFixture(t)
	f.registerVerified(t, "dave@example.com", "s3cret-password")
	f.registerVerified(t, "erin@example.com", "s3cret-password")

	list, err := users.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}
