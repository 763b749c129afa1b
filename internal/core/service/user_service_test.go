package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/market-orders/internal/core/domain"
)

func newUserService() (*UserService, *mockStore) {
	store := newMockStore()
	return NewUserService(store, slog.New(slog.DiscardHandler)), store
}

func TestUserService_CreateUser(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "  alice ", domain.RoleBuyer)
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(0), u.Balance)
	assert.False(t, u.CreatedAt.IsZero())

	_, err = svc.CreateUser(ctx, "alice", domain.RoleSeller)
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = svc.CreateUser(ctx, "", domain.RoleBuyer)
	assert.ErrorIs(t, err, domain.ErrInvalidUsername)

	_, err = svc.CreateUser(ctx, "bob", domain.Role("admin"))
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestUserService_UpdateUser(t *testing.T) {
	svc, store := newUserService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "alice", domain.RoleBuyer)
	require.NoError(t, err)
	_, err = store.Deposit(ctx, u.ID, 40)
	require.NoError(t, err)

	updated, err := svc.UpdateUser(ctx, u.ID, "", domain.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.Username)
	assert.Equal(t, domain.RoleSeller, updated.Role)
	assert.Equal(t, int64(40), updated.Balance)

	_, err = svc.UpdateUser(ctx, u.ID, "", domain.Role("admin"))
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	_, err = svc.UpdateUser(ctx, "ghost", "x", "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserService_DepositAndReset(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	buyer, err := svc.CreateUser(ctx, "buyer", domain.RoleBuyer)
	require.NoError(t, err)
	seller, err := svc.CreateUser(ctx, "seller", domain.RoleSeller)
	require.NoError(t, err)

	got, err := svc.Deposit(ctx, buyer.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Balance)

	_, err = svc.Deposit(ctx, buyer.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Deposit(ctx, seller.ID, 10)
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedToPerformAction)

	_, err = svc.Deposit(ctx, "ghost", 10)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	got, err = svc.ResetBalance(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	_, err = svc.ResetBalance(ctx, seller.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedToPerformAction)
}

func TestUserService_DeleteUser(t *testing.T) {
	svc, _ := newUserService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "alice", domain.RoleBuyer)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, u.ID))
	assert.ErrorIs(t, svc.DeleteUser(ctx, u.ID), domain.ErrUserNotFound)

	_, err = svc.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
