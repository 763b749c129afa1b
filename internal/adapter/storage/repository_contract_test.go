package storage

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/port"
)

// runRepositoryContract exercises behaviour every port.DatabaseRepository
// must share. IDs are random so the suite can run against a live database.
func runRepositoryContract(t *testing.T, repo port.DatabaseRepository) {
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Ping(ctx))

	newUser := func(t *testing.T, balance int64, role domain.Role) domain.User {
		t.Helper()
		ts := time.Now().UTC().Truncate(time.Microsecond)
		u := domain.User{
			ID:        uuid.NewString(),
			Username:  "user-" + uuid.NewString()[:8],
			Balance:   balance,
			Role:      role,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		require.NoError(t, repo.CreateUser(ctx, u))
		return u
	}

	newProduct := func(t *testing.T, cost, stock int64, sellerID string) domain.Product {
		t.Helper()
		ts := time.Now().UTC().Truncate(time.Microsecond)
		p := domain.Product{
			ID:        uuid.NewString(),
			Name:      "widget",
			Cost:      cost,
			Stock:     stock,
			SellerID:  sellerID,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		require.NoError(t, repo.CreateProduct(ctx, p))
		return p
	}

	t.Run("user round trip", func(t *testing.T) {
		u := newUser(t, 25, domain.RoleBuyer)

		got, err := repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Username, got.Username)
		assert.Equal(t, int64(25), got.Balance)
		assert.Equal(t, domain.RoleBuyer, got.Role)

		_, err = repo.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("duplicate username", func(t *testing.T) {
		u := newUser(t, 0, domain.RoleBuyer)
		dup := u
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, repo.CreateUser(ctx, dup), domain.ErrUserExists)
	})

	t.Run("update and delete user", func(t *testing.T) {
		u := newUser(t, 0, domain.RoleBuyer)
		u.Username = "renamed-" + uuid.NewString()[:8]
		u.Role = domain.RoleSeller
		u.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.UpdateUser(ctx, u))

		got, err := repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Username, got.Username)
		assert.Equal(t, domain.RoleSeller, got.Role)

		require.NoError(t, repo.DeleteUser(ctx, u.ID))
		assert.ErrorIs(t, repo.DeleteUser(ctx, u.ID), domain.ErrUserNotFound)
		_, err = repo.GetUser(ctx, u.ID)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("deposit and reset", func(t *testing.T) {
		u := newUser(t, 5, domain.RoleBuyer)

		got, err := repo.Deposit(ctx, u.ID, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(25), got.Balance)

		got, err = repo.ResetBalance(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Balance)

		_, err = repo.Deposit(ctx, uuid.NewString(), 1)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("deposit never wraps the balance", func(t *testing.T) {
		u := newUser(t, 0, domain.RoleBuyer)

		got, err := repo.Deposit(ctx, u.ID, math.MaxInt64)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), got.Balance)

		_, err = repo.Deposit(ctx, u.ID, 1)
		assert.ErrorIs(t, err, domain.ErrAmountOutOfRange)

		got, err = repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), got.Balance)

		require.NoError(t, repo.UpdateBalancePostOrder(ctx, u.ID, 10))
		got, err = repo.Deposit(ctx, u.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), got.Balance)
	})

	t.Run("conditional balance decrement", func(t *testing.T) {
		u := newUser(t, 25, domain.RoleBuyer)

		require.NoError(t, repo.UpdateBalancePostOrder(ctx, u.ID, 20))
		assert.ErrorIs(t, repo.UpdateBalancePostOrder(ctx, u.ID, 20), domain.ErrInsufficientFunds)

		got, err := repo.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Balance)

		assert.ErrorIs(t, repo.UpdateBalancePostOrder(ctx, uuid.NewString(), 1), domain.ErrUserNotFound)
	})

	t.Run("conditional stock decrement", func(t *testing.T) {
		seller := newUser(t, 0, domain.RoleSeller)
		p := newProduct(t, 10, 5, seller.ID)

		require.NoError(t, repo.UpdateStockPostOrder(ctx, p.ID, 2))
		assert.ErrorIs(t, repo.UpdateStockPostOrder(ctx, p.ID, 4), domain.ErrInsufficientProductStock)

		got, err := repo.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Stock)
		assert.Equal(t, int64(10), got.Cost)
		assert.Equal(t, seller.ID, got.SellerID)

		assert.ErrorIs(t, repo.UpdateStockPostOrder(ctx, uuid.NewString(), 1), domain.ErrProductNotFound)
		_, err = repo.GetProduct(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("concurrent stock decrements never oversell", func(t *testing.T) {
		seller := newUser(t, 0, domain.RoleSeller)
		p := newProduct(t, 1, 10, seller.ID)

		var sold atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.UpdateStockPostOrder(ctx, p.ID, 1)
				if err == nil {
					sold.Add(1)
					return
				}
				assert.ErrorIs(t, err, domain.ErrInsufficientProductStock)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), sold.Load())
		got, err := repo.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Stock)
	})

	t.Run("orders", func(t *testing.T) {
		buyer := newUser(t, 100, domain.RoleBuyer)
		basket := domain.Basket{ProductID: uuid.NewString(), Quantity: 2, UnitCost: 10, Total: 20}

		first, err := repo.CreateOrder(ctx, buyer.ID, basket)
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, buyer.ID, first.BuyerID)
		assert.Equal(t, basket, first.Basket)
		assert.False(t, first.CreatedAt.IsZero())

		second, err := repo.CreateOrder(ctx, buyer.ID, basket)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		got, err := repo.GetOrder(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, basket, got.Basket)

		list, err := repo.ListOrdersByBuyer(ctx, buyer.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		empty, err := repo.ListOrdersByBuyer(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, empty)

		_, err = repo.GetOrder(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}
