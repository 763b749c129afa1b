package logic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/market-orders/internal/core/domain"
)

func TestIsProductAvailable(t *testing.T) {
	product := domain.Product{ID: "p-1", Cost: 10, Stock: 5}

	tests := []struct {
		name     string
		quantity int64
		want     bool
	}{
		{name: "below stock", quantity: 1, want: true},
		{name: "exactly stock", quantity: 5, want: true},
		{name: "above stock", quantity: 6, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsProductAvailable(product, tc.quantity))
		})
	}
}

func TestIsProductAvailable_EmptyStock(t *testing.T) {
	assert.False(t, IsProductAvailable(domain.Product{Stock: 0}, 1))
}

func TestGetBalance(t *testing.T) {
	assert.Equal(t, int64(25), GetBalance(domain.User{ID: "u-1", Balance: 25}))
	assert.Equal(t, int64(0), GetBalance(domain.User{ID: "u-2"}))
}

func TestTotalCost(t *testing.T) {
	tests := []struct {
		name     string
		cost     int64
		quantity int64
		want     int64
		wantErr  error
	}{
		{name: "simple", cost: 10, quantity: 2, want: 20},
		{name: "free product", cost: 0, quantity: 7, want: 0},
		{name: "largest listing", cost: domain.MaxProductCost, quantity: domain.MaxProductStock, want: domain.MaxProductCost * domain.MaxProductStock},
		{name: "exactly max int64", cost: math.MaxInt64, quantity: 1, want: math.MaxInt64},
		{name: "wraps to zero", cost: 1 << 62, quantity: 4, wantErr: domain.ErrAmountOutOfRange},
		{name: "one past max", cost: math.MaxInt64/2 + 1, quantity: 2, wantErr: domain.ErrAmountOutOfRange},
		{name: "negative cost", cost: -1, quantity: 1, wantErr: domain.ErrAmountOutOfRange},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TotalCost(domain.Product{Cost: tc.cost}, tc.quantity)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetOrderBasket(t *testing.T) {
	basket := GetOrderBasket("p-1", 2, 20)

	assert.Equal(t, domain.Basket{
		ProductID: "p-1",
		Quantity:  2,
		UnitCost:  10,
		Total:     20,
	}, basket)
}

func TestGetOrderBasket_ZeroQuantityKeepsTotal(t *testing.T) {
	basket := GetOrderBasket("p-1", 0, 0)
	assert.Equal(t, int64(0), basket.UnitCost)
	assert.Equal(t, int64(0), basket.Total)
}
