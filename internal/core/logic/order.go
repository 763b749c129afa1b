// Package logic holds the pure pricing and eligibility rules used when
// placing an order. Nothing here performs I/O.
package logic

import (
	"math"

	"github.com/rl1809/market-orders/internal/core/domain"
)

// IsProductAvailable reports whether the product has at least quantity
// units in stock. Quantity is validated as positive by the caller.
func IsProductAvailable(product domain.Product, quantity int64) bool {
	return product.Stock >= quantity
}

// GetBalance returns the amount the user may spend right now.
func GetBalance(user domain.User) int64 {
	return user.Balance
}

// TotalCost returns product.Cost * quantity, or ErrAmountOutOfRange when
// the product does not fit in an int64.
func TotalCost(product domain.Product, quantity int64) (int64, error) {
	if product.Cost < 0 || quantity < 0 {
		return 0, domain.ErrAmountOutOfRange
	}
	if quantity > 0 && product.Cost > math.MaxInt64/quantity {
		return 0, domain.ErrAmountOutOfRange
	}
	return product.Cost * quantity, nil
}

// GetOrderBasket builds the basket stored with the order. The unit cost is
// derived from the already computed total so the two always agree.
func GetOrderBasket(productID string, quantity, totalCost int64) domain.Basket {
	var unit int64
	if quantity > 0 {
		unit = totalCost / quantity
	}
	return domain.Basket{
		ProductID: productID,
		Quantity:  quantity,
		UnitCost:  unit,
		Total:     totalCost,
	}
}
