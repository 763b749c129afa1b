package domain

import "time"

// Listing bounds. MaxProductCost * MaxProductStock fits in an int64.
const (
	MaxProductCost  int64 = 1_000_000_000_000
	MaxProductStock int64 = 1_000_000
)

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Cost      int64     `json:"cost"`
	Stock     int64     `json:"stock"`
	SellerID  string    `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
