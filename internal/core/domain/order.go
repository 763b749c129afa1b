package domain

import "time"

// Basket is the priced line attached to an order. Total is computed once
// when the order is placed and never recomputed afterwards.
type Basket struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitCost  int64  `json:"unit_cost"`
	Total     int64  `json:"total"`
}

type Order struct {
	ID        string    `json:"id"`
	BuyerID   string    `json:"buyer_id"`
	Basket    Basket    `json:"basket"`
	CreatedAt time.Time `json:"created_at"`
}

type SettlementStatus string

const (
	SettlementOK             SettlementStatus = "ok"
	SettlementPartialFailure SettlementStatus = "partial_failure"
)

// Settlement reports what happened to the stock and balance updates that
// follow a persisted order. A nil error means the update was applied.
type Settlement struct {
	Status     SettlementStatus
	StockErr   error
	BalanceErr error
}

func (s Settlement) Failed() bool {
	return s.Status == SettlementPartialFailure
}

// OrderResult is returned for every persisted order, settled or not.
type OrderResult struct {
	Order      Order
	Settlement Settlement
}
