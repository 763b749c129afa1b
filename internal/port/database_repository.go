package port

import (
	"context"

	"github.com/rl1809/market-orders/internal/core/domain"
)

type UserRepository interface {
	// GetUser returns domain.ErrUserNotFound when the user does not exist
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpdateBalancePostOrder subtracts amount only while balance >= amount,
	// returns domain.ErrInsufficientFunds otherwise
	UpdateBalancePostOrder(ctx context.Context, userID string, amount int64) error

	CreateUser(ctx context.Context, user domain.User) error
	UpdateUser(ctx context.Context, user domain.User) error
	DeleteUser(ctx context.Context, userID string) error

	// Deposit adds amount to the balance and returns the updated user
	Deposit(ctx context.Context, userID string, amount int64) (*domain.User, error)

	// ResetBalance sets the balance to zero and returns the updated user
	ResetBalance(ctx context.Context, userID string) (*domain.User, error)
}

type ProductRepository interface {
	// GetProduct returns domain.ErrProductNotFound when the product does not exist
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// UpdateStockPostOrder atomically decrements stock only while stock >= quantity,
	// returns domain.ErrInsufficientProductStock otherwise
	UpdateStockPostOrder(ctx context.Context, productID string, quantity int64) error

	CreateProduct(ctx context.Context, product domain.Product) error
}

type OrderRepository interface {
	// CreateOrder persists a new immutable order with a fresh id and timestamp
	CreateOrder(ctx context.Context, buyerID string, basket domain.Basket) (domain.Order, error)

	// GetOrder returns domain.ErrOrderNotFound when the order does not exist
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
}

// DatabaseRepository is implemented by every storage backend.
type DatabaseRepository interface {
	UserRepository
	ProductRepository
	OrderRepository

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}
