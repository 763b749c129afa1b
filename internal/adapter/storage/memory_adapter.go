package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/market-orders/internal/core/domain"
)

// MemoryAdapter keeps users, products and orders in process memory. Every
// mutation happens under one mutex, so the conditional decrements are atomic.
type MemoryAdapter struct {
	mu           sync.Mutex
	users        map[string]domain.User
	products     map[string]domain.Product
	orders       map[string]domain.Order
	ordersByUser map[string][]string
	idempotency  map[string]time.Time
	now          func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		users:        make(map[string]domain.User),
		products:     make(map[string]domain.Product),
		orders:       make(map[string]domain.Order),
		ordersByUser: make(map[string][]string),
		idempotency:  make(map[string]time.Time),
		now:          time.Now,
	}
}

func (m *MemoryAdapter) Migrate(ctx context.Context) error { return nil }

func (m *MemoryAdapter) Ping(ctx context.Context) error { return nil }

func (m *MemoryAdapter) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryAdapter) UpdateBalancePostOrder(ctx context.Context, userID string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	u.Balance -= amount
	u.UpdatedAt = m.now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return domain.ErrUserExists
	}
	for _, u := range m.users {
		if u.Username == user.Username {
			return domain.ErrUserExists
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *MemoryAdapter) UpdateUser(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for id, u := range m.users {
		if id != user.ID && u.Username == user.Username {
			return domain.ErrUserExists
		}
	}
	current.Username = user.Username
	current.Role = user.Role
	current.UpdatedAt = user.UpdatedAt
	m.users[user.ID] = current
	return nil
}

func (m *MemoryAdapter) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return domain.ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}

func (m *MemoryAdapter) Deposit(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if amount > math.MaxInt64-u.Balance {
		return nil, domain.ErrAmountOutOfRange
	}
	u.Balance += amount
	u.UpdatedAt = m.now().UTC()
	m.users[userID] = u
	return &u, nil
}

func (m *MemoryAdapter) ResetBalance(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	u.Balance = 0
	u.UpdatedAt = m.now().UTC()
	m.users[userID] = u
	return &u, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (m *MemoryAdapter) UpdateStockPostOrder(ctx context.Context, productID string, quantity int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock < quantity {
		return domain.ErrInsufficientProductStock
	}
	p.Stock -= quantity
	p.UpdatedAt = m.now().UTC()
	m.products[productID] = p
	return nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.products[product.ID] = product
	return nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, buyerID string, basket domain.Basket) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order := domain.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		Basket:    basket,
		CreatedAt: m.now().UTC(),
	}
	m.orders[order.ID] = order
	m.ordersByUser[buyerID] = append(m.ordersByUser[buyerID], order.ID)
	return order, nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (m *MemoryAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.ordersByUser[buyerID]
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.orders[id])
	}
	return out, nil
}

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.idempotency[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.idempotency[key] = now.Add(ttl)
	return true, nil
}

// OrderCount returns the number of stored orders.
func (m *MemoryAdapter) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
