package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/market-orders/internal/core/domain"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		role       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		cost       BIGINT NOT NULL,
		stock      BIGINT NOT NULL CHECK (stock >= 0),
		seller_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         TEXT PRIMARY KEY,
		buyer_id   TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity   BIGINT NOT NULL,
		unit_cost  BIGINT NOT NULL,
		total      BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id, created_at)`,
}

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// ConnectPostgres opens a pool and verifies it with a ping.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 16
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresAdapter) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanPgUser(p.pool.QueryRow(ctx, `
		SELECT id, username, balance, role, created_at, updated_at
		FROM users WHERE id = $1`, userID))
}

func (p *PostgresAdapter) UpdateBalancePostOrder(ctx context.Context, userID string, amount int64) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2`,
		userID, amount, now(),
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := p.GetUser(ctx, userID); err != nil {
			return err
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (p *PostgresAdapter) CreateUser(ctx context.Context, user domain.User) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, username, balance, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Balance, string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if isPgUniqueViolation(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) UpdateUser(ctx context.Context, user domain.User) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE users SET username = $2, role = $3, updated_at = $4
		WHERE id = $1`,
		user.ID, user.Username, string(user.Role), user.UpdatedAt,
	)
	if isPgUniqueViolation(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (p *PostgresAdapter) DeleteUser(ctx context.Context, userID string) error {
	ct, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Deposit credits amount unless the new balance would not fit in a BIGINT.
func (p *PostgresAdapter) Deposit(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	if amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	user, err := scanPgUser(p.pool.QueryRow(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND balance <= $4
		RETURNING id, username, balance, role, created_at, updated_at`,
		userID, amount, now(), int64(math.MaxInt64)-amount))
	if errors.Is(err, domain.ErrUserNotFound) {
		if _, err := p.GetUser(ctx, userID); err != nil {
			return nil, err
		}
		return nil, domain.ErrAmountOutOfRange
	}
	return user, err
}

func (p *PostgresAdapter) ResetBalance(ctx context.Context, userID string) (*domain.User, error) {
	return scanPgUser(p.pool.QueryRow(ctx, `
		UPDATE users SET balance = 0, updated_at = $2
		WHERE id = $1
		RETURNING id, username, balance, role, created_at, updated_at`,
		userID, now()))
}

func (p *PostgresAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var pr domain.Product
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, cost, stock, seller_id, created_at, updated_at
		FROM products WHERE id = $1`, productID,
	).Scan(&pr.ID, &pr.Name, &pr.Cost, &pr.Stock, &pr.SellerID, &pr.CreatedAt, &pr.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &pr, nil
}

func (p *PostgresAdapter) UpdateStockPostOrder(ctx context.Context, productID string, quantity int64) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2`,
		productID, quantity, now(),
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := p.GetProduct(ctx, productID); err != nil {
			return err
		}
		return domain.ErrInsufficientProductStock
	}
	return nil
}

func (p *PostgresAdapter) CreateProduct(ctx context.Context, pr domain.Product) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO products (id, name, cost, stock, seller_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pr.ID, pr.Name, pr.Cost, pr.Stock, pr.SellerID, pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) CreateOrder(ctx context.Context, buyerID string, basket domain.Basket) (domain.Order, error) {
	order := domain.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		Basket:    basket,
		CreatedAt: now(),
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, product_id, quantity, unit_cost, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.BuyerID, basket.ProductID, basket.Quantity, basket.UnitCost, basket.Total, order.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (p *PostgresAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := p.pool.QueryRow(ctx, `
		SELECT id, buyer_id, product_id, quantity, unit_cost, total, created_at
		FROM orders WHERE id = $1`, orderID,
	).Scan(&o.ID, &o.BuyerID, &o.Basket.ProductID, &o.Basket.Quantity, &o.Basket.UnitCost, &o.Basket.Total, &o.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (p *PostgresAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, buyer_id, product_id, quantity, unit_cost, total, created_at
		FROM orders WHERE buyer_id = $1 ORDER BY created_at, id`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	out := []domain.Order{}
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.Basket.ProductID, &o.Basket.Quantity, &o.Basket.UnitCost, &o.Basket.Total, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanPgUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Balance, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
