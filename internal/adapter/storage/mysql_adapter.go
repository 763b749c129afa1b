package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/market-orders/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         VARCHAR(36) PRIMARY KEY,
		username   VARCHAR(64) NOT NULL UNIQUE,
		balance    BIGINT NOT NULL DEFAULT 0,
		role       VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT users_balance_non_negative CHECK (balance >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id         VARCHAR(36) PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		cost       BIGINT NOT NULL,
		stock      BIGINT NOT NULL,
		seller_id  VARCHAR(36) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT products_stock_non_negative CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         VARCHAR(36) PRIMARY KEY,
		buyer_id   VARCHAR(36) NOT NULL,
		product_id VARCHAR(36) NOT NULL,
		quantity   BIGINT NOT NULL,
		unit_cost  BIGINT NOT NULL,
		total      BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_orders_buyer (buyer_id, created_at)
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(m.db.QueryRowContext(ctx, `
		SELECT id, username, balance, role, created_at, updated_at
		FROM users WHERE id = ?`, userID))
}

func (m *MySQLAdapter) UpdateBalancePostOrder(ctx context.Context, userID string, amount int64) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?`,
		amount, now(), userID, amount,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if err := m.userExists(ctx, m.db, userID); err != nil {
			return err
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (id, username, balance, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Balance, user.Role, user.CreatedAt, user.UpdatedAt,
	)
	if isMySQLDuplicate(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateUser(ctx context.Context, user domain.User) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE users SET username = ?, role = ?, updated_at = ?
		WHERE id = ?`,
		user.Username, user.Role, user.UpdatedAt, user.ID,
	)
	if isMySQLDuplicate(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return m.userExists(ctx, m.db, user.ID)
	}
	return nil
}

func (m *MySQLAdapter) DeleteUser(ctx context.Context, userID string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Deposit credits amount unless the new balance would not fit in a BIGINT.
func (m *MySQLAdapter) Deposit(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	if amount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	return m.updateBalance(ctx, userID, domain.ErrAmountOutOfRange,
		`UPDATE users SET balance = balance + ?, updated_at = ? WHERE id = ? AND balance <= ?`,
		amount, now(), userID, int64(math.MaxInt64)-amount)
}

func (m *MySQLAdapter) ResetBalance(ctx context.Context, userID string) (*domain.User, error) {
	return m.updateBalance(ctx, userID, nil,
		`UPDATE users SET balance = 0, updated_at = ? WHERE id = ?`,
		now(), userID)
}

// updateBalance runs query and reads the row back in one transaction. When
// no row changes and the user exists, guardErr (if set) is returned.
func (m *MySQLAdapter) updateBalance(ctx context.Context, userID string, guardErr error, query string, args ...any) (*domain.User, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if err := m.userExists(ctx, tx, userID); err != nil {
			return nil, err
		}
		if guardErr != nil {
			return nil, guardErr
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT id, username, balance, role, created_at, updated_at
		FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, cost, stock, seller_id, created_at, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.Cost, &p.Stock, &p.SellerID, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) UpdateStockPostOrder(ctx context.Context, productID string, quantity int64) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, now(), productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := m.GetProduct(ctx, productID); err != nil {
			return err
		}
		return domain.ErrInsufficientProductStock
	}
	return nil
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, cost, stock, seller_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Cost, p.Stock, p.SellerID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, buyerID string, basket domain.Basket) (domain.Order, error) {
	order := domain.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		Basket:    basket,
		CreatedAt: now(),
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, product_id, quantity, unit_cost, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.BuyerID, basket.ProductID, basket.Quantity, basket.UnitCost, basket.Total, order.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, product_id, quantity, unit_cost, total, created_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.BuyerID, &o.Basket.ProductID, &o.Basket.Quantity, &o.Basket.UnitCost, &o.Basket.Total, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, buyer_id, product_id, quantity, unit_cost, total, created_at
		FROM orders WHERE buyer_id = ? ORDER BY created_at, id`, buyerID)
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

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (m *MySQLAdapter) userExists(ctx context.Context, q rowQuerier, userID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("query user: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

func isMySQLDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// now is truncated to the microsecond precision of DATETIME(6) / timestamptz
// so that returned values equal what is read back.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
