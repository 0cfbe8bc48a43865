package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"product-inventory/internal/products"

	"github.com/go-sql-driver/mysql"
)

// ER_LOCK_WAIT_TIMEOUT
const mysqlLockWaitTimeout = 1205

// MySQLRepository needs a DSN with parseTime=true, see MySQLDSN.
type MySQLRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewMySQL(db *sql.DB, lockTimeout time.Duration) *MySQLRepository {
	return &MySQLRepository{db: db, lockTimeout: lockTimeout}
}

func (m *MySQLRepository) Create(ctx context.Context, p products.NewProduct) (products.Product, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO products (name, price, quantity)
		VALUES (?, ?, ?)`,
		p.Name, p.Price, p.Quantity,
	)
	if err != nil {
		return products.Product{}, fmt.Errorf("insert product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return products.Product{}, fmt.Errorf("last insert id: %w", err)
	}

	return m.Get(ctx, id)
}

func (m *MySQLRepository) Get(ctx context.Context, id int64) (products.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, `
		SELECT id, name, price, quantity, created_at
		FROM products WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (m *MySQLRepository) Update(ctx context.Context, id int64, u products.ProductUpdate) (products.Product, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *u.Price)
	}
	if u.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *u.Quantity)
	}
	if len(sets) == 0 {
		return products.Product{}, products.ErrEmptyUpdate
	}
	args = append(args, id)

	// RowsAffected is 0 for unchanged rows too, so existence is settled by the read below.
	if _, err := m.db.ExecContext(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	); err != nil {
		return products.Product{}, fmt.Errorf("update product %d: %w", id, err)
	}

	return m.Get(ctx, id)
}

func (m *MySQLRepository) Delete(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return products.ErrNotFound
	}
	return nil
}

func (m *MySQLRepository) List(ctx context.Context, limit, offset int) ([]products.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price, quantity, created_at
		FROM products
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (m *MySQLRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return total, nil
}

func (m *MySQLRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return m.db.PingContext(ctx)
}

func (m *MySQLRepository) BeginStockTx(ctx context.Context) (products.StockTx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	if m.lockTimeout > 0 {
		// innodb_lock_wait_timeout has whole-second granularity.
		seconds := int64(m.lockTimeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		if _, err := tx.ExecContext(ctx, `SET SESSION innodb_lock_wait_timeout = ?`, seconds); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("set lock wait timeout: %w", err)
		}
	}

	return &mysqlStockTx{tx: tx}, nil
}

type mysqlStockTx struct {
	tx *sql.Tx
}

func (t *mysqlStockTx) GetForUpdate(ctx context.Context, id int64) (products.Product, error) {
	p, err := scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT id, name, price, quantity, created_at
		FROM products WHERE id = ?
		FOR UPDATE`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("lock product %d: %w", id, classifyMySQL(err))
	}
	return p, nil
}

func (t *mysqlStockTx) SetQuantity(ctx context.Context, id int64, quantity int) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE products SET quantity = ? WHERE id = ?`, quantity, id); err != nil {
		return fmt.Errorf("set quantity of product %d: %w", id, classifyMySQL(err))
	}
	return nil
}

func (t *mysqlStockTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *mysqlStockTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func classifyMySQL(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlLockWaitTimeout {
		return fmt.Errorf("%w: %w", products.ErrLockTimeout, err)
	}
	return err
}

// MySQLDSN forces parseTime so created_at scans into time.Time.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
