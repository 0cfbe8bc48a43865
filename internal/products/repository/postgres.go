package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"product-inventory/internal/products"

	"github.com/lib/pq"
)

const (
	healthCheckTimeout = 2 * time.Second

	// lock_not_available, raised when lock_timeout expires.
	pqLockNotAvailable = "55P03"
)

type PostgresRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPostgres(db *sql.DB, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

func (r *PostgresRepository) Create(ctx context.Context, p products.NewProduct) (products.Product, error) {
	query := `
		INSERT INTO products (name, price, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, name, price, quantity, created_at
	`

	created, err := scanProduct(r.db.QueryRowContext(ctx, query, p.Name, p.Price, p.Quantity))
	if err != nil {
		return products.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (products.Product, error) {
	query := `
		SELECT id, name, price, quantity, created_at
		FROM products
		WHERE id = $1
	`

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id int64, u products.ProductUpdate) (products.Product, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if u.Name != nil {
		args = append(args, *u.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if u.Price != nil {
		args = append(args, *u.Price)
		sets = append(sets, fmt.Sprintf("price = $%d", len(args)))
	}
	if u.Quantity != nil {
		args = append(args, *u.Quantity)
		sets = append(sets, fmt.Sprintf("quantity = $%d", len(args)))
	}
	if len(sets) == 0 {
		return products.Product{}, products.ErrEmptyUpdate
	}
	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE products SET %s
		WHERE id = $%d
		RETURNING id, name, price, quantity, created_at
	`, strings.Join(sets, ", "), len(args))

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("update product %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM products WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return products.ErrNotFound
	}

	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]products.Product, error) {
	query := `
		SELECT id, name, price, quantity, created_at
		FROM products
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return total, nil
}

func (r *PostgresRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) BeginStockTx(ctx context.Context) (products.StockTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	if r.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	return &postgresStockTx{tx: tx}, nil
}

type postgresStockTx struct {
	tx *sql.Tx
}

func (t *postgresStockTx) GetForUpdate(ctx context.Context, id int64) (products.Product, error) {
	query := `
		SELECT id, name, price, quantity, created_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`

	p, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return products.Product{}, products.ErrNotFound
	}
	if err != nil {
		return products.Product{}, fmt.Errorf("lock product %d: %w", id, classifyPostgres(err))
	}
	return p, nil
}

func (t *postgresStockTx) SetQuantity(ctx context.Context, id int64, quantity int) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE products SET quantity = $1 WHERE id = $2`, quantity, id); err != nil {
		return fmt.Errorf("set quantity of product %d: %w", id, classifyPostgres(err))
	}
	return nil
}

func (t *postgresStockTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *postgresStockTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func classifyPostgres(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
		return fmt.Errorf("%w: %w", products.ErrLockTimeout, err)
	}
	return err
}
