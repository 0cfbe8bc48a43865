package products

import "context"

type Outcome string

const (
	OutcomeDecremented       Outcome = "decremented"
	OutcomeProductNotFound   Outcome = "product_not_found"
	OutcomeStockInsufficient Outcome = "stock_insufficient"
)

// DecrementResult reports how a stock decrement ended. Business-rule
// failures are outcomes, not errors.
type DecrementResult struct {
	Outcome   Outcome
	Requested int
	Available int
	Remaining int
}

// StockStore opens transactions that serialize decrements on a product row.
type StockStore interface {
	BeginStockTx(ctx context.Context) (StockTx, error)
}

// StockTx is a single store transaction. GetForUpdate takes an exclusive row
// lock held until Commit or Rollback. Rollback after Commit is a no-op.
type StockTx interface {
	GetForUpdate(ctx context.Context, id int64) (Product, error)
	SetQuantity(ctx context.Context, id int64, quantity int) error
	Commit() error
	Rollback() error
}
