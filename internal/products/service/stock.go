package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"product-inventory/internal/products"

	"github.com/prometheus/client_golang/prometheus"
)

type StockService struct {
	store    products.StockStore
	cache    Cache
	logger   *slog.Logger
	outcomes *prometheus.CounterVec
}

// NewStockService expects outcomes to be labelled by "outcome".
func NewStockService(store products.StockStore, cache Cache, logger *slog.Logger, outcomes *prometheus.CounterVec) *StockService {
	return &StockService{
		store:    store,
		cache:    cache,
		logger:   logger,
		outcomes: outcomes,
	}
}

// Decrement removes qty units from a product inside one locked transaction.
// A missing product or insufficient stock rolls back and is reported through
// the result, not the error. Errors are infrastructure failures and leave the
// product untouched.
func (s *StockService) Decrement(ctx context.Context, orderID, productID int64, qty int) (products.DecrementResult, error) {
	tx, err := s.store.BeginStockTx(ctx)
	if err != nil {
		return products.DecrementResult{}, fmt.Errorf("begin stock tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	product, err := tx.GetForUpdate(ctx, productID)
	if errors.Is(err, products.ErrNotFound) {
		return s.abort(tx, orderID, productID, products.DecrementResult{
			Outcome:   products.OutcomeProductNotFound,
			Requested: qty,
		})
	}
	if err != nil {
		return products.DecrementResult{}, err
	}

	remaining := product.Quantity - qty
	if remaining < 0 {
		return s.abort(tx, orderID, productID, products.DecrementResult{
			Outcome:   products.OutcomeStockInsufficient,
			Requested: qty,
			Available: product.Quantity,
		})
	}

	if err := tx.SetQuantity(ctx, productID, remaining); err != nil {
		return products.DecrementResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return products.DecrementResult{}, fmt.Errorf("commit stock tx: %w", err)
	}

	// Only after the commit is durable. A failed delete is logged, not returned:
	// redelivery would decrement a second time.
	invalidate(ctx, s.cache, s.logger, productID)

	s.outcomes.WithLabelValues(string(products.OutcomeDecremented)).Inc()
	s.logger.Info("stock decremented",
		"order_id", orderID,
		"product_id", productID,
		"qty", qty,
		"remaining", remaining,
	)

	return products.DecrementResult{
		Outcome:   products.OutcomeDecremented,
		Requested: qty,
		Available: product.Quantity,
		Remaining: remaining,
	}, nil
}

func (s *StockService) abort(tx products.StockTx, orderID, productID int64, result products.DecrementResult) (products.DecrementResult, error) {
	if err := tx.Rollback(); err != nil {
		return products.DecrementResult{}, fmt.Errorf("rollback stock tx: %w", err)
	}

	s.outcomes.WithLabelValues(string(result.Outcome)).Inc()
	s.logger.Warn("stock not decremented",
		"order_id", orderID,
		"product_id", productID,
		"outcome", result.Outcome,
		"requested", result.Requested,
		"available", result.Available,
	)
	return result, nil
}
