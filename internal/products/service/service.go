package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"product-inventory/internal/products"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type Repository interface {
	Create(ctx context.Context, p products.NewProduct) (products.Product, error)
	Get(ctx context.Context, id int64) (products.Product, error)
	Update(ctx context.Context, id int64, u products.ProductUpdate) (products.Product, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]products.Product, error)
	Count(ctx context.Context) (int64, error)
}

// Cache is a disposable key-value copy of store data. Get reports a miss with
// ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(ctx context.Context, event products.Event) error
}

type Service struct {
	repo      Repository
	cache     Cache
	publisher Publisher
	logger    *slog.Logger
	created   prometheus.Counter
	deleted   prometheus.Counter
	loads     singleflight.Group
}

func New(repo Repository, cache Cache, publisher Publisher, logger *slog.Logger, created, deleted prometheus.Counter) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		created:   created,
		deleted:   deleted,
	}
}

func (s *Service) CreateProduct(ctx context.Context, input products.NewProduct) (products.Product, error) {
	input, err := products.ValidateNew(input)
	if err != nil {
		return products.Product{}, err
	}

	product, err := s.repo.Create(ctx, input)
	if err != nil {
		return products.Product{}, fmt.Errorf("repo create: %w", err)
	}

	s.invalidate(ctx, product.ID)

	if err := s.publisher.Publish(ctx, products.ProductCreated{Product: product}); err != nil {
		s.logger.Error("publish product.created event failed",
			"product_id", product.ID,
			"error", err,
		)
	}

	s.created.Inc()
	return product, nil
}

// GetProduct reads through the cache. A cached snapshot is returned without
// consulting the store; cache failures degrade to a store read.
func (s *Service) GetProduct(ctx context.Context, id int64) (products.Product, error) {
	key := products.CacheKey(id)

	if product, ok := s.cached(ctx, key); ok {
		return product, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		product, err := s.repo.Get(ctx, id)
		if err != nil {
			return products.Product{}, err
		}
		s.populate(ctx, key, product)
		return product, nil
	})
	if err != nil {
		if errors.Is(err, products.ErrNotFound) {
			return products.Product{}, products.ErrNotFound
		}
		return products.Product{}, fmt.Errorf("repo get: %w", err)
	}

	return v.(products.Product), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, update products.ProductUpdate) (products.Product, error) {
	update, err := products.ValidateUpdate(update)
	if err != nil {
		return products.Product{}, err
	}

	product, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return products.Product{}, fmt.Errorf("repo update: %w", err)
	}

	s.invalidate(ctx, id)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("repo delete: %w", err)
	}

	s.invalidate(ctx, id)
	s.deleted.Inc()
	return nil
}

func (s *Service) ListProducts(ctx context.Context, page, limit int) ([]products.Product, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset := (page - 1) * limit

	items, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repo list: %w", err)
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("repo count: %w", err)
	}

	return items, total, nil
}

func (s *Service) cached(ctx context.Context, key string) (products.Product, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return products.Product{}, false
	}
	if !ok {
		return products.Product{}, false
	}

	var product products.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		s.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return products.Product{}, false
	}
	return product, true
}

func (s *Service) populate(ctx context.Context, key string, product products.Product) {
	raw, err := json.Marshal(product)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	invalidate(ctx, s.cache, s.logger, id)
}

func invalidate(ctx context.Context, cache Cache, logger *slog.Logger, id int64) {
	key := products.CacheKey(id)
	if err := cache.Delete(ctx, key); err != nil {
		logger.Error("cache invalidation failed", "key", key, "product_id", id, "error", err)
	}
}
