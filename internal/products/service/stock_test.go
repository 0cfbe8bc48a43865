package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"product-inventory/internal/products"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeStockStore models row locks with one mutex per product, held from
// GetForUpdate until Commit or Rollback.
type fakeStockStore struct {
	mu       sync.Mutex
	rows     map[int64]*fakeRow
	journal  *journal
	beginErr error
	setErr   error
	commitFn func() error
}

type fakeRow struct {
	lock     sync.Mutex
	quantity int
	min      int
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func newFakeStockStore(quantities map[int64]int) *fakeStockStore {
	rows := make(map[int64]*fakeRow, len(quantities))
	for id, q := range quantities {
		rows[id] = &fakeRow{quantity: q, min: q}
	}
	return &fakeStockStore{rows: rows, journal: &journal{}}
}

func (s *fakeStockStore) quantity(id int64) int {
	s.mu.Lock()
	row := s.rows[id]
	s.mu.Unlock()
	row.lock.Lock()
	defer row.lock.Unlock()
	return row.quantity
}

func (s *fakeStockStore) BeginStockTx(_ context.Context) (products.StockTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.journal.add("begin")
	return &fakeStockTx{store: s}, nil
}

type fakeStockTx struct {
	store   *fakeStockStore
	locked  *fakeRow
	pending *int
	done    bool
}

func (t *fakeStockTx) GetForUpdate(_ context.Context, id int64) (products.Product, error) {
	t.store.mu.Lock()
	row, ok := t.store.rows[id]
	t.store.mu.Unlock()
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	row.lock.Lock()
	t.locked = row
	return products.Product{ID: id, Quantity: row.quantity}, nil
}

func (t *fakeStockTx) SetQuantity(_ context.Context, _ int64, quantity int) error {
	if t.store.setErr != nil {
		return t.store.setErr
	}
	t.pending = &quantity
	t.store.journal.add("set")
	return nil
}

func (t *fakeStockTx) Commit() error {
	if t.store.commitFn != nil {
		if err := t.store.commitFn(); err != nil {
			return err
		}
	}
	if t.pending != nil {
		t.locked.quantity = *t.pending
		if *t.pending < t.locked.min {
			t.locked.min = *t.pending
		}
	}
	t.store.journal.add("commit")
	t.release()
	return nil
}

func (t *fakeStockTx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.journal.add("rollback")
	t.release()
	return nil
}

func (t *fakeStockTx) release() {
	t.done = true
	if t.locked != nil {
		t.locked.lock.Unlock()
		t.locked = nil
	}
}

type journalCache struct {
	*fakeCache
	journal *journal
}

func (c *journalCache) Delete(ctx context.Context, key string) error {
	c.journal.add("cache-delete " + key)
	return c.fakeCache.Delete(ctx, key)
}

func newStockService(store *fakeStockStore) (*StockService, *journalCache) {
	cache := &journalCache{fakeCache: newFakeCache(), journal: store.journal}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t_stock", Help: "t"}, []string{"outcome"})
	return NewStockService(store, cache, testLogger(), outcomes), cache
}

func TestDecrement(t *testing.T) {
	tests := []struct {
		name        string
		quantities  map[int64]int
		productID   int64
		qty         int
		want        products.DecrementResult
		wantQty     int
		wantJournal []string
	}{
		{
			name:       "sufficient stock commits then invalidates",
			quantities: map[int64]int{101: 10},
			productID:  101,
			qty:        5,
			want: products.DecrementResult{
				Outcome:   products.OutcomeDecremented,
				Requested: 5,
				Available: 10,
				Remaining: 5,
			},
			wantQty:     5,
			wantJournal: []string{"begin", "set", "commit", "cache-delete products:id:101"},
		},
		{
			name:       "exact stock reaches zero",
			quantities: map[int64]int{101: 5},
			productID:  101,
			qty:        5,
			want: products.DecrementResult{
				Outcome:   products.OutcomeDecremented,
				Requested: 5,
				Available: 5,
			},
			wantQty:     0,
			wantJournal: []string{"begin", "set", "commit", "cache-delete products:id:101"},
		},
		{
			name:       "insufficient stock rolls back",
			quantities: map[int64]int{101: 3},
			productID:  101,
			qty:        5,
			want: products.DecrementResult{
				Outcome:   products.OutcomeStockInsufficient,
				Requested: 5,
				Available: 3,
			},
			wantQty:     3,
			wantJournal: []string{"begin", "rollback"},
		},
		{
			name:       "missing product rolls back",
			quantities: map[int64]int{101: 3},
			productID:  404,
			qty:        1,
			want: products.DecrementResult{
				Outcome:   products.OutcomeProductNotFound,
				Requested: 1,
			},
			wantJournal: []string{"begin", "rollback"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStockStore(tt.quantities)
			svc, _ := newStockService(store)

			got, err := svc.Decrement(context.Background(), 1, tt.productID, tt.qty)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("want %+v, got %+v", tt.want, got)
			}
			if _, ok := tt.quantities[tt.productID]; ok {
				if q := store.quantity(tt.productID); q != tt.wantQty {
					t.Fatalf("want quantity %d, got %d", tt.wantQty, q)
				}
			}

			journal := store.journal.list()
			if len(journal) != len(tt.wantJournal) {
				t.Fatalf("want journal %v, got %v", tt.wantJournal, journal)
			}
			for i := range journal {
				if journal[i] != tt.wantJournal[i] {
					t.Fatalf("want journal %v, got %v", tt.wantJournal, journal)
				}
			}
		})
	}
}

func TestDecrement_InfrastructureFailures(t *testing.T) {
	errBoom := errors.New("connection reset")

	tests := []struct {
		name  string
		setup func(s *fakeStockStore)
	}{
		{name: "begin fails", setup: func(s *fakeStockStore) { s.beginErr = errBoom }},
		{name: "set fails", setup: func(s *fakeStockStore) { s.setErr = errBoom }},
		{name: "commit fails", setup: func(s *fakeStockStore) { s.commitFn = func() error { return errBoom } }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStockStore(map[int64]int{101: 10})
			tt.setup(store)
			svc, cache := newStockService(store)

			_, err := svc.Decrement(context.Background(), 1, 101, 5)
			if !errors.Is(err, errBoom) {
				t.Fatalf("want %v, got %v", errBoom, err)
			}
			if q := store.quantity(101); q != 10 {
				t.Fatalf("want quantity untouched at 10, got %d", q)
			}
			if d := cache.deleted(); len(d) != 0 {
				t.Fatalf("want no cache invalidation, got %v", d)
			}
		})
	}
}

func TestDecrement_CacheDeleteFailureIsNotAnError(t *testing.T) {
	store := newFakeStockStore(map[int64]int{101: 10})
	svc, cache := newStockService(store)
	cache.delErr = errors.New("redis down")

	got, err := svc.Decrement(context.Background(), 1, 101, 4)
	if err != nil {
		t.Fatalf("committed decrement must not fail on cache errors, got %v", err)
	}
	if got.Outcome != products.OutcomeDecremented || store.quantity(101) != 6 {
		t.Fatalf("unexpected result %+v, quantity %d", got, store.quantity(101))
	}
}

func TestDecrement_RepeatedScenario(t *testing.T) {
	store := newFakeStockStore(map[int64]int{101: 8})
	svc, cache := newStockService(store)
	ctx := context.Background()

	first, err := svc.Decrement(ctx, 1, 101, 5)
	if err != nil || first.Outcome != products.OutcomeDecremented || first.Remaining != 3 {
		t.Fatalf("first: %+v, %v", first, err)
	}

	second, err := svc.Decrement(ctx, 2, 101, 5)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	want := products.DecrementResult{Outcome: products.OutcomeStockInsufficient, Requested: 5, Available: 3}
	if second != want {
		t.Fatalf("want %+v, got %+v", want, second)
	}
	if d := cache.deleted(); len(d) != 1 {
		t.Fatalf("want exactly one invalidation, got %v", d)
	}
}

func TestDecrement_ConcurrentSameProduct(t *testing.T) {
	const initial = 40
	requests := []int{7, 3, 9, 1, 12, 5, 5, 2, 8, 4, 6, 11, 3, 1, 2, 10}

	store := newFakeStockStore(map[int64]int{7: initial})
	svc, cache := newStockService(store)

	results := make([]products.DecrementResult, len(requests))
	var wg sync.WaitGroup
	for i, qty := range requests {
		wg.Add(1)
		go func(i, qty int) {
			defer wg.Done()
			res, err := svc.Decrement(context.Background(), int64(i+1), 7, qty)
			if err != nil {
				t.Errorf("decrement %d: %v", i, err)
				return
			}
			results[i] = res
		}(i, qty)
	}
	wg.Wait()

	decremented := 0
	successes := 0
	for i, res := range results {
		switch res.Outcome {
		case products.OutcomeDecremented:
			successes++
			decremented += requests[i]
			if res.Remaining != res.Available-requests[i] {
				t.Fatalf("inconsistent result %+v", res)
			}
		case products.OutcomeStockInsufficient:
			if res.Available >= requests[i] {
				t.Fatalf("rejected a satisfiable request: %+v", res)
			}
		default:
			t.Fatalf("unexpected outcome %+v", res)
		}
	}

	final := store.quantity(7)
	if final != initial-decremented {
		t.Fatalf("want final quantity %d, got %d", initial-decremented, final)
	}
	if store.rows[7].min < 0 {
		t.Fatalf("quantity went negative: %d", store.rows[7].min)
	}
	if d := cache.deleted(); len(d) != successes {
		t.Fatalf("want %d invalidations, got %d", successes, len(d))
	}
}
