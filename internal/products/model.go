package products

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound        = errors.New("product not found")
	ErrInvalidName     = errors.New("product name is required")
	ErrInvalidPrice    = errors.New("product price must be non-negative")
	ErrInvalidQuantity = errors.New("product quantity must be non-negative")
	ErrEmptyUpdate     = errors.New("update must change at least one field")
	ErrInvalidOrder    = errors.New("order event must carry positive orderID, productID and qty")
	ErrLockTimeout     = errors.New("product row lock wait timed out")
)

const cacheKeyPrefix = "products:id:"

type Product struct {
	ID        int64     `json:"id" example:"1"`
	Name      string    `json:"name" example:"iPhone 16"`
	Price     float64   `json:"price" example:"999.5"`
	Quantity  int       `json:"quantity" example:"10"`
	CreatedAt time.Time `json:"created_at" example:"2026-02-24T12:00:00Z"`
}

type NewProduct struct {
	Name     string
	Price    float64
	Quantity int
}

// ProductUpdate carries a partial update; nil fields are left untouched.
type ProductUpdate struct {
	Name     *string
	Price    *float64
	Quantity *int
}

// OrderCreated is the inbound order event. Field casing follows the order
// service producer and must stay as-is.
type OrderCreated struct {
	OrderID   int64 `json:"orderID"`
	ProductID int64 `json:"productID"`
	Qty       int   `json:"qty"`
}

func CacheKey(id int64) string {
	return cacheKeyPrefix + strconv.FormatInt(id, 10)
}
