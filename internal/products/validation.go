package products

import (
	"math"
	"strings"
)

func ValidateNew(p NewProduct) (NewProduct, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return NewProduct{}, ErrInvalidName
	}
	if !validPrice(p.Price) {
		return NewProduct{}, ErrInvalidPrice
	}
	if p.Quantity < 0 {
		return NewProduct{}, ErrInvalidQuantity
	}
	return p, nil
}

func ValidateUpdate(u ProductUpdate) (ProductUpdate, error) {
	if u.Name == nil && u.Price == nil && u.Quantity == nil {
		return ProductUpdate{}, ErrEmptyUpdate
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return ProductUpdate{}, ErrInvalidName
		}
		u.Name = &name
	}
	if u.Price != nil && !validPrice(*u.Price) {
		return ProductUpdate{}, ErrInvalidPrice
	}
	if u.Quantity != nil && *u.Quantity < 0 {
		return ProductUpdate{}, ErrInvalidQuantity
	}
	return u, nil
}

func ValidateOrder(o OrderCreated) error {
	if o.OrderID <= 0 || o.ProductID <= 0 || o.Qty <= 0 {
		return ErrInvalidOrder
	}
	return nil
}

func validPrice(price float64) bool {
	return price >= 0 && !math.IsInf(price, 0) && !math.IsNaN(price)
}
