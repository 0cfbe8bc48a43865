package repository

import (
	"database/sql"
	"fmt"

	"product-inventory/internal/products"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (products.Product, error) {
	var p products.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt); err != nil {
		return products.Product{}, err
	}
	return p, nil
}

func scanProducts(rows *sql.Rows) ([]products.Product, error) {
	list := make([]products.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		list = append(list, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return list, nil
}
