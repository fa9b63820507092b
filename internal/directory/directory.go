// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package directory declares the contracts the store and product catalog
// services implement. This repository only defines the seam: deployments
// compose implementations next to the auth service, and store OwnerID
// values are the account IDs this module issues.
package directory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store is a physical or online storefront listed in the directory.
type Store struct {
	ID          ulid.ULID
	OwnerID     ulid.ULID
	Name        string
	Description string
	Address     string
	Latitude    float64
	Longitude   float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Product is one inventory entry belonging to a store.
type Product struct {
	ID          ulid.ULID
	StoreID     ulid.ULID
	Name        string
	Description string
	// PriceCents avoids floating-point money.
	PriceCents int64
	Currency   string
	InStock    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StoreDirectory manages storefront listings.
type StoreDirectory interface {
	Create(ctx context.Context, store *Store) error
	Get(ctx context.Context, id ulid.ULID) (*Store, error)
	List(ctx context.Context, limit, offset int) ([]*Store, error)
	Update(ctx context.Context, store *Store) error
	Delete(ctx context.Context, id ulid.ULID) error
}

// ProductCatalog manages the inventory of a store.
type ProductCatalog interface {
	Create(ctx context.Context, product *Product) error
	Get(ctx context.Context, id ulid.ULID) (*Product, error)
	ListByStore(ctx context.Context, storeID ulid.ULID, limit, offset int) ([]*Product, error)
	Update(ctx context.Context, product *Product) error
	Delete(ctx context.Context, id ulid.ULID) error
}

// SearchIndex answers text and proximity queries over the directory.
type SearchIndex interface {
	SearchStores(ctx context.Context, query string, limit int) ([]*Store, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]*Product, error)
	Near(ctx context.Context, lat, lng float64, radiusKM float64, limit int) ([]*Store, error)
}
