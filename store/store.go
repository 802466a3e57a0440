// Package store persists products keyed by (provider, url).
package store

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/aluiziolira/go-dispatch/models"
)

// Store is the durable product cache.
type Store interface {
	// Upsert writes the batch in one transaction. Each product updates the
	// row with the same (provider, url) or inserts a new one; any failure
	// rolls the whole batch back. The result counts every product written.
	Upsert(ctx context.Context, products []models.Product) (int, error)
	// List returns rows newest first, optionally filtered by provider.
	// A non-positive limit returns every row.
	List(ctx context.Context, provider string, limit int) ([]models.Product, error)
	Migrate(ctx context.Context) error
	Close() error
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Open connects to the configured backend.
func Open(ctx context.Context, driverName, dsn string, maxConns int) (Store, error) {
	switch driverName {
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn, maxConns)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driverName)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func priceArg(p models.Product) any {
	if !p.Price.Valid {
		return nil
	}
	return p.Price.Decimal.String()
}

func jsonArg(v driver.Valuer) (string, error) {
	raw, err := v.Value()
	if err != nil {
		return "", err
	}
	s, _ := raw.(string)
	return s, nil
}

type rowArgs struct {
	price      any
	currency   any
	images     string
	desc       any
	brand      any
	categories string
	metadata   string
}

func argsFor(p models.Product) (rowArgs, error) {
	images, err := jsonArg(p.Images)
	if err != nil {
		return rowArgs{}, fmt.Errorf("encode images: %w", err)
	}
	categories, err := jsonArg(p.Categories)
	if err != nil {
		return rowArgs{}, fmt.Errorf("encode categories: %w", err)
	}
	metadata, err := jsonArg(p.Metadata)
	if err != nil {
		return rowArgs{}, fmt.Errorf("encode metadata: %w", err)
	}
	return rowArgs{
		price:      priceArg(p),
		currency:   nullable(p.Currency),
		images:     images,
		desc:       nullable(p.Description),
		brand:      nullable(p.Brand),
		categories: categories,
		metadata:   metadata,
	}, nil
}
