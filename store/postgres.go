package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	provider    TEXT NOT NULL CHECK (length(provider) > 0),
	name        TEXT NOT NULL CHECK (length(name) > 0),
	url         TEXT NOT NULL CHECK (length(url) > 0),
	price       NUMERIC,
	currency    TEXT,
	images      JSONB NOT NULL DEFAULT '[]',
	description TEXT,
	brand       TEXT,
	categories  JSONB NOT NULL DEFAULT '[]',
	metadata    JSONB NOT NULL DEFAULT '{}',
	last_seen   TIMESTAMPTZ NOT NULL,
	CONSTRAINT products_provider_url_key UNIQUE (provider, url)
);
CREATE INDEX IF NOT EXISTS idx_products_last_seen ON products (last_seen DESC);
`

// PostgresStore is the shared, server backed store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("parse dsn: %w", err)}
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return &StoreError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, products []models.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &StoreError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	n := 0
	for i := range products {
		if err := upsertPostgres(ctx, tx, products[i]); err != nil {
			return 0, &StoreError{Op: "upsert", Err: fmt.Errorf("%s %s: %w", products[i].Provider, products[i].URL, err)}
		}
		n++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &StoreError{Op: "commit", Err: err}
	}
	return n, nil
}

func upsertPostgres(ctx context.Context, tx pgx.Tx, p models.Product) error {
	args, err := argsFor(p)
	if err != nil {
		return err
	}
	seen := p.LastSeen.UTC()

	var (
		id     int64
		stored time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, last_seen FROM products WHERE provider = $1 AND url = $2 FOR UPDATE`,
		p.Provider, p.URL,
	).Scan(&id, &stored)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO products
			(provider, name, url, price, currency, images, description, brand, categories, metadata, last_seen)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6::jsonb, $7, $8, $9::jsonb, $10::jsonb, $11)`,
			p.Provider, p.Name, p.URL, args.price, args.currency, args.images,
			args.desc, args.brand, args.categories, args.metadata, seen,
		)
		return err
	case err != nil:
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE products
		SET name = $1, price = $2::text::numeric, currency = $3, images = $4::jsonb,
		    description = $5, brand = $6, categories = $7::jsonb, metadata = $8::jsonb,
		    last_seen = GREATEST(last_seen, $9)
		WHERE id = $10`,
		p.Name, args.price, args.currency, args.images, args.desc, args.brand,
		args.categories, args.metadata, seen, id,
	)
	return err
}

func (s *PostgresStore) List(ctx context.Context, provider string, limit int) ([]models.Product, error) {
	query := `SELECT id, provider, name, url, price::text, COALESCE(currency, ''), images::text,
		COALESCE(description, ''), COALESCE(brand, ''), categories::text, metadata::text, last_seen
		FROM products`
	var args []any
	if provider != "" {
		args = append(args, provider)
		query += fmt.Sprintf(` WHERE provider = $%d`, len(args))
	}
	query += ` ORDER BY last_seen DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Provider, &p.Name, &p.URL, &p.Price, &p.Currency, &p.Images,
			&p.Description, &p.Brand, &p.Categories, &p.Metadata, &p.LastSeen); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		p.LastSeen = p.LastSeen.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return products, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
