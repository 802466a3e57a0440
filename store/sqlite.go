package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
	provider    TEXT NOT NULL CHECK (length(provider) > 0),
	name        TEXT NOT NULL CHECK (length(name) > 0),
	url         TEXT NOT NULL CHECK (length(url) > 0),
	price       TEXT,
	currency    TEXT,
	images      TEXT NOT NULL DEFAULT '[]',
	description TEXT,
	brand       TEXT,
	categories  TEXT NOT NULL DEFAULT '[]',
	metadata    TEXT NOT NULL DEFAULT '{}',
	last_seen   DATETIME NOT NULL,
	UNIQUE (provider, url)
);
CREATE INDEX IF NOT EXISTS idx_products_last_seen ON products (last_seen DESC);
`

// SQLiteStore is the local, file backed store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return &StoreError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, products []models.Product) (n int, err error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			n = 0
		}
	}()

	for i := range products {
		if err := s.upsertOne(ctx, tx, products[i]); err != nil {
			return 0, &StoreError{Op: "upsert", Err: fmt.Errorf("%s %s: %w", products[i].Provider, products[i].URL, err)}
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "commit", Err: err}
	}
	return n, nil
}

func (s *SQLiteStore) upsertOne(ctx context.Context, tx *sql.Tx, p models.Product) error {
	args, err := argsFor(p)
	if err != nil {
		return err
	}
	seen := p.LastSeen.UTC()

	var (
		id     int64
		stored time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, last_seen FROM products WHERE provider = ? AND url = ?`,
		p.Provider, p.URL,
	).Scan(&id, &stored)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products
			(provider, name, url, price, currency, images, description, brand, categories, metadata, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Provider, p.Name, p.URL, args.price, args.currency, args.images,
			args.desc, args.brand, args.categories, args.metadata, seen,
		)
		return err
	case err != nil:
		return err
	}

	if stored.After(seen) {
		seen = stored.UTC()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = ?, price = ?, currency = ?, images = ?, description = ?, brand = ?,
		    categories = ?, metadata = ?, last_seen = ?
		WHERE id = ?`,
		p.Name, args.price, args.currency, args.images, args.desc, args.brand,
		args.categories, args.metadata, seen, id,
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, provider string, limit int) ([]models.Product, error) {
	query := `SELECT id, provider, name, url, price, COALESCE(currency, ''), images,
		COALESCE(description, ''), COALESCE(brand, ''), categories, metadata, last_seen
		FROM products`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY last_seen DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
