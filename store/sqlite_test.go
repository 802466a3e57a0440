package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func product(provider, url, name string, seen time.Time) models.Product {
	return models.Product{
		Provider: provider,
		Name:     name,
		URL:      url,
		LastSeen: seen,
	}
}

func TestUpsertLatestWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := product("goat", "https://goat.test/a", "Old Name", base)
	first.Price = decimal.NewNullDecimal(decimal.RequireFromString("100.00"))
	if n, err := s.Upsert(ctx, []models.Product{first}); err != nil || n != 1 {
		t.Fatalf("first upsert n=%d err=%v", n, err)
	}
	before, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	second := product("goat", "https://goat.test/a", "New Name", base.Add(time.Hour))
	second.Price = decimal.NewNullDecimal(decimal.RequireFromString("80"))
	if n, err := s.Upsert(ctx, []models.Product{second}); err != nil || n != 1 {
		t.Fatalf("second upsert n=%d err=%v", n, err)
	}

	after, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != 1 {
		t.Fatalf("rows = %d, want 1", len(after))
	}
	got := after[0]
	if got.ID != before[0].ID {
		t.Fatalf("id changed from %d to %d", before[0].ID, got.ID)
	}
	if got.Name != "New Name" || !got.Price.Valid || !got.Price.Decimal.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("unexpected row after update: %+v", got)
	}
	if !got.LastSeen.Equal(base.Add(time.Hour)) {
		t.Fatalf("last_seen = %v, want %v", got.LastSeen, base.Add(time.Hour))
	}
}

func TestUpsertNeverRegressesLastSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	newer := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Upsert(ctx, []models.Product{product("goat", "https://goat.test/a", "A", newer)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, []models.Product{product("goat", "https://goat.test/a", "A2", newer.Add(-24*time.Hour))}); err != nil {
		t.Fatalf("upsert older: %v", err)
	}

	rows, err := s.List(ctx, "goat", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !rows[0].LastSeen.Equal(newer) {
		t.Fatalf("last_seen regressed to %v", rows[0].LastSeen)
	}
	if rows[0].Name != "A2" {
		t.Fatalf("fields should still update, got name %q", rows[0].Name)
	}
}

func TestUpsertMixedBatchCountsEveryRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var existing []models.Product
	for i := 0; i < 3; i++ {
		existing = append(existing, product("complexshop", fmt.Sprintf("https://cs.test/%d", i), "Item", now))
	}
	if _, err := s.Upsert(ctx, existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch := append([]models.Product{}, existing...)
	for i := 3; i < 10; i++ {
		batch = append(batch, product("complexshop", fmt.Sprintf("https://cs.test/%d", i), "Item", now))
	}
	n, err := s.Upsert(ctx, batch)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 10 {
		t.Fatalf("upsert count = %d, want 10", n)
	}
	rows, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("rows = %d, want 10", len(rows))
	}
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := []models.Product{
		product("goat", "https://goat.test/ok", "Fine", now),
		product("goat", "https://goat.test/bad", "", now),
	}
	n, err := s.Upsert(ctx, batch)
	if err == nil {
		t.Fatalf("expected an error for an empty name")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if n != 0 {
		t.Fatalf("count = %d on failure, want 0", n)
	}

	rows, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d after rollback, want 0", len(rows))
	}
}

func TestListOrderingFilterAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := []models.Product{
		product("goat", "https://goat.test/1", "G1", base),
		product("goat", "https://goat.test/2", "G2", base.Add(2*time.Hour)),
		product("universalstore", "https://us.test/1", "U1", base.Add(time.Hour)),
	}
	if _, err := s.Upsert(ctx, batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"G2", "U1", "G1"}
	for i, name := range want {
		if all[i].Name != name {
			t.Fatalf("order[%d] = %s, want %s", i, all[i].Name, name)
		}
	}

	goat, err := s.List(ctx, "goat", 1)
	if err != nil {
		t.Fatalf("list goat: %v", err)
	}
	if len(goat) != 1 || goat[0].Name != "G2" {
		t.Fatalf("filtered list = %+v", goat)
	}

	none, err := s.List(ctx, "complexshop", 10)
	if err != nil {
		t.Fatalf("list empty provider: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", none)
	}
}

func TestRoundTripOptionalFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := product("complexshop", "https://cs.test/x", "Tee", time.Now().UTC())
	p.Price = decimal.NewNullDecimal(decimal.RequireFromString("29.95"))
	p.Currency = "USD"
	p.Brand = "Complex"
	p.Description = "A shirt"
	p.Images = models.StringList{"https://cs.test/x.jpg"}
	p.Categories = models.StringList{"apparel", "tops"}
	p.Metadata = models.Metadata{"raw_price": "$29.95"}

	bare := product("goat", "https://goat.test/y", "Shoe", time.Now().UTC())

	if _, err := s.Upsert(ctx, []models.Product{p, bare}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	full, err := s.List(ctx, "complexshop", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := full[0]
	if !got.Price.Decimal.Equal(p.Price.Decimal) || got.Currency != "USD" || got.Brand != "Complex" || got.Description != "A shirt" {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if len(got.Images) != 1 || got.Images[0] != "https://cs.test/x.jpg" {
		t.Fatalf("images = %v", got.Images)
	}
	if len(got.Categories) != 2 || got.Categories[1] != "tops" {
		t.Fatalf("categories = %v", got.Categories)
	}
	if got.Metadata["raw_price"] != "$29.95" {
		t.Fatalf("metadata = %v", got.Metadata)
	}

	empty, err := s.List(ctx, "goat", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if empty[0].Price.Valid || empty[0].Currency != "" || len(empty[0].Images) != 0 {
		t.Fatalf("absent fields should stay absent: %+v", empty[0])
	}
}

func TestUpsertEmptyBatch(t *testing.T) {
	s := openTestStore(t)
	n, err := s.Upsert(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("empty batch n=%d err=%v", n, err)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x", 1); err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
}
