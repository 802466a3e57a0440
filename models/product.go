// Package models defines data structures shared across the service.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a normalized listing collected from a provider.
// (Provider, URL) is its identity; ID is assigned by the store.
type Product struct {
	ID          int64               `json:"id,omitempty"`
	Provider    string              `json:"provider"`
	Name        string              `json:"name"`
	URL         string              `json:"url"`
	Price       decimal.NullDecimal `json:"price"`
	Currency    string              `json:"currency,omitempty"`
	Images      StringList          `json:"images"`
	Description string              `json:"description,omitempty"`
	Brand       string              `json:"brand,omitempty"`
	Categories  StringList          `json:"categories"`
	Metadata    Metadata            `json:"metadata"`
	LastSeen    time.Time           `json:"last_seen"`
}

// Key returns the logical identity of the product.
func (p *Product) Key() string {
	return p.Provider + "|" + p.URL
}

// StringList stores an ordered list of strings as a JSON column.
type StringList []string

// Value implements driver.Valuer. A nil list is stored as an empty array.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if raw == nil {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// MarshalJSON renders a nil list as [] rather than null.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Metadata holds provider specific attributes as a JSON column.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if raw == nil {
		*m = Metadata{}
		return nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalJSON renders a nil map as {}.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported type for json column")
	}
}

// CycleResult summarizes one collect-and-store cycle.
type CycleResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Providers      []string
	Succeeded      []string
	Failed         []string
	CollectedCount int
	StoredCount    int
	Err            error
}

// Duration reports how long the cycle took.
func (r *CycleResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
