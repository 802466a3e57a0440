package parser

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-dispatch/models"
	"github.com/shopspring/decimal"
)

// ValidateProduct ensures the adapter captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Provider) == "" {
		return fmt.Errorf("product missing provider for %s", p.URL)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name for %s", p.URL)
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url for %s", p.Name)
	}
	if p.Price.Valid && p.Price.Decimal.IsNegative() {
		return fmt.Errorf("product has negative price for %s", p.URL)
	}
	return nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ParsePrice extracts a decimal amount from a display price such as
// "$1,299.00" or "AUD 45.50". Thousands separators are dropped and only
// digits and the decimal point are kept. Empty input yields an invalid value.
func ParsePrice(raw string) decimal.NullDecimal {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) || r == '.' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.Trim(digits.String(), "."))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// PriceFromCents converts an integer amount of cents to a decimal price.
// Zero is treated as unknown.
func PriceFromCents(cents int64) decimal.NullDecimal {
	if cents <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.New(cents, -2), Valid: true}
}

// HasLetters reports whether the text contains any letter.
func HasLetters(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ResolveURL makes ref absolute against base. Empty refs resolve to "".
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
