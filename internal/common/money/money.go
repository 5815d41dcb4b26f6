// Package money provides minor-unit monetary amounts and decimal
// parsing/formatting for API payloads.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	INR Currency = "INR"
	BRL Currency = "BRL"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int // Number of decimal places
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
	INR: {Code: INR, MinorUnits: 2, Symbol: "₹"},
	BRL: {Code: BRL, MinorUnits: 2, Symbol: "R$"},
}

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// IsSupported reports whether the currency is known to the registry.
func IsSupported(c Currency) bool {
	_, ok := currencies[c]
	return ok
}

// Money represents a monetary amount in minor units (cents, paise, etc.)
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{
		AmountMinor: amountMinor,
		Currency:    currency,
	}
}

// ParseDecimal converts a decimal major-unit string ("1234.50") into Money.
// Amounts with more precision than the currency's minor units are rejected
// rather than rounded.
func ParseDecimal(amount string, currency Currency) (Money, error) {
	info, ok := currencies[currency]
	if !ok {
		return Money{}, fmt.Errorf("unsupported currency: %s", currency)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", amount, err)
	}

	minor := d.Shift(int32(info.MinorUnits))
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("amount %q has more than %d decimal places", amount, info.MinorUnits)
	}

	return Money{AmountMinor: minor.IntPart(), Currency: currency}, nil
}

// MajorString formats the amount as a decimal major-unit string ("1234.50").
func (m Money) MajorString() string {
	info, ok := currencies[m.Currency]
	if !ok {
		info = CurrencyInfo{MinorUnits: 2}
	}
	return decimal.NewFromInt(m.AmountMinor).Shift(-int32(info.MinorUnits)).StringFixed(int32(info.MinorUnits))
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
	}, nil
}

// Sub subtracts other from m (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor - other.AmountMinor,
		Currency:    m.Currency,
	}, nil
}

// WithinTolerance reports whether two amounts of the same currency differ by
// no more than toleranceMinor minor units.
func (m Money) WithinTolerance(other Money, toleranceMinor int64) bool {
	if m.Currency != other.Currency {
		return false
	}
	diff := m.AmountMinor - other.AmountMinor
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceMinor
}

// String returns a human-readable representation like "INR 1000.00".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.MajorString())
}
