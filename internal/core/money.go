// Package core provides money parsing and handling utilities.
//
// Amounts are exact decimals. User input may use either a dot (12.34) or a
// comma (12,34) as the decimal separator.
package core

import (
	"encoding/json"
	"strings"
	"unicode"

	"binledger/internal/apperror"

	"github.com/shopspring/decimal"
)

// ParseAmount converts user input to a positive amount rounded half-up to cents.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
//	ParseAmount("0")      -> InvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, apperror.InvalidAmount(raw)
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, apperror.InvalidAmount(raw)
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, apperror.InvalidAmount(raw)
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, apperror.InvalidAmount(raw)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperror.InvalidAmount(raw)
	}
	d = d.Round(2)
	if d.Sign() <= 0 {
		return decimal.Zero, apperror.InvalidAmount(raw)
	}
	return d, nil
}

// AmountFromAny reads an amount from a loosely typed stored value. Missing
// or non-numeric values yield zero.
func AmountFromAny(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", "."))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
