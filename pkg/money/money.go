package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Currency identifies one of the supported settlement currencies.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	INR Currency = "INR"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrAmountOverflow  = errors.New("amount overflows int64")
)

// ParseCurrency parses a currency code. Matching is case-insensitive;
// anything outside the supported set is rejected.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(s)) {
	case USD:
		return USD, nil
	case EUR:
		return EUR, nil
	case GBP:
		return GBP, nil
	case INR:
		return INR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
}

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case USD, EUR, GBP, INR:
		return true
	}
	return false
}

// DecimalPlaces returns the number of minor-unit digits for the currency.
// All supported currencies use two (cents, pence, paise).
func (c Currency) DecimalPlaces() int {
	return 2
}

// Symbol returns the display symbol for the currency.
func (c Currency) Symbol() string {
	switch c {
	case USD:
		return "$"
	case EUR:
		return "€"
	case GBP:
		return "£"
	case INR:
		return "₹"
	default:
		return "?"
	}
}

func (c Currency) String() string {
	return string(c)
}

// CheckedAdd returns a+b, failing instead of wrapping on signed overflow.
// Both operands are expected to be non-negative minor-unit amounts.
func CheckedAdd(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// Format renders a minor-unit amount as a human-readable decimal string,
// e.g. 150050 USD → "1500.50".
func Format(amount int64, c Currency) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	places := c.DecimalPlaces()
	div := int64(1)
	for i := 0; i < places; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, amount/div, places, amount%div)
}
