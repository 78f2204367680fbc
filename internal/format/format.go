// Package format renders monetary values and percentages for display.
// All rounding to two decimal places happens here.
package format

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Absent is shown in place of a value the feed did not supply.
const Absent = "—"

// Places is the number of decimal places shown for percentages and raw
// amounts.
const Places = 2

// Currency formats v in the given ISO currency with thousands separators,
// e.g. "$1,650.00" or "-$150.00". Unknown currencies fall back to USD.
func Currency(v decimal.Decimal, code string) string {
	cur := currency(code)
	frac := int32(cur.Fraction)
	minor := v.Abs().Round(frac).Shift(frac).IntPart()
	s := cur.Formatter().Format(minor)
	if v.Round(frac).IsNegative() {
		return "-" + s
	}
	return s
}

// SignedCurrency is Currency with an explicit "+" for positive values.
func SignedCurrency(v decimal.Decimal, code string) string {
	s := Currency(v, code)
	if v.Round(int32(currency(code).Fraction)).IsPositive() {
		return "+" + s
	}
	return s
}

// NullCurrency formats v, or returns Absent when v is not set.
func NullCurrency(v decimal.NullDecimal, code string) string {
	if !v.Valid {
		return Absent
	}
	return Currency(v.Decimal, code)
}

// Percent renders v as a signed percentage with two decimals. Zero and
// positive values carry a "+", e.g. "+10.00%".
func Percent(v decimal.Decimal) string {
	s := v.StringFixed(Places)
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s + "%"
}

// NullPercent formats v, or returns Absent when v is not set.
func NullPercent(v decimal.NullDecimal) string {
	if !v.Valid {
		return Absent
	}
	return Percent(v.Decimal)
}

// Fixed2 renders v with exactly two decimals and no grouping.
func Fixed2(v decimal.Decimal) string {
	return v.StringFixed(Places)
}

func currency(code string) *money.Currency {
	code = strings.ToUpper(strings.TrimSpace(code))
	if c := money.GetCurrency(code); c != nil {
		return c
	}
	return money.GetCurrency(money.USD)
}
