package quote

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Reconcile fills in the daily change fields a feed left out and resolves
// a percent change whose sign contradicts the absolute change.
//
// The feed's values are kept when they agree. Change is derived as
// price - previous close; percent change as change / previous close * 100.
// Derivation needs a positive previous close.
func Reconcile(q Quote) Quote {
	prev := q.PreviousClose
	hasPrev := prev.Valid && prev.Decimal.IsPositive()

	if !q.Change.Valid && hasPrev {
		q.Change = decimal.NewNullDecimal(q.Price.Sub(prev.Decimal))
	}
	if !q.Change.Valid || !hasPrev {
		return q
	}

	derived := q.Change.Decimal.Div(prev.Decimal).Mul(hundred)
	switch {
	case !q.PercentChange.Valid:
		q.PercentChange = decimal.NewNullDecimal(derived)
	case q.PercentChange.Decimal.Sign() != q.Change.Decimal.Sign():
		q.PercentChange = decimal.NewNullDecimal(derived)
	}
	return q
}
