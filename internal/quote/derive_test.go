package quote_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"portfoliotracker/internal/quote"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          quote.Quote
		wantChange  string
		wantPercent string
	}{
		{
			name:        "feed values kept when consistent",
			in:          quote.Quote{Price: decimal.RequireFromString("165"), PreviousClose: nd("160"), Change: nd("5"), PercentChange: nd("3.125")},
			wantChange:  "5",
			wantPercent: "3.125",
		},
		{
			name:        "change derived from previous close",
			in:          quote.Quote{Price: decimal.RequireFromString("165"), PreviousClose: nd("150")},
			wantChange:  "15",
			wantPercent: "10",
		},
		{
			name:        "percent derived when missing",
			in:          quote.Quote{Price: decimal.RequireFromString("290"), PreviousClose: nd("300"), Change: nd("-10")},
			wantChange:  "-10",
			wantPercent: "-3.33",
		},
		{
			name:        "contradicting sign replaced by derived percent",
			in:          quote.Quote{Price: decimal.RequireFromString("95"), PreviousClose: nd("100"), Change: nd("-5"), PercentChange: nd("5")},
			wantChange:  "-5",
			wantPercent: "-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quote.Reconcile(tt.in)
			require.True(t, got.Change.Valid)
			require.True(t, got.PercentChange.Valid)
			require.Equal(t, tt.wantChange, got.Change.Decimal.String())
			want := decimal.RequireFromString(tt.wantPercent).Round(2)
			require.Truef(t, want.Equal(got.PercentChange.Decimal.Round(2)), "percent: want %s, got %s", want, got.PercentChange.Decimal)
		})
	}
}

func TestReconcile_NoPreviousCloseLeavesGaps(t *testing.T) {
	t.Parallel()

	got := quote.Reconcile(quote.Quote{Price: decimal.RequireFromString("10")})

	require.False(t, got.Change.Valid)
	require.False(t, got.PercentChange.Valid)
}
