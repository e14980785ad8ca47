package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/commerce-core/internal/domain"
)

func TestCalculate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name         string
		base         string
		discount     *Discount
		wantDiscount string
		wantFinal    string
		wantApplied  bool
	}{
		{
			name:         "no discount",
			base:         "10000",
			wantDiscount: "0",
			wantFinal:    "10000",
		},
		{
			name:         "fixed capped by limit",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "3000", Limit: "2000"},
			wantDiscount: "2000",
			wantFinal:    "8000",
			wantApplied:  true,
		},
		{
			name:         "percent keeps sub-cent digits",
			base:         "0.99",
			discount:     &Discount{Type: DiscountPercent, Value: "12.5"},
			wantDiscount: "0.12375",
			wantFinal:    "0.86625",
			wantApplied:  true,
		},
		{
			name:         "fixed uncapped",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "3000"},
			wantDiscount: "3000",
			wantFinal:    "7000",
			wantApplied:  true,
		},
		{
			name:         "fixed larger than base floors at zero",
			base:         "1500",
			discount:     &Discount{Type: DiscountFixed, Value: "3000", Limit: "5000"},
			wantDiscount: "1500",
			wantFinal:    "0",
			wantApplied:  true,
		},
		{
			name:         "percent capped by limit",
			base:         "50000",
			discount:     &Discount{Type: DiscountPercent, Value: "10", Limit: "4000"},
			wantDiscount: "4000",
			wantFinal:    "46000",
			wantApplied:  true,
		},
		{
			name:         "percent below limit",
			base:         "19.99",
			discount:     &Discount{Type: DiscountPercent, Value: "15", Limit: "100"},
			wantDiscount: "2.9985",
			wantFinal:    "16.9915",
			wantApplied:  true,
		},
		{
			name:         "hundred percent",
			base:         "120",
			discount:     &Discount{Type: DiscountPercent, Value: "100"},
			wantDiscount: "120",
			wantFinal:    "0",
			wantApplied:  true,
		},
		{
			name:         "below threshold",
			base:         "9999",
			discount:     &Discount{Type: DiscountFixed, Value: "1000", Threshold: "10000"},
			wantDiscount: "0",
			wantFinal:    "9999",
		},
		{
			name:         "at threshold",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "1000", Threshold: "10000"},
			wantDiscount: "1000",
			wantFinal:    "9000",
			wantApplied:  true,
		},
		{
			name:         "window not started",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "1000", ValidFrom: &future},
			wantDiscount: "0",
			wantFinal:    "10000",
		},
		{
			name:         "window ended",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "1000", ValidUntil: &past},
			wantDiscount: "0",
			wantFinal:    "10000",
		},
		{
			name:         "inside window",
			base:         "10000",
			discount:     &Discount{Type: DiscountFixed, Value: "1000", ValidFrom: &past, ValidUntil: &future},
			wantDiscount: "1000",
			wantFinal:    "9000",
			wantApplied:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Calculate(tt.base, tt.discount, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDiscount, q.Discount)
			assert.Equal(t, tt.wantFinal, q.Final)
			assert.Equal(t, tt.wantApplied, q.Applied)
		})
	}
}

func TestCalculate_InvalidBase(t *testing.T) {
	_, err := Calculate("ten", nil, time.Now())
	require.Error(t, err)
}

func TestDiscount_Validate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name      string
		discount  Discount
		wantField string
	}{
		{name: "percent ok", discount: Discount{Type: DiscountPercent, Value: "100"}},
		{name: "fixed ok", discount: Discount{Type: DiscountFixed, Value: "0", Limit: "10", Threshold: "5"}},
		{name: "percent over 100", discount: Discount{Type: DiscountPercent, Value: "100.01"}, wantField: "discount.value"},
		{name: "percent negative", discount: Discount{Type: DiscountPercent, Value: "-1"}, wantField: "discount.value"},
		{name: "fixed negative", discount: Discount{Type: DiscountFixed, Value: "-5"}, wantField: "discount.value"},
		{name: "not a number", discount: Discount{Type: DiscountFixed, Value: "abc"}, wantField: "discount.value"},
		{name: "unknown type", discount: Discount{Type: "bogo", Value: "1"}, wantField: "discount.type"},
		{name: "negative limit", discount: Discount{Type: DiscountFixed, Value: "1", Limit: "-1"}, wantField: "discount.limit"},
		{name: "negative threshold", discount: Discount{Type: DiscountFixed, Value: "1", Threshold: "-1"}, wantField: "discount.threshold"},
		{
			name:      "inverted window",
			discount:  Discount{Type: DiscountFixed, Value: "1", ValidFrom: &now, ValidUntil: &earlier},
			wantField: "discount.validUntil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.discount.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}
