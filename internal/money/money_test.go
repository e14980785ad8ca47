package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiv(t *testing.T) {
	got, err := Div("10", "4")
	require.NoError(t, err)
	assert.Equal(t, "2.5", got)

	_, err = Div("10", "0")
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Div(10, "0.00")
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b any) (string, error)
		a, b any
		want string
	}{
		{name: "add strings", op: Add, a: "0.1", b: "0.2", want: "0.3"},
		{name: "add mixed", op: Add, a: 10, b: "0.55", want: "10.55"},
		{name: "sub to negative", op: Sub, a: "1000", b: "2000", want: "-1000"},
		{name: "mul percent", op: Mul, a: "50000", b: "10", want: "500000"},
		{name: "mul fractional", op: Mul, a: "19.99", b: int64(3), want: "59.97"},
		{name: "div exact", op: Div, a: "500000", b: "100", want: "5000"},
		{name: "div decimal operand", op: Div, a: decimal.NewFromInt(1), b: int32(8), want: "0.125"},
		{name: "div repeating", op: Div, a: "1", b: "3", want: "0.3333333333333333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare(t *testing.T) {
	eq, err := Equal("10.50", "10.5")
	require.NoError(t, err)
	assert.True(t, eq)

	gt, err := GreaterThan("10000", 9999)
	require.NoError(t, err)
	assert.True(t, gt)

	lt, err := LessThan("10000", "10000")
	require.NoError(t, err)
	assert.False(t, lt)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("12abc")
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = Parse(1.5)
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = Add("1", "x")
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize("0010.500")
	require.NoError(t, err)
	assert.Equal(t, "10.5", got)
}
