// Package money implements exact decimal arithmetic over currency-like values.
//
// Operands may be exact decimal strings, integers or decimal.Decimal values.
// Results are always returned as exact strings so that money never passes
// through binary floating point on the pricing path.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// divisionPrecision is the number of fractional digits kept when a quotient
// does not terminate.
const divisionPrecision = 16

var (
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrInvalidNumber is returned when an operand is not an exact decimal.
	ErrInvalidNumber = errors.New("invalid number")
)

// Zero is the canonical string form of zero.
const Zero = "0"

// Parse promotes v to an arbitrary-precision decimal. Floating point operands
// are rejected.
func Parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Decimal{}, errors.Wrapf(ErrInvalidNumber, "parse %q", x)
		}
		return d, nil
	case decimal.Decimal:
		return x, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	default:
		return decimal.Decimal{}, errors.Wrapf(ErrInvalidNumber, "unsupported operand %T", v)
	}
}

// MustParse is like Parse but panics on malformed input. Intended for
// constants and tests.
func MustParse(v any) decimal.Decimal {
	d, err := Parse(v)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders d in its shortest exact form.
func String(d decimal.Decimal) string {
	return d.String()
}

// Normalize parses v and renders it back, e.g. "10.50" becomes "10.5".
func Normalize(v any) (string, error) {
	d, err := Parse(v)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func pair(a, b any) (decimal.Decimal, decimal.Decimal, error) {
	x, err := Parse(a)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	y, err := Parse(b)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return x, y, nil
}

// Equal reports whether a == b.
func Equal(a, b any) (bool, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return false, err
	}
	return x.Equal(y), nil
}

// GreaterThan reports whether a > b.
func GreaterThan(a, b any) (bool, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return false, err
	}
	return x.GreaterThan(y), nil
}

// LessThan reports whether a < b.
func LessThan(a, b any) (bool, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return false, err
	}
	return x.LessThan(y), nil
}

// Add returns a + b.
func Add(a, b any) (string, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return "", err
	}
	return x.Add(y).String(), nil
}

// Sub returns a - b.
func Sub(a, b any) (string, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return "", err
	}
	return x.Sub(y).String(), nil
}

// Mul returns a * b.
func Mul(a, b any) (string, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return "", err
	}
	return x.Mul(y).String(), nil
}

// Div returns a / b. Terminating quotients are exact; others are rounded
// half-up at divisionPrecision fractional digits.
func Div(a, b any) (string, error) {
	x, y, err := pair(a, b)
	if err != nil {
		return "", err
	}
	if y.IsZero() {
		return "", ErrDivisionByZero
	}
	return x.DivRound(y, divisionPrecision).String(), nil
}
