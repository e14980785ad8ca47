// Package pricing computes the final price of a product under an optional
// discount. Every amount is an exact decimal string.
package pricing

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/money"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountFixed subtracts a fixed amount from the base price.
	DiscountFixed DiscountType = "fixed"
	// DiscountPercent subtracts a percentage of the base price.
	DiscountPercent DiscountType = "percent"
)

// Discount describes how much is taken off a base price.
type Discount struct {
	Type  DiscountType
	Value string
	// Threshold is the minimum base price the discount applies to. Empty means zero.
	Threshold string
	// Limit caps the discount amount. Empty means uncapped.
	Limit      string
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// Active reports whether the validity window contains now.
func (d *Discount) Active(now time.Time) bool {
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return false
	}
	return true
}

// Validate checks the discount configuration.
func (d *Discount) Validate() error {
	value, err := money.Parse(d.Value)
	if err != nil {
		return domain.Invalid("discount.value", "not a decimal")
	}
	switch d.Type {
	case DiscountPercent:
		if value.IsNegative() || value.GreaterThan(money.MustParse(100)) {
			return domain.Invalid("discount.value", "percent must be within [0,100]")
		}
	case DiscountFixed:
		if value.IsNegative() {
			return domain.Invalid("discount.value", "fixed amount must not be negative")
		}
	default:
		return domain.Invalid("discount.type", "unknown type "+string(d.Type))
	}
	if d.Threshold != "" {
		t, err := money.Parse(d.Threshold)
		if err != nil || t.IsNegative() {
			return domain.Invalid("discount.threshold", "must be a non-negative decimal")
		}
	}
	if d.Limit != "" {
		l, err := money.Parse(d.Limit)
		if err != nil || l.IsNegative() {
			return domain.Invalid("discount.limit", "must be a non-negative decimal")
		}
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return domain.Invalid("discount.validUntil", "ends before it starts")
	}
	return nil
}

// Quote is the outcome of pricing one product.
type Quote struct {
	Base     string
	Discount string
	Final    string
	// Applied is false when the discount was absent, outside its window or
	// below its threshold.
	Applied bool
}

// Calculate applies d to base at instant now. A nil discount, a window that
// excludes now, or a base below the threshold leave the price untouched.
func Calculate(base string, d *Discount, now time.Time) (Quote, error) {
	baseNorm, err := money.Normalize(base)
	if err != nil {
		return Quote{}, errors.Wrap(err, "base price")
	}
	q := Quote{Base: baseNorm, Discount: money.Zero, Final: baseNorm}
	if d == nil || !d.Active(now) {
		return q, nil
	}

	if d.Threshold != "" {
		below, err := money.LessThan(base, d.Threshold)
		if err != nil {
			return Quote{}, errors.Wrap(err, "threshold")
		}
		if below {
			return q, nil
		}
	}

	raw, err := rawAmount(base, d)
	if err != nil {
		return Quote{}, err
	}
	amount, err := capAmount(raw, d.Limit, base)
	if err != nil {
		return Quote{}, err
	}
	final, err := money.Sub(base, amount)
	if err != nil {
		return Quote{}, errors.Wrap(err, "final price")
	}

	q.Discount = amount
	q.Final = final
	q.Applied = true
	return q, nil
}

func rawAmount(base string, d *Discount) (string, error) {
	switch d.Type {
	case DiscountFixed:
		v, err := money.Normalize(d.Value)
		if err != nil {
			return "", errors.Wrap(err, "discount value")
		}
		return v, nil
	case DiscountPercent:
		product, err := money.Mul(base, d.Value)
		if err != nil {
			return "", errors.Wrap(err, "discount value")
		}
		return money.Div(product, 100)
	default:
		return "", domain.Invalid("discount.type", "unknown type "+string(d.Type))
	}
}

// capAmount bounds raw by limit (when set) and by base, flooring at zero.
func capAmount(raw, limit, base string) (string, error) {
	amount := raw
	if limit != "" {
		over, err := money.GreaterThan(amount, limit)
		if err != nil {
			return "", errors.Wrap(err, "discount limit")
		}
		if over {
			if amount, err = money.Normalize(limit); err != nil {
				return "", err
			}
		}
	}

	over, err := money.GreaterThan(amount, base)
	if err != nil {
		return "", err
	}
	if over {
		amount = base
	}

	negative, err := money.LessThan(amount, money.Zero)
	if err != nil {
		return "", err
	}
	if negative {
		return money.Zero, nil
	}
	return money.Normalize(amount)
}
