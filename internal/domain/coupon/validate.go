package coupon

import (
	"fmt"

	"github.com/xenking/commerce-core/internal/domain"
)

// Validate rejects malformed coupon configuration with a
// *domain.ValidationError.
func (c *Coupon) Validate() error {
	if c.Name == "" {
		return domain.Invalid("name", "required")
	}
	if err := c.Discount.Validate(); err != nil {
		return err
	}
	if c.Volume != nil && *c.Volume <= 0 {
		return domain.Invalid("volume", "must be positive")
	}
	if c.VolumePerCitizen != nil && *c.VolumePerCitizen <= 0 {
		return domain.Invalid("volumePerCitizen", "must be positive")
	}
	if c.ExpiredAt != nil && c.ExpiredIn != nil {
		return domain.Invalid("expiry", "set either expiredAt or expiredIn")
	}
	if c.ExpiredIn != nil && *c.ExpiredIn <= 0 {
		return domain.Invalid("expiredIn", "must be positive")
	}
	return validateCriteria(c.Criteria)
}

func validateCriteria(criteria []Criterion) error {
	if len(criteria) == 0 {
		return domain.Invalid("criteria", "at least one criterion is required")
	}
	seen := make(map[string]struct{}, len(criteria))
	for i, cr := range criteria {
		field := fmt.Sprintf("criteria[%d]", i)
		if cr.Scope == nil {
			return domain.Invalid(field, "scope is required")
		}
		if cr.Direction != Include && cr.Direction != Exclude {
			return domain.Invalid(field, "unknown direction "+string(cr.Direction))
		}
		if _, ok := cr.Scope.(All); !ok && cr.Scope.Target() == "" {
			return domain.Invalid(field, "target id is required")
		}
		key := string(cr.Direction) + ":" + string(cr.Scope.Kind()) + ":" + cr.Scope.Target()
		if _, dup := seen[key]; dup {
			return domain.Invalid(field, "duplicate criterion")
		}
		seen[key] = struct{}{}
	}
	return nil
}
