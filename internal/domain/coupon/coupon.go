// Package coupon implements discount coupons: their eligibility criteria,
// per-user tickets and single-use disposable codes.
//
// Issuance limits are enforced by the Repository inside the same transaction
// that inserts the ticket, backed by uniqueness constraints, so the package
// holds no in-process locks and any number of instances may issue
// concurrently.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/commerce-core/internal/domain/pricing"
)

var (
	// ErrCouponNotFound is returned when a coupon does not exist.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCodeNotFound is returned when a disposable code does not exist or
	// belongs to another coupon.
	ErrCodeNotFound = errors.New("coupon code not found")
	// ErrTicketNotFound is returned when a ticket does not exist or is owned
	// by another user.
	ErrTicketNotFound = errors.New("coupon ticket not found")
	// ErrCouponNotOpen is returned when issuing outside the coupon's window.
	ErrCouponNotOpen = errors.New("coupon is not open")
	// ErrVolumeExhausted is returned when the global ticket cap is reached.
	ErrVolumeExhausted = errors.New("coupon volume exhausted")
	// ErrUserCapExhausted is returned when the per-user ticket cap is reached.
	ErrUserCapExhausted = errors.New("coupon per-user cap exhausted")
	// ErrCodeAlreadyConsumed is returned when a disposable code was redeemed before.
	ErrCodeAlreadyConsumed = errors.New("coupon code already consumed")
	// ErrCodeCollision is returned when code generation keeps colliding with
	// existing codes.
	ErrCodeCollision = errors.New("coupon code collision")
	// ErrExpired is returned for expired codes and tickets.
	ErrExpired = errors.New("coupon expired")
	// ErrTicketConsumed is returned when a ticket was already spent on an order.
	ErrTicketConsumed = errors.New("coupon ticket already consumed")
	// ErrIneligible is returned when a coupon does not apply to a product.
	ErrIneligible = errors.New("coupon is not eligible for product")
)

// Coupon is an admin-authored discount policy.
type Coupon struct {
	ID   string
	Name string
	// Discount carries type, value, threshold, limit and the validity window.
	Discount pricing.Discount
	// Volume caps the total number of tickets. Nil means uncapped.
	Volume *int
	// VolumePerCitizen caps tickets per user. Nil means uncapped.
	VolumePerCitizen *int
	// ExpiredAt is an absolute ticket expiry.
	ExpiredAt *time.Time
	// ExpiredIn is a ticket expiry relative to issuance.
	ExpiredIn *time.Duration
	Criteria  []Criterion
	CreatedAt time.Time
}

// Open reports whether the validity window contains now.
func (c *Coupon) Open(now time.Time) bool {
	return c.Discount.Active(now)
}

// TicketExpiry returns the expiry of a ticket issued at now: the absolute
// expiry when set, else now plus the relative one, else nil (unbounded).
func (c *Coupon) TicketExpiry(now time.Time) *time.Time {
	switch {
	case c.ExpiredAt != nil:
		t := *c.ExpiredAt
		return &t
	case c.ExpiredIn != nil:
		t := now.Add(*c.ExpiredIn)
		return &t
	default:
		return nil
	}
}

// DisposableCode is a single-use code granting one ticket.
type DisposableCode struct {
	ID        string
	CouponID  string
	Code      string
	ExpiredAt *time.Time
	Consumed  bool
	CreatedAt time.Time
}

// Ticket binds a coupon to a user.
type Ticket struct {
	ID       string
	CouponID string
	UserID   string
	// CodeID references the redeemed disposable code for private tickets.
	CodeID string
	// UserSeq numbers public tickets of one user for one coupon, starting at 1.
	UserSeq   int
	ExpiredAt *time.Time
	// Consumed is true while an unrefunded payment references the ticket.
	Consumed  bool
	CreatedAt time.Time
}

// Private reports whether the ticket came from a disposable code.
func (t *Ticket) Private() bool {
	return t.CodeID != ""
}

// Usable checks that the ticket belongs to userID, has not expired and was
// not spent.
func (t *Ticket) Usable(userID string, now time.Time) error {
	if t.UserID != userID {
		return ErrTicketNotFound
	}
	if t.ExpiredAt != nil && now.After(*t.ExpiredAt) {
		return ErrExpired
	}
	if t.Consumed {
		return ErrTicketConsumed
	}
	return nil
}

// Usage holds current ticket counts for a coupon.
type Usage struct {
	Issued       int
	IssuedToUser int
}

// MintFunc decides, under the coupon row lock, whether a ticket may be
// issued given the current usage, and builds it.
type MintFunc func(c *Coupon, u Usage) (*Ticket, error)

// Repository persists coupons, codes and tickets.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	// IssuePublic locks the coupon row, counts its tickets, calls mint and
	// inserts the returned ticket, all in one transaction.
	IssuePublic(ctx context.Context, couponID, userID string, mint MintFunc) (*Ticket, error)
	FindCode(ctx context.Context, code string) (*DisposableCode, error)
	// RedeemCode inserts a private ticket. A second ticket for the same code
	// violates a uniqueness constraint and yields ErrCodeAlreadyConsumed.
	RedeemCode(ctx context.Context, t *Ticket) error
	// InsertCodes inserts codes, skipping those that already exist, and
	// returns the inserted ones.
	InsertCodes(ctx context.Context, codes []DisposableCode) ([]DisposableCode, error)
	GetTicket(ctx context.Context, id string) (*Ticket, error)
}
