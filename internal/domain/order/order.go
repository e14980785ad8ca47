// Package order turns a confirmed payment into an order, its product-order
// row, an enrollment and, when a coupon ticket was used, the ticket payment.
// All of them are written in one transaction.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
)

var (
	// ErrOrderNotFound is returned when an order does not exist or belongs to
	// another user.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPriceMismatch is returned when the confirmed payment differs from the
	// price computed from the current snapshot.
	ErrPriceMismatch = errors.New("price mismatch")
	// ErrAlreadyRefunded is returned when refunding a refunded order.
	ErrAlreadyRefunded = errors.New("order already refunded")
	// ErrDuplicateKey is returned by Repository.CreatePurchase when another
	// order already holds the idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already used")
)

// Status of an order.
type Status string

const (
	StatusPaid     Status = "paid"
	StatusRefunded Status = "refunded"
)

// Payment is an externally confirmed payment. The core never talks to the
// gateway; it only checks Amount against its own price.
type Payment struct {
	Amount        string
	PaymentID     string
	TransactionID string
	PaidAt        time.Time
}

// Order is a purchase record.
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string
	Product        catalog.Ref
	SnapshotID     string
	// TicketID is empty when no coupon was used.
	TicketID   string
	BasePrice  string
	Discount   string
	Amount     string
	Payment    Payment
	Status     Status
	CreatedAt  time.Time
	RefundedAt *time.Time
}

// CourseOrder extends an order of a course with its access window.
type CourseOrder struct {
	OrderID   string
	CourseID  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// EbookOrder extends an order of an e-book.
type EbookOrder struct {
	OrderID string
	EbookID string
}

// Purchase is the set of rows created atomically for one order. Exactly one
// of Course and Ebook is set.
type Purchase struct {
	Order      *Order
	Course     *CourseOrder
	Ebook      *EbookOrder
	Enrollment *enrollment.Enrollment
}

// Receipt is the outcome of a purchase.
type Receipt struct {
	Order      *Order
	Enrollment *enrollment.Enrollment
	// Replayed is true when the idempotency key matched an earlier purchase
	// and nothing new was written.
	Replayed bool
}

// Repository persists purchases.
type Repository interface {
	// CreatePurchase writes every row of p in one transaction, retiring a
	// lapsed enrollment of the same user and product first. Unique
	// violations roll everything back: ErrDuplicateKey for the idempotency
	// key, domain.ErrConflict for anything else.
	CreatePurchase(ctx context.Context, p *Purchase) error
	// FindByIdempotencyKey returns the purchase holding key or ErrOrderNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*Receipt, error)
	Get(ctx context.Context, id string) (*Order, error)
	// Refund marks a paid order refunded, revokes its enrollment and releases
	// its ticket in one transaction. It returns ErrAlreadyRefunded when the
	// order is no longer paid.
	Refund(ctx context.Context, orderID string, at time.Time) error
}
