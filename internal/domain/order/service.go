package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/pricing"
	"github.com/xenking/commerce-core/internal/money"
)

// Coupons gives read access to coupons and tickets.
type Coupons interface {
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	Ticket(ctx context.Context, id string) (*coupon.Ticket, error)
}

// Notifier receives committed purchases. It must not block; failures are
// its own concern and never affect the purchase.
type Notifier interface {
	PurchaseCompleted(ctx context.Context, r *Receipt)
}

// QuoteRequest asks for the price of a product, optionally with a ticket.
type QuoteRequest struct {
	UserID   string
	Product  catalog.Ref
	TicketID string
}

// Quote is a priced product.
type Quote struct {
	Snapshot *catalog.Snapshot
	Ticket   *coupon.Ticket
	Price    pricing.Quote
}

// PurchaseRequest holds the input of a purchase.
type PurchaseRequest struct {
	UserID   string
	Product  catalog.Ref
	TicketID string
	// IdempotencyKey ties resubmissions to the intended order.
	IdempotencyKey string
	Payment        Payment
}

// Service orchestrates quoting, purchasing and refunding.
type Service struct {
	catalog  catalog.Catalog
	coupons  Coupons
	orders   Repository
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products catalog.Catalog,
	coupons Coupons,
	orders Repository,
	notifier Notifier,
) *Service {
	return &Service{
		catalog:  products,
		coupons:  coupons,
		orders:   orders,
		notifier: notifier,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Quote prices a product for a user from its current snapshot.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if !req.Product.Type.Valid() {
		return nil, domain.Invalid("product.type", "unknown type "+string(req.Product.Type))
	}
	return s.quote(ctx, req, s.now())
}

func (s *Service) quote(ctx context.Context, req QuoteRequest, now time.Time) (*Quote, error) {
	snap, err := s.catalog.Resolve(ctx, req.Product)
	if err != nil {
		return nil, err
	}
	if req.TicketID == "" {
		price, err := pricing.Calculate(snap.Price, nil, now)
		if err != nil {
			return nil, errors.Wrap(err, "price")
		}
		return &Quote{Snapshot: snap, Price: price}, nil
	}

	ticket, err := s.coupons.Ticket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if err := ticket.Usable(req.UserID, now); err != nil {
		return nil, err
	}
	c, err := s.coupons.Get(ctx, ticket.CouponID)
	if err != nil {
		return nil, err
	}
	if !coupon.Eligible(c.Criteria, snap.Descriptor) {
		return nil, coupon.ErrIneligible
	}
	price, err := pricing.Calculate(snap.Price, &c.Discount, now)
	if err != nil {
		return nil, errors.Wrap(err, "price")
	}
	// A ticket whose discount does not apply would be spent for nothing.
	if !price.Applied {
		return nil, coupon.ErrIneligible
	}
	return &Quote{Snapshot: snap, Ticket: ticket, Price: price}, nil
}

// Purchase converts a confirmed payment into an order and enrollment.
//
// Structural problems (unknown product or ticket, expired or spent ticket,
// ineligible coupon, price mismatch) are reported before any write. Races
// lost at commit come back as domain.ErrConflict and are not retried; a
// resubmission with the same idempotency key returns the committed receipt.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Receipt, error) {
	if req.IdempotencyKey == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	if req.UserID == "" {
		return nil, domain.Invalid("userId", "required")
	}
	if !req.Product.Type.Valid() {
		return nil, domain.Invalid("product.type", "unknown type "+string(req.Product.Type))
	}
	if _, err := money.Parse(req.Payment.Amount); err != nil {
		return nil, domain.Invalid("payment.amount", "not a decimal")
	}
	if req.Payment.PaymentID == "" {
		return nil, domain.Invalid("payment.paymentId", "required")
	}
	if req.Payment.TransactionID == "" {
		return nil, domain.Invalid("payment.transactionId", "required")
	}
	if req.Payment.PaidAt.IsZero() {
		return nil, domain.Invalid("payment.paidAt", "required")
	}

	if r, err := s.replay(ctx, req); !errors.Is(err, ErrOrderNotFound) {
		return r, err
	}

	now := s.now()
	q, err := s.quote(ctx, QuoteRequest{UserID: req.UserID, Product: req.Product, TicketID: req.TicketID}, now)
	if err != nil {
		return nil, err
	}
	paid, err := money.Equal(q.Price.Final, req.Payment.Amount)
	if err != nil {
		return nil, errors.Wrap(err, "compare amount")
	}
	if !paid {
		return nil, ErrPriceMismatch
	}

	p := s.newPurchase(req, q, now)
	if err := s.orders.CreatePurchase(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			r, err := s.replay(ctx, req)
			if errors.Is(err, ErrOrderNotFound) {
				return nil, domain.ErrConflict
			}
			return r, err
		}
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create purchase")
	}

	r := &Receipt{Order: p.Order, Enrollment: p.Enrollment}
	s.notifier.PurchaseCompleted(ctx, r)
	return r, nil
}

// replay returns the receipt committed under the request's idempotency key,
// or ErrOrderNotFound when there is none.
func (s *Service) replay(ctx context.Context, req PurchaseRequest) (*Receipt, error) {
	r, err := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find by idempotency key")
	}
	if r.Order.UserID != req.UserID || r.Order.Product != req.Product {
		return nil, errors.Wrap(domain.ErrConflict, "idempotency key reused for another purchase")
	}
	r.Replayed = true
	return r, nil
}

func (s *Service) newPurchase(req PurchaseRequest, q *Quote, now time.Time) *Purchase {
	snap := q.Snapshot
	o := &Order{
		ID:             s.newID(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Product:        snap.Ref(),
		SnapshotID:     snap.SnapshotID,
		BasePrice:      q.Price.Base,
		Discount:       q.Price.Discount,
		Amount:         q.Price.Final,
		Payment:        req.Payment,
		Status:         StatusPaid,
		CreatedAt:      now,
	}
	if q.Ticket != nil {
		o.TicketID = q.Ticket.ID
	}

	e := &enrollment.Enrollment{
		ID:          s.newID(),
		UserID:      req.UserID,
		OrderID:     o.ID,
		Product:     o.Product,
		SnapshotID:  snap.SnapshotID,
		LessonCount: snap.LessonCount,
		StartedAt:   now,
	}

	p := &Purchase{Order: o, Enrollment: e}
	switch snap.Type {
	case catalog.Course:
		if snap.AvailableDays != nil {
			end := now.AddDate(0, 0, *snap.AvailableDays)
			e.EndedAt = &end
		}
		p.Course = &CourseOrder{
			OrderID:   o.ID,
			CourseID:  snap.ProductID,
			StartedAt: now,
			EndedAt:   e.EndedAt,
		}
	case catalog.Ebook:
		p.Ebook = &EbookOrder{OrderID: o.ID, EbookID: snap.ProductID}
	}
	return p
}

// Refund refunds an order of userID: the enrollment is revoked and the
// coupon ticket, if any, becomes usable again until its own expiry.
func (s *Service) Refund(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if o.Status == StatusRefunded {
		return nil, ErrAlreadyRefunded
	}

	now := s.now()
	if err := s.orders.Refund(ctx, o.ID, now); err != nil {
		if errors.Is(err, ErrAlreadyRefunded) || errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, errors.Wrap(err, "refund")
	}
	o.Status = StatusRefunded
	o.RefundedAt = &now
	return o, nil
}
