// Package notify publishes domain events after commit. Publishing is fire
// and forget: a failed publish is logged and never reaches the caller.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
)

// Event types.
const (
	TypePurchaseCompleted = "purchase.completed"
	TypeCertificateIssued = "certificate.issued"
)

var (
	_ order.Notifier      = (*Events)(nil)
	_ enrollment.Notifier = (*Events)(nil)
)

// Publisher delivers an encoded event under a partition key.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Events encodes domain events and hands them to a Publisher.
type Events struct {
	pub Publisher
}

// NewEvents returns Events publishing through pub.
func NewEvents(pub Publisher) *Events {
	return &Events{pub: pub}
}

// PurchaseCompleted publishes a receipt keyed by order id. Replayed receipts
// were announced when they were first committed and are skipped.
func (n *Events) PurchaseCompleted(ctx context.Context, r *order.Receipt) {
	if r == nil || r.Replayed {
		return
	}
	n.publish(ctx, TypePurchaseCompleted, r.Order.ID, encodePurchase(r))
}

// CertificateIssued publishes a certificate keyed by enrollment id.
func (n *Events) CertificateIssued(ctx context.Context, c *enrollment.Certificate) {
	if c == nil {
		return
	}
	n.publish(ctx, TypeCertificateIssued, c.EnrollmentID, encodeCertificate(c))
}

func (n *Events) publish(ctx context.Context, typ, key string, value []byte) {
	if err := n.pub.Publish(ctx, key, value); err != nil {
		zctx.From(ctx).Warn("Publish event",
			zap.String("type", typ),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func timestamp(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func str(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	e.Str(v)
}

func encodePurchase(r *order.Receipt) []byte {
	o := r.Order

	var e jx.Encoder
	e.ObjStart()
	str(&e, "type", TypePurchaseCompleted)
	str(&e, "orderId", o.ID)
	str(&e, "userId", o.UserID)
	str(&e, "productType", string(o.Product.Type))
	str(&e, "productId", o.Product.ID)
	str(&e, "snapshotId", o.SnapshotID)
	str(&e, "basePrice", o.BasePrice)
	str(&e, "discount", o.Discount)
	str(&e, "amount", o.Amount)
	if o.TicketID != "" {
		str(&e, "ticketId", o.TicketID)
	}
	str(&e, "paymentId", o.Payment.PaymentID)
	if r.Enrollment != nil {
		str(&e, "enrollmentId", r.Enrollment.ID)
		if r.Enrollment.EndedAt != nil {
			timestamp(&e, "accessEndsAt", *r.Enrollment.EndedAt)
		}
	}
	timestamp(&e, "occurredAt", o.CreatedAt)
	e.ObjEnd()
	return e.Bytes()
}

func encodeCertificate(c *enrollment.Certificate) []byte {
	var e jx.Encoder
	e.ObjStart()
	str(&e, "type", TypeCertificateIssued)
	str(&e, "certificateId", c.ID)
	str(&e, "enrollmentId", c.EnrollmentID)
	str(&e, "userId", c.UserID)
	str(&e, "productType", string(c.Product.Type))
	str(&e, "productId", c.Product.ID)
	timestamp(&e, "occurredAt", c.IssuedAt)
	e.ObjEnd()
	return e.Bytes()
}
