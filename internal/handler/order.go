package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
)

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

func decodeRef(d *jx.Decoder, ref *catalog.Ref) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "type":
			var s string
			s, err = d.Str()
			ref.Type = catalog.ProductType(s)
		case "id":
			ref.ID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodePayment(d *jx.Decoder, p *order.Payment) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "amount":
			p.Amount, err = decodeAmount(d)
		case "paymentId":
			p.PaymentID, err = d.Str()
		case "transactionId":
			p.TransactionID, err = d.Str()
		case "paidAt":
			var t *time.Time
			if t, err = decodeTime(d); t != nil {
				p.PaidAt = *t
			}
		default:
			err = d.Skip()
		}
		return err
	})
}

type purchaseBody struct {
	order.PurchaseRequest
}

func (b *purchaseBody) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "userId":
			b.UserID, err = d.Str()
		case "product":
			err = decodeRef(d, &b.Product)
		case "ticketId":
			b.TicketID, err = decodeOptStr(d)
		case "idempotencyKey":
			b.IdempotencyKey, err = d.Str()
		case "payment":
			err = decodePayment(d, &b.Payment)
		default:
			err = d.Skip()
		}
		return err
	})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var body purchaseBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), order.QuoteRequest{
		UserID:   body.UserID,
		Product:  body.Product,
		TicketID: body.TicketID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	encStr(&e, "productType", string(q.Snapshot.Type))
	encStr(&e, "productId", q.Snapshot.ProductID)
	encStr(&e, "snapshotId", q.Snapshot.SnapshotID)
	encStr(&e, "base", q.Price.Base)
	encStr(&e, "discount", q.Price.Discount)
	encStr(&e, "final", q.Price.Final)
	if q.Ticket != nil {
		encStr(&e, "ticketId", q.Ticket.ID)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	var body purchaseBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}

	start := time.Now()
	var err error
	ctx, end := h.metrics.Span(r.Context(), "commerce.purchase", &err)
	receipt, err := h.orders.Purchase(ctx, body.PurchaseRequest)
	end()
	h.metrics.Purchase(ctx, outcome(receipt, err), time.Since(start))
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, encodeReceipt(receipt))
}

// outcome labels a purchase attempt for metrics.
func outcome(r *order.Receipt, err error) string {
	var verr *domain.ValidationError
	switch {
	case err == nil && r.Replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.Is(err, order.ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return "conflict"
	case errors.Is(err, coupon.ErrIneligible),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrTicketConsumed):
		return "ticket_rejected"
	case errors.As(err, &verr), errors.Is(err, errMalformed):
		return "invalid"
	case statusOf(err) == http.StatusNotFound:
		return "not_found"
	default:
		return "error"
	}
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	encStr(e, "id", o.ID)
	encStr(e, "userId", o.UserID)
	encStr(e, "productType", string(o.Product.Type))
	encStr(e, "productId", o.Product.ID)
	encStr(e, "snapshotId", o.SnapshotID)
	encOptStr(e, "ticketId", o.TicketID)
	encStr(e, "basePrice", o.BasePrice)
	encStr(e, "discount", o.Discount)
	encStr(e, "amount", o.Amount)
	encStr(e, "status", string(o.Status))
	encTime(e, "createdAt", &o.CreatedAt)
	encTime(e, "refundedAt", o.RefundedAt)
	e.ObjEnd()
}

func encodeEnrollment(e *jx.Encoder, en *enrollment.Enrollment) {
	e.ObjStart()
	encStr(e, "id", en.ID)
	encTime(e, "startedAt", &en.StartedAt)
	encTime(e, "endedAt", en.EndedAt)
	e.ObjEnd()
}

func encodeReceipt(r *order.Receipt) *jx.Encoder {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(e, r.Order)
	if r.Enrollment != nil {
		e.FieldStart("enrollment")
		encodeEnrollment(e, r.Enrollment)
	}
	e.FieldStart("replayed")
	e.Bool(r.Replayed)
	e.ObjEnd()
	return e
}

type userBody struct {
	UserID string
}

func (b *userBody) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		if string(key) == "userId" {
			b.UserID, err = d.Str()
			return err
		}
		return d.Skip()
	})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var body userBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.UserID == "" {
		writeError(w, r, domain.Invalid("userId", "required"))
		return
	}

	o, err := h.orders.Refund(r.Context(), r.PathValue("id"), body.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}
