package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
	"github.com/xenking/commerce-core/internal/money"
)

var _ order.Repository = (*OrderRepository)(nil)

const retireLapsedEnrollmentSQL = `
UPDATE enrollments SET revoked_at = $4
WHERE user_id = $1 AND product_type = $2 AND product_id = $3
    AND revoked_at IS NULL AND ended_at IS NOT NULL AND ended_at <= $4`

const insertOrderSQL = `
INSERT INTO orders (id, user_id, idempotency_key, product_type, product_id, snapshot_id, ticket_id,
    base_price, discount, amount, payment_id, transaction_id, paid_at, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const insertCourseOrderSQL = `
INSERT INTO course_orders (order_id, course_id, started_at, ended_at) VALUES ($1, $2, $3, $4)`

const insertEbookOrderSQL = `
INSERT INTO ebook_orders (order_id, ebook_id) VALUES ($1, $2)`

const insertEnrollmentSQL = `
INSERT INTO enrollments (id, user_id, order_id, product_type, product_id, snapshot_id, lesson_count, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const insertTicketPaymentSQL = `
INSERT INTO coupon_ticket_payments (ticket_id, order_id, created_at) VALUES ($1, $2, $3)`

const orderColumns = `
o.id, o.user_id, o.idempotency_key, o.product_type, o.product_id, o.snapshot_id, coalesce(o.ticket_id, ''),
o.base_price, o.discount, o.amount, o.payment_id, o.transaction_id, o.paid_at, o.status, o.created_at, o.refunded_at`

const selectOrderSQL = `SELECT` + orderColumns + ` FROM orders o WHERE o.id = $1`

const selectReceiptSQL = `SELECT` + orderColumns + `,` + enrollmentColumns + `
FROM orders o JOIN enrollments e ON e.order_id = o.id
WHERE o.idempotency_key = $1`

const refundOrderSQL = `
UPDATE orders SET status = 'refunded', refunded_at = $2 WHERE id = $1 AND status = 'paid'`

const revokeEnrollmentSQL = `
UPDATE enrollments SET revoked_at = $2 WHERE order_id = $1 AND revoked_at IS NULL`

const releaseTicketSQL = `
UPDATE coupon_ticket_payments SET deleted_at = $2 WHERE order_id = $1 AND deleted_at IS NULL`

const constraintIdempotencyKey = "orders_idempotency_key_key"

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreatePurchase writes the order, its product row, the enrollment and the
// ticket payment in one transaction. The live-enrollment and live-payment
// unique indexes decide races; the loser rolls back completely.
func (r *OrderRepository) CreatePurchase(ctx context.Context, p *order.Purchase) error {
	o, e := p.Order, p.Enrollment
	amounts := make([]decimal.Decimal, 3)
	for i, v := range []string{o.BasePrice, o.Discount, o.Amount} {
		d, err := money.Parse(v)
		if err != nil {
			return errors.Wrap(err, "order amount")
		}
		amounts[i] = d
	}
	var ticketID *string
	if o.TicketID != "" {
		ticketID = &o.TicketID
	}

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, retireLapsedEnrollmentSQL,
			e.UserID, string(e.Product.Type), e.Product.ID, o.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "retire lapsed enrollment")
		}
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.IdempotencyKey, string(o.Product.Type), o.Product.ID, o.SnapshotID, ticketID,
			amounts[0], amounts[1], amounts[2],
			o.Payment.PaymentID, o.Payment.TransactionID, o.Payment.PaidAt, string(o.Status), o.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}
		switch {
		case p.Course != nil:
			if _, err := tx.Exec(ctx, insertCourseOrderSQL,
				p.Course.OrderID, p.Course.CourseID, p.Course.StartedAt, p.Course.EndedAt,
			); err != nil {
				return errors.Wrap(err, "insert course order")
			}
		case p.Ebook != nil:
			if _, err := tx.Exec(ctx, insertEbookOrderSQL, p.Ebook.OrderID, p.Ebook.EbookID); err != nil {
				return errors.Wrap(err, "insert ebook order")
			}
		default:
			return errors.New("purchase has no product order")
		}
		if _, err := tx.Exec(ctx, insertEnrollmentSQL,
			e.ID, e.UserID, e.OrderID, string(e.Product.Type), e.Product.ID, e.SnapshotID,
			e.LessonCount, e.StartedAt, e.EndedAt,
		); err != nil {
			return errors.Wrap(err, "insert enrollment")
		}
		if ticketID != nil {
			if _, err := tx.Exec(ctx, insertTicketPaymentSQL, *ticketID, o.ID, o.CreatedAt); err != nil {
				return errors.Wrap(err, "insert ticket payment")
			}
		}
		return nil
	})
	if isUniqueViolation(err, constraintIdempotencyKey) {
		return order.ErrDuplicateKey
	}
	return mapTxError(err)
}

func scanOrder(row pgx.Row, extra ...any) (*order.Order, error) {
	var (
		o                      order.Order
		ptype, status          string
		base, discount, amount decimal.Decimal
	)
	dest := []any{
		&o.ID, &o.UserID, &o.IdempotencyKey, &ptype, &o.Product.ID, &o.SnapshotID, &o.TicketID,
		&base, &discount, &amount, &o.Payment.PaymentID, &o.Payment.TransactionID, &o.Payment.PaidAt,
		&status, &o.CreatedAt, &o.RefundedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	o.Product.Type = catalog.ProductType(ptype)
	o.Status = order.Status(status)
	o.BasePrice = money.String(base)
	o.Discount = money.String(discount)
	o.Amount = money.String(amount)
	o.Payment.Amount = o.Amount
	return &o, nil
}

// FindByIdempotencyKey returns the committed purchase holding key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Receipt, error) {
	var e enrollment.Enrollment
	row := r.pool.QueryRow(ctx, selectReceiptSQL, key)
	o, err := scanOrder(row, enrollmentDest(&e)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select receipt"))
	}
	return &order.Receipt{Order: o, Enrollment: &e}, nil
}

// Get returns an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, selectOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select order"))
	}
	return o, nil
}

// Refund flips a paid order to refunded, revokes its enrollment and
// soft-deletes its ticket payment so the ticket can be used again.
func (r *OrderRepository) Refund(ctx context.Context, orderID string, at time.Time) error {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, refundOrderSQL, orderID, at)
		if err != nil {
			return errors.Wrap(err, "refund order")
		}
		if tag.RowsAffected() == 0 {
			return order.ErrAlreadyRefunded
		}
		if _, err := tx.Exec(ctx, revokeEnrollmentSQL, orderID, at); err != nil {
			return errors.Wrap(err, "revoke enrollment")
		}
		if _, err := tx.Exec(ctx, releaseTicketSQL, orderID, at); err != nil {
			return errors.Wrap(err, "release ticket")
		}
		return nil
	})
	return mapTxError(err)
}
