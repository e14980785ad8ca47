package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/pricing"
	"github.com/xenking/commerce-core/internal/money"
)

var _ coupon.Repository = (*CouponRepository)(nil)

const insertCouponSQL = `
INSERT INTO coupons (id, name, discount_type, discount_value, threshold, discount_limit,
    volume, volume_per_citizen, valid_from, valid_until, expired_at, expired_in, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const insertCriterionSQL = `
INSERT INTO coupon_criteria (coupon_id, kind, target_id, direction)
VALUES ($1, $2, $3, $4)`

const selectCouponSQL = `
SELECT id, name, discount_type, discount_value, threshold, discount_limit,
    volume, volume_per_citizen, valid_from, valid_until, expired_at, expired_in, created_at
FROM coupons WHERE id = $1`

const selectCriteriaSQL = `
SELECT kind, target_id, direction FROM coupon_criteria
WHERE coupon_id = $1 ORDER BY direction, kind, target_id`

// Public tickets only: disposable codes are bounded by how many were generated.
const countTicketsSQL = `
SELECT count(*), count(*) FILTER (WHERE user_id = $2)
FROM coupon_tickets WHERE coupon_id = $1 AND code_id IS NULL`

const insertTicketSQL = `
INSERT INTO coupon_tickets (id, coupon_id, user_id, code_id, user_seq, expired_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const selectCodeSQL = `
SELECT c.id, c.coupon_id, c.code, c.expired_at, c.created_at,
    EXISTS (SELECT 1 FROM coupon_tickets t WHERE t.code_id = c.id) AS consumed
FROM coupon_disposable_codes c WHERE c.code = $1`

const insertCodesSQL = `
INSERT INTO coupon_disposable_codes (id, coupon_id, code, expired_at, created_at)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[], $5::timestamptz[])
ON CONFLICT (code) DO NOTHING
RETURNING id`

const selectTicketSQL = `
SELECT t.id, t.coupon_id, t.user_id, coalesce(t.code_id, ''), coalesce(t.user_seq, 0), t.expired_at, t.created_at,
    EXISTS (SELECT 1 FROM coupon_ticket_payments p WHERE p.ticket_id = t.id AND p.deleted_at IS NULL) AS consumed
FROM coupon_tickets t WHERE t.id = $1`

const (
	constraintTicketCode = "coupon_tickets_code_id_key"
	constraintTicketSlot = "coupon_tickets_user_slot_key"
)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func nullDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := money.Parse(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func decimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return money.String(d.Decimal)
}

func toInterval(d *time.Duration) pgtype.Interval {
	if d == nil {
		return pgtype.Interval{}
	}
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func fromInterval(i pgtype.Interval) *time.Duration {
	if !i.Valid {
		return nil
	}
	d := time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour +
		time.Duration(i.Months)*30*24*time.Hour
	return &d
}

// Create stores a coupon and its criteria in one transaction.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	value, err := money.Parse(c.Discount.Value)
	if err != nil {
		return errors.Wrap(err, "discount value")
	}
	threshold, err := nullDecimal(c.Discount.Threshold)
	if err != nil {
		return errors.Wrap(err, "threshold")
	}
	limit, err := nullDecimal(c.Discount.Limit)
	if err != nil {
		return errors.Wrap(err, "limit")
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertCouponSQL,
			c.ID, c.Name, string(c.Discount.Type), value, threshold, limit,
			c.Volume, c.VolumePerCitizen, c.Discount.ValidFrom, c.Discount.ValidUntil,
			c.ExpiredAt, toInterval(c.ExpiredIn), c.CreatedAt,
		); err != nil {
			return errors.Wrap(err, "insert coupon")
		}
		for _, cr := range c.Criteria {
			if _, err := tx.Exec(ctx, insertCriterionSQL,
				c.ID, string(cr.Scope.Kind()), cr.Scope.Target(), string(cr.Direction),
			); err != nil {
				return errors.Wrap(err, "insert criterion")
			}
		}
		return nil
	})
	return mapTxError(err)
}

// Get returns a coupon with its criteria.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := getCoupon(ctx, r.pool, id, "")
	if err != nil {
		return nil, mapTxError(err)
	}
	return c, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// getCoupon loads a coupon; suffix may add a locking clause.
func getCoupon(ctx context.Context, q querier, id, suffix string) (*coupon.Coupon, error) {
	var (
		c         coupon.Coupon
		dtype     string
		value     decimal.Decimal
		threshold decimal.NullDecimal
		limit     decimal.NullDecimal
		expiredIn pgtype.Interval
	)
	err := q.QueryRow(ctx, selectCouponSQL+suffix, id).Scan(
		&c.ID, &c.Name, &dtype, &value, &threshold, &limit,
		&c.Volume, &c.VolumePerCitizen, &c.Discount.ValidFrom, &c.Discount.ValidUntil,
		&c.ExpiredAt, &expiredIn, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, errors.Wrapf(err, "select coupon %s", id)
	}
	c.Discount.Type = pricing.DiscountType(dtype)
	c.Discount.Value = money.String(value)
	c.Discount.Threshold = decimalString(threshold)
	c.Discount.Limit = decimalString(limit)
	c.ExpiredIn = fromInterval(expiredIn)

	rows, err := q.Query(ctx, selectCriteriaSQL, id)
	if err != nil {
		return nil, errors.Wrap(err, "select criteria")
	}
	c.Criteria, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Criterion, error) {
		var kind, target, direction string
		if err := row.Scan(&kind, &target, &direction); err != nil {
			return coupon.Criterion{}, err
		}
		scope, err := coupon.NewScope(coupon.Kind(kind), target)
		if err != nil {
			return coupon.Criterion{}, err
		}
		return coupon.Criterion{Scope: scope, Direction: coupon.Direction(direction)}, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect criteria")
	}
	return &c, nil
}

// IssuePublic serializes issuers of one coupon on its row lock, so the
// counts handed to mint cannot change before the ticket is inserted. The
// per-user slot index backs the per-user count.
func (r *CouponRepository) IssuePublic(ctx context.Context, couponID, userID string, mint coupon.MintFunc) (*coupon.Ticket, error) {
	var t *coupon.Ticket
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := getCoupon(ctx, tx, couponID, " FOR UPDATE")
		if err != nil {
			return err
		}
		var u coupon.Usage
		if err := tx.QueryRow(ctx, countTicketsSQL, couponID, userID).Scan(&u.Issued, &u.IssuedToUser); err != nil {
			return errors.Wrap(err, "count tickets")
		}
		if t, err = mint(c, u); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertTicketSQL,
			t.ID, t.CouponID, t.UserID, nil, t.UserSeq, t.ExpiredAt, t.CreatedAt,
		); err != nil {
			if isUniqueViolation(err, constraintTicketSlot) {
				return coupon.ErrUserCapExhausted
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, mapTxError(err)
	}
	return t, nil
}

// FindCode looks up a disposable code.
func (r *CouponRepository) FindCode(ctx context.Context, code string) (*coupon.DisposableCode, error) {
	var dc coupon.DisposableCode
	err := r.pool.QueryRow(ctx, selectCodeSQL, code).Scan(
		&dc.ID, &dc.CouponID, &dc.Code, &dc.ExpiredAt, &dc.CreatedAt, &dc.Consumed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCodeNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select code"))
	}
	return &dc, nil
}

// RedeemCode inserts a private ticket. The unique constraint on code_id is
// the only arbiter between concurrent redeemers.
func (r *CouponRepository) RedeemCode(ctx context.Context, t *coupon.Ticket) error {
	_, err := r.pool.Exec(ctx, insertTicketSQL,
		t.ID, t.CouponID, t.UserID, t.CodeID, nil, t.ExpiredAt, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintTicketCode) {
			return coupon.ErrCodeAlreadyConsumed
		}
		return mapTxError(errors.Wrap(err, "insert ticket"))
	}
	return nil
}

// InsertCodes inserts codes in one statement, skipping codes that already
// exist, and returns those that were inserted.
func (r *CouponRepository) InsertCodes(ctx context.Context, codes []coupon.DisposableCode) ([]coupon.DisposableCode, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var (
		ids       = make([]string, len(codes))
		couponIDs = make([]string, len(codes))
		values    = make([]string, len(codes))
		expiries  = make([]*time.Time, len(codes))
		created   = make([]time.Time, len(codes))
		byID      = make(map[string]coupon.DisposableCode, len(codes))
	)
	for i, dc := range codes {
		ids[i], couponIDs[i], values[i], expiries[i], created[i] = dc.ID, dc.CouponID, dc.Code, dc.ExpiredAt, dc.CreatedAt
		byID[dc.ID] = dc
	}

	rows, err := r.pool.Query(ctx, insertCodesSQL, ids, couponIDs, values, expiries, created)
	if err != nil {
		return nil, mapTxError(errors.Wrap(err, "insert codes"))
	}
	inserted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapTxError(errors.Wrap(err, "collect inserted codes"))
	}

	out := make([]coupon.DisposableCode, 0, len(inserted))
	for _, id := range inserted {
		out = append(out, byID[id])
	}
	return out, nil
}

// GetTicket returns a ticket; Consumed reflects a live payment.
func (r *CouponRepository) GetTicket(ctx context.Context, id string) (*coupon.Ticket, error) {
	var t coupon.Ticket
	err := r.pool.QueryRow(ctx, selectTicketSQL, id).Scan(
		&t.ID, &t.CouponID, &t.UserID, &t.CodeID, &t.UserSeq, &t.ExpiredAt, &t.CreatedAt, &t.Consumed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrTicketNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select ticket"))
	}
	return &t, nil
}
