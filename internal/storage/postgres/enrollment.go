package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
)

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

const enrollmentColumns = `
e.id, e.user_id, e.order_id, e.product_type, e.product_id, e.snapshot_id, e.lesson_count,
e.started_at, e.ended_at, e.revoked_at`

const selectEnrollmentSQL = `SELECT` + enrollmentColumns + ` FROM enrollments e WHERE e.id = $1`

const lessonInSnapshotSQL = `
SELECT EXISTS (
    SELECT 1 FROM enrollments e
    JOIN snapshot_lessons l ON l.snapshot_id = e.snapshot_id
    WHERE e.id = $1 AND l.lesson_id = $2
)`

const insertProgressSQL = `
INSERT INTO lesson_progress (enrollment_id, lesson_id, completed_at) VALUES ($1, $2, $3)
ON CONFLICT (enrollment_id, lesson_id) DO NOTHING`

const countProgressSQL = `SELECT count(*) FROM lesson_progress WHERE enrollment_id = $1`

const insertCertificateSQL = `
INSERT INTO certificates (id, enrollment_id, user_id, product_type, product_id, issued_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (enrollment_id) DO NOTHING
RETURNING id`

const certificateColumns = `id, enrollment_id, user_id, product_type, product_id, issued_at`

const selectCertificateSQL = `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`

const selectCertificateByEnrollmentSQL = `SELECT ` + certificateColumns + ` FROM certificates WHERE enrollment_id = $1`

// EnrollmentRepository implements enrollment.Repository backed by PostgreSQL.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository returns an EnrollmentRepository that uses the given pool.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// enrollmentDest lists scan targets matching enrollmentColumns. Product
// type scans through its underlying string.
func enrollmentDest(e *enrollment.Enrollment) []any {
	return []any{
		&e.ID, &e.UserID, &e.OrderID, &e.Product.Type, &e.Product.ID, &e.SnapshotID,
		&e.LessonCount, &e.StartedAt, &e.EndedAt, &e.RevokedAt,
	}
}

// Get returns an enrollment by id.
func (r *EnrollmentRepository) Get(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	if err := r.pool.QueryRow(ctx, selectEnrollmentSQL, id).Scan(enrollmentDest(&e)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enrollment.ErrEnrollmentNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select enrollment"))
	}
	return &e, nil
}

// CompleteLesson records progress once per (enrollment, lesson) and returns
// the number of completed lessons. Snapshot lessons never change, so the
// membership check needs no lock.
func (r *EnrollmentRepository) CompleteLesson(ctx context.Context, p enrollment.Progress) (int, error) {
	var known bool
	if err := r.pool.QueryRow(ctx, lessonInSnapshotSQL, p.EnrollmentID, p.LessonID).Scan(&known); err != nil {
		return 0, mapTxError(errors.Wrap(err, "check lesson"))
	}
	if !known {
		return 0, enrollment.ErrLessonNotFound
	}
	if _, err := r.pool.Exec(ctx, insertProgressSQL, p.EnrollmentID, p.LessonID, p.CompletedAt); err != nil {
		return 0, mapTxError(errors.Wrap(err, "insert progress"))
	}
	var n int
	if err := r.pool.QueryRow(ctx, countProgressSQL, p.EnrollmentID).Scan(&n); err != nil {
		return 0, mapTxError(errors.Wrap(err, "count progress"))
	}
	return n, nil
}

// IssueCertificate inserts c unless the enrollment already has a certificate,
// in which case the existing one is returned.
func (r *EnrollmentRepository) IssueCertificate(ctx context.Context, c *enrollment.Certificate) (*enrollment.Certificate, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, insertCertificateSQL,
		c.ID, c.EnrollmentID, c.UserID, string(c.Product.Type), c.Product.ID, c.IssuedAt,
	).Scan(&id)
	switch {
	case err == nil:
		return c, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := scanCertificate(r.pool.QueryRow(ctx, selectCertificateByEnrollmentSQL, c.EnrollmentID))
		if err != nil {
			return nil, false, mapTxError(errors.Wrap(err, "select existing certificate"))
		}
		return existing, false, nil
	default:
		return nil, false, mapTxError(errors.Wrap(err, "insert certificate"))
	}
}

// GetCertificate returns a certificate by id.
func (r *EnrollmentRepository) GetCertificate(ctx context.Context, id string) (*enrollment.Certificate, error) {
	c, err := scanCertificate(r.pool.QueryRow(ctx, selectCertificateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enrollment.ErrCertificateNotFound
		}
		return nil, mapTxError(errors.Wrap(err, "select certificate"))
	}
	return c, nil
}

func scanCertificate(row pgx.Row) (*enrollment.Certificate, error) {
	var (
		c     enrollment.Certificate
		ptype string
	)
	if err := row.Scan(&c.ID, &c.EnrollmentID, &c.UserID, &ptype, &c.Product.ID, &c.IssuedAt); err != nil {
		return nil, err
	}
	c.Product.Type = catalog.ProductType(ptype)
	return &c, nil
}
