package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/money"
)

var _ catalog.Catalog = (*CatalogRepository)(nil)

const resolveSnapshotSQL = `
SELECT p.category_id, p.teacher_id, s.id, s.price, s.available_days, s.lesson_count
FROM products p
JOIN product_snapshots s ON s.product_type = p.product_type AND s.product_id = p.product_id
WHERE p.product_type = $1 AND p.product_id = $2
ORDER BY s.created_at DESC, s.id DESC
LIMIT 1`

const upsertProductSQL = `
INSERT INTO products (product_type, product_id, category_id, teacher_id, title)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (product_type, product_id) DO UPDATE
SET category_id = EXCLUDED.category_id, teacher_id = EXCLUDED.teacher_id, title = EXCLUDED.title`

const insertSnapshotSQL = `
INSERT INTO product_snapshots (id, product_type, product_id, price, available_days, lesson_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

const insertSnapshotLessonsSQL = `
INSERT INTO snapshot_lessons (snapshot_id, lesson_id, position)
SELECT $1, lesson_id, position::int
FROM unnest($2::text[]) WITH ORDINALITY AS l (lesson_id, position)
ON CONFLICT (snapshot_id, lesson_id) DO NOTHING`

// Product is a catalog entry as written by seeding tools.
type Product struct {
	Ref        catalog.Ref
	CategoryID string
	TeacherID  string
	Title      string
}

// CatalogRepository resolves products to their latest snapshot.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Resolve returns the most recent snapshot of ref. The read is not cached so
// purchases always price against the current snapshot.
func (r *CatalogRepository) Resolve(ctx context.Context, ref catalog.Ref) (*catalog.Snapshot, error) {
	var (
		s     = catalog.Snapshot{Descriptor: catalog.Descriptor{Type: ref.Type, ProductID: ref.ID}}
		price decimal.Decimal
	)
	err := r.pool.QueryRow(ctx, resolveSnapshotSQL, string(ref.Type), ref.ID).Scan(
		&s.CategoryID, &s.TeacherID, &s.SnapshotID, &price, &s.AvailableDays, &s.LessonCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, mapTxError(errors.Wrapf(err, "resolve %s", ref))
	}
	s.Price = money.String(price)
	return &s, nil
}

// UpsertProduct creates or updates a catalog product.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p Product) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL,
		string(p.Ref.Type), p.Ref.ID, p.CategoryID, p.TeacherID, p.Title,
	); err != nil {
		return errors.Wrapf(err, "upsert product %s", p.Ref)
	}
	return nil
}

// AddSnapshot stores a new priced snapshot with its lessons. The snapshot
// becomes current.
func (r *CatalogRepository) AddSnapshot(ctx context.Context, s *catalog.Snapshot, at time.Time) error {
	price, err := money.Parse(s.Price)
	if err != nil {
		return errors.Wrap(err, "snapshot price")
	}
	if s.LessonCount != len(s.Lessons) {
		return errors.Errorf("snapshot %s: lesson count %d does not match %d lessons",
			s.SnapshotID, s.LessonCount, len(s.Lessons))
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertSnapshotSQL,
			s.SnapshotID, string(s.Type), s.ProductID, price, s.AvailableDays, s.LessonCount, at,
		); err != nil {
			return errors.Wrapf(err, "insert snapshot %s", s.SnapshotID)
		}
		if len(s.Lessons) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertSnapshotLessonsSQL, s.SnapshotID, s.Lessons); err != nil {
			return errors.Wrapf(err, "insert lessons of %s", s.SnapshotID)
		}
		return nil
	})
}
