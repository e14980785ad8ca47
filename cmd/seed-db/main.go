// Command seed-db applies the schema and seeds catalog products, their price
// snapshots and coupons from a JSON file. Reruns are idempotent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/pricing"
	"github.com/xenking/commerce-core/internal/storage/postgres"
)

type seedFile struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	CategoryID string `json:"categoryId"`
	TeacherID  string `json:"teacherId"`
	Snapshot   struct {
		ID            string   `json:"id"`
		Price         string   `json:"price"`
		AvailableDays *int     `json:"availableDays"`
		Lessons       []string `json:"lessons"`
	} `json:"snapshot"`
}

type couponJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Discount struct {
		Type       string     `json:"type"`
		Value      string     `json:"value"`
		Threshold  string     `json:"threshold"`
		Limit      string     `json:"limit"`
		ValidFrom  *time.Time `json:"validFrom"`
		ValidUntil *time.Time `json:"validUntil"`
	} `json:"discount"`
	Volume           *int       `json:"volume"`
	VolumePerCitizen *int       `json:"volumePerCitizen"`
	ExpiredAt        *time.Time `json:"expiredAt"`
	ExpiredIn        string     `json:"expiredIn"`
	Criteria         []struct {
		Kind      string `json:"kind"`
		Target    string `json:"target"`
		Direction string `json:"direction"`
	} `json:"criteria"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewCatalogRepository(pool), seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, coupon.NewService(postgres.NewCouponRepository(pool)), seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedProducts(ctx context.Context, repo *postgres.CatalogRepository, products []productJSON) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	now := time.Now()
	for _, p := range products {
		ref := catalog.Ref{Type: catalog.ProductType(p.Type), ID: p.ID}
		if !ref.Type.Valid() {
			return errors.Errorf("product %s: unknown type %q", p.ID, p.Type)
		}
		if err := repo.UpsertProduct(ctx, postgres.Product{
			Ref:        ref,
			CategoryID: p.CategoryID,
			TeacherID:  p.TeacherID,
			Title:      p.Title,
		}); err != nil {
			return err
		}
		if err := repo.AddSnapshot(ctx, &catalog.Snapshot{
			Descriptor:    catalog.Descriptor{Type: ref.Type, ProductID: ref.ID},
			SnapshotID:    p.Snapshot.ID,
			Price:         p.Snapshot.Price,
			AvailableDays: p.Snapshot.AvailableDays,
			LessonCount:   len(p.Snapshot.Lessons),
			Lessons:       p.Snapshot.Lessons,
		}, now); err != nil {
			return err
		}

		slog.Info("upserted product", slog.String("ref", ref.String()), slog.String("snapshot", p.Snapshot.ID))
	}
	return nil
}

func seedCoupons(ctx context.Context, svc *coupon.Service, coupons []couponJSON) error {
	slog.Info("creating coupons", slog.Int("count", len(coupons)))

	for _, cj := range coupons {
		if _, err := svc.Get(ctx, cj.ID); err == nil {
			slog.Info("coupon exists, skipping", slog.String("id", cj.ID))
			continue
		} else if !errors.Is(err, coupon.ErrCouponNotFound) {
			return errors.Wrapf(err, "get coupon %s", cj.ID)
		}

		c, err := cj.coupon()
		if err != nil {
			return errors.Wrapf(err, "coupon %s", cj.ID)
		}
		if err := svc.Create(ctx, c); err != nil {
			return errors.Wrapf(err, "create coupon %s", cj.ID)
		}

		slog.Info("created coupon", slog.String("id", c.ID), slog.String("name", c.Name))
	}
	return nil
}

func (cj couponJSON) coupon() (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		ID:   cj.ID,
		Name: cj.Name,
		Discount: pricing.Discount{
			Type:       pricing.DiscountType(cj.Discount.Type),
			Value:      cj.Discount.Value,
			Threshold:  cj.Discount.Threshold,
			Limit:      cj.Discount.Limit,
			ValidFrom:  cj.Discount.ValidFrom,
			ValidUntil: cj.Discount.ValidUntil,
		},
		Volume:           cj.Volume,
		VolumePerCitizen: cj.VolumePerCitizen,
		ExpiredAt:        cj.ExpiredAt,
	}
	if cj.ExpiredIn != "" {
		d, err := time.ParseDuration(cj.ExpiredIn)
		if err != nil {
			return nil, errors.Wrap(err, "expiredIn")
		}
		c.ExpiredIn = &d
	}
	for _, cr := range cj.Criteria {
		scope, err := coupon.NewScope(coupon.Kind(cr.Kind), cr.Target)
		if err != nil {
			return nil, err
		}
		c.Criteria = append(c.Criteria, coupon.Criterion{Scope: scope, Direction: coupon.Direction(cr.Direction)})
	}
	return c, nil
}
