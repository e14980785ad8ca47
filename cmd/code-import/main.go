// Command code-import loads disposable codes for one coupon from
// gzip-compressed files, one code per line.
//
// Files are streamed concurrently. Repeated codes are dropped with a bloom
// filter before they reach the database, and the insert itself skips codes
// that already exist, so an import can be rerun safely. A bloom false
// positive drops a new code; a rerun picks it up.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/storage/postgres"
)

const (
	maxCodeLen    = 64
	progressEvery = 100_000
)

type options struct {
	databaseURL string
	couponID    string
	files       []string
	batchSize   int
	expected    uint
	fpr         float64
	expiredAt   *time.Time
}

// inserter is the part of the coupon store the import writes to.
type inserter interface {
	InsertCodes(ctx context.Context, codes []coupon.DisposableCode) ([]coupon.DisposableCode, error)
}

type stats struct {
	read       int
	invalid    int
	duplicates int
	inserted   int
}

func main() {
	var (
		opts      options
		expiredAt string
	)

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.couponID, "coupon-id", "", "coupon the codes belong to")
	flag.IntVar(&opts.batchSize, "batch-size", 5000, "codes per insert")
	flag.UintVar(&opts.expected, "expected", 10_000_000, "expected number of codes, sizes the bloom filter")
	flag.Float64Var(&opts.fpr, "fpr", 1e-6, "bloom filter false positive rate")
	flag.StringVar(&expiredAt, "expired-at", "", "RFC 3339 expiry applied to every imported code")
	flag.Parse()
	opts.files = flag.Args()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if err := opts.validate(expiredAt); err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("code import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code import completed successfully")
}

func (o *options) validate(expiredAt string) error {
	switch {
	case o.databaseURL == "":
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	case o.couponID == "":
		return errors.New("--coupon-id is required")
	case len(o.files) == 0:
		return errors.New("at least one code file is required")
	case o.batchSize <= 0:
		return errors.New("--batch-size must be positive")
	case o.fpr <= 0 || o.fpr >= 1:
		return errors.New("--fpr must be within (0, 1)")
	}
	if expiredAt != "" {
		t, err := time.Parse(time.RFC3339, expiredAt)
		if err != nil {
			return errors.Wrap(err, "--expired-at")
		}
		o.expiredAt = &t
	}
	return nil
}

func run(ctx context.Context, opts options) error {
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	if _, err := repo.Get(ctx, opts.couponID); err != nil {
		return errors.Wrapf(err, "coupon %s", opts.couponID)
	}

	st, err := importCodes(ctx, repo, opts)
	slog.Info("import finished",
		slog.Int("read", st.read),
		slog.Int("invalid", st.invalid),
		slog.Int("duplicates", st.duplicates),
		slog.Int("inserted", st.inserted),
		slog.Int("already_present", st.read-st.invalid-st.duplicates-st.inserted),
	)
	return err
}

// importCodes streams every file into one deduplicating writer.
func importCodes(ctx context.Context, repo inserter, opts options) (stats, error) {
	var st stats
	lines := make(chan string, 4*opts.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(lines)
		readers, rctx := errgroup.WithContext(gctx)
		for _, path := range opts.files {
			readers.Go(func() error {
				return streamGzFile(rctx, path, lines)
			})
		}
		return readers.Wait()
	})
	g.Go(func() error {
		seen := bloom.NewWithEstimates(opts.expected, opts.fpr)
		batch := make([]coupon.DisposableCode, 0, opts.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			inserted, err := repo.InsertCodes(gctx, batch)
			if err != nil {
				return errors.Wrap(err, "insert codes")
			}
			st.inserted += len(inserted)
			batch = batch[:0]
			return nil
		}

		now := time.Now()
		for line := range lines {
			st.read++
			if st.read%progressEvery == 0 {
				slog.Info("import progress", slog.Int("read", st.read), slog.Int("inserted", st.inserted))
			}

			code, ok := normalize(line)
			if !ok {
				st.invalid++
				continue
			}
			if seen.TestAndAddString(code) {
				st.duplicates++
				continue
			}
			batch = append(batch, coupon.DisposableCode{
				ID:        uuid.NewString(),
				CouponID:  opts.couponID,
				Code:      code,
				ExpiredAt: opts.expiredAt,
				CreatedAt: now,
			})
			if len(batch) == opts.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	err := g.Wait()
	return st, err
}

// normalize trims and upper-cases a code, rejecting blank, oversized and
// non-printable ones.
func normalize(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if code == "" || len(code) > maxCodeLen {
		return "", false
	}
	for i := range len(code) {
		if code[i] <= ' ' || code[i] > '~' {
			return "", false
		}
	}
	return code, true
}

// streamGzFile sends each line of a gzip-compressed file to out.
func streamGzFile(ctx context.Context, path string, out chan<- string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	slog.Info("file done", slog.String("path", path))
	return nil
}
