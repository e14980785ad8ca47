package coupon

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// DefaultAlphabet omits characters that are easy to confuse when typed.
const DefaultAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GeneratorConfig tunes disposable code generation.
type GeneratorConfig struct {
	Alphabet string
	Length   int
	// MaxAttempts bounds insert rounds; codes rejected by the store are
	// re-rolled in the next round.
	MaxAttempts int
}

// CodeGenerator mints batches of unique disposable codes.
type CodeGenerator struct {
	repo     Repository
	alphabet string
	length   int
	attempts int
	rand     io.Reader
	now      func() time.Time
}

// NewCodeGenerator creates a CodeGenerator, filling unset config with defaults.
func NewCodeGenerator(repo Repository, cfg GeneratorConfig) *CodeGenerator {
	if cfg.Alphabet == "" {
		cfg.Alphabet = DefaultAlphabet
	}
	if cfg.Length <= 0 {
		cfg.Length = 12
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &CodeGenerator{
		repo:     repo,
		alphabet: cfg.Alphabet,
		length:   cfg.Length,
		attempts: cfg.MaxAttempts,
		rand:     rand.Reader,
		now:      time.Now,
	}
}

// Generate creates count new codes for couponID. Duplicates inside the batch
// are filtered by a bloom filter; collisions with codes already in the store
// are re-rolled for up to MaxAttempts rounds before failing with
// ErrCodeCollision.
func (g *CodeGenerator) Generate(ctx context.Context, couponID string, count int, expiredAt *time.Time) ([]DisposableCode, error) {
	if count <= 0 {
		return nil, nil
	}
	if _, err := g.repo.Get(ctx, couponID); err != nil {
		return nil, err
	}

	seen := bloom.NewWithEstimates(uint(max(count*2, 1024)), 0.001)
	out := make([]DisposableCode, 0, count)
	for attempt := 0; attempt < g.attempts && len(out) < count; attempt++ {
		batch, err := g.batch(couponID, count-len(out), expiredAt, seen)
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			continue
		}
		inserted, err := g.repo.InsertCodes(ctx, batch)
		if err != nil {
			return out, errors.Wrap(err, "insert codes")
		}
		out = append(out, inserted...)
	}
	if len(out) < count {
		return out, errors.Wrapf(ErrCodeCollision, "generated %d of %d codes", len(out), count)
	}
	return out, nil
}

func (g *CodeGenerator) batch(couponID string, n int, expiredAt *time.Time, seen *bloom.BloomFilter) ([]DisposableCode, error) {
	now := g.now()
	batch := make([]DisposableCode, 0, n)
	// A small alphabet may not have n unseen codes left.
	for draws := 0; len(batch) < n && draws < 4*n+16; draws++ {
		code, err := g.code()
		if err != nil {
			return nil, errors.Wrap(err, "random code")
		}
		if seen.TestAndAddString(code) {
			continue
		}
		batch = append(batch, DisposableCode{
			ID:        uuid.New().String(),
			CouponID:  couponID,
			Code:      code,
			ExpiredAt: expiredAt,
			CreatedAt: now,
		})
	}
	return batch, nil
}

func (g *CodeGenerator) code() (string, error) {
	size := big.NewInt(int64(len(g.alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(g.rand, size)
		if err != nil {
			return "", err
		}
		buf[i] = g.alphabet[n.Int64()]
	}
	return string(buf), nil
}
