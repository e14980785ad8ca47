package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service authors coupons and issues tickets.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService creates a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Create validates and stores a new coupon.
func (s *Service) Create(ctx context.Context, c *Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = s.newID()
	}
	c.CreatedAt = s.now()
	if err := s.repo.Create(ctx, c); err != nil {
		return errors.Wrap(err, "create coupon")
	}
	return nil
}

// Get returns a coupon by id.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.Get(ctx, id)
}

// Ticket returns a ticket by id.
func (s *Service) Ticket(ctx context.Context, id string) (*Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

// IssuePublic claims a ticket of a public coupon for userID. The window,
// global volume and per-user cap are checked against counts taken under the
// coupon row lock, inside the transaction that inserts the ticket.
func (s *Service) IssuePublic(ctx context.Context, couponID, userID string) (*Ticket, error) {
	return s.repo.IssuePublic(ctx, couponID, userID, func(c *Coupon, u Usage) (*Ticket, error) {
		now := s.now()
		if !c.Open(now) {
			return nil, ErrCouponNotOpen
		}
		if c.Volume != nil && u.Issued >= *c.Volume {
			return nil, ErrVolumeExhausted
		}
		if c.VolumePerCitizen != nil && u.IssuedToUser >= *c.VolumePerCitizen {
			return nil, ErrUserCapExhausted
		}
		return &Ticket{
			ID:        s.newID(),
			CouponID:  c.ID,
			UserID:    userID,
			UserSeq:   u.IssuedToUser + 1,
			ExpiredAt: c.TicketExpiry(now),
			CreatedAt: now,
		}, nil
	})
}

// RedeemCode turns a disposable code into a ticket for userID. Consumption
// is decided by the store's uniqueness constraint on the code, so of two
// concurrent redemptions exactly one succeeds.
func (s *Service) RedeemCode(ctx context.Context, couponID, code, userID string) (*Ticket, error) {
	dc, err := s.repo.FindCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if dc.CouponID != couponID {
		return nil, ErrCodeNotFound
	}
	now := s.now()
	if dc.ExpiredAt != nil && now.After(*dc.ExpiredAt) {
		return nil, ErrExpired
	}
	if dc.Consumed {
		return nil, ErrCodeAlreadyConsumed
	}

	c, err := s.repo.Get(ctx, couponID)
	if err != nil {
		return nil, err
	}

	t := &Ticket{
		ID:        s.newID(),
		CouponID:  couponID,
		UserID:    userID,
		CodeID:    dc.ID,
		ExpiredAt: c.TicketExpiry(now),
		CreatedAt: now,
	}
	if err := s.repo.RedeemCode(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
