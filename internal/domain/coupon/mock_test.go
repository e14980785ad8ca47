package coupon

import (
	"context"
	"sync"
)

// memRepo is an in-memory Repository. A single mutex stands in for the
// coupon row lock and the code uniqueness constraint.
type memRepo struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
	codes   map[string]*DisposableCode
	tickets map[string]*Ticket
	byCode  map[string]string
	getErr  error
}

func newMemRepo(coupons ...*Coupon) *memRepo {
	r := &memRepo{
		coupons: make(map[string]*Coupon),
		codes:   make(map[string]*DisposableCode),
		tickets: make(map[string]*Ticket),
		byCode:  make(map[string]string),
	}
	for _, c := range coupons {
		r.coupons[c.ID] = c
	}
	return r
}

func (r *memRepo) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[c.ID] = c
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	c, ok := r.coupons[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

func (r *memRepo) IssuePublic(_ context.Context, couponID, userID string, mint MintFunc) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[couponID]
	if !ok {
		return nil, ErrCouponNotFound
	}
	var u Usage
	for _, t := range r.tickets {
		if t.CouponID != couponID || t.Private() {
			continue
		}
		u.Issued++
		if t.UserID == userID {
			u.IssuedToUser++
		}
	}
	t, err := mint(c, u)
	if err != nil {
		return nil, err
	}
	r.tickets[t.ID] = t
	return t, nil
}

func (r *memRepo) FindCode(_ context.Context, code string) (*DisposableCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc, ok := r.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *dc
	_, cp.Consumed = r.byCode[dc.ID]
	return &cp, nil
}

func (r *memRepo) RedeemCode(_ context.Context, t *Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byCode[t.CodeID]; taken {
		return ErrCodeAlreadyConsumed
	}
	r.byCode[t.CodeID] = t.ID
	r.tickets[t.ID] = t
	return nil
}

func (r *memRepo) InsertCodes(_ context.Context, codes []DisposableCode) ([]DisposableCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted []DisposableCode
	for _, dc := range codes {
		if _, exists := r.codes[dc.Code]; exists {
			continue
		}
		cp := dc
		r.codes[dc.Code] = &cp
		inserted = append(inserted, dc)
	}
	return inserted, nil
}

func (r *memRepo) GetTicket(_ context.Context, id string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t, nil
}
