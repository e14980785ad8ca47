package order

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/pricing"
)

// --- Mock implementations ---

type mockCatalog struct {
	snapshots map[catalog.Ref]*catalog.Snapshot
}

func (m *mockCatalog) Resolve(_ context.Context, ref catalog.Ref) (*catalog.Snapshot, error) {
	s, ok := m.snapshots[ref]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return s, nil
}

type mockCoupons struct {
	coupons map[string]*coupon.Coupon
	tickets map[string]*coupon.Ticket
}

func (m *mockCoupons) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.coupons[id]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return c, nil
}

func (m *mockCoupons) Ticket(_ context.Context, id string) (*coupon.Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return nil, coupon.ErrTicketNotFound
	}
	return t, nil
}

type mockOrderRepo struct {
	purchases []*Purchase
	byKey     map[string]*Receipt
	orders    map[string]*Order
	createErr error
	refundErr error
	refunded  []string
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		byKey:  make(map[string]*Receipt),
		orders: make(map[string]*Order),
	}
}

func (m *mockOrderRepo) CreatePurchase(_ context.Context, p *Purchase) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byKey[p.Order.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	m.purchases = append(m.purchases, p)
	m.byKey[p.Order.IdempotencyKey] = &Receipt{Order: p.Order, Enrollment: p.Enrollment}
	m.orders[p.Order.ID] = p.Order
	return nil
}

func (m *mockOrderRepo) FindByIdempotencyKey(_ context.Context, key string) (*Receipt, error) {
	r, ok := m.byKey[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) Refund(_ context.Context, orderID string, at time.Time) error {
	if m.refundErr != nil {
		return m.refundErr
	}
	m.refunded = append(m.refunded, orderID)
	m.orders[orderID].Status = StatusRefunded
	m.orders[orderID].RefundedAt = &at
	return nil
}

type mockNotifier struct {
	receipts []*Receipt
}

func (m *mockNotifier) PurchaseCompleted(_ context.Context, r *Receipt) {
	m.receipts = append(m.receipts, r)
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

var (
	courseRef = catalog.Ref{Type: catalog.Course, ID: "c1"}
	ebookRef  = catalog.Ref{Type: catalog.Ebook, ID: "e1"}
)

type fixture struct {
	catalog  *mockCatalog
	coupons  *mockCoupons
	orders   *mockOrderRepo
	notifier *mockNotifier
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		catalog: &mockCatalog{snapshots: map[catalog.Ref]*catalog.Snapshot{
			courseRef: {
				Descriptor:    catalog.Descriptor{Type: catalog.Course, ProductID: "c1", CategoryID: "cat-y", TeacherID: "t1"},
				SnapshotID:    "s1",
				Price:         "50000",
				AvailableDays: ptr(30),
				LessonCount:   12,
			},
			ebookRef: {
				Descriptor: catalog.Descriptor{Type: catalog.Ebook, ProductID: "e1", CategoryID: "cat-x", TeacherID: "t2"},
				SnapshotID: "s2",
				Price:      "10000",
			},
		}},
		coupons: &mockCoupons{
			coupons: map[string]*coupon.Coupon{
				"percent": {
					ID:       "percent",
					Discount: pricing.Discount{Type: pricing.DiscountPercent, Value: "10", Limit: "4000"},
					Criteria: []coupon.Criterion{
						coupon.IncludeAll(),
						{Scope: coupon.Category{ID: "cat-x"}, Direction: coupon.Exclude},
					},
				},
				"threshold": {
					ID:       "threshold",
					Discount: pricing.Discount{Type: pricing.DiscountFixed, Value: "1000", Threshold: "99999"},
					Criteria: []coupon.Criterion{coupon.IncludeAll()},
				},
			},
			tickets: map[string]*coupon.Ticket{
				"t-ok":        {ID: "t-ok", CouponID: "percent", UserID: "u1"},
				"t-expired":   {ID: "t-expired", CouponID: "percent", UserID: "u1", ExpiredAt: ptr(fixedNow.Add(-time.Hour))},
				"t-consumed":  {ID: "t-consumed", CouponID: "percent", UserID: "u1", Consumed: true},
				"t-threshold": {ID: "t-threshold", CouponID: "threshold", UserID: "u1"},
			},
		},
		orders:   newMockOrderRepo(),
		notifier: &mockNotifier{},
	}
	f.svc = NewService(f.catalog, f.coupons, f.orders, f.notifier)
	f.svc.now = func() time.Time { return fixedNow }
	seq := 0
	f.svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return f
}

func purchaseReq(ref catalog.Ref, ticketID, amount string) PurchaseRequest {
	return PurchaseRequest{
		UserID:         "u1",
		Product:        ref,
		TicketID:       ticketID,
		IdempotencyKey: "key-1",
		Payment: Payment{
			Amount:        amount,
			PaymentID:     "pay-1",
			TransactionID: "tx-1",
			PaidAt:        fixedNow,
		},
	}
}

// --- Tests ---

func TestPurchase_CourseWithTicket(t *testing.T) {
	f := newFixture()

	r, err := f.svc.Purchase(context.Background(), purchaseReq(courseRef, "t-ok", "46000"))
	require.NoError(t, err)
	assert.False(t, r.Replayed)

	assert.Equal(t, "50000", r.Order.BasePrice)
	assert.Equal(t, "4000", r.Order.Discount)
	assert.Equal(t, "46000", r.Order.Amount)
	assert.Equal(t, "t-ok", r.Order.TicketID)
	assert.Equal(t, StatusPaid, r.Order.Status)

	require.Len(t, f.orders.purchases, 1)
	p := f.orders.purchases[0]
	require.NotNil(t, p.Course)
	assert.Nil(t, p.Ebook)
	assert.Equal(t, "c1", p.Course.CourseID)
	require.NotNil(t, p.Course.EndedAt)
	assert.Equal(t, fixedNow.AddDate(0, 0, 30), *p.Course.EndedAt)
	assert.Equal(t, p.Course.EndedAt, p.Enrollment.EndedAt)
	assert.Equal(t, r.Order.ID, p.Enrollment.OrderID)
	assert.Equal(t, 12, p.Enrollment.LessonCount)

	assert.Len(t, f.notifier.receipts, 1)
}

func TestPurchase_EbookWithoutTicket(t *testing.T) {
	f := newFixture()

	r, err := f.svc.Purchase(context.Background(), purchaseReq(ebookRef, "", "10000.00"))
	require.NoError(t, err)

	assert.Equal(t, "0", r.Order.Discount)
	assert.Empty(t, r.Order.TicketID)
	require.Len(t, f.orders.purchases, 1)
	p := f.orders.purchases[0]
	require.NotNil(t, p.Ebook)
	assert.Nil(t, p.Course)
	assert.Nil(t, p.Enrollment.EndedAt)
}

func TestPurchase_UnboundedCourse(t *testing.T) {
	f := newFixture()
	f.catalog.snapshots[courseRef].AvailableDays = nil

	_, err := f.svc.Purchase(context.Background(), purchaseReq(courseRef, "", "50000"))
	require.NoError(t, err)

	p := f.orders.purchases[0]
	assert.Nil(t, p.Course.EndedAt)
	assert.Nil(t, p.Enrollment.EndedAt)
}

func TestPurchase_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     PurchaseRequest
		wantErr error
	}{
		{name: "price mismatch", req: purchaseReq(courseRef, "t-ok", "45000"), wantErr: ErrPriceMismatch},
		{name: "stale quote without ticket", req: purchaseReq(courseRef, "", "46000"), wantErr: ErrPriceMismatch},
		{name: "unknown product", req: purchaseReq(catalog.Ref{Type: catalog.Course, ID: "zz"}, "", "1"), wantErr: catalog.ErrProductNotFound},
		{name: "unknown ticket", req: purchaseReq(courseRef, "t-none", "46000"), wantErr: coupon.ErrTicketNotFound},
		{name: "expired ticket", req: purchaseReq(courseRef, "t-expired", "46000"), wantErr: coupon.ErrExpired},
		{name: "consumed ticket", req: purchaseReq(courseRef, "t-consumed", "46000"), wantErr: coupon.ErrTicketConsumed},
		{name: "excluded category", req: purchaseReq(ebookRef, "t-ok", "9000"), wantErr: coupon.ErrIneligible},
		{name: "below threshold", req: purchaseReq(courseRef, "t-threshold", "50000"), wantErr: coupon.ErrIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.svc.Purchase(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, f.orders.purchases)
			assert.Empty(t, f.notifier.receipts)
		})
	}
}

func TestPurchase_TicketOfAnotherUser(t *testing.T) {
	f := newFixture()
	req := purchaseReq(courseRef, "t-ok", "46000")
	req.UserID = "u2"

	_, err := f.svc.Purchase(context.Background(), req)
	require.ErrorIs(t, err, coupon.ErrTicketNotFound)
}

func TestPurchase_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *PurchaseRequest)
		wantField string
	}{
		{name: "missing key", mutate: func(r *PurchaseRequest) { r.IdempotencyKey = "" }, wantField: "idempotencyKey"},
		{name: "missing user", mutate: func(r *PurchaseRequest) { r.UserID = "" }, wantField: "userId"},
		{name: "unknown type", mutate: func(r *PurchaseRequest) { r.Product.Type = "video" }, wantField: "product.type"},
		{name: "bad amount", mutate: func(r *PurchaseRequest) { r.Payment.Amount = "lots" }, wantField: "payment.amount"},
		{name: "missing payment id", mutate: func(r *PurchaseRequest) { r.Payment.PaymentID = "" }, wantField: "payment.paymentId"},
		{name: "missing transaction id", mutate: func(r *PurchaseRequest) { r.Payment.TransactionID = "" }, wantField: "payment.transactionId"},
		{name: "missing paid at", mutate: func(r *PurchaseRequest) { r.Payment.PaidAt = time.Time{} }, wantField: "payment.paidAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := purchaseReq(courseRef, "", "50000")
			tt.mutate(&req)

			_, err := f.svc.Purchase(context.Background(), req)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestPurchase_IdempotentResubmission(t *testing.T) {
	f := newFixture()
	req := purchaseReq(courseRef, "t-ok", "46000")

	first, err := f.svc.Purchase(context.Background(), req)
	require.NoError(t, err)

	// The ticket is now spent; the replay must not re-validate it.
	f.coupons.tickets["t-ok"].Consumed = true

	second, err := f.svc.Purchase(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Enrollment.ID, second.Enrollment.ID)

	assert.Len(t, f.orders.purchases, 1)
	assert.Len(t, f.notifier.receipts, 1)
}

func TestPurchase_IdempotencyKeyReusedByOtherBuyer(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Purchase(context.Background(), purchaseReq(ebookRef, "", "10000"))
	require.NoError(t, err)

	req := purchaseReq(ebookRef, "", "10000")
	req.UserID = "u2"
	_, err = f.svc.Purchase(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, f.orders.purchases, 1)
}

func TestPurchase_DuplicateKeyAtCommitReplays(t *testing.T) {
	f := newFixture()
	committed := &Receipt{
		Order: &Order{ID: "winner", UserID: "u1", Product: ebookRef, IdempotencyKey: "key-1"},
	}
	// The concurrent winner commits after our lookup but before our insert.
	repo := &racingRepo{mockOrderRepo: f.orders, winner: committed}
	f.svc.orders = repo

	r, err := f.svc.Purchase(context.Background(), purchaseReq(ebookRef, "", "10000"))
	require.NoError(t, err)
	assert.True(t, r.Replayed)
	assert.Equal(t, "winner", r.Order.ID)
	assert.Empty(t, f.notifier.receipts)
}

type racingRepo struct {
	*mockOrderRepo
	winner *Receipt
}

func (r *racingRepo) CreatePurchase(_ context.Context, p *Purchase) error {
	r.byKey[p.Order.IdempotencyKey] = r.winner
	return ErrDuplicateKey
}

func TestPurchase_ConflictIsNotRetried(t *testing.T) {
	f := newFixture()
	f.orders.createErr = errors.Wrap(domain.ErrConflict, "enrollment exists")

	_, err := f.svc.Purchase(context.Background(), purchaseReq(courseRef, "", "50000"))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, f.notifier.receipts)
}

func TestPurchase_StoreError(t *testing.T) {
	f := newFixture()
	f.orders.createErr = errors.New("db write failed")

	_, err := f.svc.Purchase(context.Background(), purchaseReq(courseRef, "", "50000"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create purchase")
}

func TestQuote(t *testing.T) {
	f := newFixture()

	q, err := f.svc.Quote(context.Background(), QuoteRequest{UserID: "u1", Product: courseRef, TicketID: "t-ok"})
	require.NoError(t, err)
	assert.Equal(t, "50000", q.Price.Base)
	assert.Equal(t, "4000", q.Price.Discount)
	assert.Equal(t, "46000", q.Price.Final)
	assert.Equal(t, "s1", q.Snapshot.SnapshotID)

	q, err = f.svc.Quote(context.Background(), QuoteRequest{UserID: "u1", Product: ebookRef})
	require.NoError(t, err)
	assert.Equal(t, "10000", q.Price.Final)
	assert.Nil(t, q.Ticket)

	_, err = f.svc.Quote(context.Background(), QuoteRequest{UserID: "u1", Product: ebookRef, TicketID: "t-ok"})
	require.ErrorIs(t, err, coupon.ErrIneligible)
}

func TestRefund(t *testing.T) {
	f := newFixture()
	r, err := f.svc.Purchase(context.Background(), purchaseReq(courseRef, "t-ok", "46000"))
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), r.Order.ID, "u2")
	require.ErrorIs(t, err, ErrOrderNotFound)

	o, err := f.svc.Refund(context.Background(), r.Order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, o.Status)
	require.NotNil(t, o.RefundedAt)
	assert.Equal(t, []string{r.Order.ID}, f.orders.refunded)

	_, err = f.svc.Refund(context.Background(), r.Order.ID, "u1")
	require.ErrorIs(t, err, ErrAlreadyRefunded)

	_, err = f.svc.Refund(context.Background(), "missing", "u1")
	require.ErrorIs(t, err, ErrOrderNotFound)
}
