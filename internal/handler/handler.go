// Package handler is the JSON-over-HTTP adapter of the commerce core. It maps
// requests to typed domain inputs and domain errors to status codes; the
// caller's identity comes from the request body.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
	"github.com/xenking/commerce-core/internal/metrics"
)

// Coupons authors coupons and issues tickets.
type Coupons interface {
	Create(ctx context.Context, c *coupon.Coupon) error
	IssuePublic(ctx context.Context, couponID, userID string) (*coupon.Ticket, error)
	RedeemCode(ctx context.Context, couponID, code, userID string) (*coupon.Ticket, error)
}

// Codes generates disposable codes.
type Codes interface {
	Generate(ctx context.Context, couponID string, count int, expiredAt *time.Time) ([]coupon.DisposableCode, error)
}

// Orders quotes, purchases and refunds.
type Orders interface {
	Quote(ctx context.Context, req order.QuoteRequest) (*order.Quote, error)
	Purchase(ctx context.Context, req order.PurchaseRequest) (*order.Receipt, error)
	Refund(ctx context.Context, orderID, userID string) (*order.Order, error)
}

// Enrollments tracks course progress and certificates.
type Enrollments interface {
	CompleteLesson(ctx context.Context, userID, enrollmentID, lessonID string) (*enrollment.LessonResult, error)
	CertificateQR(ctx context.Context, id string, size int) ([]byte, error)
}

var (
	_ Coupons     = (*coupon.Service)(nil)
	_ Codes       = (*coupon.CodeGenerator)(nil)
	_ Orders      = (*order.Service)(nil)
	_ Enrollments = (*enrollment.Service)(nil)
)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// MaxCodes bounds one code generation request.
	MaxCodes int
	// QRSize is the default certificate QR edge in pixels.
	QRSize int
}

// Handler serves the commerce API.
type Handler struct {
	coupons     Coupons
	codes       Codes
	orders      Orders
	enrollments Enrollments
	metrics     *metrics.Metrics
	cfg         Config
	now         func() time.Time
}

// New creates a Handler. m may be nil.
func New(cfg Config, coupons Coupons, codes Codes, orders Orders, enrollments Enrollments, m *metrics.Metrics) *Handler {
	if cfg.MaxCodes <= 0 {
		cfg.MaxCodes = 10000
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	return &Handler{
		coupons:     coupons,
		codes:       codes,
		orders:      orders,
		enrollments: enrollments,
		metrics:     m,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/coupons", h.createCoupon)
	mux.HandleFunc("POST /api/coupons/{id}/tickets", h.issueTicket)
	mux.HandleFunc("POST /api/coupons/{id}/redemptions", h.redeemCode)
	mux.HandleFunc("POST /api/coupons/{id}/codes", h.generateCodes)
	mux.HandleFunc("POST /api/quotes", h.quote)
	mux.HandleFunc("POST /api/purchases", h.purchase)
	mux.HandleFunc("POST /api/orders/{id}/refund", h.refund)
	mux.HandleFunc("POST /api/enrollments/{id}/lessons/{lesson}/complete", h.completeLesson)
	mux.HandleFunc("GET /api/certificates/{id}/qr.png", h.certificateQR)
}
