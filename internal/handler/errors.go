package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/domain/catalog"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
	"github.com/xenking/commerce-core/internal/money"
)

var notFound = []error{
	catalog.ErrProductNotFound,
	coupon.ErrCouponNotFound,
	coupon.ErrCodeNotFound,
	coupon.ErrTicketNotFound,
	order.ErrOrderNotFound,
	enrollment.ErrEnrollmentNotFound,
	enrollment.ErrCertificateNotFound,
	enrollment.ErrLessonNotFound,
}

// rejected are domain rules the request broke against current state.
var rejected = []error{
	coupon.ErrIneligible,
	coupon.ErrExpired,
	coupon.ErrCouponNotOpen,
	coupon.ErrVolumeExhausted,
	coupon.ErrUserCapExhausted,
	coupon.ErrCodeAlreadyConsumed,
	coupon.ErrTicketConsumed,
	coupon.ErrCodeCollision,
	order.ErrPriceMismatch,
	order.ErrAlreadyRefunded,
	enrollment.ErrEnrollmentInactive,
	enrollment.ErrNotCourse,
	domain.ErrConflict,
	// A request deadline is a Conflict-class failure; the caller resubmits.
	context.DeadlineExceeded,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusOf maps a domain error to an HTTP status.
func statusOf(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, errMalformed),
		errors.Is(err, money.ErrInvalidNumber),
		errors.Is(err, money.ErrDivisionByZero):
		return http.StatusBadRequest
	case isAny(err, notFound):
		return http.StatusNotFound
	case isAny(err, rejected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes {"code":N,"message":"..."}; internal errors are logged
// and their text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	encStr(&e, "message", msg)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		encStr(&e, "field", verr.Field)
	}
	e.ObjEnd()
	writeJSON(w, status, &e)
}
