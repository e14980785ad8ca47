// Package metrics holds the commerce instruments.
package metrics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/xenking/commerce-core"

// Ticket issuance paths.
const (
	PathPublic  = "public"
	PathPrivate = "private"
)

// Metrics records commerce outcomes. A nil *Metrics records nothing.
type Metrics struct {
	tracer           trace.Tracer
	ticketsIssued    metric.Int64Counter
	purchases        metric.Int64Counter
	purchaseDuration metric.Float64Histogram
}

// New creates the instruments on mp and a tracer on tp.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Metrics, error) {
	meter := mp.Meter(scope)

	issued, err := meter.Int64Counter("commerce.ticket.issued",
		metric.WithDescription("Coupon tickets issued"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "ticket counter")
	}
	purchases, err := meter.Int64Counter("commerce.purchase.completed",
		metric.WithDescription("Purchase attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "purchase counter")
	}
	duration, err := meter.Float64Histogram("commerce.purchase.duration",
		metric.WithDescription("Purchase latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "purchase histogram")
	}

	return &Metrics{
		tracer:           tp.Tracer(scope),
		ticketsIssued:    issued,
		purchases:        purchases,
		purchaseDuration: duration,
	}, nil
}

// TicketIssued counts one ticket issued through path.
func (m *Metrics) TicketIssued(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.ticketsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// Purchase records one purchase attempt with its outcome label.
func (m *Metrics) Purchase(ctx context.Context, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.purchases.Add(ctx, 1, attrs)
	m.purchaseDuration.Record(ctx, took.Seconds(), attrs)
}

// Span starts a span named name. The returned func ends it, marking the
// span failed when *err is non-nil.
func (m *Metrics) Span(ctx context.Context, name string, err *error) (context.Context, func()) {
	if m == nil {
		return ctx, func() {}
	}
	ctx, span := m.tracer.Start(ctx, name)
	return ctx, func() {
		if err != nil && *err != nil {
			span.RecordError(*err)
			span.SetStatus(codes.Error, (*err).Error())
		}
		span.End()
	}
}
