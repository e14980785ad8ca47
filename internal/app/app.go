package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/enrollment"
	"github.com/xenking/commerce-core/internal/domain/order"
	"github.com/xenking/commerce-core/internal/handler"
	"github.com/xenking/commerce-core/internal/metrics"
	"github.com/xenking/commerce-core/internal/notify"
	"github.com/xenking/commerce-core/internal/storage/postgres"
	"github.com/xenking/commerce-core/pkg/health"
	"github.com/xenking/commerce-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	publisher, closePublisher, err := newPublisher(cfg.Kafka, lg, healthSvc)
	if err != nil {
		return errors.Wrap(err, "create publisher")
	}
	defer func() {
		if err := closePublisher.Close(); err != nil {
			lg.Error("Close publisher", zap.Error(err))
		}
	}()

	mtr, err := metrics.New(m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	enrollmentRepo := postgres.NewEnrollmentRepository(pool)

	// Domain services.
	events := notify.NewEvents(publisher)
	couponService := coupon.NewService(couponRepo)
	codeGenerator := coupon.NewCodeGenerator(couponRepo, coupon.GeneratorConfig{
		Alphabet:    cfg.Codes.Alphabet,
		Length:      cfg.Codes.Length,
		MaxAttempts: cfg.Codes.MaxAttempts,
	})
	orderService := order.NewService(catalogRepo, couponService, orderRepo, events)
	enrollmentService := enrollment.NewService(enrollmentRepo, events, cfg.Certificate.VerifyBaseURL)

	h := handler.New(
		handler.Config{MaxCodes: cfg.Codes.MaxPerRequest, QRSize: cfg.Certificate.QRSize},
		couponService,
		codeGenerator,
		orderService,
		enrollmentService,
		mtr,
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.TxTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("commerce-api", m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.Timeout(cfg.TxTimeout),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newPublisher returns a Kafka publisher, registered as a readiness check,
// or a logging publisher when no brokers are configured.
func newPublisher(cfg KafkaConfig, lg *zap.Logger, h *health.Health) (notify.Publisher, io.Closer, error) {
	if len(cfg.Brokers) == 0 {
		lg.Info("No Kafka brokers configured, events are logged only")
		return notify.LogPublisher{}, nopCloser{}, nil
	}
	p, err := notify.NewKafkaPublisher(notify.KafkaConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	}, lg.Named("kafka"))
	if err != nil {
		return nil, nil, err
	}
	h.AddReadinessCheck("kafka", 3*time.Second, health.PingCheck("kafka", p))
	return p, p, nil
}
