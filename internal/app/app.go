package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/order"
	"github.com/omena/store-api/internal/domain/payment"
	"github.com/omena/store-api/internal/handler"
	"github.com/omena/store-api/internal/melhorenvio"
	"github.com/omena/store-api/internal/mercadopago"
	"github.com/omena/store-api/internal/readmodel"
	"github.com/omena/store-api/internal/repository"
	"github.com/omena/store-api/pkg/health"
	"github.com/omena/store-api/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health checks.
	checks := health.NewRegistry()
	checks.Readiness("postgres", 5*time.Second, health.DatabaseCheck(pool))
	checks.Liveness("goroutines", time.Second, health.GoroutineCheck(10000))
	checks.Liveness("gc-pause", time.Second, health.GCPauseCheck(500*time.Millisecond))
	checks.Run(ctx, 10*time.Second)
	checks.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	// Outbound clients.
	carrier, err := melhorenvio.NewClient(melhorenvio.Config{
		BaseURL:          cfg.MelhorEnvio.BaseURL,
		Token:            cfg.MelhorEnvio.Token,
		OriginPostalCode: cfg.MelhorEnvio.Origin,
		Sender: melhorenvio.Party{
			Name:         cfg.MelhorEnvio.Sender.Name,
			Phone:        cfg.MelhorEnvio.Sender.Phone,
			Email:        cfg.MelhorEnvio.Sender.Email,
			Document:     cfg.MelhorEnvio.Sender.Document,
			Address:      cfg.MelhorEnvio.Sender.Address,
			Number:       cfg.MelhorEnvio.Sender.Number,
			Neighborhood: cfg.MelhorEnvio.Sender.Neighborhood,
			City:         cfg.MelhorEnvio.Sender.City,
			StateAbbr:    cfg.MelhorEnvio.Sender.State,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create carrier client")
	}
	gateway, err := mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.MercadoPago.BaseURL,
		AccessToken: cfg.MercadoPago.AccessToken,
	})
	if err != nil {
		return errors.Wrap(err, "create gateway client")
	}

	// Domain services.
	var syncer payment.Syncer
	if cfg.ReadModel.BaseURL != "" {
		syncer = readmodel.NewPusher(readmodel.Config{
			BaseURL:   cfg.ReadModel.BaseURL,
			AuthToken: cfg.ReadModel.AuthToken,
		}, productRepo)
	}
	paymentSvc := payment.NewService(
		freight.NewReconciler(carrier),
		productRepo,
		gateway,
		orderRepo,
		syncer,
	)
	orderSvc := order.NewService(orderRepo, profileRepo, gateway, carrier)

	// HTTP handlers.
	h := handler.NewHandler(paymentSvc, orderSvc, productRepo, carrier)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", checks.LiveHandler)
	mux.HandleFunc("/readyz", checks.ReadyHandler)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "store-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		checks.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		checks.Close()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
