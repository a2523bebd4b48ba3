package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/db"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/logger"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/middleware"
	"storefront-checkout/internal/order"
	"storefront-checkout/internal/payment"
	"storefront-checkout/internal/payment/webhook"
	"storefront-checkout/internal/product"
	"storefront-checkout/internal/transport"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc = db.NewDatabase

	newPublisherFunc = events.New

	startServerFunc = func(srv *http.Server) error {
		return srv.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server exited", zap.Error(err))
	}
}

type app struct {
	handler   http.Handler
	limiter   *middleware.Limiter
	publisher events.Publisher
}

func newServer(cfg *config.Config, database *sql.DB, publisher events.Publisher) (*app, error) {
	gateway, err := payment.New(cfg)
	if err != nil {
		return nil, err
	}

	productRepo := product.NewRepository(database)
	productSvc := product.NewService(productRepo)

	cartRepo := cart.NewRepository(database)
	cartSvc := cart.NewService(cartRepo, productRepo)

	orderRepo := order.NewRepository(database, cfg.DBConnTimeout)
	orderSvc := order.NewService(orderRepo, cartSvc, gateway, publisher, order.Settings{
		CallbackBaseURL:  cfg.CallbackBaseURL,
		VerifyStaleAfter: cfg.VerifyStaleAfter,
	})

	reg := metrics.NewRegistry()
	callbacks := webhook.NewCallbackHandler(orderSvc, payment.NewRepository(database), gateway.Name(), reg)

	limiter := middleware.NewLimiter()
	handler := transport.NewRouter(transport.NewHandler(orderSvc, cartSvc, productSvc), transport.RouterConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		Limiter:   limiter,
		Callback:  callbacks.PaymentCallbackHandler,
		Metrics:   reg,
		Ready: func(r *http.Request) error {
			return database.PingContext(r.Context())
		},
	})

	return &app{handler: handler, limiter: limiter, publisher: publisher}, nil
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	database, err := initDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	publisher := newPublisherFunc(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to close event publisher", zap.Error(err))
		}
	}()

	a, err := newServer(cfg, database, publisher)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.limiter.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Covers a gateway round trip plus the surrounding transaction.
		WriteTimeout: cfg.GatewayTimeout + 20*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.String("gateway", cfg.PaymentGateway),
		)
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
