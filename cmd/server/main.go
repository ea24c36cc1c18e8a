package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	webAdapter "subscription-ledger/internal/adapters/web"
	"subscription-ledger/internal/app"
	"subscription-ledger/internal/config"
	"subscription-ledger/internal/core"
	"subscription-ledger/internal/db"
	"subscription-ledger/internal/logging"
	"subscription-ledger/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(logrus.InfoLevel)
	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())
	log := logger.WithField("service", "ledger-server")

	store, err := db.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer store.Close()

	collector := metrics.NewCollector()
	ledger := core.NewLedger(store, core.Options{Logger: log, ReportConcurrency: cfg.Reporting.Concurrency})
	svc := app.NewAppService(store, ledger, collector, app.Options{
		Currency:        cfg.Billing.Currency,
		DelinquencyDays: cfg.Billing.DelinquencyDays,
		Logger:          log,
	})

	handler := webAdapter.NewHandler(svc, webAdapter.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        collector,
		Logger:         log,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
	}()

	log.WithField("port", cfg.Server.Port).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server")
	}
	log.Info("server stopped")
}
