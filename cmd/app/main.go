package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"subscription-ledger/internal/adapters/cli"
	"subscription-ledger/internal/adapters/repl"
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

	logger := logging.NewLogger(logrus.WarnLevel)
	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	logger.SetLevel(cfg.Level())
	log := logger.WithField("service", "ledger-cli")

	// The store is opened only when a command needs it, so --help works
	// without a database.
	var (
		store core.Store
		svc   app.ApplicationService
	)
	open := func() (app.ApplicationService, error) {
		if svc != nil {
			return svc, nil
		}
		s, err := db.OpenStore(ctx, cfg.Store, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		store = s
		ledger := core.NewLedger(store, core.Options{Logger: log, ReportConcurrency: cfg.Reporting.Concurrency})
		svc = app.NewAppService(store, ledger, metrics.NewCollector(), app.Options{
			Currency:        cfg.Billing.Currency,
			DelinquencyDays: cfg.Billing.DelinquencyDays,
			Logger:          log,
		})
		return svc, nil
	}

	if len(os.Args) > 1 {
		err = cli.New(open).ExecuteContext(ctx)
	} else {
		err = repl.Run(ctx, func() *cobra.Command { return cli.New(open) }, os.Stdin, os.Stdout)
	}
	if store != nil {
		if cerr := store.Close(); cerr != nil {
			log.WithError(cerr).Warn("failed to close store")
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
