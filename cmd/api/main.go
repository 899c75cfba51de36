package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/fxledger/internal/api"
	"github.com/punchamoorthee/fxledger/internal/catalog"
	"github.com/punchamoorthee/fxledger/internal/config"
	"github.com/punchamoorthee/fxledger/internal/logging"
	"github.com/punchamoorthee/fxledger/internal/service"
	"github.com/punchamoorthee/fxledger/internal/store"
)

// backend is everything the API needs from a store.
type backend interface {
	store.Ledger
	store.Provisioner
	store.ReferenceStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		level.Error(log.NewLogfmtLogger(os.Stderr)).Log("msg", "load config", "err", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		level.Error(log.NewLogfmtLogger(os.Stderr)).Log("msg", "init logger", "err", err)
		os.Exit(1)
	}
	logger = log.With(logger, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	opts := store.Options{LockTimeout: cfg.LockTimeout, MinimumBalance: cfg.MinimumBalance}

	var db backend
	switch cfg.Store {
	case config.StoreMemory:
		m := store.NewMemory(opts)
		if err := store.SeedReference(ctx, m); err != nil {
			return err
		}
		db = m
		level.Warn(logger).Log("msg", "using in-memory store, balances are lost on exit")
	default:
		if err := store.Migrate(cfg.DBSource); err != nil {
			return err
		}
		pg, err := store.NewPostgres(ctx, cfg.DBSource, opts)
		if err != nil {
			return err
		}
		defer pg.Close()
		db = pg
		level.Info(logger).Log("msg", "connected to postgres", "db", cfg.MaskedDBSource())
	}

	ref, err := catalog.NewSource(ctx, db.LoadReference, log.With(logger, "component", "catalog"))
	if err != nil {
		return err
	}
	go ref.Watch(ctx, cfg.ReferenceRefresh)

	var svc service.Service = service.NewTransferService(db, ref)
	svc = service.NewLoggingService(log.With(logger, "component", "ledger"), svc)
	svc = service.NewInstrumentingService(prometheus.DefaultRegisterer, svc)

	handler := api.NewHandler(svc, db, ref, cfg.InitialBalances, log.With(logger, "component", "http"))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "server starting", "port", cfg.Port, "store", cfg.Store)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
