package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/punchamoorthee/fxledger/internal/config"
	"github.com/punchamoorthee/fxledger/internal/logging"
	"github.com/punchamoorthee/fxledger/internal/store"
)

var (
	totalUsers = flag.Int("users", 1000, "Number of users to provision")
	prefix     = flag.String("prefix", "bench", "Username prefix of provisioned users")
	out        = flag.String("out", "accounts.json", "File receiving the provisioned account ids, grouped by currency")
)

func main() {
	flag.Parse()

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
	if err := seed(context.Background(), cfg, logger); err != nil {
		level.Error(logger).Log("msg", "seeding failed", "err", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	level.Info(logger).Log("msg", "migrating", "db", cfg.MaskedDBSource())
	if err := store.Migrate(cfg.DBSource); err != nil {
		return err
	}

	db, err := store.NewPostgres(ctx, cfg.DBSource, store.Options{MinimumBalance: cfg.MinimumBalance})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.SeedReference(ctx, db); err != nil {
		return err
	}
	level.Info(logger).Log("msg", "reference data seeded", "rates", len(store.DefaultRates))

	count, err := db.CountAccounts(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		level.Info(logger).Log("msg", "database already has accounts, skipping provisioning", "accounts", count)
		return nil
	}

	level.Info(logger).Log("msg", "provisioning users", "users", *totalUsers)
	accounts, err := db.BulkCreateUsers(ctx, *prefix, *totalUsers, cfg.InitialBalances)
	if err != nil {
		return err
	}

	byCurrency := make(map[string][]string)
	for _, a := range accounts {
		byCurrency[a.Currency.String()] = append(byCurrency[a.Currency.String()], a.ID.String())
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(byCurrency); err != nil {
		return err
	}

	level.Info(logger).Log("msg", "seeded", "accounts", len(accounts), "out", *out)
	return nil
}
