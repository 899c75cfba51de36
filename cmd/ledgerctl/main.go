package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/punchamoorthee/fxledger/internal/cli"
	"github.com/punchamoorthee/fxledger/internal/config"
	"github.com/punchamoorthee/fxledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(subcommands.ExitFailure))
	}
	if cfg.Store != config.StorePostgres {
		fmt.Fprintln(os.Stderr, "ledgerctl needs LEDGER_STORE=postgres")
		os.Exit(int(subcommands.ExitFailure))
	}

	env := &cli.Env{
		Open: func(ctx context.Context) (cli.Backend, func(), error) {
			db, err := store.NewPostgres(ctx, cfg.DBSource, store.Options{
				LockTimeout:    cfg.LockTimeout,
				MinimumBalance: cfg.MinimumBalance,
			})
			if err != nil {
				return nil, nil, err
			}
			return db, db.Close, nil
		},
		Migrate: func() error { return store.Migrate(cfg.DBSource) },
		Initial: cfg.InitialBalances,
		Out:     os.Stdout,
		Err:     os.Stderr,
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cli.Commands(env) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
