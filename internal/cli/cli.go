// Package cli implements the ledgerctl admin commands.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/store"
	"github.com/shopspring/decimal"
)

// Backend is the store the commands operate on.
type Backend interface {
	store.Ledger
	store.Provisioner
	store.ReferenceStore
}

// Env is shared by all commands.
type Env struct {
	// Open connects to the backend. The returned func releases it.
	Open func(ctx context.Context) (Backend, func(), error)
	// Migrate applies the schema.
	Migrate func() error
	// Initial is the opening balance per currency of provisioned users.
	Initial map[domain.Currency]decimal.Decimal
	Out     io.Writer
	Err     io.Writer
}

// Commands lists every ledgerctl command bound to env.
func Commands(env *Env) []subcommands.Command {
	return []subcommands.Command{
		&migrateCmd{env: env},
		&provisionCmd{env: env},
		&transferCmd{env: env},
		&balanceCmd{env: env},
		&historyCmd{env: env},
		&ratesCmd{env: env},
		&setRateCmd{env: env},
		&setCommissionCmd{env: env},
	}
}

// run opens the backend, calls fn and maps its error to an exit status.
func (e *Env) run(ctx context.Context, fn func(b Backend) error) subcommands.ExitStatus {
	b, closeFn, err := e.Open(ctx)
	if err != nil {
		fmt.Fprintln(e.Err, err)
		return subcommands.ExitFailure
	}
	defer closeFn()
	if err := fn(b); err != nil {
		fmt.Fprintln(e.Err, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// usageError reports a bad invocation.
func (e *Env) usageError(f *flag.FlagSet, format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(e.Err, format+"\n", args...)
	f.Usage()
	return subcommands.ExitUsageError
}
