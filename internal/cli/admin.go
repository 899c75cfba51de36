package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

type migrateCmd struct{ env *Env }

func (*migrateCmd) Name() string           { return "migrate" }
func (*migrateCmd) Synopsis() string       { return "apply the database schema" }
func (*migrateCmd) Usage() string          { return "ledgerctl migrate\n" }
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.env.Migrate(); err != nil {
		fmt.Fprintln(c.env.Err, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(c.env.Out, "schema up to date")
	return subcommands.ExitSuccess
}

type ratesCmd struct{ env *Env }

func (*ratesCmd) Name() string           { return "rates" }
func (*ratesCmd) Synopsis() string       { return "list conversion rates and commissions" }
func (*ratesCmd) Usage() string          { return "ledgerctl rates\n" }
func (*ratesCmd) SetFlags(*flag.FlagSet) {}

func (c *ratesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.env.run(ctx, func(b Backend) error {
		ref, err := b.LoadReference(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.env.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FROM\tTO\tRATE")
		for _, r := range ref.Rates.Entries() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.From, r.To, r.Rate)
		}
		for _, r := range ref.Rates.Missing() {
			fmt.Fprintf(w, "%s\t%s\tmissing\n", r.From, r.To)
		}
		fmt.Fprintln(w, "\nTYPE\tCOMMISSION\t")
		for _, kind := range domain.TxKinds() {
			rate, err := ref.Commissions.Commission(kind)
			if err != nil {
				fmt.Fprintf(w, "%s\tmissing\t\n", kind)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t\n", kind, rate)
		}
		return w.Flush()
	})
}

type setRateCmd struct {
	env      *Env
	from, to string
	rate     string
}

func (*setRateCmd) Name() string     { return "set-rate" }
func (*setRateCmd) Synopsis() string { return "set the conversion rate of a currency pair" }
func (*setRateCmd) Usage() string {
	return `ledgerctl set-rate -from USD -to EUR -rate 0.90

  Creates or replaces the rate applied to amounts sent from one currency
  and received in another. Running API servers pick it up on their next
  reference refresh.
`
}

func (c *setRateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "Sender currency")
	f.StringVar(&c.to, "to", "", "Receiver currency")
	f.StringVar(&c.rate, "rate", "", "Conversion rate")
}

func (c *setRateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	from, err := domain.ParseCurrency(c.from)
	if err != nil {
		return c.env.usageError(f, "-from: %v", err)
	}
	to, err := domain.ParseCurrency(c.to)
	if err != nil {
		return c.env.usageError(f, "-to: %v", err)
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return c.env.usageError(f, "-rate: %v", err)
	}
	return c.env.run(ctx, func(b Backend) error {
		if err := b.SetRate(ctx, from, to, rate); err != nil {
			return err
		}
		fmt.Fprintf(c.env.Out, "%s -> %s = %s\n", from, to, rate)
		return nil
	})
}

type setCommissionCmd struct {
	env  *Env
	kind string
	rate string
}

func (*setCommissionCmd) Name() string     { return "set-commission" }
func (*setCommissionCmd) Synopsis() string { return "set the commission rate of a transaction type" }
func (*setCommissionCmd) Usage() string {
	return `ledgerctl set-commission -type OTHER -rate 0.02

  The rate is a fraction of the amount sent: 0.02 is 2%.
`
}

func (c *setCommissionCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "type", "", "Transaction type (SELF, OTHER)")
	f.StringVar(&c.rate, "rate", "", "Commission rate")
}

func (c *setCommissionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind, err := domain.ParseTxKind(c.kind)
	if err != nil {
		return c.env.usageError(f, "-type: %v", err)
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return c.env.usageError(f, "-rate: %v", err)
	}
	return c.env.run(ctx, func(b Backend) error {
		if err := b.SetCommission(ctx, kind, rate); err != nil {
			return err
		}
		fmt.Fprintf(c.env.Out, "%s commission = %s\n", kind, rate)
		return nil
	})
}
