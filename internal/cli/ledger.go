package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/punchamoorthee/fxledger/internal/service"
)

type provisionCmd struct {
	env      *Env
	username string
}

func (*provisionCmd) Name() string     { return "provision" }
func (*provisionCmd) Synopsis() string { return "create a user with one account per currency" }
func (*provisionCmd) Usage() string {
	return `ledgerctl provision -username <name>

  Creates the user and one account per supported currency, each opened with
  the configured initial balance (LEDGER_INITIAL_BALANCES).
`
}

func (c *provisionCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "username", "", "Name of the new user")
}

func (c *provisionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.username == "" {
		return c.env.usageError(f, "-username is required")
	}
	return c.env.run(ctx, func(b Backend) error {
		user, accounts, err := b.CreateUser(ctx, c.username, c.env.Initial)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.env.Out, "user %s (%s)\n", user.Username, user.ID)
		return printAccounts(c.env, accounts)
	})
}

type transferCmd struct {
	env      *Env
	from, to string
	amount   string
	key      string
}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "move funds between two accounts" }
func (*transferCmd) Usage() string {
	return `ledgerctl transfer -from <account> -to <account> -amount <amount> [-key <idempotency key>]

  Converts at the stored rate and charges the commission of the transfer's
  type. Resending with the same key replays the original transaction.
`
}

func (c *transferCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "Sender account id")
	f.StringVar(&c.to, "to", "", "Receiver account id")
	f.StringVar(&c.amount, "amount", "", "Amount sent, in the sender's currency")
	f.StringVar(&c.key, "key", "", "Idempotency key")
}

func (c *transferCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	from, err := uuid.Parse(c.from)
	if err != nil {
		return c.env.usageError(f, "-from: %v", err)
	}
	to, err := uuid.Parse(c.to)
	if err != nil {
		return c.env.usageError(f, "-to: %v", err)
	}
	amount, err := domain.ParseAmount(c.amount)
	if err != nil {
		return c.env.usageError(f, "-amount: %v", err)
	}

	return c.env.run(ctx, func(b Backend) error {
		ref, err := b.LoadReference(ctx)
		if err != nil {
			return err
		}
		rec, replayed, err := service.NewTransferService(b, ref).Transfer(ctx, domain.TransferRequest{
			SenderID:       from,
			ReceiverID:     to,
			Amount:         amount,
			IdempotencyKey: c.key,
		})
		if err != nil {
			return err
		}
		if replayed {
			fmt.Fprintln(c.env.Out, "replayed")
		}
		return printTransactions(c.env, []domain.Transaction{*rec})
	})
}

type balanceCmd struct {
	env     *Env
	user    string
	account string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show account balances" }
func (*balanceCmd) Usage() string {
	return "ledgerctl balance (-user <user id> | -account <account id>)\n"
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "Show every account of this user")
	f.StringVar(&c.account, "account", "", "Show a single account")
}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	switch {
	case c.account != "":
		id, err := uuid.Parse(c.account)
		if err != nil {
			return c.env.usageError(f, "-account: %v", err)
		}
		return c.env.run(ctx, func(b Backend) error {
			acc, err := b.Account(ctx, id)
			if err != nil {
				return err
			}
			return printAccounts(c.env, []domain.Account{*acc})
		})
	case c.user != "":
		id, err := uuid.Parse(c.user)
		if err != nil {
			return c.env.usageError(f, "-user: %v", err)
		}
		return c.env.run(ctx, func(b Backend) error {
			accounts, err := b.AccountsForUser(ctx, id)
			if err != nil {
				return err
			}
			return printAccounts(c.env, accounts)
		})
	}
	return c.env.usageError(f, "one of -user or -account is required")
}

type historyCmd struct {
	env  *Env
	user string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list the transfers a user sent or received" }
func (*historyCmd) Usage() string    { return "ledgerctl history -user <user id>\n" }

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := uuid.Parse(c.user)
	if err != nil {
		return c.env.usageError(f, "-user: %v", err)
	}
	return c.env.run(ctx, func(b Backend) error {
		txs, err := b.TransactionsForUser(ctx, id)
		if err != nil {
			return err
		}
		return printTransactions(c.env, txs)
	})
}

func printAccounts(env *Env, accounts []domain.Account) error {
	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tCURRENCY\tBALANCE")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Currency, a.Currency.Format(a.Balance))
	}
	return w.Flush()
}

func printTransactions(env *Env, txs []domain.Transaction) error {
	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tID\tTYPE\tSENT\tCOMMISSION\tRATE\tRECEIVED")
	for _, t := range txs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Seq, t.ID, t.Type,
			t.SenderCurrency.Format(t.SentAmount),
			t.SenderCurrency.Format(t.Commission),
			t.ConversionRate,
			t.ReceiverCurrency.Format(t.ReceivedAmount),
		)
	}
	return w.Flush()
}
