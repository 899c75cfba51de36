package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/punchamoorthee/fxledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Prefix is prepended to every variable name, e.g. LEDGER_DB_SOURCE.
const Prefix = "LEDGER"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DBSource string `envconfig:"DB_SOURCE"`
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	Env      string `envconfig:"ENVIRONMENT" default:"development"`
	Store    string `envconfig:"STORE" default:"postgres"`

	LockTimeout      time.Duration   `envconfig:"LOCK_TIMEOUT" default:"2s"`
	MinimumBalance   decimal.Decimal `envconfig:"MINIMUM_BALANCE" default:"0"`
	InitialBalances  Balances        `envconfig:"INITIAL_BALANCES" default:"USD:1000,EUR:1000,CNY:1000"`
	ReferenceRefresh time.Duration   `envconfig:"REFERENCE_REFRESH" default:"1m"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"logfmt"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Balances is the opening balance per currency given to new users,
// written as "USD:1000,EUR:1000".
type Balances map[domain.Currency]decimal.Decimal

// Decode implements envconfig.Decoder.
func (b *Balances) Decode(value string) error {
	out := make(Balances)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, amount, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("initial balance %q: want CURRENCY:AMOUNT", part)
		}
		c, err := domain.ParseCurrency(code)
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			return fmt.Errorf("initial balance %q: %w", part, err)
		}
		out[c] = v
	}
	*b = out
	return nil
}

// Load reads an optional .env file, then the environment.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is fine, the environment alone may be enough
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DBSource == "" {
			return errors.New("LEDGER_DB_SOURCE environment variable is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}
	if c.ReferenceRefresh <= 0 {
		return fmt.Errorf("reference refresh must be positive, got %s", c.ReferenceRefresh)
	}
	for cur, bal := range c.InitialBalances {
		if bal.LessThan(c.MinimumBalance) {
			return fmt.Errorf("initial %s balance %s is below the minimum balance %s", cur, bal, c.MinimumBalance)
		}
	}
	return nil
}

// MaskedDBSource hides the credentials of the connection string for logging.
func (c *Config) MaskedDBSource() string {
	if len(c.DBSource) <= 6 {
		return "****"
	}
	return c.DBSource[:2] + "****" + c.DBSource[len(c.DBSource)-4:]
}
