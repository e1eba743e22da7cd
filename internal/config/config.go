// Package config holds the server configuration. Every option can be set
// by flag or environment variable; flags win.
package config

import (
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/paywall/verifier/internal/currency"
)

type Config struct {
	Port   string `long:"port" env:"PORT" default:"8080" description:"HTTP listen port"`
	DBPath string `long:"db" env:"DB_PATH" description:"SQLite path for the verdict audit log; empty disables it"`
	Debug  bool   `long:"debug" env:"DEBUG" description:"development logging"`

	BaseCurrency string        `long:"base-currency" env:"BASE_CURRENCY" default:"BSV" description:"currency payouts are normalised to"`
	RateURL      string        `long:"rate-url" env:"RATE_URL" default:"https://api.whatsonchain.com/v1/bsv/main/exchangerate" description:"exchange rate endpoint"`
	RateTimeout  time.Duration `long:"rate-timeout" env:"RATE_TIMEOUT" default:"10s" description:"exchange rate request timeout"`
	FixedRates   string        `long:"fixed-rates" env:"FIXED_RATES" description:"static rates per whole coin, e.g. USD=45.1,EUR=41; replaces the rate endpoint"`

	PaymailSender     string `long:"paymail-sender" env:"PAYMAIL_SENDER" default:"verifier@localhost" description:"sender handle presented to payment handle directories"`
	PaymailNameserver string `long:"paymail-nameserver" env:"PAYMAIL_NAMESERVER" description:"DNS server host:port for SRV lookups"`
}

// Load parses args (without the program name) and the environment.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseCurrency == "" {
		return fmt.Errorf("base currency must not be empty")
	}
	if c.FixedRates != "" {
		if _, err := currency.ParseFixedRates(c.FixedRates); err != nil {
			return fmt.Errorf("fixed rates: %w", err)
		}
	}
	return nil
}
