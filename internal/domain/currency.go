package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Fallback limits applied when a currency leaves a field unset.
var (
	DefaultMinDeposit    = decimal.RequireFromString("0.00000001")
	DefaultMinWithdrawal = decimal.RequireFromString("0.0001")
)

// CurrencyConfig holds per-currency limits and fees.
type CurrencyConfig struct {
	Code          string
	MinDeposit    decimal.Decimal
	MinWithdrawal decimal.Decimal
	WithdrawalFee decimal.Decimal
}

// Currencies is the read-only set of supported currencies keyed by code.
type Currencies map[string]CurrencyConfig

// DefaultCurrencies returns the built-in currency set.
func DefaultCurrencies() Currencies {
	return NewCurrencies(
		CurrencyConfig{Code: "BTC"},
		CurrencyConfig{Code: "ETH"},
		CurrencyConfig{Code: "USDT"},
	)
}

// NewCurrencies normalizes codes and fills unset limits.
func NewCurrencies(configs ...CurrencyConfig) Currencies {
	c := make(Currencies, len(configs))
	for _, cfg := range configs {
		cfg.Code = NormalizeCurrency(cfg.Code)
		if cfg.MinDeposit.IsZero() {
			cfg.MinDeposit = DefaultMinDeposit
		}
		if cfg.MinWithdrawal.IsZero() {
			cfg.MinWithdrawal = DefaultMinWithdrawal
		}
		c[cfg.Code] = cfg
	}
	return c
}

// Lookup returns the config for code or ErrUnsupportedCurrency.
func (c Currencies) Lookup(code string) (CurrencyConfig, error) {
	cfg, ok := c[NormalizeCurrency(code)]
	if !ok {
		return CurrencyConfig{}, ErrUnsupportedCurrency
	}
	return cfg, nil
}

// Codes returns the supported codes in sorted order.
func (c Currencies) Codes() []string {
	codes := make([]string, 0, len(c))
	for code := range c {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
