package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/iho/cryptoledger/internal/domain"
)

type currencyFile struct {
	Currencies []currencyEntry `mapstructure:"currencies"`
}

type currencyEntry struct {
	Code          string `mapstructure:"code"`
	MinDeposit    string `mapstructure:"min_deposit"`
	MinWithdrawal string `mapstructure:"min_withdrawal"`
	WithdrawalFee string `mapstructure:"withdrawal_fee"`
}

// LoadCurrencies reads the supported currency table from a YAML, JSON or
// TOML file. An empty path yields domain.DefaultCurrencies.
func LoadCurrencies(path string) (domain.Currencies, error) {
	if path == "" {
		return domain.DefaultCurrencies(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read currency config %s: %w", path, err)
	}

	var file currencyFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode currency config %s: %w", path, err)
	}

	return buildCurrencies(file.Currencies)
}

func buildCurrencies(entries []currencyEntry) (domain.Currencies, error) {
	if len(entries) == 0 {
		return nil, errors.New("currency config lists no currencies")
	}

	configs := make([]domain.CurrencyConfig, 0, len(entries))
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		code := domain.NormalizeCurrency(e.Code)
		if code == "" {
			return nil, errors.New("currency entry without code")
		}
		if seen[code] {
			return nil, fmt.Errorf("currency %s listed twice", code)
		}
		seen[code] = true

		cfg := domain.CurrencyConfig{Code: code}

		var err error
		if cfg.MinDeposit, err = parseLimit(code, "min_deposit", e.MinDeposit); err != nil {
			return nil, err
		}
		if cfg.MinWithdrawal, err = parseLimit(code, "min_withdrawal", e.MinWithdrawal); err != nil {
			return nil, err
		}
		if cfg.WithdrawalFee, err = parseLimit(code, "withdrawal_fee", e.WithdrawalFee); err != nil {
			return nil, err
		}

		configs = append(configs, cfg)
	}

	return domain.NewCurrencies(configs...), nil
}

func parseLimit(code, field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency %s: %s: %w", code, field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("currency %s: %s must not be negative", code, field)
	}
	if !d.Equal(d.Truncate(domain.AmountScale)) {
		return decimal.Zero, fmt.Errorf("currency %s: %s has more than %d decimal places", code, field, domain.AmountScale)
	}

	return d, nil
}
