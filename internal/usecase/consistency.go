package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/domain"
)

const consistencyPageSize = 500

// ConsistencyChecker verifies every balance against the balance invariants
// and against the after-snapshot of its most recent entry.
type ConsistencyChecker struct {
	ledgerRepo LedgerRepository
	logger     zerolog.Logger
}

// NewConsistencyChecker creates a new ConsistencyChecker.
func NewConsistencyChecker(ledgerRepo LedgerRepository, logger zerolog.Logger) *ConsistencyChecker {
	return &ConsistencyChecker{
		ledgerRepo: ledgerRepo,
		logger:     logger.With().Str("component", "consistency").Logger(),
	}
}

// Check scans all balances page by page.
func (c *ConsistencyChecker) Check(ctx context.Context) (*domain.ConsistencyReport, error) {
	report := &domain.ConsistencyReport{
		CheckedAt: time.Now().UTC(),
		Issues:    []domain.ConsistencyIssue{},
	}

	var afterID int64
	for {
		checks, err := c.ledgerRepo.ListBalanceChecks(ctx, afterID, consistencyPageSize)
		if err != nil {
			return nil, err
		}

		for _, check := range checks {
			report.Checked++
			afterID = check.BalanceID

			if reason := check.Issue(); reason != "" {
				report.Issues = append(report.Issues, domain.ConsistencyIssue{BalanceCheck: check, Reason: reason})
			}
		}

		if len(checks) < consistencyPageSize {
			break
		}
	}

	report.Consistent = len(report.Issues) == 0

	if !report.Consistent {
		c.logger.Error().
			Int("issues", len(report.Issues)).
			Int("checked", report.Checked).
			Msg("ledger inconsistency detected")
	}

	return report, nil
}
