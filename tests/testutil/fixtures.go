package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/adapter/repository/postgres"
	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
	pgInfra "github.com/iho/cryptoledger/internal/infrastructure/postgres"
	"github.com/iho/cryptoledger/internal/usecase"
)

// TestDB provides a migrated test database connection.
type TestDB struct {
	Pool *pgxpool.Pool
	t    *testing.T
}

// NewTestDB connects to DATABASE_URL and applies migrations. The test is
// skipped when DATABASE_URL is unset or -short is given.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	migrationsPath := "migrations"
	for _, candidate := range []string{"migrations", "../migrations", "../../migrations"} {
		if _, err := os.Stat(candidate); err == nil {
			migrationsPath = candidate
			break
		}
	}

	if err := pgInfra.RunMigrations(dbURL, migrationsPath, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgInfra.NewPool(ctx, dbURL, 20, 2)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	db := &TestDB{Pool: pool, t: t}
	t.Cleanup(db.Cleanup)

	return db
}

// Cleanup closes the database connection.
func (db *TestDB) Cleanup() {
	db.Pool.Close()
}

// TruncateAll removes all data from tables.
func (db *TestDB) TruncateAll(ctx context.Context) {
	db.t.Helper()

	_, err := db.Pool.Exec(ctx, `TRUNCATE TABLE outbox_events, ledger_entries, balances RESTART IDENTITY CASCADE`)
	if err != nil {
		db.t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Ledger bundles the use cases wired onto a TestDB.
type Ledger struct {
	Service     *usecase.LedgerService
	Query       *usecase.BalanceQuery
	Reconciler  *usecase.ConfirmationReconciler
	Consistency *usecase.ConsistencyChecker
	Balances    *postgres.BalanceRepository
	Entries     *postgres.EntryRepository
	Outbox      *postgres.OutboxRepository
	Metrics     *metrics.Metrics
}

// NewLedger wires the postgres repositories into the ledger use cases,
// without a cache.
func (db *TestDB) NewLedger(currencies domain.Currencies) *Ledger {
	logger := zerolog.Nop()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	balances := postgres.NewBalanceRepository(db.Pool)
	entries := postgres.NewEntryRepository(db.Pool)
	outbox := postgres.NewOutboxRepository(db.Pool)

	service := usecase.NewLedgerService(
		postgres.NewTxManager(db.Pool),
		balances,
		entries,
		outbox,
		postgres.NewULIDGenerator(),
		postgres.NewRetrier(usecase.MaxAttempts, logger),
		currencies,
		nil,
		m,
		logger,
	)

	return &Ledger{
		Service:     service,
		Query:       usecase.NewBalanceQuery(balances, entries, currencies, nil, m, logger),
		Reconciler:  usecase.NewConfirmationReconciler(service, entries, m, logger),
		Consistency: usecase.NewConsistencyChecker(postgres.NewLedgerRepository(db.Pool), logger),
		Balances:    balances,
		Entries:     entries,
		Outbox:      outbox,
		Metrics:     m,
	}
}
