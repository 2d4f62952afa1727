package generated

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Balance struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	Currency  string             `json:"currency"`
	Balance   pgtype.Numeric     `json:"balance"`
	Reserved  pgtype.Numeric     `json:"reserved"`
	Version   int64              `json:"version"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type LedgerEntry struct {
	Seq            int64              `json:"seq"`
	ID             string             `json:"id"`
	BalanceID      int64              `json:"balance_id"`
	UserID         int64              `json:"user_id"`
	Kind           string             `json:"kind"`
	Amount         pgtype.Numeric     `json:"amount"`
	Currency       string             `json:"currency"`
	BalanceBefore  pgtype.Numeric     `json:"balance_before"`
	BalanceAfter   pgtype.Numeric     `json:"balance_after"`
	ReservedBefore pgtype.Numeric     `json:"reserved_before"`
	ReservedAfter  pgtype.Numeric     `json:"reserved_after"`
	IdempotencyKey pgtype.Text        `json:"idempotency_key"`
	ExternalID     pgtype.Text        `json:"external_id"`
	ExternalTxID   pgtype.Text        `json:"external_tx_id"`
	Confirmations  int32              `json:"confirmations"`
	ProcessedAt    pgtype.Timestamptz `json:"processed_at"`
	Metadata       []byte             `json:"metadata"`
	Status         string             `json:"status"`
	Description    string             `json:"description"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

type OutboxEvent struct {
	ID            string             `json:"id"`
	AggregateID   string             `json:"aggregate_id"`
	AggregateType string             `json:"aggregate_type"`
	EventType     string             `json:"event_type"`
	Payload       []byte             `json:"payload"`
	CreatedAt     pgtype.Timestamptz `json:"created_at"`
	Published     bool               `json:"published"`
	PublishedAt   pgtype.Timestamptz `json:"published_at"`
}
