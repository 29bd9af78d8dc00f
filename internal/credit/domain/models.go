package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TransactionType classifies ledger mutations. The transaction table is
// append-only; the ledger row is the only mutable state.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
)

// CreditLedger is the per-user balance row. Invariant:
// balance = total_purchased - total_used + sum(refunds), never negative.
type CreditLedger struct {
	UserID         snowflake.ID    `gorm:"primaryKey" json:"user_id"`
	Balance        decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance"`
	TotalPurchased decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_purchased"`
	TotalUsed      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_used"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// CreditTransaction is one immutable ledger entry. Refund entries carry the
// report ID as ReferenceID; a partial unique index on (reference_id) where
// type = 'refund' makes refunds idempotent.
type CreditTransaction struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID    `gorm:"not null;index" json:"user_id"`
	Type        TransactionType `gorm:"not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	ReferenceID string          `gorm:"index" json:"reference_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}
