package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DebitRequest struct {
	UserID      snowflake.ID
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

type CreditRequest struct {
	UserID      snowflake.ID
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

type RefundRequest struct {
	UserID      snowflake.ID
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// RefundResult reports whether the refund was applied now or had already
// been recorded for the same reference.
type RefundResult struct {
	Applied bool
	Ledger  CreditLedger
}

type SummaryRequest struct {
	UserID snowflake.ID
	Page   pagination.Pagination
}

type SummaryResponse struct {
	Ledger       CreditLedger        `json:"ledger"`
	Transactions []CreditTransaction `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// EnsureLedger creates the zero-balance ledger row if missing.
	EnsureLedger(ctx context.Context, userID snowflake.ID) error

	Debit(ctx context.Context, req DebitRequest) (CreditLedger, error)
	Credit(ctx context.Context, req CreditRequest) (CreditLedger, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)

	// DebitInTx and RefundInTx run inside a caller-owned transaction so the
	// report workflow can commit ledger and report state atomically.
	DebitInTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (CreditLedger, error)
	RefundInTx(ctx context.Context, tx *gorm.DB, req RefundRequest) (RefundResult, error)

	Summary(ctx context.Context, req SummaryRequest) (SummaryResponse, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInsufficientCredit = errors.New("insufficient_credit")
	ErrLedgerNotFound     = errors.New("ledger_not_found")
)
