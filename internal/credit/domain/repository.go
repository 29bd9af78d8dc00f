package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertLedger(ctx context.Context, db *gorm.DB, ledger *CreditLedger) error
	GetLedger(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditLedger, error)
	// GetLedgerForUpdate takes a row lock; must run inside a transaction.
	GetLedgerForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditLedger, error)
	UpdateLedger(ctx context.Context, db *gorm.DB, ledger *CreditLedger) error

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *CreditTransaction) error
	// InsertRefundOnce inserts a refund entry unless one already exists for
	// the same reference. Returns false when the refund was already recorded.
	InsertRefundOnce(ctx context.Context, db *gorm.DB, txn *CreditTransaction) (bool, error)
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*CreditTransaction, error)
}
