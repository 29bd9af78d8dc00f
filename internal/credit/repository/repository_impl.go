package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/credit/domain"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertLedger(ctx context.Context, db *gorm.DB, ledger *domain.CreditLedger) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_ledgers (user_id, balance, total_purchased, total_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		ledger.UserID,
		ledger.Balance,
		ledger.TotalPurchased,
		ledger.TotalUsed,
		ledger.CreatedAt,
		ledger.UpdatedAt,
	).Error
}

func (r *repo) GetLedger(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.CreditLedger, error) {
	var ledger domain.CreditLedger
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, total_purchased, total_used, created_at, updated_at
		 FROM credit_ledgers WHERE user_id = ?`,
		userID,
	).Scan(&ledger).Error
	if err != nil {
		return nil, err
	}
	if ledger.UserID == 0 {
		return nil, nil
	}
	return &ledger, nil
}

func (r *repo) GetLedgerForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.CreditLedger, error) {
	var ledger domain.CreditLedger
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, total_purchased, total_used, created_at, updated_at
		 FROM credit_ledgers
		 WHERE user_id = ?
		 FOR UPDATE`,
		userID,
	).Scan(&ledger).Error
	if err != nil {
		return nil, err
	}
	if ledger.UserID == 0 {
		return nil, nil
	}
	return &ledger, nil
}

func (r *repo) UpdateLedger(ctx context.Context, db *gorm.DB, ledger *domain.CreditLedger) error {
	ledger.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE credit_ledgers
		 SET balance = ?, total_purchased = ?, total_used = ?, updated_at = ?
		 WHERE user_id = ?`,
		ledger.Balance,
		ledger.TotalPurchased,
		ledger.TotalUsed,
		ledger.UpdatedAt,
		ledger.UserID,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, user_id, type, amount, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		string(txn.Type),
		txn.Amount,
		txn.ReferenceID,
		txn.Description,
		txn.CreatedAt,
	).Error
}

func (r *repo) InsertRefundOnce(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, user_id, type, amount, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (reference_id) WHERE type = 'refund' DO NOTHING`,
		txn.ID,
		txn.UserID,
		string(domain.TransactionRefund),
		txn.Amount,
		txn.ReferenceID,
		txn.Description,
		txn.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*domain.CreditTransaction, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("user_id = ?", userID)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err == nil && cursor != nil && cursor.CreatedAt != "" {
			stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
				cursor.CreatedAt,
				cursor.CreatedAt,
				cursor.ID,
			)
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 20
	}

	var txns []*domain.CreditTransaction
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
