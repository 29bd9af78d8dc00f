package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/credit/domain"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	obsmetrics "github.com/mivvo/expertiz/internal/observability/metrics"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Notifier notificationdomain.Service `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	notifier notificationdomain.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("credit.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) EnsureLedger(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	now := time.Now().UTC()
	return s.repo.InsertLedger(ctx, s.db, &domain.CreditLedger{
		UserID:         userID,
		Balance:        decimal.Zero,
		TotalPurchased: decimal.Zero,
		TotalUsed:      decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *Service) Debit(ctx context.Context, req domain.DebitRequest) (domain.CreditLedger, error) {
	var ledger domain.CreditLedger
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		ledger, txErr = s.DebitInTx(ctx, tx, req)
		return txErr
	})
	return ledger, err
}

// DebitInTx serializes concurrent debits on one user through a row lock on
// the ledger, so two racing debits cannot both observe the same balance.
func (s *Service) DebitInTx(ctx context.Context, tx *gorm.DB, req domain.DebitRequest) (domain.CreditLedger, error) {
	if req.UserID == 0 {
		return domain.CreditLedger{}, domain.ErrInvalidUser
	}
	if !req.Amount.IsPositive() {
		return domain.CreditLedger{}, domain.ErrInvalidAmount
	}

	ledger, err := s.repo.GetLedgerForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return domain.CreditLedger{}, fmt.Errorf("lock ledger: %w", err)
	}
	if ledger == nil {
		return domain.CreditLedger{}, domain.ErrLedgerNotFound
	}
	if ledger.Balance.LessThan(req.Amount) {
		return domain.CreditLedger{}, domain.ErrInsufficientCredit
	}

	ledger.Balance = ledger.Balance.Sub(req.Amount)
	ledger.TotalUsed = ledger.TotalUsed.Add(req.Amount)
	if err := s.repo.UpdateLedger(ctx, tx, ledger); err != nil {
		return domain.CreditLedger{}, fmt.Errorf("update ledger: %w", err)
	}

	if err := s.repo.InsertTransaction(ctx, tx, &domain.CreditTransaction{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Type:        domain.TransactionUsage,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return domain.CreditLedger{}, fmt.Errorf("append usage transaction: %w", err)
	}

	amount, _ := req.Amount.Float64()
	s.metrics.RecordCreditsDebited(ctx, amount)

	return *ledger, nil
}

func (s *Service) Credit(ctx context.Context, req domain.CreditRequest) (domain.CreditLedger, error) {
	if req.UserID == 0 {
		return domain.CreditLedger{}, domain.ErrInvalidUser
	}
	if !req.Amount.IsPositive() {
		return domain.CreditLedger{}, domain.ErrInvalidAmount
	}

	var ledger domain.CreditLedger
	err := s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.GetLedgerForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}
		if locked == nil {
			return domain.ErrLedgerNotFound
		}

		locked.Balance = locked.Balance.Add(req.Amount)
		locked.TotalPurchased = locked.TotalPurchased.Add(req.Amount)
		if err := s.repo.UpdateLedger(ctx, tx, locked); err != nil {
			return fmt.Errorf("update ledger: %w", err)
		}

		if err := s.repo.InsertTransaction(ctx, tx, &domain.CreditTransaction{
			ID:          s.genID.Generate(),
			UserID:      req.UserID,
			Type:        domain.TransactionPurchase,
			Amount:      req.Amount,
			ReferenceID: req.ReferenceID,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("append purchase transaction: %w", err)
		}

		ledger = *locked
		return nil
	})
	if err != nil {
		return domain.CreditLedger{}, err
	}

	s.emit(ctx, notificationdomain.CreditAddedNotice(req.UserID, req.Amount, ledger.Balance))
	return ledger, nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	var result domain.RefundResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.RefundInTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return domain.RefundResult{}, err
	}
	if result.Applied {
		s.emit(ctx, notificationdomain.CreditsRefundedNotice(req.UserID, req.Amount, result.Ledger.Balance))
	}
	return result, nil
}

// RefundInTx records the refund entry first: the partial unique index on
// refund references makes a replayed refund a no-op, so a retried saga never
// double-credits.
func (s *Service) RefundInTx(ctx context.Context, tx *gorm.DB, req domain.RefundRequest) (domain.RefundResult, error) {
	if req.UserID == 0 {
		return domain.RefundResult{}, domain.ErrInvalidUser
	}
	if !req.Amount.IsPositive() {
		return domain.RefundResult{}, domain.ErrInvalidAmount
	}
	if req.ReferenceID == "" {
		return domain.RefundResult{}, domain.ErrInvalidAmount
	}

	inserted, err := s.repo.InsertRefundOnce(ctx, tx, &domain.CreditTransaction{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Type:        domain.TransactionRefund,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.RefundResult{}, fmt.Errorf("append refund transaction: %w", err)
	}

	ledger, err := s.repo.GetLedgerForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return domain.RefundResult{}, fmt.Errorf("lock ledger: %w", err)
	}
	if ledger == nil {
		return domain.RefundResult{}, domain.ErrLedgerNotFound
	}

	if !inserted {
		s.log.Info("refund already recorded",
			zap.String("user_id", req.UserID.String()),
			zap.String("reference_id", req.ReferenceID),
		)
		return domain.RefundResult{Applied: false, Ledger: *ledger}, nil
	}

	// TotalUsed stays untouched so usage statistics remain historically
	// accurate; only the balance is restored.
	ledger.Balance = ledger.Balance.Add(req.Amount)
	if err := s.repo.UpdateLedger(ctx, tx, ledger); err != nil {
		return domain.RefundResult{}, fmt.Errorf("update ledger: %w", err)
	}

	amount, _ := req.Amount.Float64()
	s.metrics.RecordCreditsRefunded(ctx, amount)

	return domain.RefundResult{Applied: true, Ledger: *ledger}, nil
}

func (s *Service) Summary(ctx context.Context, req domain.SummaryRequest) (domain.SummaryResponse, error) {
	if req.UserID == 0 {
		return domain.SummaryResponse{}, domain.ErrInvalidUser
	}

	ledger, err := s.repo.GetLedger(ctx, s.db, req.UserID)
	if err != nil {
		return domain.SummaryResponse{}, err
	}
	if ledger == nil {
		return domain.SummaryResponse{}, domain.ErrLedgerNotFound
	}

	pageSize := req.Page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	items, err := s.repo.ListTransactions(ctx, s.db, req.UserID, pagination.Pagination{
		PageToken: req.Page.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.SummaryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(txn *domain.CreditTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        txn.ID.String(),
			CreatedAt: txn.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	txns := make([]domain.CreditTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		txns = append(txns, *item)
	}

	resp := domain.SummaryResponse{Ledger: *ledger, Transactions: txns}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) emit(ctx context.Context, req notificationdomain.EmitRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, req); err != nil {
		s.log.Warn("notification emit failed",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
	}
}
