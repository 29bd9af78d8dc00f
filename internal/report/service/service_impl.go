package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/config"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	obsmetrics "github.com/mivvo/expertiz/internal/observability/metrics"
	"github.com/mivvo/expertiz/internal/providers/analyzer"
	"github.com/mivvo/expertiz/internal/providers/email"
	"github.com/mivvo/expertiz/internal/ratelimit"
	"github.com/mivvo/expertiz/internal/report/domain"
	userdomain "github.com/mivvo/expertiz/internal/user/domain"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Pricing  *config.PricingHolder
	Repo     domain.Repository
	Credits  creditdomain.Service
	Analyzer analyzer.Provider
	Users    userdomain.Service         `optional:"true"`
	Guard    *ratelimit.AnalyzeGuard    `optional:"true"`
	Notifier notificationdomain.Service `optional:"true"`
	Email    email.Provider             `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	pricing  *config.PricingHolder
	repo     domain.Repository
	credits  creditdomain.Service
	analyzer analyzer.Provider
	users    userdomain.Service
	guard    *ratelimit.AnalyzeGuard
	notifier notificationdomain.Service
	email    email.Provider
	metrics  *obsmetrics.Metrics

	mediaDir       string
	analyzeTimeout time.Duration
}

func New(p Params) domain.Service {
	timeout := p.Cfg.Analyzer.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Service{
		db:             p.DB,
		log:            p.Log.Named("report.service"),
		genID:          p.GenID,
		pricing:        p.Pricing,
		repo:           p.Repo,
		credits:        p.Credits,
		analyzer:       p.Analyzer,
		users:          p.Users,
		guard:          p.Guard,
		notifier:       p.Notifier,
		email:          p.Email,
		metrics:        p.Metrics,
		mediaDir:       p.Cfg.MediaDir,
		analyzeTimeout: timeout,
	}
}

// Start creates the report, debits its price and flips it to processing in
// one transaction. A failed debit leaves nothing behind.
func (s *Service) Start(ctx context.Context, req domain.StartRequest) (domain.Report, error) {
	if !req.ReportType.Valid() {
		return domain.Report{}, domain.ErrInvalidReportType
	}
	price, ok := s.pricing.Current().PriceFor(string(req.ReportType))
	if !ok {
		return domain.Report{}, domain.ErrInvalidReportType
	}
	if strings.TrimSpace(req.VehicleBrand) == "" ||
		strings.TrimSpace(req.VehicleModel) == "" ||
		req.VehicleYear < 1900 {
		return domain.Report{}, domain.ErrInvalidVehicle
	}

	now := time.Now().UTC()
	report := domain.Report{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		ReportType:   req.ReportType,
		Status:       domain.StatusPending,
		VehiclePlate: strings.ToUpper(strings.TrimSpace(req.VehiclePlate)),
		VehicleBrand: strings.TrimSpace(req.VehicleBrand),
		VehicleModel: strings.TrimSpace(req.VehicleModel),
		VehicleYear:  req.VehicleYear,
		VehicleColor: strings.TrimSpace(req.VehicleColor),
		Mileage:      req.Mileage,
		TotalCost:    price,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &report); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		_, err := s.credits.DebitInTx(ctx, tx, creditdomain.DebitRequest{
			UserID:      req.UserID,
			Amount:      price,
			ReferenceID: report.ID.String(),
			Description: fmt.Sprintf("%s report", req.ReportType),
		})
		if err != nil {
			return err
		}

		report.Status = domain.StatusProcessing
		return s.repo.Update(ctx, tx, &report)
	})
	if err != nil {
		return domain.Report{}, err
	}

	s.metrics.RecordReportStarted(ctx, string(report.ReportType))
	s.emit(ctx, notificationdomain.ReportProcessingNotice(report.UserID, report.ID, string(report.ReportType)))
	s.log.Info("report started",
		zap.String("report_id", report.ID.String()),
		zap.String("report_type", string(report.ReportType)),
		zap.String("user_id", req.UserID.String()),
	)
	return report, nil
}

func (s *Service) AttachMedia(ctx context.Context, req domain.AttachMediaRequest) (domain.MediaItem, error) {
	if !req.Kind.Valid() {
		return domain.MediaItem{}, fmt.Errorf("%w: unknown media kind", domain.ErrMediaRejected)
	}

	pricing := s.pricing.Current()
	if req.SizeBytes <= 0 || req.SizeBytes > pricing.MaxFileSizeBytes {
		return domain.MediaItem{}, domain.ErrMediaTooLarge
	}
	if !pricing.AllowsMIMEType(req.ContentType) {
		return domain.MediaItem{}, fmt.Errorf("%w: unsupported content type %s", domain.ErrMediaRejected, req.ContentType)
	}

	report, err := s.repo.Find(ctx, s.db, req.UserID, req.ReportID)
	if err != nil {
		return domain.MediaItem{}, err
	}
	if report == nil {
		return domain.MediaItem{}, domain.ErrReportNotFound
	}
	if !report.Status.Editable() {
		return domain.MediaItem{}, domain.ErrReportNotEditable
	}

	item := domain.MediaItem{
		ID:          s.genID.Generate(),
		ReportID:    report.ID,
		Kind:        req.Kind,
		FileName:    filepath.Base(strings.TrimSpace(req.FileName)),
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		CreatedAt:   time.Now().UTC(),
	}

	path, err := s.writeMedia(report.ID, item.ID, item.FileName, req.Content, pricing.MaxFileSizeBytes)
	if err != nil {
		return domain.MediaItem{}, err
	}
	item.StoragePath = path

	if err := s.repo.InsertMedia(ctx, s.db, &item); err != nil {
		_ = os.Remove(path)
		return domain.MediaItem{}, fmt.Errorf("insert media: %w", err)
	}

	return item, nil
}

func (s *Service) writeMedia(reportID, mediaID snowflake.ID, fileName string, content io.Reader, maxBytes int64) (string, error) {
	dir := filepath.Join(s.mediaDir, reportID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	path := filepath.Join(dir, mediaID.String()+filepath.Ext(fileName))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer file.Close()

	// The declared size was validated, but the stream is capped anyway.
	written, err := io.Copy(file, io.LimitReader(content, maxBytes+1))
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if written > maxBytes {
		_ = os.Remove(path)
		return "", domain.ErrMediaTooLarge
	}
	return path, nil
}

func (s *Service) Analyze(ctx context.Context, userID, reportID snowflake.ID) (domain.AnalyzeResult, error) {
	report, err := s.repo.Find(ctx, s.db, userID, reportID)
	if err != nil {
		return domain.AnalyzeResult{}, err
	}
	if report == nil {
		return domain.AnalyzeResult{}, domain.ErrReportNotFound
	}
	if report.Status.Terminal() {
		return domain.AnalyzeResult{}, domain.ErrInvalidStateTransition
	}

	media, err := s.repo.ListMedia(ctx, s.db, report.ID)
	if err != nil {
		return domain.AnalyzeResult{}, err
	}
	if len(media) == 0 {
		return domain.AnalyzeResult{}, domain.ErrNoMediaAttached
	}

	lockToken, locked, err := s.guard.TryLockReport(ctx, report.ID.String())
	if err != nil {
		s.log.Warn("analyze lock unavailable, relying on state check",
			zap.String("report_id", report.ID.String()),
			zap.Error(err),
		)
	} else if !locked {
		return domain.AnalyzeResult{}, domain.ErrAnalysisInProgress
	} else {
		defer func() {
			if err := s.guard.ReleaseReport(context.WithoutCancel(ctx), report.ID.String(), lockToken); err != nil {
				s.log.Warn("failed to release analyze lock", zap.Error(err))
			}
		}()
	}

	// The analyzer call runs without any DB lock held.
	analyzeCtx, cancel := context.WithTimeout(ctx, s.analyzeTimeout)
	defer cancel()

	started := time.Now()
	result, analysisErr := s.analyzer.Analyze(analyzeCtx, s.buildAnalyzerRequest(report, media))
	s.metrics.RecordAnalysisDuration(ctx, string(report.ReportType), time.Since(started))

	if analysisErr != nil {
		return s.failWithRefund(ctx, report, analysisErr)
	}
	return s.complete(ctx, report, result)
}

func (s *Service) buildAnalyzerRequest(report *domain.Report, media []*domain.MediaItem) analyzer.Request {
	refs := make([]analyzer.MediaRef, 0, len(media))
	for _, item := range media {
		refs = append(refs, analyzer.MediaRef{
			Kind: string(item.Kind),
			Path: item.StoragePath,
			MIME: item.ContentType,
		})
	}
	return analyzer.Request{
		ReportID:   report.ID.String(),
		ReportType: string(report.ReportType),
		Make:       report.VehicleBrand,
		Model:      report.VehicleModel,
		Year:       report.VehicleYear,
		Plate:      report.VehiclePlate,
		Mileage:    report.Mileage,
		Media:      refs,
	}
}

func (s *Service) complete(ctx context.Context, report *domain.Report, result analyzer.Result) (domain.AnalyzeResult, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, report.UserID, report.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrReportNotFound
		}
		if locked.Status.Terminal() {
			return domain.ErrInvalidStateTransition
		}

		locked.Status = domain.StatusCompleted
		locked.ResultPayload = []byte(result.Payload)
		locked.FailureReason = ""
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}
		if err := s.repo.MarkMediaProcessed(ctx, tx, locked.ID); err != nil {
			return err
		}
		*report = *locked
		return nil
	})
	if err != nil {
		return domain.AnalyzeResult{}, err
	}

	s.metrics.RecordReportCompleted(ctx, string(report.ReportType))
	s.emit(ctx, notificationdomain.ReportCompletedNotice(report.UserID, report.ID, string(report.ReportType)))
	s.sendReportMail(ctx, report, "report_completed", false)

	s.log.Info("report completed", zap.String("report_id", report.ID.String()))
	return domain.AnalyzeResult{Report: *report}, nil
}

// failWithRefund flips the report to failed and compensates the debit. The
// refund is keyed on the report id, so a crash between the two steps cannot
// double-credit when the saga is replayed.
func (s *Service) failWithRefund(ctx context.Context, report *domain.Report, cause error) (domain.AnalyzeResult, error) {
	reason := "analysis_failed"
	if errors.Is(cause, analyzer.ErrTimeout) {
		reason = "analysis_timeout"
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, report.UserID, report.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrReportNotFound
		}
		if locked.Status.Terminal() {
			return domain.ErrInvalidStateTransition
		}

		locked.Status = domain.StatusFailed
		locked.FailureReason = reason
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}
		*report = *locked
		return nil
	})
	if err != nil {
		return domain.AnalyzeResult{}, err
	}

	s.metrics.RecordReportFailed(ctx, string(report.ReportType), reason)

	refunded := s.refundWithRetry(ctx, report)
	s.emit(ctx, notificationdomain.ReportFailedNotice(report.UserID, report.ID, string(report.ReportType), refunded))
	s.sendReportMail(ctx, report, "report_failed", refunded)

	s.log.Warn("report failed",
		zap.String("report_id", report.ID.String()),
		zap.String("reason", reason),
		zap.Bool("refunded", refunded),
		zap.Error(cause),
	)

	result := domain.AnalyzeResult{Report: *report, CreditRefunded: refunded}
	if refunded {
		result.RefundAmount = report.TotalCost
	}
	return result, nil
}

// refundWithRetry makes a bounded number of attempts to persist the
// compensating refund, then escalates. The idempotent insert makes replays
// safe even after a partial failure.
func (s *Service) refundWithRetry(ctx context.Context, report *domain.Report) bool {
	req := creditdomain.RefundRequest{
		UserID:      report.UserID,
		Amount:      report.TotalCost,
		ReferenceID: report.ID.String(),
		Description: fmt.Sprintf("refund for failed %s report", report.ReportType),
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		result, err := s.credits.Refund(ctx, req)
		if err == nil {
			return result.Applied
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}

	s.metrics.RecordRefundWriteFailure(ctx)
	s.log.Error("refund could not be written, manual intervention required",
		zap.String("report_id", report.ID.String()),
		zap.String("user_id", report.UserID.String()),
		zap.String("amount", report.TotalCost.String()),
		zap.Error(lastErr),
	)
	return false
}

func (s *Service) Status(ctx context.Context, userID, reportID snowflake.ID) (domain.StatusResponse, error) {
	report, err := s.repo.Find(ctx, s.db, userID, reportID)
	if err != nil {
		return domain.StatusResponse{}, err
	}
	if report == nil {
		return domain.StatusResponse{}, domain.ErrReportNotFound
	}

	resp := domain.StatusResponse{
		ReportID: report.ID,
		Status:   report.Status,
		Progress: progressFor(report.Status),
	}
	if report.Status == domain.StatusCompleted {
		resp.Result = report.ResultPayload
	}
	if report.Status == domain.StatusFailed {
		resp.Error = report.FailureReason
	}
	return resp, nil
}

func progressFor(status domain.ReportStatus) int {
	switch status {
	case domain.StatusPending:
		return 0
	case domain.StatusProcessing:
		return 50
	default:
		return 100
	}
}

func (s *Service) Get(ctx context.Context, userID, reportID snowflake.ID) (domain.Report, error) {
	report, err := s.repo.Find(ctx, s.db, userID, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if report == nil {
		return domain.Report{}, domain.ErrReportNotFound
	}

	media, err := s.repo.ListMedia(ctx, s.db, report.ID)
	if err != nil {
		return domain.Report{}, err
	}
	for _, item := range media {
		if item == nil {
			continue
		}
		report.Media = append(report.Media, *item)
	}
	return *report, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	pageSize := req.Page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var cursor *pagination.Cursor
	if token := strings.TrimSpace(req.Page.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrReportNotFound
		}
		cursor = decoded
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		UserID: req.UserID,
		Status: req.Status,
		Cursor: cursor,
		Limit:  pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(r *domain.Report) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        r.ID.String(),
			CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	reports := make([]domain.Report, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		reports = append(reports, *item)
	}

	resp := domain.ListResponse{Reports: reports}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, userID, reportID snowflake.ID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		report, err := s.repo.FindForUpdate(ctx, tx, userID, reportID)
		if err != nil {
			return err
		}
		if report == nil {
			return domain.ErrReportNotFound
		}
		// A report mid-analysis cannot be deleted out from under the worker.
		if report.Status == domain.StatusProcessing {
			return domain.ErrInvalidStateTransition
		}

		if err := s.repo.DeleteMedia(ctx, tx, report.ID); err != nil {
			return err
		}
		affected, err := s.repo.Delete(ctx, tx, userID, report.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrReportNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dir := filepath.Join(s.mediaDir, reportID.String()); s.mediaDir != "" {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("failed to remove media files", zap.String("report_id", reportID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) ReapStale(ctx context.Context, olderThan time.Duration, batchSize int) (domain.ReapResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	type sweptReport struct {
		report   *domain.Report
		refunded bool
	}
	var swept []sweptReport
	var refunded int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		stale, err := s.repo.ClaimStaleProcessing(ctx, tx, cutoff, batchSize)
		if err != nil {
			return err
		}

		for _, report := range stale {
			report.Status = domain.StatusFailed
			report.FailureReason = "analysis_timeout"
			if err := s.repo.Update(ctx, tx, report); err != nil {
				return err
			}

			result, err := s.credits.RefundInTx(ctx, tx, creditdomain.RefundRequest{
				UserID:      report.UserID,
				Amount:      report.TotalCost,
				ReferenceID: report.ID.String(),
				Description: fmt.Sprintf("refund for stale %s report", report.ReportType),
			})
			if err != nil {
				return err
			}
			if result.Applied {
				refunded++
			}
			swept = append(swept, sweptReport{report: report, refunded: result.Applied})
		}
		return nil
	})
	if err != nil {
		return domain.ReapResult{}, err
	}

	for _, entry := range swept {
		s.metrics.RecordReportFailed(ctx, string(entry.report.ReportType), "reaped")
		s.emit(ctx, notificationdomain.ReportFailedNotice(entry.report.UserID, entry.report.ID, string(entry.report.ReportType), entry.refunded))
	}

	if len(swept) > 0 {
		s.log.Info("stale reports reaped",
			zap.Int("swept", len(swept)),
			zap.Int("refunded", refunded),
		)
	}
	return domain.ReapResult{Swept: len(swept), Refunded: refunded}, nil
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

func (s *Service) sendReportMail(ctx context.Context, report *domain.Report, templateName string, refunded bool) {
	if s.email == nil || s.users == nil {
		return
	}

	user, err := s.users.Get(ctx, report.UserID)
	if err != nil {
		return
	}

	data := map[string]interface{}{
		"full_name":   user.FullName,
		"report_type": strings.ReplaceAll(string(report.ReportType), "_", " "),
		"vehicle":     fmt.Sprintf("%s %s (%d)", report.VehicleBrand, report.VehicleModel, report.VehicleYear),
		"refunded":    refunded,
	}
	if err := s.email.SendTemplate(ctx, []string{user.Email}, templateName, data); err != nil {
		s.log.Warn("report mail failed",
			zap.String("report_id", report.ID.String()),
			zap.Error(err),
		)
	}
}
