package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mivvo/expertiz/internal/config"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	creditrepository "github.com/mivvo/expertiz/internal/credit/repository"
	creditservice "github.com/mivvo/expertiz/internal/credit/service"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	notificationrepository "github.com/mivvo/expertiz/internal/notification/repository"
	notificationservice "github.com/mivvo/expertiz/internal/notification/service"
	"github.com/mivvo/expertiz/internal/providers/analyzer"
	"github.com/mivvo/expertiz/internal/report/domain"
	"github.com/mivvo/expertiz/internal/report/repository"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeAnalyzer struct {
	err     error
	payload string
	calls   int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (analyzer.Result, error) {
	f.calls++
	if f.err != nil {
		return analyzer.Result{}, f.err
	}
	payload := f.payload
	if payload == "" {
		payload = `{"score": 87}`
	}
	return analyzer.Result{Payload: json.RawMessage(payload)}, nil
}

type stubNotifier struct {
	err     error
	emitted []notificationdomain.EmitRequest
}

func (n *stubNotifier) Emit(ctx context.Context, req notificationdomain.EmitRequest) error {
	n.emitted = append(n.emitted, req)
	return n.err
}

func (n *stubNotifier) List(ctx context.Context, req notificationdomain.ListRequest) (notificationdomain.ListResponse, error) {
	return notificationdomain.ListResponse{}, nil
}

func (n *stubNotifier) MarkRead(ctx context.Context, userID, id snowflake.ID) error { return nil }

func (n *stubNotifier) MarkAllRead(ctx context.Context, userID snowflake.ID) error { return nil }

func (n *stubNotifier) Delete(ctx context.Context, userID, id snowflake.ID) error { return nil }

func (n *stubNotifier) Broadcast(ctx context.Context, req notificationdomain.BroadcastRequest) (int64, error) {
	return 0, nil
}

type reportStack struct {
	db       *gorm.DB
	svc      domain.Service
	credits  creditdomain.Service
	analyzer *fakeAnalyzer
	userID   snowflake.ID
}

func setupReportStack(t *testing.T) *reportStack {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripLock := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLock)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLock)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&domain.Report{},
		&domain.MediaItem{},
		&creditdomain.CreditLedger{},
		&creditdomain.CreditTransaction{},
		&notificationdomain.Notification{},
	))
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_transactions_refund_ref
		 ON credit_transactions(reference_id) WHERE type = 'refund'`,
	).Error)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	log := zap.NewNop()

	notifier := notificationservice.New(notificationservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  notificationrepository.Provide(),
	})
	credits := creditservice.New(creditservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     creditrepository.Provide(),
		Notifier: notifier,
	})

	fake := &fakeAnalyzer{}
	svc := New(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Cfg:      config.Config{MediaDir: t.TempDir(), Analyzer: config.AnalyzerConfig{Timeout: time.Second}},
		Pricing:  config.StaticPricingHolder(config.DefaultPricingConfig()),
		Repo:     repository.Provide(),
		Credits:  credits,
		Analyzer: fake,
		Notifier: notifier,
	})

	userID := node.Generate()
	ctx := context.Background()
	require.NoError(t, credits.EnsureLedger(ctx, userID))
	_, err = credits.Credit(ctx, creditdomain.CreditRequest{
		UserID:      userID,
		Amount:      decimal.NewFromInt(1000),
		ReferenceID: "seed",
	})
	require.NoError(t, err)

	return &reportStack{db: db, svc: svc, credits: credits, analyzer: fake, userID: userID}
}

// withNotifier builds a second service over the same database so tests can
// observe or break the notification side channel.
func (s *reportStack) withNotifier(t *testing.T, notifier notificationdomain.Service) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	return New(Params{
		DB:       s.db,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      config.Config{MediaDir: t.TempDir(), Analyzer: config.AnalyzerConfig{Timeout: time.Second}},
		Pricing:  config.StaticPricingHolder(config.DefaultPricingConfig()),
		Repo:     repository.Provide(),
		Credits:  s.credits,
		Analyzer: s.analyzer,
		Notifier: notifier,
	})
}

func (s *reportStack) start(t *testing.T, reportType domain.ReportType) domain.Report {
	t.Helper()
	report, err := s.svc.Start(context.Background(), domain.StartRequest{
		UserID:       s.userID,
		ReportType:   reportType,
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	require.NoError(t, err)
	return report
}

func (s *reportStack) attachPhoto(t *testing.T, reportID snowflake.ID) domain.MediaItem {
	t.Helper()
	item, err := s.svc.AttachMedia(context.Background(), domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    reportID,
		Kind:        domain.MediaPaint,
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	require.NoError(t, err)
	return item
}

func (s *reportStack) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	var ledger creditdomain.CreditLedger
	require.NoError(t, s.db.Where("user_id = ?", s.userID).First(&ledger).Error)
	return ledger.Balance
}

func TestStart_DebitsAndMovesToProcessing(t *testing.T) {
	s := setupReportStack(t)

	report := s.start(t, domain.TypePaintAnalysis)

	assert.Equal(t, domain.StatusProcessing, report.Status)
	assert.True(t, report.TotalCost.Equal(decimal.NewFromInt(250)), "cost %s", report.TotalCost)
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(750)), "balance %s", s.balance(t))
}

func TestStart_InsufficientCreditLeavesNothing(t *testing.T) {
	s := setupReportStack(t)

	// full_report costs 850; the first one leaves too little for a second
	s.start(t, domain.TypeFullReport)

	_, err := s.svc.Start(context.Background(), domain.StartRequest{
		UserID:       s.userID,
		ReportType:   domain.TypeFullReport,
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredit)

	var count int64
	require.NoError(t, s.db.Model(&domain.Report{}).Where("user_id = ?", s.userID).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the aborted report must not persist")
}

func TestStart_EmitsProcessingNotice(t *testing.T) {
	s := setupReportStack(t)

	report := s.start(t, domain.TypePaintAnalysis)

	var notice notificationdomain.Notification
	require.NoError(t, s.db.
		Where("user_id = ? AND title = ?", s.userID, "Report processing").
		First(&notice).Error)
	assert.Equal(t, notificationdomain.TypeInfo, notice.Type)
	assert.Equal(t, "/reports/"+report.ID.String(), notice.ActionURL)
}

func TestStart_UnknownType(t *testing.T) {
	s := setupReportStack(t)

	_, err := s.svc.Start(context.Background(), domain.StartRequest{
		UserID:       s.userID,
		ReportType:   "psychic_reading",
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidReportType)
}

func TestStart_InvalidVehicle(t *testing.T) {
	s := setupReportStack(t)

	_, err := s.svc.Start(context.Background(), domain.StartRequest{
		UserID:     s.userID,
		ReportType: domain.TypePaintAnalysis,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidVehicle)
}

func TestAttachMedia_Validation(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()
	report := s.start(t, domain.TypePaintAnalysis)

	// Oversized
	_, err := s.svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        domain.MediaPaint,
		FileName:    "huge.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   16 << 20,
		Content:     bytes.NewReader([]byte("x")),
	})
	assert.ErrorIs(t, err, domain.ErrMediaTooLarge)

	// Unsupported content type
	_, err = s.svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        domain.MediaPaint,
		FileName:    "report.exe",
		ContentType: "application/octet-stream",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	assert.ErrorIs(t, err, domain.ErrMediaRejected)

	// Unknown kind
	_, err = s.svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        "hologram",
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	assert.ErrorIs(t, err, domain.ErrMediaRejected)
}

func TestAttachMedia_TerminalReportRejected(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	report := s.start(t, domain.TypePaintAnalysis)
	s.attachPhoto(t, report.ID)
	_, err := s.svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err)

	_, err = s.svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        domain.MediaPaint,
		FileName:    "late.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	assert.ErrorIs(t, err, domain.ErrReportNotEditable)
}

func TestAnalyze_Success(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	report := s.start(t, domain.TypePaintAnalysis)
	s.attachPhoto(t, report.ID)

	result, err := s.svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, result.Report.Status)
	assert.False(t, result.CreditRefunded)
	assert.JSONEq(t, `{"score": 87}`, string(result.Report.ResultPayload))

	var processed int64
	require.NoError(t, s.db.Model(&domain.MediaItem{}).
		Where("report_id = ? AND processed = ?", report.ID, true).
		Count(&processed).Error)
	assert.Equal(t, int64(1), processed)

	// Credits stay spent on success
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(750)), "balance %s", s.balance(t))
}

func TestAnalyze_NoMedia(t *testing.T) {
	s := setupReportStack(t)

	report := s.start(t, domain.TypePaintAnalysis)
	_, err := s.svc.Analyze(context.Background(), s.userID, report.ID)
	assert.ErrorIs(t, err, domain.ErrNoMediaAttached)
}

func TestAnalyze_FailureRefundsExactlyOnce(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	report := s.start(t, domain.TypePaintAnalysis)
	s.attachPhoto(t, report.ID)
	require.True(t, s.balance(t).Equal(decimal.NewFromInt(750)))

	s.analyzer.err = analyzer.ErrUnavailable
	result, err := s.svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err, "analysis failure is an outcome, not an error")

	assert.Equal(t, domain.StatusFailed, result.Report.Status)
	assert.Equal(t, "analysis_failed", result.Report.FailureReason)
	assert.True(t, result.CreditRefunded)
	assert.True(t, result.RefundAmount.Equal(decimal.NewFromInt(250)))
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(1000)), "balance %s", s.balance(t))

	// A terminal report cannot be analyzed again
	_, err = s.svc.Analyze(ctx, s.userID, report.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	var refunds int64
	require.NoError(t, s.db.Model(&creditdomain.CreditTransaction{}).
		Where("reference_id = ? AND type = ?", report.ID.String(), creditdomain.TransactionRefund).
		Count(&refunds).Error)
	assert.Equal(t, int64(1), refunds)
}

func TestAnalyze_NotifierFailureLeavesOutcomeIntact(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	broken := &stubNotifier{err: errors.New("notification backend down")}
	svc := s.withNotifier(t, broken)

	report, err := svc.Start(ctx, domain.StartRequest{
		UserID:       s.userID,
		ReportType:   domain.TypePaintAnalysis,
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	require.NoError(t, err)
	_, err = svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        domain.MediaPaint,
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	require.NoError(t, err)

	result, err := svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err, "a broken notifier must not fail the workflow")
	assert.Equal(t, domain.StatusCompleted, result.Report.Status)
	assert.False(t, result.CreditRefunded)
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(750)), "balance %s", s.balance(t))

	// The refund still lands on the failure path with the notifier down
	failing, err := svc.Start(ctx, domain.StartRequest{
		UserID:       s.userID,
		ReportType:   domain.TypePaintAnalysis,
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	require.NoError(t, err)
	_, err = svc.AttachMedia(ctx, domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    failing.ID,
		Kind:        domain.MediaPaint,
		FileName:    "front.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("test")),
	})
	require.NoError(t, err)

	s.analyzer.err = analyzer.ErrUnavailable
	result, err = svc.Analyze(ctx, s.userID, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Report.Status)
	assert.True(t, result.CreditRefunded)
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(750)), "balance %s", s.balance(t))
}

func TestAnalyze_TimeoutReason(t *testing.T) {
	s := setupReportStack(t)

	report := s.start(t, domain.TypeEngineSoundAnalysis)
	_, err := s.svc.AttachMedia(context.Background(), domain.AttachMediaRequest{
		UserID:      s.userID,
		ReportID:    report.ID,
		Kind:        domain.MediaAudio,
		FileName:    "engine.mp3",
		ContentType: "audio/mpeg",
		SizeBytes:   4,
		Content:     bytes.NewReader([]byte("beep")),
	})
	require.NoError(t, err)

	s.analyzer.err = analyzer.ErrTimeout
	result, err := s.svc.Analyze(context.Background(), s.userID, report.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, result.Report.Status)
	assert.Equal(t, "analysis_timeout", result.Report.FailureReason)
	assert.True(t, result.CreditRefunded)
}

func TestStatus_Progression(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	report := s.start(t, domain.TypePaintAnalysis)

	status, err := s.svc.Status(ctx, s.userID, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, status.Status)
	assert.Equal(t, 50, status.Progress)
	assert.Empty(t, status.Result)

	s.attachPhoto(t, report.ID)
	_, err = s.svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err)

	status, err = s.svc.Status(ctx, s.userID, report.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.NotEmpty(t, status.Result)
	assert.Empty(t, status.Error)
}

func TestGet_OtherUsersReportHidden(t *testing.T) {
	s := setupReportStack(t)

	report := s.start(t, domain.TypePaintAnalysis)
	_, err := s.svc.Get(context.Background(), snowflake.ID(424242), report.ID)
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}

func TestList_FiltersAndPaginates(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	s.start(t, domain.TypePaintAnalysis)
	s.start(t, domain.TypeValueEstimation)
	s.start(t, domain.TypeDamageAssessment)

	resp, err := s.svc.List(ctx, domain.ListRequest{UserID: s.userID})
	require.NoError(t, err)
	assert.Len(t, resp.Reports, 3)

	resp, err = s.svc.List(ctx, domain.ListRequest{
		UserID: s.userID,
		Status: domain.StatusProcessing,
		Page:   pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Reports, 2)
	assert.True(t, resp.PageInfo.HasMore)
}

func TestDelete(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	report := s.start(t, domain.TypePaintAnalysis)
	s.attachPhoto(t, report.ID)

	// Mid-analysis reports cannot be deleted
	err := s.svc.Delete(ctx, s.userID, report.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = s.svc.Analyze(ctx, s.userID, report.ID)
	require.NoError(t, err)

	require.NoError(t, s.svc.Delete(ctx, s.userID, report.ID))

	var mediaCount int64
	require.NoError(t, s.db.Model(&domain.MediaItem{}).Where("report_id = ?", report.ID).Count(&mediaCount).Error)
	assert.Zero(t, mediaCount, "media must be cascaded")

	assert.ErrorIs(t, s.svc.Delete(ctx, s.userID, report.ID), domain.ErrReportNotFound)
}

func TestReapStale(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	stale := s.start(t, domain.TypePaintAnalysis)
	fresh := s.start(t, domain.TypeValueEstimation)

	// Age the first report past the cutoff
	require.NoError(t, s.db.Exec(
		`UPDATE reports SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), stale.ID,
	).Error)

	result, err := s.svc.ReapStale(ctx, 15*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Swept)
	assert.Equal(t, 1, result.Refunded)

	var reaped domain.Report
	require.NoError(t, s.db.Where("id = ?", stale.ID).First(&reaped).Error)
	assert.Equal(t, domain.StatusFailed, reaped.Status)
	assert.Equal(t, "analysis_timeout", reaped.FailureReason)

	var untouched domain.Report
	require.NoError(t, s.db.Where("id = ?", fresh.ID).First(&untouched).Error)
	assert.Equal(t, domain.StatusProcessing, untouched.Status)

	// Paint analysis cost returned, value estimation still held
	assert.True(t, s.balance(t).Equal(decimal.NewFromInt(800)), "balance %s", s.balance(t))

	// A second sweep finds nothing and refunds nothing
	result, err = s.svc.ReapStale(ctx, 15*time.Minute, 50)
	require.NoError(t, err)
	assert.Zero(t, result.Swept)
	assert.Zero(t, result.Refunded)
}

func TestReapStale_NoticeReflectsRefundOutcome(t *testing.T) {
	s := setupReportStack(t)
	ctx := context.Background()

	capture := &stubNotifier{}
	svc := s.withNotifier(t, capture)

	report, err := svc.Start(ctx, domain.StartRequest{
		UserID:       s.userID,
		ReportType:   domain.TypePaintAnalysis,
		VehicleBrand: "Renault",
		VehicleModel: "Clio",
		VehicleYear:  2019,
	})
	require.NoError(t, err)

	// The refund already landed, e.g. through a worker that crashed after
	// compensating but before flipping the report
	_, err = s.credits.Refund(ctx, creditdomain.RefundRequest{
		UserID:      s.userID,
		Amount:      report.TotalCost,
		ReferenceID: report.ID.String(),
	})
	require.NoError(t, err)

	require.NoError(t, s.db.Exec(
		`UPDATE reports SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), report.ID,
	).Error)

	result, err := svc.ReapStale(ctx, 15*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Swept)
	assert.Zero(t, result.Refunded)

	var failedNotice *notificationdomain.EmitRequest
	for i := range capture.emitted {
		if capture.emitted[i].Title == "Report failed" {
			failedNotice = &capture.emitted[i]
		}
	}
	require.NotNil(t, failedNotice, "the sweep must notify the owner")
	assert.Equal(t, false, failedNotice.Data["refunded"], "an already-compensated report must not claim a fresh refund")
}
