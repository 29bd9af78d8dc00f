package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type StartRequest struct {
	UserID     snowflake.ID
	ReportType ReportType

	VehiclePlate string
	VehicleBrand string
	VehicleModel string
	VehicleYear  int
	VehicleColor string
	Mileage      int
}

type AttachMediaRequest struct {
	UserID   snowflake.ID
	ReportID snowflake.ID

	Kind        MediaKind
	FileName    string
	ContentType string
	SizeBytes   int64
	Content     io.Reader
}

type AnalyzeResult struct {
	Report         Report
	CreditRefunded bool
	RefundAmount   decimal.Decimal
}

type StatusResponse struct {
	ReportID snowflake.ID   `json:"report_id"`
	Status   ReportStatus   `json:"status"`
	Progress int            `json:"progress"`
	Result   datatypes.JSON `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type ListRequest struct {
	UserID snowflake.ID
	Status ReportStatus
	Page   pagination.Pagination
}

type ListResponse struct {
	Reports  []Report            `json:"reports"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type ReapResult struct {
	Swept    int
	Refunded int
}

type Service interface {
	// Start creates the report and debits its price in one transaction.
	Start(ctx context.Context, req StartRequest) (Report, error)

	AttachMedia(ctx context.Context, req AttachMediaRequest) (MediaItem, error)

	// Analyze runs the external analysis with a bounded timeout. On failure
	// the debited credits are refunded and the report flips to failed; the
	// outcome is reported in AnalyzeResult, not as an error.
	Analyze(ctx context.Context, userID, reportID snowflake.ID) (AnalyzeResult, error)

	Status(ctx context.Context, userID, reportID snowflake.ID) (StatusResponse, error)
	Get(ctx context.Context, userID, reportID snowflake.ID) (Report, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Delete(ctx context.Context, userID, reportID snowflake.ID) error

	// ReapStale fails processing reports that outlived the analysis deadline
	// and refunds their cost.
	ReapStale(ctx context.Context, olderThan time.Duration, batchSize int) (ReapResult, error)
}

var (
	ErrInvalidReportType      = errors.New("invalid_report_type")
	ErrInvalidVehicle         = errors.New("invalid_vehicle")
	ErrReportNotFound         = errors.New("report_not_found")
	ErrReportNotEditable      = errors.New("report_not_editable")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrMediaRejected          = errors.New("media_rejected")
	ErrMediaTooLarge          = errors.New("media_too_large")
	ErrNoMediaAttached        = errors.New("no_media_attached")
	ErrAnalysisInProgress     = errors.New("analysis_in_progress")
	ErrAnalysisFailed         = errors.New("analysis_failed")
	ErrAnalysisTimeout        = errors.New("analysis_timeout")
)
