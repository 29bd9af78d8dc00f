package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ReportType string

const (
	TypePaintAnalysis       ReportType = "paint_analysis"
	TypeDamageAssessment    ReportType = "damage_assessment"
	TypeEngineSoundAnalysis ReportType = "engine_sound_analysis"
	TypeValueEstimation     ReportType = "value_estimation"
	TypeFullReport          ReportType = "full_report"
)

func (t ReportType) Valid() bool {
	switch t {
	case TypePaintAnalysis, TypeDamageAssessment, TypeEngineSoundAnalysis,
		TypeValueEstimation, TypeFullReport:
		return true
	default:
		return false
	}
}

type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
)

// Terminal reports reject every further mutation.
func (s ReportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Editable reports accept media uploads and analysis.
func (s ReportStatus) Editable() bool {
	return s == StatusPending || s == StatusProcessing
}

type MediaKind string

const (
	MediaExterior MediaKind = "exterior"
	MediaInterior MediaKind = "interior"
	MediaEngine   MediaKind = "engine"
	MediaDamage   MediaKind = "damage"
	MediaPaint    MediaKind = "paint"
	MediaAudio    MediaKind = "audio"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaExterior, MediaInterior, MediaEngine, MediaDamage, MediaPaint, MediaAudio:
		return true
	default:
		return false
	}
}

type Report struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID `gorm:"index;not null" json:"user_id"`
	ReportType ReportType   `gorm:"type:varchar(32);not null" json:"report_type"`
	Status     ReportStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	VehiclePlate string `gorm:"type:varchar(32)" json:"vehicle_plate"`
	VehicleBrand string `gorm:"type:varchar(64);not null" json:"vehicle_brand"`
	VehicleModel string `gorm:"type:varchar(64);not null" json:"vehicle_model"`
	VehicleYear  int    `gorm:"not null" json:"vehicle_year"`
	VehicleColor string `gorm:"type:varchar(32)" json:"vehicle_color"`
	Mileage      int    `json:"mileage"`

	TotalCost     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_cost"`
	ResultPayload datatypes.JSON  `gorm:"type:jsonb" json:"result_payload,omitempty"`
	FailureReason string          `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	Media []MediaItem `gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE" json:"media,omitempty"`
}

func (Report) TableName() string { return "reports" }

type MediaItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ReportID    snowflake.ID `gorm:"index;not null" json:"report_id"`
	Kind        MediaKind    `gorm:"type:varchar(16);not null" json:"kind"`
	FileName    string       `gorm:"type:varchar(255);not null" json:"file_name"`
	ContentType string       `gorm:"type:varchar(64);not null" json:"content_type"`
	SizeBytes   int64        `gorm:"not null" json:"size_bytes"`
	StoragePath string       `gorm:"type:varchar(512);not null" json:"-"`
	Processed   bool         `gorm:"not null;default:false" json:"processed"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (MediaItem) TableName() string { return "report_media" }
