package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/report/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *domain.Report) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reports (
			id, user_id, report_type, status,
			vehicle_plate, vehicle_brand, vehicle_model, vehicle_year, vehicle_color, mileage,
			total_cost, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.UserID,
		string(report.ReportType),
		string(report.Status),
		report.VehiclePlate,
		report.VehicleBrand,
		report.VehicleModel,
		report.VehicleYear,
		report.VehicleColor,
		report.Mileage,
		report.TotalCost,
		report.FailureReason,
		report.CreatedAt,
		report.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Report, error) {
	var report domain.Report
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM reports WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&report).Error
	if err != nil {
		return nil, err
	}
	if report.ID == 0 {
		return nil, nil
	}
	return &report, nil
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Report, error) {
	var report domain.Report
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM reports WHERE id = ? AND user_id = ? FOR UPDATE`, id, userID).
		Scan(&report).Error
	if err != nil {
		return nil, err
	}
	if report.ID == 0 {
		return nil, nil
	}
	return &report, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, report *domain.Report) error {
	report.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE reports
		 SET status = ?, result_payload = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ?`,
		string(report.Status),
		report.ResultPayload,
		report.FailureReason,
		report.UpdatedAt,
		report.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM reports WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Report, error) {
	var reports []*domain.Report
	stmt := db.WithContext(ctx).Model(&domain.Report{}).
		Where("user_id = ?", filter.UserID)

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *repo) ClaimStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*domain.Report, error) {
	var reports []*domain.Report
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM reports
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		string(domain.StatusProcessing),
		cutoff,
		limit,
	).Scan(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *repo) InsertMedia(ctx context.Context, db *gorm.DB, item *domain.MediaItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO report_media (id, report_id, kind, file_name, content_type, size_bytes, storage_path, processed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.ReportID,
		string(item.Kind),
		item.FileName,
		item.ContentType,
		item.SizeBytes,
		item.StoragePath,
		item.Processed,
		item.CreatedAt,
	).Error
}

func (r *repo) ListMedia(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]*domain.MediaItem, error) {
	var items []*domain.MediaItem
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM report_media WHERE report_id = ? ORDER BY created_at, id`, reportID).
		Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkMediaProcessed(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE report_media SET processed = ? WHERE report_id = ?`,
		true, reportID,
	).Error
}

func (r *repo) DeleteMedia(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM report_media WHERE report_id = ?`,
		reportID,
	).Error
}
