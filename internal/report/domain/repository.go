package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID snowflake.ID
	Status ReportStatus
	Cursor *pagination.Cursor
	Limit  int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, report *Report) error
	Find(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Report, error)
	// FindForUpdate locks the report row; must run inside a transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Report, error)
	Update(ctx context.Context, db *gorm.DB, report *Report) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Report, error)

	// ClaimStaleProcessing locks up to limit processing reports whose last
	// update is older than cutoff, skipping rows held by other workers.
	ClaimStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*Report, error)

	InsertMedia(ctx context.Context, db *gorm.DB, item *MediaItem) error
	ListMedia(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]*MediaItem, error)
	MarkMediaProcessed(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error
	DeleteMedia(ctx context.Context, db *gorm.DB, reportID snowflake.ID) error
}
