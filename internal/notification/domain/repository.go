package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID     snowflake.ID
	UnreadOnly bool
	Cursor     *pagination.Cursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	InsertBatch(ctx context.Context, db *gorm.DB, ns []*Notification) error
	Get(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Notification, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Notification, error)
	CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)
	MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)

	// ListRecipientIDs returns every user id a broadcast should reach.
	ListRecipientIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
