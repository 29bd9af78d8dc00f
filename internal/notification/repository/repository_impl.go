package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	if n == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO notifications (id, user_id, type, title, message, data, action_url, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Data,
		n.ActionURL,
		n.Read,
		n.CreatedAt,
	).Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, ns []*domain.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(ns, 200).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Notification, error) {
	var n domain.Notification
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM notifications WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&n).Error
	if err != nil {
		return nil, err
	}
	if n.ID == 0 {
		return nil, nil
	}
	return &n, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Notification, error) {
	var ns []*domain.Notification
	stmt := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ?", filter.UserID)

	if filter.UnreadOnly {
		stmt = stmt.Where("read = ?", false)
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

	if err := stmt.Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notifications SET read = ? WHERE id = ? AND user_id = ?`,
		true, id, userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) MarkAllRead(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notifications SET read = ? WHERE user_id = ? AND read = ?`,
		true, userID, false,
	).Error
}

func (r *repo) ListRecipientIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(`SELECT id FROM users ORDER BY id`).Scan(&ids).Error
	return ids, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	return res.RowsAffected, res.Error
}
