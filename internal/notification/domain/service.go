package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/pkg/db/pagination"
)

type EmitRequest struct {
	UserID    snowflake.ID
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	ActionURL string
}

type ListRequest struct {
	UserID     snowflake.ID
	UnreadOnly bool
	Page       pagination.Pagination
}

type ListResponse struct {
	Notifications []Notification      `json:"notifications"`
	UnreadCount   int64               `json:"unread_count"`
	PageInfo      pagination.PageInfo `json:"page_info"`
}

type BroadcastRequest struct {
	Type    NotificationType
	Title   string
	Message string
	Data    map[string]any
}

type Service interface {
	// Emit records a notification for one user. Failures are logged by the
	// implementation; callers on critical paths may ignore the error.
	Emit(ctx context.Context, req EmitRequest) error

	List(ctx context.Context, req ListRequest) (ListResponse, error)
	MarkRead(ctx context.Context, userID, id snowflake.ID) error
	MarkAllRead(ctx context.Context, userID snowflake.ID) error
	Delete(ctx context.Context, userID, id snowflake.ID) error

	// Broadcast fans one notice out to every registered user.
	Broadcast(ctx context.Context, req BroadcastRequest) (int64, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidNotification  = errors.New("invalid_notification")
	ErrNotificationNotFound = errors.New("notification_not_found")
)
