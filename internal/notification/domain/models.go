package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type NotificationType string

const (
	TypeSuccess NotificationType = "success"
	TypeInfo    NotificationType = "info"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeSuccess, TypeInfo, TypeWarning, TypeError:
		return true
	default:
		return false
	}
}

type Notification struct {
	ID      snowflake.ID     `gorm:"primaryKey" json:"id"`
	UserID  snowflake.ID     `gorm:"index;not null" json:"user_id"`
	Type    NotificationType `gorm:"type:varchar(16);not null" json:"type"`
	Title   string           `gorm:"type:varchar(255);not null" json:"title"`
	Message string           `gorm:"type:text" json:"message"`
	// Data carries structured context for clients, e.g. the report id a
	// completion notice refers to.
	Data      datatypes.JSONMap `gorm:"type:jsonb" json:"data,omitempty"`
	ActionURL string            `gorm:"type:varchar(512)" json:"action_url,omitempty"`
	Read      bool              `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
