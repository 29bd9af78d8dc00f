package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleExpert Role = "expert"
)

type User struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string       `gorm:"type:varchar(255);not null" json:"-"`
	FullName     string       `gorm:"type:varchar(255)" json:"full_name"`
	Role         Role         `gorm:"type:varchar(16);not null;default:user" json:"role"`
	Active       bool         `gorm:"not null;default:true" json:"active"`
	Verified     bool         `gorm:"not null;default:false" json:"verified"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (User) TableName() string { return "users" }
