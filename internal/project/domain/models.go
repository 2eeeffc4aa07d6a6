// Package domain contains project models and cadence math.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Project is a standing subscription to periodic episodes.
type Project struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"not null;index"`
	Name  string       `gorm:"type:text;not null"`

	// Brief is free text describing what the episodes should cover.
	Brief       string            `gorm:"type:text;not null"`
	Preferences datatypes.JSONMap `gorm:"type:jsonb"`

	// CadenceDays holds comma-separated weekday names ("monday,thursday").
	CadenceDays     string `gorm:"type:text;not null"`
	DeliveryTimeUTC string `gorm:"type:text;not null"` // "HH:MM"

	Paused          bool `gorm:"not null;default:false"`
	LastPublishedAt *time.Time
	NextScheduledAt *time.Time `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }
