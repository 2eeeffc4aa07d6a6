// Package domain contains tenancy models for organizations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization is the tenant boundary. Rows are created by the external
// identity collaborator; this core only reads entitlement and manages the
// daily generation pause.
type Organization struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	Name                  string       `gorm:"type:text;not null"`
	Entitled              bool         `gorm:"not null;default:true"`
	GenerationPausedUntil *time.Time
	CreatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// GenerationPaused reports whether generation is paused at the given instant.
func (o Organization) GenerationPaused(now time.Time) bool {
	return o.GenerationPausedUntil != nil && now.Before(*o.GenerationPausedUntil)
}
