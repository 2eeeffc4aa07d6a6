// Package domain contains feedback models and directive folding.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type FeedbackScope string

const (
	ScopeNextEpisode FeedbackScope = "next_episode"
	ScopeGeneral     FeedbackScope = "general"
)

// FeedbackNote is a user-submitted rating and optional free text tied to a
// published episode. A note is read once by the next generation run and
// marked consumed only if that run publishes.
type FeedbackNote struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null"`
	ProjectID snowflake.ID `gorm:"not null;index"`
	EpisodeID snowflake.ID `gorm:"not null;index"`

	Rating     int           `gorm:"not null"`
	Note       string        `gorm:"type:text"`
	Scope      FeedbackScope `gorm:"type:text;not null"`
	ConsumedAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeedbackNote) TableName() string { return "feedback_notes" }

// Directive is a distilled instruction handed to the next generation
// attempt.
type Directive struct {
	NoteID snowflake.ID
	Weight float64
	Text   string
}
