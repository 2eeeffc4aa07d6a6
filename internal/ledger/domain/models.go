// Package domain contains the append-only cost ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TokenUsageRecord is one immutable fact about a billed provider call.
// Records are never updated or deleted, only superseded by new records.
type TokenUsageRecord struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	OrgID     snowflake.ID  `gorm:"not null;index:idx_usage_org_recorded"`
	ProjectID snowflake.ID  `gorm:"not null"`
	EpisodeID *snowflake.ID `gorm:"index"`

	PromptTokens     int64   `gorm:"not null"`
	CompletionTokens int64   `gorm:"not null"`
	CostAmount       float64 `gorm:"not null"`
	Currency         string  `gorm:"type:text;not null"`
	Model            string  `gorm:"type:text;not null"`
	RequestID        string  `gorm:"type:text"`

	RecordedAt time.Time         `gorm:"not null;index:idx_usage_org_recorded"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TokenUsageRecord) TableName() string { return "token_usage_records" }

// OrgDailySpend is a denormalized aggregate maintained in the same
// transaction as the record insert, so budget checks never recompute over
// history.
type OrgDailySpend struct {
	OrgID     snowflake.ID `gorm:"primaryKey"`
	Day       string       `gorm:"primaryKey;type:text"` // "2006-01-02" UTC
	Amount    float64      `gorm:"not null"`
	Currency  string       `gorm:"type:text;not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OrgDailySpend) TableName() string { return "org_daily_spend" }

// DayKey formats an instant as the aggregate's UTC day key.
func DayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}
