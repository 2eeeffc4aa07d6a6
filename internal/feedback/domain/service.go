package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRating       = errors.New("invalid_rating")
	ErrEpisodeNotPublished = errors.New("episode_not_published")
	ErrNoteNotFound        = errors.New("feedback_note_not_found")
)

type SubmitRequest struct {
	OrgID     snowflake.ID
	EpisodeID snowflake.ID
	Rating    int
	Note      string
	Scope     FeedbackScope
}

type Service interface {
	// Submit accepts feedback only while the episode is PUBLISHED.
	Submit(ctx context.Context, req SubmitRequest) (*FeedbackNote, error)

	// DirectivesFor folds the project's unconsumed notes into weighted
	// directives for the next generation run.
	DirectivesFor(ctx context.Context, projectID snowflake.ID) ([]Directive, error)

	// MarkConsumed stamps notes consumed; called only after a run reaches
	// PUBLISHED so failed runs leave feedback available for reuse.
	MarkConsumed(ctx context.Context, noteIDs []snowflake.ID) error
}
