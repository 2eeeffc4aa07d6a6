package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxDirectiveNotes = 10

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	EpisodeSvc episodedomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	episodeSvc episodedomain.Service
}

func NewService(p ServiceParam) feedbackdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("feedback.service"),
		genID:      p.GenID,
		episodeSvc: p.EpisodeSvc,
	}
}

func (s *Service) Submit(ctx context.Context, req feedbackdomain.SubmitRequest) (*feedbackdomain.FeedbackNote, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, feedbackdomain.ErrInvalidRating
	}

	episode, err := s.episodeSvc.GetByID(ctx, req.EpisodeID)
	if err != nil {
		return nil, err
	}
	if episode.Status != episodedomain.EpisodeStatusPublished {
		return nil, feedbackdomain.ErrEpisodeNotPublished
	}

	scope := req.Scope
	if scope == "" {
		scope = feedbackdomain.ScopeNextEpisode
	}

	note := feedbackdomain.FeedbackNote{
		ID:        s.genID.Generate(),
		OrgID:     episode.OrgID,
		ProjectID: episode.ProjectID,
		EpisodeID: episode.ID,
		Rating:    req.Rating,
		Note:      strings.TrimSpace(req.Note),
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, err
	}

	s.log.Info("feedback.submitted",
		zap.String("episode_id", episode.ID.String()),
		zap.String("project_id", episode.ProjectID.String()),
		zap.Int("rating", req.Rating),
	)
	return &note, nil
}

func (s *Service) DirectivesFor(ctx context.Context, projectID snowflake.ID) ([]feedbackdomain.Directive, error) {
	var notes []feedbackdomain.FeedbackNote
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND consumed_at IS NULL", projectID).
		Order("created_at ASC, id ASC").
		Limit(maxDirectiveNotes).
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return feedbackdomain.FoldDirectives(notes), nil
}

func (s *Service) MarkConsumed(ctx context.Context, noteIDs []snowflake.ID) error {
	if len(noteIDs) == 0 {
		return nil
	}
	// Conditional on consumed_at IS NULL: a note is never re-stamped.
	return s.db.WithContext(ctx).
		Model(&feedbackdomain.FeedbackNote{}).
		Where("id IN ? AND consumed_at IS NULL", noteIDs).
		Update("consumed_at", time.Now().UTC()).Error
}
