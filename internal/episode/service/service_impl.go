package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	"github.com/manyfutures/foresight/pkg/db"
	"github.com/manyfutures/foresight/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	metrics *metrics.PipelineMetrics
}

func NewService(p ServiceParam) episodedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("episode.service"),
		genID:   p.GenID,
		metrics: p.Metrics,
	}
}

func (s *Service) CreateForSlot(ctx context.Context, req episodedomain.CreateForSlotRequest) (*episodedomain.Episode, error) {
	slot := req.ScheduledSlot.UTC()
	id := s.genID.Generate()
	now := time.Now().UTC()

	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sequence int64
		if err := tx.Raw(
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM episodes WHERE project_id = ?`,
			req.ProjectID,
		).Scan(&sequence).Error; err != nil {
			return err
		}

		// Partial unique index on (project_id, scheduled_slot) WHERE
		// status != 'FAILED' makes this race-safe: concurrent ticks for the
		// same slot insert nothing.
		result := tx.Exec(
			`INSERT INTO episodes
			   (id, org_id, project_id, sequence, scheduled_slot, status,
			    generation_attempts, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT DO NOTHING`,
			id,
			req.OrgID,
			req.ProjectID,
			sequence,
			slot,
			episodedomain.EpisodeStatusPending,
			now,
			now,
		)
		if result.Error != nil {
			// Sequence collisions between concurrent ticks surface as a
			// duplicate key instead of matching the conflict clause.
			if db.IsDuplicateKeyErr(result.Error) {
				return nil
			}
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, episodedomain.ErrSlotTaken
	}

	episode, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("episode.created",
		zap.String("episode_id", id.String()),
		zap.String("project_id", req.ProjectID.String()),
		zap.Time("scheduled_slot", slot),
	)
	return &episode, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (episodedomain.Episode, error) {
	var episode episodedomain.Episode
	err := s.db.WithContext(ctx).First(&episode, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return episodedomain.Episode{}, episodedomain.ErrEpisodeNotFound
	}
	if err != nil {
		return episodedomain.Episode{}, err
	}
	return episode, nil
}

func (s *Service) List(ctx context.Context, req episodedomain.ListEpisodesRequest) (episodedomain.ListEpisodesResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).
		Where("project_id = ?", req.ProjectID).
		Order("scheduled_slot DESC, id DESC").
		Limit(pageSize + 1)

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return episodedomain.ListEpisodesResponse{}, err
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return episodedomain.ListEpisodesResponse{}, err
		}
		query = query.Where("id < ?", lastID)
	}

	var episodes []*episodedomain.Episode
	if err := query.Find(&episodes).Error; err != nil {
		return episodedomain.ListEpisodesResponse{}, err
	}

	pageInfo, episodes := pagination.BuildCursorPageInfo(episodes, pageSize, func(e *episodedomain.Episode) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})

	out := make([]episodedomain.Episode, 0, len(episodes))
	for _, e := range episodes {
		out = append(out, *e)
	}
	return episodedomain.ListEpisodesResponse{PageInfo: *pageInfo, Episodes: out}, nil
}

func (s *Service) ClaimForGeneration(ctx context.Context, id snowflake.ID, now time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes
		 SET status = ?, updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`,
		episodedomain.EpisodeStatusGenerating,
		now.UTC(),
		id,
		episodedomain.EpisodeStatusPending,
		now.UTC(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrClaimLost
	}
	s.metrics.IncEpisodeTransition(string(episodedomain.EpisodeStatusPending), string(episodedomain.EpisodeStatusGenerating))
	return nil
}

func (s *Service) ReleaseForRetry(ctx context.Context, id snowflake.ID, nextAttemptAt time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes
		 SET status = ?, generation_attempts = generation_attempts + 1,
		     next_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		episodedomain.EpisodeStatusPending,
		nextAttemptAt.UTC(),
		time.Now().UTC(),
		id,
		episodedomain.EpisodeStatusGenerating,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrInvalidTransition
	}
	s.metrics.IncEpisodeTransition(string(episodedomain.EpisodeStatusGenerating), string(episodedomain.EpisodeStatusPending))
	return nil
}

func (s *Service) MarkPublished(ctx context.Context, req episodedomain.PublishRequest) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes
		 SET status = ?, title = ?, body = ?, slug = ?, model = ?,
		     prompt_tokens = ?, completion_tokens = ?, cost_amount = ?,
		     generation_attempts = generation_attempts + 1,
		     published_at = ?, failure_reason = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		episodedomain.EpisodeStatusPublished,
		req.Title,
		req.Body,
		req.Slug,
		req.Model,
		req.PromptTokens,
		req.CompletionTokens,
		req.CostAmount,
		req.PublishedAt.UTC(),
		time.Now().UTC(),
		req.EpisodeID,
		episodedomain.EpisodeStatusGenerating,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrInvalidTransition
	}
	s.metrics.IncEpisodeTransition(string(episodedomain.EpisodeStatusGenerating), string(episodedomain.EpisodeStatusPublished))
	s.log.Info("episode.published",
		zap.String("episode_id", req.EpisodeID.String()),
		zap.String("model", req.Model),
		zap.Float64("cost_amount", req.CostAmount),
	)
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) error {
	// Best-effort read for the transition metric; the UPDATE below is the
	// actual CAS.
	var prior episodedomain.EpisodeStatus
	if err := s.db.WithContext(ctx).Raw(
		`SELECT status FROM episodes WHERE id = ?`, id,
	).Scan(&prior).Error; err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		episodedomain.EpisodeStatusFailed,
		reason,
		time.Now().UTC(),
		id,
		episodedomain.EpisodeStatusPending,
		episodedomain.EpisodeStatusGenerating,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrInvalidTransition
	}
	s.metrics.IncEpisodeTransition(string(prior), string(episodedomain.EpisodeStatusFailed))
	s.log.Warn("episode.failed",
		zap.String("episode_id", id.String()),
		zap.String("failure_reason", reason),
	)
	return nil
}

func (s *Service) MarkFailedWithUsage(ctx context.Context, req episodedomain.FailRequest) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes
		 SET status = ?, failure_reason = ?, model = ?,
		     prompt_tokens = ?, completion_tokens = ?, cost_amount = ?,
		     generation_attempts = generation_attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		episodedomain.EpisodeStatusFailed,
		req.Reason,
		req.Model,
		req.PromptTokens,
		req.CompletionTokens,
		req.CostAmount,
		time.Now().UTC(),
		req.EpisodeID,
		episodedomain.EpisodeStatusGenerating,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrInvalidTransition
	}
	s.metrics.IncEpisodeTransition(string(episodedomain.EpisodeStatusGenerating), string(episodedomain.EpisodeStatusFailed))
	s.log.Warn("episode.failed",
		zap.String("episode_id", req.EpisodeID.String()),
		zap.String("failure_reason", req.Reason),
		zap.Float64("cost_amount", req.CostAmount),
	)
	return nil
}

func (s *Service) FlagForReview(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE episodes SET flagged_for_review = ?, updated_at = ? WHERE id = ?`,
		true,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return episodedomain.ErrEpisodeNotFound
	}
	s.log.Warn("episode.flagged_for_review", zap.String("episode_id", id.String()))
	return nil
}
