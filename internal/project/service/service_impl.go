package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) projectdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("project.service"),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (projectdomain.Project, error) {
	var project projectdomain.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return projectdomain.Project{}, projectdomain.ErrProjectNotFound
	}
	if err != nil {
		return projectdomain.Project{}, err
	}
	return project, nil
}

func (s *Service) AdvanceSchedule(ctx context.Context, id snowflake.ID, afterSlot time.Time, published bool) error {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	cadence, err := projectdomain.ParseCadence(project.CadenceDays, project.DeliveryTimeUTC)
	if err != nil {
		return err
	}
	next := cadence.NextSlot(afterSlot)

	now := time.Now().UTC()
	updates := map[string]any{
		"next_scheduled_at": next,
		"updated_at":        now,
	}
	if published {
		updates["last_published_at"] = afterSlot.UTC()
	}

	// Only move the pointer forward; a stale worker must not rewind the
	// schedule past what a newer tick already set.
	result := s.db.WithContext(ctx).
		Model(&projectdomain.Project{}).
		Where("id = ? AND (next_scheduled_at IS NULL OR next_scheduled_at <= ?)", id, next).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Debug("project.schedule_advanced",
			zap.String("project_id", id.String()),
			zap.Time("next_scheduled_at", next),
		)
	}
	return nil
}

func (s *Service) EnsureNextScheduledAt(ctx context.Context, id snowflake.ID, now time.Time) (time.Time, error) {
	project, err := s.GetByID(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if project.NextScheduledAt != nil && project.NextScheduledAt.After(now.Add(-24*time.Hour)) {
		return *project.NextScheduledAt, nil
	}
	cadence, err := projectdomain.ParseCadence(project.CadenceDays, project.DeliveryTimeUTC)
	if err != nil {
		return time.Time{}, err
	}
	next := cadence.NextSlot(now)
	err = s.db.WithContext(ctx).
		Model(&projectdomain.Project{}).
		Where("id = ?", id).
		Updates(map[string]any{"next_scheduled_at": next, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return time.Time{}, err
	}
	return next, nil
}
