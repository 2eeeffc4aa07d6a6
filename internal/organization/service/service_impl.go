package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
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

func NewService(p ServiceParam) orgdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("organization.service"),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	var org orgdomain.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orgdomain.Organization{}, orgdomain.ErrOrganizationNotFound
	}
	if err != nil {
		return orgdomain.Organization{}, err
	}
	return org, nil
}

func (s *Service) EnsureGenerationAllowed(ctx context.Context, id snowflake.ID, now time.Time) error {
	org, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !org.Entitled {
		return orgdomain.ErrNotEntitled
	}
	if org.GenerationPaused(now) {
		return orgdomain.ErrGenerationPaused
	}
	return nil
}

func (s *Service) PauseGenerationUntil(ctx context.Context, id snowflake.ID, until time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET generation_paused_until = ?, updated_at = ?
		 WHERE id = ?
		   AND (generation_paused_until IS NULL OR generation_paused_until < ?)`,
		until.UTC(),
		time.Now().UTC(),
		id,
		until.UTC(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Warn("organization.generation_paused",
			zap.String("org_id", id.String()),
			zap.Time("paused_until", until.UTC()),
		)
	}
	return nil
}
