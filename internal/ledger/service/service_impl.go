package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/config"
	ledgerdomain "github.com/manyfutures/foresight/internal/ledger/domain"
	"github.com/manyfutures/foresight/internal/ledger/pricing"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Pricing *pricing.Table
	Policy  *config.BudgetPolicyHolder
	Metrics *metrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	pricing *pricing.Table
	policy  *config.BudgetPolicyHolder
	metrics *metrics.PipelineMetrics
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		pricing: p.Pricing,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

func (s *Service) RecordUsage(ctx context.Context, req ledgerdomain.RecordUsageRequest) (*ledgerdomain.RecordUsageResult, error) {
	if req.OrgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	if req.ProjectID == 0 {
		return nil, ledgerdomain.ErrInvalidProject
	}
	if req.PromptTokens < 0 || req.CompletionTokens < 0 {
		return nil, ledgerdomain.ErrInvalidTokens
	}

	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	recordedAt = recordedAt.UTC()

	currency := s.policy.Get().Currency
	cost := s.pricing.Cost(req.Model, req.PromptTokens, req.CompletionTokens)
	day := ledgerdomain.DayKey(recordedAt)

	record := ledgerdomain.TokenUsageRecord{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		ProjectID:        req.ProjectID,
		EpisodeID:        req.EpisodeID,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		CostAmount:       cost,
		Currency:         currency,
		Model:            strings.TrimSpace(req.Model),
		RequestID:        req.RequestID,
		RecordedAt:       recordedAt,
		Metadata:         datatypes.JSONMap(req.Metadata),
		CreatedAt:        time.Now().UTC(),
	}

	var dailyTotal float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		// Atomic upsert-increment keeps the aggregate consistent with the
		// append within the same transaction.
		if err := tx.Exec(
			`INSERT INTO org_daily_spend (org_id, day, amount, currency, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (org_id, day)
			 DO UPDATE SET amount = org_daily_spend.amount + excluded.amount,
			               updated_at = excluded.updated_at`,
			req.OrgID,
			day,
			cost,
			currency,
			time.Now().UTC(),
		).Error; err != nil {
			return err
		}

		return tx.Raw(
			`SELECT amount FROM org_daily_spend WHERE org_id = ? AND day = ?`,
			req.OrgID,
			day,
		).Scan(&dailyTotal).Error
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddProviderTokens(record.Model, record.PromptTokens, record.CompletionTokens)
	s.log.Info("ledger.usage_recorded",
		zap.String("org_id", req.OrgID.String()),
		zap.String("record_id", record.ID.String()),
		zap.String("model", record.Model),
		zap.Int64("prompt_tokens", record.PromptTokens),
		zap.Int64("completion_tokens", record.CompletionTokens),
		zap.Float64("cost_amount", cost),
		zap.Float64("daily_total", dailyTotal),
	)

	return &ledgerdomain.RecordUsageResult{Record: record, DailyTotal: dailyTotal}, nil
}

func (s *Service) DailySpend(ctx context.Context, orgID snowflake.ID, day time.Time) (float64, error) {
	var amount float64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(
		    (SELECT amount FROM org_daily_spend WHERE org_id = ? AND day = ?), 0)`,
		orgID,
		ledgerdomain.DayKey(day),
	).Scan(&amount).Error
	if err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *Service) EpisodeSpend(ctx context.Context, episodeID snowflake.ID) (float64, error) {
	var amount float64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(cost_amount), 0) FROM token_usage_records WHERE episode_id = ?`,
		episodeID,
	).Scan(&amount).Error
	if err != nil {
		return 0, err
	}
	return amount, nil
}
