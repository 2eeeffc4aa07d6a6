package budget

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	ledgerdomain "github.com/manyfutures/foresight/internal/ledger/domain"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the budget guard consulted before and after every billed
// generation call.
type Service interface {
	// Preflight denies a generation that would breach the org's daily
	// ceiling, or that belongs to a paused or unentitled organization.
	Preflight(ctx context.Context, orgID, projectID snowflake.ID) error

	// Postflight re-checks actual cost once the call has completed. A daily
	// breach pauses the organization until the next UTC day.
	Postflight(ctx context.Context, orgID, episodeID snowflake.ID, actualCost float64) error

	// ReleaseReservation returns a preflight reservation that never turned
	// into a billed call.
	ReleaseReservation(ctx context.Context, orgID snowflake.ID)
}

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	OrgSvc    orgdomain.Service
	Policy    *config.BudgetPolicyHolder
	Clock     clock.Clock
	Reserver  *Reserver                `optional:"true"`
	Metrics   *metrics.PipelineMetrics `optional:"true"`
}

type guardService struct {
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
	orgSvc    orgdomain.Service
	policy    *config.BudgetPolicyHolder
	clock     clock.Clock
	reserver  *Reserver
	metrics   *metrics.PipelineMetrics
}

func NewService(p ServiceParam) Service {
	return &guardService{
		log:       p.Log.Named("budget.guard"),
		ledgerSvc: p.LedgerSvc,
		orgSvc:    p.OrgSvc,
		policy:    p.Policy,
		clock:     p.Clock,
		reserver:  p.Reserver,
		metrics:   p.Metrics,
	}
}

func (g *guardService) Preflight(ctx context.Context, orgID, projectID snowflake.ID) error {
	now := g.clock.Now()
	if err := g.orgSvc.EnsureGenerationAllowed(ctx, orgID, now); err != nil {
		return err
	}
	policy := g.policy.Get()

	if g.reserver != nil {
		allowed, err := g.reserver.Reserve(ctx, orgID, now, policy.EstimatedEpisodeCost, policy.OrgDailyCeiling)
		if err == nil {
			if !allowed {
				g.denied(metrics.BudgetDenialScopeOrgDaily, "preflight")
				return ErrBudgetExceeded
			}
			return nil
		}
		// Redis trouble must not stop the pipeline; the DB aggregate is the
		// source of truth, just without cross-process atomicity.
		g.log.Warn("budget.reserve_unavailable",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}

	spend, err := g.ledgerSvc.DailySpend(ctx, orgID, now)
	if err != nil {
		return err
	}
	if err := DecidePreflight(policy, spend); err != nil {
		g.denied(metrics.BudgetDenialScopeOrgDaily, "preflight")
		return err
	}
	return nil
}

func (g *guardService) Postflight(ctx context.Context, orgID, episodeID snowflake.ID, actualCost float64) error {
	now := g.clock.Now()
	policy := g.policy.Get()

	if g.reserver != nil {
		if err := g.reserver.Settle(ctx, orgID, now, policy.EstimatedEpisodeCost, actualCost); err != nil {
			g.log.Warn("budget.settle_failed",
				zap.String("org_id", orgID.String()),
				zap.Error(err),
			)
		}
	}

	dailyTotal, err := g.ledgerSvc.DailySpend(ctx, orgID, now)
	if err != nil {
		return err
	}

	switch err := DecidePostflight(policy, dailyTotal, actualCost); {
	case err == nil:
		return nil
	case err == ErrBudgetExceeded:
		g.denied(metrics.BudgetDenialScopeOrgDaily, "postflight")
		pauseUntil := NextUTCDay(now)
		if pauseErr := g.orgSvc.PauseGenerationUntil(ctx, orgID, pauseUntil); pauseErr != nil {
			g.log.Error("budget.pause_failed",
				zap.String("org_id", orgID.String()),
				zap.Error(pauseErr),
			)
		}
		g.log.Warn("budget.daily_ceiling_breached",
			zap.String("org_id", orgID.String()),
			zap.String("episode_id", episodeID.String()),
			zap.Float64("daily_total", dailyTotal),
			zap.Float64("ceiling", policy.OrgDailyCeiling),
		)
		return err
	default:
		g.denied(metrics.BudgetDenialScopePerEpisode, "postflight")
		g.log.Warn("budget.episode_ceiling_breached",
			zap.String("org_id", orgID.String()),
			zap.String("episode_id", episodeID.String()),
			zap.Float64("episode_cost", actualCost),
			zap.Float64("ceiling", policy.PerEpisodeCeiling),
		)
		return err
	}
}

func (g *guardService) ReleaseReservation(ctx context.Context, orgID snowflake.ID) {
	if g.reserver == nil {
		return
	}
	policy := g.policy.Get()
	if err := g.reserver.Release(ctx, orgID, g.clock.Now(), policy.EstimatedEpisodeCost); err != nil {
		g.log.Warn("budget.release_failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
}

func (g *guardService) denied(scope, phase string) {
	g.metrics.IncBudgetDenial(scope, phase)
}
