// Package scheduler drives the generation pipeline: it materializes episode
// rows for due cadence slots, claims pending episodes for generation, sweeps
// expired slots, and keeps project schedule pointers moving.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/internal/budget"
	"github.com/manyfutures/foresight/internal/clock"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	"github.com/manyfutures/foresight/internal/generator"
	"github.com/manyfutures/foresight/internal/notify"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"github.com/manyfutures/foresight/internal/provider"
	"github.com/manyfutures/foresight/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	EpisodeSvc  episodedomain.Service
	ProjectSvc  projectdomain.Service
	OrgSvc      orgdomain.Service
	BudgetSvc   budget.Service
	FeedbackSvc feedbackdomain.Service
	Generator   generator.Generator
	Notifier    notify.Dispatcher

	GenID  *snowflake.Node
	Clock  clock.Clock
	Locker *Locker `optional:"true"`
	Config Config  `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	locker      *Locker
	episodeSvc  episodedomain.Service
	projectSvc  projectdomain.Service
	orgSvc      orgdomain.Service
	budgetSvc   budget.Service
	feedbackSvc feedbackdomain.Service
	generator   generator.Generator
	notifier    notify.Dispatcher
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.EpisodeSvc == nil || p.ProjectSvc == nil || p.OrgSvc == nil || p.BudgetSvc == nil || p.FeedbackSvc == nil || p.Generator == nil || p.Notifier == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		episodeSvc:  p.EpisodeSvc,
		projectSvc:  p.ProjectSvc,
		orgSvc:      p.OrgSvc,
		budgetSvc:   p.BudgetSvc,
		feedbackSvc: p.FeedbackSvc,
		generator:   p.Generator,
		notifier:    p.Notifier,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	pipeMetrics := metrics.Pipeline()
	pipeMetrics.IncJobRun(name)

	err := fn(ctx)
	pipeMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the job picks up where it left off on the
	// next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		pipeMetrics.IncJobTimeout(name)
	}
	pipeMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"ensure_episodes", s.isJobEnabled("ensure_episodes"), func(ctx context.Context) error {
			return s.runJob(ctx, "ensure_episodes", s.cfg.BatchSize, 30*time.Second, s.EnsureEpisodesJob)
		}},
		{"generate", s.isJobEnabled("generate"), func(ctx context.Context) error {
			return s.runJob(ctx, "generate", s.cfg.BatchSize, 30*time.Minute, s.GenerateJob)
		}},
		{"sweep_window", s.isJobEnabled("sweep_window"), func(ctx context.Context) error {
			return s.runJob(ctx, "sweep_window", s.cfg.BatchSize, 30*time.Second, s.SweepWindowJob)
		}},
		{"advance_schedule", s.isJobEnabled("advance_schedule"), func(ctx context.Context) error {
			return s.runJob(ctx, "advance_schedule", s.cfg.BatchSize, 30*time.Second, s.AdvanceScheduleJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	pipeMetrics := metrics.Pipeline()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			pipeMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EnsureEpisodesJob materializes PENDING episode rows for cadence slots that
// have entered the lead window. The partial unique index on
// (project_id, scheduled_slot) makes the insert idempotent across processes.
func (s *Scheduler) EnsureEpisodesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "ensure_episodes", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	var jobErr error
	pipeMetrics := metrics.Pipeline()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		projects, err := s.fetchDueProjects(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.project.fetch.failed", "ensure_episodes", 0, err)
			return err
		}
		if len(projects) == 0 {
			break
		}

		created := 0
		for _, project := range projects {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}

			slot, err := s.resolveDueSlot(ctx, project, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.project.ensure.failed", "ensure_episodes", project.OrgID, err,
					zap.String("project_id", idString(project.ID)),
				)
				continue
			}
			if slot == nil {
				continue
			}

			if err := s.orgSvc.EnsureGenerationAllowed(ctx, project.OrgID, now); err != nil {
				// Paused or unentitled orgs simply skip the window; the slot
				// is recreated if the org recovers in time.
				s.logger(s.withLogContext(ctx, project.OrgID)).Debug("ensure episodes skipped",
					zap.String("project_id", idString(project.ID)),
					zap.Error(err),
				)
				s.advancePastSlot(ctx, run, project, *slot)
				continue
			}

			_, err = s.episodeSvc.CreateForSlot(ctx, episodedomain.CreateForSlotRequest{
				OrgID:         project.OrgID,
				ProjectID:     project.ID,
				ScheduledSlot: *slot,
			})
			if err != nil && !errors.Is(err, episodedomain.ErrSlotTaken) {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.episode.create.failed", "ensure_episodes", project.OrgID, err,
					zap.String("project_id", idString(project.ID)),
					zap.Time("scheduled_slot", *slot),
				)
				continue
			}
			if err == nil {
				created++
				run.AddProcessed(1)
			}
			s.advancePastSlot(ctx, run, project, *slot)
		}

		if created > 0 {
			pipeMetrics.AddBatchProcessed("ensure_episodes", "episodes", created)
		}
		if created == 0 {
			break
		}
	}

	return jobErr
}

// resolveDueSlot returns the project's next slot when it is inside the lead
// window, backfilling the pointer for never-scheduled projects. A nil slot
// means nothing is due yet.
func (s *Scheduler) resolveDueSlot(ctx context.Context, project WorkProject, now time.Time) (*time.Time, error) {
	slot := project.NextScheduledAt
	if slot == nil {
		next, err := s.projectSvc.EnsureNextScheduledAt(ctx, project.ID, now)
		if err != nil {
			return nil, err
		}
		slot = &next
	}

	switch err := guard.EnsureSlotInWindow(*slot, now, s.cfg.LeadTime, s.cfg.WindowGrace); {
	case errors.Is(err, guard.ErrSlotNotDue):
		return nil, nil
	case errors.Is(err, guard.ErrSlotExpired):
		// Stale pointer: skip the missed slot without creating work.
		return nil, s.projectSvc.AdvanceSchedule(ctx, project.ID, now, false)
	case err != nil:
		return nil, err
	}
	return slot, nil
}

func (s *Scheduler) advancePastSlot(ctx context.Context, run *jobRun, project WorkProject, slot time.Time) {
	if err := s.projectSvc.AdvanceSchedule(ctx, project.ID, slot, false); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.project.advance.failed", "ensure_episodes", project.OrgID, err,
			zap.String("project_id", idString(project.ID)),
		)
	}
}

// GenerateJob claims PENDING episodes and runs them through budget preflight,
// the generator, postflight, and publication.
func (s *Scheduler) GenerateJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "generate", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	var jobErr error
	pipeMetrics := metrics.Pipeline()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := s.clock.Now()
		episodes, err := s.fetchPendingEpisodes(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.episode.fetch.failed", "generate", 0, err)
			return err
		}
		if len(episodes) == 0 {
			break
		}

		processed := 0
		for _, episode := range episodes {
			if ctx.Err() != nil {
				jobErr = errors.Join(jobErr, ctx.Err())
				break
			}

			done, err := s.generateOne(ctx, run, episode)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if done {
				processed++
				run.AddProcessed(1)
			}
		}

		if processed > 0 {
			pipeMetrics.AddBatchProcessed("generate", "episodes", processed)
		}
		if processed == 0 {
			break
		}
	}

	return jobErr
}

// generateOne runs a single claimed episode to a terminal or retry outcome.
// The returned bool reports whether the episode reached a terminal status.
func (s *Scheduler) generateOne(ctx context.Context, run *jobRun, episode WorkEpisode) (bool, error) {
	now := s.clock.Now()
	s.logEpisodeClaimed(ctx, "generate", episode)

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, episode.ID, s.cfg.GenerationTimeout+time.Minute)
		if err != nil {
			s.logger(s.withLogContext(ctx, episode.OrgID)).Warn("episode lock unavailable",
				zap.String("episode_id", idString(episode.ID)),
				zap.Error(err),
			)
		} else if lease == nil {
			return false, nil
		} else {
			defer func() { _ = lease.Release(ctx) }()
		}
	}

	if err := guard.EnsureBackoffElapsed(episode.NextAttemptAt, now); err != nil {
		return false, nil
	}

	project, err := s.projectSvc.GetByID(ctx, episode.ProjectID)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.project.load.failed", "generate", episode.OrgID, err,
			zap.String("episode_id", idString(episode.ID)),
			zap.String("project_id", idString(episode.ProjectID)),
		)
		return false, err
	}
	if err := guard.EnsureProjectSchedulable(project.Paused); err != nil {
		// Paused after the episode was created: leave it PENDING. The sweep
		// fails it with WINDOW_EXPIRED if the pause outlasts the window.
		s.logger(s.withLogContext(ctx, episode.OrgID)).Debug("generation skipped",
			zap.String("episode_id", idString(episode.ID)),
			zap.Error(err),
		)
		return false, nil
	}

	if err := s.episodeSvc.ClaimForGeneration(ctx, episode.ID, now); err != nil {
		if errors.Is(err, episodedomain.ErrClaimLost) {
			return false, nil
		}
		s.logSchedulerError(ctx, run, "scheduler.episode.claim.failed", "generate", episode.OrgID, err,
			zap.String("episode_id", idString(episode.ID)),
		)
		return false, err
	}

	if err := s.budgetSvc.Preflight(ctx, episode.OrgID, episode.ProjectID); err != nil {
		s.logger(s.withLogContext(ctx, episode.OrgID)).Warn("generation denied by budget",
			zap.String("episode_id", idString(episode.ID)),
			zap.Error(err),
		)
		if failErr := s.episodeSvc.MarkFailed(ctx, episode.ID, episodedomain.FailureReasonBudgetExceeded); failErr != nil {
			s.logSchedulerError(ctx, run, "scheduler.episode.fail.failed", "generate", episode.OrgID, failErr,
				zap.String("episode_id", idString(episode.ID)),
			)
			return false, failErr
		}
		return true, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	draft, err := s.generator.Generate(genCtx, project, episodedomain.Episode{
		ID:            episode.ID,
		OrgID:         episode.OrgID,
		ProjectID:     episode.ProjectID,
		Sequence:      episode.Sequence,
		ScheduledSlot: episode.ScheduledSlot,
		Status:        episodedomain.EpisodeStatusGenerating,
	})
	cancel()
	if err != nil {
		return s.handleGenerationFailure(ctx, run, episode, err)
	}

	flagForReview := false
	if err := s.budgetSvc.Postflight(ctx, episode.OrgID, episode.ID, draft.CostAmount); err != nil {
		s.logger(s.withLogContext(ctx, episode.OrgID)).Warn("postflight budget breach",
			zap.String("episode_id", idString(episode.ID)),
			zap.Float64("cost", draft.CostAmount),
			zap.Error(err),
		)
		if errors.Is(err, budget.ErrBudgetExceeded) {
			// Actual cost pushed the org over its daily ceiling. The spend
			// stays on the ledger and the cost summary on the row, but the
			// episode fails and the org is already paused for the day.
			if failErr := s.episodeSvc.MarkFailedWithUsage(ctx, episodedomain.FailRequest{
				EpisodeID:        episode.ID,
				Reason:           episodedomain.FailureReasonBudgetExceeded,
				Model:            draft.Model,
				PromptTokens:     draft.PromptTokens,
				CompletionTokens: draft.CompletionTokens,
				CostAmount:       draft.CostAmount,
			}); failErr != nil {
				s.logSchedulerError(ctx, run, "scheduler.episode.fail.failed", "generate", episode.OrgID, failErr,
					zap.String("episode_id", idString(episode.ID)),
				)
				return false, failErr
			}
			return true, nil
		}
		// Per-episode breach publishes but leaves a durable review marker.
		flagForReview = errors.Is(err, budget.ErrEpisodeCeilingExceeded)
	}

	publishedAt := s.clock.Now()
	if err := s.episodeSvc.MarkPublished(ctx, episodedomain.PublishRequest{
		EpisodeID:        episode.ID,
		Title:            draft.Title,
		Body:             draft.Body,
		Slug:             draft.Slug,
		Model:            draft.Model,
		PromptTokens:     draft.PromptTokens,
		CompletionTokens: draft.CompletionTokens,
		CostAmount:       draft.CostAmount,
		PublishedAt:      publishedAt,
	}); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.episode.publish.failed", "generate", episode.OrgID, err,
			zap.String("episode_id", idString(episode.ID)),
		)
		return false, err
	}

	if flagForReview {
		if err := s.episodeSvc.FlagForReview(ctx, episode.ID); err != nil {
			s.logSchedulerError(ctx, run, "scheduler.episode.flag.failed", "generate", episode.OrgID, err,
				zap.String("episode_id", idString(episode.ID)),
			)
		}
	}

	if len(draft.NoteIDs) > 0 {
		if err := s.feedbackSvc.MarkConsumed(ctx, draft.NoteIDs); err != nil {
			s.logSchedulerError(ctx, run, "scheduler.feedback.consume.failed", "generate", episode.OrgID, err,
				zap.String("episode_id", idString(episode.ID)),
			)
		}
	}

	if err := s.projectSvc.AdvanceSchedule(ctx, episode.ProjectID, episode.ScheduledSlot, true); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.project.advance.failed", "generate", episode.OrgID, err,
			zap.String("project_id", idString(episode.ProjectID)),
		)
	}

	s.notifier.EpisodePublished(ctx, notify.Event{
		OrgID:       episode.OrgID,
		ProjectID:   episode.ProjectID,
		EpisodeID:   episode.ID,
		Title:       draft.Title,
		PublishedAt: publishedAt,
	})

	s.logger(s.withLogContext(ctx, episode.OrgID)).Info("episode published",
		zap.String("episode_id", idString(episode.ID)),
		zap.String("project_id", idString(episode.ProjectID)),
		zap.Int64("sequence", episode.Sequence),
		zap.Float64("cost", draft.CostAmount),
	)
	return true, nil
}

// handleGenerationFailure routes a failed provider attempt: transient errors
// release the claim with backoff until attempts run out, fatal errors close
// the episode immediately.
func (s *Scheduler) handleGenerationFailure(ctx context.Context, run *jobRun, episode WorkEpisode, genErr error) (bool, error) {
	s.budgetSvc.ReleaseReservation(ctx, episode.OrgID)
	s.logSchedulerError(ctx, run, "scheduler.episode.generate.failed", "generate", episode.OrgID, genErr,
		zap.String("episode_id", idString(episode.ID)),
		zap.Int("attempts", episode.GenerationAttempts),
	)

	reason := episodedomain.FailureReasonProviderFatal
	retryable := provider.Retryable(genErr)
	if errors.Is(genErr, generator.ErrUsageNotRecorded) {
		// The ledger write failed, not the provider; worth another attempt.
		reason = episodedomain.FailureReasonUsageNotLogged
		retryable = true
	}

	if !retryable {
		if err := s.episodeSvc.MarkFailed(ctx, episode.ID, reason); err != nil {
			return false, errors.Join(genErr, err)
		}
		return true, genErr
	}
	return false, errors.Join(genErr, s.retryOrFail(ctx, run, episode, reason))
}

// retryOrFail releases a GENERATING episode back to PENDING with backoff, or
// fails it terminally once the attempt budget is spent.
func (s *Scheduler) retryOrFail(ctx context.Context, run *jobRun, episode WorkEpisode, reason string) error {
	now := s.clock.Now()
	if err := guard.EnsureAttemptsRemaining(episode.GenerationAttempts+1, s.cfg.MaxAttempts); err != nil {
		if failErr := s.episodeSvc.MarkFailed(ctx, episode.ID, reason); failErr != nil {
			s.logSchedulerError(ctx, run, "scheduler.episode.fail.failed", "generate", episode.OrgID, failErr,
				zap.String("episode_id", idString(episode.ID)),
			)
			return failErr
		}
		return nil
	}

	if err := s.episodeSvc.ReleaseForRetry(ctx, episode.ID, now.Add(s.cfg.RetryBackoff)); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.episode.release.failed", "generate", episode.OrgID, err,
			zap.String("episode_id", idString(episode.ID)),
		)
		return err
	}
	return nil
}

// SweepWindowJob terminally fails episodes that are still non-terminal past
// their delivery window, so one bad slot never wedges a project.
func (s *Scheduler) SweepWindowJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "sweep_window", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	deadline := now.Add(-s.cfg.WindowGrace)
	var jobErr error
	pipeMetrics := metrics.Pipeline()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		episodes, err := s.fetchExpiredEpisodes(ctx, deadline, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.episode.fetch.failed", "sweep_window", 0, err)
			return err
		}
		if len(episodes) == 0 {
			break
		}

		swept := 0
		for _, episode := range episodes {
			if err := s.episodeSvc.MarkFailed(ctx, episode.ID, episodedomain.FailureReasonWindowExpired); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.episode.sweep.failed", "sweep_window", episode.OrgID, err,
					zap.String("episode_id", idString(episode.ID)),
				)
				continue
			}
			swept++
			run.AddProcessed(1)
			s.logger(s.withLogContext(ctx, episode.OrgID)).Warn("episode window expired",
				zap.String("episode_id", idString(episode.ID)),
				zap.String("project_id", idString(episode.ProjectID)),
				zap.Time("scheduled_slot", episode.ScheduledSlot),
				zap.Int("attempts", episode.GenerationAttempts),
			)

			if err := s.projectSvc.AdvanceSchedule(ctx, episode.ProjectID, episode.ScheduledSlot, false); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.project.advance.failed", "sweep_window", episode.OrgID, err,
					zap.String("project_id", idString(episode.ProjectID)),
				)
			}
		}

		if swept > 0 {
			pipeMetrics.AddBatchProcessed("sweep_window", "episodes", swept)
		}
		if swept == 0 {
			break
		}
	}

	return jobErr
}

// AdvanceScheduleJob backfills schedule pointers for new projects and moves
// stale pointers past missed slots.
func (s *Scheduler) AdvanceScheduleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "advance_schedule", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	staleBefore := now.Add(-s.cfg.WindowGrace)
	var jobErr error

	projects, err := s.fetchUnscheduledProjects(ctx, staleBefore, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.project.fetch.failed", "advance_schedule", 0, err)
		return err
	}

	for _, project := range projects {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		if project.NextScheduledAt == nil {
			if _, err := s.projectSvc.EnsureNextScheduledAt(ctx, project.ID, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.project.schedule.failed", "advance_schedule", project.OrgID, err,
					zap.String("project_id", idString(project.ID)),
				)
				continue
			}
			run.AddProcessed(1)
			continue
		}

		// Missed slots are skipped, never backfilled.
		if err := s.projectSvc.AdvanceSchedule(ctx, project.ID, now, false); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.project.advance.failed", "advance_schedule", project.OrgID, err,
				zap.String("project_id", idString(project.ID)),
			)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}
