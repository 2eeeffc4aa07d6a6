package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	"github.com/manyfutures/foresight/internal/observability/metrics"
)

// WorkProject is the slice of a project row the scheduler claims for work.
type WorkProject struct {
	ID              snowflake.ID
	OrgID           snowflake.ID
	NextScheduledAt *time.Time
}

// WorkEpisode is the slice of an episode row the scheduler claims for work.
type WorkEpisode struct {
	ID                 snowflake.ID
	OrgID              snowflake.ID
	ProjectID          snowflake.ID
	Sequence           int64
	ScheduledSlot      time.Time
	Status             episodedomain.EpisodeStatus
	GenerationAttempts int
	NextAttemptAt      *time.Time
}

// fetchDueProjects claims unpaused projects whose next slot falls inside the
// lead window, or that have never been scheduled. SKIP LOCKED keeps
// concurrent scheduler processes off each other's batches.
func (s *Scheduler) fetchDueProjects(ctx context.Context, now time.Time, limit int) ([]WorkProject, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var projects []WorkProject
	pipeMetrics := metrics.Pipeline()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, next_scheduled_at
		 FROM projects
		 WHERE paused = ?
		   AND (next_scheduled_at IS NULL OR next_scheduled_at <= ?)
		 ORDER BY id
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		false,
		now.Add(s.cfg.LeadTime),
		limit,
	).Scan(&projects).Error
	pipeMetrics.ObserveDBLockWait(metrics.LockResourceDueProjects, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// fetchPendingEpisodes claims PENDING episodes whose backoff has elapsed and
// whose slot is inside the generation window.
func (s *Scheduler) fetchPendingEpisodes(ctx context.Context, now time.Time, limit int) ([]WorkEpisode, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var episodes []WorkEpisode
	pipeMetrics := metrics.Pipeline()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, project_id, sequence, scheduled_slot, status,
		        generation_attempts, next_attempt_at
		 FROM episodes
		 WHERE status = ?
		   AND scheduled_slot <= ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY scheduled_slot ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		episodedomain.EpisodeStatusPending,
		now.Add(s.cfg.LeadTime),
		now,
		limit,
	).Scan(&episodes).Error
	pipeMetrics.ObserveDBLockWait(metrics.LockResourcePendingEpisodes, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

// fetchExpiredEpisodes claims non-terminal episodes whose delivery window has
// passed.
func (s *Scheduler) fetchExpiredEpisodes(ctx context.Context, deadline time.Time, limit int) ([]WorkEpisode, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var episodes []WorkEpisode
	pipeMetrics := metrics.Pipeline()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, project_id, sequence, scheduled_slot, status,
		        generation_attempts, next_attempt_at
		 FROM episodes
		 WHERE status IN (?, ?)
		   AND scheduled_slot <= ?
		 ORDER BY scheduled_slot ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		episodedomain.EpisodeStatusPending,
		episodedomain.EpisodeStatusGenerating,
		deadline,
		limit,
	).Scan(&episodes).Error
	pipeMetrics.ObserveDBLockWait(metrics.LockResourcePendingEpisodes, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return episodes, nil
}

// fetchUnscheduledProjects returns unpaused projects missing a schedule
// pointer or whose pointer is stale past the delivery window.
func (s *Scheduler) fetchUnscheduledProjects(ctx context.Context, staleBefore time.Time, limit int) ([]WorkProject, error) {
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	var projects []WorkProject
	pipeMetrics := metrics.Pipeline()
	lockStart := time.Now()
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, next_scheduled_at
		 FROM projects
		 WHERE paused = ?
		   AND (next_scheduled_at IS NULL OR next_scheduled_at <= ?)
		 ORDER BY id
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		false,
		staleBefore,
		limit,
	).Scan(&projects).Error
	pipeMetrics.ObserveDBLockWait(metrics.LockResourceDueProjects, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return projects, nil
}
