package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockEpisodeSvc struct {
	episodes map[snowflake.ID]episodedomain.Episode
}

func (m *mockEpisodeSvc) CreateForSlot(ctx context.Context, req episodedomain.CreateForSlotRequest) (*episodedomain.Episode, error) {
	return nil, nil
}

func (m *mockEpisodeSvc) GetByID(ctx context.Context, id snowflake.ID) (episodedomain.Episode, error) {
	episode, ok := m.episodes[id]
	if !ok {
		return episodedomain.Episode{}, episodedomain.ErrEpisodeNotFound
	}
	return episode, nil
}

func (m *mockEpisodeSvc) List(ctx context.Context, req episodedomain.ListEpisodesRequest) (episodedomain.ListEpisodesResponse, error) {
	return episodedomain.ListEpisodesResponse{}, nil
}

func (m *mockEpisodeSvc) ClaimForGeneration(ctx context.Context, id snowflake.ID, now time.Time) error {
	return nil
}

func (m *mockEpisodeSvc) ReleaseForRetry(ctx context.Context, id snowflake.ID, nextAttemptAt time.Time) error {
	return nil
}

func (m *mockEpisodeSvc) MarkPublished(ctx context.Context, req episodedomain.PublishRequest) error {
	return nil
}

func (m *mockEpisodeSvc) MarkFailed(ctx context.Context, id snowflake.ID, reason string) error {
	return nil
}

func (m *mockEpisodeSvc) MarkFailedWithUsage(ctx context.Context, req episodedomain.FailRequest) error {
	return nil
}

func (m *mockEpisodeSvc) FlagForReview(ctx context.Context, id snowflake.ID) error {
	return nil
}

func newTestService(t *testing.T) (*Service, *mockEpisodeSvc) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`
		CREATE TABLE feedback_notes (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			project_id INTEGER NOT NULL,
			episode_id INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			note TEXT DEFAULT '',
			scope TEXT NOT NULL,
			consumed_at DATETIME,
			created_at DATETIME NOT NULL
		)
	`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	episodeSvc := &mockEpisodeSvc{episodes: make(map[snowflake.ID]episodedomain.Episode)}
	svc := NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		EpisodeSvc: episodeSvc,
	}).(*Service)
	return svc, episodeSvc
}

func TestSubmitRequiresPublishedEpisode(t *testing.T) {
	svc, episodeSvc := newTestService(t)
	ctx := context.Background()

	episodeID := svc.genID.Generate()
	episodeSvc.episodes[episodeID] = episodedomain.Episode{
		ID:        episodeID,
		OrgID:     svc.genID.Generate(),
		ProjectID: svc.genID.Generate(),
		Status:    episodedomain.EpisodeStatusGenerating,
	}

	_, err := svc.Submit(ctx, feedbackdomain.SubmitRequest{EpisodeID: episodeID, Rating: 4})
	assert.ErrorIs(t, err, feedbackdomain.ErrEpisodeNotPublished)
}

func TestSubmitValidatesRating(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), feedbackdomain.SubmitRequest{Rating: 0})
	assert.ErrorIs(t, err, feedbackdomain.ErrInvalidRating)

	_, err = svc.Submit(context.Background(), feedbackdomain.SubmitRequest{Rating: 6})
	assert.ErrorIs(t, err, feedbackdomain.ErrInvalidRating)
}

func TestSubmitStoresNoteForPublishedEpisode(t *testing.T) {
	svc, episodeSvc := newTestService(t)
	ctx := context.Background()

	projectID := svc.genID.Generate()
	episodeID := svc.genID.Generate()
	episodeSvc.episodes[episodeID] = episodedomain.Episode{
		ID:        episodeID,
		OrgID:     svc.genID.Generate(),
		ProjectID: projectID,
		Status:    episodedomain.EpisodeStatusPublished,
	}

	note, err := svc.Submit(ctx, feedbackdomain.SubmitRequest{
		EpisodeID: episodeID,
		Rating:    2,
		Note:      "  too speculative  ",
	})
	require.NoError(t, err)
	assert.Equal(t, projectID, note.ProjectID)
	assert.Equal(t, "too speculative", note.Note)
	assert.Equal(t, feedbackdomain.ScopeNextEpisode, note.Scope)
	assert.Nil(t, note.ConsumedAt)
}

func TestDirectivesForSkipsConsumedNotes(t *testing.T) {
	svc, episodeSvc := newTestService(t)
	ctx := context.Background()

	projectID := svc.genID.Generate()
	episodeID := svc.genID.Generate()
	episodeSvc.episodes[episodeID] = episodedomain.Episode{
		ID:        episodeID,
		OrgID:     svc.genID.Generate(),
		ProjectID: projectID,
		Status:    episodedomain.EpisodeStatusPublished,
	}

	first, err := svc.Submit(ctx, feedbackdomain.SubmitRequest{EpisodeID: episodeID, Rating: 1, Note: "less jargon"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, feedbackdomain.SubmitRequest{EpisodeID: episodeID, Rating: 5, Note: "great sources"})
	require.NoError(t, err)

	directives, err := svc.DirectivesFor(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, directives, 2)

	require.NoError(t, svc.MarkConsumed(ctx, []snowflake.ID{first.ID}))

	directives, err = svc.DirectivesFor(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Contains(t, directives[0].Text, "great sources")
}

func TestMarkConsumedIsIdempotent(t *testing.T) {
	svc, episodeSvc := newTestService(t)
	ctx := context.Background()

	episodeID := svc.genID.Generate()
	episodeSvc.episodes[episodeID] = episodedomain.Episode{
		ID:        episodeID,
		OrgID:     svc.genID.Generate(),
		ProjectID: svc.genID.Generate(),
		Status:    episodedomain.EpisodeStatusPublished,
	}

	note, err := svc.Submit(ctx, feedbackdomain.SubmitRequest{EpisodeID: episodeID, Rating: 3, Note: "hm"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkConsumed(ctx, []snowflake.ID{note.ID}))

	var consumedAt time.Time
	require.NoError(t, svc.db.Raw(`SELECT consumed_at FROM feedback_notes WHERE id = ?`, note.ID).Scan(&consumedAt).Error)

	// A second stamp does not move the timestamp.
	require.NoError(t, svc.MarkConsumed(ctx, []snowflake.ID{note.ID}))
	var after time.Time
	require.NoError(t, svc.db.Raw(`SELECT consumed_at FROM feedback_notes WHERE id = ?`, note.ID).Scan(&after).Error)
	assert.Equal(t, consumedAt, after)

	require.NoError(t, svc.MarkConsumed(ctx, nil))
}
