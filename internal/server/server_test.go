package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/manyfutures/foresight/internal/budget"
	"github.com/manyfutures/foresight/internal/cache"
	"github.com/manyfutures/foresight/internal/clock"
	"github.com/manyfutures/foresight/internal/config"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEpisodeService struct {
	episodes map[snowflake.ID]episodedomain.Episode
	created  []episodedomain.CreateForSlotRequest
	nextID   snowflake.ID
}

func newFakeEpisodeService() *fakeEpisodeService {
	return &fakeEpisodeService{episodes: map[snowflake.ID]episodedomain.Episode{}, nextID: 1000}
}

func (f *fakeEpisodeService) add(episode episodedomain.Episode) {
	f.episodes[episode.ID] = episode
}

func (f *fakeEpisodeService) CreateForSlot(_ context.Context, req episodedomain.CreateForSlotRequest) (*episodedomain.Episode, error) {
	for _, episode := range f.episodes {
		if episode.ProjectID == req.ProjectID &&
			episode.ScheduledSlot.Equal(req.ScheduledSlot) &&
			episode.Status != episodedomain.EpisodeStatusFailed {
			return nil, episodedomain.ErrSlotTaken
		}
	}
	f.nextID++
	f.created = append(f.created, req)
	episode := episodedomain.Episode{
		ID:            f.nextID,
		OrgID:         req.OrgID,
		ProjectID:     req.ProjectID,
		Sequence:      int64(len(f.created)),
		ScheduledSlot: req.ScheduledSlot,
		Status:        episodedomain.EpisodeStatusPending,
	}
	f.episodes[episode.ID] = episode
	return &episode, nil
}

func (f *fakeEpisodeService) GetByID(_ context.Context, id snowflake.ID) (episodedomain.Episode, error) {
	episode, ok := f.episodes[id]
	if !ok {
		return episodedomain.Episode{}, episodedomain.ErrEpisodeNotFound
	}
	return episode, nil
}

func (f *fakeEpisodeService) List(_ context.Context, req episodedomain.ListEpisodesRequest) (episodedomain.ListEpisodesResponse, error) {
	var resp episodedomain.ListEpisodesResponse
	for _, episode := range f.episodes {
		if episode.ProjectID == req.ProjectID {
			resp.Episodes = append(resp.Episodes, episode)
		}
	}
	return resp, nil
}

func (f *fakeEpisodeService) ClaimForGeneration(context.Context, snowflake.ID, time.Time) error {
	return nil
}

func (f *fakeEpisodeService) ReleaseForRetry(context.Context, snowflake.ID, time.Time) error {
	return nil
}

func (f *fakeEpisodeService) MarkPublished(context.Context, episodedomain.PublishRequest) error {
	return nil
}

func (f *fakeEpisodeService) MarkFailed(context.Context, snowflake.ID, string) error {
	return nil
}

func (f *fakeEpisodeService) MarkFailedWithUsage(context.Context, episodedomain.FailRequest) error {
	return nil
}

func (f *fakeEpisodeService) FlagForReview(context.Context, snowflake.ID) error {
	return nil
}

type fakeProjectService struct {
	projects map[snowflake.ID]projectdomain.Project
	advanced []snowflake.ID
}

func (f *fakeProjectService) GetByID(_ context.Context, id snowflake.ID) (projectdomain.Project, error) {
	project, ok := f.projects[id]
	if !ok {
		return projectdomain.Project{}, projectdomain.ErrProjectNotFound
	}
	return project, nil
}

func (f *fakeProjectService) AdvanceSchedule(_ context.Context, id snowflake.ID, _ time.Time, _ bool) error {
	f.advanced = append(f.advanced, id)
	return nil
}

func (f *fakeProjectService) EnsureNextScheduledAt(_ context.Context, _ snowflake.ID, now time.Time) (time.Time, error) {
	return now, nil
}

type fakeOrgService struct {
	orgs map[snowflake.ID]orgdomain.Organization
}

func (f *fakeOrgService) GetByID(_ context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return orgdomain.Organization{}, orgdomain.ErrOrganizationNotFound
	}
	return org, nil
}

func (f *fakeOrgService) EnsureGenerationAllowed(context.Context, snowflake.ID, time.Time) error {
	return nil
}

func (f *fakeOrgService) PauseGenerationUntil(context.Context, snowflake.ID, time.Time) error {
	return nil
}

type fakeBudgetService struct {
	preflightErr error
	released     int
}

func (f *fakeBudgetService) Preflight(context.Context, snowflake.ID, snowflake.ID) error {
	return f.preflightErr
}

func (f *fakeBudgetService) Postflight(context.Context, snowflake.ID, snowflake.ID, float64) error {
	return nil
}

func (f *fakeBudgetService) ReleaseReservation(context.Context, snowflake.ID) {
	f.released++
}

type fakeFeedbackService struct {
	submitted []feedbackdomain.SubmitRequest
	submitErr error
}

func (f *fakeFeedbackService) Submit(_ context.Context, req feedbackdomain.SubmitRequest) (*feedbackdomain.FeedbackNote, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &feedbackdomain.FeedbackNote{
		ID:        snowflake.ID(77),
		OrgID:     req.OrgID,
		EpisodeID: req.EpisodeID,
		Rating:    req.Rating,
		Note:      req.Note,
		Scope:     feedbackdomain.ScopeNextEpisode,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeFeedbackService) DirectivesFor(context.Context, snowflake.ID) ([]feedbackdomain.Directive, error) {
	return nil, nil
}

func (f *fakeFeedbackService) MarkConsumed(context.Context, []snowflake.ID) error {
	return nil
}

type serverEnv struct {
	server   *Server
	episodes *fakeEpisodeService
	projects *fakeProjectService
	orgs     *fakeOrgService
	budget   *fakeBudgetService
	feedback *fakeFeedbackService
	orgID    snowflake.ID
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	orgID := snowflake.ID(42)
	env := &serverEnv{
		episodes: newFakeEpisodeService(),
		projects: &fakeProjectService{projects: map[snowflake.ID]projectdomain.Project{}},
		orgs:     &fakeOrgService{orgs: map[snowflake.ID]orgdomain.Organization{orgID: {ID: orgID, Entitled: true}}},
		budget:   &fakeBudgetService{},
		feedback: &fakeFeedbackService{},
		orgID:    orgID,
	}

	var _ budget.Service = env.budget

	env.server = &Server{
		engine:      NewEngine(),
		cfg:         config.Config{Environment: "test"},
		genID:       node,
		clock:       clock.NewFakeClock(time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)),
		episodeSvc:  env.episodes,
		projectSvc:  env.projects,
		orgSvc:      env.orgs,
		budgetSvc:   env.budget,
		feedbackSvc: env.feedback,
		orgCache:    cache.NewTTLCache[snowflake.ID, struct{}](),
	}
	env.server.registerAPIRoutes()
	return env
}

func (env *serverEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.Engine().ServeHTTP(rec, req)
	return rec
}

func (env *serverEnv) authed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return env.do(t, method, path, body, map[string]string{HeaderOrg: env.orgID.String()})
}

func TestHealthz(t *testing.T) {
	env := newServerEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrgHeaderRequired(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/episodes/123", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/episodes/123", nil, map[string]string{HeaderOrg: "not-a-number"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown org is rejected the same way.
	rec = env.do(t, http.MethodGet, "/v1/episodes/123", nil, map[string]string{HeaderOrg: "999"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetEpisode(t *testing.T) {
	env := newServerEnv(t)
	env.episodes.add(episodedomain.Episode{
		ID:            snowflake.ID(500),
		OrgID:         env.orgID,
		ProjectID:     snowflake.ID(7),
		Sequence:      3,
		ScheduledSlot: time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC),
		Status:        episodedomain.EpisodeStatusFailed,
		FailureReason: episodedomain.FailureReasonBudgetExceeded,
	})

	rec := env.authed(t, http.MethodGet, "/v1/episodes/500", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data episodeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "500", body.Data.ID)
	assert.Equal(t, "FAILED", body.Data.Status)
	assert.Equal(t, "BUDGET_EXCEEDED", body.Data.FailureReason)
	assert.Equal(t, int64(3), body.Data.Sequence)
}

func TestGetEpisodeExposesReviewFlag(t *testing.T) {
	env := newServerEnv(t)
	publishedAt := time.Date(2025, 8, 20, 9, 5, 0, 0, time.UTC)
	env.episodes.add(episodedomain.Episode{
		ID:               snowflake.ID(501),
		OrgID:            env.orgID,
		ProjectID:        snowflake.ID(7),
		Sequence:         4,
		ScheduledSlot:    time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC),
		Status:           episodedomain.EpisodeStatusPublished,
		FlaggedForReview: true,
		PublishedAt:      &publishedAt,
	})

	rec := env.authed(t, http.MethodGet, "/v1/episodes/501", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data episodeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PUBLISHED", body.Data.Status)
	assert.True(t, body.Data.FlaggedForReview)
}

func TestGetEpisodeCrossTenantIsNotFound(t *testing.T) {
	env := newServerEnv(t)
	env.episodes.add(episodedomain.Episode{
		ID:     snowflake.ID(501),
		OrgID:  snowflake.ID(4242),
		Status: episodedomain.EpisodeStatusPublished,
	})

	rec := env.authed(t, http.MethodGet, "/v1/episodes/501", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerEpisode(t *testing.T) {
	env := newServerEnv(t)
	projectID := snowflake.ID(7)
	env.projects.projects[projectID] = projectdomain.Project{
		ID: projectID, OrgID: env.orgID, CadenceDays: "wednesday", DeliveryTimeUTC: "09:00",
	}

	rec := env.authed(t, http.MethodPost, fmt.Sprintf("/v1/projects/%s/episodes/generate", projectID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, env.episodes.created, 1)
	assert.Equal(t, env.orgID, env.episodes.created[0].OrgID)
	assert.Equal(t, projectID, env.episodes.created[0].ProjectID)
	// The admission reservation is handed back; the scheduler re-reserves.
	assert.Equal(t, 1, env.budget.released)

	// Same instant twice: the slot key already exists.
	rec = env.authed(t, http.MethodPost, fmt.Sprintf("/v1/projects/%s/episodes/generate", projectID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerEpisodeDeniedByBudget(t *testing.T) {
	env := newServerEnv(t)
	projectID := snowflake.ID(7)
	env.projects.projects[projectID] = projectdomain.Project{ID: projectID, OrgID: env.orgID}
	env.budget.preflightErr = budget.ErrBudgetExceeded

	rec := env.authed(t, http.MethodPost, fmt.Sprintf("/v1/projects/%s/episodes/generate", projectID), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, env.episodes.created)
}

func TestTriggerEpisodePausedProject(t *testing.T) {
	env := newServerEnv(t)
	projectID := snowflake.ID(7)
	env.projects.projects[projectID] = projectdomain.Project{ID: projectID, OrgID: env.orgID, Paused: true}

	rec := env.authed(t, http.MethodPost, fmt.Sprintf("/v1/projects/%s/episodes/generate", projectID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListEpisodes(t *testing.T) {
	env := newServerEnv(t)
	projectID := snowflake.ID(7)
	env.projects.projects[projectID] = projectdomain.Project{ID: projectID, OrgID: env.orgID}
	env.episodes.add(episodedomain.Episode{
		ID: snowflake.ID(600), OrgID: env.orgID, ProjectID: projectID,
		Status: episodedomain.EpisodeStatusPublished,
	})

	rec := env.authed(t, http.MethodGet, fmt.Sprintf("/v1/projects/%s/episodes", projectID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []episodeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "600", body.Data[0].ID)
}

func TestSubmitFeedback(t *testing.T) {
	env := newServerEnv(t)
	env.episodes.add(episodedomain.Episode{
		ID: snowflake.ID(700), OrgID: env.orgID, ProjectID: snowflake.ID(7),
		Status: episodedomain.EpisodeStatusPublished,
	})

	rec := env.authed(t, http.MethodPost, "/v1/episodes/700/feedback",
		submitFeedbackRequest{Rating: 4, Note: "more depth on pricing"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.feedback.submitted, 1)
	assert.Equal(t, 4, env.feedback.submitted[0].Rating)
	assert.Equal(t, env.orgID, env.feedback.submitted[0].OrgID)
}

func TestSubmitFeedbackRejectsInvalidScope(t *testing.T) {
	env := newServerEnv(t)
	env.episodes.add(episodedomain.Episode{
		ID: snowflake.ID(700), OrgID: env.orgID,
		Status: episodedomain.EpisodeStatusPublished,
	})

	rec := env.authed(t, http.MethodPost, "/v1/episodes/700/feedback",
		submitFeedbackRequest{Rating: 4, Scope: "whenever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.feedback.submitted)
}

func TestSubmitFeedbackNotPublished(t *testing.T) {
	env := newServerEnv(t)
	env.episodes.add(episodedomain.Episode{
		ID: snowflake.ID(701), OrgID: env.orgID,
		Status: episodedomain.EpisodeStatusPending,
	})
	env.feedback.submitErr = feedbackdomain.ErrEpisodeNotPublished

	rec := env.authed(t, http.MethodPost, "/v1/episodes/701/feedback",
		submitFeedbackRequest{Rating: 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
