package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"github.com/manyfutures/foresight/pkg/db/pagination"
)

type episodeResponse struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	Sequence           int64      `json:"sequence"`
	ScheduledSlot      time.Time  `json:"scheduled_slot"`
	Status             string     `json:"status"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	Title              string     `json:"title,omitempty"`
	Slug               string     `json:"slug,omitempty"`
	Body               string     `json:"body,omitempty"`
	Model              string     `json:"model,omitempty"`
	CostAmount         float64    `json:"cost_amount"`
	GenerationAttempts int        `json:"generation_attempts"`
	FlaggedForReview   bool       `json:"flagged_for_review,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`
}

func toEpisodeResponse(episode episodedomain.Episode) episodeResponse {
	return episodeResponse{
		ID:                 episode.ID.String(),
		ProjectID:          episode.ProjectID.String(),
		Sequence:           episode.Sequence,
		ScheduledSlot:      episode.ScheduledSlot.UTC(),
		Status:             string(episode.Status),
		FailureReason:      episode.FailureReason,
		Title:              episode.Title,
		Slug:               episode.Slug,
		Body:               episode.Body,
		Model:              episode.Model,
		CostAmount:         episode.CostAmount,
		GenerationAttempts: episode.GenerationAttempts,
		FlaggedForReview:   episode.FlaggedForReview,
		PublishedAt:        episode.PublishedAt,
	}
}

func (s *Server) GetEpisode(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	episodeID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	episode, err := s.episodeSvc.GetByID(c.Request.Context(), episodeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if episode.OrgID != orgID {
		AbortWithError(c, episodedomain.ErrEpisodeNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toEpisodeResponse(episode)})
}

func (s *Server) ListEpisodes(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	projectID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	project, err := s.projectSvc.GetByID(c.Request.Context(), projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if project.OrgID != orgID {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.episodeSvc.List(c.Request.Context(), episodedomain.ListEpisodesRequest{
		ProjectID: projectID,
		PageToken: page.PageToken,
		PageSize:  page.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	episodes := make([]episodeResponse, 0, len(resp.Episodes))
	for _, episode := range resp.Episodes {
		episodes = append(episodes, toEpisodeResponse(episode))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            episodes,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

// TriggerEpisode creates a PENDING episode for the project's next slot. The
// in-process scheduler picks it up on its next tick; generation itself stays
// budget guarded there, this endpoint only refuses obviously denied work.
func (s *Server) TriggerEpisode(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	projectID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	project, err := s.projectSvc.GetByID(ctx, projectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if project.OrgID != orgID {
		AbortWithError(c, ErrNotFound)
		return
	}
	if project.Paused {
		AbortWithError(c, projectdomain.ErrProjectPaused)
		return
	}

	if err := s.budgetSvc.Preflight(ctx, orgID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	// Admission check only; the scheduler re-reserves when it generates.
	s.budgetSvc.ReleaseReservation(ctx, orgID)

	// The episode takes the current instant as its slot so the scheduler
	// claims it on the next tick. Cadence slots stay untouched: the forward
	// only pointer never moves backwards for an ad-hoc episode.
	slot := s.clock.Now().UTC().Truncate(time.Second)

	episode, err := s.episodeSvc.CreateForSlot(ctx, episodedomain.CreateForSlotRequest{
		OrgID:         orgID,
		ProjectID:     projectID,
		ScheduledSlot: slot,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": toEpisodeResponse(*episode)})
}
