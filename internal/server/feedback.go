package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
)

type submitFeedbackRequest struct {
	Rating int    `json:"rating"`
	Note   string `json:"note"`
	Scope  string `json:"scope"`
}

type feedbackResponse struct {
	ID        string    `json:"id"`
	EpisodeID string    `json:"episode_id"`
	Rating    int       `json:"rating"`
	Note      string    `json:"note,omitempty"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) SubmitFeedback(c *gin.Context) {
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

	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	scope := feedbackdomain.FeedbackScope(strings.TrimSpace(req.Scope))
	if scope != "" && scope != feedbackdomain.ScopeNextEpisode && scope != feedbackdomain.ScopeGeneral {
		AbortWithError(c, newValidationError("scope", "invalid_scope", "invalid scope"))
		return
	}

	ctx := c.Request.Context()
	episode, err := s.episodeSvc.GetByID(ctx, episodeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if episode.OrgID != orgID {
		AbortWithError(c, episodedomain.ErrEpisodeNotFound)
		return
	}

	note, err := s.feedbackSvc.Submit(ctx, feedbackdomain.SubmitRequest{
		OrgID:     orgID,
		EpisodeID: episodeID,
		Rating:    req.Rating,
		Note:      req.Note,
		Scope:     scope,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": feedbackResponse{
		ID:        note.ID.String(),
		EpisodeID: note.EpisodeID.String(),
		Rating:    note.Rating,
		Note:      note.Note,
		Scope:     string(note.Scope),
		CreatedAt: note.CreatedAt,
	}})
}
