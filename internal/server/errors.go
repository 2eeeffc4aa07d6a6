package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/manyfutures/foresight/internal/budget"
	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, feedbackdomain.ErrInvalidRating),
		errors.Is(err, projectdomain.ErrInvalidCadence),
		errors.Is(err, projectdomain.ErrInvalidDeliveryTime):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, orgdomain.ErrNotEntitled):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, episodedomain.ErrSlotTaken),
		errors.Is(err, episodedomain.ErrInvalidTransition),
		errors.Is(err, feedbackdomain.ErrEpisodeNotPublished),
		errors.Is(err, projectdomain.ErrProjectPaused):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, budget.ErrBudgetExceeded),
		errors.Is(err, orgdomain.ErrGenerationPaused):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "budget_exceeded",
			Message: "generation budget exhausted",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, episodedomain.ErrEpisodeNotFound) ||
		errors.Is(err, projectdomain.ErrProjectNotFound) ||
		errors.Is(err, orgdomain.ErrOrganizationNotFound) ||
		errors.Is(err, feedbackdomain.ErrNoteNotFound)
}
