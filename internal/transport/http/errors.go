package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"live-session-service/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrResultsNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotTrainer):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrJoinClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidMove),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrWrongGameType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

// failParticipant reports a missing participant document as gone: on the
// participant's own routes it means the trainer removed them.
func (h *Handler) failParticipant(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrParticipantNotFound) {
		c.AbortWithStatusJSON(http.StatusGone, errorResponse{Error: err.Error()})
		return
	}
	h.fail(c, err)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
}
