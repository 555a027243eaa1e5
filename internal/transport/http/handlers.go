package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"live-session-service/internal/app"
	"live-session-service/internal/domain"
)

// Handler serves the REST surfaces: trainer control and participant joins.
type Handler struct {
	service *app.SessionService
	log     *slog.Logger
	now     func() time.Time
}

func NewHandler(service *app.SessionService, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log, now: time.Now}
}

type createSessionRequest struct {
	OrganizationID string          `json:"organizationId" binding:"required"`
	QuizID         string          `json:"quizId"`
	GameType       domain.GameType `json:"gameType"`
	Settings       domain.Settings `json:"settings"`
}

type createSessionResponse struct {
	Session    app.SessionView `json:"session"`
	TrainerKey string          `json:"trainerKey"`
}

type joinRequest struct {
	Code        string `json:"code" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

type joinResponse struct {
	Session       app.SessionView    `json:"session"`
	Participant   domain.Participant `json:"participant"`
	RecoveryToken string             `json:"recoveryToken,omitempty"`
}

type recoverRequest struct {
	Token string `json:"token" binding:"required"`
}

type resetTimerRequest struct {
	Seconds int `json:"seconds" binding:"min=0"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	created, err := h.service.CreateSession(c.Request.Context(), app.CreateRequest{
		OrganizationID: req.OrganizationID,
		QuizID:         req.QuizID,
		GameType:       req.GameType,
		Settings:       req.Settings,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, createSessionResponse{
		Session:    app.ViewSession(created.Session, h.now()),
		TrainerKey: created.TrainerKey,
	})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.service.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.ViewSession(sess, h.now()))
}

// control runs one trainer lifecycle action and replies with the stored session.
func (h *Handler) control(c *gin.Context, action func(*gin.Context, string, string) (domain.Session, error)) {
	sess, err := action(c, c.Param("id"), c.GetHeader(TrainerKeyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.ViewSession(sess, h.now()))
}

func (h *Handler) Start(c *gin.Context) {
	h.control(c, func(c *gin.Context, id, key string) (domain.Session, error) {
		return h.service.Start(c.Request.Context(), id, key)
	})
}

func (h *Handler) Pause(c *gin.Context) {
	h.control(c, func(c *gin.Context, id, key string) (domain.Session, error) {
		return h.service.Pause(c.Request.Context(), id, key)
	})
}

func (h *Handler) Resume(c *gin.Context) {
	h.control(c, func(c *gin.Context, id, key string) (domain.Session, error) {
		return h.service.Resume(c.Request.Context(), id, key)
	})
}

func (h *Handler) End(c *gin.Context) {
	h.control(c, func(c *gin.Context, id, key string) (domain.Session, error) {
		return h.service.End(c.Request.Context(), id, key)
	})
}

// ResetTimer accepts an optional body; zero seconds resets to the full limit.
func (h *Handler) ResetTimer(c *gin.Context) {
	var req resetTimerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	h.control(c, func(c *gin.Context, id, key string) (domain.Session, error) {
		return h.service.ResetTimer(c.Request.Context(), id, key, req.Seconds)
	})
}

func (h *Handler) Roster(c *gin.Context) {
	roster, err := h.service.Roster(c.Request.Context(), c.Param("id"), c.GetHeader(TrainerKeyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roster)
}

func (h *Handler) Kick(c *gin.Context) {
	err := h.service.Kick(c.Request.Context(), c.Param("id"), c.GetHeader(TrainerKeyHeader), c.Param("pid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Results(c *gin.Context) {
	results, err := h.service.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	joined, err := h.service.Join(c.Request.Context(), req.Code, req.DisplayName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, joinResponse{
		Session:       app.ViewSession(joined.Session, h.now()),
		Participant:   joined.Participant,
		RecoveryToken: joined.RecoveryToken,
	})
}

func (h *Handler) Recover(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	recovered, err := h.service.Recover(c.Request.Context(), req.Token)
	if err != nil {
		h.failParticipant(c, err)
		return
	}
	c.JSON(http.StatusOK, joinResponse{
		Session:     app.ViewSession(recovered.Session, h.now()),
		Participant: recovered.Participant,
	})
}

func (h *Handler) MarkReady(c *gin.Context) {
	p, err := h.service.MarkReady(c.Request.Context(), c.Param("id"), c.Param("pid"))
	if err != nil {
		h.failParticipant(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) SubmitAnswer(c *gin.Context) {
	var answer domain.Answer
	if err := c.ShouldBindJSON(&answer); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.service.SubmitAnswer(c.Request.Context(), c.Param("id"), c.Param("pid"), answer)
	if err != nil {
		h.failParticipant(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) MarkCell(c *gin.Context) {
	var mark domain.CellMark
	if err := c.ShouldBindJSON(&mark); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.service.MarkCell(c.Request.Context(), c.Param("id"), c.Param("pid"), mark)
	if err != nil {
		h.failParticipant(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
