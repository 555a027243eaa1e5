package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"live-session-service/internal/app"
)

// TrainerKeyHeader carries the key returned by session creation.
const TrainerKeyHeader = "X-Trainer-Key"

// RouterConfig holds the HTTP surface options.
type RouterConfig struct {
	AllowedOrigins []string
}

// NewRouter wires the REST API and the websocket streams onto one gin engine.
func NewRouter(service *app.SessionService, log *slog.Logger, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", TrainerKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	h := NewHandler(service, log)
	ws := NewWSHandler(service, log)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/results", h.Results)
		api.POST("/join", h.Join)
		api.POST("/recover", h.Recover)

		trainer := api.Group("/sessions/:id")
		{
			trainer.POST("/start", h.Start)
			trainer.POST("/pause", h.Pause)
			trainer.POST("/resume", h.Resume)
			trainer.POST("/end", h.End)
			trainer.POST("/reset-timer", h.ResetTimer)
			trainer.GET("/participants", h.Roster)
			trainer.DELETE("/participants/:pid", h.Kick)
		}

		participant := api.Group("/sessions/:id/participants/:pid")
		{
			participant.POST("/ready", h.MarkReady)
			participant.POST("/answers", h.SubmitAnswer)
			participant.POST("/marks", h.MarkCell)
		}
	}

	router.GET("/ws/sessions/:id/participants/:pid", ws.ServeParticipant)
	router.GET("/ws/sessions/:id/roster", ws.ServeRoster)
	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
