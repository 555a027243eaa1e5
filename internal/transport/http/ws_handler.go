package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"live-session-service/internal/app"
	"live-session-service/internal/domain"
)

const writeWait = 10 * time.Second

var errKicked = errors.New("participant removed")

type WSHandler struct {
	service  *app.SessionService
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService, log *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Status: statusFor(err)}}
}

// ServeParticipant streams session, participant and tick events to one
// participant and accepts their answers, marks and readiness over the same
// socket. A kick is delivered once and then the socket is closed.
func (h *WSHandler) ServeParticipant(c *gin.Context) {
	sessionID, participantID := c.Param("id"), c.Param("pid")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.service.Watch(ctx, sessionID, participantID)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, domain.ErrParticipantNotFound) {
			status = http.StatusGone
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := h.log.With("session", sessionID, "participant", participantID)
	send := make(chan outboundMessage[any], 16)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return writeLoop(gctx, conn, send)
	})

	g.Go(func() error {
		for ev := range events {
			msg := outboundMessage[any]{Type: ev.Type}
			switch ev.Type {
			case app.EventSession:
				msg.Payload = ev.Session
			case app.EventParticipant:
				msg.Payload = ev.Participant
			case app.EventTick:
				msg.Payload = ev.Timer
			case app.EventKicked:
				msg.Payload = errorPayload{Message: "removed from session", Status: http.StatusGone}
			}
			select {
			case send <- msg:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	// unblocks ReadJSON once the writer gives up or the kick was delivered
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		reply := h.handleInbound(gctx, sessionID, participantID, inbound)
		select {
		case send <- reply:
		case <-gctx.Done():
			break read
		}
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, errKicked) {
		log.Debug("ws stream closed", "error", err)
	}
}

func (h *WSHandler) handleInbound(ctx context.Context, sessionID, participantID string, inbound inboundMessage) outboundMessage[any] {
	switch inbound.Type {
	case "answer":
		var answer domain.Answer
		if err := json.Unmarshal(inbound.Payload, &answer); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload", Status: http.StatusBadRequest}}
		}
		result, err := h.service.SubmitAnswer(ctx, sessionID, participantID, answer)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "answerResult", Payload: result}
	case "mark":
		var mark domain.CellMark
		if err := json.Unmarshal(inbound.Payload, &mark); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid mark payload", Status: http.StatusBadRequest}}
		}
		result, err := h.service.MarkCell(ctx, sessionID, participantID, mark)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "markResult", Payload: result}
	case "ready":
		p, err := h.service.MarkReady(ctx, sessionID, participantID)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: app.EventParticipant, Payload: p}
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type", Status: http.StatusBadRequest}}
}

// ServeRoster pushes the roster to the trainer on every participant change.
// Browsers cannot set headers on a websocket handshake, so the key may also
// come in the "key" query parameter.
func (h *WSHandler) ServeRoster(c *gin.Context) {
	sessionID := c.Param("id")
	key := c.GetHeader(TrainerKeyHeader)
	if key == "" {
		key = c.Query("key")
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	rosters, err := h.service.WatchRoster(ctx, sessionID, key)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeLoop(gctx, conn, send)
	})
	g.Go(func() error {
		for roster := range rosters {
			select {
			case send <- outboundMessage[any]{Type: "roster", Payload: roster}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	// the trainer stream is read only; reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	_ = g.Wait()
}

// writeLoop is the only writer on conn. A kicked message is followed by a
// close frame and ends the stream.
func writeLoop(ctx context.Context, conn *websocket.Conn, send <-chan outboundMessage[any]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
			if msg.Type == app.EventKicked {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "removed from session"),
					time.Now().Add(writeWait))
				return errKicked
			}
		}
	}
}
