package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kotoba-labs/shiken-backend/internal/middleware"
	"github.com/kotoba-labs/shiken-backend/internal/response"
	"github.com/kotoba-labs/shiken-backend/internal/service"
)

const (
	timerTickInterval = time.Second
	timerWriteWait    = 5 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the server-side attempt timer over WebSocket.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptTimerStream godoc
// WS /ws/v1/attempts/:attempt_id/timer
// Pushes the advisory timer state once per second until time runs out or the
// client disconnects. The timer is informational; submission is never forced.
func (h *WSHandler) AttemptTimerStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership and liveness are checked before the upgrade so the client
	// gets a proper HTTP status instead of an immediate close frame.
	if _, err := h.attemptService.RemainingTimeFor(c.Request.Context(), attemptID, claims.UserID); err != nil {
		failAttemptError(c, err)
		return
	}

	start, limitMinutes, err := h.attemptService.TimerState(c.Request.Context(), attemptID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("attempt_id", attemptID.String()).
		Str("user_id", claims.UserID.String()).
		Logger()
	wsLog.Info().Msg("Timer stream connected")

	// Reader pump: the client sends nothing meaningful, but reading is
	// required for close frames to be processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			wsLog.Debug().Msg("Timer stream closed by client")
			return
		case <-ticker.C:
			info := service.RemainingTime(start, limitMinutes, time.Now())

			conn.SetWriteDeadline(time.Now().Add(timerWriteWait))
			if err := conn.WriteJSON(info); err != nil {
				wsLog.Debug().Err(err).Msg("Timer stream write failed")
				return
			}

			if info.IsTimeUp {
				wsLog.Info().Msg("Timer expired, closing stream")
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "time up"),
					time.Now().Add(timerWriteWait),
				)
				return
			}
		}
	}
}
