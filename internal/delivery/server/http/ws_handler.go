package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskstream/internal/shared/async"
	"taskstream/internal/shared/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsControl is a client message sent while a session runs.
type wsControl struct {
	Action string `json:"action"`
}

// wsStatus is sent instead of frames when a session cannot start.
type wsStatus struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Error   string `json:"error"`
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, record)
}

func (s *wsSink) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSink) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

// HandleWebSocket runs one session over a WebSocket. The first client
// message is the ChatRequest; each frame is sent as one text message; a
// later {"action":"stop"} message stops the caller's session. Closing the
// socket cancels the engine.
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		return
	}
	logger := logging.FromContext(c.Request.Context(), h.logger)
	sink := &wsSink{conn: conn}
	conn.SetReadLimit(h.maxBodyBytes)

	var body ChatRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = sink.writeJSON(wsStatus{Status: http.StatusBadRequest, Error: "invalid request message"})
		sink.close(websocket.CloseUnsupportedData, "invalid request")
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		_ = sink.writeJSON(wsStatus{Status: http.StatusBadRequest, Error: "query is required"})
		sink.close(websocket.ClosePolicyViolation, "query is required")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	async.Go(logger, "ws-control", func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) && ctx.Err() == nil {
					logger.Debug("websocket read ended: %v", err)
				}
				return
			}
			var msg wsControl
			if json.Unmarshal(data, &msg) == nil && strings.EqualFold(msg.Action, "stop") {
				h.canceller.Cancel(ctx, caller.Subject)
			}
		}
	})

	summary, err := h.runner.Run(ctx, body.toSession(caller), sink)
	if err != nil {
		status, message := mapDomainError(err)
		if status == 0 {
			status, message = http.StatusInternalServerError, "internal error"
		}
		_ = sink.writeJSON(wsStatus{Status: status, Error: message})
		sink.close(websocket.ClosePolicyViolation, message)
		return
	}
	if summary.Err != nil {
		logger.Warn("websocket session for %s ended with %s: %v", caller.Subject, summary.Outcome, summary.Err)
	}
	sink.close(websocket.CloseNormalClosure, string(summary.Outcome))
}
