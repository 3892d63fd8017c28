package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"taskstream/internal/app/session"
	"taskstream/internal/domain/transcript"
	"taskstream/internal/infra/observability"
	"taskstream/internal/shared/logging"

	"github.com/elnormous/contenttype"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType("text/event-stream")}
)

// ChatRequest is the body of a stream request and the first WebSocket
// message.
type ChatRequest struct {
	Query       string                  `json:"query"`
	ThreadID    string                  `json:"thread_id"`
	RecordID    string                  `json:"record_id"`
	Attachments []transcript.Attachment `json:"attachments"`
}

// StopRequest is accepted for client compatibility. The task stopped is
// always the caller's own.
type StopRequest struct {
	TaskID string `json:"task_id"`
}

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	runner       *session.Runner
	canceller    *session.Canceller
	maxBodyBytes int64
	tracer       *observability.TracerProvider
	logger       logging.Logger
}

// NewChatHandler builds the handler. tracer may be nil.
func NewChatHandler(runner *session.Runner, canceller *session.Canceller, maxBodyBytes int64, tracer *observability.TracerProvider) *ChatHandler {
	return &ChatHandler{
		runner:       runner,
		canceller:    canceller,
		maxBodyBytes: maxBodyBytes,
		tracer:       tracer,
		logger:       logging.NewComponentLogger("ChatHandler"),
	}
}

func (r ChatRequest) toSession(caller Caller) session.Request {
	return session.Request{
		TaskKey:     caller.Subject,
		Query:       strings.TrimSpace(r.Query),
		ThreadID:    strings.TrimSpace(r.ThreadID),
		RecordID:    strings.TrimSpace(r.RecordID),
		Credential:  caller.Credential,
		Attachments: r.Attachments,
	}
}

// HandleStream runs a session and streams its frames as server-sent events.
// Registration failures are answered with a JSON error because no frame has
// been written yet.
func (h *ChatHandler) HandleStream(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if status, message := negotiateStream(c.Request); status != 0 {
		writeError(c, status, message)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	var body ChatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(c, http.StatusBadRequest, "query is required")
		return
	}

	ctx, span := h.tracer.StartSpan(c.Request.Context(), observability.SpanSSEConnection,
		attribute.String(observability.AttrTaskKey, caller.Subject))
	defer span.End()

	sink := newSSESink(c.Writer)
	summary, err := h.runner.Run(ctx, body.toSession(caller), sink)
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, string(summary.Outcome)),
		attribute.Int(observability.AttrFrames, summary.Frames),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session did not start")
		if sink.Started() {
			logging.FromContext(ctx, h.logger).Error("stream for %s failed after headers: %v", caller.Subject, err)
			return
		}
		writeMappedError(c, err)
		return
	}
	if summary.Err != nil {
		logging.FromContext(ctx, h.logger).Warn("stream for %s ended with %s: %v", caller.Subject, summary.Outcome, summary.Err)
	}
}

// negotiateStream rejects bodies that are not JSON and clients that cannot
// read an event stream. Missing headers are accepted.
func negotiateStream(r *http.Request) (int, string) {
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			return http.StatusUnsupportedMediaType, "content-type must be application/json"
		}
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		return http.StatusNotAcceptable, "client must accept text/event-stream"
	}
	return 0, ""
}

// HandleStop flags the caller's running session. It always reports success.
func (h *ChatHandler) HandleStop(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	var body StopRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		logging.FromContext(c.Request.Context(), h.logger).Debug("ignoring stop body: %v", err)
	}
	if body.TaskID != "" && body.TaskID != caller.Subject {
		logging.FromContext(c.Request.Context(), h.logger).Debug("stop body names %q, stopping caller %q", body.TaskID, caller.Subject)
	}
	c.JSON(http.StatusOK, h.canceller.Cancel(c.Request.Context(), caller.Subject))
}

// HandleTasks reports the caller's own live session.
func (h *ChatHandler) HandleTasks(c *gin.Context) {
	caller, ok := CallerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.canceller.Status(caller.Subject)})
}
