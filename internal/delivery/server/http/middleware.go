package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskstream/internal/infra/auth"
	"taskstream/internal/infra/observability"
	"taskstream/internal/shared/logging"
	"taskstream/internal/shared/utils/id"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const identityKey = "taskstream.identity"

// RecoveryMiddleware turns handler panics into 500 responses.
func RecoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context(), logger).Error("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		writeError(c, http.StatusInternalServerError, "internal error")
	})
}

func resolveLogID(r *http.Request) string {
	for _, header := range []string{"X-Log-Id", "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}

// LoggingMiddleware assigns a log id to every request, echoes it in X-Log-Id
// and logs the request when it completes.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		ctx, logID := id.EnsureLogID(c.Request.Context(), func() string {
			if logID := resolveLogID(c.Request); logID != "" {
				return logID
			}
			return id.NewLogID()
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Log-Id", logID)

		started := time.Now()
		c.Next()

		reqLogger := logging.WithLogID(logger, logID)
		reqLogger.Info("%s %s from %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), time.Since(started).Round(time.Millisecond))
	}
}

// TracingMiddleware wraps each request in a server span.
func TracingMiddleware(obs *observability.Observability) gin.HandlerFunc {
	if obs == nil || obs.Tracer == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		ctx, span := obs.Tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		}
	}
}

// CORSMiddleware allows the configured origins, or every origin outside
// production when none are configured.
func CORSMiddleware(environment string, allowedOrigins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", "X-User-ID", "X-Log-Id"}
	config.ExposeHeaders = []string{"X-Log-Id"}
	config.AllowWebSockets = true

	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	switch {
	case len(origins) > 0:
		config.AllowOrigins = origins
		config.AllowCredentials = true
	case strings.EqualFold(strings.TrimSpace(environment), "production"):
		return func(c *gin.Context) { c.Next() }
	default:
		config.AllowAllOrigins = true
	}
	return cors.New(config)
}

// Caller is the identity attached to a request.
type Caller struct {
	auth.Identity
	// Credential is the raw bearer token, when one was sent.
	Credential string
}

// IdentityMiddleware resolves the caller. With a verifier configured the
// request must carry a valid bearer token, in the Authorization header or
// the access_token query parameter for WebSocket clients. Without one the
// X-User-ID header names the caller.
func IdentityMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := strings.TrimSpace(c.GetHeader("Authorization"))
		if bearer == "" {
			bearer = strings.TrimSpace(c.Query("access_token"))
		}

		var caller Caller
		if authenticator.Enabled() {
			identity, err := authenticator.Identify(c.Request.Context(), bearer)
			if err != nil {
				logging.FromContext(c.Request.Context(), logging.NewComponentLogger("Auth")).
					Warn("rejected %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				writeMappedError(c, err)
				return
			}
			caller = Caller{Identity: identity, Credential: bearer}
		} else {
			caller = Caller{Identity: auth.Fallback(c.GetHeader("X-User-ID")), Credential: bearer}
		}

		c.Set(identityKey, caller)
		c.Request = c.Request.WithContext(id.WithCallerID(c.Request.Context(), caller.Subject))
		c.Next()
	}
}

// CallerFrom returns the caller set by IdentityMiddleware.
func CallerFrom(c *gin.Context) (Caller, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return Caller{}, false
	}
	caller, ok := value.(Caller)
	return caller, ok
}
