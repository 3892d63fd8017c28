package http

import (
	"errors"
	"net/http"

	"taskstream/internal/app/session"
	"taskstream/internal/domain/task"
	"taskstream/internal/infra/auth"

	"github.com/gin-gonic/gin"
)

// apiError is the JSON body of every non-streaming failure.
type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// mapDomainError translates a service error into a status and a client
// message. Unknown errors yield (0, "").
func mapDomainError(err error) (status int, message string) {
	switch {
	case err == nil:
		return 0, ""
	case errors.Is(err, task.ErrTaskAlreadyRunning):
		return http.StatusConflict, "a task is already running for this user"
	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, task.ErrEmptyKey):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return 0, ""
	}
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, apiError{Success: false, Error: message})
}

// writeMappedError writes err through mapDomainError, falling back to a 500.
func writeMappedError(c *gin.Context, err error) {
	if status, message := mapDomainError(err); status != 0 {
		writeError(c, status, message)
		return
	}
	writeError(c, http.StatusInternalServerError, "internal error")
}
