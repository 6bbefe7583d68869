package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmud/aether/internal/storage"
	"github.com/openmud/aether/internal/world"
)

// envelope is the single response shape every route returns. Exactly one of
// Data and Error is set.
type envelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         *apiError   `json:"error,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

type apiError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func correlationID(c *gin.Context) string {
	if id, ok := c.Get("correlation_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID(c),
	})
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, envelope{
		Success:       false,
		Error:         &apiError{Code: code, Message: message, Details: details},
		CorrelationID: correlationID(c),
	})
}

// respondDomainError maps domain error kinds onto HTTP statuses. Anything
// unrecognized is an internal error; the cause is logged, not leaked.
func (s *Server) respondDomainError(c *gin.Context, err error) {
	var (
		invalid    *storage.ErrInvalidInput
		notFound   *storage.ErrNotFound
		exists     *storage.ErrAlreadyExists
		concurrent *storage.ErrConcurrentAdvancement
		transition *storage.ErrInvalidTransition
		linkConf   *storage.ErrExternalIDConflict
		noExit     *world.ErrNoExit
		exitConf   *world.ErrExitConflict
	)

	switch {
	case errors.As(err, &invalid):
		respondError(c, http.StatusBadRequest, "InvalidInput", invalid.Error(), map[string]interface{}{
			"field": invalid.Field,
		})
	case errors.As(err, &noExit):
		respondError(c, http.StatusBadRequest, "NoExit", noExit.Error(), map[string]interface{}{
			"from":      noExit.FromID,
			"direction": noExit.Direction,
		})
	case errors.As(err, &notFound):
		respondError(c, http.StatusNotFound, "NotFound", notFound.Error(), map[string]interface{}{
			"type": notFound.Type,
			"id":   notFound.ID,
		})
	case errors.As(err, &linkConf):
		respondError(c, http.StatusConflict, "Conflict", linkConf.Error(), map[string]interface{}{
			"existingPlayerId": linkConf.ExistingPlayerID,
		})
	case errors.As(err, &exitConf):
		respondError(c, http.StatusConflict, "Conflict", exitConf.Error(), map[string]interface{}{
			"existingToId": exitConf.ExistingToID,
		})
	case errors.As(err, &concurrent):
		respondError(c, http.StatusConflict, "ConcurrentAdvancement", concurrent.Error(), nil)
	case errors.As(err, &transition):
		respondError(c, http.StatusConflict, "InvalidTransition", transition.Error(), nil)
	case errors.As(err, &exists):
		respondError(c, http.StatusConflict, "AlreadyExists", exists.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "DeadlineExceeded", "request deadline exceeded", nil)
	default:
		s.logger.Error("internal error",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal", "internal server error", nil)
	}
}
