package handlers

import (
	"net/http"

	"example.com/backstage/contacts/internal/search"
	"example.com/backstage/contacts/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// respondError maps service errors onto HTTP responses. Internal details
// are logged, never returned.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "contact cannot be marked as responded"})
	case errors.Is(err, search.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
	default:
		log.Error().Err(err).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.FullPath()).
			Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// bindJSON decodes the body, turning validator failures into field errors
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		converted := services.FromValidator(err)
		var verr *services.ValidationError
		if errors.As(converted, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"body": "malformed JSON"}})
		return false
	}
	return true
}
