package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/c54335/contract-delivery-tracker/pkg/logger"
	"github.com/c54335/contract-delivery-tracker/service"
)

// respondError writes the HTTP form of a domain error
func respondError(c *gin.Context, err error) {
	c.Error(err)
	ctx := c.Request.Context()

	var interpretation *service.InterpretationError
	var ambiguous *service.AmbiguousItemError
	switch {
	case errors.As(err, &interpretation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "missing": interpretation.Missing})
	case errors.Is(err, service.ErrInvalidDate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &ambiguous):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "candidates": ambiguous.Candidates})
	case errors.Is(err, service.ErrDuplicateItem):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, service.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrExtraction):
		logger.Error(ctx, "contract extraction failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyItem),
		errors.Is(err, service.ErrUnknownBaseline),
		errors.Is(err, service.ErrNegativeDuration),
		errors.Is(err, service.ErrFailedRow),
		errors.Is(err, service.ErrUnknownAction),
		errors.Is(err, service.ErrMissingColumn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error(ctx, "request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
