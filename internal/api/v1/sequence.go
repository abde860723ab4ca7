package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/service"
	"github.com/stayops/stayops/internal/types"
)

type SequenceHandler struct {
	numbering service.NumberingService
	log       *logger.Logger
}

func NewSequenceHandler(numbering service.NumberingService, log *logger.Logger) *SequenceHandler {
	return &SequenceHandler{numbering: numbering, log: log}
}

// LastIssued reports the highest number issued for the tenant's scope.
// Year defaults to the current one.
func (h *SequenceHandler) LastIssued(c *gin.Context) {
	ctx := c.Request.Context()

	documentType := types.DocumentType(c.Param("document_type"))

	year := time.Now().UTC().Year()
	if raw := c.Query("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(ierr.WithError(err).
				WithHint("year must be an integer").
				Mark(ierr.ErrValidation))
			return
		}
		year = parsed
	}

	lastIssued, err := h.numbering.LastIssued(ctx, documentType, year)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":     types.GetTenantID(ctx),
		"document_type": documentType,
		"year":          year,
		"last_issued":   lastIssued,
	})
}
