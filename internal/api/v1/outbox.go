package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/service"
)

type OutboxHandler struct {
	writer service.OutboxWriter
	log    *logger.Logger
}

func NewOutboxHandler(writer service.OutboxWriter, log *logger.Logger) *OutboxHandler {
	return &OutboxHandler{writer: writer, log: log}
}

// Stats reports PENDING/FAILED/exhausted/PUBLISHED row counts.
func (h *OutboxHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.writer.Stats(ctx)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, counts)
}

// Get returns a single event row, mainly for inspecting last_error on parked
// events before a requeue.
func (h *OutboxHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("event id is required").
			Mark(ierr.ErrValidation))
		return
	}

	event, err := h.writer.Get(ctx, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// Requeue resets a parked failed event for fresh delivery attempts.
func (h *OutboxHandler) Requeue(c *gin.Context) {
	ctx := c.Request.Context()

	id := c.Param("id")
	if err := h.writer.Requeue(ctx, id); err != nil {
		h.log.Errorw("failed to requeue outbox event", "event_id", id, "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "requeued", "event_id": id})
}
