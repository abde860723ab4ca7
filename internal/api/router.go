package api

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/stayops/stayops/internal/api/v1"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/types"
)

type Handlers struct {
	Health   *v1.HealthHandler
	Outbox   *v1.OutboxHandler
	Sequence *v1.SequenceHandler
}

// NewRouter wires the operator-facing surface: health plus outbox/sequence
// observability. Business traffic never goes through here; the core is
// consumed as a library.
func NewRouter(handlers Handlers, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestContextMiddleware())
	router.Use(v1.ErrorHandler(log))

	router.GET("/health", handlers.Health.Health)

	// v1 ops routes
	ops := router.Group("/v1/ops")
	{
		ops.GET("/outbox/stats", handlers.Outbox.Stats)
		ops.GET("/outbox/events/:id", handlers.Outbox.Get)
		ops.POST("/outbox/events/:id/requeue", handlers.Outbox.Requeue)

		ops.GET("/sequences/:document_type", handlers.Sequence.LastIssued)
	}

	return router
}

// requestContextMiddleware seeds the request context with tenant and request
// ids so downstream services resolve them the same way business callers do.
func requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tenantID := c.GetHeader("X-Tenant-ID"); tenantID != "" {
			ctx = types.SetTenantID(ctx, tenantID)
		}
		ctx = types.SetRequestID(ctx, types.GenerateUUID())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
