package v1

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/stayops/stayops/internal/errors"
	"github.com/stayops/stayops/internal/logger"
)

// ErrorResponse represents the API error response structure
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ErrorHandler renders errors attached by handlers via c.Error using the
// shared error-to-status mapping.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)

		if status >= 500 {
			log.Errorw("request failed",
				"path", c.Request.URL.Path,
				"error", err,
			)
		}

		c.AbortWithStatusJSON(status, ErrorResponse{
			Error:  err.Error(),
			Detail: ierr.ErrCodeFromErr(err),
		})
	}
}
