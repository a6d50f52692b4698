package middleware

import (
	"habitcoin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the context through
// errutil.Normalize. Server-side failures are logged with their cause and
// answered with the bare status message.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.Normalize(last.Err)
		if be.Code.HTTPStatus() >= 500 {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}
		c.JSON(be.Code.HTTPStatus(), be.JSON())
	}
}
