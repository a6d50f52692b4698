package middleware

import (
	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the authenticated caller. Authentication itself is
// done by the gateway in front of this service.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

func User() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(UserIDHeader); id != "" {
			c.Set(userIDKey, id)
		}
		c.Next()
	}
}

// UserID returns the caller set by User, empty when anonymous.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
