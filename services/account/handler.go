package account

import (
	"net/http"
	"time"

	"habitcoin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// HTTP exposes account registration. Kept apart from Module so workers can
// read accounts without a router.
var HTTP = fx.Module("account.http", fx.Invoke(RegisterRoutes))

type createRequest struct {
	DisplayName string    `json:"display_name" binding:"required"`
	FamilyID    string    `json:"family_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func RegisterRoutes(r *gin.Engine, s *Store) {
	g := r.Group("/v1/accounts")
	g.POST("", func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
		a, err := s.Create(c.Request.Context(), req.DisplayName, req.FamilyID, req.CreatedAt)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, a)
	})
	g.GET("/:user_id", func(c *gin.Context) {
		a, err := s.Get(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, a)
	})
}
