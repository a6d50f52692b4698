package rewards

import (
	"net/http"

	"habitcoin/pkg/db/pagination"
	"habitcoin/pkg/errutil"
	"habitcoin/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const idempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")

	habits := v1.Group("/habits")
	habits.GET("", h.ListHabits)
	habits.POST("", h.CreateHabit)
	habits.PATCH("/:habit_id/active", h.SetHabitActive)
	habits.PUT("/:habit_id/checks/:date", h.RecordCheck)
	habits.GET("/:habit_id/progress", h.HabitProgress)
	habits.POST("/:habit_id/rewards/evaluate", h.EvaluateHabitReward)

	v1.POST("/tasks/:task_id/rewards", h.RewardTaskCompletion)
	v1.POST("/gifts", h.GiftCoins)

	users := v1.Group("/users/:user_id")
	users.GET("/wallet", h.GetWallet)
	users.GET("/transactions", h.GetTransactions)
	users.GET("/ledger/verify", h.VerifyLedger)
}

type evaluateRequest struct {
	CheckInDate string `json:"check_in_date"`
}

type taskRewardRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
}

type giftRequest struct {
	ToUserID  string `json:"to_user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type createHabitRequest struct {
	Name   string `json:"name" binding:"required"`
	Active *bool  `json:"active"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type checkRequest struct {
	Completed *bool `json:"completed"`
}

func (h *Handler) EvaluateHabitReward(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req evaluateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, errutil.BadRequest("invalid request body", err))
			return
		}
	}

	o, err := h.svc.EvaluateHabitReward(c.Request.Context(), caller, c.Param("habit_id"), req.CheckInDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) RewardTaskCompletion(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req taskRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errutil.BadRequest("invalid request body", err))
		return
	}

	o, err := h.svc.RewardTaskCompletion(c.Request.Context(), caller, req.UserID, c.Param("task_id"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) GiftCoins(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req giftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errutil.BadRequest("invalid request body", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader(idempotencyKeyHeader)
	}

	o, err := h.svc.GiftCoins(c.Request.Context(), caller, req.ToUserID, req.Amount, req.Message, req.RequestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.svc.GetWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":      c.Param("user_id"),
		"family_coins": w.FamilyCoins,
		"reward_coins": w.RewardCoins,
		"balance":      w.Balance(),
		"total_earned": w.TotalEarned,
		"total_spent":  w.TotalSpent,
	})
}

func (h *Handler) GetTransactions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		h.fail(c, errutil.BadRequest("invalid pagination", err))
		return
	}

	res, err := h.svc.GetTransactions(c.Request.Context(), c.Param("user_id"), page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) VerifyLedger(c *gin.Context) {
	res, err := h.svc.VerifyLedger(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) HabitProgress(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.HabitProgress(c.Request.Context(), caller, c.Param("habit_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListHabits(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	res, err := h.svc.ListHabits(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"habits": res})
}

func (h *Handler) CreateHabit(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req createHabitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errutil.BadRequest("invalid request body", err))
		return
	}
	active := req.Active == nil || *req.Active

	res, err := h.svc.CreateHabit(c.Request.Context(), caller, req.Name, active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) SetHabitActive(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.SetHabitActive(c.Request.Context(), caller, c.Param("habit_id"), *req.Active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RecordCheck(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req checkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, errutil.BadRequest("invalid request body", err))
			return
		}
	}
	completed := req.Completed == nil || *req.Completed

	res, err := h.svc.RecordCheck(c.Request.Context(), caller, c.Param("habit_id"), c.Param("date"), completed)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) caller(c *gin.Context) (string, bool) {
	id := middleware.UserID(c)
	if id == "" {
		h.fail(c, errutil.New(errutil.StatusUnauthorized, "missing "+middleware.UserIDHeader))
		return "", false
	}
	return id, true
}

// fail attaches err for the error middleware, which maps it to a status.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
