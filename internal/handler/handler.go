package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"creditsync/internal/config"
	"creditsync/internal/repository"
	"creditsync/internal/service"
	"creditsync/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MessageAlreadyInSync 本地与远端余额一致时的提示
const MessageAlreadyInSync = "Credits already in sync"

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	syncService    *service.SyncService
	accountService *service.AccountService
	planService    *service.PlanService
	webhookService *service.WebhookService
	debug          bool
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, accountBackend service.AccountBackend, cfg *config.Config) *Handler {
	return &Handler{
		syncService:    service.NewSyncService(db, rdb, accountBackend, cfg),
		accountService: service.NewAccountService(db, accountBackend),
		planService:    service.NewPlanService(db, rdb, accountBackend, cfg),
		webhookService: service.NewWebhookService(db, rdb, accountBackend, cfg),
		debug:          cfg.Server.IsDebug(),
	}
}

// fail 把服务层错误翻译成业务码，内部错误只在 debug 模式下返回详情
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		response.ErrorWithData(c, response.CodeSetupRequired, "请先关联远端账户", gin.H{"setupRequired": true})
	case errors.Is(err, service.ErrBackendUnavailable):
		response.ErrorWithData(c, response.CodeBackendUnavailable, "余额服务暂不可用，请稍后重试", gin.H{"backendAvailable": false})
	case errors.Is(err, repository.ErrUserNotFound):
		response.BusinessError(c, response.CodeUserNotFound, "用户不存在")
	case errors.Is(err, service.ErrPaymentPastDue):
		response.BusinessError(c, response.CodePaymentPastDue, "订阅欠费，请先处理未付账单")
	case errors.Is(err, service.ErrInvalidPlan):
		response.BusinessError(c, response.CodeInvalidPlan, "无效的套餐")
	case errors.Is(err, service.ErrInvalidAmount):
		response.ParamError(c, "额度参数错误")
	case errors.Is(err, service.ErrInvalidAccount):
		response.ParamError(c, "远端账户参数错误")
	case errors.Is(err, service.ErrInvalidEvent):
		response.BusinessError(c, response.CodeInvalidEvent, "无效的回调事件")
	case errors.Is(err, service.ErrInvalidTransition):
		response.BusinessError(c, response.CodeConflict, "当前订阅状态不允许该操作")
	case errors.Is(err, repository.ErrBalanceConflict):
		response.BusinessError(c, response.CodeConflict, "余额已变化，请刷新后重试")
	case errors.Is(err, service.ErrBusy):
		response.BusinessError(c, response.CodeBusy, "系统繁忙，请稍后重试")
	default:
		log.Printf("[Handler] 内部错误: path=%s, requestID=%s, err=%v", c.FullPath(), c.GetString(ctxKeyRequestID), err)
		response.ServerError(c, h.detail(err))
	}
}

func (h *Handler) detail(err error) string {
	if h.debug {
		return err.Error()
	}
	return response.GenericMessage
}

// ============================================================
// 余额同步
// ============================================================

// GetSyncStatus 查询同步状态
// GET /api/v1/credits/sync-status
func (h *Handler) GetSyncStatus(c *gin.Context) {
	status, err := h.syncService.GetSyncStatus(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, status)
}

// SyncRequest 同步请求，请求体可以为空
type SyncRequest struct {
	ForceSync bool `json:"forceSync"`
}

// Sync 以远端余额为准同步本地余额
// POST /api/v1/credits/sync
func (h *Handler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trigger := service.TriggerManual
	if req.ForceSync {
		trigger = service.TriggerForce
	}

	result, err := h.syncService.Sync(c.Request.Context(), currentUserID(c), req.ForceSync, trigger)
	if err != nil {
		h.fail(c, err)
		return
	}

	if !result.Synced {
		response.SuccessWithMessage(c, MessageAlreadyInSync, gin.H{
			"message":        MessageAlreadyInSync,
			"currentCredits": result.NewCredits,
		})
		return
	}
	response.Success(c, result)
}

// ============================================================
// 余额与流水
// ============================================================

// GetBalance 查询本地余额与远端余额
// GET /api/v1/credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	view, err := h.accountService.GetBalance(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// ListTransactions 查询额度流水
// GET /api/v1/credits/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.accountService.ListTransactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 套餐
// ============================================================

type ChangePlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// ChangePlan 修改套餐
// POST /api/v1/plan/change
func (h *Handler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.planService.ChangePlan(c.Request.Context(), currentUserID(c), req.Plan, service.TriggerManual)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

type DebugSubscriptionRequest struct {
	Plan    string `json:"plan" binding:"required"`
	Credits int64  `json:"credits" binding:"gte=0"`
}

// DebugSubscription 调试接口，只在 debug 模式下注册
// POST /api/v1/debug/subscription
func (h *Handler) DebugSubscription(c *gin.Context) {
	var req DebugSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.planService.DebugSubscription(c.Request.Context(), currentUserID(c), req.Plan, req.Credits)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 支付回调
// ============================================================

// Webhook 接收已验签的支付回调事件
// POST /api/v1/webhooks/:provider
//
// 重复事件返回成功；处理失败返回 500，由支付渠道重新投递
func (h *Handler) Webhook(c *gin.Context) {
	var ev service.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	ev.Provider = c.Param("provider")

	result, err := h.webhookService.Handle(c.Request.Context(), ev)
	switch {
	case err == nil:
		response.Success(c, result)
	case errors.Is(err, service.ErrDuplicateEvent):
		response.SuccessWithMessage(c, "duplicate", gin.H{"duplicate": true})
	case errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, service.ErrInvalidPlan),
		errors.Is(err, service.ErrPaymentPastDue),
		errors.Is(err, repository.ErrUserNotFound):
		h.fail(c, err)
	default:
		log.Printf("[Handler] 回调处理失败: provider=%s, eventID=%s, err=%v", ev.Provider, ev.EventID, err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, h.detail(err))
	}
}
