package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/credit"
	"creditsync/internal/metrics"
	"creditsync/internal/model"
	"creditsync/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 归一化后的事件类型
const (
	EventPaymentSucceeded     = "payment_succeeded"
	EventSubscriptionUpdated  = "subscription_updated"
	EventSubscriptionCanceled = "subscription_canceled"
	EventPaymentFailed        = "payment_failed"
)

// 各支付渠道事件类型 -> 归一化事件类型，未列出的事件直接确认并忽略
var providerEventKinds = map[string]map[string]string{
	model.ProviderStripe: {
		"checkout.session.completed":    EventPaymentSucceeded,
		"invoice.paid":                  EventPaymentSucceeded,
		"payment_intent.succeeded":      EventPaymentSucceeded,
		"customer.subscription.created": EventSubscriptionUpdated,
		"customer.subscription.updated": EventSubscriptionUpdated,
		"customer.subscription.deleted": EventSubscriptionCanceled,
		"invoice.payment_failed":        EventPaymentFailed,
	},
	model.ProviderSquare: {
		"payment.completed":               EventPaymentSucceeded,
		"invoice.payment_made":            EventPaymentSucceeded,
		"subscription.created":            EventSubscriptionUpdated,
		"subscription.updated":            EventSubscriptionUpdated,
		"invoice.scheduled_charge_failed": EventPaymentFailed,
	},
}

// 订阅变更事件按订阅对象状态重新归类，未列出的状态按正常订阅变更处理
// 映射为空串表示订阅尚未生效或已暂停，确认并忽略
var subscriptionStatusKinds = map[string]string{
	"canceled":           EventSubscriptionCanceled,
	"incomplete_expired": EventSubscriptionCanceled,
	"CANCELED":           EventSubscriptionCanceled,
	"DEACTIVATED":        EventSubscriptionCanceled,
	"past_due":           EventPaymentFailed,
	"unpaid":             EventPaymentFailed,
	"incomplete":         "",
	"paused":             "",
	"PAUSED":             "",
	"PENDING":            "",
}

// defaultClaimLease 回调事件处理权的默认租约
const defaultClaimLease = 5 * time.Minute

func claimLease(cfg *config.Config) time.Duration {
	if cfg.Business.WebhookClaimLease > 0 {
		return cfg.Business.WebhookClaimLease
	}
	return defaultClaimLease
}

// Event 已完成签名校验并解码的回调事件
type Event struct {
	Provider string    `json:"-"`
	EventID  string    `json:"event_id" binding:"required"`
	Type     string    `json:"type" binding:"required"`
	Data     EventData `json:"data"`
}

// EventData 事件对象，ID 是支付渠道流水号
type EventData struct {
	ID       string        `json:"id"`
	Credits  int64         `json:"credits"`
	Plan     string        `json:"plan"`
	Status   string        `json:"status"`
	Metadata EventMetadata `json:"metadata"`
}

// EventMetadata 下单时写入的结构化元数据，user_id 是唯一的关联依据
type EventMetadata struct {
	UserID string `json:"user_id"`
}

type WebhookResult struct {
	Kind          string `json:"kind,omitempty"`
	Ignored       bool   `json:"ignored,omitempty"`
	TransactionNo string `json:"transactionNo,omitempty"`
	Partial       bool   `json:"partial,omitempty"`
}

// NormalizeEventType 渠道事件类型归一化，未知事件返回空串
func NormalizeEventType(provider, eventType string) string {
	return providerEventKinds[provider][eventType]
}

type WebhookService struct {
	backend   AccountBackend
	eventRepo *repository.WebhookEventRepository
	ledger    *LedgerService
	lease     time.Duration
}

func NewWebhookService(db *gorm.DB, redisClient *redis.Client, accountBackend AccountBackend, cfg *config.Config) *WebhookService {
	return &WebhookService{
		backend:   accountBackend,
		eventRepo: repository.NewWebhookEventRepository(db),
		ledger:    NewLedgerService(db, redisClient, cfg),
		lease:     claimLease(cfg),
	}
}

// Handle 处理一条回调事件
//
// 1. (provider, event_id) 唯一索引抢占处理权，重复投递返回 ErrDuplicateEvent
// 2. 本地写账与事件标记在同一事务内提交
// 3. 之后再调用远端，失败时流水标记为 partial，事件仍视为已处理
func (s *WebhookService) Handle(ctx context.Context, ev Event) (*WebhookResult, error) {
	if _, ok := providerEventKinds[ev.Provider]; !ok || ev.EventID == "" || ev.Type == "" {
		metrics.WebhookEvents.WithLabelValues(ev.Provider, "invalid").Inc()
		return nil, ErrInvalidEvent
	}

	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	claimed, record, err := s.eventRepo.Claim(ctx, &model.WebhookEvent{
		Provider:  ev.Provider,
		EventID:   ev.EventID,
		EventType: ev.Type,
		Payload:   string(payload),
	}, s.lease)
	if err != nil {
		return nil, fmt.Errorf("记录回调事件失败: %w", err)
	}
	if !claimed {
		metrics.WebhookEvents.WithLabelValues(ev.Provider, "duplicate").Inc()
		log.Printf("[Webhook] 重复投递: provider=%s, eventID=%s", ev.Provider, ev.EventID)
		return nil, ErrDuplicateEvent
	}

	kind := NormalizeEventType(ev.Provider, ev.Type)
	if kind == EventSubscriptionUpdated {
		if k, ok := subscriptionStatusKinds[ev.Data.Status]; ok {
			kind = k
		}
	}

	// 请求取消后仍要记下处理结果，否则事件会一直停在处理中
	markCtx := context.WithoutCancel(ctx)

	result, err := s.dispatch(ctx, record.ID, kind, ev)
	switch {
	case err == nil:
		label := "processed"
		if result.Ignored {
			label = "ignored"
		}
		metrics.WebhookEvents.WithLabelValues(ev.Provider, label).Inc()
		return result, nil

	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrInvalidTransition):
		// 支付已入账或状态不适用，确认事件，不再重试
		if markErr := s.eventRepo.MarkProcessed(markCtx, nil, record.ID); markErr != nil {
			log.Printf("[Webhook] 标记事件失败: id=%d, err=%v", record.ID, markErr)
		}
		if errors.Is(err, ErrDuplicateEvent) {
			metrics.WebhookEvents.WithLabelValues(ev.Provider, "duplicate").Inc()
			return nil, err
		}
		log.Printf("[Webhook] 忽略事件: provider=%s, eventID=%s, err=%v", ev.Provider, ev.EventID, err)
		metrics.WebhookEvents.WithLabelValues(ev.Provider, "ignored").Inc()
		return &WebhookResult{Kind: kind, Ignored: true}, nil

	default:
		if markErr := s.eventRepo.MarkFailed(markCtx, record.ID, err.Error()); markErr != nil {
			log.Printf("[Webhook] 记录失败原因失败: id=%d, err=%v", record.ID, markErr)
		}
		metrics.WebhookEvents.WithLabelValues(ev.Provider, "failed").Inc()
		log.Printf("[Webhook] 处理失败: provider=%s, eventID=%s, err=%v", ev.Provider, ev.EventID, err)
		return nil, err
	}
}

func (s *WebhookService) dispatch(ctx context.Context, eventID int64, kind string, ev Event) (*WebhookResult, error) {
	if kind == "" {
		if err := s.eventRepo.MarkProcessed(ctx, nil, eventID); err != nil {
			return nil, err
		}
		return &WebhookResult{Ignored: true}, nil
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(ev.Data.Metadata.UserID), 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: metadata.user_id 缺失或不合法", ErrInvalidEvent)
	}

	var entry Entry
	switch kind {
	case EventPaymentSucceeded:
		if ev.Data.ID == "" || ev.Data.Credits <= 0 {
			return nil, fmt.Errorf("%w: 支付事件缺少流水号或额度", ErrInvalidEvent)
		}
		entry = Entry{
			Type:         model.TransactionTypePurchase,
			Amount:       ev.Data.Credits,
			Description:  fmt.Sprintf("购买额度 %d", ev.Data.Credits),
			GatewayTxnID: ev.Data.ID,
			EventType:    model.LedgerEventCreditGranted,
		}

	case EventSubscriptionUpdated:
		plan, ok := credit.ParsePlan(ev.Data.Plan)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, ev.Data.Plan)
		}
		entry = Entry{
			Type:               model.TransactionTypePlanChange,
			Description:        fmt.Sprintf("订阅变更为 %s", plan),
			Plan:               plan,
			SubscriptionStatus: model.SubscriptionActive,
			Metadata:           map[string]interface{}{"backendPlan": credit.MapPlan(plan)},
			EventType:          model.LedgerEventPlanChanged,
		}

	case EventSubscriptionCanceled:
		entry = Entry{
			Type:               model.TransactionTypePlanChange,
			Description:        "订阅已取消",
			Plan:               credit.PlanFree,
			SubscriptionStatus: model.SubscriptionCanceled,
			Metadata:           map[string]interface{}{"backendPlan": credit.MapPlan(credit.PlanFree)},
			EventType:          model.LedgerEventPlanChanged,
		}

	case EventPaymentFailed:
		entry = Entry{
			SubscriptionStatus: model.SubscriptionPastDue,
			EventType:          model.LedgerEventPlanChanged,
		}
	}

	entry.UserID = userID
	entry.WebhookEventID = eventID
	entry.Trigger = ev.Provider + ":" + ev.Type
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	entry.Metadata["provider"] = ev.Provider
	entry.Metadata["eventId"] = ev.EventID

	var result *WebhookResult
	err = s.ledger.WithUserLock(ctx, userID, func() error {
		// 付款成功视为已补缴欠费
		if kind == EventPaymentSucceeded {
			entry.SubscriptionStatus = ""
			if user, err := s.ledger.userRepo.GetByID(ctx, nil, userID); err == nil && user.SubscriptionStatus == model.SubscriptionPastDue {
				entry.SubscriptionStatus = model.SubscriptionActive
			}
		}

		applied, err := s.ledger.Apply(ctx, entry)
		if err != nil {
			return err
		}

		result = &WebhookResult{Kind: kind}
		if applied.Transaction != nil {
			result.TransactionNo = applied.Transaction.TransactionNo
		}

		accountID, linked := applied.User.BackendAccountID()
		if !linked {
			log.Printf("[Webhook] 用户未关联远端账户，跳过远端调用: userID=%d", userID)
			return nil
		}

		var call RemoteCall
		switch kind {
		case EventPaymentSucceeded:
			call = func(ctx context.Context) error {
				return s.backend.CreateCreditPack(ctx, accountID, entry.Amount, entry.Description, "purchase")
			}
		case EventSubscriptionUpdated, EventSubscriptionCanceled:
			call = func(ctx context.Context) error {
				return s.backend.UpdatePlan(ctx, accountID, credit.MapPlan(entry.Plan))
			}
		default:
			return nil
		}

		if err := s.ledger.PushRemote(ctx, applied, call); err != nil {
			result.Partial = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
