package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/model"
	"creditsync/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// OpsService 运维操作：关联账户、重放失败回调、重投失败消息
type OpsService struct {
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	eventRepo       *repository.WebhookEventRepository
	outboxRepo      *repository.OutboxRepository
	webhook         *WebhookService
	lease           time.Duration
}

func NewOpsService(db *gorm.DB, redisClient *redis.Client, accountBackend AccountBackend, cfg *config.Config) *OpsService {
	return &OpsService{
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		eventRepo:       repository.NewWebhookEventRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		webhook:         NewWebhookService(db, redisClient, accountBackend, cfg),
		lease:           claimLease(cfg),
	}
}

// LinkAccount 关联远端账户，已关联时覆盖
func (s *OpsService) LinkAccount(ctx context.Context, userID, accountID int64) error {
	if accountID <= 0 {
		return fmt.Errorf("%w: accountID=%d", ErrInvalidAccount, accountID)
	}
	if err := s.userRepo.LinkBackendAccount(ctx, userID, accountID); err != nil {
		return err
	}
	log.Printf("[Ops] 关联远端账户: userID=%d, accountID=%d", userID, accountID)
	return nil
}

func (s *OpsService) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return s.transactionRepo.GetByTransactionNo(ctx, transactionNo)
}

// FailedWebhookEvents 处理失败或处理超时的回调事件
func (s *OpsService) FailedWebhookEvents(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	return s.eventRepo.ListFailed(ctx, s.lease, limit)
}

// ReplayWebhookEvent 用落库的原始数据重新处理一条失败的回调
func (s *OpsService) ReplayWebhookEvent(ctx context.Context, provider, eventID string) (*WebhookResult, error) {
	record, err := s.eventRepo.GetByProviderEventID(ctx, provider, eventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: 事件不存在 %s/%s", ErrInvalidEvent, provider, eventID)
	}
	if record.Processed {
		return nil, ErrDuplicateEvent
	}

	var data EventData
	if err := json.Unmarshal([]byte(record.Payload), &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	log.Printf("[Ops] 重放回调: provider=%s, eventID=%s", provider, eventID)
	return s.webhook.Handle(ctx, Event{
		Provider: record.Provider,
		EventID:  record.EventID,
		Type:     record.EventType,
		Data:     data,
	})
}

// RequeueFailedOutbox 把投递失败的账本事件放回待发送队列，返回处理条数
func (s *OpsService) RequeueFailedOutbox(ctx context.Context, limit int) (int, error) {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return 0, err
	}

	for i, msg := range messages {
		if err := s.outboxRepo.Requeue(ctx, msg.ID); err != nil {
			return i, err
		}
	}
	if len(messages) > 0 {
		log.Printf("[Ops] 重新投递失败消息: count=%d", len(messages))
	}
	return len(messages), nil
}
