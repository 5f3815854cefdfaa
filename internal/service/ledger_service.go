package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/infrastructure/lock"
	"creditsync/internal/metrics"
	"creditsync/internal/model"
	"creditsync/internal/repository"
	"creditsync/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ============================================================================
// 本地账本写入
// ============================================================================
//
// 所有修改 user_profile 余额/套餐的操作都走这里：
// 1. 同一个数据库事务内完成 余额CAS更新 + 流水 + outbox（+ 回调事件标记）
// 2. 同一用户的写账由 Redis 用户锁串行化，CAS 是第二道保护
// 3. 远端调用只能在本地提交之后进行，失败时把流水标记为 partial
//
// ============================================================================

const maxLedgerAttempts = 3

type LedgerService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	eventRepo       *repository.WebhookEventRepository
}

func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		eventRepo:       repository.NewWebhookEventRepository(db),
	}
}

// WithUserLock 持有用户账本锁执行 fn
func (s *LedgerService) WithUserLock(ctx context.Context, userID int64, fn func() error) error {
	ttl := s.cfg.Business.SyncLockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	userLock := lock.NewUserLedgerLock(s.redisClient, userID, ttl)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return ErrBusy
		}
		return fmt.Errorf("获取用户锁失败: %w", err)
	}
	defer func() {
		if err := userLock.Unlock(context.Background()); err != nil {
			log.Printf("[Ledger] 释放用户锁失败: userID=%d, err=%v", userID, err)
		}
	}()

	return fn()
}

// ledgerEvent 投递到 Kafka 的账本事件
type ledgerEvent struct {
	TransactionNo      string    `json:"transactionNo,omitempty"`
	UserID             int64     `json:"userId"`
	Type               string    `json:"type,omitempty"`
	Amount             int64     `json:"amount"`
	PreviousBalance    int64     `json:"previousBalance"`
	NewBalance         int64     `json:"newBalance"`
	Plan               string    `json:"plan,omitempty"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	Trigger            string    `json:"trigger,omitempty"`
	OccurredAt         time.Time `json:"occurredAt"`
}

func (s *LedgerService) enqueue(ctx context.Context, tx *gorm.DB, eventType string, event ledgerEvent) error {
	// 按用户分区，保证同一用户的账本事件有序
	key := strconv.FormatInt(event.UserID, 10)
	if err := s.outboxRepo.Enqueue(ctx, tx, s.cfg.Kafka.Topic.Ledger, eventType, key, event); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// ============================================================
// 同步写账
// ============================================================

// SyncEntry 一次同步写账
// PreviousBalance/ExpectedVersion 必须是做同步决策时读到的快照
type SyncEntry struct {
	UserID           int64
	BackendAccountID int64
	PreviousBalance  int64
	NewBalance       int64
	ExpectedVersion  int
	Trigger          string
	SyncedAt         time.Time
}

func (e SyncEntry) Diff() int64 {
	return e.NewBalance - e.PreviousBalance
}

func syncTransactionType(diff int64) string {
	if diff < 0 {
		return model.TransactionTypeSyncDeduct
	}
	return model.TransactionTypeSyncAdd
}

// ApplySync 把同步结果写入本地账本，差额为 0 时只更新同步时间，不写流水
//
// 快照已过期时返回 repository.ErrBalanceConflict，调用方需要重新读取并重新决策
func (s *LedgerService) ApplySync(ctx context.Context, e SyncEntry) (*model.Transaction, error) {
	diff := e.Diff()
	var trans *model.Transaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByID(ctx, tx, e.UserID)
		if err != nil {
			return err
		}

		syncedAt := e.SyncedAt
		prefs := user.Prefs()
		prefs.BackendSyncedAt = &syncedAt

		update := repository.BalanceUpdate{
			UserID:          e.UserID,
			ExpectedCredits: e.PreviousBalance,
			ExpectedVersion: e.ExpectedVersion,
			NewCredits:      e.NewBalance,
			Preferences:     &prefs,
		}
		if diff > 0 {
			update.Earned = diff
		} else if diff < 0 {
			update.Spent = -diff
		}
		if err := s.userRepo.ApplyBalance(ctx, tx, update); err != nil {
			return err
		}

		event := ledgerEvent{
			UserID:          e.UserID,
			Amount:          diff,
			PreviousBalance: e.PreviousBalance,
			NewBalance:      e.NewBalance,
			Trigger:         e.Trigger,
			OccurredAt:      syncedAt,
		}

		if diff != 0 {
			trans = &model.Transaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        e.UserID,
				Type:          syncTransactionType(diff),
				Amount:        diff,
				Description:   fmt.Sprintf("同步远端额度 %+d", diff),
				Status:        model.TransactionStatusCompleted,
				Metadata: datatypes.JSONMap{
					"previousBalance":  e.PreviousBalance,
					"newBalance":       e.NewBalance,
					"backendAccountId": e.BackendAccountID,
					"trigger":          e.Trigger,
				},
			}
			if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			event.TransactionNo = trans.TransactionNo
			event.Type = trans.Type
		}

		return s.enqueue(ctx, tx, model.LedgerEventCreditSynced, event)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] 同步写账成功: userID=%d, %d -> %d, trigger=%s", e.UserID, e.PreviousBalance, e.NewBalance, e.Trigger)
	return trans, nil
}

// ============================================================
// 发放额度 / 修改套餐
// ============================================================

// Entry 一次本地写账：发放额度和（或）修改套餐与订阅状态
type Entry struct {
	UserID int64
	// Type 流水类型，为空时只改状态不写流水
	Type        string
	Amount      int64
	Description string
	// GatewayTxnID 支付渠道流水号，同一个流水号只会入账一次
	GatewayTxnID       string
	Plan               string
	SubscriptionStatus string
	Metadata           map[string]interface{}
	// WebhookEventID 非 0 时在同一事务内把回调事件标记为已处理
	WebhookEventID int64
	EventType      string
	Trigger        string
}

type EntryResult struct {
	// User 写账前的用户快照
	User            *model.UserProfile
	Transaction     *model.Transaction
	PreviousBalance int64
	NewBalance      int64
}

// Apply 执行一次本地写账
//
// 金额是相对量，每次都在事务内重新读取余额，所以 CAS 冲突时可以安全重试
func (s *LedgerService) Apply(ctx context.Context, e Entry) (*EntryResult, error) {
	if e.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	var (
		result *EntryResult
		err    error
	)
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		result, err = s.applyOnce(ctx, e)
		if !errors.Is(err, repository.ErrBalanceConflict) {
			break
		}
		log.Printf("[Ledger] 余额并发冲突，重试: userID=%d, attempt=%d", e.UserID, attempt)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Ledger] 写账成功: userID=%d, type=%s, amount=%d, plan=%s, status=%s",
		e.UserID, e.Type, e.Amount, e.Plan, e.SubscriptionStatus)
	return result, nil
}

func (s *LedgerService) applyOnce(ctx context.Context, e Entry) (*EntryResult, error) {
	result := &EntryResult{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.GetByID(ctx, tx, e.UserID)
		if err != nil {
			return err
		}
		result.User = user

		if e.GatewayTxnID != "" {
			existing, err := s.transactionRepo.GetByGatewayTxnID(ctx, tx, e.GatewayTxnID)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if existing != nil {
				return ErrDuplicateEvent
			}
		}

		if e.SubscriptionStatus != "" && !model.CanTransitionTo(user.SubscriptionStatus, e.SubscriptionStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, user.SubscriptionStatus, e.SubscriptionStatus)
		}
		// 欠费用户只能取消订阅
		if e.Plan != "" && e.SubscriptionStatus != model.SubscriptionCanceled && !model.AllowsPlanChange(user.SubscriptionStatus) {
			return ErrPaymentPastDue
		}

		result.PreviousBalance = user.Credits
		result.NewBalance = user.Credits + e.Amount

		err = s.userRepo.ApplyBalance(ctx, tx, repository.BalanceUpdate{
			UserID:             e.UserID,
			ExpectedCredits:    user.Credits,
			ExpectedVersion:    user.Version,
			NewCredits:         result.NewBalance,
			Earned:             e.Amount,
			Plan:               e.Plan,
			SubscriptionStatus: e.SubscriptionStatus,
		})
		if err != nil {
			return err
		}

		event := ledgerEvent{
			UserID:             e.UserID,
			Amount:             e.Amount,
			PreviousBalance:    result.PreviousBalance,
			NewBalance:         result.NewBalance,
			Plan:               e.Plan,
			SubscriptionStatus: e.SubscriptionStatus,
			Trigger:            e.Trigger,
			OccurredAt:         time.Now(),
		}

		if e.Type != "" {
			metadata := datatypes.JSONMap{
				"previousBalance": result.PreviousBalance,
				"newBalance":      result.NewBalance,
			}
			if accountID, ok := user.BackendAccountID(); ok {
				metadata["backendAccountId"] = accountID
			}
			if e.Trigger != "" {
				metadata["trigger"] = e.Trigger
			}
			for k, v := range e.Metadata {
				metadata[k] = v
			}

			trans := &model.Transaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				UserID:        e.UserID,
				Type:          e.Type,
				Amount:        e.Amount,
				Description:   e.Description,
				Status:        model.TransactionStatusCompleted,
				Metadata:      metadata,
			}
			if e.GatewayTxnID != "" {
				gatewayTxnID := e.GatewayTxnID
				trans.GatewayTxnID = &gatewayTxnID
			}
			if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			result.Transaction = trans
			event.TransactionNo = trans.TransactionNo
			event.Type = trans.Type
		}

		if e.WebhookEventID != 0 {
			if err := s.eventRepo.MarkProcessed(ctx, tx, e.WebhookEventID); err != nil {
				return fmt.Errorf("标记回调事件失败: %w", err)
			}
		}

		eventType := e.EventType
		if eventType == "" {
			eventType = model.LedgerEventCreditGranted
		}
		return s.enqueue(ctx, tx, eventType, event)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ============================================================
// 远端调用
// ============================================================

// RemoteCall 本地提交之后执行的远端调用
type RemoteCall func(ctx context.Context) error

// PushRemote 依次执行远端调用，任何一个失败都会把流水标记为 partial 并返回合并后的错误
func (s *LedgerService) PushRemote(ctx context.Context, result *EntryResult, calls ...RemoteCall) error {
	var errs []error
	for _, call := range calls {
		if err := call(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	remoteErr := errors.Join(errs...)
	s.MarkPartial(ctx, result.Transaction, remoteErr)
	return remoteErr
}

// MarkPartial 记录远端失败，trans 为空时（只改状态的写账）只记日志
func (s *LedgerService) MarkPartial(ctx context.Context, trans *model.Transaction, remoteErr error) {
	if trans == nil {
		metrics.PartialLedgerWrites.WithLabelValues("status_only").Inc()
		log.Printf("[Ledger] 远端调用失败（无流水）: err=%v", remoteErr)
		return
	}

	metrics.PartialLedgerWrites.WithLabelValues(trans.Type).Inc()
	log.Printf("[Ledger] 远端调用失败，流水标记为 partial: transactionNo=%s, err=%v", trans.TransactionNo, remoteErr)

	err := s.transactionRepo.MarkStatus(ctx, trans, model.TransactionStatusPartial, map[string]interface{}{
		"remoteError": remoteErr.Error(),
	})
	if err != nil {
		log.Printf("[Ledger] 标记 partial 失败: transactionNo=%s, err=%v", trans.TransactionNo, err)
	}
}
