package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/credit"
	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/metrics"
	"creditsync/internal/model"
	"creditsync/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// AccountBackend 远端账户服务
type AccountBackend interface {
	GetWallet(ctx context.Context, accountID int64) (*backend.AccountWallet, error)
	UpdatePlan(ctx context.Context, accountID int64, plan string) error
	CreateCreditPack(ctx context.Context, accountID int64, capacity int64, description, packType string) error
	UpdateCredits(ctx context.Context, accountID int64, amount int64, description string) error
}

const (
	TriggerManual  = "manual"
	TriggerForce   = "force"
	TriggerStale   = "stale"
	TriggerCommand = "command"
)

type SyncService struct {
	cfg      *config.Config
	backend  AccountBackend
	userRepo *repository.UserRepository
	ledger   *LedgerService
	now      func() time.Time
}

func NewSyncService(db *gorm.DB, redisClient *redis.Client, accountBackend AccountBackend, cfg *config.Config) *SyncService {
	return &SyncService{
		cfg:      cfg,
		backend:  accountBackend,
		userRepo: repository.NewUserRepository(db),
		ledger:   NewLedgerService(db, redisClient, cfg),
		now:      time.Now,
	}
}

// SyncStatus 同步状态查询结果，只读，不写任何数据
type SyncStatus struct {
	BackendAccountID int64              `json:"backendAccountId"`
	CurrentCredits   int64              `json:"currentCredits"`
	BackendCredits   int64              `json:"backendCredits"`
	SyncRequired     bool               `json:"syncRequired"`
	CreditDifference int64              `json:"creditDifference"`
	DriftDetected    bool               `json:"driftDetected"`
	LastSyncedAt     *time.Time         `json:"lastSyncedAt,omitempty"`
	Balance          credit.BalanceInfo `json:"balance"`
}

// SyncResult 同步结果，Synced 为 false 表示本地与远端已一致
type SyncResult struct {
	Synced           bool      `json:"-"`
	PreviousCredits  int64     `json:"previousCredits"`
	NewCredits       int64     `json:"newCredits"`
	CreditDifference int64     `json:"creditDifference"`
	SyncedAt         time.Time `json:"syncedAt"`
	DriftDetected    bool      `json:"driftDetected"`
	TransactionNo    string    `json:"transactionNo,omitempty"`
}

func (s *SyncService) linkedUser(ctx context.Context, userID int64) (*model.UserProfile, int64, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, 0, err
	}
	accountID, ok := user.BackendAccountID()
	if !ok {
		return user, 0, ErrNotConfigured
	}
	return user, accountID, nil
}

// fetchBalance 查询远端余额，失败时余额未知，统一返回 ErrBackendUnavailable
func (s *SyncService) fetchBalance(ctx context.Context, accountID int64) (credit.BalanceInfo, error) {
	wallet, err := s.backend.GetWallet(ctx, accountID)
	if err != nil {
		return credit.BalanceInfo{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	balance := wallet.Balance(s.now())
	for _, anomaly := range balance.Anomalies {
		log.Printf("[Sync] 远端余额数据异常: accountID=%d, %s", accountID, anomaly)
	}
	return balance, nil
}

// GetSyncStatus 对比本地与远端余额
func (s *SyncService) GetSyncStatus(ctx context.Context, userID int64) (*SyncStatus, error) {
	user, accountID, err := s.linkedUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.fetchBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	decision := credit.Decide(balance.AvailableUnits, user.Credits, false)
	return &SyncStatus{
		BackendAccountID: accountID,
		CurrentCredits:   user.Credits,
		BackendCredits:   balance.AvailableUnits,
		SyncRequired:     decision.SyncRequired,
		CreditDifference: decision.CreditsDiff,
		DriftDetected:    decision.DriftDetected,
		LastSyncedAt:     user.Prefs().BackendSyncedAt,
		Balance:          balance,
	}, nil
}

// Sync 以远端余额为准更新本地余额
//
// 流程：读取用户 -> 用户锁 -> 查询远端 -> 计算余额 -> 决策 -> 写账
// CAS 冲突时重新读取本地余额并重新决策，不会重放旧差额
func (s *SyncService) Sync(ctx context.Context, userID int64, force bool, trigger string) (*SyncResult, error) {
	_, accountID, err := s.linkedUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			metrics.SyncTotal.WithLabelValues("not_configured").Inc()
		}
		return nil, err
	}

	var result *SyncResult
	err = s.ledger.WithUserLock(ctx, userID, func() error {
		balance, err := s.fetchBalance(ctx, accountID)
		if err != nil {
			metrics.SyncTotal.WithLabelValues("unavailable").Inc()
			return err
		}

		for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
			result, err = s.syncOnce(ctx, userID, accountID, balance, force, trigger)
			if !errors.Is(err, repository.ErrBalanceConflict) {
				return err
			}
			log.Printf("[Sync] 余额并发冲突，重新读取: userID=%d, attempt=%d", userID, attempt)
		}
		metrics.SyncTotal.WithLabelValues("conflict").Inc()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SyncService) syncOnce(ctx context.Context, userID, accountID int64, balance credit.BalanceInfo, force bool, trigger string) (*SyncResult, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	decision := credit.Decide(balance.AvailableUnits, user.Credits, force)
	metrics.SyncDrift.Observe(float64(credit.Drift(balance.AvailableUnits, user.Credits)))

	if !decision.SyncRequired {
		metrics.SyncTotal.WithLabelValues("in_sync").Inc()
		return &SyncResult{
			PreviousCredits: user.Credits,
			NewCredits:      user.Credits,
		}, nil
	}

	if decision.DriftDetected {
		log.Printf("[Sync] 检测到余额漂移: userID=%d, local=%d, backend=%d", userID, user.Credits, balance.AvailableUnits)
	}

	syncedAt := s.now()
	trans, err := s.ledger.ApplySync(ctx, SyncEntry{
		UserID:           userID,
		BackendAccountID: accountID,
		PreviousBalance:  user.Credits,
		NewBalance:       balance.AvailableUnits,
		ExpectedVersion:  user.Version,
		Trigger:          trigger,
		SyncedAt:         syncedAt,
	})
	if err != nil {
		if !errors.Is(err, repository.ErrBalanceConflict) {
			metrics.SyncTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.SyncTotal.WithLabelValues("synced").Inc()
	result := &SyncResult{
		Synced:           true,
		PreviousCredits:  user.Credits,
		NewCredits:       balance.AvailableUnits,
		CreditDifference: decision.CreditsDiff,
		SyncedAt:         syncedAt,
		DriftDetected:    decision.DriftDetected,
	}
	if trans != nil {
		result.TransactionNo = trans.TransactionNo
	}
	return result, nil
}

// SyncStale 重新同步超过 olderThan 未同步的已关联用户，返回成功同步的用户数
// limit 限制单次处理的用户数，单个用户失败只记日志
func (s *SyncService) SyncStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	const batchSize = 100
	deadline := s.now().Add(-olderThan)

	var (
		afterID int64
		synced  int
		checked int
	)
	for checked < limit {
		users, err := s.userRepo.ListAfter(ctx, afterID, batchSize)
		if err != nil {
			return synced, fmt.Errorf("查询用户失败: %w", err)
		}
		if len(users) == 0 {
			break
		}

		for _, user := range users {
			afterID = user.ID
			if _, ok := user.BackendAccountID(); !ok {
				continue
			}
			if last := user.Prefs().BackendSyncedAt; last != nil && last.After(deadline) {
				continue
			}
			if checked >= limit {
				break
			}
			checked++

			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			// 强制同步，即使余额一致也刷新同步时间
			if _, err := s.Sync(ctx, user.ID, true, TriggerStale); err != nil {
				log.Printf("[Sync] 定时同步失败: userID=%d, err=%v", user.ID, err)
				continue
			}
			synced++
		}
	}
	return synced, nil
}
