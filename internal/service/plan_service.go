package service

import (
	"context"
	"fmt"

	"creditsync/internal/config"
	"creditsync/internal/credit"
	"creditsync/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type PlanService struct {
	backend AccountBackend
	ledger  *LedgerService
}

func NewPlanService(db *gorm.DB, redisClient *redis.Client, accountBackend AccountBackend, cfg *config.Config) *PlanService {
	return &PlanService{
		backend: accountBackend,
		ledger:  NewLedgerService(db, redisClient, cfg),
	}
}

type PlanChangeResult struct {
	PreviousPlan  string `json:"previousPlan"`
	Plan          string `json:"plan"`
	BackendPlan   string `json:"backendPlan"`
	Credits       int64  `json:"credits"`
	TransactionNo string `json:"transactionNo,omitempty"`
	// Partial 本地已生效，远端同步失败
	Partial bool `json:"partial,omitempty"`
}

// ChangePlan 修改用户套餐，欠费期间拒绝
func (s *PlanService) ChangePlan(ctx context.Context, userID int64, plan, trigger string) (*PlanChangeResult, error) {
	plan, ok := credit.ParsePlan(plan)
	if !ok {
		return nil, ErrInvalidPlan
	}

	return s.apply(ctx, Entry{
		UserID:      userID,
		Type:        model.TransactionTypePlanChange,
		Description: fmt.Sprintf("套餐变更为 %s", plan),
		Plan:        plan,
		Metadata:    map[string]interface{}{"backendPlan": credit.MapPlan(plan)},
		EventType:   model.LedgerEventPlanChanged,
		Trigger:     trigger,
	})
}

// DebugSubscription 调试用：直接开通订阅并发放额度，同时推送到远端
func (s *PlanService) DebugSubscription(ctx context.Context, userID int64, plan string, credits int64) (*PlanChangeResult, error) {
	plan, ok := credit.ParsePlan(plan)
	if !ok {
		return nil, ErrInvalidPlan
	}
	if credits < 0 {
		return nil, ErrInvalidAmount
	}

	return s.apply(ctx, Entry{
		UserID:             userID,
		Type:               model.TransactionTypeDebugSubscription,
		Amount:             credits,
		Description:        fmt.Sprintf("调试订阅 %s，发放额度 %d", plan, credits),
		Plan:               plan,
		SubscriptionStatus: model.SubscriptionActive,
		Metadata:           map[string]interface{}{"backendPlan": credit.MapPlan(plan)},
		EventType:          model.LedgerEventCreditGranted,
		Trigger:            "debug",
	})
}

func (s *PlanService) apply(ctx context.Context, entry Entry) (*PlanChangeResult, error) {
	var result *PlanChangeResult
	err := s.ledger.WithUserLock(ctx, entry.UserID, func() error {
		applied, err := s.ledger.Apply(ctx, entry)
		if err != nil {
			return err
		}

		result = &PlanChangeResult{
			PreviousPlan: applied.User.Plan,
			Plan:         entry.Plan,
			BackendPlan:  credit.MapPlan(entry.Plan),
			Credits:      applied.NewBalance,
		}
		if applied.Transaction != nil {
			result.TransactionNo = applied.Transaction.TransactionNo
		}

		accountID, linked := applied.User.BackendAccountID()
		if !linked {
			return nil
		}

		calls := []RemoteCall{func(ctx context.Context) error {
			return s.backend.UpdatePlan(ctx, accountID, result.BackendPlan)
		}}
		if entry.Amount > 0 {
			calls = append(calls, func(ctx context.Context) error {
				return s.backend.UpdateCredits(ctx, accountID, entry.Amount, entry.Description)
			})
		}
		if err := s.ledger.PushRemote(ctx, applied, calls...); err != nil {
			result.Partial = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
