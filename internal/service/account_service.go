package service

import (
	"context"
	"errors"
	"log"
	"time"

	"creditsync/internal/credit"
	"creditsync/internal/model"
	"creditsync/internal/repository"

	"gorm.io/gorm"
)

// 远端余额状态
const (
	BackendStatusOK            = "ok"
	BackendStatusUnavailable   = "unavailable"
	BackendStatusNotConfigured = "not_configured"
)

type AccountService struct {
	backend         AccountBackend
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	now             func() time.Time
}

func NewAccountService(db *gorm.DB, accountBackend AccountBackend) *AccountService {
	return &AccountService{
		backend:         accountBackend,
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		now:             time.Now,
	}
}

// BalanceView 余额视图
// 远端不可用时 Backend 为空、BackendStatus 为 unavailable，绝不以 0 代替
type BalanceView struct {
	Credits            int64               `json:"credits"`
	TotalCreditsEarned int64               `json:"totalCreditsEarned"`
	TotalCreditsSpent  int64               `json:"totalCreditsSpent"`
	Plan               string              `json:"plan"`
	SubscriptionStatus string              `json:"subscriptionStatus"`
	LastSyncedAt       *time.Time          `json:"lastSyncedAt,omitempty"`
	BackendStatus      string              `json:"backendStatus"`
	Backend            *credit.BalanceInfo `json:"backend,omitempty"`
}

func (s *AccountService) GetBalance(ctx context.Context, userID int64) (*BalanceView, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	view := &BalanceView{
		Credits:            user.Credits,
		TotalCreditsEarned: user.TotalCreditsEarned,
		TotalCreditsSpent:  user.TotalCreditsSpent,
		Plan:               user.Plan,
		SubscriptionStatus: user.SubscriptionStatus,
		LastSyncedAt:       user.Prefs().BackendSyncedAt,
		BackendStatus:      BackendStatusNotConfigured,
	}

	accountID, ok := user.BackendAccountID()
	if !ok {
		return view, nil
	}

	wallet, err := s.backend.GetWallet(ctx, accountID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Printf("[Account] 查询远端余额失败: userID=%d, accountID=%d, err=%v", userID, accountID, err)
		view.BackendStatus = BackendStatusUnavailable
		return view, nil
	}

	balance := wallet.Balance(s.now())
	view.Backend = &balance
	view.BackendStatus = BackendStatusOK
	return view, nil
}

const maxPageSize = 100

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}
