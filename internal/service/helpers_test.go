package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/credit"
	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/infrastructure/database"
	"creditsync/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetWallet(ctx context.Context, accountID int64) (*backend.AccountWallet, error) {
	args := m.Called(ctx, accountID)
	w, _ := args.Get(0).(*backend.AccountWallet)
	return w, args.Error(1)
}

func (m *mockBackend) UpdatePlan(ctx context.Context, accountID int64, plan string) error {
	return m.Called(ctx, accountID, plan).Error(0)
}

func (m *mockBackend) CreateCreditPack(ctx context.Context, accountID int64, capacity int64, description, packType string) error {
	return m.Called(ctx, accountID, capacity, description, packType).Error(0)
}

func (m *mockBackend) UpdateCredits(ctx context.Context, accountID int64, amount int64, description string) error {
	return m.Called(ctx, accountID, amount, description).Error(0)
}

type testEnv struct {
	db      *gorm.DB
	redis   *redis.Client
	cfg     *config.Config
	backend *mockBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &testEnv{
		db:    db,
		redis: client,
		cfg: &config.Config{
			Kafka:    config.KafkaConfig{Topic: config.KafkaTopicConfig{Ledger: "credit_ledger"}},
			Business: config.BusinessConfig{SyncLockTTL: 5 * time.Second},
		},
		backend: &mockBackend{},
	}
}

var userSeq int64

// seedUser 创建用户，accountID 为 0 表示未关联远端账户
func (e *testEnv) seedUser(t *testing.T, credits, accountID int64) *model.UserProfile {
	t.Helper()
	user := &model.UserProfile{
		Email:   fmt.Sprintf("%s-%d@example.com", t.Name(), atomic.AddInt64(&userSeq, 1)),
		Credits: credits,
	}
	if accountID > 0 {
		user.Preferences = datatypes.NewJSONType(model.Preferences{BackendAccountID: &accountID})
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) reload(t *testing.T, userID int64) *model.UserProfile {
	t.Helper()
	var user model.UserProfile
	require.NoError(t, e.db.First(&user, userID).Error)
	return &user
}

func (e *testEnv) transactions(t *testing.T, userID int64) []model.Transaction {
	t.Helper()
	var list []model.Transaction
	require.NoError(t, e.db.Where("user_id = ?", userID).Order("id ASC").Find(&list).Error)
	return list
}

func (e *testEnv) outbox(t *testing.T) []model.OutboxMessage {
	t.Helper()
	var list []model.OutboxMessage
	require.NoError(t, e.db.Order("id ASC").Find(&list).Error)
	return list
}

func walletOf(accountID, pointRemain int64, packs ...credit.CreditPack) *backend.AccountWallet {
	return &backend.AccountWallet{
		AccountID: accountID,
		Wallet:    credit.Wallet{PointRemain: pointRemain},
		Packs:     packs,
	}
}

func activePack(capacity, used int64) credit.CreditPack {
	return credit.CreditPack{ID: 1, Capacity: capacity, Used: used, Active: true}
}
