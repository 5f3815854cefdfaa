package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/model"
	"creditsync/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestApplySyncDeltaCorrectness(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 100, 7)

	trans, err := ledger.ApplySync(context.Background(), SyncEntry{
		UserID:           user.ID,
		BackendAccountID: 7,
		PreviousBalance:  100,
		NewBalance:       130,
		ExpectedVersion:  user.Version,
		Trigger:          TriggerManual,
		SyncedAt:         time.Now(),
	})
	require.NoError(t, err)
	require.NotNil(t, trans)

	assert.Equal(t, int64(30), trans.Amount)
	assert.Equal(t, model.TransactionTypeSyncAdd, trans.Type)
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)

	got := env.reload(t, user.ID)
	assert.Equal(t, int64(130), got.Credits)
	assert.Equal(t, int64(30), got.TotalCreditsEarned)
	assert.Equal(t, int64(0), got.TotalCreditsSpent)
	assert.NotNil(t, got.Prefs().BackendSyncedAt)

	list := env.transactions(t, user.ID)
	require.Len(t, list, 1)
	assert.EqualValues(t, 100, list[0].Metadata["previousBalance"])
	assert.EqualValues(t, 130, list[0].Metadata["newBalance"])
	assert.EqualValues(t, 7, list[0].Metadata["backendAccountId"])
	assert.Equal(t, TriggerManual, list[0].Metadata["trigger"])

	msgs := env.outbox(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.LedgerEventCreditSynced, msgs[0].EventType)
	assert.Equal(t, "credit_ledger", msgs[0].Topic)
}

func TestApplySyncDeduct(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 1500, 7)

	trans, err := ledger.ApplySync(context.Background(), SyncEntry{
		UserID:          user.ID,
		PreviousBalance: 1500,
		NewBalance:      1300,
		ExpectedVersion: user.Version,
		SyncedAt:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeSyncDeduct, trans.Type)
	assert.Equal(t, int64(-200), trans.Amount)

	got := env.reload(t, user.ID)
	assert.Equal(t, int64(1300), got.Credits)
	assert.Equal(t, int64(200), got.TotalCreditsSpent)
}

func TestApplySyncZeroDiffWritesNoTransaction(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 500, 7)

	trans, err := ledger.ApplySync(context.Background(), SyncEntry{
		UserID:          user.ID,
		PreviousBalance: 500,
		NewBalance:      500,
		ExpectedVersion: user.Version,
		SyncedAt:        time.Now(),
	})
	require.NoError(t, err)
	assert.Nil(t, trans)
	assert.Empty(t, env.transactions(t, user.ID))
	assert.NotNil(t, env.reload(t, user.ID).Prefs().BackendSyncedAt)
}

func TestApplySyncStaleSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 100, 7)

	_, err := ledger.ApplySync(context.Background(), SyncEntry{
		UserID:          user.ID,
		PreviousBalance: 90,
		NewBalance:      130,
		ExpectedVersion: user.Version,
		SyncedAt:        time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrBalanceConflict)
	assert.Equal(t, int64(100), env.reload(t, user.ID).Credits)
	assert.Empty(t, env.transactions(t, user.ID))
}

func TestApplySyncIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 100, 7)

	// 余额已更新之后流水写入失败
	err := env.db.Callback().Create().Before("gorm:create").Register("test:fail_transaction", func(tx *gorm.DB) {
		if tx.Statement.Table == "credit_transaction" {
			tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	_, err = ledger.ApplySync(context.Background(), SyncEntry{
		UserID:          user.ID,
		PreviousBalance: 100,
		NewBalance:      130,
		ExpectedVersion: user.Version,
		SyncedAt:        time.Now(),
	})
	require.Error(t, err)

	got := env.reload(t, user.ID)
	assert.Equal(t, int64(100), got.Credits)
	assert.Equal(t, user.Version, got.Version)
	assert.Equal(t, int64(0), got.TotalCreditsEarned)
	assert.Nil(t, got.Prefs().BackendSyncedAt)
	assert.Empty(t, env.transactions(t, user.ID))
	assert.Empty(t, env.outbox(t))
}

func TestApplySyncStorageUnavailable(t *testing.T) {
	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	mockDB.ExpectBegin().WillReturnError(errors.New("connection refused"))

	ledger := NewLedgerService(db, nil, &config.Config{})
	_, err = ledger.ApplySync(context.Background(), SyncEntry{
		UserID:          1,
		PreviousBalance: 100,
		NewBalance:      130,
		SyncedAt:        time.Now(),
	})
	assert.Error(t, err)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestApplyGrantRejectsDuplicateGatewayTxn(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 0, 0)
	ctx := context.Background()

	entry := Entry{
		UserID:       user.ID,
		Type:         model.TransactionTypePurchase,
		Amount:       500,
		GatewayTxnID: "pi_1",
	}
	result, err := ledger.Apply(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.PreviousBalance)
	assert.Equal(t, int64(500), result.NewBalance)

	_, err = ledger.Apply(ctx, entry)
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	got := env.reload(t, user.ID)
	assert.Equal(t, int64(500), got.Credits)
	assert.Equal(t, int64(500), got.TotalCreditsEarned)
	assert.Len(t, env.transactions(t, user.ID), 1)
}

func TestApplyValidatesEntry(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	user := env.seedUser(t, 0, 0)
	ctx := context.Background()

	_, err := ledger.Apply(ctx, Entry{UserID: user.ID, Amount: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ledger.Apply(ctx, Entry{UserID: user.ID, SubscriptionStatus: model.SubscriptionPastDue})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ledger.Apply(ctx, Entry{UserID: 999, Amount: 1})
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestWithUserLockSerializes(t *testing.T) {
	env := newTestEnv(t)
	ledger := NewLedgerService(env.db, env.redis, env.cfg)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- ledger.WithUserLock(ctx, 1, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	locked, err := env.redis.Exists(ctx, "credit:lock:user:1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), locked)

	close(release)
	require.NoError(t, <-done)

	locked, err = env.redis.Exists(ctx, "credit:lock:user:1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), locked)
}
