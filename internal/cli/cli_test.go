package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"creditsync/internal/config"
	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/infrastructure/database"
	"creditsync/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// useRuntime 把命令依赖替换成内存数据库、miniredis 与本地远端服务
func useRuntime(t *testing.T, backendHandler http.HandlerFunc) *gorm.DB {
	t.Helper()

	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	mr := miniredis.RunT(t)
	ts := httptest.NewServer(backendHandler)
	t.Cleanup(ts.Close)

	cfg := &config.Config{
		Backend:  config.BackendConfig{BaseURL: ts.URL, Timeout: time.Second, MaxAttempts: 1},
		Kafka:    config.KafkaConfig{Topic: config.KafkaTopicConfig{Ledger: "credit_ledger"}},
		Business: config.BusinessConfig{SyncLockTTL: 5 * time.Second, StaleSyncAge: time.Hour},
	}

	prev := OpenRuntime
	OpenRuntime = func(string) (*Runtime, error) {
		return &Runtime{
			Config:  cfg,
			DB:      db,
			Redis:   redis.NewClient(&redis.Options{Addr: mr.Addr()}),
			Backend: backend.NewClient(&cfg.Backend),
		}, nil
	}
	t.Cleanup(func() { OpenRuntime = prev })
	return db
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := Execute(context.Background(), args)
	return out.String(), err
}

func walletHandler(points int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"point_remain": ` + strconv.FormatInt(points, 10) + `, "point_frozen": 0, "point_used": 0}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestSyncCommand(t *testing.T) {
	db := useRuntime(t, walletHandler(1300))
	user := &model.UserProfile{Email: "cli-sync@example.com", Credits: 1200}
	require.NoError(t, db.Create(user).Error)
	uid := strconv.FormatInt(user.ID, 10)

	// 未关联远端账户
	_, err := run(t, "sync", "--user", uid)
	require.Error(t, err)

	_, err = run(t, "link", "--user", uid, "--account", "42")
	require.NoError(t, err)

	out, err := run(t, "sync", "--user", uid)
	require.NoError(t, err)
	assert.Contains(t, out, `"newCredits": 1300`)

	out, err = run(t, "sync", "--user", uid)
	require.NoError(t, err)
	assert.Contains(t, out, "已是最新余额")

	var reloaded model.UserProfile
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	assert.Equal(t, int64(1300), reloaded.Credits)
}

func TestSyncCommandRequiresUser(t *testing.T) {
	useRuntime(t, walletHandler(0))
	_, err := run(t, "sync", "--user", "0")
	assert.ErrorContains(t, err, "--user")
}

func TestPlanAndTxnCommands(t *testing.T) {
	db := useRuntime(t, walletHandler(0))
	user := &model.UserProfile{Email: "cli-plan@example.com"}
	require.NoError(t, db.Create(user).Error)
	uid := strconv.FormatInt(user.ID, 10)

	out, err := run(t, "plan", "--user", uid, "--plan", "pro")
	require.NoError(t, err)
	assert.Contains(t, out, `"backendPlan": "developer"`)

	var trans model.Transaction
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&trans).Error)

	out, err = run(t, "txn", trans.TransactionNo)
	require.NoError(t, err)
	assert.Contains(t, out, trans.TransactionNo)

	_, err = run(t, "txn", "TXN0")
	assert.Error(t, err)
}

func TestOutboxRequeueCommand(t *testing.T) {
	db := useRuntime(t, walletHandler(0))
	require.NoError(t, db.Create(&model.OutboxMessage{
		MessageKey: "1",
		Topic:      "credit_ledger",
		Payload:    `{}`,
		Status:     model.OutboxStatusFailed,
	}).Error)

	out, err := run(t, "outbox", "requeue")
	require.NoError(t, err)
	assert.Contains(t, out, "1 条")
}
