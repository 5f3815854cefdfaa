package service

import (
	"context"
	"testing"

	"creditsync/internal/model"
	"creditsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLinkAccountEnablesSync(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 0, 0)
	ops := NewOpsService(env.db, env.redis, env.backend, env.cfg)
	ctx := context.Background()

	assert.ErrorIs(t, ops.LinkAccount(ctx, user.ID, 0), ErrInvalidAccount)
	assert.ErrorIs(t, ops.LinkAccount(ctx, 999, 5), repository.ErrUserNotFound)
	require.NoError(t, ops.LinkAccount(ctx, user.ID, 5))

	accountID, ok := env.reload(t, user.ID).BackendAccountID()
	require.True(t, ok)
	assert.Equal(t, int64(5), accountID)
}

func TestReplayFailedWebhookEvent(t *testing.T) {
	env := newTestEnv(t)
	svc := NewWebhookService(env.db, env.redis, env.backend, env.cfg)
	ops := NewOpsService(env.db, env.redis, env.backend, env.cfg)
	ctx := context.Background()

	// 用户尚未创建，事件处理失败
	_, err := svc.Handle(ctx, paymentEvent("evt_1", "cs_1", 1, 300))
	require.Error(t, err)

	failed, err := ops.FailedWebhookEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_1", failed[0].EventID)

	user := env.seedUser(t, 0, 0)
	require.Equal(t, int64(1), user.ID)

	result, err := ops.ReplayWebhookEvent(ctx, model.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, result.Kind)
	assert.Equal(t, int64(300), env.reload(t, user.ID).Credits)

	trans, err := ops.GetTransaction(ctx, result.TransactionNo)
	require.NoError(t, err)
	require.NotNil(t, trans)
	assert.Equal(t, int64(300), trans.Amount)

	_, err = ops.ReplayWebhookEvent(ctx, model.ProviderStripe, "evt_1")
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	_, err = ops.ReplayWebhookEvent(ctx, model.ProviderStripe, "evt_missing")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	env.backend.AssertNotCalled(t, "CreateCreditPack", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequeueFailedOutbox(t *testing.T) {
	env := newTestEnv(t)
	ops := NewOpsService(env.db, env.redis, env.backend, env.cfg)
	ctx := context.Background()

	require.NoError(t, env.db.Create(&model.OutboxMessage{
		MessageKey: "1",
		EventType:  model.LedgerEventCreditSynced,
		Topic:      "credit_ledger",
		Payload:    `{}`,
		Status:     model.OutboxStatusFailed,
		RetryCount: 5,
	}).Error)

	n, err := ops.RequeueFailedOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list := env.outbox(t)
	require.Len(t, list, 1)
	assert.Equal(t, model.OutboxStatusPending, list[0].Status)
	assert.Equal(t, 0, list[0].RetryCount)
}
