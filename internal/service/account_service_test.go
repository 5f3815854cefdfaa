package service

import (
	"context"
	"fmt"
	"testing"

	"creditsync/internal/infrastructure/backend"
	"creditsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAccountService(env.db, env.backend)
	ctx := context.Background()

	linked := env.seedUser(t, 1200, 7)
	env.backend.On("GetWallet", mock.Anything, int64(7)).Return(walletOf(7, 500, activePack(1000, 200)), nil)

	view, err := svc.GetBalance(ctx, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, BackendStatusOK, view.BackendStatus)
	assert.Equal(t, int64(1200), view.Credits)
	require.NotNil(t, view.Backend)
	assert.Equal(t, int64(1300), view.Backend.AvailableUnits)

	unlinked := env.seedUser(t, 50, 0)
	view, err = svc.GetBalance(ctx, unlinked.ID)
	require.NoError(t, err)
	assert.Equal(t, BackendStatusNotConfigured, view.BackendStatus)
	assert.Nil(t, view.Backend)
}

func TestGetBalanceBackendUnavailableIsNotZero(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAccountService(env.db, env.backend)

	user := env.seedUser(t, 1200, 9)
	env.backend.On("GetWallet", mock.Anything, int64(9)).Return(nil, backend.ErrUnavailable)

	view, err := svc.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, BackendStatusUnavailable, view.BackendStatus)
	assert.Nil(t, view.Backend)
	assert.Equal(t, int64(1200), view.Credits)
}

func TestListTransactionsClampsPaging(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAccountService(env.db, env.backend)
	user := env.seedUser(t, 0, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.db.Create(&model.Transaction{
			TransactionNo: fmt.Sprintf("TXN%d", i),
			UserID:        user.ID,
			Type:          model.TransactionTypeSyncAdd,
			Amount:        1,
			Status:        model.TransactionStatusCompleted,
		}).Error)
	}

	list, total, err := svc.ListTransactions(context.Background(), user.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 3)

	list, _, err = svc.ListTransactions(context.Background(), user.ID, 2, 1000)
	require.NoError(t, err)
	assert.Empty(t, list)
}
