package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/rnaseq_go_server/internal/model"
	"github.com/qs3c/rnaseq_go_server/internal/testutil"
)

func TestUserRepository_ChargeCredits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db, testutil.WithCredits(30))

	jobID := int64(7)
	require.NoError(t, repo.ChargeCredits(user.ID, 10, &jobID, "bulk_downstream 分析"))

	got, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.CreditBalance)

	// 流水记录负数金额和扣费后余额
	txns, err := repo.ListTransactions(user.ID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.CreditTxnCharge, txns[0].Type)
	assert.Equal(t, -10, txns[0].Amount)
	assert.Equal(t, 20, txns[0].BalanceAfter)
	require.NotNil(t, txns[0].JobID)
	assert.Equal(t, jobID, *txns[0].JobID)
}

func TestUserRepository_ChargeCredits_Insufficient(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db, testutil.WithCredits(5))

	err := repo.ChargeCredits(user.ID, 10, nil, "bulk_downstream 分析")
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// 余额不足时事务回滚，不产生流水
	got, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CreditBalance)

	txns, err := repo.ListTransactions(user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestUserRepository_AddCredits_Refund(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db, testutil.WithCredits(20))

	jobID := int64(3)
	require.NoError(t, repo.AddCredits(user.ID, 10, model.CreditTxnRefund, &jobID, "任务 3 未完成退款"))

	got, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.CreditBalance)

	txns, err := repo.ListTransactions(user.ID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.CreditTxnRefund, txns[0].Type)
	assert.Equal(t, 10, txns[0].Amount)
}

func TestUserRepository_AddCredits_ZeroAmountNoop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db, testutil.WithCredits(20))
	require.NoError(t, repo.AddCredits(user.ID, 0, model.CreditTxnGrant, nil, ""))

	txns, err := repo.ListTransactions(user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestUserRepository_ListUsersForDailyGrant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewUserRepository(db)

	stale := testutil.TestUser(t, db)
	fresh := testutil.TestUser(t, db)
	require.NoError(t, repo.MarkGranted(fresh.ID, time.Now()))

	cutoff := time.Now().Add(-24 * time.Hour)
	ids, err := repo.ListUsersForDailyGrant(cutoff)
	require.NoError(t, err)
	assert.Contains(t, ids, stale.ID)
	assert.NotContains(t, ids, fresh.ID)
}
