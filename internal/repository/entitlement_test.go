package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampstand/entitlements/internal/model"
)

var entitlementRowColumns = []string{
	"user_id", "is_paid", "payment_active", "daily_credits", "credits_reset_on",
	"ignore_credit_phase1", "subscription_id", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithDB(mock), mock
}

func TestConsumeCredit_Decrements(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())

	mock.ExpectQuery("UPDATE entitlements").
		WithArgs("u1", today, 5).
		WillReturnRows(mock.NewRows([]string{"daily_credits"}).AddRow(4))

	remaining, ok, err := repo.ConsumeCredit(context.Background(), "u1", today, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredit_NoRowMeansNotConsumed(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())

	mock.ExpectQuery("UPDATE entitlements").
		WithArgs("u1", today, 5).
		WillReturnRows(mock.NewRows([]string{"daily_credits"}))

	remaining, ok, err := repo.ConsumeCredit(context.Background(), "u1", today, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCredit_DatabaseError(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())
	dbErr := errors.New("connection reset")

	mock.ExpectQuery("UPDATE entitlements").
		WithArgs("u1", today, 5).
		WillReturnError(dbErr)

	_, ok, err := repo.ConsumeCredit(context.Background(), "u1", today, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, ok)
}

func TestGetEntitlement_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM entitlements WHERE user_id").
		WithArgs("ghost").
		WillReturnRows(mock.NewRows(entitlementRowColumns))

	_, err := repo.GetEntitlement(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrEntitlementNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTarget_ReturnsRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())
	now := time.Now().UTC()

	mock.ExpectQuery("ON CONFLICT \\(user_id\\) DO UPDATE SET").
		WithArgs("u2", true, true, "sub_1", 5, today).
		WillReturnRows(mock.NewRows(entitlementRowColumns).
			AddRow("u2", true, true, 3, today, false, "sub_1", now, now))

	e, err := repo.ApplyTarget(context.Background(), "u2", model.Target{
		IsPaid:         true,
		PaymentActive:  true,
		SubscriptionID: "sub_1",
	}, today, 5)
	require.NoError(t, err)
	assert.True(t, e.IsPaid)
	assert.Equal(t, "sub_1", e.SubscriptionID)
	assert.Equal(t, 3, e.DailyCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureEntitlement_InsertsDefaults(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())

	mock.ExpectExec("ON CONFLICT \\(user_id\\) DO NOTHING").
		WithArgs("u3", 5, today).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.EnsureEntitlement(context.Background(), "u3", today, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetDailyCredits_ReportsRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	today := model.Day(time.Now())

	mock.ExpectExec("UPDATE entitlements").
		WithArgs(today, 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 42))

	n, err := repo.ResetDailyCredits(context.Background(), today, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestInsertCreditUsage(t *testing.T) {
	repo, mock := newMockRepo(t)
	remaining := 4
	usage := &model.CreditUsage{
		ID:         "01HZX0000000000000000000AA",
		UserID:     "u3",
		ActionType: model.ActionNotesViewed,
		Remaining:  &remaining,
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO credit_usage").
		WithArgs(usage.ID, "u3", "notes_viewed", false, usage.Remaining, usage.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.InsertCreditUsage(context.Background(), usage))
	assert.NoError(t, mock.ExpectationsWereMet())
}
