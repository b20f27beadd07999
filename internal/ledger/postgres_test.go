package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/tokenomics"
)

func newMockGateway(t *testing.T) (*PostgresGateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresGatewayFromDB(db, nil, nil), mock
}

func TestEnsureBalance_FirstSightCreatesWelcomeDeposit(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO balances").
		WithArgs("acct-1", int64(tokenomics.WelcomeAmount)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := g.EnsureBalance(ctx, "acct-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureBalance_AlreadyExistsSkipsWelcomeDeposit(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO balances").
		WithArgs("acct-1", int64(tokenomics.WelcomeAmount)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := g.EnsureBalance(ctx, "acct-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalance_EnsuresThenReads(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO balances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"mule_micros"}).AddRow(int64(2_500_000))
	mock.ExpectQuery("SELECT mule_micros FROM balances").
		WithArgs("acct-1").
		WillReturnRows(rows)

	bal, err := g.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, bal.Float64())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_SelfServiceRecordsWithoutBalanceMovement(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := g.Settle(ctx, "acct-1", "acct-1", "mistral:7b", classifier.TierMedium,
		Usage{TotalTokens: 300}, Performance{DurationSeconds: 1, TokensPerSecond: 300})
	require.NoError(t, err)
	assert.Equal(t, KindSelfService, result.Transaction.Kind)
	assert.Equal(t, tokenomics.Mule(0), result.ConsumerCost)
	assert.True(t, result.Transaction.MuleAmount > 0, "transaction still records the computed usage amount")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_ZeroUsageSkipsBalanceMoves(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := g.Settle(ctx, "consumer", "provider", "mistral:7b", classifier.TierMedium,
		Usage{TotalTokens: 0}, Performance{})
	require.NoError(t, err)
	assert.Equal(t, tokenomics.Mule(0), result.Transaction.MuleAmount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_AnonymousProviderDebitsConsumerOnly(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := g.Settle(ctx, "consumer", "", "mistral:7b", classifier.TierMedium,
		Usage{TotalTokens: 300}, Performance{})
	require.NoError(t, err)
	assert.Equal(t, tokenomics.Mule(0), result.ProviderEarnings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_NormalConsumptionDebitsCreditsAndRecordsAtomically(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := g.Settle(ctx, "consumer", "provider", "mistral:7b", classifier.TierMedium,
		Usage{PromptTokens: 100, CompletionTokens: 200, TotalTokens: 300},
		Performance{DurationSeconds: 3, TokensPerSecond: 100})
	require.NoError(t, err)
	assert.Equal(t, tokenomics.TokensToMules(300, classifier.TierMedium), result.Transaction.MuleAmount)
	assert.Equal(t, tokenomics.ProviderEarnings(result.Transaction.MuleAmount), result.ProviderEarnings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_CommitFailureIsReconciledNotSwallowed(t *testing.T) {
	g, mock := newMockGateway(t)
	ctx := context.Background()

	recorder := &recordingReconciler{}
	g.recon = recorder

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE balances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(assertErr{"boom"})

	_, err := g.Settle(ctx, "consumer", "provider", "mistral:7b", classifier.TierMedium,
		Usage{TotalTokens: 300}, Performance{})
	require.Error(t, err)
	assert.Len(t, recorder.entries, 1)
}

type recordingReconciler struct {
	entries []ReconciliationEntry
}

func (r *recordingReconciler) Reconcile(_ context.Context, entry ReconciliationEntry) {
	r.entries = append(r.entries, entry)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
