package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malipo/orchestrator/internal/domain"
	"github.com/malipo/orchestrator/internal/repository"
)

type countingDispatcher struct {
	calls int
	last  *domain.Transaction
}

func (d *countingDispatcher) OnSuccess(_ context.Context, tx *domain.Transaction) {
	d.calls++
	d.last = tx
}

type countingPublisher struct {
	events []domain.TransactionStatus
}

func (p *countingPublisher) PublishStatus(_ context.Context, tx *domain.Transaction) {
	p.events = append(p.events, tx.Status)
}

func newFixture(t *testing.T) (*Service, *repository.TransactionRepo, *countingDispatcher, *countingPublisher) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	txns := repository.NewTransactionRepo(db)
	disp := &countingDispatcher{}
	pub := &countingPublisher{}
	return NewService(txns, disp, pub), txns, disp, pub
}

func seedPending(t *testing.T, txns *repository.TransactionRepo, id string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, txns.Insert(&domain.Transaction{
		ID:        id,
		OwnerUID:  "m1",
		Processor: domain.ProcessorMpesa,
		Amount:    decimal.NewFromInt(150),
		Currency:  "KES",
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestApplySuccessDispatchesOnce(t *testing.T) {
	svc, txns, disp, pub := newFixture(t)
	seedPending(t, txns, "tx-1")

	res := domain.NormalizedResult{
		Outcome:    domain.OutcomeSuccess,
		GatewayRef: "ABC123",
		RawPayload: []byte(`{"ResultCode":0}`),
	}
	require.NoError(t, svc.Apply(context.Background(), "tx-1", res))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, "ABC123", got.GatewayRef)

	assert.Equal(t, 1, disp.calls)
	require.NotNil(t, disp.last)
	assert.Equal(t, domain.StatusSuccess, disp.last.Status, "dispatcher sees the finalized row")
	assert.Equal(t, []domain.TransactionStatus{domain.StatusSuccess}, pub.events)
}

func TestApplyDuplicateDeliveryIsNoOp(t *testing.T) {
	svc, txns, disp, pub := newFixture(t)
	seedPending(t, txns, "tx-1")

	res := domain.NormalizedResult{Outcome: domain.OutcomeSuccess, GatewayRef: "ABC123"}
	require.NoError(t, svc.Apply(context.Background(), "tx-1", res))
	require.NoError(t, svc.Apply(context.Background(), "tx-1", res))
	require.NoError(t, svc.Apply(context.Background(), "tx-1", res))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)

	assert.Equal(t, 1, disp.calls, "side effects run exactly once")
	assert.Len(t, pub.events, 1, "status is published exactly once")
}

func TestApplyFailureAfterSuccessIgnored(t *testing.T) {
	svc, txns, disp, _ := newFixture(t)
	seedPending(t, txns, "tx-1")

	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomeSuccess, GatewayRef: "ABC123"}))
	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomeFailed, Reason: "insufficient funds"}))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status, "terminal state never moves again")
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, 1, disp.calls)
}

func TestApplyFailedNoSideEffects(t *testing.T) {
	svc, txns, disp, pub := newFixture(t)
	seedPending(t, txns, "tx-1")

	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomeFailed, Reason: "user canceled on prompt"}))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "user canceled on prompt", got.FailureReason)

	assert.Zero(t, disp.calls, "dispatcher only fires on success")
	assert.Equal(t, []domain.TransactionStatus{domain.StatusFailed}, pub.events)
}

func TestApplyCanceled(t *testing.T) {
	svc, txns, _, _ := newFixture(t)
	seedPending(t, txns, "tx-1")

	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomeCanceled, Reason: "request timed out"}))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestApplyPendingOutcomeLeavesTransactionOpen(t *testing.T) {
	svc, txns, disp, _ := newFixture(t)
	seedPending(t, txns, "tx-1")

	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomePending}))

	got, err := txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Zero(t, disp.calls)

	// A later terminal delivery still lands.
	require.NoError(t, svc.Apply(context.Background(), "tx-1",
		domain.NormalizedResult{Outcome: domain.OutcomeSuccess, GatewayRef: "ABC123"}))
	got, err = txns.GetByID("tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, 1, disp.calls)
}

func TestApplyUnknownTransactionAcknowledged(t *testing.T) {
	svc, _, disp, pub := newFixture(t)

	err := svc.Apply(context.Background(), "no-such-id",
		domain.NormalizedResult{Outcome: domain.OutcomeSuccess})
	assert.NoError(t, err, "unknown ids are acknowledged, not errored")
	assert.Zero(t, disp.calls)
	assert.Empty(t, pub.events)
}
