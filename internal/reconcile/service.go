// Package reconcile owns the transaction state machine: pending moves to
// exactly one of success, failed, or canceled, and never moves again.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/malipo/orchestrator/internal/domain"
	"github.com/malipo/orchestrator/internal/repository"
	"github.com/malipo/orchestrator/pkg/metrics"
)

// Dispatcher reacts to a transaction that just reached success. It is a
// separate failure domain: nothing it does can affect the already
// persisted transition.
type Dispatcher interface {
	OnSuccess(ctx context.Context, tx *domain.Transaction)
}

// Publisher emits transaction status events. Best effort.
type Publisher interface {
	PublishStatus(ctx context.Context, tx *domain.Transaction)
}

// Service applies normalized gateway results to persisted transactions.
type Service struct {
	txns       *repository.TransactionRepo
	dispatcher Dispatcher
	publisher  Publisher
}

func NewService(txns *repository.TransactionRepo, dispatcher Dispatcher, publisher Publisher) *Service {
	return &Service{txns: txns, dispatcher: dispatcher, publisher: publisher}
}

// Apply runs one status transition for a callback delivery. The returned
// error is for logging only: whatever happens here, the HTTP layer must
// still acknowledge the gateway with a success response, because a
// non-2xx would trigger aggressive gateway retries and those retries are
// the only path to duplicate side effects. Idempotency lives in the
// terminal-state check and the conditional update underneath, which
// makes the always-acknowledge contract safe.
func (s *Service) Apply(ctx context.Context, transactionID string, res domain.NormalizedResult) error {
	tx, err := s.txns.GetByID(transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		// Normal for validation-only callbacks and for ids that were
		// never ours. Acknowledge and move on.
		log.Printf("[reconcile] callback for unknown transaction %s, ignoring", transactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", transactionID, err)
	}

	if tx.Status.Terminal() {
		// Re-delivery. Keep the newest payload for audit, run no side
		// effects, touch no counters.
		log.Printf("[reconcile] transaction %s already %s, treating %s delivery as no-op",
			tx.ID, tx.Status, res.Outcome)
		metrics.IncCallback(string(tx.Processor), "redelivery")
		if err := s.txns.RecordRedelivery(tx.ID, res.RawPayload); err != nil {
			return fmt.Errorf("record redelivery for %s: %w", tx.ID, err)
		}
		return nil
	}

	if err := s.txns.Finalize(tx.ID, &res); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race to a concurrent delivery: exactly one
			// delivery wins the conditional update, this one takes the
			// no-op path.
			log.Printf("[reconcile] transaction %s finalized concurrently, treating as re-delivery", tx.ID)
			metrics.IncCallback(string(tx.Processor), "conflict")
			return s.txns.RecordRedelivery(tx.ID, res.RawPayload)
		}
		return fmt.Errorf("finalize %s: %w", tx.ID, err)
	}

	newStatus := res.Outcome.Status()
	log.Printf("[reconcile] transaction %s: pending -> %s (gateway_ref=%s)",
		tx.ID, newStatus, res.GatewayRef)
	metrics.IncCallback(string(tx.Processor), string(res.Outcome))

	updated, err := s.txns.GetByID(tx.ID)
	if err != nil {
		return fmt.Errorf("reload %s: %w", tx.ID, err)
	}

	if s.publisher != nil {
		s.publisher.PublishStatus(ctx, updated)
	}

	if newStatus == domain.StatusSuccess && s.dispatcher != nil {
		// Side effects are best effort; the persisted status is already
		// the authoritative outcome.
		s.dispatcher.OnSuccess(ctx, updated)
	}
	return nil
}
