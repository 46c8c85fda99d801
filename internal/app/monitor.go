/**
 * @description
 * This file implements the balance-delta monitor: it compares each freshly
 * observed stablecoin balance against the stored watermark and, when the
 * deposit threshold is crossed, executes a yield-strategy deposit at most once
 * per qualifying increase.
 *
 * Key features:
 * - The watermark advances to the expected post-deposit balance only after
 *   the executor confirms success. On executor failure the watermark stays
 *   put, so the same delta is retried on the next observation (at-least-once
 *   attempts against an executor treated as non-idempotent).
 * - Evaluation is serialized per wallet with an in-process mutex so two
 *   concurrent observations cannot both perceive the same delta, and a
 *   repeat of the last processed reading is skipped so stale polls of an
 *   eventually-consistent balance source cannot double-deposit.
 *
 * @dependencies
 * - sync: Per-wallet mutual exclusion.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/depositclient, pkg/rabbitmq: External executor and event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
	"github.com/lendcircle/trust-service/pkg/depositclient"
	"github.com/lendcircle/trust-service/pkg/rabbitmq"
)

// DepositExecutor is the external yield-strategy collaborator. Implemented by
// pkg/depositclient.
type DepositExecutor interface {
	ExecuteDeposit(ctx context.Context, walletID string, amount int64) (*depositclient.DepositResponse, error)
}

// MonitorConfig carries the deposit trigger policy. All amounts are
// stablecoin base units.
type MonitorConfig struct {
	MinDepositAmount int64
	FeeBuffer        int64
}

// BalanceDeltaMonitor watches wallet balance observations and settles
// qualifying increases into the yield strategy.
type BalanceDeltaMonitor struct {
	repo     store.Repository
	executor DepositExecutor
	events   rabbitmq.Publisher
	cfg      MonitorConfig
	now      func() time.Time

	mu      sync.Mutex
	wallets map[string]*walletState
}

// walletState serializes evaluation for one wallet and remembers the last
// observation that was fully processed. A nil lastObserved means no reading
// has completed yet (or the last one failed mid-flight and must be retried).
type walletState struct {
	sync.Mutex
	lastObserved *int64
}

// NewBalanceDeltaMonitor creates a monitor over the given repository and
// deposit executor.
func NewBalanceDeltaMonitor(repo store.Repository, executor DepositExecutor, events rabbitmq.Publisher, cfg MonitorConfig) *BalanceDeltaMonitor {
	return &BalanceDeltaMonitor{
		repo:     repo,
		executor: executor,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
		wallets:  make(map[string]*walletState),
	}
}

// Evaluate feeds one balance observation through the trigger decision.
// Observations may arrive out of order relative to on-chain settlement; the
// watermark discipline, not wall-clock ordering, is the correctness anchor.
func (m *BalanceDeltaMonitor) Evaluate(ctx context.Context, walletID string, observedBalance int64) (*domain.DepositTriggerResult, error) {
	state := m.walletState(walletID)
	state.Lock()
	defer state.Unlock()

	// The polling source is eventually consistent, so the same pre-settlement
	// reading can come back after a successful deposit already moved the
	// watermark. Reprocessing it would see the residual delta as fresh and
	// deposit again, so an exact repeat of the last processed reading is a
	// no-op.
	if state.lastObserved != nil && *state.lastObserved == observedBalance {
		return &domain.DepositTriggerResult{Triggered: false}, nil
	}

	observedAt := m.now().UTC()

	watermark, err := m.repo.FindWatermark(ctx, walletID)
	if err != nil && !errors.Is(err, store.ErrWatermarkNotFound) {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}

	// First observation only arms the watermark. Uninitialized is distinct
	// from a zero balance; triggering here would fire on account creation.
	if watermark == nil || watermark.PreviousObservedBalance == nil {
		if err := m.repo.UpsertWatermark(ctx, walletID, observedBalance, observedAt); err != nil {
			return nil, fmt.Errorf("failed to initialize watermark: %w", err)
		}
		state.record(observedBalance)
		return &domain.DepositTriggerResult{Triggered: false}, nil
	}

	delta := observedBalance - *watermark.PreviousObservedBalance
	if delta < m.cfg.MinDepositAmount || observedBalance < m.cfg.MinDepositAmount+m.cfg.FeeBuffer {
		if err := m.repo.UpsertWatermark(ctx, walletID, observedBalance, observedAt); err != nil {
			return nil, fmt.Errorf("failed to advance watermark: %w", err)
		}
		state.record(observedBalance)
		return &domain.DepositTriggerResult{Triggered: false}, nil
	}

	// Deposit exactly the configured minimum, not the full delta. The
	// remainder stays observable so the fee buffer keeps the wallet solvent.
	depositAmount := m.cfg.MinDepositAmount

	resp, err := m.executor.ExecuteDeposit(ctx, walletID, depositAmount)
	if err != nil {
		// Watermark untouched and the reading not recorded: the next
		// observation, even of the same value, sees the same delta and
		// retries the trigger.
		return nil, fmt.Errorf("deposit executor failed for wallet %s: %w", walletID, ErrExternalUnavailable)
	}

	newWatermark := observedBalance - depositAmount
	if err := m.repo.UpsertWatermark(ctx, walletID, newWatermark, observedAt); err != nil {
		// The deposit happened but the watermark did not advance; a later
		// distinct observation may re-trigger. Surface loudly, this needs the
		// executor reference for reconciliation.
		log.Printf("level=alert component=monitor msg=\"deposit executed but watermark advance failed\" wallet_id=%s reference=%s err=%v",
			walletID, resp.Data.Attributes.TransactionReference, err)
		state.record(observedBalance)
		return nil, fmt.Errorf("deposit executed (ref %s) but watermark advance failed: %w", resp.Data.Attributes.TransactionReference, err)
	}
	state.record(observedBalance)

	result := &domain.DepositTriggerResult{
		Triggered:         true,
		DepositAmount:     depositAmount,
		ExternalReference: resp.Data.Attributes.TransactionReference,
	}

	if m.events != nil {
		payload := domain.DepositExecutedPayload{
			WalletID:          walletID,
			DepositAmount:     depositAmount,
			ExternalReference: result.ExternalReference,
			Timestamp:         observedAt,
		}
		if err := m.events.Publish(ctx, EventsExchange, "trust.deposit.executed", payload); err != nil {
			log.Printf("level=warn component=monitor msg=\"deposit event publish failed\" wallet_id=%s err=%v", walletID, err)
		}
	}

	return result, nil
}

// WatchedWallets lists the wallets with an armed watermark for the poller.
func (m *BalanceDeltaMonitor) WatchedWallets(ctx context.Context) ([]string, error) {
	return m.repo.ListWatchedWallets(ctx)
}

// walletState returns the evaluation state for one wallet, creating it on
// first use.
func (m *BalanceDeltaMonitor) walletState(walletID string) *walletState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.wallets[walletID]
	if !ok {
		state = &walletState{}
		m.wallets[walletID] = state
	}
	return state
}

// record must be called with the state lock held.
func (s *walletState) record(observedBalance int64) {
	balance := observedBalance
	s.lastObserved = &balance
}
