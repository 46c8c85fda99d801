package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
	"github.com/lendcircle/trust-service/pkg/depositclient"
)

type watermarkRepoStub struct {
	store.Repository

	mu         sync.Mutex
	watermarks map[string]*domain.BalanceWatermark
	upsertErrs []error
}

func newWatermarkRepoStub() *watermarkRepoStub {
	return &watermarkRepoStub{watermarks: make(map[string]*domain.BalanceWatermark)}
}

func (s *watermarkRepoStub) armed(walletID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := balance
	s.watermarks[walletID] = &domain.BalanceWatermark{
		WalletID:                walletID,
		PreviousObservedBalance: &stored,
		ObservedAt:              time.Now().UTC(),
	}
}

func (s *watermarkRepoStub) watermark(t *testing.T, walletID string) int64 {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.watermarks[walletID]
	if !ok || mark.PreviousObservedBalance == nil {
		t.Fatalf("no armed watermark for %s", walletID)
	}
	return *mark.PreviousObservedBalance
}

func (s *watermarkRepoStub) FindWatermark(ctx context.Context, walletID string) (*domain.BalanceWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mark, ok := s.watermarks[walletID]
	if !ok {
		return nil, store.ErrWatermarkNotFound
	}
	copied := *mark
	if mark.PreviousObservedBalance != nil {
		balance := *mark.PreviousObservedBalance
		copied.PreviousObservedBalance = &balance
	}
	return &copied, nil
}

func (s *watermarkRepoStub) UpsertWatermark(ctx context.Context, walletID string, previousObservedBalance int64, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.upsertErrs) > 0 {
		err := s.upsertErrs[0]
		s.upsertErrs = s.upsertErrs[1:]
		if err != nil {
			return err
		}
	}
	stored := previousObservedBalance
	s.watermarks[walletID] = &domain.BalanceWatermark{
		WalletID:                walletID,
		PreviousObservedBalance: &stored,
		ObservedAt:              observedAt,
	}
	return nil
}

func (s *watermarkRepoStub) ListWatchedWallets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := make([]string, 0, len(s.watermarks))
	for walletID := range s.watermarks {
		wallets = append(wallets, walletID)
	}
	return wallets, nil
}

type executorStub struct {
	mu        sync.Mutex
	calls     int
	amounts   []int64
	err       error
	reference string
}

func (e *executorStub) ExecuteDeposit(ctx context.Context, walletID string, amount int64) (*depositclient.DepositResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.amounts = append(e.amounts, amount)
	if e.err != nil {
		return nil, e.err
	}
	resp := &depositclient.DepositResponse{}
	resp.Data.Attributes.Status = "completed"
	resp.Data.Attributes.TransactionReference = e.reference
	return resp, nil
}

func testMonitorConfig() MonitorConfig {
	// 10 USDC minimum deposit, 1 USDC fee buffer, in base units.
	return MonitorConfig{MinDepositAmount: 10_000_000, FeeBuffer: 1_000_000}
}

func TestEvaluate_FirstObservationOnlyArmsWatermark(t *testing.T) {
	repo := newWatermarkRepoStub()
	executor := &executorStub{}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	// Well above every threshold; an uninitialized watermark must still
	// never trigger.
	result, err := monitor.Evaluate(context.Background(), "wallet-1", 50_000_000)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.Triggered {
		t.Error("first observation triggered a deposit")
	}
	if executor.calls != 0 {
		t.Errorf("executor calls = %d, want 0", executor.calls)
	}
	if got := repo.watermark(t, "wallet-1"); got != 50_000_000 {
		t.Errorf("watermark = %d, want 50000000", got)
	}
}

func TestEvaluate_TriggersOnQualifyingDelta(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{reference: "dep-abc123"}
	producer := &publisherStub{}
	monitor := NewBalanceDeltaMonitor(repo, executor, producer, testMonitorConfig())

	result, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !result.Triggered {
		t.Fatal("qualifying delta did not trigger")
	}
	if result.DepositAmount != 10_000_000 {
		t.Errorf("deposit amount = %d, want the configured minimum", result.DepositAmount)
	}
	if result.ExternalReference != "dep-abc123" {
		t.Errorf("reference = %q, want dep-abc123", result.ExternalReference)
	}
	if len(executor.amounts) != 1 || executor.amounts[0] != 10_000_000 {
		t.Errorf("executor amounts = %v, want [10000000]", executor.amounts)
	}
	// Watermark advances to observed minus deposit so the residue is not
	// counted as a fresh delta later.
	if got := repo.watermark(t, "wallet-1"); got != 5_000_000 {
		t.Errorf("watermark = %d, want 5000000", got)
	}
	if got := producer.count("trust.deposit.executed"); got != 1 {
		t.Errorf("deposit events = %d, want 1", got)
	}
}

func TestEvaluate_DoesNotRetriggerOnRepeatedObservation(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{reference: "dep-1"}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	first, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
	if err != nil {
		t.Fatalf("first Evaluate returned error: %v", err)
	}
	if !first.Triggered {
		t.Fatal("qualifying delta did not trigger")
	}

	// The poller reads the same pre-settlement balance again. The advanced
	// watermark alone would show a fresh 10M delta, so the stale reading
	// must be recognized and skipped.
	second, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
	if err != nil {
		t.Fatalf("second Evaluate returned error: %v", err)
	}
	if second.Triggered {
		t.Error("stale repeated observation re-triggered")
	}
	if executor.calls != 1 {
		t.Errorf("executor calls = %d, want 1", executor.calls)
	}
	if got := repo.watermark(t, "wallet-1"); got != 5_000_000 {
		t.Errorf("watermark = %d, want 5000000", got)
	}
}

func TestEvaluate_DoesNotRetriggerAfterSettlement(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{reference: "dep-1"}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	if _, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000); err != nil {
		t.Fatalf("first Evaluate returned error: %v", err)
	}

	// The deposit settles on-chain: the next reading is the post-deposit
	// balance, matching the advanced watermark.
	result, err := monitor.Evaluate(context.Background(), "wallet-1", 5_000_000)
	if err != nil {
		t.Fatalf("second Evaluate returned error: %v", err)
	}
	if result.Triggered {
		t.Error("post-settlement observation re-triggered")
	}
	if executor.calls != 1 {
		t.Errorf("executor calls = %d, want 1", executor.calls)
	}
}

func TestEvaluate_BelowThresholdAdvancesWatermark(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	result, err := monitor.Evaluate(context.Background(), "wallet-1", 9_000_000)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.Triggered {
		t.Error("sub-threshold delta triggered")
	}
	if executor.calls != 0 {
		t.Errorf("executor calls = %d, want 0", executor.calls)
	}
	if got := repo.watermark(t, "wallet-1"); got != 9_000_000 {
		t.Errorf("watermark = %d, want 9000000", got)
	}
}

func TestEvaluate_FeeBufferBlocksBorderlineBalance(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	// Delta clears the minimum but the balance cannot cover deposit plus
	// fee buffer.
	result, err := monitor.Evaluate(context.Background(), "wallet-1", 10_500_000)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.Triggered {
		t.Error("borderline balance triggered despite fee buffer")
	}
	if executor.calls != 0 {
		t.Errorf("executor calls = %d, want 0", executor.calls)
	}
}

func TestEvaluate_ExecutorFailureLeavesWatermark(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{err: errors.New("executor down")}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	_, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
	if !errors.Is(err, ErrExternalUnavailable) {
		t.Fatalf("Evaluate error = %v, want ErrExternalUnavailable", err)
	}
	if got := repo.watermark(t, "wallet-1"); got != 0 {
		t.Errorf("watermark = %d, want 0 so the delta is retried", got)
	}

	// Once the executor recovers, the same delta triggers.
	executor.err = nil
	executor.reference = "dep-retry"
	result, err := monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
	if err != nil {
		t.Fatalf("retry Evaluate returned error: %v", err)
	}
	if !result.Triggered {
		t.Error("recovered executor did not trigger on the retained delta")
	}
}

func TestEvaluate_SerializesConcurrentObservations(t *testing.T) {
	repo := newWatermarkRepoStub()
	repo.armed("wallet-1", 0)
	executor := &executorStub{reference: "dep-1"}
	monitor := NewBalanceDeltaMonitor(repo, executor, nil, testMonitorConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = monitor.Evaluate(context.Background(), "wallet-1", 15_000_000)
		}()
	}
	wg.Wait()

	// With the per-wallet lock the first evaluation deposits and records the
	// reading; every later goroutine carries the identical stale reading and
	// is skipped. Exactly one deposit for one qualifying increase.
	executor.mu.Lock()
	defer executor.mu.Unlock()
	if executor.calls != 1 {
		t.Errorf("executor calls = %d, want 1", executor.calls)
	}
	if len(executor.amounts) != 1 || executor.amounts[0] != 10_000_000 {
		t.Errorf("executor amounts = %v, want [10000000]", executor.amounts)
	}
}
