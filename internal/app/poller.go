/**
 * @description
 * Cron-driven balance poller. On each tick it sweeps the watched funding
 * wallets, fetches the current on-chain balance for each, and feeds the
 * observation into the BalanceDeltaMonitor which decides whether a deposit
 * should be executed.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lendcircle/trust-service/pkg/walletclient"
)

// WalletBalanceClient fetches the observed balance of a funding wallet.
type WalletBalanceClient interface {
	GetObservedBalance(ctx context.Context, walletID string) (*walletclient.BalanceResponse, error)
}

// BalancePoller schedules periodic balance sweeps.
type BalancePoller struct {
	cron     *cron.Cron
	monitor  *BalanceDeltaMonitor
	wallets  WalletBalanceClient
	logger   *slog.Logger
	schedule string
}

// NewBalancePoller creates a poller that runs on the given cron schedule
// (e.g. "@every 1m").
func NewBalancePoller(monitor *BalanceDeltaMonitor, wallets WalletBalanceClient, logger *slog.Logger, schedule string) *BalancePoller {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &BalancePoller{
		cron:     c,
		monitor:  monitor,
		wallets:  wallets,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (p *BalancePoller) Start() {
	if _, err := p.cron.AddFunc(p.schedule, p.SweepWallets); err != nil {
		p.logger.Error("failed to schedule balance sweep job", "error", err)
	} else {
		p.logger.Info("scheduled balance sweep job", "schedule", p.schedule)
	}

	p.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (p *BalancePoller) Stop() context.Context {
	return p.cron.Stop()
}

// SweepWallets fetches and evaluates the balance of every watched wallet.
// One failing wallet does not abort the sweep.
func (p *BalancePoller) SweepWallets() {
	p.logger.Info("starting balance sweep")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	walletIDs, err := p.monitor.WatchedWallets(ctx)
	if err != nil {
		p.logger.Error("failed to list watched wallets", "error", err)
		return
	}

	triggered := 0
	for _, walletID := range walletIDs {
		resp, err := p.wallets.GetObservedBalance(ctx, walletID)
		if err != nil {
			p.logger.Error("failed to fetch wallet balance", "wallet_id", walletID, "error", err)
			continue
		}

		result, err := p.monitor.Evaluate(ctx, walletID, resp.Data.ObservedBalance)
		if err != nil {
			p.logger.Error("balance evaluation failed", "wallet_id", walletID, "error", err)
			continue
		}
		if result.Triggered {
			triggered++
			p.logger.Info("deposit triggered by balance sweep",
				"wallet_id", walletID,
				"amount", result.DepositAmount,
				"reference", result.ExternalReference)
		}
	}

	p.logger.Info("balance sweep finished", "wallets", len(walletIDs), "deposits_triggered", triggered)
}
