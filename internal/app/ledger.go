/**
 * @description
 * This file implements the trust-point ledger operations: peer-to-peer
 * transfers, the daily grant, and score-based balance initialization.
 *
 * Key features:
 * - Transfers never create or destroy points. The debit and credit are each a
 *   compare-and-set write; when the credit fails after the debit landed, a
 *   compensating credit restores the sender and the operation reports
 *   ErrPartialFailure instead of silently losing points.
 * - A compensating credit that itself fails is the one failure this design
 *   cannot self-heal; it is surfaced as ErrUnrecoverable and logged at alert
 *   severity for manual reconciliation.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
)

// Transfer moves trust points from one account to another. Conservation and
// non-negativity hold across every outcome: either both legs land, or the
// compensation path restores the debited sender.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromUserID == toUserID {
		return ErrInvalidAmount
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		sender, err := s.repo.FindAccountByUserID(ctx, fromUserID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("failed to read sender account: %w", err)
		}
		if sender.Balance < amount {
			return ErrInsufficientFunds
		}

		err = s.repo.UpdateAccountBalanceCAS(ctx, fromUserID, sender.Balance-amount, sender.Balance)
		if errors.Is(err, store.ErrBalanceConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to debit sender: %w", err)
		}

		// Sender is debited. From here on, any credit failure must be
		// compensated before surfacing.
		if err := s.creditWithRetry(ctx, toUserID, amount); err != nil {
			if compErr := s.creditWithRetry(ctx, fromUserID, amount); compErr != nil {
				log.Printf("level=alert component=ledger msg=\"compensating credit failed; manual reconciliation required\" sender=%s receiver=%s amount=%d credit_err=%v compensation_err=%v",
					fromUserID, toUserID, amount, err, compErr)
				return fmt.Errorf("credit failed (%v) and compensation failed (%v): %w", err, compErr, ErrUnrecoverable)
			}
			log.Printf("level=error component=ledger msg=\"receiver credit failed; sender compensated\" sender=%s receiver=%s amount=%d err=%v",
				fromUserID, toUserID, amount, err)
			return fmt.Errorf("receiver credit failed: %w", ErrPartialFailure)
		}

		return nil
	}

	return ErrContention
}

// creditWithRetry adds points to an account, creating it at zero when absent,
// with the same bounded compare-and-set discipline as the debit path.
func (s *Service) creditWithRetry(ctx context.Context, userID uuid.UUID, amount int64) error {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		account, err := s.repo.FindAccountByUserID(ctx, userID)
		if errors.Is(err, store.ErrAccountNotFound) {
			account, err = s.repo.CreateAccount(ctx, &domain.Account{UserID: userID, Balance: 0})
		}
		if err != nil {
			return fmt.Errorf("failed to read receiver account: %w", err)
		}

		err = s.repo.UpdateAccountBalanceCAS(ctx, userID, account.Balance+amount, account.Balance)
		if errors.Is(err, store.ErrBalanceConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}
		return nil
	}
	return ErrContention
}

// GrantDaily credits the daily trust-point allowance, gated on the minimum
// interval since the previous grant.
func (s *Service) GrantDaily(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		account, err := s.repo.FindAccountByUserID(ctx, userID)
		if errors.Is(err, store.ErrAccountNotFound) {
			account, err = s.repo.CreateAccount(ctx, &domain.Account{UserID: userID, Balance: 0})
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read account: %w", err)
		}

		now := s.now().UTC()
		if account.LastDailyCreditAt != nil {
			elapsed := now.Sub(*account.LastDailyCreditAt)
			if elapsed < s.cfg.DailyGrantMinInterval {
				return nil, &TooSoonError{RetryAfter: s.cfg.DailyGrantMinInterval - elapsed}
			}
		}

		err = s.repo.StampDailyCredit(ctx, userID, account.Balance+s.cfg.DailyGrantPoints, account.Balance, now)
		if errors.Is(err, store.ErrBalanceConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply daily grant: %w", err)
		}

		account.Balance += s.cfg.DailyGrantPoints
		account.LastDailyCreditAt = &now
		return account, nil
	}
	return nil, ErrContention
}

// InitializeFromExternalScore seeds a freshly onboarded user's balance from
// their ego score. The operation is a one-way ratchet: it never lowers an
// existing balance, and it no-ops entirely once the account has aged past the
// grace window, so organic balance changes are never re-granted over.
func (s *Service) InitializeFromExternalScore(ctx context.Context, userID uuid.UUID, identity string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if errors.Is(err, store.ErrAccountNotFound) {
		account, err = s.repo.CreateAccount(ctx, &domain.Account{UserID: userID, Balance: 0})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	if s.now().UTC().Sub(account.CreatedAt) > s.cfg.InitGraceWindow {
		return account, nil
	}

	score, err := s.lookupScore(ctx, identity)
	if err != nil {
		// The score graph being down must not block onboarding; degrade to
		// the zero tier.
		log.Printf("level=warn component=ledger msg=\"ego score unavailable; degrading to tier 0\" user_id=%s err=%v", userID, err)
		score = 0
	}

	target := s.tierFor(score)
	if target <= account.Balance {
		return account, nil
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		err = s.repo.UpdateAccountBalanceCAS(ctx, userID, target, account.Balance)
		if errors.Is(err, store.ErrBalanceConflict) {
			account, err = s.repo.FindAccountByUserID(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read account: %w", err)
			}
			if target <= account.Balance {
				return account, nil
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize balance: %w", err)
		}
		account.Balance = target
		return account, nil
	}
	return nil, ErrContention
}

// GetAccount returns the user's trust account, lazily creating it so a brand
// new user sees a zero balance instead of a 404.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return s.repo.CreateAccount(ctx, &domain.Account{UserID: userID, Balance: 0})
	}
	return account, err
}
