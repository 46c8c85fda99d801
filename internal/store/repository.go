/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the trust-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	// UpdateAccountBalanceCAS sets the balance only if the stored balance still
	// equals expectedBalance; it returns ErrBalanceConflict otherwise. This is
	// the optimistic-concurrency hook every ledger mutation goes through.
	UpdateAccountBalanceCAS(ctx context.Context, userID uuid.UUID, newBalance, expectedBalance int64) error
	// StampDailyCredit applies a daily grant: balance CAS plus the
	// last_daily_credit_at stamp in one statement.
	StampDailyCredit(ctx context.Context, userID uuid.UUID, newBalance, expectedBalance int64, grantedAt time.Time) error
	MarkCreditEligibleNotified(ctx context.Context, userID uuid.UUID, notifiedAt time.Time) error

	// Vouch methods
	CreateVouch(ctx context.Context, vouch *domain.Vouch) error
	FindVouchByID(ctx context.Context, vouchID uuid.UUID) (*domain.Vouch, error)
	UpdateVouchReview(ctx context.Context, vouchID uuid.UUID, reviewerID uuid.UUID, isTrustworthy bool, notes *string, reviewedAt time.Time) error
	UpdateVouchReviewNotes(ctx context.Context, vouchID uuid.UUID, notes *string) error
	CountTrustworthyVouches(ctx context.Context, vouchedUserID uuid.UUID) (int, error)
	FindVouchesForUser(ctx context.Context, vouchedUserID uuid.UUID, limit, offset int) ([]domain.Vouch, error)

	// Referral methods
	FindUnusedReferralCodeByReferrer(ctx context.Context, referrerID uuid.UUID) (*domain.ReferralCode, error)
	CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error
	FindUnusedReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error)
	// RedeemReferralCodeAtomic marks the code used and credits the referrer's
	// account inside a single database transaction. A redeemed-but-uncredited
	// state must not be representable.
	RedeemReferralCodeAtomic(ctx context.Context, code string, redeemerID uuid.UUID, redeemedAt time.Time) (*domain.ReferralCode, error)

	// Watermark methods
	FindWatermark(ctx context.Context, walletID string) (*domain.BalanceWatermark, error)
	UpsertWatermark(ctx context.Context, walletID string, previousObservedBalance int64, observedAt time.Time) error
	ListWatchedWallets(ctx context.Context) ([]string, error)
}
