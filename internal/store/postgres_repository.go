/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL queries and logic for interacting with the trust-service
 * tables: trust_accounts, vouches, referral_codes and balance_watermarks.
 *
 * Key features:
 * - Balance mutations are conditional UPDATEs guarded on the previously read
 *   balance (compare-and-set); a zero-row update surfaces ErrBalanceConflict.
 * - Referral redemption runs inside a pgx transaction so the used flag and the
 *   referrer credit commit or roll back together.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and connection pool.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lendcircle/trust-service/internal/domain"
)

// Custom errors for the store layer.
var (
	ErrAccountNotFound      = errors.New("trust account not found")
	ErrBalanceConflict      = errors.New("balance changed concurrently")
	ErrVouchNotFound        = errors.New("vouch not found")
	ErrReferralCodeNotFound = errors.New("referral code not found or already used")
	ErrDuplicateCode        = errors.New("referral code already exists")
	ErrWatermarkNotFound    = errors.New("balance watermark not found")
)

// PostgresRepository is the PostgreSQL implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository with the given connection pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAccountByUserID retrieves a user's trust account.
func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `
        SELECT user_id, balance, last_daily_credit_at, credit_eligible_notified_at, created_at, updated_at
        FROM trust_accounts
        WHERE user_id = $1`

	var account domain.Account
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.Balance,
		&account.LastDailyCreditAt,
		&account.CreditEligibleNotifiedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find trust account: %w", err)
	}
	return &account, nil
}

// CreateAccount inserts a new trust account. Lazily called the first time
// points move toward a user; a concurrent insert of the same user is treated
// as success and the winning row is returned.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
        INSERT INTO trust_accounts (user_id, balance, created_at, updated_at)
        VALUES ($1, $2, now(), now())
        RETURNING user_id, balance, last_daily_credit_at, credit_eligible_notified_at, created_at, updated_at`

	var created domain.Account
	err := r.db.QueryRow(ctx, query, account.UserID, account.Balance).Scan(
		&created.UserID,
		&created.Balance,
		&created.LastDailyCreditAt,
		&created.CreditEligibleNotifiedAt,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" { // unique_violation
			return r.FindAccountByUserID(ctx, account.UserID)
		}
		return nil, fmt.Errorf("failed to create trust account: %w", err)
	}
	return &created, nil
}

// UpdateAccountBalanceCAS performs the compare-and-set balance write. The
// WHERE clause carries the expected prior balance; zero affected rows means a
// concurrent writer got there first.
func (r *PostgresRepository) UpdateAccountBalanceCAS(ctx context.Context, userID uuid.UUID, newBalance, expectedBalance int64) error {
	query := `
        UPDATE trust_accounts
        SET balance = $2, updated_at = now()
        WHERE user_id = $1 AND balance = $3`

	tag, err := r.db.Exec(ctx, query, userID, newBalance, expectedBalance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// StampDailyCredit credits the daily grant and stamps last_daily_credit_at
// with the same compare-and-set discipline as UpdateAccountBalanceCAS.
func (r *PostgresRepository) StampDailyCredit(ctx context.Context, userID uuid.UUID, newBalance, expectedBalance int64, grantedAt time.Time) error {
	query := `
        UPDATE trust_accounts
        SET balance = $2, last_daily_credit_at = $4, updated_at = now()
        WHERE user_id = $1 AND balance = $3`

	tag, err := r.db.Exec(ctx, query, userID, newBalance, expectedBalance, grantedAt)
	if err != nil {
		return fmt.Errorf("failed to stamp daily credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// MarkCreditEligibleNotified records that the one-time eligibility
// notification has been emitted. The guard on NULL makes the crossing
// notification idempotent even under concurrent reviews.
func (r *PostgresRepository) MarkCreditEligibleNotified(ctx context.Context, userID uuid.UUID, notifiedAt time.Time) error {
	query := `
        UPDATE trust_accounts
        SET credit_eligible_notified_at = $2, updated_at = now()
        WHERE user_id = $1 AND credit_eligible_notified_at IS NULL`

	tag, err := r.db.Exec(ctx, query, userID, notifiedAt)
	if err != nil {
		return fmt.Errorf("failed to mark credit eligible notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// CreateVouch inserts a new vouch record.
func (r *PostgresRepository) CreateVouch(ctx context.Context, vouch *domain.Vouch) error {
	query := `
        INSERT INTO vouches (id, voucher_id, vouched_user_id, points_transferred, message, created_at)
        VALUES ($1, $2, $3, $4, $5, now())
        RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		vouch.ID,
		vouch.VoucherID,
		vouch.VouchedUserID,
		vouch.PointsTransferred,
		vouch.Message,
	).Scan(&vouch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create vouch: %w", err)
	}
	return nil
}

// FindVouchByID retrieves a single vouch.
func (r *PostgresRepository) FindVouchByID(ctx context.Context, vouchID uuid.UUID) (*domain.Vouch, error) {
	query := `
        SELECT id, voucher_id, vouched_user_id, points_transferred, message,
               is_trustworthy, reviewed_by, reviewed_at, review_notes, created_at
        FROM vouches
        WHERE id = $1`

	var vouch domain.Vouch
	err := r.db.QueryRow(ctx, query, vouchID).Scan(
		&vouch.ID,
		&vouch.VoucherID,
		&vouch.VouchedUserID,
		&vouch.PointsTransferred,
		&vouch.Message,
		&vouch.IsTrustworthy,
		&vouch.ReviewedBy,
		&vouch.ReviewedAt,
		&vouch.ReviewNotes,
		&vouch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVouchNotFound
		}
		return nil, fmt.Errorf("failed to find vouch: %w", err)
	}
	return &vouch, nil
}

// UpdateVouchReview finalizes the review of a vouch. The guard on
// reviewed_by IS NULL enforces that a vouch is reviewed exactly once.
func (r *PostgresRepository) UpdateVouchReview(ctx context.Context, vouchID uuid.UUID, reviewerID uuid.UUID, isTrustworthy bool, notes *string, reviewedAt time.Time) error {
	query := `
        UPDATE vouches
        SET is_trustworthy = $2, reviewed_by = $3, reviewed_at = $4, review_notes = $5
        WHERE id = $1 AND reviewed_by IS NULL`

	tag, err := r.db.Exec(ctx, query, vouchID, isTrustworthy, reviewerID, reviewedAt, notes)
	if err != nil {
		return fmt.Errorf("failed to update vouch review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVouchNotFound
	}
	return nil
}

// UpdateVouchReviewNotes amends the notes of an already-reviewed vouch.
// Notes are the only mutable field after review.
func (r *PostgresRepository) UpdateVouchReviewNotes(ctx context.Context, vouchID uuid.UUID, notes *string) error {
	query := `
        UPDATE vouches
        SET review_notes = $2
        WHERE id = $1 AND reviewed_by IS NOT NULL`

	tag, err := r.db.Exec(ctx, query, vouchID, notes)
	if err != nil {
		return fmt.Errorf("failed to update vouch notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVouchNotFound
	}
	return nil
}

// CountTrustworthyVouches returns how many reviewed-trustworthy vouches a
// user has received.
func (r *PostgresRepository) CountTrustworthyVouches(ctx context.Context, vouchedUserID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM vouches WHERE vouched_user_id = $1 AND is_trustworthy = TRUE`

	var count int
	if err := r.db.QueryRow(ctx, query, vouchedUserID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trustworthy vouches: %w", err)
	}
	return count, nil
}

// FindVouchesForUser lists the vouches received by a user, newest first.
func (r *PostgresRepository) FindVouchesForUser(ctx context.Context, vouchedUserID uuid.UUID, limit, offset int) ([]domain.Vouch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
        SELECT id, voucher_id, vouched_user_id, points_transferred, message,
               is_trustworthy, reviewed_by, reviewed_at, review_notes, created_at
        FROM vouches
        WHERE vouched_user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, vouchedUserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouches: %w", err)
	}
	defer rows.Close()

	var vouches []domain.Vouch
	for rows.Next() {
		var vouch domain.Vouch
		if err := rows.Scan(
			&vouch.ID,
			&vouch.VoucherID,
			&vouch.VouchedUserID,
			&vouch.PointsTransferred,
			&vouch.Message,
			&vouch.IsTrustworthy,
			&vouch.ReviewedBy,
			&vouch.ReviewedAt,
			&vouch.ReviewNotes,
			&vouch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vouch: %w", err)
		}
		vouches = append(vouches, vouch)
	}
	return vouches, rows.Err()
}

// FindUnusedReferralCodeByReferrer returns the referrer's currently open code, if any.
func (r *PostgresRepository) FindUnusedReferralCodeByReferrer(ctx context.Context, referrerID uuid.UUID) (*domain.ReferralCode, error) {
	query := `
        SELECT code, referrer_id, used, used_at, redeemed_by, points_awarded, created_at
        FROM referral_codes
        WHERE referrer_id = $1 AND used = FALSE`

	return r.scanReferralCode(r.db.QueryRow(ctx, query, referrerID))
}

// CreateReferralCode inserts a freshly minted code.
func (r *PostgresRepository) CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error {
	query := `
        INSERT INTO referral_codes (code, referrer_id, used, points_awarded, created_at)
        VALUES ($1, $2, FALSE, $3, now())
        RETURNING created_at`

	err := r.db.QueryRow(ctx, query, code.Code, code.ReferrerID, code.PointsAwarded).Scan(&code.CreatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create referral code: %w", err)
	}
	return nil
}

// FindUnusedReferralCode looks up an open code by its value.
func (r *PostgresRepository) FindUnusedReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	query := `
        SELECT code, referrer_id, used, used_at, redeemed_by, points_awarded, created_at
        FROM referral_codes
        WHERE code = $1 AND used = FALSE`

	return r.scanReferralCode(r.db.QueryRow(ctx, query, code))
}

// RedeemReferralCodeAtomic flips the code to used and credits the referrer in
// one database transaction. The row lock taken by the guarded UPDATE makes a
// concurrent second redemption observe used = TRUE and fail with
// ErrReferralCodeNotFound.
func (r *PostgresRepository) RedeemReferralCodeAtomic(ctx context.Context, code string, redeemerID uuid.UUID, redeemedAt time.Time) (*domain.ReferralCode, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin redemption transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	claimQuery := `
        UPDATE referral_codes
        SET used = TRUE, used_at = $2, redeemed_by = $3
        WHERE code = $1 AND used = FALSE
        RETURNING code, referrer_id, used, used_at, redeemed_by, points_awarded, created_at`

	redeemed, err := r.scanReferralCode(tx.QueryRow(ctx, claimQuery, code, redeemedAt, redeemerID))
	if err != nil {
		return nil, err
	}

	// Credit the referrer, creating the account row on first touch.
	creditQuery := `
        INSERT INTO trust_accounts (user_id, balance, created_at, updated_at)
        VALUES ($1, $2, now(), now())
        ON CONFLICT (user_id)
        DO UPDATE SET balance = trust_accounts.balance + $2, updated_at = now()`

	if _, err := tx.Exec(ctx, creditQuery, redeemed.ReferrerID, redeemed.PointsAwarded); err != nil {
		return nil, fmt.Errorf("failed to credit referrer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}
	return redeemed, nil
}

func (r *PostgresRepository) scanReferralCode(row pgx.Row) (*domain.ReferralCode, error) {
	var code domain.ReferralCode
	err := row.Scan(
		&code.Code,
		&code.ReferrerID,
		&code.Used,
		&code.UsedAt,
		&code.RedeemedBy,
		&code.PointsAwarded,
		&code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralCodeNotFound
		}
		return nil, fmt.Errorf("failed to scan referral code: %w", err)
	}
	return &code, nil
}

// FindWatermark loads the reconciliation watermark for a wallet.
func (r *PostgresRepository) FindWatermark(ctx context.Context, walletID string) (*domain.BalanceWatermark, error) {
	query := `
        SELECT wallet_id, previous_observed_balance, observed_at
        FROM balance_watermarks
        WHERE wallet_id = $1`

	var wm domain.BalanceWatermark
	err := r.db.QueryRow(ctx, query, walletID).Scan(
		&wm.WalletID,
		&wm.PreviousObservedBalance,
		&wm.ObservedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWatermarkNotFound
		}
		return nil, fmt.Errorf("failed to find watermark: %w", err)
	}
	return &wm, nil
}

// UpsertWatermark stores the reconciled balance for a wallet.
func (r *PostgresRepository) UpsertWatermark(ctx context.Context, walletID string, previousObservedBalance int64, observedAt time.Time) error {
	query := `
        INSERT INTO balance_watermarks (wallet_id, previous_observed_balance, observed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (wallet_id)
        DO UPDATE SET previous_observed_balance = $2, observed_at = $3`

	if _, err := r.db.Exec(ctx, query, walletID, previousObservedBalance, observedAt); err != nil {
		return fmt.Errorf("failed to upsert watermark: %w", err)
	}
	return nil
}

// ListWatchedWallets returns the wallets the balance poller sweeps. A wallet
// is watched once it has a watermark row or an auto-invest opt-in.
func (r *PostgresRepository) ListWatchedWallets(ctx context.Context) ([]string, error) {
	query := `SELECT wallet_id FROM balance_watermarks ORDER BY wallet_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var walletID string
		if err := rows.Scan(&walletID); err != nil {
			return nil, fmt.Errorf("failed to scan wallet id: %w", err)
		}
		wallets = append(wallets, walletID)
	}
	return wallets, rows.Err()
}
