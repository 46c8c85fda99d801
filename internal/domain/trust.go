/**
 * @description
 * This file defines the core domain models for the trust-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Trust points are stored as `int64` whole points. Stablecoin balances are
 *   stored as `int64` in base units (6-decimal USDC-style), which avoids
 *   floating-point inaccuracies with financial data.
 * - Nullable columns map to pointer fields so "never observed" and "observed
 *   as zero" stay distinct states.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a user's trust-point balance. One row per user, created
// lazily with a zero balance the first time points move toward the user.
// This struct maps directly to the `trust_accounts` table in the database.
type Account struct {
	UserID                   uuid.UUID  `json:"user_id"`
	Balance                  int64      `json:"balance"` // whole trust points
	LastDailyCreditAt        *time.Time `json:"last_daily_credit_at,omitempty"`
	CreditEligibleNotifiedAt *time.Time `json:"credit_eligible_notified_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// Vouch is a trust-point transfer accompanied by an endorsement, subject to
// later human review. Review fields stay nil until a reviewer acts; once
// reviewed, only the notes may change.
type Vouch struct {
	ID                uuid.UUID  `json:"id"`
	VoucherID         uuid.UUID  `json:"voucher_id"`
	VouchedUserID     uuid.UUID  `json:"vouched_user_id"`
	PointsTransferred int64      `json:"points_transferred"`
	Message           string     `json:"message"`
	IsTrustworthy     *bool      `json:"is_trustworthy,omitempty"`
	ReviewedBy        *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes       *string    `json:"review_notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ReferralCode is a one-time-use invitation code. At most one unused code
// exists per referrer; the unused -> used transition happens exactly once.
type ReferralCode struct {
	Code          string     `json:"code"`
	ReferrerID    uuid.UUID  `json:"referrer_id"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	RedeemedBy    *uuid.UUID `json:"redeemed_by,omitempty"`
	PointsAwarded int64      `json:"points_awarded"`
	CreatedAt     time.Time  `json:"created_at"`
}

// BalanceWatermark is the last stablecoin balance the monitor reconciled for
// a wallet. A nil PreviousObservedBalance means the wallet has not been
// observed yet, during which no deposit may trigger.
type BalanceWatermark struct {
	WalletID                string    `json:"wallet_id"`
	PreviousObservedBalance *int64    `json:"previous_observed_balance,omitempty"` // stablecoin base units
	ObservedAt              time.Time `json:"observed_at"`
}

// DepositTriggerResult is the outcome of evaluating one balance observation
// against the stored watermark. It is returned to callers, never persisted.
type DepositTriggerResult struct {
	Triggered         bool   `json:"triggered"`
	DepositAmount     int64  `json:"deposit_amount,omitempty"`     // stablecoin base units
	ExternalReference string `json:"external_reference,omitempty"` // executor transaction reference
}

// TransferRequest is the DTO for incoming point-transfer API requests.
type TransferRequest struct {
	ToUserID uuid.UUID `json:"to_user_id"`
	Amount   int64     `json:"amount"`
}

// RecordVouchRequest is the DTO for incoming vouch API requests.
type RecordVouchRequest struct {
	VouchedUserID uuid.UUID `json:"vouched_user_id"`
	Points        int64     `json:"points"`
	Message       string    `json:"message"`
}

// ReviewVouchRequest is the DTO for the human review step of a vouch.
type ReviewVouchRequest struct {
	IsTrustworthy bool    `json:"is_trustworthy"`
	Notes         *string `json:"notes,omitempty"`
}

// RedeemReferralRequest is the DTO for redeeming a referral code.
type RedeemReferralRequest struct {
	Code string `json:"code"`
}

// WalletBalance is the observer-backed balance view returned by the API.
type WalletBalance struct {
	WalletID        string `json:"wallet_id"`
	ObservedBalance int64  `json:"observed_balance"` // stablecoin base units
}
