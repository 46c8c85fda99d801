package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditEligiblePayload is published to RabbitMQ the first time a user
// crosses the credit-eligibility threshold.
type CreditEligiblePayload struct {
	UserID             uuid.UUID `json:"user_id"`
	Balance            int64     `json:"balance"`
	TrustworthyVouches int       `json:"trustworthy_vouches"`
	Timestamp          time.Time `json:"timestamp"`
}

// VouchReviewedPayload is published after a reviewer finalizes a vouch.
type VouchReviewedPayload struct {
	VouchID       uuid.UUID `json:"vouch_id"`
	VouchedUserID uuid.UUID `json:"vouched_user_id"`
	ReviewerID    uuid.UUID `json:"reviewer_id"`
	IsTrustworthy bool      `json:"is_trustworthy"`
	Timestamp     time.Time `json:"timestamp"`
}

// DepositExecutedPayload is published after the deposit executor confirms a
// yield-strategy deposit for a wallet.
type DepositExecutedPayload struct {
	WalletID          string    `json:"wallet_id"`
	DepositAmount     int64     `json:"deposit_amount"`
	ExternalReference string    `json:"external_reference"`
	Timestamp         time.Time `json:"timestamp"`
}

// CourseCompletedEvent is the inbound message consumed from the course
// platform when a user finishes the micro-credit course.
type CourseCompletedEvent struct {
	UserID      uuid.UUID `json:"user_id"`
	Identity    string    `json:"identity"` // graph identity used for ego-score lookup
	CompletedAt time.Time `json:"completed_at"`
}
