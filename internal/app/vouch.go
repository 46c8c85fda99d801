/**
 * @description
 * This file implements the vouch workflow: recording a transfer-backed vouch,
 * the automated trustworthiness triage, and the human review step that gates
 * credit eligibility.
 *
 * State machine: Recorded -> AutoChecked{pass|fail} -> Reviewed{trustworthy|not}.
 * A vouch record only exists if its underlying point transfer succeeded, and
 * review fields are written exactly once.
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

// RecordVouch transfers the vouched points and persists the vouch record.
// When the transfer fails, no record is created and the ledger error is
// returned as-is; callers must not retry blindly without an idempotency key.
func (s *Service) RecordVouch(ctx context.Context, voucherID uuid.UUID, req domain.RecordVouchRequest) (*domain.Vouch, error) {
	if err := s.Transfer(ctx, voucherID, req.VouchedUserID, req.Points); err != nil {
		return nil, err
	}

	vouch := &domain.Vouch{
		ID:                uuid.New(),
		VoucherID:         voucherID,
		VouchedUserID:     req.VouchedUserID,
		PointsTransferred: req.Points,
		Message:           req.Message,
	}
	if err := s.repo.CreateVouch(ctx, vouch); err != nil {
		// The points already moved; reverse them so a persistence fault does
		// not turn into a silent spend.
		if reverseErr := s.Transfer(ctx, req.VouchedUserID, voucherID, req.Points); reverseErr != nil {
			log.Printf("level=alert component=vouch msg=\"vouch persistence failed and reversal failed; manual reconciliation required\" voucher=%s vouched=%s points=%d create_err=%v reverse_err=%v",
				voucherID, req.VouchedUserID, req.Points, err, reverseErr)
			return nil, fmt.Errorf("vouch persistence failed (%v), reversal failed: %w", err, ErrUnrecoverable)
		}
		return nil, fmt.Errorf("failed to persist vouch: %w", err)
	}

	return vouch, nil
}

// AutoCheck runs the external trustworthiness predicate on the voucher. The
// result informs review triage only; it never transitions the review fields.
func (s *Service) AutoCheck(ctx context.Context, vouch *domain.Vouch) (bool, error) {
	score, err := s.lookupScore(ctx, vouch.VoucherID.String())
	if err != nil {
		return false, err
	}
	passed := score >= s.cfg.AutoCheckMinScore

	s.publish(ctx, "trust.vouch.autochecked", map[string]interface{}{
		"vouch_id":   vouch.ID,
		"voucher_id": vouch.VoucherID,
		"passed":     passed,
		"timestamp":  s.now().UTC(),
	})
	return passed, nil
}

// ReviewVouch finalizes the human review of a vouch. On a trustworthy verdict
// it re-evaluates the vouched user's credit eligibility and emits the
// CreditEligible notification exactly once per crossing.
func (s *Service) ReviewVouch(ctx context.Context, vouchID, reviewerID uuid.UUID, req domain.ReviewVouchRequest) (*domain.Vouch, error) {
	vouch, err := s.repo.FindVouchByID(ctx, vouchID)
	if err != nil {
		return nil, err
	}
	if vouch.ReviewedBy != nil {
		return nil, ErrVouchAlreadyReviewed
	}

	reviewedAt := s.now().UTC()
	if err := s.repo.UpdateVouchReview(ctx, vouchID, reviewerID, req.IsTrustworthy, req.Notes, reviewedAt); err != nil {
		if errors.Is(err, store.ErrVouchNotFound) {
			// The vouch existed moments ago, so a zero-row update means a
			// concurrent reviewer won the race.
			return nil, ErrVouchAlreadyReviewed
		}
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	vouch.IsTrustworthy = &req.IsTrustworthy
	vouch.ReviewedBy = &reviewerID
	vouch.ReviewedAt = &reviewedAt
	vouch.ReviewNotes = req.Notes

	s.publish(ctx, "trust.vouch.reviewed", domain.VouchReviewedPayload{
		VouchID:       vouchID,
		VouchedUserID: vouch.VouchedUserID,
		ReviewerID:    reviewerID,
		IsTrustworthy: req.IsTrustworthy,
		Timestamp:     reviewedAt,
	})

	if req.IsTrustworthy {
		if err := s.evaluateCreditEligibility(ctx, vouch.VouchedUserID); err != nil {
			// Eligibility notification failures never roll back the review.
			log.Printf("level=warn component=vouch msg=\"eligibility evaluation failed\" user_id=%s err=%v", vouch.VouchedUserID, err)
		}
	}

	return vouch, nil
}

// AmendReviewNotes updates the notes of an already-reviewed vouch. Notes are
// the only field mutable after review.
func (s *Service) AmendReviewNotes(ctx context.Context, vouchID uuid.UUID, notes *string) error {
	return s.repo.UpdateVouchReviewNotes(ctx, vouchID, notes)
}

// GetVouch fetches a single vouch.
func (s *Service) GetVouch(ctx context.Context, vouchID uuid.UUID) (*domain.Vouch, error) {
	return s.repo.FindVouchByID(ctx, vouchID)
}

// ListVouchesForUser lists the vouches a user has received.
func (s *Service) ListVouchesForUser(ctx context.Context, vouchedUserID uuid.UUID, limit, offset int) ([]domain.Vouch, error) {
	return s.repo.FindVouchesForUser(ctx, vouchedUserID, limit, offset)
}

// evaluateCreditEligibility recomputes the vouched user's standing and, when
// the threshold is first crossed, emits the CreditEligible notification. The
// persisted notified-at stamp makes the crossing fire at most once; later
// reviews that keep the user eligible do not re-notify.
func (s *Service) evaluateCreditEligibility(ctx context.Context, userID uuid.UUID) error {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	if account.CreditEligibleNotifiedAt != nil {
		return nil
	}

	count, err := s.repo.CountTrustworthyVouches(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count trustworthy vouches: %w", err)
	}

	if count < s.cfg.EligibilityMinVouches || account.Balance < s.cfg.EligibilityMinBalance {
		return nil
	}

	notifiedAt := s.now().UTC()
	if err := s.repo.MarkCreditEligibleNotified(ctx, userID, notifiedAt); err != nil {
		if errors.Is(err, store.ErrBalanceConflict) {
			// Another review already claimed the crossing.
			return nil
		}
		return fmt.Errorf("failed to mark eligibility notified: %w", err)
	}

	s.publish(ctx, "trust.credit.eligible", domain.CreditEligiblePayload{
		UserID:             userID,
		Balance:            account.Balance,
		TrustworthyVouches: count,
		Timestamp:          notifiedAt,
	})
	return nil
}

// IsCreditEligible reports the eligibility predicate used by the lending
// collaborator: a minimum point balance plus at least one trustworthy review.
func (s *Service) IsCreditEligible(ctx context.Context, userID uuid.UUID) (bool, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	if account.Balance < s.cfg.EligibilityMinBalance {
		return false, nil
	}
	count, err := s.repo.CountTrustworthyVouches(ctx, userID)
	if err != nil {
		return false, err
	}
	return count >= s.cfg.EligibilityMinVouches, nil
}
