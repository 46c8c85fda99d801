/**
 * @description
 * This file implements the referral issuer: one-time-use codes minted per
 * referrer and redeemed into ledger credits. Generation is idempotent while a
 * code stays unused; redemption flips the code and credits the referrer as a
 * single atomic unit in the store layer.
 *
 * @dependencies
 * - crypto/sha256: Deterministic code derivation from the referrer id.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
)

const referralCodeAttempts = 5

// GenerateReferralCode returns the referrer's open code, minting one when
// none exists. Calling it repeatedly without a redemption in between always
// returns the same code.
func (s *Service) GenerateReferralCode(ctx context.Context, referrerID uuid.UUID) (*domain.ReferralCode, error) {
	existing, err := s.repo.FindUnusedReferralCodeByReferrer(ctx, referrerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrReferralCodeNotFound) {
		return nil, fmt.Errorf("failed to look up open referral code: %w", err)
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code := &domain.ReferralCode{
			Code:          deriveReferralCode(referrerID, attempt),
			ReferrerID:    referrerID,
			PointsAwarded: s.cfg.ReferralPointsAwarded,
		}
		err := s.repo.CreateReferralCode(ctx, code)
		if errors.Is(err, store.ErrDuplicateCode) {
			// Either the code value collided or a concurrent call minted the
			// referrer's open code first; prefer returning the winner.
			if existing, findErr := s.repo.FindUnusedReferralCodeByReferrer(ctx, referrerID); findErr == nil {
				return existing, nil
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to mint referral code: %w", err)
		}
		return code, nil
	}
	return nil, fmt.Errorf("exhausted referral code derivation attempts for %s", referrerID)
}

// RedeemReferralCode redeems an open code on behalf of redeemerID and credits
// the referrer. The unused -> used transition and the credit commit together.
func (s *Service) RedeemReferralCode(ctx context.Context, code string, redeemerID uuid.UUID) (*domain.ReferralCode, error) {
	open, err := s.repo.FindUnusedReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if open.ReferrerID == redeemerID {
		return nil, ErrSelfReferral
	}

	redeemed, err := s.repo.RedeemReferralCodeAtomic(ctx, code, redeemerID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "trust.referral.redeemed", map[string]interface{}{
		"code":           redeemed.Code,
		"referrer_id":    redeemed.ReferrerID,
		"redeemed_by":    redeemerID,
		"points_awarded": redeemed.PointsAwarded,
		"timestamp":      redeemed.UsedAt,
	})
	return redeemed, nil
}

// deriveReferralCode builds a deterministic, collision-avoidant code from the
// referrer id and a retry suffix.
func deriveReferralCode(referrerID uuid.UUID, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", referrerID, attempt)))
	return "ref-" + hex.EncodeToString(sum[:])[:8]
}
