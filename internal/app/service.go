/**
 * @description
 * This file contains the core service wiring for the trust-service. The `Service`
 * struct orchestrates the trust-point ledger, the vouch workflow and the referral
 * issuer, coordinating between the database repository, the external ego-score
 * adapter, and the message broker.
 *
 * Key features:
 * - Every balance mutation goes through compare-and-set writes with bounded
 *   retry, so concurrent operations on the same account serialize without locks.
 * - External calls (ego-score lookups) run under a timeout and degrade rather
 *   than fail the surrounding operation where the contract allows it.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lendcircle/trust-service/internal/store"
	"github.com/lendcircle/trust-service/pkg/rabbitmq"
)

const (
	// EventsExchange is the durable topic exchange all trust events go to.
	EventsExchange = "lendcircle.events"

	// casMaxRetries bounds the whole-operation retry loop around a
	// compare-and-set conflict before the operation reports ErrContention.
	casMaxRetries = 3

	externalCallTimeout = 10 * time.Second
)

// Business-logic errors surfaced by the service layer.
var (
	ErrInvalidAmount        = errors.New("amount must be a positive integer")
	ErrInsufficientFunds    = errors.New("insufficient trust points")
	ErrContention           = errors.New("too many concurrent balance updates; try again")
	ErrPartialFailure       = errors.New("receiver credit failed; sender was compensated")
	ErrUnrecoverable        = errors.New("ledger imbalance: compensation failed")
	ErrSelfReferral         = errors.New("cannot redeem your own referral code")
	ErrVouchAlreadyReviewed = errors.New("vouch has already been reviewed")
	ErrExternalUnavailable  = errors.New("external collaborator unavailable")
)

// TooSoonError reports a daily grant attempted before the minimum interval
// elapsed, carrying how long the caller has to wait.
type TooSoonError struct {
	RetryAfter time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("daily grant not yet available; retry in %s", e.RetryAfter.Round(time.Second))
}

// TrustScoreAdapter is the external ego-score collaborator. Implemented by
// pkg/trustscoreclient.
type TrustScoreAdapter interface {
	GetTrustScore(ctx context.Context, identity string) (float64, error)
}

// ScoreTier maps a minimum ego score to the trust points granted at
// initialization time. Tiers are evaluated highest threshold first.
type ScoreTier struct {
	MinScore float64
	Points   int64
}

// Config carries the tunable policy knobs of the ledger and workflows.
type Config struct {
	DailyGrantPoints      int64
	DailyGrantMinInterval time.Duration
	ReferralPointsAwarded int64
	EligibilityMinBalance int64
	EligibilityMinVouches int
	InitGraceWindow       time.Duration
	AutoCheckMinScore     float64
	ScoreTiers            []ScoreTier
}

// Service provides the core business logic for the trust ledger.
type Service struct {
	repo          store.Repository
	scores        TrustScoreAdapter
	scoreCache    *ScoreCache
	eventProducer rabbitmq.Publisher
	cfg           Config

	rateLimiter          ActionRateLimiter
	vouchLimitPerMinute  int
	redeemLimitPerMinute int

	now func() time.Time
}

// NewService creates a new trust service instance.
func NewService(repo store.Repository, scores TrustScoreAdapter, scoreCache *ScoreCache, producer rabbitmq.Publisher, cfg Config) *Service {
	return &Service{
		repo:          repo,
		scores:        scores,
		scoreCache:    scoreCache,
		eventProducer: producer,
		cfg:           cfg,
		now:           time.Now,
	}
}

// ConfigureRateLimits sets the per-minute limits enforced on vouch recording
// and referral redemption. Zero disables a limit.
func (s *Service) ConfigureRateLimits(vouchPerMinute, redeemPerMinute int) {
	s.vouchLimitPerMinute = vouchPerMinute
	s.redeemLimitPerMinute = redeemPerMinute
}

// SetActionRateLimiter injects the distributed rate limiter. Without one,
// limits are not enforced.
func (s *Service) SetActionRateLimiter(limiter ActionRateLimiter) {
	s.rateLimiter = limiter
}

// publish sends an event without letting delivery failures affect the caller.
// Notification delivery is fire-and-forget: ledger state that triggered an
// event must stand even when the broker is down.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// lookupScore resolves an ego score through the expiring cache, falling back
// to the adapter under a bounded timeout.
func (s *Service) lookupScore(ctx context.Context, identity string) (float64, error) {
	if s.scoreCache != nil {
		if score, ok := s.scoreCache.Get(identity); ok {
			return score, nil
		}
	}
	if s.scores == nil {
		return 0, ErrExternalUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()

	score, err := s.scores.GetTrustScore(callCtx, identity)
	if err != nil {
		return 0, fmt.Errorf("ego score lookup for %s: %w", identity, ErrExternalUnavailable)
	}
	if s.scoreCache != nil {
		s.scoreCache.Put(identity, score)
	}
	return score, nil
}

// tierFor resolves the initialization grant for a score. Tiers are checked
// highest first; no matching tier grants zero points.
func (s *Service) tierFor(score float64) int64 {
	var best int64
	var bestScore float64 = -1
	for _, tier := range s.cfg.ScoreTiers {
		if score >= tier.MinScore && tier.MinScore > bestScore {
			best = tier.Points
			bestScore = tier.MinScore
		}
	}
	return best
}
