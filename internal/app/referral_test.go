package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
)

type referralRepoStub struct {
	*ledgerRepoStub

	codes          map[string]*domain.ReferralCode
	createCodeErrs []error

	// findByReferrerMisses forces that many not-found results before the
	// real lookup runs, to stage insert races.
	findByReferrerMisses int
}

func newReferralRepoStub() *referralRepoStub {
	return &referralRepoStub{
		ledgerRepoStub: newLedgerRepoStub(),
		codes:          make(map[string]*domain.ReferralCode),
	}
}

func (s *referralRepoStub) FindUnusedReferralCodeByReferrer(ctx context.Context, referrerID uuid.UUID) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByReferrerMisses > 0 {
		s.findByReferrerMisses--
		return nil, store.ErrReferralCodeNotFound
	}
	for _, code := range s.codes {
		if code.ReferrerID == referrerID && !code.Used {
			copied := *code
			return &copied, nil
		}
	}
	return nil, store.ErrReferralCodeNotFound
}

func (s *referralRepoStub) CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error {
	if len(s.createCodeErrs) > 0 {
		err := s.createCodeErrs[0]
		s.createCodeErrs = s.createCodeErrs[1:]
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[code.Code]; exists {
		return store.ErrDuplicateCode
	}
	copied := *code
	copied.CreatedAt = time.Now().UTC()
	s.codes[code.Code] = &copied
	return nil
}

func (s *referralRepoStub) FindUnusedReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.codes[code]
	if !ok || stored.Used {
		return nil, store.ErrReferralCodeNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *referralRepoStub) RedeemReferralCodeAtomic(ctx context.Context, code string, redeemerID uuid.UUID, redeemedAt time.Time) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.codes[code]
	if !ok || stored.Used {
		return nil, store.ErrReferralCodeNotFound
	}
	stored.Used = true
	stamped := redeemedAt
	stored.UsedAt = &stamped
	redeemer := redeemerID
	stored.RedeemedBy = &redeemer

	account, ok := s.accounts[stored.ReferrerID]
	if !ok {
		account = &domain.Account{UserID: stored.ReferrerID, CreatedAt: time.Now().UTC()}
		s.accounts[stored.ReferrerID] = account
	}
	account.Balance += stored.PointsAwarded

	copied := *stored
	return &copied, nil
}

func TestGenerateReferralCode_IsIdempotentWhileUnused(t *testing.T) {
	repo := newReferralRepoStub()
	referrer := uuid.New()

	svc := newTestService(repo, nil, nil)

	first, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("first GenerateReferralCode returned error: %v", err)
	}
	second, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("second GenerateReferralCode returned error: %v", err)
	}
	if first.Code != second.Code {
		t.Errorf("codes differ: %q vs %q", first.Code, second.Code)
	}
	if len(repo.codes) != 1 {
		t.Errorf("stored codes = %d, want 1", len(repo.codes))
	}
}

func TestGenerateReferralCode_MintsFreshCodeAfterRedemption(t *testing.T) {
	repo := newReferralRepoStub()
	referrer := uuid.New()
	redeemer := uuid.New()

	svc := newTestService(repo, nil, nil)

	first, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("GenerateReferralCode returned error: %v", err)
	}

	if _, err := svc.RedeemReferralCode(context.Background(), first.Code, redeemer); err != nil {
		t.Fatalf("RedeemReferralCode returned error: %v", err)
	}

	second, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("GenerateReferralCode after redemption returned error: %v", err)
	}
	if second.Code == first.Code {
		t.Errorf("expected a fresh code after redemption, got %q again", second.Code)
	}
}

func TestGenerateReferralCode_ReturnsConcurrentWinner(t *testing.T) {
	repo := newReferralRepoStub()
	referrer := uuid.New()

	// A concurrent call wins the insert race: the initial lookup misses,
	// our insert reports a duplicate, and the re-lookup finds the winner.
	winner := &domain.ReferralCode{Code: "ref-winner", ReferrerID: referrer, PointsAwarded: 1}
	repo.codes[winner.Code] = winner
	repo.findByReferrerMisses = 1
	repo.createCodeErrs = []error{store.ErrDuplicateCode}

	svc := newTestService(repo, nil, nil)

	got, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("GenerateReferralCode returned error: %v", err)
	}
	if got.Code != "ref-winner" {
		t.Errorf("code = %q, want the concurrent winner's code", got.Code)
	}
}

func TestRedeemReferralCode_CreditsReferrerOnce(t *testing.T) {
	repo := newReferralRepoStub()
	referrer := uuid.New()
	redeemer := uuid.New()
	repo.seed(referrer, 0, time.Now())

	producer := &publisherStub{}
	svc := newTestService(repo, nil, producer)

	code, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("GenerateReferralCode returned error: %v", err)
	}

	redeemed, err := svc.RedeemReferralCode(context.Background(), code.Code, redeemer)
	if err != nil {
		t.Fatalf("RedeemReferralCode returned error: %v", err)
	}
	if !redeemed.Used {
		t.Error("code not marked used")
	}
	if redeemed.RedeemedBy == nil || *redeemed.RedeemedBy != redeemer {
		t.Error("redeemer not recorded")
	}
	if got := repo.balance(t, referrer); got != 1 {
		t.Errorf("referrer balance = %d, want 1", got)
	}
	if got := producer.count("trust.referral.redeemed"); got != 1 {
		t.Errorf("redeemed events = %d, want 1", got)
	}

	// The second redemption must fail and not credit again.
	_, err = svc.RedeemReferralCode(context.Background(), code.Code, uuid.New())
	if !errors.Is(err, store.ErrReferralCodeNotFound) {
		t.Fatalf("second redemption error = %v, want ErrReferralCodeNotFound", err)
	}
	if got := repo.balance(t, referrer); got != 1 {
		t.Errorf("referrer balance = %d, want still 1", got)
	}
}

func TestRedeemReferralCode_RejectsSelfReferral(t *testing.T) {
	repo := newReferralRepoStub()
	referrer := uuid.New()
	repo.seed(referrer, 0, time.Now())

	svc := newTestService(repo, nil, nil)

	code, err := svc.GenerateReferralCode(context.Background(), referrer)
	if err != nil {
		t.Fatalf("GenerateReferralCode returned error: %v", err)
	}

	_, err = svc.RedeemReferralCode(context.Background(), code.Code, referrer)
	if !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("RedeemReferralCode error = %v, want ErrSelfReferral", err)
	}
	if got := repo.balance(t, referrer); got != 0 {
		t.Errorf("referrer balance = %d, want 0", got)
	}
}

func TestRedeemReferralCode_UnknownCode(t *testing.T) {
	repo := newReferralRepoStub()
	svc := newTestService(repo, nil, nil)

	_, err := svc.RedeemReferralCode(context.Background(), "ref-missing", uuid.New())
	if !errors.Is(err, store.ErrReferralCodeNotFound) {
		t.Fatalf("RedeemReferralCode error = %v, want ErrReferralCodeNotFound", err)
	}
}
