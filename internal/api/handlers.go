/**
 * @description
 * This file contains the HTTP handlers for the trust-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/app"
	"github.com/lendcircle/trust-service/internal/domain"
	"github.com/lendcircle/trust-service/internal/store"
)

// TrustHandlers holds the application service that handlers will use.
type TrustHandlers struct {
	service *app.Service
	monitor *app.BalanceDeltaMonitor
	wallets app.WalletBalanceClient
}

// NewTrustHandlers creates a new instance of TrustHandlers.
func NewTrustHandlers(service *app.Service, monitor *app.BalanceDeltaMonitor, wallets app.WalletBalanceClient) *TrustHandlers {
	return &TrustHandlers{service: service, monitor: monitor, wallets: wallets}
}

// balanceResponse is returned by the balance endpoint. Eligibility is computed
// on the fly so the mobile client always renders the current state.
type balanceResponse struct {
	UserID         string `json:"user_id"`
	Balance        int64  `json:"balance"`
	CreditEligible bool   `json:"credit_eligible"`
}

// authorizedUserID resolves the authenticated subject into an internal UUID.
// Writes the error response itself and returns false when resolution fails.
func (h *TrustHandlers) authorizedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id subject=%s", subject)
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

// TransferHandler handles requests for point-to-point trust transfers.
func (h *TrustHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.Transfer(r.Context(), senderID, req.ToUserID, req.Amount); err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=failed sender_id=%s err=%v", senderID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=transfer outcome=ok sender_id=%s recipient_id=%s amount=%d", senderID, req.ToUserID, req.Amount)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// DailyGrantHandler credits the caller's once-a-day free point.
func (h *TrustHandlers) DailyGrantHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	account, err := h.service.GrantDaily(r.Context(), userID)
	if err != nil {
		var tooSoon *app.TooSoonError
		if errors.As(err, &tooSoon) {
			w.Header().Set("Retry-After", strconv.Itoa(int(tooSoon.RetryAfter.Seconds())))
			h.writeError(w, http.StatusTooManyRequests, tooSoon.Error())
			return
		}
		log.Printf("level=warn component=api endpoint=daily_grant outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// BalanceHandler returns the caller's trust balance and credit eligibility.
func (h *TrustHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=balance outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}
	eligible, err := h.service.IsCreditEligible(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=balance msg=\"eligibility check failed\" user_id=%s err=%v", userID, err)
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		UserID:         account.UserID.String(),
		Balance:        account.Balance,
		CreditEligible: eligible,
	})
}

// RecordVouchHandler records a vouch and kicks off the automated ego-score
// check in the background. The vouch is accepted as soon as the point
// transfer and the vouch row are committed.
func (h *TrustHandlers) RecordVouchHandler(w http.ResponseWriter, r *http.Request) {
	voucherID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	if allowed, retryAfter := h.service.CheckVouchRateLimit(r.Context(), voucherID.String()); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many vouches; slow down")
		return
	}

	var req domain.RecordVouchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=record_vouch outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	vouch, err := h.service.RecordVouch(r.Context(), voucherID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=record_vouch outcome=failed voucher_id=%s err=%v", voucherID, err)
		h.writeServiceError(w, err)
		return
	}

	// The automated check consults an external collaborator; run it off the
	// request path so a slow upstream never delays the response.
	go func(v domain.Vouch) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := h.service.AutoCheck(ctx, &v); err != nil {
			log.Printf("level=warn component=api endpoint=record_vouch msg=\"auto check failed\" vouch_id=%s err=%v", v.ID, err)
		}
	}(*vouch)

	h.writeJSON(w, http.StatusCreated, vouch)
}

// ReviewVouchHandler applies a human reviewer's verdict to a vouch.
func (h *TrustHandlers) ReviewVouchHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	vouchID, err := uuid.Parse(chi.URLParam(r, "vouchID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid vouch ID")
		return
	}

	var req domain.ReviewVouchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	vouch, err := h.service.ReviewVouch(r.Context(), vouchID, reviewerID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=review_vouch outcome=failed vouch_id=%s reviewer_id=%s err=%v", vouchID, reviewerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, vouch)
}

// AmendVouchNotesHandler updates the free-text notes of an already reviewed
// vouch. The verdict itself is immutable.
func (h *TrustHandlers) AmendVouchNotesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizedUserID(w, r); !ok {
		return
	}

	vouchID, err := uuid.Parse(chi.URLParam(r, "vouchID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid vouch ID")
		return
	}

	var req struct {
		Notes *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.AmendReviewNotes(r.Context(), vouchID, req.Notes); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GetVouchHandler fetches a single vouch by ID.
func (h *TrustHandlers) GetVouchHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizedUserID(w, r); !ok {
		return
	}

	vouchID, err := uuid.Parse(chi.URLParam(r, "vouchID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid vouch ID")
		return
	}

	vouch, err := h.service.GetVouch(r.Context(), vouchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, vouch)
}

// ListUserVouchesHandler lists the vouches received by a user, newest first.
func (h *TrustHandlers) ListUserVouchesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorizedUserID(w, r); !ok {
		return
	}

	vouchedUserID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	vouches, err := h.service.ListVouchesForUser(r.Context(), vouchedUserID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, vouches)
}

// GenerateReferralCodeHandler returns the caller's active referral code,
// minting one if none exists.
func (h *TrustHandlers) GenerateReferralCodeHandler(w http.ResponseWriter, r *http.Request) {
	referrerID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	code, err := h.service.GenerateReferralCode(r.Context(), referrerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=generate_referral outcome=failed referrer_id=%s err=%v", referrerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, code)
}

// RedeemReferralCodeHandler redeems a one-time referral code for the caller.
func (h *TrustHandlers) RedeemReferralCodeHandler(w http.ResponseWriter, r *http.Request) {
	redeemerID, ok := h.authorizedUserID(w, r)
	if !ok {
		return
	}

	if allowed, retryAfter := h.service.CheckRedeemRateLimit(r.Context(), redeemerID.String()); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many redemption attempts; slow down")
		return
	}

	var req domain.RedeemReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	code, err := h.service.RedeemReferralCode(r.Context(), req.Code, redeemerID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=redeem_referral outcome=failed redeemer_id=%s err=%v", redeemerID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, code)
}

// WalletBalanceHandler reads the observed stablecoin balance of a funding
// wallet and feeds the observation to the delta monitor off the request path.
func (h *TrustHandlers) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "walletID")
	if walletID == "" {
		h.writeError(w, http.StatusBadRequest, "Wallet ID required")
		return
	}

	resp, err := h.wallets.GetObservedBalance(r.Context(), walletID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=wallet_balance outcome=failed wallet_id=%s err=%v", walletID, err)
		h.writeError(w, http.StatusServiceUnavailable, "Wallet service unavailable")
		return
	}

	go func(observed int64) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := h.monitor.Evaluate(ctx, walletID, observed); err != nil {
			log.Printf("level=warn component=api endpoint=wallet_balance msg=\"monitor evaluation failed\" wallet_id=%s err=%v", walletID, err)
		}
	}(resp.Data.ObservedBalance)

	h.writeJSON(w, http.StatusOK, domain.WalletBalance{
		WalletID:        resp.Data.WalletID,
		ObservedBalance: resp.Data.ObservedBalance,
	})
}

// WalletObservationHandler is the internal hook the chain watcher calls with
// a balance it already observed. No wallet service round trip is made.
func (h *TrustHandlers) WalletObservationHandler(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "walletID")
	if walletID == "" {
		h.writeError(w, http.StatusBadRequest, "Wallet ID required")
		return
	}

	var req struct {
		ObservedBalance int64 `json:"observed_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.monitor.Evaluate(r.Context(), walletID, req.ObservedBalance)
	if err != nil {
		log.Printf("level=warn component=api endpoint=wallet_observation outcome=failed wallet_id=%s err=%v", walletID, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// writeServiceError maps service-layer errors onto HTTP status codes.
func (h *TrustHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrVouchNotFound):
		h.writeError(w, http.StatusNotFound, "Vouch not found")
	case errors.Is(err, store.ErrReferralCodeNotFound):
		h.writeError(w, http.StatusNotFound, "Referral code not found or already used")
	case errors.Is(err, app.ErrVouchAlreadyReviewed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrSelfReferral):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrContention):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrExternalUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrPartialFailure):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TrustHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TrustHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
