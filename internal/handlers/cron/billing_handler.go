// Package cron exposes the HTTP endpoints a scheduler hits to drive the
// billing engine.
package cron

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/billing-engine/internal/services/ports"
	"github.com/kevin07696/billing-engine/pkg/observability"
)

// BillingHandler handles cron job endpoints for recurring billing
type BillingHandler struct {
	subscriptionService ports.SubscriptionService
	transactionService  ports.TransactionService
	logger              *zap.Logger
	cronSecret          string // Secret token for authenticating cron requests
}

// NewBillingHandler creates a new billing cron handler
func NewBillingHandler(
	subscriptionService ports.SubscriptionService,
	transactionService ports.TransactionService,
	logger *zap.Logger,
	cronSecret string,
) *BillingHandler {
	return &BillingHandler{
		subscriptionService: subscriptionService,
		transactionService:  transactionService,
		logger:              logger,
		cronSecret:          cronSecret,
	}
}

// ProcessBillingRequest represents the request body for a billing run
type ProcessBillingRequest struct {
	// AsOfDate is an optional ISO date; the run bills as if it were that day.
	AsOfDate *string `json:"as_of_date"`
	// SubscriptionIDs optionally restricts the run to specific subscriptions.
	SubscriptionIDs []string `json:"subscription_ids"`
}

// ProcessBillingResponse represents the result of a billing run
type ProcessBillingResponse struct {
	Success     bool     `json:"success"`
	Yielded     int      `json:"yielded"`
	Submitted   int      `json:"submitted"`
	Errors      []string `json:"errors,omitempty"`
	ProcessedAt string   `json:"processed_at"`
}

// ProcessBilling handles the POST /cron/process-billing endpoint. A run first
// yields every due billing period into transactions, then submits all pending
// transactions to the processor. Both halves are idempotent, so a scheduler
// retrying after a timeout never double-charges.
func (h *BillingHandler) ProcessBilling(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Billing cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ProcessBillingRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("Failed to parse request body", zap.Error(err))
			// Continue with defaults if parsing fails
		}
	}

	var asOf *time.Time
	if req.AsOfDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.AsOfDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid as_of_date format: %v", err))
			return
		}
		asOf = &parsed
	}

	started := time.Now()
	ctx := r.Context()
	var errs []string

	yielded, err := h.subscriptionService.YieldTransactions(ctx, req.SubscriptionIDs, asOf)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Submit everything pending, not just this run's yield: transactions left
	// RETRYING by earlier runs get their next attempt here.
	submitted, err := h.transactionService.ProcessTransactions(ctx, nil)
	if err != nil {
		errs = append(errs, err.Error())
	}

	resp := ProcessBillingResponse{
		Success:     len(errs) == 0,
		Yielded:     len(yielded),
		Submitted:   len(submitted),
		Errors:      errs,
		ProcessedAt: time.Now().Format(time.RFC3339),
	}

	observability.BillingRunDuration.Observe(time.Since(started).Seconds())
	if resp.Success {
		observability.BillingRuns.WithLabelValues("ok").Inc()
	} else {
		observability.BillingRuns.WithLabelValues("error").Inc()
	}

	h.logger.Info("Billing run completed",
		zap.Int("yielded", resp.Yielded),
		zap.Int("submitted", resp.Submitted),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(started)),
	)

	w.Header().Set("Content-Type", "application/json")
	if resp.Success {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusPartialContent) // 206 indicates partial success
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// authenticateRequest verifies the cron request is authorized
func (h *BillingHandler) authenticateRequest(r *http.Request) bool {
	// Check X-Cron-Secret header
	cronSecret := r.Header.Get("X-Cron-Secret")
	if cronSecret != "" && cronSecret == h.cronSecret {
		return true
	}

	// Check Authorization header (Bearer token)
	authHeader := r.Header.Get("Authorization")
	if authHeader == "Bearer "+h.cronSecret {
		return true
	}

	return false
}

// respondError sends an error response
func (h *BillingHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// HealthCheck handles GET /cron/health for monitoring
func (h *BillingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}

	json.NewEncoder(w).Encode(resp)
}
