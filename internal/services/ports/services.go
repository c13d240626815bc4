// Package ports declares the service-level interfaces the engines implement
// and consume from each other.
package ports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/billing-engine/internal/domain/models"
)

// CreateSubscriptionParams carries the inputs of SubscriptionService.Create
type CreateSubscriptionParams struct {
	CustomerID        string
	PlanID            string
	FundingInstrument string
	// AmountCents overrides the plan amount when set; must be > 0
	AmountCents *int64
	// StartedAt defaults to now and must not be in the past
	StartedAt *time.Time
}

// CancelSubscriptionParams carries the inputs of SubscriptionService.Cancel.
// At most one of ProratedRefund / RefundAmountCents may be set.
type CancelSubscriptionParams struct {
	SubscriptionID    string
	ProratedRefund    bool
	RefundAmountCents *int64
}

// SubscriptionService owns the recurring billing cycle
type SubscriptionService interface {
	Create(ctx context.Context, params CreateSubscriptionParams) (*models.Subscription, error)
	Cancel(ctx context.Context, params CancelSubscriptionParams) (*models.Subscription, error)
	// YieldTransactions materializes every due billing period as an
	// invoice/transaction pair, advancing each subscription until nothing
	// is due at now. Returns the created transaction ids.
	YieldTransactions(ctx context.Context, subscriptionIDs []string, now *time.Time) ([]string, error)
	Get(ctx context.Context, subscriptionID string) (*models.Subscription, error)
}

// CreateInvoiceParams carries the inputs of InvoiceService.Create.
// Exactly one of SubscriptionID / CustomerID must be set.
type CreateInvoiceParams struct {
	SubscriptionID    string
	CustomerID        string
	AmountCents       int64
	Title             string
	FundingInstrument string
	// ExternalID is the caller-supplied idempotency key for customer invoices
	ExternalID  *string
	Items       []models.Item
	Adjustments []models.Adjustment
	// ScheduledAt backdates the generated transaction; used by subscription
	// billing so the transaction carries its due instant, not the wall clock.
	ScheduledAt *time.Time
}

// InvoiceService owns the invoice lifecycle
type InvoiceService interface {
	Create(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, *models.Transaction, error)
	// CreateTx is Create running inside the caller's database transaction,
	// so a subscription and the invoice it produced commit atomically.
	CreateTx(ctx context.Context, tx pgx.Tx, params CreateInvoiceParams) (*models.Invoice, *models.Transaction, error)
	UpdateFundingInstrument(ctx context.Context, invoiceID, fundingInstrument string) ([]*models.Transaction, error)
	Cancel(ctx context.Context, invoiceID string) (*models.Invoice, error)
	Refund(ctx context.Context, invoiceID string, amountCents int64, note string) (*models.Transaction, error)
	// RefundTx is Refund running inside the caller's database transaction
	RefundTx(ctx context.Context, tx pgx.Tx, invoiceID string, amountCents int64, note string) (*models.Transaction, error)
	Get(ctx context.Context, invoiceID string) (*models.Invoice, error)
}

// CreateTransactionParams carries the inputs of TransactionService.CreateTx
type CreateTransactionParams struct {
	InvoiceID         string
	Type              models.TransactionType
	AmountCents       int64
	FundingInstrument string
	// RefundToID references the DONE charge/payout a refund reverses.
	// Required for refunds, forbidden otherwise.
	RefundToID  *string
	ScheduledAt time.Time
}

// TransactionService submits transactions to the processor gateway
type TransactionService interface {
	// CreateTx validates and inserts a transaction inside the caller's
	// database transaction.
	CreateTx(ctx context.Context, tx pgx.Tx, params CreateTransactionParams) (*models.Transaction, error)
	// ProcessOne submits a single pending transaction to the gateway,
	// guarded by the gateway-side idempotency re-check.
	ProcessOne(ctx context.Context, transactionID string) (*models.Transaction, error)
	// ProcessTransactions submits every INIT/RETRYING transaction,
	// optionally scoped to candidates, and returns the ids attempted.
	ProcessTransactions(ctx context.Context, candidateIDs []string) ([]string, error)
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*models.Transaction, error)
}
