package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/billing-engine/internal/domain/models"
)

// SubscriptionRepository persists subscriptions
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, sub *models.Subscription) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Subscription, error)
	// GetForUpdate reads the subscription row under an exclusive lock.
	// Must be called inside a transaction.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Subscription, error)
	Update(ctx context.Context, tx DBTX, sub *models.Subscription) error
	// ListDueForUpdate selects non-canceled subscriptions with
	// next_transaction_at <= now, locking the returned rows. Rows already
	// locked by a concurrent worker are skipped so workers partition the
	// due set instead of serializing on it. An empty ids slice means all
	// subscriptions are candidates.
	ListDueForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, ids []uuid.UUID, limit int32) ([]*models.Subscription, error)
}

// PlanRepository persists billing plans
type PlanRepository interface {
	Create(ctx context.Context, tx DBTX, plan *models.Plan) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Plan, error)
}

// CustomerRepository persists customers
type CustomerRepository interface {
	Create(ctx context.Context, tx DBTX, customer *models.Customer) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Customer, error)
	// UpdateProcessorURI records the gateway-side customer identifier once
	// the customer has been registered with the processor.
	UpdateProcessorURI(ctx context.Context, tx DBTX, id uuid.UUID, processorURI string) error
}

// InvoiceRepository persists invoices with their items and adjustments
type InvoiceRepository interface {
	// Create inserts the invoice, then its items, then its adjustments.
	// A unique violation on (customer_id, external_id) is reported as
	// domain.ErrDuplicateExternalID.
	Create(ctx context.Context, tx DBTX, invoice *models.Invoice) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Invoice, error)
	// GetForUpdate reads the invoice row under an exclusive lock.
	// Must be called inside a transaction.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error)
	UpdateStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.InvoiceStatus) error
	UpdateFundingInstrument(ctx context.Context, tx DBTX, id uuid.UUID, fundingInstrument string) error
	// GetCustomer resolves the owning customer of either invoice variant:
	// directly for customer invoices, through the subscription for
	// subscription invoices.
	GetCustomer(ctx context.Context, db DBTX, invoiceID uuid.UUID) (*models.Customer, error)
}

// TransactionRepository persists transactions and their failure log
type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, txn *models.Transaction) error
	GetByID(ctx context.Context, db DBTX, id uuid.UUID) (*models.Transaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	Update(ctx context.Context, tx DBTX, txn *models.Transaction) error
	ListByInvoice(ctx context.Context, db DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error)
	// ListOutstandingByInvoice returns the INIT/RETRYING transactions of an
	// invoice. Callers hold the invoice row lock, which serializes access.
	ListOutstandingByInvoice(ctx context.Context, db DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error)
	// ListPending selects all INIT/RETRYING transactions that are due for
	// submission, optionally scoped to a candidate id set.
	ListPending(ctx context.Context, db DBTX, ids []uuid.UUID, limit int32) ([]*models.Transaction, error)
	// SumRefunds sums refund transaction amounts on an invoice, excluding
	// terminally failed and canceled refunds.
	SumRefunds(ctx context.Context, db DBTX, invoiceID uuid.UUID) (int64, error)
	// FindSettledCharge returns the DONE charge or payout transaction of an
	// invoice, the reference target for refunds.
	FindSettledCharge(ctx context.Context, db DBTX, invoiceID uuid.UUID) (*models.Transaction, error)
	// LastBySubscription returns the most recent non-refund transaction
	// produced by a subscription's billing cycle, or nil if none exists.
	LastBySubscription(ctx context.Context, db DBTX, subscriptionID uuid.UUID) (*models.Transaction, error)
	AddFailure(ctx context.Context, tx DBTX, failure *models.TransactionFailure) error
	ListFailures(ctx context.Context, db DBTX, transactionID uuid.UUID) ([]*models.TransactionFailure, error)
}
