package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
)

// TransactionRepository implements ports.TransactionRepository with pgx
type TransactionRepository struct {
	db ports.DBPort
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db ports.DBPort) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) exec(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const transactionColumns = `id, invoice_id, type, amount_cents, funding_instrument,
	refund_to_id, status, processor_uri, failure_count, scheduled_at, created_at, updated_at`

// Create inserts a new transaction
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	txnID, err := uuid.Parse(txn.ID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}
	invoiceID, err := uuid.Parse(txn.InvoiceID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID: %w", err)
	}
	refundToID, err := nullUUIDPtr(txn.RefundToID)
	if err != nil {
		return fmt.Errorf("invalid refund target ID: %w", err)
	}

	_, err = r.exec(tx).Exec(ctx, `
		INSERT INTO transactions (
			id, invoice_id, type, amount_cents, funding_instrument,
			refund_to_id, status, processor_uri, failure_count, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txnID, invoiceID, string(txn.Type), txn.AmountCents, nullText(txn.FundingInstrument),
		refundToID, string(txn.Status), txn.ProcessorURI, txn.FailureCount, txn.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its ID
func (r *TransactionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Transaction, error) {
	row := r.exec(db).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetForUpdate reads the transaction row under an exclusive lock
func (r *TransactionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

// Update persists transaction fields
func (r *TransactionRepository) Update(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	txnID, err := uuid.Parse(txn.ID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	tag, err := r.exec(tx).Exec(ctx, `
		UPDATE transactions SET
			status = $2,
			processor_uri = $3,
			failure_count = $4,
			updated_at = now()
		WHERE id = $1`,
		txnID, string(txn.Status), txn.ProcessorURI, txn.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTxnNotFound
	}

	return nil
}

// ListByInvoice returns all transactions of an invoice, oldest first
func (r *TransactionRepository) ListByInvoice(ctx context.Context, db ports.DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error) {
	return r.list(ctx, db,
		`SELECT `+transactionColumns+` FROM transactions WHERE invoice_id = $1 ORDER BY created_at`,
		invoiceID)
}

// ListOutstandingByInvoice returns the INIT/RETRYING transactions of an invoice
func (r *TransactionRepository) ListOutstandingByInvoice(ctx context.Context, db ports.DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error) {
	return r.list(ctx, db,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE invoice_id = $1 AND status IN ('init', 'retrying')
		 ORDER BY created_at`,
		invoiceID)
}

// ListPending selects INIT/RETRYING transactions due for submission
func (r *TransactionRepository) ListPending(ctx context.Context, db ports.DBTX, ids []uuid.UUID, limit int32) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status IN ('init', 'retrying')`
	args := []interface{}{}

	if len(ids) > 0 {
		query += ` AND id = ANY($1)`
		args = append(args, ids)
	}
	query += fmt.Sprintf(` ORDER BY scheduled_at LIMIT %d`, limit)

	return r.list(ctx, db, query, args...)
}

// SumRefunds sums refund amounts on an invoice, excluding failed and canceled refunds
func (r *TransactionRepository) SumRefunds(ctx context.Context, db ports.DBTX, invoiceID uuid.UUID) (int64, error) {
	var total int64
	err := r.exec(db).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE invoice_id = $1 AND type = 'refund' AND status NOT IN ('failed', 'canceled')`,
		invoiceID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return total, nil
}

// FindSettledCharge returns the DONE charge/payout transaction of an invoice
func (r *TransactionRepository) FindSettledCharge(ctx context.Context, db ports.DBTX, invoiceID uuid.UUID) (*models.Transaction, error) {
	row := r.exec(db).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE invoice_id = $1 AND type IN ('charge', 'payout') AND status = 'done'
		 ORDER BY updated_at DESC LIMIT 1`,
		invoiceID)
	return scanTransaction(row)
}

// LastBySubscription returns the most recent non-refund transaction produced
// by a subscription's billing cycle, or nil when the subscription has not
// been billed yet.
func (r *TransactionRepository) LastBySubscription(ctx context.Context, db ports.DBTX, subscriptionID uuid.UUID) (*models.Transaction, error) {
	row := r.exec(db).QueryRow(ctx, `
		SELECT `+prefixedTransactionColumns("t")+`
		FROM transactions t
		JOIN invoices i ON i.id = t.invoice_id
		WHERE i.subscription_id = $1 AND t.type <> 'refund'
		ORDER BY t.scheduled_at DESC, t.created_at DESC LIMIT 1`,
		subscriptionID)
	txn, err := scanTransaction(row)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeTxnNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

// AddFailure appends a failure record for a transaction
func (r *TransactionRepository) AddFailure(ctx context.Context, tx ports.DBTX, failure *models.TransactionFailure) error {
	failureID, err := uuid.Parse(failure.ID)
	if err != nil {
		return fmt.Errorf("invalid failure ID: %w", err)
	}
	txnID, err := uuid.Parse(failure.TransactionID)
	if err != nil {
		return fmt.Errorf("invalid transaction ID: %w", err)
	}

	_, err = r.exec(tx).Exec(ctx, `
		INSERT INTO transaction_failures (id, transaction_id, message, code, number)
		VALUES ($1, $2, $3, $4, $5)`,
		failureID, txnID, failure.Message, failure.Code, failure.Number,
	)
	if err != nil {
		return fmt.Errorf("add transaction failure: %w", err)
	}

	return nil
}

// ListFailures returns a transaction's failure log, oldest first
func (r *TransactionRepository) ListFailures(ctx context.Context, db ports.DBTX, transactionID uuid.UUID) ([]*models.TransactionFailure, error) {
	rows, err := r.exec(db).Query(ctx, `
		SELECT id, transaction_id, message, code, number, created_at
		FROM transaction_failures WHERE transaction_id = $1 ORDER BY created_at`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("list transaction failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.TransactionFailure
	for rows.Next() {
		var f models.TransactionFailure
		var id, txnID uuid.UUID
		var code pgtype.Text
		if err := rows.Scan(&id, &txnID, &f.Message, &code, &f.Number, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction failure: %w", err)
		}
		f.ID = id.String()
		f.TransactionID = txnID.String()
		f.Code = code.String
		failures = append(failures, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transaction failures: %w", err)
	}

	return failures, nil
}

func (r *TransactionRepository) list(ctx context.Context, db ports.DBTX, query string, args ...interface{}) ([]*models.Transaction, error) {
	rows, err := r.exec(db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return txns, nil
}

// prefixedTransactionColumns qualifies the column list for joined queries
func prefixedTransactionColumns(alias string) string {
	return alias + `.id, ` + alias + `.invoice_id, ` + alias + `.type, ` + alias + `.amount_cents, ` +
		alias + `.funding_instrument, ` + alias + `.refund_to_id, ` + alias + `.status, ` +
		alias + `.processor_uri, ` + alias + `.failure_count, ` + alias + `.scheduled_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

// scanTransaction reads one transaction row into a domain model
func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		id, invoiceID         uuid.UUID
		refundToID            pgtype.UUID
		funding, processorURI pgtype.Text
		txnType, status       string
		txn                   models.Transaction
	)

	err := row.Scan(
		&id, &invoiceID, &txnType, &txn.AmountCents, &funding,
		&refundToID, &status, &processorURI, &txn.FailureCount, &txn.ScheduledAt,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTxnNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	txn.ID = id.String()
	txn.InvoiceID = invoiceID.String()
	txn.Type = models.TransactionType(txnType)
	txn.FundingInstrument = funding.String
	txn.RefundToID = uuidPtr(refundToID)
	txn.Status = models.TransactionStatus(status)
	txn.ProcessorURI = processorURI.String

	return &txn, nil
}
