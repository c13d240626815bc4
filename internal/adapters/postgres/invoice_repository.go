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

// InvoiceRepository implements ports.InvoiceRepository with pgx
type InvoiceRepository struct {
	db ports.DBPort
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db ports.DBPort) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) exec(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const invoiceColumns = `id, scope, subscription_id, customer_id, external_id, title,
	amount_cents, funding_instrument, status, transaction_type, created_at, updated_at`

// Create inserts the invoice, then its items, then its adjustments.
//
// The (customer_id, external_id) unique constraint is the idempotency key
// for customer invoices; the insert is attempted without a pre-check so the
// constraint closes the check-then-act race, and the violation maps to
// ErrDuplicateExternalID.
func (r *InvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *models.Invoice) error {
	invoiceID, err := uuid.Parse(invoice.ID)
	if err != nil {
		return fmt.Errorf("invalid invoice ID: %w", err)
	}
	subscriptionID, err := nullUUIDPtr(invoice.SubscriptionID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}
	customerID, err := nullUUIDPtr(invoice.CustomerID)
	if err != nil {
		return fmt.Errorf("invalid customer ID: %w", err)
	}

	q := r.exec(tx)

	_, err = q.Exec(ctx, `
		INSERT INTO invoices (
			id, scope, subscription_id, customer_id, external_id, title,
			amount_cents, funding_instrument, status, transaction_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		invoiceID, string(invoice.Scope), subscriptionID, customerID,
		nullTextPtr(invoice.ExternalID), nullText(invoice.Title),
		invoice.AmountCents, nullText(invoice.FundingInstrument),
		string(invoice.Status), string(invoice.TransactionType),
	)
	if err != nil {
		if isUniqueViolation(err, "invoices_customer_external_id_key") {
			return domain.WrapError(domain.ErrorCodeInvoiceDuplicateExternalID,
				"an invoice with this external ID already exists for the customer", err)
		}
		return fmt.Errorf("create invoice: %w", err)
	}

	for i := range invoice.Items {
		item := &invoice.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.InvoiceID = invoice.ID
		itemID, err := uuid.Parse(item.ID)
		if err != nil {
			return fmt.Errorf("invalid item ID: %w", err)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO invoice_items (id, invoice_id, name, quantity, amount_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			itemID, invoiceID, item.Name, item.Quantity, item.AmountCents,
		)
		if err != nil {
			return fmt.Errorf("create invoice item: %w", err)
		}
	}

	for i := range invoice.Adjustments {
		adj := &invoice.Adjustments[i]
		if adj.ID == "" {
			adj.ID = uuid.New().String()
		}
		adj.InvoiceID = invoice.ID
		adjID, err := uuid.Parse(adj.ID)
		if err != nil {
			return fmt.Errorf("invalid adjustment ID: %w", err)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO invoice_adjustments (id, invoice_id, amount_cents, reason)
			VALUES ($1, $2, $3, $4)`,
			adjID, invoiceID, adj.AmountCents, adj.Reason,
		)
		if err != nil {
			return fmt.Errorf("create invoice adjustment: %w", err)
		}
	}

	return nil
}

// GetByID retrieves an invoice with its items and adjustments
func (r *InvoiceRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Invoice, error) {
	q := r.exec(db)
	row := q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, q, id, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// GetForUpdate reads the invoice row under an exclusive lock
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error) {
	row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, tx, id, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// UpdateStatus sets the invoice status
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.InvoiceStatus) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

// UpdateFundingInstrument sets the invoice funding instrument
func (r *InvoiceRepository) UpdateFundingInstrument(ctx context.Context, tx ports.DBTX, id uuid.UUID, fundingInstrument string) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE invoices SET funding_instrument = $2, updated_at = now() WHERE id = $1`,
		id, nullText(fundingInstrument))
	if err != nil {
		return fmt.Errorf("update invoice funding instrument: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

// GetCustomer resolves the owning customer of either invoice variant
func (r *InvoiceRepository) GetCustomer(ctx context.Context, db ports.DBTX, invoiceID uuid.UUID) (*models.Customer, error) {
	row := r.exec(db).QueryRow(ctx, `
		SELECT c.id, c.company_id, c.external_id, c.processor_uri, c.created_at, c.updated_at
		FROM invoices i
		LEFT JOIN subscriptions s ON s.id = i.subscription_id
		JOIN customers c ON c.id = COALESCE(i.customer_id, s.customer_id)
		WHERE i.id = $1`, invoiceID)
	return scanCustomer(row)
}

// loadLines populates the invoice's items and adjustments
func (r *InvoiceRepository) loadLines(ctx context.Context, q ports.DBTX, id uuid.UUID, invoice *models.Invoice) error {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, name, quantity, amount_cents, created_at
		FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return fmt.Errorf("list invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item models.Item
		var itemID, itemInvoiceID uuid.UUID
		if err := rows.Scan(&itemID, &itemInvoiceID, &item.Name, &item.Quantity, &item.AmountCents, &item.CreatedAt); err != nil {
			return fmt.Errorf("scan invoice item: %w", err)
		}
		item.ID = itemID.String()
		item.InvoiceID = itemInvoiceID.String()
		invoice.Items = append(invoice.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list invoice items: %w", err)
	}

	adjRows, err := q.Query(ctx, `
		SELECT id, invoice_id, amount_cents, reason, created_at
		FROM invoice_adjustments WHERE invoice_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return fmt.Errorf("list invoice adjustments: %w", err)
	}
	defer adjRows.Close()
	for adjRows.Next() {
		var adj models.Adjustment
		var adjID, adjInvoiceID uuid.UUID
		var reason pgtype.Text
		if err := adjRows.Scan(&adjID, &adjInvoiceID, &adj.AmountCents, &reason, &adj.CreatedAt); err != nil {
			return fmt.Errorf("scan invoice adjustment: %w", err)
		}
		adj.ID = adjID.String()
		adj.InvoiceID = adjInvoiceID.String()
		adj.Reason = reason.String
		invoice.Adjustments = append(invoice.Adjustments, adj)
	}
	if err := adjRows.Err(); err != nil {
		return fmt.Errorf("list invoice adjustments: %w", err)
	}

	return nil
}

// scanInvoice reads one invoice row into a domain model
func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		id                         uuid.UUID
		subscriptionID, customerID pgtype.UUID
		externalID, title, funding pgtype.Text
		scope, status, txnType     string
		invoice                    models.Invoice
	)

	err := row.Scan(
		&id, &scope, &subscriptionID, &customerID, &externalID, &title,
		&invoice.AmountCents, &funding, &status, &txnType,
		&invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	invoice.ID = id.String()
	invoice.Scope = models.InvoiceScope(scope)
	invoice.SubscriptionID = uuidPtr(subscriptionID)
	invoice.CustomerID = uuidPtr(customerID)
	invoice.ExternalID = textPtr(externalID)
	invoice.Title = title.String
	invoice.FundingInstrument = funding.String
	invoice.Status = models.InvoiceStatus(status)
	invoice.TransactionType = models.TransactionType(txnType)

	return &invoice, nil
}
