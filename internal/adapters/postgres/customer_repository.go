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

// CustomerRepository implements ports.CustomerRepository with pgx
type CustomerRepository struct {
	db ports.DBPort
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db ports.DBPort) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) exec(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

// Create inserts a new customer
func (r *CustomerRepository) Create(ctx context.Context, tx ports.DBTX, customer *models.Customer) error {
	customerID, err := uuid.Parse(customer.ID)
	if err != nil {
		return fmt.Errorf("invalid customer ID: %w", err)
	}
	companyID, err := uuid.Parse(customer.CompanyID)
	if err != nil {
		return fmt.Errorf("invalid company ID: %w", err)
	}

	_, err = r.exec(tx).Exec(ctx, `
		INSERT INTO customers (id, company_id, external_id, processor_uri)
		VALUES ($1, $2, $3, $4)`,
		customerID, companyID, customer.ExternalID, customer.ProcessorURI,
	)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}

	return nil
}

// GetByID retrieves a customer by its ID
func (r *CustomerRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Customer, error) {
	row := r.exec(db).QueryRow(ctx, `
		SELECT id, company_id, external_id, processor_uri, created_at, updated_at
		FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

// UpdateProcessorURI records the gateway-side customer identifier
func (r *CustomerRepository) UpdateProcessorURI(ctx context.Context, tx ports.DBTX, id uuid.UUID, processorURI string) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE customers SET processor_uri = $2, updated_at = now() WHERE id = $1`,
		id, processorURI)
	if err != nil {
		return fmt.Errorf("update customer processor URI: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDomainError(domain.ErrorCodeInternalError, "customer not found")
	}
	return nil
}

// scanCustomer reads one customer row into a domain model
func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var (
		id, companyID            uuid.UUID
		externalID, processorURI pgtype.Text
		customer                 models.Customer
	)

	err := row.Scan(&id, &companyID, &externalID, &processorURI, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrorCodeInternalError, "customer not found")
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}

	customer.ID = id.String()
	customer.CompanyID = companyID.String()
	customer.ExternalID = externalID.String
	customer.ProcessorURI = processorURI.String

	return &customer, nil
}
