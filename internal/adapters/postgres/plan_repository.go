package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
)

// PlanRepository implements ports.PlanRepository with pgx
type PlanRepository struct {
	db ports.DBPort
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db ports.DBPort) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) exec(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

// Create inserts a new plan
func (r *PlanRepository) Create(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	planID, err := uuid.Parse(plan.ID)
	if err != nil {
		return fmt.Errorf("invalid plan ID: %w", err)
	}
	companyID, err := uuid.Parse(plan.CompanyID)
	if err != nil {
		return fmt.Errorf("invalid company ID: %w", err)
	}

	_, err = r.exec(tx).Exec(ctx, `
		INSERT INTO plans (id, company_id, name, type, amount_cents, frequency, interval)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		planID, companyID, plan.Name, string(plan.Type), plan.AmountCents,
		string(plan.Frequency), plan.Interval,
	)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	return nil
}

// GetByID retrieves a plan by its ID
func (r *PlanRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Plan, error) {
	var (
		planID, companyID uuid.UUID
		planType, freq    string
		plan              models.Plan
	)

	err := r.exec(db).QueryRow(ctx, `
		SELECT id, company_id, name, type, amount_cents, frequency, interval, created_at, updated_at
		FROM plans WHERE id = $1`, id).Scan(
		&planID, &companyID, &plan.Name, &planType, &plan.AmountCents,
		&freq, &plan.Interval, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewDomainError(domain.ErrorCodeInternalError, "plan not found")
		}
		return nil, fmt.Errorf("get plan by id: %w", err)
	}

	plan.ID = planID.String()
	plan.CompanyID = companyID.String()
	plan.Type = models.PlanType(planType)
	plan.Frequency = models.Frequency(freq)

	return &plan, nil
}
