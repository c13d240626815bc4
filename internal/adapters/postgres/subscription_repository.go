package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
)

// SubscriptionRepository implements ports.SubscriptionRepository with pgx
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) exec(db ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return r.db.GetDB()
}

const subscriptionColumns = `id, customer_id, plan_id, funding_instrument, amount_cents,
	period, started_at, next_transaction_at, canceled, canceled_at, created_at, updated_at`

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	subID, err := uuid.Parse(sub.ID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}
	customerID, err := uuid.Parse(sub.CustomerID)
	if err != nil {
		return fmt.Errorf("invalid customer ID: %w", err)
	}
	planID, err := uuid.Parse(sub.PlanID)
	if err != nil {
		return fmt.Errorf("invalid plan ID: %w", err)
	}

	_, err = r.exec(tx).Exec(ctx, `
		INSERT INTO subscriptions (
			id, customer_id, plan_id, funding_instrument, amount_cents,
			period, started_at, next_transaction_at, canceled, canceled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		subID, customerID, planID, nullText(sub.FundingInstrument), nullInt8Ptr(sub.AmountCents),
		sub.Period, sub.StartedAt, sub.NextTransactionAt, sub.Canceled, nullTimestamptz(sub.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	row := r.exec(db).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// GetForUpdate reads the subscription row under an exclusive lock
func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Subscription, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id)
	return scanSubscription(row)
}

// Update persists subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	subID, err := uuid.Parse(sub.ID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	tag, err := r.exec(tx).Exec(ctx, `
		UPDATE subscriptions SET
			funding_instrument = $2,
			amount_cents = $3,
			period = $4,
			next_transaction_at = $5,
			canceled = $6,
			canceled_at = $7,
			updated_at = now()
		WHERE id = $1`,
		subID, nullText(sub.FundingInstrument), nullInt8Ptr(sub.AmountCents),
		sub.Period, sub.NextTransactionAt, sub.Canceled, nullTimestamptz(sub.CanceledAt),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubNotFound
	}

	return nil
}

// ListDueForUpdate locks and returns non-canceled subscriptions due at now.
// SKIP LOCKED lets concurrent yield workers partition the due set.
func (r *SubscriptionRepository) ListDueForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, ids []uuid.UUID, limit int32) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE canceled = FALSE AND next_transaction_at <= $1`
	args := []interface{}{now}

	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	query += fmt.Sprintf(` ORDER BY next_transaction_at LIMIT %d FOR UPDATE SKIP LOCKED`, limit)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	return subs, nil
}

// scanSubscription reads one subscription row into a domain model
func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		id, customerID, planID uuid.UUID
		fundingInstrument      pgtype.Text
		amountCents            pgtype.Int8
		canceledAt             pgtype.Timestamptz
		sub                    models.Subscription
	)

	err := row.Scan(
		&id, &customerID, &planID, &fundingInstrument, &amountCents,
		&sub.Period, &sub.StartedAt, &sub.NextTransactionAt, &sub.Canceled, &canceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.ID = id.String()
	sub.CustomerID = customerID.String()
	sub.PlanID = planID.String()
	sub.FundingInstrument = fundingInstrument.String
	sub.AmountCents = int64Ptr(amountCents)
	sub.CanceledAt = timePtr(canceledAt)

	return &sub, nil
}
