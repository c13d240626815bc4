// Package subscription implements the subscription engine: enrollment,
// cancellation with optional refunds, and the yield loop that materializes
// due billing periods into invoices and transactions.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
	"github.com/kevin07696/billing-engine/internal/schedule"
	svcports "github.com/kevin07696/billing-engine/internal/services/ports"
	"github.com/kevin07696/billing-engine/pkg/observability"
)

// Service implements svcports.SubscriptionService
type Service struct {
	db             ports.DBPort
	subRepo        ports.SubscriptionRepository
	planRepo       ports.PlanRepository
	custRepo       ports.CustomerRepository
	txnRepo        ports.TransactionRepository
	invoiceService svcports.InvoiceService
	clock          ports.Clock
	logger         ports.Logger
	batchSize      int32
}

// NewService creates a new subscription service. batchSize bounds how many
// due subscriptions one yield pass locks at a time.
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	planRepo ports.PlanRepository,
	custRepo ports.CustomerRepository,
	txnRepo ports.TransactionRepository,
	invoiceService svcports.InvoiceService,
	clock ports.Clock,
	logger ports.Logger,
	batchSize int32,
) *Service {
	return &Service{
		db:             db,
		subRepo:        subRepo,
		planRepo:       planRepo,
		custRepo:       custRepo,
		txnRepo:        txnRepo,
		invoiceService: invoiceService,
		clock:          clock,
		logger:         logger,
		batchSize:      batchSize,
	}
}

// Create enrolls a customer in a plan. The first billing period is due at
// StartedAt; nothing is charged until the next yield run reaches it. The
// funding instrument is optional: without one, yielded invoices stay INIT
// until an instrument is attached through the invoice engine.
func (s *Service) Create(ctx context.Context, params svcports.CreateSubscriptionParams) (*models.Subscription, error) {
	customerID, err := uuid.Parse(params.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer ID: %w", err)
	}
	planID, err := uuid.Parse(params.PlanID)
	if err != nil {
		return nil, fmt.Errorf("invalid plan ID: %w", err)
	}
	if params.AmountCents != nil && *params.AmountCents <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"amount override must be positive").WithDetail("amount_cents", *params.AmountCents)
	}

	now := s.clock.Now()
	startedAt := now
	if params.StartedAt != nil {
		startedAt = params.StartedAt.UTC()
		if startedAt.Before(now) {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"start must not be in the past").WithDetail("started_at", startedAt)
		}
	}

	if _, err := s.custRepo.GetByID(ctx, nil, customerID); err != nil {
		return nil, err
	}
	plan, err := s.planRepo.GetByID(ctx, nil, planID)
	if err != nil {
		return nil, err
	}
	// Surface interval misconfiguration at enrollment, not at first yield.
	if _, err := schedule.NextInstant(startedAt, plan.Frequency, 1, plan.Interval); err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		ID:                uuid.New().String(),
		CustomerID:        params.CustomerID,
		PlanID:            params.PlanID,
		FundingInstrument: params.FundingInstrument,
		AmountCents:       params.AmountCents,
		Period:            0,
		StartedAt:         startedAt,
		NextTransactionAt: startedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.subRepo.Create(ctx, nil, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", sub.ID),
		ports.String("customer_id", sub.CustomerID),
		ports.String("plan_id", sub.PlanID),
		ports.String("next_transaction_at", sub.NextTransactionAt.Format(time.RFC3339)))

	return sub, nil
}

// Cancel stops future billing and optionally refunds the unused remainder of
// the current period. The cancellation and the refund commit atomically.
func (s *Service) Cancel(ctx context.Context, params svcports.CancelSubscriptionParams) (*models.Subscription, error) {
	id, err := uuid.Parse(params.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription ID: %w", err)
	}
	if params.ProratedRefund && params.RefundAmountCents != nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"choose a prorated or a fixed refund, not both")
	}
	if params.RefundAmountCents != nil && *params.RefundAmountCents <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"refund amount must be positive").WithDetail("amount_cents", *params.RefundAmountCents)
	}

	var sub *models.Subscription

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		sub, err = s.subRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.IsCanceled() {
			return domain.NewDomainError(domain.ErrorCodeSubAlreadyCanceled,
				"subscription is already canceled").WithDetail("subscription_id", sub.ID)
		}

		now := s.clock.Now()
		sub.Canceled = true
		sub.CanceledAt = &now
		if err := s.subRepo.Update(ctx, tx, sub); err != nil {
			return err
		}

		if !params.ProratedRefund && params.RefundAmountCents == nil {
			return nil
		}
		return s.refundOnCancel(ctx, tx, sub, params, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription canceled", ports.String("subscription_id", sub.ID))

	return sub, nil
}

// refundOnCancel issues the cancellation refund against the last billed
// period's invoice. Runs inside the cancellation's database transaction.
func (s *Service) refundOnCancel(ctx context.Context, tx pgx.Tx, sub *models.Subscription, params svcports.CancelSubscriptionParams, now time.Time) error {
	lastTxn, err := s.txnRepo.LastBySubscription(ctx, tx, uuid.MustParse(sub.ID))
	if err != nil {
		return err
	}
	if lastTxn == nil {
		return domain.NewDomainError(domain.ErrorCodeInvalidOperation,
			"subscription has not been billed, nothing to refund").
			WithDetail("subscription_id", sub.ID)
	}

	var amount int64
	if params.RefundAmountCents != nil {
		amount = *params.RefundAmountCents
	} else {
		amount, err = s.prorate(ctx, tx, sub, lastTxn, now)
		if err != nil {
			return err
		}
		if amount == 0 {
			// The period is fully used; a prorated refund of zero is a no-op,
			// not an error.
			return nil
		}
	}

	_, err = s.invoiceService.RefundTx(ctx, tx, lastTxn.InvoiceID, amount, "subscription cancellation")
	return err
}

// prorate computes the unused remainder of the current billing period:
// floor(amount * (1 - elapsed/window)), clamped to [0, amount].
func (s *Service) prorate(ctx context.Context, tx pgx.Tx, sub *models.Subscription, lastTxn *models.Transaction, now time.Time) (int64, error) {
	plan, err := s.planRepo.GetByID(ctx, tx, uuid.MustParse(sub.PlanID))
	if err != nil {
		return 0, err
	}

	windowStart := lastTxn.ScheduledAt
	windowEnd, err := schedule.NextInstant(sub.StartedAt, plan.Frequency, sub.Period, plan.Interval)
	if err != nil {
		return 0, err
	}

	window := windowEnd.Sub(windowStart)
	if window <= 0 {
		return 0, nil
	}
	elapsed := now.Sub(windowStart)
	if elapsed <= 0 {
		return lastTxn.AmountCents, nil
	}
	if elapsed >= window {
		return 0, nil
	}

	rate := decimal.NewFromInt(1).Sub(
		decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(window))))
	refund := decimal.NewFromInt(lastTxn.AmountCents).Mul(rate).Floor()

	return refund.IntPart(), nil
}

// YieldTransactions materializes every due billing period as an
// invoice/transaction pair. Each pass locks a batch of due subscriptions with
// SKIP LOCKED, advances each by exactly one period, and commits; passes repeat
// until nothing is due. A subscription several periods behind is brought
// current by successive passes, one transaction per missed period.
func (s *Service) YieldTransactions(ctx context.Context, subscriptionIDs []string, now *time.Time) ([]string, error) {
	ids, err := parseIDs(subscriptionIDs)
	if err != nil {
		return nil, err
	}
	asOf := s.clock.Now()
	if now != nil {
		asOf = now.UTC()
	}

	var created []string
	for {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		var batchCreated []string
		var processed int
		err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			due, err := s.subRepo.ListDueForUpdate(ctx, tx, asOf, ids, s.batchSize)
			if err != nil {
				return err
			}
			// An instrument-less subscription yields an invoice but no
			// transaction, so termination is keyed on due rows, not on
			// transactions created.
			processed = len(due)
			for _, sub := range due {
				txnID, err := s.yieldOne(ctx, tx, sub)
				if err != nil {
					return err
				}
				if txnID != "" {
					batchCreated = append(batchCreated, txnID)
				}
			}
			return nil
		})
		if err != nil {
			return created, err
		}
		created = append(created, batchCreated...)
		if processed == 0 {
			break
		}
	}

	observability.SubscriptionsYielded.Add(float64(len(created)))
	s.logger.Info("yield run complete",
		ports.Int("transactions_created", len(created)))

	return created, nil
}

// yieldOne bills a locked subscription for its current due period and
// advances it to the next. NextTransactionAt strictly increases, which is
// what terminates the caller's loop.
func (s *Service) yieldOne(ctx context.Context, tx pgx.Tx, sub *models.Subscription) (string, error) {
	plan, err := s.planRepo.GetByID(ctx, tx, uuid.MustParse(sub.PlanID))
	if err != nil {
		return "", err
	}

	dueAt := sub.NextTransactionAt
	_, txn, err := s.invoiceService.CreateTx(ctx, tx, svcports.CreateInvoiceParams{
		SubscriptionID:    sub.ID,
		AmountCents:       sub.EffectiveAmount(plan),
		Title:             fmt.Sprintf("%s, period %d", plan.Name, sub.Period+1),
		FundingInstrument: sub.FundingInstrument,
		ScheduledAt:       &dueAt,
	})
	if err != nil {
		return "", err
	}

	sub.Period++
	next, err := schedule.NextInstant(sub.StartedAt, plan.Frequency, sub.Period, plan.Interval)
	if err != nil {
		return "", err
	}
	sub.NextTransactionAt = next
	if err := s.subRepo.Update(ctx, tx, sub); err != nil {
		return "", err
	}

	if txn == nil {
		return "", nil
	}
	return txn.ID, nil
}

// Get retrieves a subscription by ID
func (s *Service) Get(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	id, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription ID: %w", err)
	}
	return s.subRepo.GetByID(ctx, nil, id)
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid subscription ID %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
