// Package invoice implements the invoice engine: creation, funding
// instrument changes, cancellation, and refunds, under the forward-only
// invoice state machine.
package invoice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
	svcports "github.com/kevin07696/billing-engine/internal/services/ports"
)

// Service implements svcports.InvoiceService
type Service struct {
	db          ports.DBPort
	invoiceRepo ports.InvoiceRepository
	txnRepo     ports.TransactionRepository
	subRepo     ports.SubscriptionRepository
	planRepo    ports.PlanRepository
	txnService  svcports.TransactionService
	clock       ports.Clock
	logger      ports.Logger
}

// NewService creates a new invoice service
func NewService(
	db ports.DBPort,
	invoiceRepo ports.InvoiceRepository,
	txnRepo ports.TransactionRepository,
	subRepo ports.SubscriptionRepository,
	planRepo ports.PlanRepository,
	txnService svcports.TransactionService,
	clock ports.Clock,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		invoiceRepo: invoiceRepo,
		txnRepo:     txnRepo,
		subRepo:     subRepo,
		planRepo:    planRepo,
		txnService:  txnService,
		clock:       clock,
		logger:      logger,
	}
}

// Create persists a new invoice and, when a funding instrument is already
// known and there is something to collect, immediately opens processing by
// creating the first transaction.
func (s *Service) Create(ctx context.Context, params svcports.CreateInvoiceParams) (*models.Invoice, *models.Transaction, error) {
	var (
		invoice *models.Invoice
		txn     *models.Transaction
	)
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		invoice, txn, err = s.CreateTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return invoice, txn, nil
}

// CreateTx is Create inside the caller's database transaction
func (s *Service) CreateTx(ctx context.Context, tx pgx.Tx, params svcports.CreateInvoiceParams) (*models.Invoice, *models.Transaction, error) {
	if err := validateCreateParams(params); err != nil {
		return nil, nil, err
	}

	txnType, err := s.resolveTransactionType(ctx, tx, params)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	invoice := &models.Invoice{
		ID:                uuid.New().String(),
		Title:             params.Title,
		AmountCents:       params.AmountCents,
		FundingInstrument: params.FundingInstrument,
		Status:            models.InvoiceStatusInit,
		TransactionType:   txnType,
		Items:             params.Items,
		Adjustments:       params.Adjustments,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if params.SubscriptionID != "" {
		invoice.Scope = models.ScopeSubscription
		subID := params.SubscriptionID
		invoice.SubscriptionID = &subID
	} else {
		invoice.Scope = models.ScopeCustomer
		custID := params.CustomerID
		invoice.CustomerID = &custID
		invoice.ExternalID = params.ExternalID
	}

	// Persist invoice, then items, then adjustments. The unique constraint
	// on (customer_id, external_id) closes the duplicate-invoice race at
	// insert time; no pre-check.
	if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
		return nil, nil, err
	}

	invoiceID := uuid.MustParse(invoice.ID)

	if invoice.EffectiveAmount() <= 0 {
		// Nothing to collect, whether the base amount is zero or the
		// adjustments consumed it.
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, models.InvoiceStatusSettled); err != nil {
			return nil, nil, err
		}
		invoice.Status = models.InvoiceStatusSettled
		s.logger.Info("invoice settled at creation",
			ports.String("invoice_id", invoice.ID))
		return invoice, nil, nil
	}

	var txn *models.Transaction
	if invoice.FundingInstrument != "" {
		scheduledAt := now
		if params.ScheduledAt != nil {
			scheduledAt = *params.ScheduledAt
		}
		var err error
		txn, err = s.txnService.CreateTx(ctx, tx, svcports.CreateTransactionParams{
			InvoiceID:         invoice.ID,
			Type:              invoice.TransactionType,
			AmountCents:       invoice.EffectiveAmount(),
			FundingInstrument: invoice.FundingInstrument,
			ScheduledAt:       scheduledAt,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, models.InvoiceStatusProcessing); err != nil {
			return nil, nil, err
		}
		invoice.Status = models.InvoiceStatusProcessing
	}

	s.logger.Info("invoice created",
		ports.String("invoice_id", invoice.ID),
		ports.String("scope", string(invoice.Scope)),
		ports.String("status", string(invoice.Status)),
		ports.Int64("amount_cents", invoice.AmountCents))

	return invoice, txn, nil
}

// UpdateFundingInstrument swaps the payment method on an unsettled invoice
// and issues the transaction(s) that will collect against it. At most one
// transaction per invoice is ever left outstanding: in PROCESSING the
// existing INIT/RETRYING transaction is canceled and replaced.
func (s *Service) UpdateFundingInstrument(ctx context.Context, invoiceID, fundingInstrument string) ([]*models.Transaction, error) {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice ID: %w", err)
	}

	var created []*models.Transaction

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		invoice, err := s.invoiceRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		switch invoice.Status {
		case models.InvoiceStatusInit, models.InvoiceStatusProcessFailed:
			// First funding instrument for this invoice; start processing.
		case models.InvoiceStatusProcessing:
			outstanding, err := s.txnRepo.ListOutstandingByInvoice(ctx, tx, id)
			if err != nil {
				return err
			}
			for _, txn := range outstanding {
				if txn.IsRefund() {
					continue
				}
				txn.Status = models.TransactionStatusCanceled
				if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
					return err
				}
			}
		default:
			return domain.NewDomainError(domain.ErrorCodeInvalidOperation,
				"funding instrument cannot change on a settled or canceled invoice").
				WithDetail("invoice_id", invoiceID).
				WithDetail("status", string(invoice.Status))
		}

		if err := s.invoiceRepo.UpdateFundingInstrument(ctx, tx, id, fundingInstrument); err != nil {
			return err
		}

		if invoice.EffectiveAmount() <= 0 {
			return s.invoiceRepo.UpdateStatus(ctx, tx, id, models.InvoiceStatusSettled)
		}

		txn, err := s.txnService.CreateTx(ctx, tx, svcports.CreateTransactionParams{
			InvoiceID:         invoice.ID,
			Type:              invoice.TransactionType,
			AmountCents:       invoice.EffectiveAmount(),
			FundingInstrument: fundingInstrument,
			ScheduledAt:       s.clock.Now(),
		})
		if err != nil {
			return err
		}
		created = append(created, txn)

		if invoice.Status != models.InvoiceStatusProcessing {
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, id, models.InvoiceStatusProcessing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("update funding instrument failed",
			ports.String("invoice_id", invoiceID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("funding instrument updated",
		ports.String("invoice_id", invoiceID),
		ports.Int("transactions_created", len(created)))

	return created, nil
}

// Cancel voids an unsettled invoice and its outstanding transactions
func (s *Service) Cancel(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice ID: %w", err)
	}

	var invoice *models.Invoice

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		invoice, err = s.invoiceRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if !invoice.CanTransitionTo(models.InvoiceStatusCanceled) {
			return domain.NewDomainError(domain.ErrorCodeInvalidOperation,
				"invoice cannot be canceled in its current state").
				WithDetail("invoice_id", invoiceID).
				WithDetail("status", string(invoice.Status))
		}

		if err := s.invoiceRepo.UpdateStatus(ctx, tx, id, models.InvoiceStatusCanceled); err != nil {
			return err
		}
		invoice.Status = models.InvoiceStatusCanceled

		outstanding, err := s.txnRepo.ListOutstandingByInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, txn := range outstanding {
			if txn.IsRefund() {
				continue
			}
			txn.Status = models.TransactionStatusCanceled
			if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The caller gets the canonical, unchanged invoice alongside the error.
		if invoice != nil {
			return invoice, err
		}
		return nil, err
	}

	s.logger.Info("invoice canceled", ports.String("invoice_id", invoiceID))

	return invoice, nil
}

// Refund issues a refund against a settled invoice. The amount, summed with
// all prior live refunds, must not exceed the invoice's effective amount.
func (s *Service) Refund(ctx context.Context, invoiceID string, amountCents int64, note string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.RefundTx(ctx, tx, invoiceID, amountCents, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// RefundTx is Refund inside the caller's database transaction
func (s *Service) RefundTx(ctx context.Context, tx pgx.Tx, invoiceID string, amountCents int64, note string) (*models.Transaction, error) {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice ID: %w", err)
	}
	if amountCents <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"refund amount must be positive").WithDetail("amount_cents", amountCents)
	}

	invoice, err := s.invoiceRepo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusSettled {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidOperation,
			"only settled invoices can be refunded").
			WithDetail("invoice_id", invoiceID).
			WithDetail("status", string(invoice.Status))
	}

	alreadyRefunded, err := s.txnRepo.SumRefunds(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if alreadyRefunded+amountCents > invoice.EffectiveAmount() {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidOperation,
			"refund exceeds the invoice's remaining refundable amount").
			WithDetail("invoice_id", invoiceID).
			WithDetail("already_refunded_cents", alreadyRefunded).
			WithDetail("effective_amount_cents", invoice.EffectiveAmount())
	}

	target, err := s.txnRepo.FindSettledCharge(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	targetID := target.ID

	txn, err := s.txnService.CreateTx(ctx, tx, svcports.CreateTransactionParams{
		InvoiceID:   invoice.ID,
		Type:        models.TransactionTypeRefund,
		AmountCents: amountCents,
		RefundToID:  &targetID,
		ScheduledAt: s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund created",
		ports.String("invoice_id", invoiceID),
		ports.String("transaction_id", txn.ID),
		ports.Int64("amount_cents", amountCents),
		ports.String("note", note))

	return txn, nil
}

// Get retrieves an invoice by ID
func (s *Service) Get(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice ID: %w", err)
	}
	return s.invoiceRepo.GetByID(ctx, nil, id)
}

// resolveTransactionType derives the transaction type an invoice produces:
// customer invoices only support charges; subscription invoices follow the
// plan type.
func (s *Service) resolveTransactionType(ctx context.Context, tx pgx.Tx, params svcports.CreateInvoiceParams) (models.TransactionType, error) {
	if params.SubscriptionID == "" {
		return models.TransactionTypeCharge, nil
	}

	subID, err := uuid.Parse(params.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("invalid subscription ID: %w", err)
	}
	sub, err := s.subRepo.GetByID(ctx, tx, subID)
	if err != nil {
		return "", err
	}
	planID, err := uuid.Parse(sub.PlanID)
	if err != nil {
		return "", fmt.Errorf("invalid plan ID: %w", err)
	}
	plan, err := s.planRepo.GetByID(ctx, tx, planID)
	if err != nil {
		return "", err
	}
	return plan.TransactionType(), nil
}

func validateCreateParams(params svcports.CreateInvoiceParams) error {
	if (params.SubscriptionID == "") == (params.CustomerID == "") {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"exactly one of customer or subscription must own the invoice")
	}
	if params.AmountCents < 0 {
		return domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"invoice amount must not be negative").WithDetail("amount_cents", params.AmountCents)
	}
	for _, item := range params.Items {
		if item.Quantity < 1 {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"item quantity must be at least 1").WithDetail("item", item.Name)
		}
	}
	return nil
}
