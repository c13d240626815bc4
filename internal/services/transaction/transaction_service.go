// Package transaction implements the transaction processor: validated
// transaction creation and crash-safe submission to the processor gateway.
package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
	svcports "github.com/kevin07696/billing-engine/internal/services/ports"
	"github.com/kevin07696/billing-engine/pkg/observability"
)

// Service implements svcports.TransactionService
type Service struct {
	db          ports.DBPort
	txnRepo     ports.TransactionRepository
	invoiceRepo ports.InvoiceRepository
	custRepo    ports.CustomerRepository
	gateway     ports.ProcessorGateway
	clock       ports.Clock
	logger      ports.Logger
	maxRetries  int
	batchSize   int32
}

// NewService creates a new transaction service. maxRetries is the number of
// failures a transaction absorbs before it goes FAILED.
func NewService(
	db ports.DBPort,
	txnRepo ports.TransactionRepository,
	invoiceRepo ports.InvoiceRepository,
	custRepo ports.CustomerRepository,
	gateway ports.ProcessorGateway,
	clock ports.Clock,
	logger ports.Logger,
	maxRetries int,
	batchSize int32,
) *Service {
	return &Service{
		db:          db,
		txnRepo:     txnRepo,
		invoiceRepo: invoiceRepo,
		custRepo:    custRepo,
		gateway:     gateway,
		clock:       clock,
		logger:      logger,
		maxRetries:  maxRetries,
		batchSize:   batchSize,
	}
}

// CreateTx validates and inserts a transaction inside the caller's database
// transaction
func (s *Service) CreateTx(ctx context.Context, tx pgx.Tx, params svcports.CreateTransactionParams) (*models.Transaction, error) {
	if params.AmountCents <= 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid,
			"transaction amount must be positive").WithDetail("amount_cents", params.AmountCents)
	}
	switch params.Type {
	case models.TransactionTypeCharge, models.TransactionTypePayout:
		if params.RefundToID != nil {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"only refunds reference a prior transaction")
		}
		if params.FundingInstrument == "" {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"a funding instrument is required").WithDetail("type", string(params.Type))
		}
	case models.TransactionTypeRefund:
		// Refunds reuse the original charge's payment method at the gateway,
		// so they carry no funding instrument of their own.
		if params.FundingInstrument != "" {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"a refund cannot carry its own funding instrument")
		}
		if params.RefundToID == nil {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
				"a refund must reference the transaction it reverses")
		}
		if err := s.validateRefundTarget(ctx, tx, params); err != nil {
			return nil, err
		}
	default:
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"unknown transaction type").WithDetail("type", string(params.Type))
	}

	txn := &models.Transaction{
		ID:                uuid.New().String(),
		InvoiceID:         params.InvoiceID,
		Type:              params.Type,
		AmountCents:       params.AmountCents,
		FundingInstrument: params.FundingInstrument,
		RefundToID:        params.RefundToID,
		Status:            models.TransactionStatusInit,
		ScheduledAt:       params.ScheduledAt,
	}
	if err := s.txnRepo.Create(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// validateRefundTarget verifies the referenced transaction is a DONE charge
// or payout on the same invoice
func (s *Service) validateRefundTarget(ctx context.Context, tx pgx.Tx, params svcports.CreateTransactionParams) error {
	targetID, err := uuid.Parse(*params.RefundToID)
	if err != nil {
		return fmt.Errorf("invalid refund target ID: %w", err)
	}
	target, err := s.txnRepo.GetByID(ctx, tx, targetID)
	if err != nil {
		return err
	}
	if target.IsRefund() || target.Status != models.TransactionStatusDone {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"a refund must reverse a settled charge or payout").
			WithDetail("target_type", string(target.Type)).
			WithDetail("target_status", string(target.Status))
	}
	if target.InvoiceID != params.InvoiceID {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed,
			"refund target belongs to a different invoice").
			WithDetail("target_invoice_id", target.InvoiceID)
	}
	return nil
}

// ProcessOne submits a single pending transaction to the gateway.
//
// No row lock is held across the gateway call: the transaction is claimed
// with a short locked read, the network I/O runs unlocked, and the outcome
// is persisted in a second transaction that re-checks the row. The
// FindResult re-query by idempotency tag, not the lock, is what prevents a
// double charge across a crash or a racing worker.
func (s *Service) ProcessOne(ctx context.Context, transactionID string) (*models.Transaction, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction ID: %w", err)
	}

	var txn *models.Transaction
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		txn, err = s.txnRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !txn.IsOutstanding() {
			return domain.NewDomainError(domain.ErrorCodeInvalidOperation,
				"transaction is not pending").
				WithDetail("transaction_id", transactionID).
				WithDetail("status", string(txn.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, gwErr := s.callGateway(ctx, txn)
	if gwErr != nil && (errors.Is(gwErr, context.Canceled) || errors.Is(gwErr, context.DeadlineExceeded)) {
		return nil, gwErr
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		fresh, err := s.txnRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		txn = fresh
		if !fresh.IsOutstanding() {
			// A concurrent worker resolved the row while our gateway call
			// was in flight; its outcome stands. The call was idempotent by
			// tag, so nothing moved twice.
			return nil
		}
		if gwErr != nil {
			return s.recordFailure(ctx, tx, fresh, gwErr)
		}
		return s.settle(ctx, tx, fresh, result)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ProcessTransactions submits every pending transaction, optionally scoped to
// candidates. A transaction that fails terminally does not stop the batch;
// context cancellation does.
func (s *Service) ProcessTransactions(ctx context.Context, candidateIDs []string) ([]string, error) {
	ids, err := parseIDs(candidateIDs)
	if err != nil {
		return nil, err
	}

	pending, err := s.txnRepo.ListPending(ctx, nil, ids, s.batchSize)
	if err != nil {
		return nil, err
	}

	attempted := make([]string, 0, len(pending))
	for _, p := range pending {
		if _, err := s.ProcessOne(ctx, p.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return attempted, err
			}
			// Already logged and persisted as a failure; a concurrent worker
			// may also have taken the row first.
			if !domain.IsDomainError(err, domain.ErrorCodeInvalidOperation) {
				s.logger.Warn("transaction processing failed",
					ports.String("transaction_id", p.ID),
					ports.Err(err))
			}
		}
		attempted = append(attempted, p.ID)
	}
	return attempted, nil
}

// Get retrieves a transaction by ID
func (s *Service) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction ID: %w", err)
	}
	return s.txnRepo.GetByID(ctx, nil, id)
}

// ListByInvoice returns all transactions of an invoice
func (s *Service) ListByInvoice(ctx context.Context, invoiceID string) ([]*models.Transaction, error) {
	id, err := uuid.Parse(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice ID: %w", err)
	}
	return s.txnRepo.ListByInvoice(ctx, nil, id)
}

// callGateway resolves the transaction against the gateway without holding
// any database lock. A prior attempt may have reached the gateway and
// crashed before committing; that result is adopted instead of charging
// twice. Gateway failures are returned for recordFailure to turn into
// transaction state.
func (s *Service) callGateway(ctx context.Context, txn *models.Transaction) (*ports.ProcessorResult, error) {
	if found, err := s.gateway.FindResult(ctx, txn.ID); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "processor lookup failed", err)
	} else if found != nil {
		s.logger.Warn("adopting prior gateway result",
			ports.String("transaction_id", txn.ID),
			ports.String("processor_uri", found.ProcessorURI))
		return found, nil
	}
	return s.dispatch(ctx, txn)
}

// dispatch routes the transaction to the matching gateway operation
func (s *Service) dispatch(ctx context.Context, txn *models.Transaction) (*ports.ProcessorResult, error) {
	if txn.IsRefund() {
		if txn.RefundToID == nil {
			return nil, domain.NewDomainError(domain.ErrorCodeInternalError,
				"refund transaction has no target")
		}
		targetID, err := uuid.Parse(*txn.RefundToID)
		if err != nil {
			return nil, fmt.Errorf("invalid refund target ID: %w", err)
		}
		target, err := s.txnRepo.GetByID(ctx, nil, targetID)
		if err != nil {
			return nil, err
		}
		return s.gateway.Refund(ctx, &ports.RefundRequest{
			TransactionID: txn.ID,
			ChargeURI:     target.ProcessorURI,
			AmountCents:   txn.AmountCents,
		})
	}

	invoiceID := uuid.MustParse(txn.InvoiceID)
	customer, err := s.invoiceRepo.GetCustomer(ctx, nil, invoiceID)
	if err != nil {
		return nil, err
	}
	customerURI, err := s.ensureProcessorCustomer(ctx, customer, txn.FundingInstrument)
	if err != nil {
		return nil, err
	}

	switch txn.Type {
	case models.TransactionTypePayout:
		return s.gateway.Payout(ctx, &ports.PayoutRequest{
			TransactionID:     txn.ID,
			CustomerURI:       customerURI,
			FundingInstrument: txn.FundingInstrument,
			AmountCents:       txn.AmountCents,
		})
	default:
		return s.gateway.Charge(ctx, &ports.ChargeRequest{
			TransactionID:     txn.ID,
			CustomerURI:       customerURI,
			FundingInstrument: txn.FundingInstrument,
			AmountCents:       txn.AmountCents,
		})
	}
}

// ensureProcessorCustomer registers the customer with the gateway on first
// use and attaches the funding instrument. Runs outside any row lock; the
// URI write is idempotent, so a racing worker doing the same is harmless.
func (s *Service) ensureProcessorCustomer(ctx context.Context, customer *models.Customer, fundingInstrument string) (string, error) {
	if customer.ProcessorURI == "" {
		uri, err := s.gateway.CreateCustomer(ctx, customer)
		if err != nil {
			return "", err
		}
		customerID := uuid.MustParse(customer.ID)
		if err := s.custRepo.UpdateProcessorURI(ctx, nil, customerID, uri); err != nil {
			return "", err
		}
		customer.ProcessorURI = uri
	}
	if err := s.gateway.PrepareCustomer(ctx, customer, fundingInstrument); err != nil {
		return "", err
	}
	return customer.ProcessorURI, nil
}

// settle marks the transaction DONE and, for charges and payouts, settles the
// owning invoice
func (s *Service) settle(ctx context.Context, tx pgx.Tx, txn *models.Transaction, result *ports.ProcessorResult) error {
	txn.Status = models.TransactionStatusDone
	txn.ProcessorURI = result.ProcessorURI
	if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
		return err
	}

	if !txn.IsRefund() {
		invoiceID := uuid.MustParse(txn.InvoiceID)
		invoice, err := s.invoiceRepo.GetForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.CanTransitionTo(models.InvoiceStatusSettled) {
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, models.InvoiceStatusSettled); err != nil {
				return err
			}
		}
	}

	observability.TransactionsProcessed.WithLabelValues(string(txn.Type), "done").Inc()
	s.logger.Info("transaction settled",
		ports.String("transaction_id", txn.ID),
		ports.String("type", string(txn.Type)),
		ports.String("processor_uri", txn.ProcessorURI),
		ports.Int64("amount_cents", txn.AmountCents))

	return nil
}

// recordFailure logs the gateway failure against the transaction and moves it
// to RETRYING, or FAILED once retries are exhausted
func (s *Service) recordFailure(ctx context.Context, tx pgx.Tx, txn *models.Transaction, gwErr error) error {
	txn.FailureCount++

	failure := &models.TransactionFailure{
		ID:            uuid.New().String(),
		TransactionID: txn.ID,
		Message:       gwErr.Error(),
		Number:        txn.FailureCount,
	}
	var domainErr *domain.DomainError
	if errors.As(gwErr, &domainErr) {
		failure.Code = string(domainErr.Code)
	}
	if err := s.txnRepo.AddFailure(ctx, tx, failure); err != nil {
		return err
	}

	exhausted := txn.FailureCount >= s.maxRetries
	if exhausted {
		txn.Status = models.TransactionStatusFailed
	} else {
		txn.Status = models.TransactionStatusRetrying
	}
	if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
		return err
	}

	// A failed refund leaves the invoice SETTLED; only collection failures
	// surface on the invoice.
	if exhausted && !txn.IsRefund() {
		invoiceID := uuid.MustParse(txn.InvoiceID)
		invoice, err := s.invoiceRepo.GetForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.CanTransitionTo(models.InvoiceStatusProcessFailed) {
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceID, models.InvoiceStatusProcessFailed); err != nil {
				return err
			}
		}
	}

	observability.TransactionsProcessed.WithLabelValues(string(txn.Type), string(txn.Status)).Inc()
	s.logger.Warn("gateway call failed",
		ports.String("transaction_id", txn.ID),
		ports.Int("failure_count", txn.FailureCount),
		ports.String("status", string(txn.Status)),
		ports.Err(gwErr))

	return nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction ID %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
