package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
	svcports "github.com/kevin07696/billing-engine/internal/services/ports"
)

// MockDBPort mocks the database port
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	// Execute the function with nil transaction for testing
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// MockInvoiceRepository mocks the invoice repository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) Create(ctx context.Context, tx ports.DBTX, invoice *models.Invoice) error {
	args := m.Called(ctx, tx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.InvoiceStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

func (m *MockInvoiceRepository) UpdateFundingInstrument(ctx context.Context, tx ports.DBTX, id uuid.UUID, fundingInstrument string) error {
	args := m.Called(ctx, tx, id, fundingInstrument)
	return args.Error(0)
}

func (m *MockInvoiceRepository) GetCustomer(ctx context.Context, tx ports.DBTX, invoiceID uuid.UUID) (*models.Customer, error) {
	args := m.Called(ctx, tx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

// MockTransactionRepository mocks the transaction repository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) Update(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *MockTransactionRepository) ListByInvoice(ctx context.Context, tx ports.DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error) {
	args := m.Called(ctx, tx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListOutstandingByInvoice(ctx context.Context, tx ports.DBTX, invoiceID uuid.UUID) ([]*models.Transaction, error) {
	args := m.Called(ctx, tx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListPending(ctx context.Context, tx ports.DBTX, ids []uuid.UUID, limit int32) ([]*models.Transaction, error) {
	args := m.Called(ctx, tx, ids, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) SumRefunds(ctx context.Context, tx ports.DBTX, invoiceID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tx, invoiceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) FindSettledCharge(ctx context.Context, tx ports.DBTX, invoiceID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, tx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) LastBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, tx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) AddFailure(ctx context.Context, tx ports.DBTX, failure *models.TransactionFailure) error {
	args := m.Called(ctx, tx, failure)
	return args.Error(0)
}

func (m *MockTransactionRepository) ListFailures(ctx context.Context, tx ports.DBTX, transactionID uuid.UUID) ([]*models.TransactionFailure, error) {
	args := m.Called(ctx, tx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TransactionFailure), args.Error(1)
}

// MockSubscriptionRepository mocks the subscription repository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListDueForUpdate(ctx context.Context, tx pgx.Tx, now time.Time, ids []uuid.UUID, limit int32) ([]*models.Subscription, error) {
	args := m.Called(ctx, tx, now, ids, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

// MockPlanRepository mocks the plan repository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Create(ctx context.Context, tx ports.DBTX, plan *models.Plan) error {
	args := m.Called(ctx, tx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Plan, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Plan), args.Error(1)
}

// MockTransactionService mocks the transaction service
type MockTransactionService struct {
	mock.Mock
}

func (m *MockTransactionService) CreateTx(ctx context.Context, tx pgx.Tx, params svcports.CreateTransactionParams) (*models.Transaction, error) {
	args := m.Called(ctx, tx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionService) ProcessOne(ctx context.Context, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionService) ProcessTransactions(ctx context.Context, candidateIDs []string) ([]string, error) {
	args := m.Called(ctx, candidateIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockTransactionService) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionService) ListByInvoice(ctx context.Context, invoiceID string) ([]*models.Transaction, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

// noopLogger discards all log output
type noopLogger struct{}

func (noopLogger) Info(msg string, fields ...ports.Field)  {}
func (noopLogger) Error(msg string, fields ...ports.Field) {}
func (noopLogger) Warn(msg string, fields ...ports.Field)  {}
func (noopLogger) Debug(msg string, fields ...ports.Field) {}

type fixture struct {
	db          *MockDBPort
	invoiceRepo *MockInvoiceRepository
	txnRepo     *MockTransactionRepository
	subRepo     *MockSubscriptionRepository
	planRepo    *MockPlanRepository
	txnService  *MockTransactionService
	service     *Service
}

var testNow = time.Date(2013, 10, 20, 0, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		db:          new(MockDBPort),
		invoiceRepo: new(MockInvoiceRepository),
		txnRepo:     new(MockTransactionRepository),
		subRepo:     new(MockSubscriptionRepository),
		planRepo:    new(MockPlanRepository),
		txnService:  new(MockTransactionService),
	}
	f.service = NewService(f.db, f.invoiceRepo, f.txnRepo, f.subRepo, f.planRepo,
		f.txnService, ports.FixedClock(testNow), noopLogger{})
	return f
}

func TestService_Create_CustomerInvoiceStartsProcessing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	customerID := uuid.New().String()
	externalID := "order-42"

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Invoice")).Return(nil)
	f.txnService.On("CreateTx", ctx, nil, mock.MatchedBy(func(params svcports.CreateTransactionParams) bool {
		return params.Type == models.TransactionTypeCharge &&
			params.AmountCents == 5566 &&
			params.FundingInstrument == "tok_visa" &&
			params.ScheduledAt.Equal(testNow)
	})).Return(&models.Transaction{ID: uuid.New().String(), Status: models.TransactionStatusInit}, nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, mock.Anything, models.InvoiceStatusProcessing).Return(nil)

	invoice, txn, err := f.service.Create(ctx, svcports.CreateInvoiceParams{
		CustomerID:        customerID,
		AmountCents:       5566,
		Title:             "October order",
		FundingInstrument: "tok_visa",
		ExternalID:        &externalID,
	})

	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, models.InvoiceStatusProcessing, invoice.Status)
	assert.Equal(t, models.ScopeCustomer, invoice.Scope)
	require.NotNil(t, invoice.ExternalID)
	assert.Equal(t, externalID, *invoice.ExternalID)
	f.txnService.AssertExpectations(t)
}

func TestService_Create_ZeroAmountSettlesImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Invoice")).Return(nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, mock.Anything, models.InvoiceStatusSettled).Return(nil)

	invoice, txn, err := f.service.Create(ctx, svcports.CreateInvoiceParams{
		CustomerID:        uuid.New().String(),
		AmountCents:       0,
		FundingInstrument: "tok_visa",
	})

	require.NoError(t, err)
	assert.Nil(t, txn)
	assert.Equal(t, models.InvoiceStatusSettled, invoice.Status)
	f.txnService.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
}

// A credit adjustment that consumes the whole base amount leaves nothing to
// collect; the invoice settles at creation even though an instrument is on
// file.
func TestService_Create_AdjustmentsConsumeAmountSettlesImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Invoice")).Return(nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, mock.Anything, models.InvoiceStatusSettled).Return(nil)

	invoice, txn, err := f.service.Create(ctx, svcports.CreateInvoiceParams{
		CustomerID:        uuid.New().String(),
		AmountCents:       3000,
		FundingInstrument: "tok_visa",
		Adjustments: []models.Adjustment{
			{AmountCents: -3000, Reason: "service credit"},
		},
	})

	require.NoError(t, err)
	assert.Nil(t, txn)
	assert.Equal(t, models.InvoiceStatusSettled, invoice.Status)
	f.txnService.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
}

// Without a funding instrument there is nothing to collect against yet; the
// invoice waits in INIT for UpdateFundingInstrument.
func TestService_Create_NoFundingInstrumentStaysInit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Invoice")).Return(nil)

	invoice, txn, err := f.service.Create(ctx, svcports.CreateInvoiceParams{
		CustomerID:  uuid.New().String(),
		AmountCents: 4500,
	})

	require.NoError(t, err)
	assert.Nil(t, txn)
	assert.Equal(t, models.InvoiceStatusInit, invoice.Status)
	f.invoiceRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Create_SubscriptionInvoiceFollowsPlanType(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sub := &models.Subscription{
		ID:     uuid.New().String(),
		PlanID: uuid.New().String(),
	}
	plan := &models.Plan{
		ID:   sub.PlanID,
		Type: models.PlanTypePayout,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.subRepo.On("GetByID", ctx, nil, uuid.MustParse(sub.ID)).Return(sub, nil)
	f.planRepo.On("GetByID", ctx, nil, uuid.MustParse(plan.ID)).Return(plan, nil)
	f.invoiceRepo.On("Create", ctx, nil, mock.AnythingOfType("*models.Invoice")).Return(nil)
	f.txnService.On("CreateTx", ctx, nil, mock.MatchedBy(func(params svcports.CreateTransactionParams) bool {
		return params.Type == models.TransactionTypePayout
	})).Return(&models.Transaction{ID: uuid.New().String()}, nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, mock.Anything, models.InvoiceStatusProcessing).Return(nil)

	invoice, _, err := f.service.Create(ctx, svcports.CreateInvoiceParams{
		SubscriptionID:    sub.ID,
		AmountCents:       4500,
		FundingInstrument: "acct_123",
	})

	require.NoError(t, err)
	assert.Equal(t, models.ScopeSubscription, invoice.Scope)
	assert.Equal(t, models.TransactionTypePayout, invoice.TransactionType)
}

func TestService_Create_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name   string
		params svcports.CreateInvoiceParams
	}{
		{
			name: "both owners set",
			params: svcports.CreateInvoiceParams{
				SubscriptionID: uuid.New().String(),
				CustomerID:     uuid.New().String(),
				AmountCents:    100,
			},
		},
		{
			name:   "no owner set",
			params: svcports.CreateInvoiceParams{AmountCents: 100},
		},
		{
			name: "negative amount",
			params: svcports.CreateInvoiceParams{
				CustomerID:  uuid.New().String(),
				AmountCents: -1,
			},
		},
		{
			name: "zero item quantity",
			params: svcports.CreateInvoiceParams{
				CustomerID:  uuid.New().String(),
				AmountCents: 100,
				Items:       []models.Item{{Name: "widget", Quantity: 0, AmountCents: 100}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
			_, _, err := f.service.Create(ctx, tt.params)
			require.Error(t, err)
			assert.True(t, domain.IsClientError(err))
		})
	}
	f.invoiceRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_UpdateFundingInstrument_FromInit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:              invoiceID.String(),
		Scope:           models.ScopeCustomer,
		AmountCents:     4500,
		Status:          models.InvoiceStatusInit,
		TransactionType: models.TransactionTypeCharge,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.invoiceRepo.On("UpdateFundingInstrument", ctx, nil, invoiceID, "tok_mastercard").Return(nil)
	f.txnService.On("CreateTx", ctx, nil, mock.MatchedBy(func(params svcports.CreateTransactionParams) bool {
		return params.FundingInstrument == "tok_mastercard" && params.AmountCents == 4500
	})).Return(&models.Transaction{ID: uuid.New().String()}, nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, invoiceID, models.InvoiceStatusProcessing).Return(nil)

	created, err := f.service.UpdateFundingInstrument(ctx, invoice.ID, "tok_mastercard")

	require.NoError(t, err)
	assert.Len(t, created, 1)
	f.txnRepo.AssertNotCalled(t, "ListOutstandingByInvoice", mock.Anything, mock.Anything, mock.Anything)
}

// Swapping the instrument mid-processing cancels the outstanding transaction
// so at most one collection attempt is ever live.
func TestService_UpdateFundingInstrument_ReplacesOutstanding(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:              invoiceID.String(),
		Scope:           models.ScopeCustomer,
		AmountCents:     4500,
		Status:          models.InvoiceStatusProcessing,
		TransactionType: models.TransactionTypeCharge,
	}
	outstanding := &models.Transaction{
		ID:        uuid.New().String(),
		InvoiceID: invoice.ID,
		Type:      models.TransactionTypeCharge,
		Status:    models.TransactionStatusRetrying,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.txnRepo.On("ListOutstandingByInvoice", ctx, nil, invoiceID).
		Return([]*models.Transaction{outstanding}, nil)
	f.txnRepo.On("Update", ctx, nil, outstanding).Return(nil)
	f.invoiceRepo.On("UpdateFundingInstrument", ctx, nil, invoiceID, "tok_mastercard").Return(nil)
	f.txnService.On("CreateTx", ctx, nil, mock.AnythingOfType("ports.CreateTransactionParams")).
		Return(&models.Transaction{ID: uuid.New().String()}, nil)

	created, err := f.service.UpdateFundingInstrument(ctx, invoice.ID, "tok_mastercard")

	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, models.TransactionStatusCanceled, outstanding.Status)
	// Already PROCESSING; no redundant status write.
	f.invoiceRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_UpdateFundingInstrument_SettledInvoice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:     invoiceID.String(),
		Status: models.InvoiceStatusSettled,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)

	_, err := f.service.UpdateFundingInstrument(ctx, invoice.ID, "tok_mastercard")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidOperation))
	f.invoiceRepo.AssertNotCalled(t, "UpdateFundingInstrument",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Cancel_VoidsOutstandingTransactions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:     invoiceID.String(),
		Status: models.InvoiceStatusProcessing,
	}
	outstanding := &models.Transaction{
		ID:        uuid.New().String(),
		InvoiceID: invoice.ID,
		Type:      models.TransactionTypeCharge,
		Status:    models.TransactionStatusInit,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.invoiceRepo.On("UpdateStatus", ctx, nil, invoiceID, models.InvoiceStatusCanceled).Return(nil)
	f.txnRepo.On("ListOutstandingByInvoice", ctx, nil, invoiceID).
		Return([]*models.Transaction{outstanding}, nil)
	f.txnRepo.On("Update", ctx, nil, outstanding).Return(nil)

	got, err := f.service.Cancel(ctx, invoice.ID)

	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusCanceled, got.Status)
	assert.Equal(t, models.TransactionStatusCanceled, outstanding.Status)
}

func TestService_Cancel_SettledInvoice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:     invoiceID.String(),
		Status: models.InvoiceStatusSettled,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)

	_, err := f.service.Cancel(ctx, invoice.ID)

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidOperation))
	f.invoiceRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Refund_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:          invoiceID.String(),
		AmountCents: 4500,
		Status:      models.InvoiceStatusSettled,
	}
	settled := &models.Transaction{
		ID:           uuid.New().String(),
		InvoiceID:    invoice.ID,
		Type:         models.TransactionTypeCharge,
		Status:       models.TransactionStatusDone,
		ProcessorURI: "/sandbox/debits/1",
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.txnRepo.On("SumRefunds", ctx, nil, invoiceID).Return(int64(1000), nil)
	f.txnRepo.On("FindSettledCharge", ctx, nil, invoiceID).Return(settled, nil)
	f.txnService.On("CreateTx", ctx, nil, mock.MatchedBy(func(params svcports.CreateTransactionParams) bool {
		return params.Type == models.TransactionTypeRefund &&
			params.AmountCents == 3500 &&
			params.RefundToID != nil && *params.RefundToID == settled.ID
	})).Return(&models.Transaction{ID: uuid.New().String(), Type: models.TransactionTypeRefund}, nil)

	txn, err := f.service.Refund(ctx, invoice.ID, 3500, "goodwill")

	require.NoError(t, err)
	assert.True(t, txn.IsRefund())
	f.txnService.AssertExpectations(t)
}

func TestService_Refund_ExceedsRefundable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:          invoiceID.String(),
		AmountCents: 4500,
		Status:      models.InvoiceStatusSettled,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.txnRepo.On("SumRefunds", ctx, nil, invoiceID).Return(int64(1000), nil)

	_, err := f.service.Refund(ctx, invoice.ID, 3600, "")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidOperation))
	f.txnService.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
}

// Adjustments shrink (or grow) the refundable ceiling along with the base
// amount.
func TestService_Refund_HonorsAdjustedAmount(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:          invoiceID.String(),
		AmountCents: 4500,
		Status:      models.InvoiceStatusSettled,
		Adjustments: []models.Adjustment{{AmountCents: -500, Reason: "loyalty discount"}},
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)
	f.txnRepo.On("SumRefunds", ctx, nil, invoiceID).Return(int64(0), nil)

	_, err := f.service.Refund(ctx, invoice.ID, 4100, "")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidOperation))
}

func TestService_Refund_UnsettledInvoice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	invoiceID := uuid.New()
	invoice := &models.Invoice{
		ID:     invoiceID.String(),
		Status: models.InvoiceStatusProcessing,
	}

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)
	f.invoiceRepo.On("GetForUpdate", ctx, nil, invoiceID).Return(invoice, nil)

	_, err := f.service.Refund(ctx, invoice.ID, 100, "")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeInvalidOperation))
}

func TestService_Refund_NonPositiveAmount(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.db.On("WithTransaction", ctx, mock.Anything).Return(nil)

	_, err := f.service.Refund(ctx, uuid.New().String(), 0, "")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationAmountInvalid))
}
