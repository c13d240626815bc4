package ports

import (
	"context"

	"github.com/kevin07696/billing-engine/internal/domain/models"
)

// ProcessorResult is the gateway's record of a completed money movement
type ProcessorResult struct {
	// ProcessorURI identifies the gateway-side record
	ProcessorURI string
	// Status is the gateway's own status string for the record
	Status string
}

// ChargeRequest asks the gateway to move money from a funding instrument
type ChargeRequest struct {
	// TransactionID is our transaction's identifier, sent to the gateway as
	// an idempotency tag. FindResult looks records up by this tag.
	TransactionID     string
	CustomerURI       string
	FundingInstrument string
	AmountCents       int64
}

// PayoutRequest asks the gateway to move money to a funding instrument
type PayoutRequest struct {
	TransactionID     string
	CustomerURI       string
	FundingInstrument string
	AmountCents       int64
}

// RefundRequest asks the gateway to reverse part or all of a prior charge
type RefundRequest struct {
	TransactionID string
	// ChargeURI is the gateway record of the charge being reversed; refunds
	// reuse its payment method implicitly.
	ChargeURI   string
	AmountCents int64
}

// ProcessorGateway is the capability interface for an external payment
// gateway. Implementations hold no per-call state and may be shared across
// concurrent callers. Any method may fail transiently; retry policy belongs
// to the transaction processor, not the adapter.
type ProcessorGateway interface {
	// CreateCustomer registers the customer with the gateway and returns
	// the gateway-side customer URI.
	CreateCustomer(ctx context.Context, customer *models.Customer) (string, error)
	// PrepareCustomer attaches a funding instrument to the gateway-side
	// customer record.
	PrepareCustomer(ctx context.Context, customer *models.Customer, fundingInstrument string) error
	Charge(ctx context.Context, req *ChargeRequest) (*ProcessorResult, error)
	Payout(ctx context.Context, req *PayoutRequest) (*ProcessorResult, error)
	Refund(ctx context.Context, req *RefundRequest) (*ProcessorResult, error)
	// FindResult looks up a prior gateway record by transaction tag. It
	// returns (nil, nil) when no record exists. This is the crash-recovery
	// idempotency guard: a process that charged the gateway and crashed
	// before persisting DONE finds its own charge here on restart.
	FindResult(ctx context.Context, tag string) (*ProcessorResult, error)
}
