// Package sandbox provides an in-memory processor gateway for development
// and tests. It keeps every settled record indexed by transaction tag, so the
// FindResult crash-recovery path behaves like a real gateway's idempotency
// lookup, and it can be scripted to fail specific calls.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
)

// Gateway implements ports.ProcessorGateway in memory
type Gateway struct {
	mu        sync.Mutex
	customers map[string]string                 // customer ID -> processor URI
	results   map[string]*ports.ProcessorResult // transaction tag -> result
	failures  map[string]int                    // transaction tag -> remaining scripted failures
	failAll   error
}

// NewGateway creates an empty sandbox gateway
func NewGateway() *Gateway {
	return &Gateway{
		customers: make(map[string]string),
		results:   make(map[string]*ports.ProcessorResult),
		failures:  make(map[string]int),
	}
}

// FailNext scripts the next n calls for a transaction tag to fail
func (g *Gateway) FailNext(tag string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[tag] = n
}

// FailAll makes every money-moving call fail with err until reset with nil
func (g *Gateway) FailAll(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = err
}

// Seed records a pre-existing gateway result for a tag, simulating a prior
// process that charged and crashed before committing.
func (g *Gateway) Seed(tag string, result *ports.ProcessorResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[tag] = result
}

// CreateCustomer registers the customer and returns a sandbox customer URI
func (g *Gateway) CreateCustomer(ctx context.Context, customer *models.Customer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if uri, ok := g.customers[customer.ID]; ok {
		return uri, nil
	}
	uri := "/sandbox/customers/" + uuid.New().String()
	g.customers[customer.ID] = uri
	return uri, nil
}

// PrepareCustomer attaches a funding instrument to a registered customer
func (g *Gateway) PrepareCustomer(ctx context.Context, customer *models.Customer, fundingInstrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.customers[customer.ID]; !ok {
		return domain.NewDomainError(domain.ErrorCodeGatewayError,
			"customer is not registered with the sandbox").
			WithDetail("customer_id", customer.ID)
	}
	if fundingInstrument == "" {
		return domain.NewDomainError(domain.ErrorCodeGatewayError,
			"funding instrument is required")
	}
	return nil
}

// Charge settles a charge and records it under the transaction tag
func (g *Gateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ProcessorResult, error) {
	return g.settle(ctx, req.TransactionID, "debits")
}

// Payout settles a payout and records it under the transaction tag
func (g *Gateway) Payout(ctx context.Context, req *ports.PayoutRequest) (*ports.ProcessorResult, error) {
	return g.settle(ctx, req.TransactionID, "credits")
}

// Refund settles a refund against a prior charge record
func (g *Gateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.ProcessorResult, error) {
	if req.ChargeURI == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError,
			"refund requires the charge record URI")
	}
	return g.settle(ctx, req.TransactionID, "refunds")
}

// FindResult looks up a prior record by transaction tag; (nil, nil) when absent
func (g *Gateway) FindResult(ctx context.Context, tag string) (*ports.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if result, ok := g.results[tag]; ok {
		copied := *result
		return &copied, nil
	}
	return nil, nil
}

func (g *Gateway) settle(ctx context.Context, tag, kind string) (*ports.ProcessorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failAll != nil {
		return nil, g.failAll
	}
	if n := g.failures[tag]; n > 0 {
		g.failures[tag] = n - 1
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError,
			"sandbox declined the transaction").WithDetail("tag", tag)
	}

	// A second settle with the same tag returns the original record, the way
	// idempotency keys behave at a real processor.
	if result, ok := g.results[tag]; ok {
		copied := *result
		return &copied, nil
	}

	result := &ports.ProcessorResult{
		ProcessorURI: fmt.Sprintf("/sandbox/%s/%s", kind, uuid.New().String()),
		Status:       "settled",
	}
	g.results[tag] = result
	copied := *result
	return &copied, nil
}
