package sandbox

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/billing-engine/internal/domain"
	"github.com/kevin07696/billing-engine/internal/domain/models"
	"github.com/kevin07696/billing-engine/internal/domain/ports"
)

func TestGateway_ChargeRoundTrip(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	customer := &models.Customer{ID: uuid.New().String()}
	uri, err := g.CreateCustomer(ctx, customer)
	require.NoError(t, err)
	assert.NotEmpty(t, uri)

	require.NoError(t, g.PrepareCustomer(ctx, customer, "tok_visa"))

	tag := uuid.New().String()
	result, err := g.Charge(ctx, &ports.ChargeRequest{
		TransactionID:     tag,
		CustomerURI:       uri,
		FundingInstrument: "tok_visa",
		AmountCents:       3000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProcessorURI)

	found, err := g.FindResult(ctx, tag)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, result.ProcessorURI, found.ProcessorURI)
}

func TestGateway_FindResult_UnknownTag(t *testing.T) {
	g := NewGateway()

	found, err := g.FindResult(context.Background(), uuid.New().String())

	require.NoError(t, err)
	assert.Nil(t, found)
}

// Charging the same tag twice returns the original record, it does not move
// money again.
func TestGateway_Charge_IdempotentByTag(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	tag := uuid.New().String()
	req := &ports.ChargeRequest{TransactionID: tag, AmountCents: 3000}

	first, err := g.Charge(ctx, req)
	require.NoError(t, err)
	second, err := g.Charge(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ProcessorURI, second.ProcessorURI)
}

func TestGateway_FailNext(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	tag := uuid.New().String()
	g.FailNext(tag, 2)
	req := &ports.ChargeRequest{TransactionID: tag, AmountCents: 3000}

	_, err := g.Charge(ctx, req)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))

	_, err = g.Charge(ctx, req)
	require.Error(t, err)

	result, err := g.Charge(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProcessorURI)
}

func TestGateway_Seed_SimulatesCrashedCharge(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	tag := uuid.New().String()
	g.Seed(tag, &ports.ProcessorResult{ProcessorURI: "/sandbox/debits/crashed", Status: "settled"})

	found, err := g.FindResult(ctx, tag)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "/sandbox/debits/crashed", found.ProcessorURI)
}

func TestGateway_PrepareCustomer_UnknownCustomer(t *testing.T) {
	g := NewGateway()

	err := g.PrepareCustomer(context.Background(), &models.Customer{ID: uuid.New().String()}, "tok_visa")

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))
}

func TestGateway_Refund_RequiresChargeURI(t *testing.T) {
	g := NewGateway()

	_, err := g.Refund(context.Background(), &ports.RefundRequest{
		TransactionID: uuid.New().String(),
		AmountCents:   100,
	})

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeGatewayError))
}
