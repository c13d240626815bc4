package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoice_EffectiveAmount(t *testing.T) {
	inv := &Invoice{AmountCents: 4500}
	assert.Equal(t, int64(4500), inv.EffectiveAmount())

	inv.Adjustments = []Adjustment{
		{AmountCents: -500, Reason: "loyalty discount"},
		{AmountCents: 200, Reason: "late fee"},
	}
	assert.Equal(t, int64(4200), inv.EffectiveAmount())
}

func TestInvoice_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   InvoiceStatus
		to     InvoiceStatus
		wantOK bool
	}{
		{"init to processing", InvoiceStatusInit, InvoiceStatusProcessing, true},
		{"init settles directly on zero amount", InvoiceStatusInit, InvoiceStatusSettled, true},
		{"init to canceled", InvoiceStatusInit, InvoiceStatusCanceled, true},
		{"processing to settled", InvoiceStatusProcessing, InvoiceStatusSettled, true},
		{"processing to process_failed", InvoiceStatusProcessing, InvoiceStatusProcessFailed, true},
		{"process_failed reopens to processing", InvoiceStatusProcessFailed, InvoiceStatusProcessing, true},
		{"process_failed to canceled", InvoiceStatusProcessFailed, InvoiceStatusCanceled, true},
		{"settled is terminal", InvoiceStatusSettled, InvoiceStatusProcessing, false},
		{"canceled is terminal", InvoiceStatusCanceled, InvoiceStatusProcessing, false},
		{"no backward move to init", InvoiceStatusProcessing, InvoiceStatusInit, false},
		{"init cannot fail before processing", InvoiceStatusInit, InvoiceStatusProcessFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invoice{Status: tt.from}
			assert.Equal(t, tt.wantOK, inv.CanTransitionTo(tt.to))
		})
	}
}

func TestInvoice_IsTerminal(t *testing.T) {
	assert.True(t, (&Invoice{Status: InvoiceStatusSettled}).IsTerminal())
	assert.True(t, (&Invoice{Status: InvoiceStatusCanceled}).IsTerminal())
	assert.False(t, (&Invoice{Status: InvoiceStatusInit}).IsTerminal())
	assert.False(t, (&Invoice{Status: InvoiceStatusProcessing}).IsTerminal())
	assert.False(t, (&Invoice{Status: InvoiceStatusProcessFailed}).IsTerminal())
}

func TestTransaction_IsOutstanding(t *testing.T) {
	assert.True(t, (&Transaction{Status: TransactionStatusInit}).IsOutstanding())
	assert.True(t, (&Transaction{Status: TransactionStatusRetrying}).IsOutstanding())
	assert.False(t, (&Transaction{Status: TransactionStatusDone}).IsOutstanding())
	assert.False(t, (&Transaction{Status: TransactionStatusFailed}).IsOutstanding())
	assert.False(t, (&Transaction{Status: TransactionStatusCanceled}).IsOutstanding())
}

func TestTransaction_IsRefund(t *testing.T) {
	assert.True(t, (&Transaction{Type: TransactionTypeRefund}).IsRefund())
	assert.False(t, (&Transaction{Type: TransactionTypeCharge}).IsRefund())
	assert.False(t, (&Transaction{Type: TransactionTypePayout}).IsRefund())
}

func TestPlan_TransactionType(t *testing.T) {
	assert.Equal(t, TransactionTypeCharge, (&Plan{Type: PlanTypeCharge}).TransactionType())
	assert.Equal(t, TransactionTypePayout, (&Plan{Type: PlanTypePayout}).TransactionType())
}

func TestSubscription_EffectiveAmount(t *testing.T) {
	plan := &Plan{AmountCents: 3000}

	sub := &Subscription{}
	assert.Equal(t, int64(3000), sub.EffectiveAmount(plan))

	override := int64(2500)
	sub.AmountCents = &override
	assert.Equal(t, int64(2500), sub.EffectiveAmount(plan))
}

func TestSubscription_IsDue(t *testing.T) {
	now := time.Date(2013, 10, 20, 12, 0, 0, 0, time.UTC)

	sub := &Subscription{NextTransactionAt: now}
	assert.True(t, sub.IsDue(now), "due exactly at the boundary")
	assert.True(t, sub.IsDue(now.Add(time.Hour)))
	assert.False(t, sub.IsDue(now.Add(-time.Second)))

	canceledAt := now
	canceled := &Subscription{NextTransactionAt: now, Canceled: true, CanceledAt: &canceledAt}
	assert.False(t, canceled.IsDue(now))
}

func TestSubscription_IsCanceled(t *testing.T) {
	assert.False(t, (&Subscription{}).IsCanceled())
	assert.True(t, (&Subscription{Canceled: true}).IsCanceled())

	// A set timestamp counts even if the flag was missed.
	at := time.Now()
	assert.True(t, (&Subscription{CanceledAt: &at}).IsCanceled())
}
