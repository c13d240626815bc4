package models

import (
	"time"
)

// InvoiceStatus represents the invoice lifecycle state
type InvoiceStatus string

const (
	InvoiceStatusInit          InvoiceStatus = "init"
	InvoiceStatusProcessing    InvoiceStatus = "processing"
	InvoiceStatusSettled       InvoiceStatus = "settled"
	InvoiceStatusCanceled      InvoiceStatus = "canceled"
	InvoiceStatusProcessFailed InvoiceStatus = "process_failed"
)

// InvoiceScope tags which owner variant an invoice belongs to
type InvoiceScope string

const (
	// ScopeSubscription marks an invoice generated by a subscription's billing cycle
	ScopeSubscription InvoiceScope = "subscription"
	// ScopeCustomer marks an ad-hoc invoice owned directly by a customer
	ScopeCustomer InvoiceScope = "customer"
)

// Invoice represents a billable obligation with a fixed amount.
//
// The scope tag selects the owner variant: subscription invoices carry
// SubscriptionID, customer invoices carry CustomerID plus the caller-supplied
// ExternalID that serves as the idempotency key. (customer_id, external_id)
// is unique at the datastore level.
type Invoice struct {
	ID                string
	Scope             InvoiceScope
	SubscriptionID    *string
	CustomerID        *string
	ExternalID        *string
	Title             string
	AmountCents       int64
	FundingInstrument string
	Status            InvoiceStatus
	TransactionType   TransactionType
	Items             []Item
	Adjustments       []Adjustment
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Item is a display line on an invoice
type Item struct {
	ID          string
	InvoiceID   string
	Name        string
	Quantity    int
	AmountCents int64 // unit amount
	CreatedAt   time.Time
}

// Adjustment is a signed amount applied on top of the invoice base amount
type Adjustment struct {
	ID          string
	InvoiceID   string
	AmountCents int64
	Reason      string
	CreatedAt   time.Time
}

// EffectiveAmount returns the base amount plus the sum of signed adjustments
func (i *Invoice) EffectiveAmount() int64 {
	total := i.AmountCents
	for _, a := range i.Adjustments {
		total += a.AmountCents
	}
	return total
}

// IsTerminal returns true if no further status transition is legal
func (i *Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusSettled || i.Status == InvoiceStatusCanceled
}

// validInvoiceTransitions encodes the forward-only invoice state machine
var validInvoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusInit:          {InvoiceStatusProcessing, InvoiceStatusSettled, InvoiceStatusCanceled},
	InvoiceStatusProcessing:    {InvoiceStatusSettled, InvoiceStatusCanceled, InvoiceStatusProcessFailed},
	InvoiceStatusProcessFailed: {InvoiceStatusProcessing, InvoiceStatusCanceled},
}

// CanTransitionTo reports whether moving to the target status is legal
func (i *Invoice) CanTransitionTo(target InvoiceStatus) bool {
	for _, s := range validInvoiceTransitions[i.Status] {
		if s == target {
			return true
		}
	}
	return false
}
