package models

import (
	"time"
)

// TransactionStatus represents the submission state of a transaction
type TransactionStatus string

const (
	TransactionStatusInit     TransactionStatus = "init"
	TransactionStatusRetrying TransactionStatus = "retrying"
	TransactionStatusDone     TransactionStatus = "done"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusCanceled TransactionStatus = "canceled"
)

// TransactionType represents the direction money moves
type TransactionType string

const (
	TransactionTypeCharge TransactionType = "charge"
	TransactionTypePayout TransactionType = "payout"
	TransactionTypeRefund TransactionType = "refund"
)

// Transaction is one attempt to move money against an invoice.
//
// A transaction is created INIT, moves to RETRYING after a transient gateway
// failure, and ends DONE, FAILED, or CANCELED. ProcessorURI holds the
// gateway-side record identifier once the call succeeds; the transaction's
// own ID doubles as the idempotency tag sent to the gateway.
type Transaction struct {
	ID                string
	InvoiceID         string
	Type              TransactionType
	AmountCents       int64
	FundingInstrument string
	RefundToID        *string // the DONE charge/payout this refund reverses
	Status            TransactionStatus
	ProcessorURI      string
	FailureCount      int
	ScheduledAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsOutstanding returns true while the transaction still awaits a gateway result
func (t *Transaction) IsOutstanding() bool {
	return t.Status == TransactionStatusInit || t.Status == TransactionStatusRetrying
}

// IsRefund returns true for refund transactions
func (t *Transaction) IsRefund() bool {
	return t.Type == TransactionTypeRefund
}

// TransactionFailure is one append-only record of a failed gateway call.
// The count of failures for a transaction is its failure counter.
type TransactionFailure struct {
	ID            string
	TransactionID string
	Message       string
	Code          string
	Number        int
	CreatedAt     time.Time
}
