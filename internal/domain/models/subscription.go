package models

import (
	"time"
)

// Frequency defines the calendar unit of a billing interval
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// PlanType determines the direction money moves for a plan
type PlanType string

const (
	PlanTypeCharge PlanType = "charge"
	PlanTypePayout PlanType = "payout"
)

// Plan represents a billable product a customer can subscribe to
type Plan struct {
	ID          string
	CompanyID   string
	Name        string
	Type        PlanType
	AmountCents int64
	Frequency   Frequency
	Interval    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransactionType returns the transaction type produced by this plan
func (p *Plan) TransactionType() TransactionType {
	if p.Type == PlanTypePayout {
		return TransactionTypePayout
	}
	return TransactionTypeCharge
}

// Subscription represents a customer's recurring enrollment in a plan.
//
// Period counts the transactions already issued; NextTransactionAt is the
// instant the next one becomes due. The pair only ever advances forward and
// is always persisted together with the transaction it produced.
type Subscription struct {
	ID                string
	CustomerID        string
	PlanID            string
	FundingInstrument string
	AmountCents       *int64 // optional override of the plan amount
	Period            int
	StartedAt         time.Time
	NextTransactionAt time.Time
	Canceled          bool
	CanceledAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsCanceled returns true if the subscription has been canceled
func (s *Subscription) IsCanceled() bool {
	return s.Canceled || s.CanceledAt != nil
}

// EffectiveAmount resolves the billed amount: the subscription override
// when present, otherwise the plan amount.
func (s *Subscription) EffectiveAmount(plan *Plan) int64 {
	if s.AmountCents != nil {
		return *s.AmountCents
	}
	return plan.AmountCents
}

// IsDue returns true if the subscription owes a transaction at the given instant
func (s *Subscription) IsDue(now time.Time) bool {
	return !s.IsCanceled() && !s.NextTransactionAt.After(now)
}
