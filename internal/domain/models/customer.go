package models

import (
	"time"
)

// Company is a tenant of the billing engine
type Company struct {
	ID        string
	Name      string
	APIKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer is a payer (or payee) registered with the external processor.
// ProcessorURI is the gateway-side customer record created on first use.
type Customer struct {
	ID           string
	CompanyID    string
	ExternalID   string
	ProcessorURI string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
