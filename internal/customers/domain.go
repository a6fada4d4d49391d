package customers

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger movement kinds. A DEBIT increases what the customer owes, a
// CREDIT decreases it.
const (
	MovementDebit  = "DEBIT"
	MovementCredit = "CREDIT"
)

// Customer is an account holder. Balance is the current account debt;
// positive means the customer owes the store.
type Customer struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	DocumentNumber  *string         `json:"document_number,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	Email           *string         `json:"email,omitempty"`
	Address         *string         `json:"address,omitempty"`
	Balance         decimal.Decimal `json:"balance"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LedgerEntry is one append-only row of a customer account. NewBalance of
// the latest entry always equals the customer row balance.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	Movement     string          `json:"movement"`
	Amount       decimal.Decimal `json:"amount"`
	PriorBalance decimal.Decimal `json:"prior_balance"`
	NewBalance   decimal.Decimal `json:"new_balance"`
	Concept      string          `json:"concept"`
	SaleID       *int64          `json:"sale_id,omitempty"`
	ActorID      *int64          `json:"actor_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CreateCustomerRequest is the payload for creating customers.
type CreateCustomerRequest struct {
	Name            string  `json:"name" validate:"required,max=200"`
	DocumentNumber  *string `json:"document_number,omitempty" validate:"omitempty,max=30"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email,max=200"`
	Address         *string `json:"address,omitempty" validate:"omitempty,max=300"`
	CreditLimit     string  `json:"credit_limit,omitempty"`
	DiscountPercent string  `json:"discount_percent,omitempty"`
}

// UpdateCustomerRequest carries optional field updates.
type UpdateCustomerRequest struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,max=200"`
	DocumentNumber  *string `json:"document_number,omitempty" validate:"omitempty,max=30"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Email           *string `json:"email,omitempty" validate:"omitempty,email,max=200"`
	Address         *string `json:"address,omitempty" validate:"omitempty,max=300"`
	CreditLimit     *string `json:"credit_limit,omitempty"`
	DiscountPercent *string `json:"discount_percent,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
}

// RecordPaymentInput describes a payment against the customer account.
type RecordPaymentInput struct {
	CustomerID int64
	Amount     decimal.Decimal
	Concept    string
	ActorID    int64
}

var (
	// ErrNotFound indicates a missing customer.
	ErrNotFound = errors.New("customers: customer not found")
	// ErrDuplicateDocument indicates the document number is already taken.
	ErrDuplicateDocument = errors.New("customers: document number already exists")
	// ErrInvalidAmount indicates a payment or limit that is not a positive decimal.
	ErrInvalidAmount = errors.New("customers: amount must be a positive decimal")
)
