package sales

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at the register.
const (
	MethodCash         = "EFECTIVO"
	MethodDebitCard    = "TARJETA_DEBITO"
	MethodCreditCard   = "TARJETA_CREDITO"
	MethodBankTransfer = "TRANSFERENCIA"
	MethodCheque       = "CHEQUE"
	MethodAccount      = "CUENTA_CORRIENTE"
)

// Ledger movement kinds, mirrored from the customer account ledger.
const (
	ledgerDebit  = "DEBIT"
	ledgerCredit = "CREDIT"
)

// Sale statuses.
const (
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusReturned  = "RETURNED"
)

// ValidMethod reports whether the payment method is one of the accepted set.
func ValidMethod(method string) bool {
	switch method {
	case MethodCash, MethodDebitCard, MethodCreditCard, MethodBankTransfer, MethodCheque, MethodAccount:
		return true
	}
	return false
}

// Sale is an immutable sale header; only void/return transitions mutate it
// after creation.
type Sale struct {
	ID                int64           `json:"id"`
	InvoiceNumber     string          `json:"invoice_number"`
	CustomerID        *int64          `json:"customer_id,omitempty"`
	SellerID          int64           `json:"seller_id"`
	RegisterSessionID *int64          `json:"register_session_id,omitempty"`
	VoucherType       string          `json:"voucher_type"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountTotal     decimal.Decimal `json:"discount_total"`
	TaxTotal          decimal.Decimal `json:"tax_total"`
	Total             decimal.Decimal `json:"total"`
	Status            string          `json:"status"`
	PaymentSummary    string          `json:"payment_summary"`
	Notes             string          `json:"notes,omitempty"`
	SoldAt            time.Time       `json:"sold_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SaleLine is one product row within a sale.
type SaleLine struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Payment is one payment row within a sale.
type Payment struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
}

// CreateSaleRequest is the inbound payload for the sale workflow. Decimal
// fields travel as strings so no precision is lost in transit.
type CreateSaleRequest struct {
	CustomerID        *int64               `json:"customer_id,omitempty"`
	SellerID          int64                `json:"seller_id" validate:"required"`
	RegisterSessionID *int64               `json:"register_session_id,omitempty"`
	VoucherType       string               `json:"voucher_type,omitempty" validate:"omitempty,max=20"`
	Notes             string               `json:"notes,omitempty" validate:"omitempty,max=500"`
	Lines             []CreateLineRequest `json:"lines" validate:"required,min=1,dive"`
	Payments          []PaymentRequest    `json:"payments" validate:"required,min=1,dive"`
}

// CreateLineRequest is one requested line item.
type CreateLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Quantity  string `json:"quantity" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
	Discount  string `json:"discount,omitempty"`
	Tax       string `json:"tax,omitempty"`
}

// PaymentRequest is one requested payment.
type PaymentRequest struct {
	Method    string  `json:"method" validate:"required"`
	Amount    string  `json:"amount" validate:"required"`
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=100"`
}

// SaleConfirmation is returned on a successful sale.
type SaleConfirmation struct {
	SaleID        int64           `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	Message       string          `json:"message"`
}

// SaleDetail bundles a sale with its lines and payments for reads.
type SaleDetail struct {
	Sale     Sale       `json:"sale"`
	Lines    []SaleLine `json:"lines"`
	Payments []Payment  `json:"payments"`
}

// Summary aggregates completed and active sales over a period. Absent rows
// are zeros, never an error.
type Summary struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	SaleCount     int64           `json:"sale_count"`
	GrossTotal    decimal.Decimal `json:"gross_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	NetTotal      decimal.Decimal `json:"net_total"`
}

// InsufficientStockError names the product and the shortfall.
type InsufficientStockError struct {
	ProductID int64
	SKU       string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	shortfall := e.Requested.Sub(e.Available)
	return fmt.Sprintf("sales: insufficient stock for %s (product %d): requested %s, available %s, short %s",
		e.SKU, e.ProductID, e.Requested.String(), e.Available.String(), shortfall.String())
}

// PaymentMismatchError reports both figures of a failed coverage check.
type PaymentMismatchError struct {
	Total decimal.Decimal
	Paid  decimal.Decimal
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("sales: payments %s do not cover total %s", e.Paid.StringFixed(2), e.Total.StringFixed(2))
}

var (
	// ErrEmptyLines indicates a sale with no line items.
	ErrEmptyLines = errors.New("sales: at least one line item is required")
	// ErrEmptyPayments indicates a sale with no payments.
	ErrEmptyPayments = errors.New("sales: at least one payment is required")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("sales: line quantity must be positive")
	// ErrInvalidAmount indicates a negative price, discount, tax or payment.
	ErrInvalidAmount = errors.New("sales: amounts must be non-negative decimals")
	// ErrUnknownMethod indicates an unrecognized payment method.
	ErrUnknownMethod = errors.New("sales: unknown payment method")
	// ErrAccountRequiresCustomer is returned for CUENTA_CORRIENTE payments
	// without a customer on the sale.
	ErrAccountRequiresCustomer = errors.New("sales: account payments require a customer")
	// ErrProductInactive indicates a line references an inactive product.
	ErrProductInactive = errors.New("sales: product is not active")
	// ErrNotFound indicates a missing sale.
	ErrNotFound = errors.New("sales: sale not found")
	// ErrAlreadyVoided indicates a void on a sale that is not active/completed.
	ErrAlreadyVoided = errors.New("sales: sale already voided or returned")
	// ErrContention is retryable; the transaction lost a serialization race.
	ErrContention = errors.New("sales: concurrent update conflict, retry the operation")
)
