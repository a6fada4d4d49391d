package register

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Cash movement kinds.
const (
	KindSale       = "SALE"
	KindDeposit    = "DEPOSIT"
	KindWithdrawal = "WITHDRAWAL"
)

// Session is one cash-drawer shift between open and close.
type Session struct {
	ID           int64            `json:"id"`
	RegisterID   int64            `json:"register_id"`
	OpenedBy     int64            `json:"opened_by"`
	OpeningFloat decimal.Decimal  `json:"opening_float"`
	ClosedBy     *int64           `json:"closed_by,omitempty"`
	ClosedAmount *decimal.Decimal `json:"closed_amount,omitempty"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

// Movement is one cash entry inside a session.
type Movement struct {
	ID        int64           `json:"id"`
	SessionID int64           `json:"session_id"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	SaleID    *int64          `json:"sale_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OpenSessionRequest opens a new session for a register.
type OpenSessionRequest struct {
	RegisterID   int64  `json:"register_id" validate:"required"`
	OpenedBy     int64  `json:"opened_by" validate:"required"`
	OpeningFloat string `json:"opening_float,omitempty"`
}

// CloseSessionRequest closes a session, recording the counted amount.
type CloseSessionRequest struct {
	ClosedBy     int64  `json:"closed_by" validate:"required"`
	ClosedAmount string `json:"closed_amount" validate:"required"`
}

// MovementRequest records a manual deposit or withdrawal.
type MovementRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note,omitempty" validate:"omitempty,max=200"`
}

var (
	// ErrNotFound indicates a missing session.
	ErrNotFound = errors.New("register: session not found")
	// ErrNoOpenSession indicates no session is currently open.
	ErrNoOpenSession = errors.New("register: no open session")
	// ErrSessionOpen indicates the register already has an open session.
	ErrSessionOpen = errors.New("register: register already has an open session")
	// ErrSessionClosed indicates a movement against a closed session.
	ErrSessionClosed = errors.New("register: session already closed")
	// ErrInvalidAmount indicates a malformed or negative amount.
	ErrInvalidAmount = errors.New("register: amount must be a non-negative decimal")
)
