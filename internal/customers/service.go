package customers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tienda-pos/tienda-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListActive(ctx context.Context, limit, offset int) ([]Customer, error)
	Search(ctx context.Context, term string, limit int) ([]Customer, error)
	ListDebtors(ctx context.Context, limit int) ([]Customer, error)
	CreateCustomer(ctx context.Context, c Customer) (int64, error)
	UpdateCustomer(ctx context.Context, id int64, req UpdateCustomerRequest, limit, discount *decimal.Decimal) error
	ListLedger(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error)
}

// Service coordinates customer operations.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	audit  *shared.AuditLogger
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo RepositoryPort, audit *shared.AuditLogger) *Service {
	return &Service{logger: logger, repo: repo, audit: audit}
}

// CreateCustomer validates and inserts a customer with a zero balance.
func (s *Service) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	limit, err := parseNonNegative(req.CreditLimit)
	if err != nil {
		return nil, err
	}
	discount, err := parseNonNegative(req.DiscountPercent)
	if err != nil {
		return nil, err
	}

	c := Customer{
		Name:            req.Name,
		DocumentNumber:  req.DocumentNumber,
		Phone:           req.Phone,
		Email:           req.Email,
		Address:         req.Address,
		Balance:         decimal.Zero,
		CreditLimit:     limit,
		DiscountPercent: discount,
		IsActive:        true,
	}
	id, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

// UpdateCustomer applies a partial update.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, req UpdateCustomerRequest) (*Customer, error) {
	var limit, discount *decimal.Decimal
	if req.CreditLimit != nil {
		parsed, err := parseNonNegative(*req.CreditLimit)
		if err != nil {
			return nil, err
		}
		limit = &parsed
	}
	if req.DiscountPercent != nil {
		parsed, err := parseNonNegative(*req.DiscountPercent)
		if err != nil {
			return nil, err
		}
		discount = &parsed
	}
	if err := s.repo.UpdateCustomer(ctx, id, req, limit, discount); err != nil {
		return nil, err
	}
	return s.repo.GetCustomer(ctx, id)
}

// GetCustomer retrieves a customer by id.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListActive returns active customers ordered by name.
func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]Customer, error) {
	return s.repo.ListActive(ctx, shared.ClampLimit(limit, 50, 500), offset)
}

// Search returns a bounded customer search; the term is accent-folded so
// "Pérez" and "perez" match the same rows.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Customer, error) {
	if term == "" {
		return nil, nil
	}
	return s.repo.Search(ctx, term, shared.ClampLimit(limit, 20, 100))
}

// ListDebtors returns customers that owe money, largest debt first.
func (s *Service) ListDebtors(ctx context.Context, limit int) ([]Customer, error) {
	return s.repo.ListDebtors(ctx, shared.ClampLimit(limit, 50, 500))
}

// ListLedger returns the most recent account movements for a customer.
func (s *Service) ListLedger(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, customerID, shared.ClampLimit(limit, 50, 200))
}

// RecordPayment appends a CREDIT entry under the customer row lock and
// lowers the balance. Overpayment is allowed and leaves the customer with
// credit in favor (negative balance).
func (s *Service) RecordPayment(ctx context.Context, input RecordPaymentInput) (*LedgerEntry, error) {
	if !input.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	concept := input.Concept
	if concept == "" {
		concept = "Pago en cuenta"
	}

	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCustomerForUpdate(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		entry = LedgerEntry{
			CustomerID:   c.ID,
			Movement:     MovementCredit,
			Amount:       input.Amount,
			PriorBalance: c.Balance,
			NewBalance:   c.Balance.Sub(input.Amount),
			Concept:      concept,
			ActorID:      &input.ActorID,
		}
		id, err := tx.AppendEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "customers.payment",
		Entity:   "customer",
		EntityID: fmt.Sprintf("%d", input.CustomerID),
		Meta:     map[string]any{"amount": input.Amount.StringFixed(2), "ledger_id": entry.ID},
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
	return &entry, nil
}

func parseNonNegative(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}
