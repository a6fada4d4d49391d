package register

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetSession(ctx context.Context, id int64) (*Session, error)
	OpenSession(ctx context.Context, registerID, openedBy int64, openingFloat decimal.Decimal) (*Session, error)
	CloseSession(ctx context.Context, id, closedBy int64, closedAmount decimal.Decimal) (*Session, error)
	CurrentOpenSession(ctx context.Context) (int64, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ListMovements(ctx context.Context, sessionID int64) ([]Movement, error)
}

// Service coordinates register sessions and cash movements. It also acts
// as the financial collaborator of the sale workflow.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewService builds a Service.
func NewService(logger *slog.Logger, repo RepositoryPort) *Service {
	return &Service{logger: logger, repo: repo}
}

// OpenSession opens a drawer session for a register.
func (s *Service) OpenSession(ctx context.Context, req OpenSessionRequest) (*Session, error) {
	openingFloat := decimal.Zero
	if req.OpeningFloat != "" {
		parsed, err := decimal.NewFromString(req.OpeningFloat)
		if err != nil || parsed.IsNegative() {
			return nil, ErrInvalidAmount
		}
		openingFloat = parsed
	}
	return s.repo.OpenSession(ctx, req.RegisterID, req.OpenedBy, openingFloat)
}

// CloseSession closes a session with the counted drawer amount.
func (s *Service) CloseSession(ctx context.Context, id int64, req CloseSessionRequest) (*Session, error) {
	amount, err := decimal.NewFromString(req.ClosedAmount)
	if err != nil || amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	return s.repo.CloseSession(ctx, id, req.ClosedBy, amount)
}

// GetSession fetches a session by id.
func (s *Service) GetSession(ctx context.Context, id int64) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

// ListMovements returns the movements of a session.
func (s *Service) ListMovements(ctx context.Context, sessionID int64) ([]Movement, error) {
	return s.repo.ListMovements(ctx, sessionID)
}

// RecordMovement records a manual deposit or withdrawal.
func (s *Service) RecordMovement(ctx context.Context, sessionID int64, req MovementRequest) (*Movement, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	m := Movement{SessionID: sessionID, Kind: req.Kind, Amount: amount, Note: req.Note}
	id, err := s.repo.InsertMovement(ctx, m)
	if err != nil {
		return nil, err
	}
	m.ID = id
	return &m, nil
}

// CurrentOpenSession returns the id of the open session, for the sale
// workflow.
func (s *Service) CurrentOpenSession(ctx context.Context) (int64, error) {
	return s.repo.CurrentOpenSession(ctx)
}

// RecordSaleCash records the cash portion of a committed sale against a
// session.
func (s *Service) RecordSaleCash(ctx context.Context, sessionID, saleID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	_, err := s.repo.InsertMovement(ctx, Movement{
		SessionID: sessionID,
		Kind:      KindSale,
		Amount:    amount,
		SaleID:    &saleID,
	})
	return err
}
