package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tienda-pos/tienda-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*Product, error)
	ListActive(ctx context.Context, limit, offset int) ([]Product, error)
	Search(ctx context.Context, term string, limit int) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) (int64, error)
	UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest, price *decimal.Decimal) error
	ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error)
}

// Service coordinates catalog operations.
type Service struct {
	repo RepositoryPort
	// allowNeg is the process-wide default; per-product flags override it.
	allowNeg bool
}

// NewService builds a Service.
func NewService(repo RepositoryPort, allowNegativeStock bool) *Service {
	return &Service{repo: repo, allowNeg: allowNegativeStock}
}

// CreateProduct validates and inserts a product.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error) {
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	stock := decimal.Zero
	if req.InitialStock != "" {
		stock, err = decimal.NewFromString(req.InitialStock)
		if err != nil || stock.IsNegative() {
			return nil, fmt.Errorf("catalog: invalid initial stock %q", req.InitialStock)
		}
	}

	p := Product{
		SKU:                req.SKU,
		Barcode:            req.Barcode,
		Name:               req.Name,
		UnitPrice:          price,
		Stock:              stock,
		AllowNegativeStock: req.AllowNegativeStock,
		IsActive:           true,
	}
	id, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return &p, nil
}

// UpdateProduct applies a partial update.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest) (*Product, error) {
	var price *decimal.Decimal
	if req.UnitPrice != nil {
		parsed, err := decimal.NewFromString(*req.UnitPrice)
		if err != nil || parsed.IsNegative() {
			return nil, ErrInvalidPrice
		}
		price = &parsed
	}
	if err := s.repo.UpdateProduct(ctx, id, req, price); err != nil {
		return nil, err
	}
	return s.repo.GetProduct(ctx, id)
}

// GetProduct retrieves a product by id.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetProductBySKU retrieves a product by SKU.
func (s *Service) GetProductBySKU(ctx context.Context, sku string) (*Product, error) {
	return s.repo.GetProductBySKU(ctx, sku)
}

// ListActive returns active products ordered by name.
func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]Product, error) {
	return s.repo.ListActive(ctx, shared.ClampLimit(limit, 50, 500), offset)
}

// Search returns a bounded product search.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Product, error) {
	if term == "" {
		return nil, nil
	}
	return s.repo.Search(ctx, term, shared.ClampLimit(limit, 20, 100))
}

// ListMovements returns the most recent stock movements for a product.
func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, productID, shared.ClampLimit(limit, 50, 200))
}

// AdjustStock posts a manual stock adjustment under a row lock. The movement
// row keeps prior and new stock so the history is auditable.
func (s *Service) AdjustStock(ctx context.Context, input AdjustStockInput) (*StockMovement, error) {
	if input.Delta.IsZero() {
		return nil, ErrZeroDelta
	}
	if input.Reason == "" {
		return nil, errors.New("catalog: adjustment reason required")
	}

	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		newStock := p.Stock.Add(input.Delta)
		if newStock.IsNegative() && !p.AllowNegativeStock && !s.allowNeg {
			return ErrNegativeStock
		}
		movement = StockMovement{
			ProductID:  p.ID,
			Delta:      input.Delta,
			PriorStock: p.Stock,
			NewStock:   newStock,
			Reason:     input.Reason,
			ActorID:    &input.ActorID,
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return tx.SetStock(ctx, p.ID, newStock)
	})
	if err != nil {
		return nil, err
	}
	return &movement, nil
}
