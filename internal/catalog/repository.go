package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tienda-pos/tienda-pos/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the product catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (*Product, error)
	SetStock(ctx context.Context, id int64, stock decimal.Decimal) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const productColumns = `id, sku, barcode, name, unit_price, stock, allow_negative_stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	var barcode pgtype.Text
	var price, stock pgtype.Numeric
	err := row.Scan(&p.ID, &p.SKU, &barcode, &p.Name, &price, &stock,
		&p.AllowNegativeStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if barcode.Valid {
		val := barcode.String
		p.Barcode = &val
	}
	p.UnitPrice = db.DecimalFromNumeric(price)
	p.Stock = db.DecimalFromNumeric(stock)
	return &p, nil
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// GetProductBySKU fetches a product by its SKU.
func (r *Repository) GetProductBySKU(ctx context.Context, sku string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku)
	return scanProduct(row)
}

// ListActive returns active products ordered by name.
func (r *Repository) ListActive(ctx context.Context, limit, offset int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE is_active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// Search returns products matching a case-insensitive substring of sku,
// barcode or name, bounded by limit.
func (r *Repository) Search(ctx context.Context, term string, limit int) ([]Product, error) {
	pattern := "%" + term + "%"
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE is_active AND (sku ILIKE $1 OR barcode ILIKE $1 OR name ILIKE $1)
		ORDER BY name LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// CreateProduct inserts a product and returns its id.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var barcode pgtype.Text
	if p.Barcode != nil {
		barcode = pgtype.Text{String: *p.Barcode, Valid: true}
	}
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products
		(sku, barcode, name, unit_price, stock, allow_negative_stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.SKU, barcode, p.Name,
		db.NumericFromDecimal(p.UnitPrice), db.NumericFromDecimal(p.Stock),
		p.AllowNegativeStock, p.IsActive).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSKU
		}
		return 0, err
	}
	return id, nil
}

// UpdateProduct applies a partial update. Stock is deliberately excluded;
// it only changes through movements.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, req UpdateProductRequest, price *decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET
			barcode = COALESCE($2, barcode),
			name = COALESCE($3, name),
			unit_price = COALESCE($4, unit_price),
			allow_negative_stock = COALESCE($5, allow_negative_stock),
			is_active = COALESCE($6, is_active),
			updated_at = NOW()
		WHERE id = $1`,
		id, req.Barcode, req.Name, numericPtr(price), req.AllowNegativeStock, req.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMovements returns the most recent stock movements for a product.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, delta, prior_stock, new_stock, reason, sale_id, actor_id, created_at
		FROM stock_movements WHERE product_id = $1 ORDER BY id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		var delta, prior, next pgtype.Numeric
		var saleID, actorID pgtype.Int8
		if err := rows.Scan(&m.ID, &m.ProductID, &delta, &prior, &next, &m.Reason, &saleID, &actorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Delta = db.DecimalFromNumeric(delta)
		m.PriorStock = db.DecimalFromNumeric(prior)
		m.NewStock = db.DecimalFromNumeric(next)
		if saleID.Valid {
			val := saleID.Int64
			m.SaleID = &val
		}
		if actorID.Valid {
			val := actorID.Int64
			m.ActorID = &val
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, id int64) (*Product, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

func (t *txRepo) SetStock(ctx context.Context, id int64, stock decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`,
		id, db.NumericFromDecimal(stock))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var saleID, actorID pgtype.Int8
	if m.SaleID != nil {
		saleID = pgtype.Int8{Int64: *m.SaleID, Valid: true}
	}
	if m.ActorID != nil {
		actorID = pgtype.Int8{Int64: *m.ActorID, Valid: true}
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements
		(product_id, delta, prior_stock, new_stock, reason, sale_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		m.ProductID, db.NumericFromDecimal(m.Delta), db.NumericFromDecimal(m.PriorStock),
		db.NumericFromDecimal(m.NewStock), m.Reason, saleID, actorID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stock movement: %w", err)
	}
	return id, nil
}

func numericPtr(d *decimal.Decimal) *pgtype.Numeric {
	if d == nil {
		return nil
	}
	n := db.NumericFromDecimal(*d)
	return &n
}
