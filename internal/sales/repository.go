package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tienda-pos/tienda-pos/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the sale workflow.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ProductState is the locked snapshot of a product inside the sale
// transaction.
type ProductState struct {
	ID                 int64
	SKU                string
	Name               string
	Stock              decimal.Decimal
	AllowNegativeStock bool
	IsActive           bool
}

// StockChange is one stock mutation recorded alongside a sale.
type StockChange struct {
	ProductID  int64
	Delta      decimal.Decimal
	PriorStock decimal.Decimal
	NewStock   decimal.Decimal
	Reason     string
	SaleID     *int64
	ActorID    *int64
}

// AccountEntry is a customer ledger append performed inside the sale
// transaction.
type AccountEntry struct {
	CustomerID int64
	Movement   string
	Amount     decimal.Decimal
	Concept    string
	SaleID     *int64
	ActorID    *int64
}

// TxRepository exposes the operations the workflow runs inside one
// transaction. Everything here either commits together or not at all.
type TxRepository interface {
	// LockProducts locks the product rows in ascending id order and returns
	// their current state. Ordering keeps concurrent sales from deadlocking.
	LockProducts(ctx context.Context, ids []int64) ([]ProductState, error)
	SetProductStock(ctx context.Context, productID int64, stock decimal.Decimal) error
	InsertStockMovement(ctx context.Context, change StockChange) error
	// NextInvoiceSeq advances the invoice sequence inside the transaction.
	NextInvoiceSeq(ctx context.Context) (int64, error)
	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertLine(ctx context.Context, line SaleLine) error
	InsertPayment(ctx context.Context, p Payment) error
	// AppendAccountEntry locks the customer row, appends a chained ledger
	// entry and moves the balance, all under the same lock.
	AppendAccountEntry(ctx context.Context, entry AccountEntry) (decimal.Decimal, error)
	GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error)
	ListLines(ctx context.Context, saleID int64) ([]SaleLine, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
	UpdateSaleStatus(ctx context.Context, id int64, status string) error
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

// Retryable reports whether the error is a serialization or deadlock
// failure worth retrying in a fresh transaction.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

const saleColumns = `id, invoice_number, customer_id, seller_id, register_session_id, voucher_type,
	subtotal, discount_total, tax_total, total, status, payment_summary, notes, sold_at, created_at`

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	var customerID, sessionID pgtype.Int8
	var subtotal, discount, tax, total pgtype.Numeric
	err := row.Scan(&s.ID, &s.InvoiceNumber, &customerID, &s.SellerID, &sessionID, &s.VoucherType,
		&subtotal, &discount, &tax, &total, &s.Status, &s.PaymentSummary, &s.Notes, &s.SoldAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		val := customerID.Int64
		s.CustomerID = &val
	}
	if sessionID.Valid {
		val := sessionID.Int64
		s.RegisterSessionID = &val
	}
	s.Subtotal = db.DecimalFromNumeric(subtotal)
	s.DiscountTotal = db.DecimalFromNumeric(discount)
	s.TaxTotal = db.DecimalFromNumeric(tax)
	s.Total = db.DecimalFromNumeric(total)
	return &s, nil
}

// GetSale returns the sale with its lines and payments.
func (r *Repository) GetSale(ctx context.Context, id int64) (*SaleDetail, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	lines, err := listLines(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	payments, err := listPayments(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return &SaleDetail{Sale: *sale, Lines: lines, Payments: payments}, nil
}

// ListRecent returns the most recent sales.
func (r *Repository) ListRecent(ctx context.Context, limit, offset int) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *s)
	}
	return sales, rows.Err()
}

// SummaryByRange aggregates ACTIVE and COMPLETED sales within [from, to).
// An empty range yields zeros.
func (r *Repository) SummaryByRange(ctx context.Context, from, to time.Time) (*Summary, error) {
	var count pgtype.Int8
	var gross, discount, tax, net pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
			COALESCE(SUM(subtotal), 0), COALESCE(SUM(discount_total), 0),
			COALESCE(SUM(tax_total), 0), COALESCE(SUM(total), 0)
		FROM sales
		WHERE status IN ($1, $2) AND sold_at >= $3 AND sold_at < $4`,
		StatusActive, StatusCompleted, from, to).
		Scan(&count, &gross, &discount, &tax, &net)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	return &Summary{
		From:          from,
		To:            to,
		SaleCount:     count.Int64,
		GrossTotal:    db.DecimalFromNumeric(gross),
		DiscountTotal: db.DecimalFromNumeric(discount),
		TaxTotal:      db.DecimalFromNumeric(tax),
		NetTotal:      db.DecimalFromNumeric(net),
	}, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLines(ctx context.Context, q queryer, saleID int64) ([]SaleLine, error) {
	rows, err := q.Query(ctx, `SELECT sl.id, sl.sale_id, sl.product_id, p.sku, sl.quantity, sl.unit_price, sl.discount, sl.tax, sl.line_total
		FROM sale_lines sl JOIN products p ON p.id = sl.product_id
		WHERE sl.sale_id = $1 ORDER BY sl.id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []SaleLine
	for rows.Next() {
		var l SaleLine
		var qty, price, discount, tax, total pgtype.Numeric
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.SKU, &qty, &price, &discount, &tax, &total); err != nil {
			return nil, err
		}
		l.Quantity = db.DecimalFromNumeric(qty)
		l.UnitPrice = db.DecimalFromNumeric(price)
		l.Discount = db.DecimalFromNumeric(discount)
		l.Tax = db.DecimalFromNumeric(tax)
		l.LineTotal = db.DecimalFromNumeric(total)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func listPayments(ctx context.Context, q queryer, saleID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, method, amount, reference
		FROM sale_payments WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		var amount pgtype.Numeric
		var ref pgtype.Text
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Method, &amount, &ref); err != nil {
			return nil, err
		}
		p.Amount = db.DecimalFromNumeric(amount)
		if ref.Valid {
			val := ref.String
			p.Reference = &val
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepo) LockProducts(ctx context.Context, ids []int64) ([]ProductState, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, sku, name, stock, allow_negative_stock, is_active
		FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ProductState
	for rows.Next() {
		var p ProductState
		var stock pgtype.Numeric
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &stock, &p.AllowNegativeStock, &p.IsActive); err != nil {
			return nil, err
		}
		p.Stock = db.DecimalFromNumeric(stock)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *txRepo) SetProductStock(ctx context.Context, productID int64, stock decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`,
		productID, db.NumericFromDecimal(stock))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d vanished during sale", productID)
	}
	return nil
}

func (t *txRepo) InsertStockMovement(ctx context.Context, change StockChange) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements
		(product_id, delta, prior_stock, new_stock, reason, sale_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ProductID, db.NumericFromDecimal(change.Delta),
		db.NumericFromDecimal(change.PriorStock), db.NumericFromDecimal(change.NewStock),
		change.Reason, change.SaleID, change.ActorID)
	return err
}

func (t *txRepo) NextInvoiceSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('sale_invoice_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("advance invoice sequence: %w", err)
	}
	return seq, nil
}

func (t *txRepo) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales
		(invoice_number, customer_id, seller_id, register_session_id, voucher_type,
		 subtotal, discount_total, tax_total, total, status, payment_summary, notes, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		s.InvoiceNumber, s.CustomerID, s.SellerID, s.RegisterSessionID, s.VoucherType,
		db.NumericFromDecimal(s.Subtotal), db.NumericFromDecimal(s.DiscountTotal),
		db.NumericFromDecimal(s.TaxTotal), db.NumericFromDecimal(s.Total),
		s.Status, s.PaymentSummary, s.Notes, s.SoldAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sale: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertLine(ctx context.Context, line SaleLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sale_lines
		(sale_id, product_id, quantity, unit_price, discount, tax, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		line.SaleID, line.ProductID,
		db.NumericFromDecimal(line.Quantity), db.NumericFromDecimal(line.UnitPrice),
		db.NumericFromDecimal(line.Discount), db.NumericFromDecimal(line.Tax),
		db.NumericFromDecimal(line.LineTotal))
	if err != nil {
		return fmt.Errorf("insert sale line: %w", err)
	}
	return nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sale_payments (sale_id, method, amount, reference)
		VALUES ($1, $2, $3, $4)`,
		p.SaleID, p.Method, db.NumericFromDecimal(p.Amount), p.Reference)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *txRepo) AppendAccountEntry(ctx context.Context, entry AccountEntry) (decimal.Decimal, error) {
	var balanceRaw pgtype.Numeric
	err := t.tx.QueryRow(ctx, `SELECT balance FROM customers WHERE id = $1 FOR UPDATE`,
		entry.CustomerID).Scan(&balanceRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, fmt.Errorf("customer %d not found for ledger append", entry.CustomerID)
		}
		return decimal.Decimal{}, err
	}
	prior := db.DecimalFromNumeric(balanceRaw)

	var next decimal.Decimal
	switch entry.Movement {
	case "DEBIT":
		next = prior.Add(entry.Amount)
	case "CREDIT":
		next = prior.Sub(entry.Amount)
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown ledger movement %q", entry.Movement)
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO account_ledger
		(customer_id, movement, amount, prior_balance, new_balance, concept, sale_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.CustomerID, entry.Movement, db.NumericFromDecimal(entry.Amount),
		db.NumericFromDecimal(prior), db.NumericFromDecimal(next),
		entry.Concept, entry.SaleID, entry.ActorID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	_, err = t.tx.Exec(ctx, `UPDATE customers SET balance = $2, updated_at = NOW() WHERE id = $1`,
		entry.CustomerID, db.NumericFromDecimal(next))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("update customer balance: %w", err)
	}
	return next, nil
}

func (t *txRepo) GetSaleForUpdate(ctx context.Context, id int64) (*Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) ListLines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	return listLines(ctx, t.tx, saleID)
}

func (t *txRepo) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	return listPayments(ctx, t.tx, saleID)
}

func (t *txRepo) UpdateSaleStatus(ctx context.Context, id int64, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
