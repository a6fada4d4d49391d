package customers

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
	"github.com/tienda-pos/tienda-pos/internal/shared"
)

// Repository provides PostgreSQL backed persistence for customers and
// their account ledgers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations on customer accounts.
type TxRepository interface {
	GetCustomerForUpdate(ctx context.Context, id int64) (*Customer, error)
	AppendEntry(ctx context.Context, entry LedgerEntry) (int64, error)
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

const customerColumns = `id, name, document_number, phone, email, address, balance, credit_limit, discount_percent, is_active, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var doc, phone, email, address pgtype.Text
	var balance, limit, discount pgtype.Numeric
	err := row.Scan(&c.ID, &c.Name, &doc, &phone, &email, &address,
		&balance, &limit, &discount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.DocumentNumber = textPtr(doc)
	c.Phone = textPtr(phone)
	c.Email = textPtr(email)
	c.Address = textPtr(address)
	c.Balance = db.DecimalFromNumeric(balance)
	c.CreditLimit = db.DecimalFromNumeric(limit)
	c.DiscountPercent = db.DecimalFromNumeric(discount)
	return &c, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	val := t.String
	return &val
}

// GetCustomer fetches a customer by id.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

// ListActive returns active customers ordered by name.
func (r *Repository) ListActive(ctx context.Context, limit, offset int) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers
		WHERE is_active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

// Search matches customers by accent-folded name or document number.
func (r *Repository) Search(ctx context.Context, term string, limit int) ([]Customer, error) {
	pattern := "%" + shared.FoldSearchTerm(term) + "%"
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers
		WHERE is_active AND (search_text LIKE $1 OR document_number ILIKE $2)
		ORDER BY name LIMIT $3`, pattern, "%"+term+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

// ListDebtors returns customers with a positive balance, largest debt first.
func (r *Repository) ListDebtors(ctx context.Context, limit int) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers
		WHERE balance > 0 ORDER BY balance DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func collectCustomers(rows pgx.Rows) ([]Customer, error) {
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CreateCustomer inserts a customer and returns its id. The folded
// search_text column is computed here so search never depends on DB
// extensions.
func (r *Repository) CreateCustomer(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO customers
		(name, document_number, phone, email, address, balance, credit_limit, discount_percent, is_active, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		c.Name, c.DocumentNumber, c.Phone, c.Email, c.Address,
		db.NumericFromDecimal(c.Balance), db.NumericFromDecimal(c.CreditLimit),
		db.NumericFromDecimal(c.DiscountPercent), c.IsActive,
		shared.FoldSearchTerm(c.Name)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateDocument
		}
		return 0, err
	}
	return id, nil
}

// UpdateCustomer applies a partial update. Balance is deliberately
// excluded; it only changes through ledger entries.
func (r *Repository) UpdateCustomer(ctx context.Context, id int64, req UpdateCustomerRequest, limit, discount *decimal.Decimal) error {
	var searchText *string
	if req.Name != nil {
		folded := shared.FoldSearchTerm(*req.Name)
		searchText = &folded
	}
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET
			name = COALESCE($2, name),
			document_number = COALESCE($3, document_number),
			phone = COALESCE($4, phone),
			email = COALESCE($5, email),
			address = COALESCE($6, address),
			credit_limit = COALESCE($7, credit_limit),
			discount_percent = COALESCE($8, discount_percent),
			is_active = COALESCE($9, is_active),
			search_text = COALESCE($10, search_text),
			updated_at = NOW()
		WHERE id = $1`,
		id, req.Name, req.DocumentNumber, req.Phone, req.Email, req.Address,
		numericPtr(limit), numericPtr(discount), req.IsActive, searchText)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateDocument
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLedger returns the most recent ledger entries for a customer.
func (r *Repository) ListLedger(ctx context.Context, customerID int64, limit int) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, customer_id, movement, amount, prior_balance, new_balance, concept, sale_id, actor_id, created_at
		FROM account_ledger WHERE customer_id = $1 ORDER BY id DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amount, prior, next pgtype.Numeric
		var saleID, actorID pgtype.Int8
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Movement, &amount, &prior, &next,
			&e.Concept, &saleID, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = db.DecimalFromNumeric(amount)
		e.PriorBalance = db.DecimalFromNumeric(prior)
		e.NewBalance = db.DecimalFromNumeric(next)
		if saleID.Valid {
			val := saleID.Int64
			e.SaleID = &val
		}
		if actorID.Valid {
			val := actorID.Int64
			e.ActorID = &val
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *txRepo) GetCustomerForUpdate(ctx context.Context, id int64) (*Customer, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id)
	return scanCustomer(row)
}

// AppendEntry inserts a ledger row and moves the customer balance to the
// entry's new balance. The caller must hold the customer row lock.
func (t *txRepo) AppendEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var saleID, actorID pgtype.Int8
	if entry.SaleID != nil {
		saleID = pgtype.Int8{Int64: *entry.SaleID, Valid: true}
	}
	if entry.ActorID != nil {
		actorID = pgtype.Int8{Int64: *entry.ActorID, Valid: true}
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO account_ledger
		(customer_id, movement, amount, prior_balance, new_balance, concept, sale_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		entry.CustomerID, entry.Movement, db.NumericFromDecimal(entry.Amount),
		db.NumericFromDecimal(entry.PriorBalance), db.NumericFromDecimal(entry.NewBalance),
		entry.Concept, saleID, actorID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}
	_, err = t.tx.Exec(ctx, `UPDATE customers SET balance = $2, updated_at = NOW() WHERE id = $1`,
		entry.CustomerID, db.NumericFromDecimal(entry.NewBalance))
	if err != nil {
		return 0, fmt.Errorf("update customer balance: %w", err)
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
