package register

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

// Repository provides PostgreSQL backed persistence for register sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, register_id, opened_by, opening_float, closed_by, closed_amount, opened_at, closed_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var openingFloat, closedAmount pgtype.Numeric
	var closedBy pgtype.Int8
	var closedAt pgtype.Timestamptz
	err := row.Scan(&s.ID, &s.RegisterID, &s.OpenedBy, &openingFloat, &closedBy, &closedAmount, &s.OpenedAt, &closedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.OpeningFloat = db.DecimalFromNumeric(openingFloat)
	if closedBy.Valid {
		val := closedBy.Int64
		s.ClosedBy = &val
	}
	if closedAmount.Valid {
		val := db.DecimalFromNumeric(closedAmount)
		s.ClosedAmount = &val
	}
	if closedAt.Valid {
		val := closedAt.Time
		s.ClosedAt = &val
	}
	return &s, nil
}

// GetSession fetches a session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (*Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM register_sessions WHERE id = $1`, id))
}

// OpenSession inserts a session if the register has none open. The
// one-open-session-per-register rule is enforced by the partial unique
// index on (register_id) WHERE closed_at IS NULL, so a racing open loses
// with a unique violation rather than a second open session.
func (r *Repository) OpenSession(ctx context.Context, registerID, openedBy int64, openingFloat decimal.Decimal) (*Session, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO register_sessions (register_id, opened_by, opening_float)
		VALUES ($1, $2, $3) RETURNING id`,
		registerID, openedBy, db.NumericFromDecimal(openingFloat)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSessionOpen
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	return r.GetSession(ctx, id)
}

// CloseSession marks a session closed with the counted amount.
func (r *Repository) CloseSession(ctx context.Context, id, closedBy int64, closedAmount decimal.Decimal) (*Session, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE register_sessions
		SET closed_by = $2, closed_amount = $3, closed_at = NOW()
		WHERE id = $1 AND closed_at IS NULL`,
		id, closedBy, db.NumericFromDecimal(closedAmount))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionClosed
	}
	return r.GetSession(ctx, id)
}

// CurrentOpenSession returns the id of the most recently opened session
// that is still open, regardless of register.
func (r *Repository) CurrentOpenSession(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM register_sessions
		WHERE closed_at IS NULL ORDER BY opened_at DESC LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoOpenSession
		}
		return 0, err
	}
	return id, nil
}

// InsertMovement records a cash movement against an open session.
func (r *Repository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var closed bool
	err := r.pool.QueryRow(ctx, `SELECT closed_at IS NOT NULL FROM register_sessions WHERE id = $1`,
		m.SessionID).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if closed {
		return 0, ErrSessionClosed
	}

	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO register_movements (session_id, kind, amount, sale_id, note)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		m.SessionID, m.Kind, db.NumericFromDecimal(m.Amount), m.SaleID, m.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert movement: %w", err)
	}
	return id, nil
}

// ListMovements returns the movements of a session in insertion order.
func (r *Repository) ListMovements(ctx context.Context, sessionID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, kind, amount, sale_id, note, created_at
		FROM register_movements WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var amount pgtype.Numeric
		var saleID pgtype.Int8
		var note pgtype.Text
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Kind, &amount, &saleID, &note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Amount = db.DecimalFromNumeric(amount)
		if saleID.Valid {
			val := saleID.Int64
			m.SaleID = &val
		}
		if note.Valid {
			m.Note = note.String
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
