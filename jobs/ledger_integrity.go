package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tienda-pos/tienda-pos/internal/platform/db"
)

// LedgerIntegrityChecker re-walks every customer's account ledger and
// verifies that the running balances chain correctly and that the head of
// the chain matches the customer row.
type LedgerIntegrityChecker struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewLedgerIntegrityChecker constructs a checker.
func NewLedgerIntegrityChecker(logger *slog.Logger, pool *pgxpool.Pool) *LedgerIntegrityChecker {
	return &LedgerIntegrityChecker{logger: logger, pool: pool}
}

// Handle processes TaskLedgerIntegrity tasks.
func (c *LedgerIntegrityChecker) Handle(ctx context.Context, _ *asynq.Task) error {
	broken, err := c.Run(ctx)
	if err != nil {
		return err
	}
	if broken > 0 {
		return fmt.Errorf("ledger integrity: %d customer(s) with broken chains", broken)
	}
	return nil
}

// Run checks every customer and returns how many have a broken chain.
func (c *LedgerIntegrityChecker) Run(ctx context.Context) (int, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, balance FROM customers ORDER BY id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type customerRow struct {
		id      int64
		balance decimal.Decimal
	}
	var customerRows []customerRow
	for rows.Next() {
		var id int64
		var balance pgtype.Numeric
		if err := rows.Scan(&id, &balance); err != nil {
			return 0, err
		}
		customerRows = append(customerRows, customerRow{id: id, balance: db.DecimalFromNumeric(balance)})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	broken := 0
	for _, cust := range customerRows {
		ok, err := c.checkCustomer(ctx, cust.id, cust.balance)
		if err != nil {
			return broken, err
		}
		if !ok {
			broken++
		}
	}
	c.logger.Info("ledger integrity check finished",
		slog.Int("customers", len(customerRows)), slog.Int("broken", broken))
	return broken, nil
}

func (c *LedgerIntegrityChecker) checkCustomer(ctx context.Context, customerID int64, balance decimal.Decimal) (bool, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, movement, amount, prior_balance, new_balance
		FROM account_ledger WHERE customer_id = $1 ORDER BY id`, customerID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	ok := true
	var entries int
	var prev decimal.Decimal
	for rows.Next() {
		var id int64
		var movement string
		var amountRaw, priorRaw, newRaw pgtype.Numeric
		if err := rows.Scan(&id, &movement, &amountRaw, &priorRaw, &newRaw); err != nil {
			return false, err
		}
		amount := db.DecimalFromNumeric(amountRaw)
		prior := db.DecimalFromNumeric(priorRaw)
		next := db.DecimalFromNumeric(newRaw)

		expected := prior.Add(amount)
		if movement == "CREDIT" {
			expected = prior.Sub(amount)
		}
		if !next.Equal(expected) {
			c.logger.Error("ledger entry arithmetic broken",
				slog.Int64("customer_id", customerID), slog.Int64("entry_id", id),
				slog.String("prior", prior.String()), slog.String("amount", amount.String()),
				slog.String("new", next.String()))
			ok = false
		}
		if entries > 0 && !prior.Equal(prev) {
			c.logger.Error("ledger chain broken",
				slog.Int64("customer_id", customerID), slog.Int64("entry_id", id),
				slog.String("prior", prior.String()), slog.String("previous_new", prev.String()))
			ok = false
		}
		prev = next
		entries++
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	if entries > 0 && !prev.Equal(balance) {
		c.logger.Error("ledger head does not match customer balance",
			slog.Int64("customer_id", customerID),
			slog.String("head", prev.String()), slog.String("balance", balance.String()))
		ok = false
	}
	return ok, nil
}
