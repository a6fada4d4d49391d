package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tienda-pos/tienda-pos/internal/platform/cache"
	"github.com/tienda-pos/tienda-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (*SaleDetail, error)
	ListRecent(ctx context.Context, limit, offset int) ([]Sale, error)
	SummaryByRange(ctx context.Context, from, to time.Time) (*Summary, error)
}

// RegisterPort is the financial collaborator. The workflow queries it for
// the open session and notifies it of cash payments; failures here are
// logged and never fail a committed sale.
type RegisterPort interface {
	CurrentOpenSession(ctx context.Context) (int64, error)
	RecordSaleCash(ctx context.Context, sessionID, saleID int64, amount decimal.Decimal) error
}

// Config carries the workflow knobs injected at startup.
type Config struct {
	PointOfSale        int
	AllowNegativeStock bool
	MaxRetries         int
}

// Service runs the sale workflow.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	register RegisterPort
	cache    *cache.Cache
	audit    *shared.AuditLogger
	cfg      Config
	sf       singleflight.Group
}

// NewService builds a Service. register and cache may be nil; the workflow
// degrades gracefully without them.
func NewService(logger *slog.Logger, repo RepositoryPort, register RegisterPort, c *cache.Cache, audit *shared.AuditLogger, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Service{logger: logger, repo: repo, register: register, cache: c, audit: audit, cfg: cfg}
}

// CreateSaleIdempotent deduplicates retried submissions. A terminal that
// resends the same request after a network failure gets the original
// confirmation back instead of a second sale.
func (s *Service) CreateSaleIdempotent(ctx context.Context, key string, req CreateSaleRequest) (*SaleConfirmation, error) {
	if key == "" {
		return s.CreateSale(ctx, req)
	}
	cacheKey := "sales:idem:" + key

	var cached SaleConfirmation
	found, err := s.cache.Get(ctx, cacheKey, &cached)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", slog.Any("error", err))
	}
	if found {
		return &cached, nil
	}

	confirmation, err := s.CreateSale(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cacheKey, confirmation); err != nil {
		s.logger.Warn("idempotency store failed", slog.Any("error", err))
	}
	return confirmation, nil
}

// CreateSale validates, computes totals and persists the sale atomically.
// Stock rows stay locked from the sufficiency check through the decrement,
// so two concurrent sales can never both take the last unit.
func (s *Service) CreateSale(ctx context.Context, req CreateSaleRequest) (*SaleConfirmation, error) {
	lines, payments, err := parseRequest(req)
	if err != nil {
		return nil, err
	}

	totals := computeTotals(lines)
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	if !coversTotal(totals.Total, paid) {
		return nil, &PaymentMismatchError{Total: totals.Total, Paid: paid}
	}

	accountTotal := decimal.Zero
	cashTotal := decimal.Zero
	for _, p := range payments {
		switch p.Method {
		case MethodAccount:
			accountTotal = accountTotal.Add(p.Amount)
		case MethodCash:
			cashTotal = cashTotal.Add(p.Amount)
		}
	}
	if accountTotal.IsPositive() && req.CustomerID == nil {
		return nil, ErrAccountRequiresCustomer
	}

	var confirmation *SaleConfirmation
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		confirmation, lastErr = s.createSaleTx(ctx, req, lines, payments, totals, accountTotal)
		if lastErr == nil {
			break
		}
		if !Retryable(lastErr) {
			return nil, lastErr
		}
		s.logger.Warn("sale transaction lost a serialization race, retrying",
			slog.Int("attempt", attempt+1), slog.Any("error", lastErr))
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrContention, lastErr)
	}

	s.notifyRegister(ctx, req, confirmation.SaleID, cashTotal)
	s.invalidateSummary(ctx, time.Now())

	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  req.SellerID,
		Action:   "sales.create",
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", confirmation.SaleID),
		Meta:     map[string]any{"invoice": confirmation.InvoiceNumber, "total": confirmation.Total.StringFixed(2)},
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
	return confirmation, nil
}

func (s *Service) createSaleTx(ctx context.Context, req CreateSaleRequest, lines []saleLineInput, payments []paymentInput, totals saleTotals, accountTotal decimal.Decimal) (*SaleConfirmation, error) {
	var confirmation SaleConfirmation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// aggregate quantities so a product repeated across lines is
		// checked and decremented once
		required := map[int64]decimal.Decimal{}
		var ids []int64
		for _, l := range lines {
			if _, seen := required[l.ProductID]; !seen {
				ids = append(ids, l.ProductID)
			}
			required[l.ProductID] = required[l.ProductID].Add(l.Quantity)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		locked, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]ProductState, len(locked))
		for _, p := range locked {
			byID[p.ID] = p
		}
		for _, id := range ids {
			p, ok := byID[id]
			if !ok {
				return fmt.Errorf("sales: product %d not found", id)
			}
			if !p.IsActive {
				return fmt.Errorf("%w: %s", ErrProductInactive, p.SKU)
			}
			qty := required[id]
			if p.Stock.LessThan(qty) && !p.AllowNegativeStock && !s.cfg.AllowNegativeStock {
				return &InsufficientStockError{ProductID: p.ID, SKU: p.SKU, Requested: qty, Available: p.Stock}
			}
		}

		seq, err := tx.NextInvoiceSeq(ctx)
		if err != nil {
			return err
		}
		invoice := formatInvoiceNumber(s.cfg.PointOfSale, seq)

		now := time.Now()
		saleID, err := tx.InsertSale(ctx, Sale{
			InvoiceNumber:     invoice,
			CustomerID:        req.CustomerID,
			SellerID:          req.SellerID,
			RegisterSessionID: req.RegisterSessionID,
			VoucherType:       req.VoucherType,
			Subtotal:          totals.Subtotal,
			DiscountTotal:     totals.DiscountTotal,
			TaxTotal:          totals.TaxTotal,
			Total:             totals.Total,
			Status:            StatusCompleted,
			PaymentSummary:    summarizeMethods(payments),
			Notes:             req.Notes,
			SoldAt:            now,
		})
		if err != nil {
			return err
		}

		for _, l := range lines {
			if err := tx.InsertLine(ctx, SaleLine{
				SaleID:    saleID,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				Discount:  l.Discount,
				Tax:       l.Tax,
				LineTotal: lineTotal(l),
			}); err != nil {
				return err
			}
		}
		for _, p := range payments {
			if err := tx.InsertPayment(ctx, Payment{
				SaleID:    saleID,
				Method:    p.Method,
				Amount:    p.Amount,
				Reference: p.Reference,
			}); err != nil {
				return err
			}
		}

		for _, id := range ids {
			p := byID[id]
			qty := required[id]
			newStock := p.Stock.Sub(qty)
			if err := tx.SetProductStock(ctx, id, newStock); err != nil {
				return err
			}
			if err := tx.InsertStockMovement(ctx, StockChange{
				ProductID:  id,
				Delta:      qty.Neg(),
				PriorStock: p.Stock,
				NewStock:   newStock,
				Reason:     "venta " + invoice,
				SaleID:     &saleID,
				ActorID:    &req.SellerID,
			}); err != nil {
				return err
			}
		}

		if accountTotal.IsPositive() {
			if _, err := tx.AppendAccountEntry(ctx, AccountEntry{
				CustomerID: *req.CustomerID,
				Movement:   ledgerDebit,
				Amount:     accountTotal,
				Concept:    "Venta " + invoice,
				SaleID:     &saleID,
				ActorID:    &req.SellerID,
			}); err != nil {
				return err
			}
		}

		confirmation = SaleConfirmation{
			SaleID:        saleID,
			InvoiceNumber: invoice,
			Total:         totals.Total,
			Message:       fmt.Sprintf("Venta %s registrada por %s", invoice, totals.Total.StringFixed(2)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &confirmation, nil
}

// notifyRegister records the cash portion against the open register
// session. The sale is already committed; failures are logged only.
func (s *Service) notifyRegister(ctx context.Context, req CreateSaleRequest, saleID int64, cashTotal decimal.Decimal) {
	if s.register == nil || !cashTotal.IsPositive() {
		return
	}
	sessionID := int64(0)
	if req.RegisterSessionID != nil {
		sessionID = *req.RegisterSessionID
	} else {
		id, err := s.register.CurrentOpenSession(ctx)
		if err != nil {
			s.logger.Warn("register session lookup failed, cash movement skipped",
				slog.Int64("sale_id", saleID), slog.Any("error", err))
			return
		}
		sessionID = id
	}
	if err := s.register.RecordSaleCash(ctx, sessionID, saleID, cashTotal); err != nil {
		s.logger.Warn("register cash movement failed",
			slog.Int64("sale_id", saleID), slog.Int64("session_id", sessionID), slog.Any("error", err))
	}
}

// VoidSaleInput describes a void or return of an existing sale.
type VoidSaleInput struct {
	SaleID   int64
	ActorID  int64
	AsReturn bool
}

// VoidSale restores stock, reverses the account portion and flips the sale
// status, all in one transaction.
func (s *Service) VoidSale(ctx context.Context, input VoidSaleInput) (*Sale, error) {
	status := StatusCancelled
	if input.AsReturn {
		status = StatusReturned
	}

	var voided *Sale
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		voided, lastErr = s.voidSaleTx(ctx, input, status)
		if lastErr == nil {
			break
		}
		if !Retryable(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrContention, lastErr)
	}

	s.invalidateSummary(ctx, voided.SoldAt)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "sales.void",
		Entity:   "sale",
		EntityID: fmt.Sprintf("%d", input.SaleID),
		Meta:     map[string]any{"status": status},
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
	return voided, nil
}

func (s *Service) voidSaleTx(ctx context.Context, input VoidSaleInput, status string) (*Sale, error) {
	var result *Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusActive && sale.Status != StatusCompleted {
			return ErrAlreadyVoided
		}

		lines, err := tx.ListLines(ctx, input.SaleID)
		if err != nil {
			return err
		}
		restore := map[int64]decimal.Decimal{}
		var ids []int64
		for _, l := range lines {
			if _, seen := restore[l.ProductID]; !seen {
				ids = append(ids, l.ProductID)
			}
			restore[l.ProductID] = restore[l.ProductID].Add(l.Quantity)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		locked, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, p := range locked {
			qty := restore[p.ID]
			newStock := p.Stock.Add(qty)
			if err := tx.SetProductStock(ctx, p.ID, newStock); err != nil {
				return err
			}
			if err := tx.InsertStockMovement(ctx, StockChange{
				ProductID:  p.ID,
				Delta:      qty,
				PriorStock: p.Stock,
				NewStock:   newStock,
				Reason:     "anulación " + sale.InvoiceNumber,
				SaleID:     &input.SaleID,
				ActorID:    &input.ActorID,
			}); err != nil {
				return err
			}
		}

		payments, err := tx.ListPayments(ctx, input.SaleID)
		if err != nil {
			return err
		}
		accountTotal := decimal.Zero
		for _, p := range payments {
			if p.Method == MethodAccount {
				accountTotal = accountTotal.Add(p.Amount)
			}
		}
		if accountTotal.IsPositive() && sale.CustomerID != nil {
			if _, err := tx.AppendAccountEntry(ctx, AccountEntry{
				CustomerID: *sale.CustomerID,
				Movement:   ledgerCredit,
				Amount:     accountTotal,
				Concept:    "Anulación " + sale.InvoiceNumber,
				SaleID:     &input.SaleID,
				ActorID:    &input.ActorID,
			}); err != nil {
				return err
			}
		}

		if err := tx.UpdateSaleStatus(ctx, input.SaleID, status); err != nil {
			return err
		}
		sale.Status = status
		result = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetSale returns a sale with its lines and payments.
func (s *Service) GetSale(ctx context.Context, id int64) (*SaleDetail, error) {
	return s.repo.GetSale(ctx, id)
}

// ListRecent returns the most recent sales.
func (s *Service) ListRecent(ctx context.Context, limit, offset int) ([]Sale, error) {
	return s.repo.ListRecent(ctx, shared.ClampLimit(limit, 50, 500), offset)
}

// DailySummary aggregates sales for one calendar day.
func (s *Service) DailySummary(ctx context.Context, day time.Time) (*Summary, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return s.RangeSummary(ctx, from, from.AddDate(0, 0, 1))
}

// RangeSummary aggregates sales within [from, to). Results are cached and
// concurrent callers share one database query.
func (s *Service) RangeSummary(ctx context.Context, from, to time.Time) (*Summary, error) {
	key := summaryKey(from, to)

	var cached Summary
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("summary cache read failed", slog.Any("error", err))
	}
	if found {
		return &cached, nil
	}

	result, err, _ := s.sf.Do(key, func() (any, error) {
		summary, err := s.repo.SummaryByRange(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, summary); err != nil {
			s.logger.Warn("summary cache write failed", slog.Any("error", err))
		}
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Summary), nil
}

func (s *Service) invalidateSummary(ctx context.Context, day time.Time) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	if err := s.cache.Delete(ctx, summaryKey(from, from.AddDate(0, 0, 1))); err != nil {
		s.logger.Warn("summary cache invalidation failed", slog.Any("error", err))
	}
}

func summaryKey(from, to time.Time) string {
	return fmt.Sprintf("sales:summary:%d:%d", from.Unix(), to.Unix())
}

func summarizeMethods(payments []paymentInput) string {
	var methods []string
	seen := map[string]bool{}
	for _, p := range payments {
		if !seen[p.Method] {
			seen[p.Method] = true
			methods = append(methods, p.Method)
		}
	}
	return strings.Join(methods, "+")
}

func parseRequest(req CreateSaleRequest) ([]saleLineInput, []paymentInput, error) {
	if len(req.Lines) == 0 {
		return nil, nil, ErrEmptyLines
	}
	if len(req.Payments) == 0 {
		return nil, nil, ErrEmptyPayments
	}

	lines := make([]saleLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil || !qty.IsPositive() {
			return nil, nil, ErrInvalidQuantity
		}
		price, err := parseAmount(l.UnitPrice)
		if err != nil {
			return nil, nil, err
		}
		discount, err := parseOptionalAmount(l.Discount)
		if err != nil {
			return nil, nil, err
		}
		tax, err := parseOptionalAmount(l.Tax)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, saleLineInput{
			ProductID: l.ProductID,
			Quantity:  qty,
			UnitPrice: price,
			Discount:  discount,
			Tax:       tax,
		})
	}

	payments := make([]paymentInput, 0, len(req.Payments))
	for _, p := range req.Payments {
		if !ValidMethod(p.Method) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMethod, p.Method)
		}
		amount, err := parseAmount(p.Amount)
		if err != nil {
			return nil, nil, err
		}
		payments = append(payments, paymentInput{Method: p.Method, Amount: amount, Reference: p.Reference})
	}
	return lines, payments, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

func parseOptionalAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return parseAmount(raw)
}
