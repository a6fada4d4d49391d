package sales

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tienda-pos/tienda-pos/internal/platform/cache"
)

type ledgerRow struct {
	CustomerID int64
	Movement   string
	Amount     decimal.Decimal
	Prior      decimal.Decimal
	New        decimal.Decimal
	SaleID     *int64
}

type repoState struct {
	products   map[int64]ProductState
	balances   map[int64]decimal.Decimal
	ledger     []ledgerRow
	sales      map[int64]Sale
	lines      map[int64][]SaleLine
	payments   map[int64][]Payment
	movements  []StockChange
	nextSaleID int64
	seq        int64
}

func newRepoState() *repoState {
	return &repoState{
		products:   map[int64]ProductState{},
		balances:   map[int64]decimal.Decimal{},
		sales:      map[int64]Sale{},
		lines:      map[int64][]SaleLine{},
		payments:   map[int64][]Payment{},
		nextSaleID: 1,
	}
}

func (s *repoState) clone() *repoState {
	cp := &repoState{
		products:   make(map[int64]ProductState, len(s.products)),
		balances:   make(map[int64]decimal.Decimal, len(s.balances)),
		ledger:     append([]ledgerRow(nil), s.ledger...),
		sales:      make(map[int64]Sale, len(s.sales)),
		lines:      make(map[int64][]SaleLine, len(s.lines)),
		payments:   make(map[int64][]Payment, len(s.payments)),
		movements:  append([]StockChange(nil), s.movements...),
		nextSaleID: s.nextSaleID,
		seq:        s.seq,
	}
	for k, v := range s.products {
		cp.products[k] = v
	}
	for k, v := range s.balances {
		cp.balances[k] = v
	}
	for k, v := range s.sales {
		cp.sales[k] = v
	}
	for k, v := range s.lines {
		cp.lines[k] = append([]SaleLine(nil), v...)
	}
	for k, v := range s.payments {
		cp.payments[k] = append([]Payment(nil), v...)
	}
	return cp
}

// mockRepo commits a cloned state only when the transaction callback
// succeeds, mirroring the all-or-nothing behavior of the real store. The
// mutex serializes transactions the way row locks do.
type mockRepo struct {
	mu sync.Mutex
	st *repoState

	failPayments bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{st: newRepoState()}
}

func (r *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.st.clone()
	if err := fn(ctx, &mockTx{st: work, failPayments: r.failPayments}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *mockRepo) GetSale(_ context.Context, id int64) (*SaleDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sale, ok := r.st.sales[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &SaleDetail{Sale: sale, Lines: r.st.lines[id], Payments: r.st.payments[id]}, nil
}

func (r *mockRepo) ListRecent(context.Context, int, int) ([]Sale, error) { return nil, nil }

func (r *mockRepo) SummaryByRange(_ context.Context, from, to time.Time) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &Summary{From: from, To: to,
		GrossTotal: decimal.Zero, DiscountTotal: decimal.Zero, TaxTotal: decimal.Zero, NetTotal: decimal.Zero}
	for _, s := range r.st.sales {
		if s.Status != StatusActive && s.Status != StatusCompleted {
			continue
		}
		if s.SoldAt.Before(from) || !s.SoldAt.Before(to) {
			continue
		}
		summary.SaleCount++
		summary.GrossTotal = summary.GrossTotal.Add(s.Subtotal)
		summary.DiscountTotal = summary.DiscountTotal.Add(s.DiscountTotal)
		summary.TaxTotal = summary.TaxTotal.Add(s.TaxTotal)
		summary.NetTotal = summary.NetTotal.Add(s.Total)
	}
	return summary, nil
}

func (r *mockRepo) stock(id int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.products[id].Stock
}

func (r *mockRepo) balance(id int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.balances[id]
}

type mockTx struct {
	st           *repoState
	failPayments bool
}

func (t *mockTx) LockProducts(_ context.Context, ids []int64) ([]ProductState, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []ProductState
	for _, id := range sorted {
		if p, ok := t.st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *mockTx) SetProductStock(_ context.Context, productID int64, stock decimal.Decimal) error {
	p, ok := t.st.products[productID]
	if !ok {
		return errors.New("product vanished")
	}
	p.Stock = stock
	t.st.products[productID] = p
	return nil
}

func (t *mockTx) InsertStockMovement(_ context.Context, change StockChange) error {
	t.st.movements = append(t.st.movements, change)
	return nil
}

func (t *mockTx) NextInvoiceSeq(context.Context) (int64, error) {
	t.st.seq++
	return t.st.seq, nil
}

func (t *mockTx) InsertSale(_ context.Context, s Sale) (int64, error) {
	s.ID = t.st.nextSaleID
	t.st.nextSaleID++
	t.st.sales[s.ID] = s
	return s.ID, nil
}

func (t *mockTx) InsertLine(_ context.Context, line SaleLine) error {
	t.st.lines[line.SaleID] = append(t.st.lines[line.SaleID], line)
	return nil
}

func (t *mockTx) InsertPayment(_ context.Context, p Payment) error {
	if t.failPayments {
		return errors.New("payment insert failed")
	}
	t.st.payments[p.SaleID] = append(t.st.payments[p.SaleID], p)
	return nil
}

func (t *mockTx) AppendAccountEntry(_ context.Context, entry AccountEntry) (decimal.Decimal, error) {
	prior := t.st.balances[entry.CustomerID]
	var next decimal.Decimal
	switch entry.Movement {
	case ledgerDebit:
		next = prior.Add(entry.Amount)
	case ledgerCredit:
		next = prior.Sub(entry.Amount)
	default:
		return decimal.Decimal{}, errors.New("unknown movement")
	}
	t.st.ledger = append(t.st.ledger, ledgerRow{
		CustomerID: entry.CustomerID,
		Movement:   entry.Movement,
		Amount:     entry.Amount,
		Prior:      prior,
		New:        next,
		SaleID:     entry.SaleID,
	})
	t.st.balances[entry.CustomerID] = next
	return next, nil
}

func (t *mockTx) GetSaleForUpdate(_ context.Context, id int64) (*Sale, error) {
	s, ok := t.st.sales[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (t *mockTx) ListLines(_ context.Context, saleID int64) ([]SaleLine, error) {
	return t.st.lines[saleID], nil
}

func (t *mockTx) ListPayments(_ context.Context, saleID int64) ([]Payment, error) {
	return t.st.payments[saleID], nil
}

func (t *mockTx) UpdateSaleStatus(_ context.Context, id int64, status string) error {
	s, ok := t.st.sales[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	t.st.sales[id] = s
	return nil
}

type mockRegister struct {
	mu       sync.Mutex
	calls    []decimal.Decimal
	failWith error
}

func (m *mockRegister) CurrentOpenSession(context.Context) (int64, error) { return 1, nil }

func (m *mockRegister) RecordSaleCash(_ context.Context, _, _ int64, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.calls = append(m.calls, amount)
	return nil
}

func testService(repo *mockRepo, register RegisterPort) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, register, nil, nil, Config{PointOfSale: 1, MaxRetries: 3})
}

func seedProduct(repo *mockRepo, id int64, sku string, stock string) {
	repo.st.products[id] = ProductState{
		ID: id, SKU: sku, Name: sku,
		Stock: decimal.RequireFromString(stock), IsActive: true,
	}
}

func cashSaleRequest(qty, price, tax, paid string) CreateSaleRequest {
	return CreateSaleRequest{
		SellerID: 1,
		Lines: []CreateLineRequest{
			{ProductID: 1, Quantity: qty, UnitPrice: price, Tax: tax},
		},
		Payments: []PaymentRequest{
			{Method: MethodCash, Amount: paid},
		},
	}
}

func TestCreateSaleSuccess(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	register := &mockRegister{}
	svc := testService(repo, register)

	confirmation, err := svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "22.10"))
	require.NoError(t, err)
	assert.Positive(t, confirmation.SaleID)
	assert.Equal(t, "0001-00000001", confirmation.InvoiceNumber)
	assert.True(t, confirmation.Total.Equal(decimal.RequireFromString("22.10")))

	// stock reduced by exactly the sold quantity
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(3)), "stock %s", repo.stock(1))

	detail, err := repo.GetSale(context.Background(), confirmation.SaleID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, detail.Sale.Status)
	assert.True(t, detail.Sale.Total.Equal(detail.Sale.Subtotal.Sub(detail.Sale.DiscountTotal).Add(detail.Sale.TaxTotal)))

	lineSum := decimal.Zero
	for _, l := range detail.Lines {
		lineSum = lineSum.Add(l.LineTotal)
	}
	assert.True(t, lineSum.Equal(detail.Sale.Total), "lines sum %s", lineSum)

	paySum := decimal.Zero
	for _, p := range detail.Payments {
		paySum = paySum.Add(p.Amount)
	}
	assert.True(t, paySum.Equal(detail.Sale.Total), "payments sum %s", paySum)

	// cash portion handed to the register collaborator
	require.Len(t, register.calls, 1)
	assert.True(t, register.calls[0].Equal(decimal.RequireFromString("22.10")))

	require.Len(t, repo.st.movements, 1)
	assert.True(t, repo.st.movements[0].Delta.Equal(decimal.NewFromInt(-2)))
	assert.True(t, repo.st.movements[0].NewStock.Equal(decimal.NewFromInt(3)))
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "1")
	svc := testService(repo, nil)

	_, err := svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "22.10"))
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "SKU-1", stockErr.SKU)
	assert.Contains(t, err.Error(), "SKU-1")
	assert.Contains(t, err.Error(), "short 1")

	// nothing mutated
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(1)))
	assert.Empty(t, repo.st.sales)
	assert.Empty(t, repo.st.movements)
}

func TestCreateSalePaymentMismatch(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	svc := testService(repo, nil)

	_, err := svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "20.00"))
	var payErr *PaymentMismatchError
	require.ErrorAs(t, err, &payErr)
	assert.True(t, payErr.Total.Equal(decimal.RequireFromString("22.10")))
	assert.True(t, payErr.Paid.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(5)))
	assert.Empty(t, repo.st.sales)
}

func TestCreateSaleWithinTolerance(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	svc := testService(repo, nil)

	_, err := svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "22.11"))
	require.NoError(t, err)
}

func TestCreateSaleValidation(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	svc := testService(repo, nil)

	_, err := svc.CreateSale(context.Background(), CreateSaleRequest{SellerID: 1,
		Payments: []PaymentRequest{{Method: MethodCash, Amount: "1"}}})
	assert.ErrorIs(t, err, ErrEmptyLines)

	_, err = svc.CreateSale(context.Background(), CreateSaleRequest{SellerID: 1,
		Lines: []CreateLineRequest{{ProductID: 1, Quantity: "1", UnitPrice: "1"}}})
	assert.ErrorIs(t, err, ErrEmptyPayments)

	req := cashSaleRequest("0", "10.00", "", "0")
	_, err = svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	req = cashSaleRequest("1", "10.00", "", "10.00")
	req.Payments[0].Method = "BITCOIN"
	_, err = svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	req = cashSaleRequest("1", "10.00", "", "10.00")
	req.Payments[0].Method = MethodAccount
	_, err = svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, ErrAccountRequiresCustomer)
}

func TestCreateSaleRollbackOnInsertFailure(t *testing.T) {
	repo := newMockRepo()
	repo.failPayments = true
	seedProduct(repo, 1, "SKU-1", "5")
	svc := testService(repo, nil)

	_, err := svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "22.10"))
	require.Error(t, err)

	// the failed insert rolled back the sale header and stock decrement
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(5)))
	assert.Empty(t, repo.st.sales)
	assert.Empty(t, repo.st.movements)
}

func TestConcurrentSalesLastUnit(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "1")
	svc := testService(repo, nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(context.Background(), cashSaleRequest("1", "10.00", "", "10.00"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, stockFailures int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			stockFailures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one sale takes the last unit")
	assert.Equal(t, 1, stockFailures, "the other fails the stock check")
	assert.True(t, repo.stock(1).IsZero())
}

func TestCreditSalesLedgerChain(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "100")
	customerID := int64(9)
	repo.st.balances[customerID] = decimal.RequireFromString("50.00")
	svc := testService(repo, nil)

	amounts := []string{"10.00", "25.50", "14.50"}
	for _, amount := range amounts {
		req := CreateSaleRequest{
			SellerID:   1,
			CustomerID: &customerID,
			Lines: []CreateLineRequest{
				{ProductID: 1, Quantity: "1", UnitPrice: amount},
			},
			Payments: []PaymentRequest{
				{Method: MethodAccount, Amount: amount},
			},
		}
		_, err := svc.CreateSale(context.Background(), req)
		require.NoError(t, err)
	}

	// balance = initial + sum of credit amounts
	assert.True(t, repo.balance(customerID).Equal(decimal.RequireFromString("100.00")),
		"balance %s", repo.balance(customerID))

	require.Len(t, repo.st.ledger, len(amounts))
	prev := decimal.RequireFromString("50.00")
	for i, entry := range repo.st.ledger {
		assert.Equal(t, ledgerDebit, entry.Movement)
		assert.True(t, entry.Prior.Equal(prev), "entry %d prior %s", i, entry.Prior)
		assert.True(t, entry.New.Equal(prev.Add(entry.Amount)), "entry %d new %s", i, entry.New)
		assert.NotNil(t, entry.SaleID)
		prev = entry.New
	}
}

func TestVoidSale(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	customerID := int64(9)
	svc := testService(repo, nil)

	req := CreateSaleRequest{
		SellerID:   1,
		CustomerID: &customerID,
		Lines: []CreateLineRequest{
			{ProductID: 1, Quantity: "2", UnitPrice: "10.00"},
		},
		Payments: []PaymentRequest{
			{Method: MethodAccount, Amount: "20.00"},
		},
	}
	confirmation, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)
	require.True(t, repo.stock(1).Equal(decimal.NewFromInt(3)))
	require.True(t, repo.balance(customerID).Equal(decimal.RequireFromString("20.00")))

	voided, err := svc.VoidSale(context.Background(), VoidSaleInput{SaleID: confirmation.SaleID, ActorID: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, voided.Status)

	// stock restored, account debt reversed
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(5)))
	assert.True(t, repo.balance(customerID).IsZero())

	_, err = svc.VoidSale(context.Background(), VoidSaleInput{SaleID: confirmation.SaleID, ActorID: 1})
	assert.ErrorIs(t, err, ErrAlreadyVoided)
}

func TestRegisterFailureDoesNotFailSale(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "5")
	register := &mockRegister{failWith: errors.New("register offline")}
	svc := testService(repo, register)

	confirmation, err := svc.CreateSale(context.Background(), cashSaleRequest("1", "10.00", "", "10.00"))
	require.NoError(t, err)
	assert.Positive(t, confirmation.SaleID)
}

func TestCreateSaleIdempotent(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "10")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewCache(client, time.Minute)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(logger, repo, nil, c, nil, Config{PointOfSale: 1, MaxRetries: 3})

	key := uuid.NewString()
	first, err := svc.CreateSaleIdempotent(context.Background(), key, cashSaleRequest("1", "10.00", "", "10.00"))
	require.NoError(t, err)

	// resending the same request returns the original confirmation
	second, err := svc.CreateSaleIdempotent(context.Background(), key, cashSaleRequest("1", "10.00", "", "10.00"))
	require.NoError(t, err)
	assert.Equal(t, first.SaleID, second.SaleID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)
	assert.Len(t, repo.st.sales, 1)
	assert.True(t, repo.stock(1).Equal(decimal.NewFromInt(9)))

	// a different key creates a new sale
	third, err := svc.CreateSaleIdempotent(context.Background(), uuid.NewString(), cashSaleRequest("1", "10.00", "", "10.00"))
	require.NoError(t, err)
	assert.NotEqual(t, first.SaleID, third.SaleID)
}

func TestDailySummary(t *testing.T) {
	repo := newMockRepo()
	seedProduct(repo, 1, "SKU-1", "10")
	svc := testService(repo, nil)

	// empty period aggregates to zeros, not an error
	summary, err := svc.DailySummary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.SaleCount)
	assert.True(t, summary.NetTotal.IsZero())

	_, err = svc.CreateSale(context.Background(), cashSaleRequest("2", "10.00", "2.10", "22.10"))
	require.NoError(t, err)

	summary, err = svc.DailySummary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.SaleCount)
	assert.True(t, summary.NetTotal.Equal(decimal.RequireFromString("22.10")))
}
