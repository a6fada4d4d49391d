package customers

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mu        sync.Mutex
	customers map[int64]*Customer
	ledger    []LedgerEntry
	nextID    int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{customers: map[int64]*Customer{}, nextID: 1}
}

func (m *mockRepo) addCustomer(c Customer) *Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	m.customers[c.ID] = &c
	return &c
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &mockTx{repo: m})
}

func (m *mockRepo) GetCustomer(_ context.Context, id int64) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) ListActive(context.Context, int, int) ([]Customer, error) { return nil, nil }

func (m *mockRepo) Search(context.Context, string, int) ([]Customer, error) { return nil, nil }

func (m *mockRepo) ListDebtors(_ context.Context, limit int) ([]Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Customer
	for _, c := range m.customers {
		if c.Balance.IsPositive() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Balance.GreaterThan(out[j].Balance) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) CreateCustomer(_ context.Context, c Customer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.customers {
		if c.DocumentNumber != nil && existing.DocumentNumber != nil && *c.DocumentNumber == *existing.DocumentNumber {
			return 0, ErrDuplicateDocument
		}
	}
	c.ID = m.nextID
	m.nextID++
	m.customers[c.ID] = &c
	return c.ID, nil
}

func (m *mockRepo) UpdateCustomer(_ context.Context, id int64, req UpdateCustomerRequest, limit, discount *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if limit != nil {
		c.CreditLimit = *limit
	}
	if discount != nil {
		c.DiscountPercent = *discount
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	return nil
}

func (m *mockRepo) ListLedger(_ context.Context, customerID int64, limit int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].CustomerID == customerID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

type mockTx struct {
	repo *mockRepo
}

func (t *mockTx) GetCustomerForUpdate(_ context.Context, id int64) (*Customer, error) {
	c, ok := t.repo.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *mockTx) AppendEntry(_ context.Context, entry LedgerEntry) (int64, error) {
	entry.ID = int64(len(t.repo.ledger) + 1)
	t.repo.ledger = append(t.repo.ledger, entry)
	t.repo.customers[entry.CustomerID].Balance = entry.NewBalance
	return entry.ID, nil
}

func testService(repo *mockRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(logger, repo, nil)
}

func TestRecordPaymentChainsLedger(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)
	c := repo.addCustomer(Customer{Name: "María Pérez", Balance: decimal.RequireFromString("150.00"), IsActive: true})

	first, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		CustomerID: c.ID, Amount: decimal.RequireFromString("100.00"), ActorID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, MovementCredit, first.Movement)
	assert.True(t, first.PriorBalance.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, first.NewBalance.Equal(decimal.RequireFromString("50.00")))

	second, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		CustomerID: c.ID, Amount: decimal.RequireFromString("50.00"), ActorID: 1,
	})
	require.NoError(t, err)
	// each entry's prior balance is the previous entry's new balance
	assert.True(t, second.PriorBalance.Equal(first.NewBalance))
	assert.True(t, second.NewBalance.IsZero())

	stored, err := svc.GetCustomer(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.IsZero())
}

func TestRecordPaymentOverpaymentLeavesCredit(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)
	c := repo.addCustomer(Customer{Name: "Juan", Balance: decimal.RequireFromString("30.00"), IsActive: true})

	entry, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		CustomerID: c.ID, Amount: decimal.RequireFromString("50.00"), ActorID: 1,
	})
	require.NoError(t, err)
	assert.True(t, entry.NewBalance.Equal(decimal.RequireFromString("-20.00")))
}

func TestRecordPaymentRejectsNonPositive(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{CustomerID: 1, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.RecordPayment(context.Background(), RecordPaymentInput{CustomerID: 1, Amount: decimal.RequireFromString("-10")})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestListDebtorsOrdering(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)
	repo.addCustomer(Customer{Name: "Sin deuda", Balance: decimal.Zero, IsActive: true})
	repo.addCustomer(Customer{Name: "Deuda chica", Balance: decimal.RequireFromString("10.00"), IsActive: true})
	repo.addCustomer(Customer{Name: "Deuda grande", Balance: decimal.RequireFromString("500.00"), IsActive: true})

	debtors, err := svc.ListDebtors(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, debtors, 2)
	assert.Equal(t, "Deuda grande", debtors[0].Name)
	assert.Equal(t, "Deuda chica", debtors[1].Name)
}

func TestCreateCustomerDefaults(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)

	c, err := svc.CreateCustomer(context.Background(), CreateCustomerRequest{Name: "Nueva Clienta", CreditLimit: "1000"})
	require.NoError(t, err)
	assert.True(t, c.Balance.IsZero())
	assert.True(t, c.CreditLimit.Equal(decimal.NewFromInt(1000)))
	assert.True(t, c.IsActive)

	_, err = svc.CreateCustomer(context.Background(), CreateCustomerRequest{Name: "Mala", CreditLimit: "-1"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
