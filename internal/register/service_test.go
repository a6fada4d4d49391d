package register

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mu        sync.Mutex
	sessions  map[int64]*Session
	movements []Movement
	nextID    int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{sessions: map[int64]*Session{}, nextID: 1}
}

func (m *mockRepo) GetSession(_ context.Context, id int64) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// OpenSession rejects a second open session per register atomically, the
// way the partial unique index does.
func (m *mockRepo) OpenSession(_ context.Context, registerID, openedBy int64, openingFloat decimal.Decimal) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RegisterID == registerID && s.ClosedAt == nil {
			return nil, ErrSessionOpen
		}
	}
	s := &Session{ID: m.nextID, RegisterID: registerID, OpenedBy: openedBy,
		OpeningFloat: openingFloat, OpenedAt: time.Now()}
	m.nextID++
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *mockRepo) CloseSession(_ context.Context, id, closedBy int64, closedAmount decimal.Decimal) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ClosedAt != nil {
		return nil, ErrSessionClosed
	}
	now := time.Now()
	s.ClosedBy = &closedBy
	s.ClosedAmount = &closedAmount
	s.ClosedAt = &now
	cp := *s
	return &cp, nil
}

func (m *mockRepo) CurrentOpenSession(context.Context) (int64, error) {
	for _, s := range m.sessions {
		if s.ClosedAt == nil {
			return s.ID, nil
		}
	}
	return 0, ErrNoOpenSession
}

func (m *mockRepo) InsertMovement(_ context.Context, mv Movement) (int64, error) {
	s, ok := m.sessions[mv.SessionID]
	if !ok {
		return 0, ErrNotFound
	}
	if s.ClosedAt != nil {
		return 0, ErrSessionClosed
	}
	mv.ID = int64(len(m.movements) + 1)
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *mockRepo) ListMovements(_ context.Context, sessionID int64) ([]Movement, error) {
	var out []Movement
	for _, mv := range m.movements {
		if mv.SessionID == sessionID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func testService(repo *mockRepo) *Service {
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), repo)
}

func TestSessionLifecycle(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)

	session, err := svc.OpenSession(context.Background(), OpenSessionRequest{RegisterID: 1, OpenedBy: 2, OpeningFloat: "500.00"})
	require.NoError(t, err)
	assert.True(t, session.OpeningFloat.Equal(decimal.RequireFromString("500.00")))

	_, err = svc.OpenSession(context.Background(), OpenSessionRequest{RegisterID: 1, OpenedBy: 2})
	assert.ErrorIs(t, err, ErrSessionOpen)

	id, err := svc.CurrentOpenSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.ID, id)

	closed, err := svc.CloseSession(context.Background(), session.ID, CloseSessionRequest{ClosedBy: 2, ClosedAmount: "750.00"})
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAmount)
	assert.True(t, closed.ClosedAmount.Equal(decimal.RequireFromString("750.00")))

	_, err = svc.CurrentOpenSession(context.Background())
	assert.ErrorIs(t, err, ErrNoOpenSession)
}

func TestConcurrentOpenSameRegister(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.OpenSession(context.Background(), OpenSessionRequest{RegisterID: 1, OpenedBy: 2})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var opened, rejected int
	for err := range results {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ErrSessionOpen):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, rejected)

	var open int
	for _, s := range repo.sessions {
		if s.ClosedAt == nil {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestRecordSaleCash(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)
	session, err := svc.OpenSession(context.Background(), OpenSessionRequest{RegisterID: 1, OpenedBy: 2})
	require.NoError(t, err)

	err = svc.RecordSaleCash(context.Background(), session.ID, 10, decimal.RequireFromString("22.10"))
	require.NoError(t, err)

	movements, err := svc.ListMovements(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, KindSale, movements[0].Kind)
	require.NotNil(t, movements[0].SaleID)
	assert.Equal(t, int64(10), *movements[0].SaleID)

	// zero cash is a no-op, not an error
	err = svc.RecordSaleCash(context.Background(), session.ID, 11, decimal.Zero)
	require.NoError(t, err)
	movements, _ = svc.ListMovements(context.Background(), session.ID)
	assert.Len(t, movements, 1)
}

func TestMovementAgainstClosedSession(t *testing.T) {
	repo := newMockRepo()
	svc := testService(repo)
	session, err := svc.OpenSession(context.Background(), OpenSessionRequest{RegisterID: 1, OpenedBy: 2})
	require.NoError(t, err)
	_, err = svc.CloseSession(context.Background(), session.ID, CloseSessionRequest{ClosedBy: 2, ClosedAmount: "0"})
	require.NoError(t, err)

	_, err = svc.RecordMovement(context.Background(), session.ID, MovementRequest{Kind: KindWithdrawal, Amount: "100"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}
