package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	users  map[int64]*User
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: map[int64]*User{}, nextID: 1}
}

func (m *mockRepo) GetUser(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListActive(context.Context) ([]User, error) { return nil, nil }

func (m *mockRepo) CreateUser(_ context.Context, u User) (int64, error) {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return 0, ErrDuplicateUsername
		}
	}
	u.ID = m.nextID
	m.nextID++
	m.users[u.ID] = &u
	return u.ID, nil
}

func (m *mockRepo) SetActive(_ context.Context, id int64, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	return nil
}

func TestCreateAndAuthenticate(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	created, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "cajero1", FullName: "Cajero Uno", Password: "secreto-123", Role: RoleCashier,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	// the hash is stored, never the plain password
	assert.NotEqual(t, "secreto-123", repo.users[created.ID].passwordHash)
	assert.NotEmpty(t, repo.users[created.ID].passwordHash)

	u, err := svc.Authenticate(context.Background(), Credentials{Username: "cajero1", Password: "secreto-123"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	_, err = svc.Authenticate(context.Background(), Credentials{Username: "cajero1", Password: "incorrecta"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), Credentials{Username: "nadie", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDeactivated(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	created, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "vendedor1", FullName: "Vendedor", Password: "secreto-123", Role: RoleSeller,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), created.ID))

	_, err = svc.Authenticate(context.Background(), Credentials{Username: "vendedor1", Password: "secreto-123"})
	assert.ErrorIs(t, err, ErrInactive)
}

func TestDuplicateUsername(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	_, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "admin", FullName: "Admin", Password: "secreto-123", Role: RoleAdmin,
	})
	require.NoError(t, err)
	_, err = svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "admin", FullName: "Otro", Password: "secreto-456", Role: RoleAdmin,
	})
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}
