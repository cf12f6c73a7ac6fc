package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careplus/internal/events"
)

// MockCredentialStore implements CredentialStore in memory.
type MockCredentialStore struct {
	mu        sync.Mutex
	passwords map[string]string
	tokens    map[string]string
	expiries  map[string]time.Time
}

func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{
		passwords: make(map[string]string),
		tokens:    make(map[string]string),
		expiries:  make(map[string]time.Time),
	}
}

func (m *MockCredentialStore) CreateUser(ctx context.Context, username, password, email string, accountType int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passwords[username]; ok {
		return ErrUserExists
	}
	m.passwords[username] = password
	return nil
}

func (m *MockCredentialStore) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.passwords[username]
	return ok && stored == password, nil
}

func (m *MockCredentialStore) UserExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.passwords[username]
	return ok, nil
}

func (m *MockCredentialStore) UpdatePassword(ctx context.Context, username, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[username] = newPassword
	return nil
}

func (m *MockCredentialStore) SaveRememberToken(ctx context.Context, token, username string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = username
	m.expiries[token] = expiresAt
	return nil
}

func (m *MockCredentialStore) LookupRememberToken(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Now().After(m.expiries[token]) {
		return "", nil
	}
	return m.tokens[token], nil
}

func (m *MockCredentialStore) DeleteRememberToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	delete(m.expiries, token)
	return nil
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *MockCredentialStore, *events.Bus) {
	t.Helper()
	store := NewMockCredentialStore()
	bus := events.NewBus()
	logger := zerolog.Nop()
	return NewManager(cfg, store, bus, &logger), store, bus
}

func TestAdminLoginWithoutDatabaseRow(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())

	require.NoError(t, m.Login(context.Background(), "admin", "00000000"))

	principal, ok := m.CurrentPrincipal()
	assert.True(t, ok)
	assert.Equal(t, "admin", principal)
	assert.True(t, m.IsAuthenticated())
}

func TestLoginValidatesStoredCredentials(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, m.Register(ctx, "alice", "secret123", ""))

	assert.ErrorIs(t, m.Login(ctx, "alice", "wrong"), ErrInvalidCredentials)
	assert.False(t, m.IsAuthenticated())

	require.NoError(t, m.Login(ctx, "alice", "secret123"))
	principal, _ := m.CurrentPrincipal()
	assert.Equal(t, "alice", principal)
}

func TestLoginRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginBurst = 2
	cfg.LoginRatePerMin = 1
	m, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	// The burst allows two attempts, then the limiter kicks in.
	assert.ErrorIs(t, m.Login(ctx, "alice", "x"), ErrInvalidCredentials)
	assert.ErrorIs(t, m.Login(ctx, "alice", "x"), ErrInvalidCredentials)
	assert.ErrorIs(t, m.Login(ctx, "alice", "x"), ErrRateLimited)

	// Per-username limiters: bob is unaffected.
	assert.ErrorIs(t, m.Login(ctx, "bob", "x"), ErrInvalidCredentials)
}

func TestLoginSwitchPublishesLogoutThenLogin(t *testing.T) {
	m, _, bus := newTestManager(t, DefaultConfig())

	var mu sync.Mutex
	var published []events.Event
	record := func(e events.Event) {
		mu.Lock()
		published = append(published, e)
		mu.Unlock()
	}
	bus.Subscribe(events.TypeLogin, record)
	bus.Subscribe(events.TypeLogout, record)

	ctx := context.Background()
	require.NoError(t, m.Register(ctx, "alice", "pw1", ""))
	require.NoError(t, m.Register(ctx, "bob", "pw2", ""))

	require.NoError(t, m.Login(ctx, "alice", "pw1"))
	require.NoError(t, m.Login(ctx, "bob", "pw2"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 3)
	assert.Equal(t, events.TypeLogin, published[0].Type)
	assert.Equal(t, "alice", published[0].Principal)
	// Switching users logs the previous one out first.
	assert.Equal(t, events.TypeLogout, published[1].Type)
	assert.Equal(t, "alice", published[1].Principal)
	assert.Equal(t, events.TypeLogin, published[2].Type)
	assert.Equal(t, "bob", published[2].Principal)
}

func TestLogout(t *testing.T) {
	m, _, bus := newTestManager(t, DefaultConfig())

	var mu sync.Mutex
	var logouts []string
	bus.Subscribe(events.TypeLogout, func(e events.Event) {
		mu.Lock()
		logouts = append(logouts, e.Principal)
		mu.Unlock()
	})

	require.NoError(t, m.Login(context.Background(), "admin", "00000000"))
	m.Logout()

	assert.False(t, m.IsAuthenticated())
	mu.Lock()
	assert.Equal(t, []string{"admin"}, logouts)
	mu.Unlock()

	// Logging out while logged out publishes nothing.
	m.Logout()
	mu.Lock()
	assert.Len(t, logouts, 1)
	mu.Unlock()
}

func TestRememberTokenRoundTrip(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "admin", "00000000"))
	token, err := m.IssueRememberToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	m.Logout()
	require.NoError(t, m.LoginWithToken(ctx, token))
	principal, _ := m.CurrentPrincipal()
	assert.Equal(t, "admin", principal)
}

func TestLoginWithUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	assert.ErrorIs(t, m.LoginWithToken(context.Background(), "bogus"), ErrInvalidCredentials)
}

func TestIssueRememberTokenRequiresLogin(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	_, err := m.IssueRememberToken(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterReservesAdminUsername(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	assert.ErrorIs(t, m.Register(context.Background(), "admin", "pw", ""), ErrUserExists)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, m.Register(ctx, "alice", "pw", ""))
	assert.ErrorIs(t, m.Register(ctx, "alice", "pw", ""), ErrUserExists)
}

func TestPasswordResetFlow(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, m.Register(ctx, "alice", "oldpw", ""))

	require.NoError(t, m.RequestVerificationCode(ctx, "alice"))
	m.mu.Lock()
	code := m.codes["alice"].code
	m.mu.Unlock()

	assert.ErrorIs(t, m.ResetPassword(ctx, "alice", "000000x", "newpw"), ErrInvalidCode)
	require.NoError(t, m.ResetPassword(ctx, "alice", code, "newpw"))

	// The code is single-use.
	assert.ErrorIs(t, m.ResetPassword(ctx, "alice", code, "again"), ErrInvalidCode)

	require.NoError(t, m.Login(ctx, "alice", "newpw"))
}

func TestVerificationCodeForUnknownUser(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig())
	assert.ErrorIs(t, m.RequestVerificationCode(context.Background(), "nobody"), ErrInvalidCredentials)
}
