package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"careplus/internal/events"
)

// ErrRateLimited is returned when login attempts come too fast.
var ErrRateLimited = errors.New("auth: too many login attempts")

// ErrInvalidCode is returned when a verification code does not match or expired.
var ErrInvalidCode = errors.New("auth: invalid or expired verification code")

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	CreateUser(ctx context.Context, username, password, email string, accountType int) error
	ValidateUser(ctx context.Context, username, password string) (bool, error)
	UserExists(ctx context.Context, username string) (bool, error)
	UpdatePassword(ctx context.Context, username, newPassword string) error
	SaveRememberToken(ctx context.Context, token, username string, expiresAt time.Time) error
	LookupRememberToken(ctx context.Context, token string) (string, error)
	DeleteRememberToken(ctx context.Context, token string) error
}

// Config holds manager settings.
type Config struct {
	AdminUsername   string
	AdminPassword   string
	RememberTTL     time.Duration
	LoginRatePerMin int
	LoginBurst      int
	CodeExpiry      time.Duration
}

func DefaultConfig() Config {
	return Config{
		AdminUsername:   "admin",
		AdminPassword:   "00000000",
		RememberTTL:     30 * 24 * time.Hour,
		LoginRatePerMin: 10,
		LoginBurst:      5,
		CodeExpiry:      10 * time.Minute,
	}
}

type verificationCode struct {
	code      string
	expiresAt time.Time
}

// Manager tracks the authenticated principal for this process and
// publishes login/logout events on the bus.
type Manager struct {
	config Config
	store  CredentialStore
	bus    *events.Bus
	logger *zerolog.Logger

	mu       sync.Mutex
	current  string
	limiters map[string]*rate.Limiter
	codes    map[string]verificationCode
	rng      *rand.Rand
}

func NewManager(config Config, store CredentialStore, bus *events.Bus, logger *zerolog.Logger) *Manager {
	if config.AdminUsername == "" {
		config.AdminUsername = "admin"
	}
	if config.RememberTTL <= 0 {
		config.RememberTTL = 30 * 24 * time.Hour
	}
	if config.LoginRatePerMin <= 0 {
		config.LoginRatePerMin = 10
	}
	if config.LoginBurst <= 0 {
		config.LoginBurst = 5
	}
	if config.CodeExpiry <= 0 {
		config.CodeExpiry = 10 * time.Minute
	}

	return &Manager{
		config:   config,
		store:    store,
		bus:      bus,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		codes:    make(map[string]verificationCode),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Manager) limiterFor(username string) *rate.Limiter {
	lim, ok := m.limiters[username]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(m.config.LoginRatePerMin)/60.0), m.config.LoginBurst)
		m.limiters[username] = lim
	}
	return lim
}

// Login validates credentials and, on success, makes the user the
// current principal. The default admin account is recognized without
// a database row.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	allowed := m.limiterFor(username).Allow()
	m.mu.Unlock()
	if !allowed {
		m.logger.Warn().Str("username", username).Msg("login rate limited")
		return ErrRateLimited
	}

	isAdmin := username == m.config.AdminUsername &&
		m.config.AdminPassword != "" && password == m.config.AdminPassword

	if !isAdmin {
		valid, err := m.store.ValidateUser(ctx, username, password)
		if err != nil {
			return fmt.Errorf("validate user: %w", err)
		}
		if !valid {
			return ErrInvalidCredentials
		}
	}

	m.setCurrent(username)
	m.logger.Info().Str("username", username).Msg("login successful")
	return nil
}

// LoginWithToken authenticates with a previously issued remember-me token.
func (m *Manager) LoginWithToken(ctx context.Context, token string) error {
	username, err := m.store.LookupRememberToken(ctx, token)
	if err != nil {
		return fmt.Errorf("lookup token: %w", err)
	}
	if username == "" {
		return ErrInvalidCredentials
	}

	m.setCurrent(username)
	m.logger.Info().Str("username", username).Msg("token login successful")
	return nil
}

// IssueRememberToken creates and persists a remember-me token for the
// current principal.
func (m *Manager) IssueRememberToken(ctx context.Context) (string, error) {
	principal, ok := m.CurrentPrincipal()
	if !ok {
		return "", ErrInvalidCredentials
	}

	token := uuid.New().String()
	expiresAt := time.Now().Add(m.config.RememberTTL)
	if err := m.store.SaveRememberToken(ctx, token, principal, expiresAt); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	return token, nil
}

// Register creates a new account. The admin username is reserved.
func (m *Manager) Register(ctx context.Context, username, password, email string) error {
	if username == m.config.AdminUsername {
		return ErrUserExists
	}
	return m.store.CreateUser(ctx, username, password, email, AccountTypePatient)
}

// Logout clears the current principal and publishes a logout event.
func (m *Manager) Logout() {
	m.mu.Lock()
	principal := m.current
	m.current = ""
	m.mu.Unlock()

	if principal == "" {
		return
	}

	m.logger.Info().Str("username", principal).Msg("logged out")
	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.TypeLogout, Principal: principal})
	}
}

// IsAuthenticated reports whether a principal is logged in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != ""
}

// CurrentPrincipal returns the logged-in username.
func (m *Manager) CurrentPrincipal() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		return "", false
	}
	return m.current, true
}

// RequestVerificationCode generates a password-reset code for the user.
// The code is only logged; real delivery is out of scope.
func (m *Manager) RequestVerificationCode(ctx context.Context, username string) error {
	exists, err := m.store.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	code := fmt.Sprintf("%06d", m.rng.Intn(1000000))
	m.codes[username] = verificationCode{
		code:      code,
		expiresAt: time.Now().Add(m.config.CodeExpiry),
	}
	m.mu.Unlock()

	m.logger.Info().Str("username", username).Str("code", code).
		Msg("verification code generated")
	return nil
}

// ResetPassword verifies the code and sets a new password.
func (m *Manager) ResetPassword(ctx context.Context, username, code, newPassword string) error {
	m.mu.Lock()
	vc, ok := m.codes[username]
	if ok && vc.code == code && time.Now().Before(vc.expiresAt) {
		delete(m.codes, username)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return ErrInvalidCode
	}
	return m.store.UpdatePassword(ctx, username, newPassword)
}

func (m *Manager) setCurrent(username string) {
	m.mu.Lock()
	previous := m.current
	m.current = username
	m.mu.Unlock()

	if m.bus == nil {
		return
	}
	if previous != "" && previous != username {
		m.bus.Publish(events.Event{Type: events.TypeLogout, Principal: previous})
	}
	m.bus.Publish(events.Event{Type: events.TypeLogin, Principal: username})
}
