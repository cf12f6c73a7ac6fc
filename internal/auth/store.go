package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"careplus/internal/database"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("auth: username already exists")
	// ErrInvalidCredentials is returned when username/password do not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Account types mirror the roles the companion app distinguishes.
const (
	AccountTypePatient = 1
	AccountTypeFamily  = 2
	AccountTypeStaff   = 3
	AccountTypeAdmin   = 4
)

// User is a registered account.
type User struct {
	ID          int64
	Username    string
	Email       string
	AccountType int
	CreatedAt   time.Time
}

// Store persists accounts and remember-me tokens in sqlite.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CreateUser registers a new account.
func (s *Store) CreateUser(ctx context.Context, username, password, email string, accountType int) error {
	exists, err := s.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}
	if accountType == 0 {
		accountType = AccountTypePatient
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, account_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		username, hashPassword(password), email, accountType, time.Now(), time.Now())
	return err
}

// ValidateUser checks a username/password pair.
func (s *Store) ValidateUser(ctx context.Context, username, password string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = ?", username,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == hashPassword(password), nil
}

// UserExists reports whether the username is registered.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", username,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUser returns account details, or nil when the user is unknown.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var email sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, account_type, created_at FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &email, &u.AccountType, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	return &u, nil
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(ctx context.Context, username, newPassword string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`,
		hashPassword(newPassword), time.Now(), username)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidCredentials
	}
	return nil
}

// SaveRememberToken stores a remember-me token with expiry.
func (s *Store) SaveRememberToken(ctx context.Context, token, username string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO remember_tokens (token, username, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		token, username, expiresAt, time.Now())
	return err
}

// LookupRememberToken resolves a token to a username.
// Expired or unknown tokens resolve to "".
func (s *Store) LookupRememberToken(ctx context.Context, token string) (string, error) {
	var username string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT username, expires_at FROM remember_tokens WHERE token = ?", token,
	).Scan(&username, &expiresAt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(expiresAt) {
		return "", nil
	}
	return username, nil
}

// DeleteRememberToken revokes a token.
func (s *Store) DeleteRememberToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM remember_tokens WHERE token = ?", token)
	return err
}
