// Package api exposes the reminder subsystem and session gate over a
// JSON HTTP API consumed by the screen layer.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"careplus/internal/reminder"
)

// SessionService is the slice of the auth manager the API needs.
type SessionService interface {
	Login(ctx context.Context, username, password string) error
	LoginWithToken(ctx context.Context, token string) error
	IssueRememberToken(ctx context.Context) (string, error)
	Register(ctx context.Context, username, password, email string) error
	Logout()
	CurrentPrincipal() (string, bool)
}

// ReminderService is the UI-facing contract of the coordinator.
type ReminderService interface {
	Reminders() []reminder.ReminderItem
	Add(ctx context.Context, item reminder.ReminderItem) (reminder.ReminderItem, error)
	Update(ctx context.Context, item reminder.ReminderItem) error
	Delete(ctx context.Context, id int) error
	Toggle(ctx context.Context, id int, enabled bool) error
	CurrentPendingAlert() *reminder.PendingAlert
	Dismiss()
	Snooze()
}

// HTTPServer serves the companion JSON API.
type HTTPServer struct {
	server    *http.Server
	sessions  SessionService
	reminders ReminderService
	logger    *zerolog.Logger
}

func NewHTTPServer(port int, sessions SessionService, reminders ReminderService, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		sessions:  sessions,
		reminders: reminders,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/login/token", s.handleTokenLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/reminders", s.handleReminders)
	mux.HandleFunc("/api/reminders/", s.handleReminderByID)
	mux.HandleFunc("/api/alert", s.handleAlert)
	mux.HandleFunc("/api/alert/dismiss", s.handleAlertDismiss)
	mux.HandleFunc("/api/alert/snooze", s.handleAlertSnooze)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled.
func (s *HTTPServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("API server started")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error().Err(err).Msg("API server error")
	}
}

// Handler exposes the mux for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
