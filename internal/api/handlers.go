package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"careplus/internal/auth"
	"careplus/internal/metrics"
	"careplus/internal/reminder"
)

// LoginRequest is the request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// LoginResponse is the response for POST /api/login.
type LoginResponse struct {
	Username      string `json:"username"`
	RememberToken string `json:"remember_token,omitempty"`
}

// TokenLoginRequest is the request body for POST /api/login/token.
type TokenLoginRequest struct {
	Token string `json:"token"`
}

// RegisterRequest is the request body for POST /api/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// ToggleRequest is the request body for POST /api/reminders/{id}/toggle.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// AlertResponse is the response for GET /api/alert.
type AlertResponse struct {
	Pending     bool                   `json:"pending"`
	DisplayMode string                 `json:"display_mode,omitempty"`
	Reminder    *reminder.ReminderItem `json:"reminder,omitempty"`
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("login")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req LoginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := s.sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.logger.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	resp := LoginResponse{Username: req.Username}
	if req.Remember {
		token, err := s.sessions.IssueRememberToken(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("remember token issue failed")
		} else {
			resp.RememberToken = token
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("login_token")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req TokenLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.sessions.LoginWithToken(r.Context(), req.Token); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		s.logger.Error().Err(err).Msg("token login failed")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	principal, _ := s.sessions.CurrentPrincipal()
	writeJSON(w, http.StatusOK, LoginResponse{Username: principal})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("logout")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	s.sessions.Logout()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("register")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req RegisterRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := s.sessions.Register(r.Context(), req.Username, req.Password, req.Email); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		s.logger.Error().Err(err).Msg("register failed")
		writeError(w, http.StatusInternalServerError, "register failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// handleReminders serves GET (list) and POST (add) on /api/reminders.
func (s *HTTPServer) handleReminders(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reminders")
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.sessions.CurrentPrincipal(); !ok {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reminders": s.reminders.Reminders()})

	case http.MethodPost:
		var item reminder.ReminderItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validateItem(&item); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Id allocation happens inside the coordinator's lock; the
		// stored item comes back with the id that was actually used.
		created, err := s.reminders.Add(r.Context(), item)
		if err != nil {
			s.writeReminderError(w, err, "add")
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleReminderByID serves PUT/DELETE on /api/reminders/{id} and
// POST on /api/reminders/{id}/toggle.
func (s *HTTPServer) handleReminderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/reminders/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid reminder id")
		return
	}

	switch {
	case action == "toggle" && r.Method == http.MethodPost:
		metrics.IncHTTP("reminder_toggle")
		var req ToggleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.reminders.Toggle(r.Context(), id, req.Enabled); err != nil {
			s.writeReminderError(w, err, "toggle")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	case action == "" && r.Method == http.MethodPut:
		metrics.IncHTTP("reminder_update")
		var item reminder.ReminderItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item.ID = id
		if err := validateItem(&item); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.reminders.Update(r.Context(), item); err != nil {
			s.writeReminderError(w, err, "update")
			return
		}
		writeJSON(w, http.StatusOK, item)

	case action == "" && r.Method == http.MethodDelete:
		metrics.IncHTTP("reminder_delete")
		if err := s.reminders.Delete(r.Context(), id); err != nil {
			s.writeReminderError(w, err, "delete")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleAlert(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("alert")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	pending := s.reminders.CurrentPendingAlert()
	if pending == nil {
		writeJSON(w, http.StatusOK, AlertResponse{Pending: false})
		return
	}
	writeJSON(w, http.StatusOK, AlertResponse{
		Pending:     true,
		DisplayMode: string(pending.DisplayMode),
		Reminder:    &pending.Reminder,
	})
}

func (s *HTTPServer) handleAlertDismiss(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("alert_dismiss")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	s.reminders.Dismiss()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *HTTPServer) handleAlertSnooze(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("alert_snooze")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	s.reminders.Snooze()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *HTTPServer) writeReminderError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, reminder.ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	s.logger.Error().Err(err).Str("op", op).Msg("reminder operation failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func validateItem(item *reminder.ReminderItem) error {
	if _, _, err := item.Clock(); err != nil {
		return err
	}
	if len(item.Days) == 0 {
		return errors.New("at least one day is required")
	}
	for _, day := range item.Days {
		if _, err := reminder.ParseWeekday(day); err != nil {
			return err
		}
	}
	if item.Type != "" {
		if _, err := reminder.ParseReminderType(string(item.Type)); err != nil {
			return err
		}
	}
	return nil
}
