package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/ongiapp/backend/internal/config"
	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrPinNotConfigured = errors.New("pin not configured")
	ErrInvalidPin       = errors.New("invalid pin")
)

// LockedError reports a temporary lockout after repeated failed PIN attempts.
type LockedError struct {
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed PIN attempts, locked for about %d minute(s)", e.RemainingMinutes)
}

type SessionService struct {
	db        *sql.DB
	cfg       *config.SessionConfig
	validator *ValidationHelper
}

func NewSessionService(db *sql.DB, cfg *config.SessionConfig) *SessionService {
	return &SessionService{
		db:        db,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	UserID string `json:"userId" validate:"required,uuid4" example:"6f1f41cf-6db1-4d3e-9a39-8f4d3f9e2a01"` // Operator account ID
	Pin    string `json:"pin" validate:"required,min=4,max=16" example:"1234"`                             // Login PIN
}

// Authenticate verifies a PIN against the stored hash and enforces the
// attempt lockout. Exactly one persistence write happens per attempt: the
// counter reset on success, or the attempts/lockout update on failure.
func (s *SessionService) Authenticate(userID, pin string) (*models.Session, string, error) {
	var (
		user        models.AdminUser
		name        sql.NullString
		roleStr     string
		lockedUntil sql.NullTime
	)

	err := s.db.QueryRow(
		"SELECT id, name, role, password_hash, failed_attempts, locked_until FROM admin_user WHERE id = $1",
		userID,
	).Scan(&user.ID, &name, &roleStr, &user.PasswordHash, &user.FailedAttempts, &lockedUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("loading user: %w", err)
	}
	user.Name = name.String

	role, ok := models.ParseRole(roleStr)
	if !ok {
		return nil, "", fmt.Errorf("user %s has unknown role %q", userID, roleStr)
	}
	user.Role = role

	now := time.Now()
	if lockedUntil.Valid && lockedUntil.Time.After(now) {
		return nil, "", &LockedError{RemainingMinutes: remainingMinutes(lockedUntil.Time, now)}
	}

	if user.PasswordHash == "" {
		return nil, "", ErrPinNotConfigured
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(pin)) == nil {
		if _, err := s.db.Exec(
			"UPDATE admin_user SET failed_attempts = 0, locked_until = NULL WHERE id = $1",
			user.ID,
		); err != nil {
			log.Printf("[AUTH] Failed to reset attempt counter for %s: %v", user.ID, err)
		}

		session, token, err := s.issueSession(&user, now)
		if err != nil {
			return nil, "", err
		}
		return session, token, nil
	}

	// Mismatch: persist the incremented counter, or lock and zero it.
	nextAttempts := user.FailedAttempts + 1
	var resultErr error = ErrInvalidPin
	persistAttempts := nextAttempts
	var persistLock any

	if nextAttempts >= s.cfg.LockoutThreshold {
		lockUntil := now.Add(s.cfg.LockoutDuration)
		persistAttempts = 0
		persistLock = lockUntil
		resultErr = &LockedError{RemainingMinutes: remainingMinutes(lockUntil, now)}
	}

	if _, err := s.db.Exec(
		"UPDATE admin_user SET failed_attempts = $1, locked_until = $2 WHERE id = $3",
		persistAttempts, persistLock, user.ID,
	); err != nil {
		log.Printf("[AUTH] Failed to update attempt counter for %s: %v", user.ID, err)
	}

	return nil, "", resultErr
}

func remainingMinutes(lockedUntil, now time.Time) int {
	return int(math.Ceil(lockedUntil.Sub(now).Minutes()))
}

func (s *SessionService) issueSession(user *models.AdminUser, now time.Time) (*models.Session, string, error) {
	issuedAt := now.Truncate(time.Second)
	expiresAt := issuedAt.Add(s.cfg.TokenTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"name": user.Name,
		"iat":  issuedAt.Unix(),
		"exp":  expiresAt.Unix(),
	})

	signed, err := token.SignedString([]byte(viper.GetString("session.secret_key")))
	if err != nil {
		return nil, "", fmt.Errorf("signing session token: %w", err)
	}

	return &models.Session{
		UserID:    user.ID,
		Role:      user.Role,
		Name:      user.Name,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, signed, nil
}

// Login handles operator authentication
// @Summary Login with user ID and PIN
// @Description Authenticate an operator account and set the session cookie
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} models.Session "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 403 {object} ErrorResponse "Account locked"
// @Router /auth/login [post]
func (s *SessionService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LoginRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, token, err := s.Authenticate(req.UserID, req.Pin)
	if err != nil {
		var locked *LockedError
		switch {
		case errors.As(err, &locked):
			log.Printf("[AUTH] Locked account %s (%d min remaining)", req.UserID, locked.RemainingMinutes)
			SendErrorResponse(w, locked.Error(), http.StatusForbidden, nil)
		case errors.Is(err, ErrPinNotConfigured):
			SendErrorResponse(w, "No PIN is configured for this user", http.StatusForbidden, nil)
		case errors.Is(err, ErrInvalidPin), errors.Is(err, ErrUserNotFound):
			log.Printf("[AUTH] Invalid credentials for user %s", req.UserID)
			SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		default:
			log.Printf("[AUTH] Login failed for user %s: %v", req.UserID, err)
			SendErrorResponse(w, "An internal error occurred, please try again", http.StatusInternalServerError, nil)
		}
		return
	}

	middleware.SetSessionCookie(w, s.cfg, token)

	log.Printf("[AUTH] Login successful for user %s (%s)", session.UserID, session.Role)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// Logout clears the session cookie
// @Summary Logout
// @Description Clear the session cookie unconditionally
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *SessionService) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, s.cfg)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// CurrentSession echoes the verified session
// @Summary Current session
// @Description Return the session carried by the request cookie
// @Tags auth
// @Produce json
// @Security SessionCookie
// @Success 200 {object} models.Session
// @Failure 401 {string} string "Unauthorized"
// @Router /auth/session [get]
func (s *SessionService) CurrentSession(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// userListItem is the minimal account shape shown on the login picker.
type userListItem struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role models.Role `json:"role"`
}

// ListUsers returns the accounts shown on the login picker
// @Summary List operator accounts
// @Description Names and roles only, for the login screen dropdown
// @Tags auth
// @Produce json
// @Success 200 {array} userListItem
// @Router /auth/users [get]
func (s *SessionService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query("SELECT id, name, role FROM admin_user ORDER BY name ASC")
	if err != nil {
		log.Printf("[AUTH] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to load users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []userListItem{}
	for rows.Next() {
		var (
			u       userListItem
			name    sql.NullString
			roleStr string
		)
		if err := rows.Scan(&u.ID, &name, &roleStr); err != nil {
			log.Printf("[AUTH] Failed to scan user row: %v", err)
			SendErrorResponse(w, "Failed to load users", http.StatusInternalServerError, nil)
			return
		}
		u.Name = name.String
		if role, ok := models.ParseRole(roleStr); ok {
			u.Role = role
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[AUTH] User row iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load users", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
