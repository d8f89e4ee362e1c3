package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrCodeMismatch    = errors.New("company code mismatch")
	ErrEntryNotFound   = errors.New("entry not found")
	ErrEntrySettled    = errors.New("entry already settled")
)

type EntryService struct {
	db        *sql.DB
	redis     *redis.Client
	audit     *AuditService
	validator *ValidationHelper
}

func NewEntryService(db *sql.DB, redisClient *redis.Client, audit *AuditService) *EntryService {
	return &EntryService{
		db:        db,
		redis:     redisClient,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

// RecordEntryInput carries a validated visit record request.
type RecordEntryInput struct {
	CompanyID string
	Code      string
	EntryDate string
	Count     int
	Signer    string
}

// RecordEntry persists a single visit. The company code attestation is the
// only authorization check for entry creation; it is a shared secret the
// counter staff reads off the visitor's card, not a credential.
func (s *EntryService) RecordEntry(session *models.Session, input RecordEntryInput) (string, error) {
	if _, err := time.Parse("2006-01-02", input.EntryDate); err != nil {
		return "", fmt.Errorf("invalid entry date %q: %w", input.EntryDate, err)
	}
	if input.Count < 1 || input.Count > 20 {
		return "", fmt.Errorf("count %d out of range [1, 20]", input.Count)
	}

	var company models.Company
	err := s.db.QueryRow(
		"SELECT id, name, code FROM company WHERE id = $1",
		input.CompanyID,
	).Scan(&company.ID, &company.Name, &company.Code)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrCompanyNotFound
		}
		return "", fmt.Errorf("loading company: %w", err)
	}

	if company.Code != input.Code {
		return "", ErrCodeMismatch
	}

	entryID := uuid.NewString()
	signer := strings.TrimSpace(input.Signer)
	// Cap counts characters, not bytes; signer names are often Korean.
	if r := []rune(signer); len(r) > 50 {
		signer = string(r[:50])
	}

	_, err = s.db.Exec(
		"INSERT INTO entry (id, company_id, entry_date, count, signer, is_paid, payment_id, created_by, created_at) VALUES ($1, $2, $3, $4, $5, FALSE, NULL, $6, $7)",
		entryID, input.CompanyID, input.EntryDate, input.Count, nullString(signer), session.UserID, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting entry: %w", err)
	}

	invalidateVisitStats(s.redis)
	s.audit.Record(session, "entry_created",
		fmt.Sprintf("Visit recorded: %s (%s) - %d guests", company.Name, company.Code, input.Count),
		map[string]any{
			"company_id": input.CompanyID,
			"entry_date": input.EntryDate,
			"count":      input.Count,
		})

	return entryID, nil
}

// Create records a visit for a company
// @Summary Record a visit
// @Description Record a headcount for a company on a date, authorized by the company code
// @Tags entries
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param request body object{companyId=string,code=string,entryDate=string,count=int,signer=string} true "Entry request"
// @Success 201 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /entries [post]
func (s *EntryService) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		CompanyID string `json:"companyId" validate:"required,uuid4"`
		Code      string `json:"code" validate:"required,len=4"`
		EntryDate string `json:"entryDate" validate:"required,datetime=2006-01-02"`
		Count     int    `json:"count" validate:"required,min=1,max=20"`
		Signer    string `json:"signer" validate:"omitempty,max=50"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entryID, err := s.RecordEntry(session, RecordEntryInput{
		CompanyID: req.CompanyID,
		Code:      req.Code,
		EntryDate: req.EntryDate,
		Count:     req.Count,
		Signer:    req.Signer,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCompanyNotFound):
			SendErrorResponse(w, "Company not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrCodeMismatch):
			SendErrorResponse(w, "Company code does not match", http.StatusForbidden, nil)
		default:
			log.Printf("[ENTRY] Failed to record entry: %v", err)
			SendErrorResponse(w, "Failed to record entry, please try again", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"entryId": entryID})
}

// entryRow is the listing shape joined with the company name.
type entryRow struct {
	models.Entry
	CompanyName string `json:"companyName"`
}

// List returns ledger entries
// @Summary List entries
// @Description Entries newest first, optionally filtered by company and paid-state
// @Tags entries
// @Produce json
// @Security SessionCookie
// @Param companyId query string false "Company filter"
// @Param unpaid query bool false "Only unpaid entries"
// @Success 200 {array} entryRow
// @Failure 500 {object} ErrorResponse
// @Router /entries [get]
func (s *EntryService) List(w http.ResponseWriter, r *http.Request) {
	query := `SELECT e.id, e.company_id, c.name, e.entry_date, e.count, e.signer, e.is_paid, e.payment_id, e.created_by, e.created_at
		FROM entry e JOIN company c ON c.id = e.company_id`
	args := []any{}
	conds := []string{}

	if companyID := r.URL.Query().Get("companyId"); companyID != "" {
		args = append(args, companyID)
		conds = append(conds, fmt.Sprintf("e.company_id = $%d", len(args)))
	}
	if r.URL.Query().Get("unpaid") == "true" {
		conds = append(conds, "e.is_paid = FALSE")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY e.entry_date DESC, e.created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[ENTRY] Failed to list entries: %v", err)
		SendErrorResponse(w, "Failed to load entries", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entries := []entryRow{}
	for rows.Next() {
		var (
			e         entryRow
			entryDate time.Time
			signer    sql.NullString
			paymentID sql.NullString
			createdBy sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.CompanyName, &entryDate, &e.Count, &signer, &e.IsPaid, &paymentID, &createdBy, &e.CreatedAt); err != nil {
			log.Printf("[ENTRY] Failed to scan entry row: %v", err)
			SendErrorResponse(w, "Failed to load entries", http.StatusInternalServerError, nil)
			return
		}
		e.EntryDate = entryDate.Format("2006-01-02")
		e.Signer = signer.String
		e.CreatedBy = createdBy.String
		if paymentID.Valid {
			e.PaymentID = &paymentID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ENTRY] Entry row iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Delete removes an unsettled entry
// @Summary Delete an entry
// @Description Admin only; settled entries are immutable and cannot be deleted
// @Tags entries
// @Produce json
// @Security SessionCookie
// @Param entryId path string true "Entry ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /entries/{entryId} [delete]
func (s *EntryService) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entryID := chi.URLParam(r, "entryId")
	if _, err := uuid.Parse(entryID); err != nil {
		SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	companyID, err := s.removeEntry(entryID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEntryNotFound):
			SendErrorResponse(w, "Entry not found", http.StatusNotFound, nil)
		case errors.Is(err, ErrEntrySettled):
			SendErrorResponse(w, "Settled entries cannot be deleted", http.StatusConflict, nil)
		default:
			log.Printf("[ENTRY] Failed to delete entry %s: %v", entryID, err)
			SendErrorResponse(w, "Failed to delete entry", http.StatusInternalServerError, nil)
		}
		return
	}

	invalidateVisitStats(s.redis)
	s.audit.Record(session, "entry_deleted", "Entry deleted", map[string]any{
		"entry_id":   entryID,
		"company_id": companyID,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Entry deleted"})
}

// removeEntry deletes an unsettled entry and reports which company it
// belonged to. Settled entries are immutable; the conditional delete keeps
// the paid check and the removal in one statement.
func (s *EntryService) removeEntry(entryID string) (string, error) {
	var companyID string
	err := s.db.QueryRow("SELECT company_id FROM entry WHERE id = $1", entryID).Scan(&companyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrEntryNotFound
		}
		return "", fmt.Errorf("loading entry: %w", err)
	}

	result, err := s.db.Exec("DELETE FROM entry WHERE id = $1 AND is_paid = FALSE", entryID)
	if err != nil {
		return "", fmt.Errorf("deleting entry: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return "", ErrEntrySettled
	}
	return companyID, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
