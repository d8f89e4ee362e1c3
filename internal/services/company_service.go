package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
)

type CompanyService struct {
	db        *sql.DB
	redis     *redis.Client
	audit     *AuditService
	validator *ValidationHelper
}

func NewCompanyService(db *sql.DB, redisClient *redis.Client, audit *AuditService) *CompanyService {
	return &CompanyService{
		db:        db,
		redis:     redisClient,
		audit:     audit,
		validator: NewValidationHelper(),
	}
}

// CompanyRequest is the create/update payload
// @Description Company form fields
type CompanyRequest struct {
	Name           string `json:"name" validate:"required,min=1,max=100"`
	Code           string `json:"code" validate:"required,len=4"`
	ContactName    string `json:"contactName" validate:"omitempty,max=50"`
	ContactPhone   string `json:"contactPhone" validate:"omitempty,max=30"`
	BusinessNumber string `json:"businessNumber" validate:"omitempty,max=20"`
	Address        string `json:"address" validate:"omitempty,max=200"`
}

func (s *CompanyService) decodeCompanyRequest(w http.ResponseWriter, r *http.Request) (*CompanyRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CompanyRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create registers a client company
// @Summary Create company
// @Description Register a company with its 4-digit code, admin only
// @Tags companies
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param request body CompanyRequest true "Company fields"
// @Success 201 {object} map[string]string
// @Failure 409 {object} ErrorResponse "Code already in use"
// @Router /companies [post]
func (s *CompanyService) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, ok := s.decodeCompanyRequest(w, r)
	if !ok {
		return
	}

	companyID := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		"INSERT INTO company (id, name, code, contact_name, contact_phone, business_number, address, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)",
		companyID, req.Name, req.Code, nullString(req.ContactName), nullString(req.ContactPhone), nullString(req.BusinessNumber), nullString(req.Address), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Company code already in use", http.StatusConflict, nil)
			return
		}
		log.Printf("[COMPANY] Failed to create company: %v", err)
		SendErrorResponse(w, "Failed to create company", http.StatusInternalServerError, nil)
		return
	}

	s.audit.Record(session, "company_created",
		fmt.Sprintf("Company registered: %s (%s)", req.Name, req.Code),
		map[string]any{"company_id": companyID, "name": req.Name, "code": req.Code})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"companyId": companyID})
}

// Update edits a company
// @Summary Update company
// @Description Edit company fields, admin only
// @Tags companies
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param companyId path string true "Company ID"
// @Param request body CompanyRequest true "Company fields"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Code already in use"
// @Router /companies/{companyId} [put]
func (s *CompanyService) Update(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	companyID := chi.URLParam(r, "companyId")
	if _, err := uuid.Parse(companyID); err != nil {
		SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
		return
	}

	req, ok := s.decodeCompanyRequest(w, r)
	if !ok {
		return
	}

	result, err := s.db.Exec(
		"UPDATE company SET name = $1, code = $2, contact_name = $3, contact_phone = $4, business_number = $5, address = $6, updated_at = $7 WHERE id = $8",
		req.Name, req.Code, nullString(req.ContactName), nullString(req.ContactPhone), nullString(req.BusinessNumber), nullString(req.Address), time.Now(), companyID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Company code already in use", http.StatusConflict, nil)
			return
		}
		log.Printf("[COMPANY] Failed to update company %s: %v", companyID, err)
		SendErrorResponse(w, "Failed to update company", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Company not found", http.StatusNotFound, nil)
		return
	}

	s.audit.Record(session, "company_updated",
		fmt.Sprintf("Company updated: %s (%s)", req.Name, req.Code),
		map[string]any{"company_id": companyID, "name": req.Name, "code": req.Code})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Company updated"})
}

// Delete removes a company and everything that depends on it
// @Summary Delete company
// @Description Destructive: cascades to the company's entries, payments, and receipts
// @Tags companies
// @Produce json
// @Security SessionCookie
// @Param companyId path string true "Company ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /companies/{companyId} [delete]
func (s *CompanyService) Delete(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	companyID := chi.URLParam(r, "companyId")
	if _, err := uuid.Parse(companyID); err != nil {
		SendErrorResponse(w, "Invalid company id", http.StatusBadRequest, nil)
		return
	}

	var name, code string
	err := s.db.QueryRow("SELECT name, code FROM company WHERE id = $1", companyID).Scan(&name, &code)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Company not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[COMPANY] Failed to load company %s: %v", companyID, err)
		SendErrorResponse(w, "Failed to delete company", http.StatusInternalServerError, nil)
		return
	}

	// Dependent entries, payments, and receipts go with it (FK cascade).
	if _, err := s.db.Exec("DELETE FROM company WHERE id = $1", companyID); err != nil {
		log.Printf("[COMPANY] Failed to delete company %s: %v", companyID, err)
		SendErrorResponse(w, "Failed to delete company", http.StatusInternalServerError, nil)
		return
	}

	invalidateVisitStats(s.redis)
	s.audit.Record(session, "company_deleted",
		fmt.Sprintf("Company deleted: %s (%s)", name, code),
		map[string]any{"company_id": companyID, "name": name, "code": code})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Company deleted"})
}

// List returns all companies
// @Summary List companies
// @Description Companies ordered by name
// @Tags companies
// @Produce json
// @Security SessionCookie
// @Success 200 {array} models.Company
// @Failure 500 {object} ErrorResponse
// @Router /companies [get]
func (s *CompanyService) List(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(
		"SELECT id, name, code, contact_name, contact_phone, business_number, address, created_at, updated_at FROM company ORDER BY name ASC")
	if err != nil {
		log.Printf("[COMPANY] Failed to list companies: %v", err)
		SendErrorResponse(w, "Failed to load companies", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	companies := []models.Company{}
	for rows.Next() {
		var (
			c                         models.Company
			contactName, contactPhone sql.NullString
			businessNumber, address   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &contactName, &contactPhone, &businessNumber, &address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			log.Printf("[COMPANY] Failed to scan company row: %v", err)
			SendErrorResponse(w, "Failed to load companies", http.StatusInternalServerError, nil)
			return
		}
		c.ContactName = contactName.String
		c.ContactPhone = contactPhone.String
		c.BusinessNumber = businessNumber.String
		c.Address = address.String
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[COMPANY] Company row iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load companies", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(companies)
}
