package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
)

var adminSession = &models.Session{UserID: "admin-1", Role: models.RoleAdmin, Name: "Manager"}

func TestCompanyService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCompanyService(db, nil, NewAuditService(db))

	post := func(body map[string]any) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req := httptest.NewRequest("POST", "/api/v1/companies", bytes.NewBuffer(payload))
		req = req.WithContext(middleware.WithSession(req.Context(), adminSession))
		w := httptest.NewRecorder()
		service.Create(w, req)
		return w
	}

	t.Run("valid company created", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO company").
			WithArgs(sqlmock.AnyArg(), "Hanil Machinery", "4821", "Kim Cheol-su", nil, nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := post(map[string]any{
			"name":        "Hanil Machinery",
			"code":        "4821",
			"contactName": "Kim Cheol-su",
		})
		assert.Equal(t, http.StatusCreated, w.Code)

		var resp map[string]string
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["companyId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate code returns 409", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO company").
			WillReturnError(&pq.Error{Code: "23505"})

		w := post(map[string]any{"name": "Sejin Logistics", "code": "4821"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "already in use")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("code must be four characters", func(t *testing.T) {
		w := post(map[string]any{"name": "Sejin Logistics", "code": "12345"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing name rejected", func(t *testing.T) {
		w := post(map[string]any{"code": "4821"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompanyService_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCompanyService(db, nil, NewAuditService(db))
	companyID := "11111111-1111-4111-8111-111111111111"

	router := chi.NewRouter()
	router.Put("/companies/{companyId}", service.Update)

	put := func(body map[string]any) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req := httptest.NewRequest("PUT", "/companies/"+companyID, bytes.NewBuffer(payload))
		req = req.WithContext(middleware.WithSession(req.Context(), adminSession))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("existing company updated", func(t *testing.T) {
		mock.ExpectExec("UPDATE company SET name = \\$1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := put(map[string]any{"name": "Hanil Machinery", "code": "4821"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown company returns 404", func(t *testing.T) {
		mock.ExpectExec("UPDATE company SET name = \\$1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		w := put(map[string]any{"name": "Hanil Machinery", "code": "4821"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCompanyService_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCompanyService(db, nil, NewAuditService(db))
	companyID := "11111111-1111-4111-8111-111111111111"

	router := chi.NewRouter()
	router.Delete("/companies/{companyId}", service.Delete)

	doDelete := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("DELETE", "/companies/"+companyID, nil)
		req = req.WithContext(middleware.WithSession(req.Context(), adminSession))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("company and dependents deleted", func(t *testing.T) {
		mock.ExpectQuery("SELECT name, code FROM company WHERE id = \\$1").
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"name", "code"}).AddRow("Hanil Machinery", "4821"))
		mock.ExpectExec("DELETE FROM company WHERE id = \\$1").
			WithArgs(companyID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := doDelete()
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown company returns 404", func(t *testing.T) {
		mock.ExpectQuery("SELECT name, code FROM company WHERE id = \\$1").
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"name", "code"}))

		w := doDelete()
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCompanyService_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCompanyService(db, nil, NewAuditService(db))
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, code, contact_name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "contact_name", "contact_phone", "business_number", "address", "created_at", "updated_at"}).
			AddRow("co-1", "Hanil Machinery", "4821", "Kim Cheol-su", nil, nil, nil, now, now).
			AddRow("co-2", "Sejin Logistics", "7302", nil, nil, nil, nil, now, now))

	req := httptest.NewRequest("GET", "/api/v1/companies", nil)
	w := httptest.NewRecorder()
	service.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var companies []models.Company
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &companies))
	assert.Len(t, companies, 2)
	assert.Equal(t, "Hanil Machinery", companies[0].Name)
	assert.Empty(t, companies[1].ContactName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
