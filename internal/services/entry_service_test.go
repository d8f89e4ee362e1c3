package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
)

const (
	companyByIDQuery = "SELECT id, name, code FROM company WHERE id = \\$1"
	insertEntryExec  = "INSERT INTO entry"
)

var testSession = &models.Session{UserID: "op-1", Role: models.RoleCounter, Name: "Front Desk"}

func TestEntryService_RecordEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	companyID := "11111111-1111-4111-8111-111111111111"
	companyRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "code"}).
			AddRow(companyID, "Hanil Machinery", "4821")
	}

	t.Run("valid entry persisted and the stats cache dropped", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewEntryService(db, redisClient, NewAuditService(db))

		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(companyRow())
		mock.ExpectExec(insertEntryExec).
			WithArgs(sqlmock.AnyArg(), companyID, "2024-05-02", 4, "Kim", "op-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		redisMock.ExpectDel("stats:visits").SetVal(1)
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		entryID, err := service.RecordEntry(testSession, RecordEntryInput{
			CompanyID: companyID,
			Code:      "4821",
			EntryDate: "2024-05-02",
			Count:     4,
			Signer:    "Kim",
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, entryID)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("multibyte signer capped at fifty characters, not bytes", func(t *testing.T) {
		service := NewEntryService(db, nil, NewAuditService(db))

		longSigner := strings.Repeat("김", 60)
		wantSigner := strings.Repeat("김", 50)

		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(companyRow())
		mock.ExpectExec(insertEntryExec).
			WithArgs(sqlmock.AnyArg(), companyID, "2024-05-02", 4, wantSigner, "op-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		_, err := service.RecordEntry(testSession, RecordEntryInput{
			CompanyID: companyID,
			Code:      "4821",
			EntryDate: "2024-05-02",
			Count:     4,
			Signer:    longSigner,
		})
		assert.NoError(t, err)
		assert.True(t, utf8.ValidString(wantSigner))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("code mismatch rejected", func(t *testing.T) {
		service := NewEntryService(db, nil, NewAuditService(db))

		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(companyRow())

		_, err := service.RecordEntry(testSession, RecordEntryInput{
			CompanyID: companyID,
			Code:      "0000",
			EntryDate: "2024-05-02",
			Count:     4,
		})
		assert.ErrorIs(t, err, ErrCodeMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown company rejected", func(t *testing.T) {
		service := NewEntryService(db, nil, NewAuditService(db))

		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}))

		_, err := service.RecordEntry(testSession, RecordEntryInput{
			CompanyID: companyID,
			Code:      "4821",
			EntryDate: "2024-05-02",
			Count:     4,
		})
		assert.ErrorIs(t, err, ErrCompanyNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("bad date rejected before any query", func(t *testing.T) {
		service := NewEntryService(db, nil, NewAuditService(db))

		_, err := service.RecordEntry(testSession, RecordEntryInput{
			CompanyID: companyID,
			Code:      "4821",
			EntryDate: "02/05/2024",
			Count:     4,
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("headcount bounds enforced", func(t *testing.T) {
		service := NewEntryService(db, nil, NewAuditService(db))

		for _, count := range []int{0, 21} {
			_, err := service.RecordEntry(testSession, RecordEntryInput{
				CompanyID: companyID,
				Code:      "4821",
				EntryDate: "2024-05-02",
				Count:     count,
			})
			assert.Error(t, err)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntryService_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEntryService(db, nil, NewAuditService(db))
	companyID := "11111111-1111-4111-8111-111111111111"

	post := func(body map[string]any) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		req := httptest.NewRequest("POST", "/api/v1/entries", bytes.NewBuffer(payload))
		req = req.WithContext(middleware.WithSession(req.Context(), testSession))
		w := httptest.NewRecorder()
		service.Create(w, req)
		return w
	}

	t.Run("valid request returns 201 with the entry id", func(t *testing.T) {
		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).
				AddRow(companyID, "Hanil Machinery", "4821"))
		mock.ExpectExec(insertEntryExec).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := post(map[string]any{
			"companyId": companyID,
			"code":      "4821",
			"entryDate": "2024-05-02",
			"count":     4,
			"signer":    "Kim",
		})
		assert.Equal(t, http.StatusCreated, w.Code)

		var resp map[string]string
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["entryId"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("code mismatch returns 403", func(t *testing.T) {
		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}).
				AddRow(companyID, "Hanil Machinery", "4821"))

		w := post(map[string]any{
			"companyId": companyID,
			"code":      "9999",
			"entryDate": "2024-05-02",
			"count":     4,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("headcount above the cap fails validation", func(t *testing.T) {
		w := post(map[string]any{
			"companyId": companyID,
			"code":      "4821",
			"entryDate": "2024-05-02",
			"count":     21,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown company returns 404", func(t *testing.T) {
		mock.ExpectQuery(companyByIDQuery).
			WithArgs(companyID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code"}))

		w := post(map[string]any{
			"companyId": companyID,
			"code":      "4821",
			"entryDate": "2024-05-02",
			"count":     4,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntryService_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEntryService(db, nil, NewAuditService(db))
	columns := []string{"id", "company_id", "name", "entry_date", "count", "signer", "is_paid", "payment_id", "created_by", "created_at"}

	t.Run("entries listed with company names and formatted dates", func(t *testing.T) {
		mock.ExpectQuery("SELECT e.id, e.company_id, c.name, e.entry_date").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("e1", "co-1", "Hanil Machinery", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), 4, "Kim", false, nil, "op-1", time.Now()).
				AddRow("e2", "co-1", "Hanil Machinery", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 2, nil, true, "p1", "op-1", time.Now()))

		req := httptest.NewRequest("GET", "/api/v1/entries", nil)
		w := httptest.NewRecorder()
		service.List(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var entries []map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
		assert.Len(t, entries, 2)
		assert.Equal(t, "2024-05-02", entries[0]["entryDate"])
		assert.Equal(t, "Hanil Machinery", entries[0]["companyName"])
		assert.Equal(t, true, entries[1]["isPaid"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("company and unpaid filters applied", func(t *testing.T) {
		mock.ExpectQuery("SELECT e.id, e.company_id, c.name, e.entry_date").
			WithArgs("co-2").
			WillReturnRows(sqlmock.NewRows(columns))

		req := httptest.NewRequest("GET", "/api/v1/entries?companyId=co-2&unpaid=true", nil)
		w := httptest.NewRecorder()
		service.List(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntryService_removeEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEntryService(db, nil, NewAuditService(db))
	entryID := "44444444-4444-4444-8444-444444444444"

	t.Run("unknown entry", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id FROM entry WHERE id = \\$1").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}))

		_, err := service.removeEntry(entryID)
		assert.ErrorIs(t, err, ErrEntryNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settled entry", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id FROM entry WHERE id = \\$1").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow("co-1"))
		mock.ExpectExec("DELETE FROM entry WHERE id = \\$1 AND is_paid = FALSE").
			WithArgs(entryID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := service.removeEntry(entryID)
		assert.ErrorIs(t, err, ErrEntrySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntryService_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEntryService(db, nil, NewAuditService(db))
	entryID := "44444444-4444-4444-8444-444444444444"

	router := chi.NewRouter()
	router.Delete("/entries/{entryId}", service.Delete)

	doDelete := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("DELETE", "/entries/"+entryID, nil)
		req = req.WithContext(middleware.WithSession(req.Context(), &models.Session{UserID: "admin-1", Role: models.RoleAdmin, Name: "Manager"}))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("unsettled entry deleted", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id FROM entry WHERE id = \\$1").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow("co-1"))
		mock.ExpectExec("DELETE FROM entry WHERE id = \\$1 AND is_paid = FALSE").
			WithArgs(entryID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := doDelete()
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settled entry is immutable", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id FROM entry WHERE id = \\$1").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow("co-1"))
		mock.ExpectExec("DELETE FROM entry WHERE id = \\$1 AND is_paid = FALSE").
			WithArgs(entryID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		w := doDelete()
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "Settled entries cannot be deleted")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown entry returns 404", func(t *testing.T) {
		mock.ExpectQuery("SELECT company_id FROM entry WHERE id = \\$1").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"company_id"}))

		w := doDelete()
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
