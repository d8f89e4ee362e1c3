package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/ongiapp/backend/internal/models"
)

func TestAuditService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)
	session := &models.Session{UserID: "op-1", Role: models.RoleCounter, Name: "Front Desk"}

	t.Run("event persisted with metadata", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_log").
			WithArgs(sqlmock.AnyArg(), "entry_created", "Visit recorded", "op-1", "Front Desk", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		service.Record(session, "entry_created", "Visit recorded", map[string]any{"count": 4})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure is swallowed", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_log").
			WillReturnError(assert.AnError)

		service.Record(session, "entry_created", "Visit recorded", nil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil session dropped without a write", func(t *testing.T) {
		service.Record(nil, "entry_created", "Visit recorded", nil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditService_ListLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)
	columns := []string{"id", "action", "description", "user_id", "user_name", "metadata", "created_at"}

	t.Run("logs returned newest first", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, action, description, user_id, user_name, metadata, created_at FROM audit_log").
			WithArgs(50, 0).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("log-2", "payment_completed", "Settled Hanil Machinery", "op-1", "Front Desk", []byte(`{"total_amount":160000}`), time.Now()).
				AddRow("log-1", "entry_created", "Visit recorded", "op-1", "Front Desk", nil, time.Now()))

		req := httptest.NewRequest("GET", "/api/v1/audit-logs", nil)
		w := httptest.NewRecorder()
		service.ListLogs(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var logs []models.AuditLog
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
		assert.Len(t, logs, 2)
		assert.Equal(t, "payment_completed", logs[0].Action)
		assert.EqualValues(t, 160000, logs[0].Metadata["total_amount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit clamped to the page cap", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, action, description, user_id, user_name, metadata, created_at FROM audit_log").
			WithArgs(50, 0).
			WillReturnRows(sqlmock.NewRows(columns))

		req := httptest.NewRequest("GET", "/api/v1/audit-logs?limit=9999", nil)
		w := httptest.NewRecorder()
		service.ListLogs(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
