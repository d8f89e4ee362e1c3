package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ongiapp/backend/internal/models"
)

// AuditService keeps an append-only record of operator actions. Recording is
// best-effort: a failed insert is logged and swallowed so it can never block
// or fail the action being recorded.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) Record(session *models.Session, action, description string, metadata map[string]any) {
	if session == nil {
		log.Printf("[AUDIT] Dropping %q event without a session", action)
		return
	}

	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			log.Printf("[AUDIT] Failed to encode metadata for %q: %v", action, err)
			metaJSON = nil
		}
	}

	_, err := s.db.Exec(
		"INSERT INTO audit_log (id, action, description, user_id, user_name, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		uuid.NewString(), action, description, session.UserID, session.Name, metaJSON, time.Now(),
	)
	if err != nil {
		log.Printf("[AUDIT] Failed to record %q: %v", action, err)
	}
}

// ListLogs returns recent audit events, newest first
// @Summary List audit logs
// @Description Paginated audit trail, admin only
// @Tags audit
// @Produce json
// @Security SessionCookie
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Offset"
// @Success 200 {array} models.AuditLog
// @Failure 500 {object} ErrorResponse
// @Router /audit-logs [get]
func (s *AuditService) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		"SELECT id, action, description, user_id, user_name, metadata, created_at FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset,
	)
	if err != nil {
		log.Printf("[AUDIT] Failed to list logs: %v", err)
		SendErrorResponse(w, "Failed to load audit logs", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var (
			entry    models.AuditLog
			userID   sql.NullString
			userName sql.NullString
			metaJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Description, &userID, &userName, &metaJSON, &entry.CreatedAt); err != nil {
			log.Printf("[AUDIT] Failed to scan log row: %v", err)
			SendErrorResponse(w, "Failed to load audit logs", http.StatusInternalServerError, nil)
			return
		}
		entry.UserID = userID.String
		entry.UserName = userName.String
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Metadata); err != nil {
				log.Printf("[AUDIT] Bad metadata on log %s: %v", entry.ID, err)
			}
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[AUDIT] Log row iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load audit logs", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
