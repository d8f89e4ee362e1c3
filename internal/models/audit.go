package models

import "time"

type AuditLog struct {
	ID          string         `json:"id" db:"id"`
	Action      string         `json:"action" db:"action"`
	Description string         `json:"description" db:"description"`
	UserID      string         `json:"userId" db:"user_id"`
	UserName    string         `json:"userName" db:"user_name"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
}
