package models

import "time"

// Entry is one recorded visit: a headcount for a company on a calendar date.
// Once settled (IsPaid set) the entry is owned by exactly one payment and is
// never re-selected into another settlement.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"companyId" db:"company_id"`
	EntryDate string    `json:"entryDate" db:"entry_date"` // YYYY-MM-DD
	Count     int       `json:"count" db:"count"`
	Signer    string    `json:"signer,omitempty" db:"signer"`
	IsPaid    bool      `json:"isPaid" db:"is_paid"`
	PaymentID *string   `json:"paymentId,omitempty" db:"payment_id"`
	CreatedBy string    `json:"createdBy" db:"created_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
