package models

import "time"

// Company is a client business whose staff eat at the buffet. The 4-digit
// code doubles as the shared secret counter staff must quote when recording
// a visit for the company.
type Company struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Code           string    `json:"code" db:"code"`
	ContactName    string    `json:"contactName,omitempty" db:"contact_name"`
	ContactPhone   string    `json:"contactPhone,omitempty" db:"contact_phone"`
	BusinessNumber string    `json:"businessNumber,omitempty" db:"business_number"`
	Address        string    `json:"address,omitempty" db:"address"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
