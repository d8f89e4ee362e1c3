package models

import "time"

// Payment is the settlement record covering an inclusive billing period
// [FromDate, ToDate]. TotalAmount is TotalCount * UnitPrice; it is persisted
// but always recomputed from the constituent entries at settlement time.
type Payment struct {
	ID          string    `json:"id" db:"id"`
	CompanyID   string    `json:"companyId" db:"company_id"`
	FromDate    string    `json:"fromDate" db:"from_date"` // YYYY-MM-DD
	ToDate      string    `json:"toDate" db:"to_date"`     // YYYY-MM-DD
	TotalCount  int       `json:"totalCount" db:"total_count"`
	UnitPrice   int       `json:"unitPrice" db:"unit_price"`
	TotalAmount int       `json:"totalAmount" db:"total_amount"`
	PaidAt      time.Time `json:"paidAt" db:"paid_at"`
	PaidBy      string    `json:"paidBy" db:"paid_by"`
	ReceiptURL  *string   `json:"receiptUrl,omitempty" db:"receipt_url"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Receipt is the file reference attached to at most one payment.
type Receipt struct {
	ID         string    `json:"id" db:"id"`
	PaymentID  string    `json:"paymentId" db:"payment_id"`
	FilePath   string    `json:"filePath" db:"file_path"`
	UploadedBy string    `json:"uploadedBy" db:"uploaded_by"`
	UploadedAt time.Time `json:"uploadedAt" db:"uploaded_at"`
}
