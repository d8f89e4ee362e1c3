package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ongiapp/backend/internal/config"
	"github.com/ongiapp/backend/internal/models"
	"github.com/ongiapp/backend/internal/storage"
)

var (
	ErrNoEntries       = errors.New("no entries selected")
	ErrEntriesNotFound = errors.New("selected entries not found")
	ErrAlreadySettled  = errors.New("entry already settled")
	ErrMixedCompany    = errors.New("entries span multiple companies")
	ErrToDateTooEarly  = errors.New("to-date earlier than the latest entry date")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNoReceipt       = errors.New("payment has no receipt")
	ErrReceiptUpload   = errors.New("receipt upload failed")
	ErrSignURL         = errors.New("could not sign receipt url")
)

const dateLayout = "2006-01-02"

// SettlementService converts batches of unpaid entries into payments. It is
// the only component that flips an entry's paid-state.
type SettlementService struct {
	db    *sql.DB
	redis *redis.Client
	store storage.Store
	audit *AuditService
	cfg   *config.SettlementConfig
}

func NewSettlementService(db *sql.DB, redisClient *redis.Client, store storage.Store, audit *AuditService, cfg *config.SettlementConfig) *SettlementService {
	return &SettlementService{
		db:    db,
		redis: redisClient,
		store: store,
		audit: audit,
		cfg:   cfg,
	}
}

// SettlementProposal is the editable default billing period shown to the
// operator before they confirm.
type SettlementProposal struct {
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName"`
	FromDate    string `json:"fromDate"`
	ToDate      string `json:"toDate"`
	TotalCount  int    `json:"totalCount"`
	UnitPrice   int    `json:"unitPrice"`
}

type settleEntry struct {
	ID          string
	CompanyID   string
	CompanyName string
	EntryDate   time.Time
	Count       int
	IsPaid      bool
}

// loadEntries resolves the selected ids against current persisted state and
// enforces the selection invariants: at least one entry resolves, none is
// already settled, and all belong to one company.
func (s *SettlementService) loadEntries(entryIDs []string) ([]settleEntry, error) {
	if len(entryIDs) == 0 {
		return nil, ErrNoEntries
	}

	rows, err := s.db.Query(
		"SELECT e.id, e.company_id, c.name, e.entry_date, e.count, e.is_paid FROM entry e JOIN company c ON c.id = e.company_id WHERE e.id = ANY($1)",
		pq.Array(entryIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	defer rows.Close()

	entries := []settleEntry{}
	for rows.Next() {
		var e settleEntry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.CompanyName, &e.EntryDate, &e.Count, &e.IsPaid); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	if len(entries) == 0 {
		return nil, ErrEntriesNotFound
	}
	// A settled entry anywhere in the selection trumps the company check.
	for _, e := range entries {
		if e.IsPaid {
			return nil, ErrAlreadySettled
		}
	}
	for _, e := range entries {
		if e.CompanyID != entries[0].CompanyID {
			return nil, ErrMixedCompany
		}
	}
	return entries, nil
}

// resolveFromDate derives the billing period start: the day after the
// previous payment's end date, or the earliest selected entry date when the
// company has never been settled. UTC date arithmetic, no timezone drift.
func (s *SettlementService) resolveFromDate(companyID string, entries []settleEntry) (time.Time, error) {
	var lastToDate time.Time
	err := s.db.QueryRow(
		"SELECT to_date FROM payment WHERE company_id = $1 ORDER BY to_date DESC LIMIT 1",
		companyID,
	).Scan(&lastToDate)
	if err == nil {
		d := lastToDate.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1), nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("loading previous payment: %w", err)
	}

	earliest := entries[0].EntryDate
	for _, e := range entries[1:] {
		if e.EntryDate.Before(earliest) {
			earliest = e.EntryDate
		}
	}
	d := earliest.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
}

// Prepare computes default billing parameters for a tentative selection
// without mutating any state. Calling it twice with the same selection and
// no intervening commits yields the same fromDate and totalCount.
func (s *SettlementService) Prepare(entryIDs []string) (*SettlementProposal, error) {
	entries, err := s.loadEntries(entryIDs)
	if err != nil {
		return nil, err
	}

	companyID := entries[0].CompanyID
	fromDate, err := s.resolveFromDate(companyID, entries)
	if err != nil {
		return nil, err
	}

	totalCount := 0
	for _, e := range entries {
		totalCount += e.Count
	}

	return &SettlementProposal{
		CompanyID:   companyID,
		CompanyName: entries[0].CompanyName,
		FromDate:    fromDate.Format(dateLayout),
		ToDate:      time.Now().UTC().Format(dateLayout),
		TotalCount:  totalCount,
		UnitPrice:   s.cfg.DefaultUnitPrice,
	}, nil
}

// ReceiptUpload is an optional file attached at completion time.
type ReceiptUpload struct {
	File        io.Reader
	Extension   string
	ContentType string
}

// CompleteInput carries the operator-confirmed settlement parameters. The
// period start is never taken from the client; it is recomputed at commit.
type CompleteInput struct {
	EntryIDs  []string
	ToDate    string
	UnitPrice int
	Receipt   *ReceiptUpload
}

// CompletionResult reports the persisted payment and a confirmation message.
type CompletionResult struct {
	PaymentID   string `json:"paymentId"`
	TotalCount  int    `json:"totalCount"`
	TotalAmount int    `json:"totalAmount"`
	Message     string `json:"message"`
}

// Complete finalizes a settlement. The payment insert and the paid-flag
// flips commit in one transaction; the flip is guarded with a conditional
// update so a concurrent settlement racing on the same entries loses with
// ErrAlreadySettled instead of double-booking. The receipt upload runs after
// commit: if it fails the payment stands and the operator reconciles.
func (s *SettlementService) Complete(session *models.Session, input CompleteInput) (*CompletionResult, error) {
	toDate, err := time.ParseInLocation(dateLayout, input.ToDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid to-date %q: %w", input.ToDate, err)
	}
	if input.UnitPrice < 0 {
		return nil, fmt.Errorf("unit price must not be negative")
	}

	entries, err := s.loadEntries(input.EntryIDs)
	if err != nil {
		return nil, err
	}

	companyID := entries[0].CompanyID
	companyName := entries[0].CompanyName

	latest := entries[0].EntryDate
	totalCount := 0
	for _, e := range entries {
		if e.EntryDate.After(latest) {
			latest = e.EntryDate
		}
		totalCount += e.Count
	}
	if toDate.Before(time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, time.UTC)) {
		return nil, ErrToDateTooEarly
	}

	fromDate, err := s.resolveFromDate(companyID, entries)
	if err != nil {
		return nil, err
	}

	totalAmount := totalCount * input.UnitPrice
	paymentID := uuid.NewString()
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting settlement transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO payment (id, company_id, from_date, to_date, total_count, unit_price, total_amount, paid_at, paid_by, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		paymentID, companyID, fromDate.Format(dateLayout), input.ToDate, totalCount, input.UnitPrice, totalAmount, now, session.UserID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting payment: %w", err)
	}

	// Conditional update: an entry settled since loadEntries makes the
	// affected-rows count fall short and the whole settlement aborts.
	result, err := tx.Exec(
		"UPDATE entry SET is_paid = TRUE, payment_id = $1 WHERE id = ANY($2) AND is_paid = FALSE",
		paymentID, pq.Array(input.EntryIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("updating entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking entry update: %w", err)
	}
	if affected != int64(len(entries)) {
		return nil, ErrAlreadySettled
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}

	invalidateVisitStats(s.redis)

	message := fmt.Sprintf("Settlement complete: %d guests at %d per guest, total %d", totalCount, input.UnitPrice, totalAmount)

	if input.Receipt != nil {
		if err := s.attachReceipt(session, paymentID, companyID, input.Receipt); err != nil {
			log.Printf("[SETTLE] Receipt attach failed for payment %s: %v", paymentID, err)
			return nil, fmt.Errorf("%w (payment %s is recorded)", ErrReceiptUpload, paymentID)
		}
		message += "; receipt attached"
	}

	s.audit.Record(session, "payment_completed",
		fmt.Sprintf("Settled %s: %d guests, total %d", companyName, totalCount, totalAmount),
		map[string]any{
			"payment_id":   paymentID,
			"company_id":   companyID,
			"total_count":  totalCount,
			"unit_price":   input.UnitPrice,
			"total_amount": totalAmount,
			"from_date":    fromDate.Format(dateLayout),
			"to_date":      input.ToDate,
			"has_receipt":  input.Receipt != nil,
		})

	return &CompletionResult{
		PaymentID:   paymentID,
		TotalCount:  totalCount,
		TotalAmount: totalAmount,
		Message:     message,
	}, nil
}

// attachReceipt stores the file and links it to the already-committed
// payment. Created at most once per payment, immutable afterward.
func (s *SettlementService) attachReceipt(session *models.Session, paymentID, companyID string, receipt *ReceiptUpload) error {
	ext := receipt.Extension
	if ext == "" {
		ext = "jpg"
	}
	filePath := fmt.Sprintf("%s/%s.%s", companyID, paymentID, ext)

	if err := s.store.Upload(context.Background(), filePath, receipt.File); err != nil {
		return fmt.Errorf("storing receipt: %w", err)
	}

	if _, err := s.db.Exec(
		"INSERT INTO receipt (id, payment_id, file_path, uploaded_by, uploaded_at) VALUES ($1, $2, $3, $4, $5)",
		uuid.NewString(), paymentID, filePath, session.UserID, time.Now(),
	); err != nil {
		return fmt.Errorf("inserting receipt row: %w", err)
	}

	if _, err := s.db.Exec(
		"UPDATE payment SET receipt_url = $1 WHERE id = $2",
		filePath, paymentID,
	); err != nil {
		return fmt.Errorf("linking receipt to payment: %w", err)
	}
	return nil
}

// ReceiptURL issues a short-lived signed access URL for a payment's receipt.
func (s *SettlementService) ReceiptURL(paymentID string) (string, error) {
	var receiptPath sql.NullString
	err := s.db.QueryRow("SELECT receipt_url FROM payment WHERE id = $1", paymentID).Scan(&receiptPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrPaymentNotFound
		}
		return "", fmt.Errorf("loading payment: %w", err)
	}
	if !receiptPath.Valid || receiptPath.String == "" {
		return "", ErrNoReceipt
	}

	url, err := s.store.SignedURL(receiptPath.String, s.cfg.ReceiptURLTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignURL, err)
	}
	return url, nil
}
