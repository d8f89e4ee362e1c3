package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ongiapp/backend/internal/middleware"
)

// visitStatsCacheKey caches the admin dashboard aggregates. Every entry or
// settlement write deletes it so the next read re-aggregates.
const visitStatsCacheKey = "stats:visits"

const visitStatsCacheTTL = 60 * time.Second

type StatsService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewStatsService(db *sql.DB, redisClient *redis.Client) *StatsService {
	return &StatsService{db: db, redis: redisClient}
}

// CompanyStats aggregates today's and the current month's headcounts.
type CompanyStats struct {
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName"`
	TodayCount  int    `json:"todayCount"`
	MonthCount  int    `json:"monthCount"`
}

// VisitStats returns per-company visit aggregates
// @Summary Visit statistics
// @Description Today's and this month's headcount per company, busiest first
// @Tags stats
// @Produce json
// @Security SessionCookie
// @Success 200 {array} CompanyStats
// @Failure 500 {object} ErrorResponse
// @Router /stats/visits [get]
func (s *StatsService) VisitStats(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		cached, err := s.redis.Get(r.Context(), visitStatsCacheKey).Result()
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
		if err != redis.Nil {
			log.Printf("[STATS] Cache read failed: %v", err)
		}
	}

	stats, err := s.aggregateVisits()
	if err != nil {
		log.Printf("[STATS] Failed to aggregate visits: %v", err)
		SendErrorResponse(w, "Failed to load statistics", http.StatusInternalServerError, nil)
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		SendErrorResponse(w, "Failed to load statistics", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(r.Context(), visitStatsCacheKey, payload, visitStatsCacheTTL).Err(); err != nil {
			log.Printf("[STATS] Cache write failed: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *StatsService) aggregateVisits() ([]CompanyStats, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.name,
			COALESCE(SUM(e.count) FILTER (WHERE e.entry_date = CURRENT_DATE), 0) AS today_count,
			COALESCE(SUM(e.count), 0) AS month_count
		FROM company c
		JOIN entry e ON e.company_id = c.id
		WHERE e.entry_date >= date_trunc('month', CURRENT_DATE)::date
			AND e.entry_date <= CURRENT_DATE
		GROUP BY c.id, c.name
		ORDER BY today_count DESC, c.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []CompanyStats{}
	for rows.Next() {
		var cs CompanyStats
		if err := rows.Scan(&cs.CompanyID, &cs.CompanyName, &cs.TodayCount, &cs.MonthCount); err != nil {
			return nil, err
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}

type paymentRow struct {
	ID          string  `json:"id"`
	CompanyID   string  `json:"companyId"`
	CompanyName string  `json:"companyName"`
	FromDate    string  `json:"fromDate"`
	ToDate      string  `json:"toDate"`
	TotalCount  int     `json:"totalCount"`
	UnitPrice   int     `json:"unitPrice"`
	TotalAmount int     `json:"totalAmount"`
	PaidAt      string  `json:"paidAt"`
	HasReceipt  bool    `json:"hasReceipt"`
	ReceiptPath *string `json:"-"`
}

// ListPayments returns settlement records
// @Summary List payments
// @Description Payments newest first, optionally filtered by company
// @Tags payments
// @Produce json
// @Security SessionCookie
// @Param companyId query string false "Company filter"
// @Success 200 {array} paymentRow
// @Failure 500 {object} ErrorResponse
// @Router /payments [get]
func (s *StatsService) ListPayments(w http.ResponseWriter, r *http.Request) {
	query := `SELECT p.id, p.company_id, c.name, p.from_date, p.to_date, p.total_count, p.unit_price, p.total_amount, p.paid_at, p.receipt_url
		FROM payment p JOIN company c ON c.id = p.company_id`
	args := []any{}
	if companyID := r.URL.Query().Get("companyId"); companyID != "" {
		query += " WHERE p.company_id = $1"
		args = append(args, companyID)
	}
	query += " ORDER BY p.to_date DESC, p.paid_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[STATS] Failed to list payments: %v", err)
		SendErrorResponse(w, "Failed to load payments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	payments := []paymentRow{}
	for rows.Next() {
		var (
			p           paymentRow
			fromDate    time.Time
			toDate      time.Time
			paidAt      time.Time
			receiptPath sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.CompanyName, &fromDate, &toDate, &p.TotalCount, &p.UnitPrice, &p.TotalAmount, &paidAt, &receiptPath); err != nil {
			log.Printf("[STATS] Failed to scan payment row: %v", err)
			SendErrorResponse(w, "Failed to load payments", http.StatusInternalServerError, nil)
			return
		}
		p.FromDate = fromDate.Format(dateLayout)
		p.ToDate = toDate.Format(dateLayout)
		p.PaidAt = paidAt.Format(time.RFC3339)
		p.HasReceipt = receiptPath.Valid && receiptPath.String != ""
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[STATS] Payment row iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load payments", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payments)
}

type paymentDetailEntry struct {
	ID        string `json:"id"`
	EntryDate string `json:"entryDate"`
	Count     int    `json:"count"`
	Signer    string `json:"signer,omitempty"`
	Amount    int    `json:"amount"`
}

type paymentDetail struct {
	paymentRow
	Entries []paymentDetailEntry `json:"entries"`
}

// PaymentDetail returns one payment with its constituent entries
// @Summary Payment detail
// @Description The payment record plus every entry it settled, admin only
// @Tags payments
// @Produce json
// @Security SessionCookie
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} paymentDetail
// @Failure 404 {object} ErrorResponse
// @Router /payments/{paymentId} [get]
func (s *StatsService) PaymentDetail(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFrom(r.Context()); !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if _, err := uuid.Parse(paymentID); err != nil {
		SendErrorResponse(w, "Invalid payment id", http.StatusBadRequest, nil)
		return
	}

	var (
		detail      paymentDetail
		fromDate    time.Time
		toDate      time.Time
		paidAt      time.Time
		receiptPath sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT p.id, p.company_id, c.name, p.from_date, p.to_date, p.total_count, p.unit_price, p.total_amount, p.paid_at, p.receipt_url
		FROM payment p JOIN company c ON c.id = p.company_id WHERE p.id = $1`,
		paymentID,
	).Scan(&detail.ID, &detail.CompanyID, &detail.CompanyName, &fromDate, &toDate, &detail.TotalCount, &detail.UnitPrice, &detail.TotalAmount, &paidAt, &receiptPath)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Payment not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[STATS] Failed to load payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Failed to load payment", http.StatusInternalServerError, nil)
		return
	}
	detail.FromDate = fromDate.Format(dateLayout)
	detail.ToDate = toDate.Format(dateLayout)
	detail.PaidAt = paidAt.Format(time.RFC3339)
	detail.HasReceipt = receiptPath.Valid && receiptPath.String != ""

	rows, err := s.db.Query(
		"SELECT id, entry_date, count, signer FROM entry WHERE payment_id = $1 ORDER BY entry_date ASC",
		paymentID,
	)
	if err != nil {
		log.Printf("[STATS] Failed to load entries for payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Failed to load payment", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	detail.Entries = []paymentDetailEntry{}
	for rows.Next() {
		var (
			e         paymentDetailEntry
			entryDate time.Time
			signer    sql.NullString
		)
		if err := rows.Scan(&e.ID, &entryDate, &e.Count, &signer); err != nil {
			log.Printf("[STATS] Failed to scan payment entry: %v", err)
			SendErrorResponse(w, "Failed to load payment", http.StatusInternalServerError, nil)
			return
		}
		e.EntryDate = entryDate.Format(dateLayout)
		e.Signer = signer.String
		e.Amount = e.Count * detail.UnitPrice
		detail.Entries = append(detail.Entries, e)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[STATS] Payment entry iteration failed: %v", err)
		SendErrorResponse(w, "Failed to load payment", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// invalidateVisitStats drops the cached aggregates after any entry,
// settlement, or company mutation. Presentation-only: failures are logged
// and never fail the write that triggered them.
func invalidateVisitStats(redisClient *redis.Client) {
	if redisClient == nil {
		return
	}
	if err := redisClient.Del(context.Background(), visitStatsCacheKey).Err(); err != nil && err != redis.Nil {
		log.Printf("[STATS] Failed to invalidate cache: %v", err)
	}
}
