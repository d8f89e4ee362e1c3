package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ongiapp/backend/internal/config"
	"github.com/ongiapp/backend/internal/database"
	"github.com/ongiapp/backend/internal/handlers"
	mW "github.com/ongiapp/backend/internal/middleware"
	"github.com/ongiapp/backend/internal/models"
	"github.com/ongiapp/backend/internal/services"
	"github.com/ongiapp/backend/internal/storage"
)

// @title Buffet Ledger Backend API
// @version 1.0
// @description Visit ledger and settlement API for a buffet restaurant
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("session.secret_key", "SESSION_SECRET_KEY")
	viper.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	viper.BindEnv("server.env", "SERVER_ENV")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	sessionCfg := config.LoadSessionConfig()
	settlementCfg := config.LoadSettlementConfig()
	storageCfg := config.LoadStorageConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	receiptStore := storage.NewDiskStore(storageCfg.ReceiptsDir, storageCfg.BaseURL)

	auditService := services.NewAuditService(db)
	sessionService := services.NewSessionService(db, sessionCfg)
	entryService := services.NewEntryService(db, redisClient, auditService)
	settlementService := services.NewSettlementService(db, redisClient, receiptStore, auditService, settlementCfg)
	settlementHandler := handlers.NewSettlementHandler(settlementService)
	companyService := services.NewCompanyService(db, redisClient, auditService)
	statsService := services.NewStatsService(db, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Signed receipt downloads
	r.Get("/receipts/*", receiptStore.ServeHTTP)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no session required)
		r.Post("/auth/login", sessionService.Login)
		r.Post("/auth/logout", sessionService.Logout)
		r.Get("/auth/users", sessionService.ListUsers)

		// Protected endpoints (session required)
		r.Group(func(r chi.Router) {
			r.Use(mW.SessionMiddleware(sessionCfg))

			r.Get("/auth/session", sessionService.CurrentSession)

			r.Get("/companies", companyService.List)

			r.Post("/entries", entryService.Create)
			r.Get("/entries", entryService.List)

			r.Post("/settlements/prepare", settlementHandler.Prepare)
			r.Post("/settlements", settlementHandler.Complete)
			r.Get("/payments", statsService.ListPayments)
			r.Get("/payments/{paymentId}/receipt-url", settlementHandler.ReceiptURL)

			r.Get("/stats/visits", statsService.VisitStats)

			// Admin-only endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Post("/companies", companyService.Create)
				r.Put("/companies/{companyId}", companyService.Update)
				r.Delete("/companies/{companyId}", companyService.Delete)

				r.Delete("/entries/{entryId}", entryService.Delete)

				r.Get("/payments/{paymentId}", statsService.PaymentDetail)

				r.Get("/audit-logs", auditService.ListLogs)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
