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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/clubpoint/backend/internal/database"
	mW "github.com/clubpoint/backend/internal/middleware"
	"github.com/clubpoint/backend/internal/services"
)

// @title Clubpoint Booking API
// @version 1.0
// @description Booking backend for a chain of gaming-club venues
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_minutes", "JWT_EXPIRY_MINUTES")
	viper.BindEnv("jwt.refresh_expiry_days", "JWT_REFRESH_EXPIRY_DAYS")

	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("otp.expiry_minutes", "OTP_EXPIRY_MINUTES")
	viper.BindEnv("sms.auth_url", "SMS_AUTH_URL")
	viper.BindEnv("sms.send_url", "SMS_SEND_URL")
	viper.BindEnv("sms.username", "SMS_USERNAME")
	viper.BindEnv("sms.password", "SMS_PASSWORD")
	viper.BindEnv("sms.sender", "SMS_SENDER")

	viper.BindEnv("cleanup.unverified_max_age_hours", "CLEANUP_UNVERIFIED_MAX_AGE_HOURS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	authService := services.NewAuthService(db, redisClient)
	otpService := services.NewOTPService(db, redisClient)
	userService := services.NewUserService(db)
	ledgerService := services.NewLedgerService(db)
	bookingService := services.NewBookingService(db)
	catalogService := services.NewCatalogService(db)
	cleanupService := services.NewCleanupService(db)

	mW.InitAuthMiddleware(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanupService.Run(ctx)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
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

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/refresh", authService.Refresh)
		r.Post("/auth/logout", authService.Logout)
		r.Post("/auth/otp", otpService.RequestOTP)
		r.Post("/auth/verify", otpService.VerifyOTP)

		r.Get("/branches", catalogService.ListBranches)
		r.Get("/branches/{branchId}", catalogService.GetBranch)
		r.Get("/zones", catalogService.ListZones)
		r.Get("/zones/{zoneId}", catalogService.GetZone)
		r.Get("/places", catalogService.ListPlaces)
		r.Get("/places/{placeId}", catalogService.GetPlace)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/users", userService.ListUsers)
			r.Get("/users/{userId}", userService.GetUser)
			r.Patch("/users/{userId}", userService.UpdateUser)

			r.Get("/balance", ledgerService.GetBalance)
			r.Post("/balance/topup", ledgerService.TopUpBalance)
			r.Get("/transactions", ledgerService.TransactionHistory)

			r.Post("/bookings", bookingService.CreateBooking)
			r.Get("/bookings", bookingService.ListBookings)
			r.Get("/bookings/{bookingId}", bookingService.GetBooking)
			r.Patch("/bookings/{bookingId}", bookingService.UpdateBooking)
			r.Delete("/bookings/{bookingId}", bookingService.DeleteBooking)
			r.Get("/bookings/{bookingId}/qr", bookingService.BookingQR)

			r.Post("/branches", catalogService.CreateBranch)
			r.Put("/branches/{branchId}", catalogService.UpdateBranch)
			r.Delete("/branches/{branchId}", catalogService.DeleteBranch)
			r.Post("/zones", catalogService.CreateZone)
			r.Put("/zones/{zoneId}", catalogService.UpdateZone)
			r.Delete("/zones/{zoneId}", catalogService.DeleteZone)
			r.Post("/places", catalogService.CreatePlace)
			r.Put("/places/{placeId}", catalogService.UpdatePlace)
			r.Delete("/places/{placeId}", catalogService.DeletePlace)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
