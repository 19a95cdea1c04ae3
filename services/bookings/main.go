package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/cache"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/diagnosis/campus-bookings/pkg/database"
	"github.com/diagnosis/campus-bookings/pkg/events"
	"github.com/diagnosis/campus-bookings/pkg/logger"
	mw "github.com/diagnosis/campus-bookings/pkg/middleware"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/handlers"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stdout, cfg.Server.LogLevel))

	// Connect to database
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Connect to Redis for idempotency keys
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	idempotency := cache.NewIdempotencyStore(redisClient, "bookings:")

	// Payment gateway: live when a Stripe key is configured
	var gateway payment.Gateway
	if cfg.Payments.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Payments.StripeSecretKey, cfg.Payments.StripePaymentMethod)
		logger.Info("Using Stripe payment gateway")
	} else {
		gateway = payment.NewSimulatedGateway(cfg.Payments.SimulatedLatency, cfg.Payments.SimulatedSuccess)
		logger.Info("Using simulated payment gateway",
			"latency", cfg.Payments.SimulatedLatency.String(),
			"success_rate", cfg.Payments.SimulatedSuccess)
	}

	// Initialize repositories
	bookingRepo := repository.NewBookingRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	checkInRepo := repository.NewCheckInRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	// Initialize services
	bookingService := service.NewBookingService(bookingRepo, roomRepo, notificationRepo, gateway, eventBus, cfg)
	checkInService := service.NewCheckInService(bookingRepo, roomRepo, checkInRepo, notificationRepo, auditRepo, eventBus, cfg)

	// Initialize handlers
	h := handlers.New(bookingService, checkInService, cfg)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("bookings"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.Health)

	h.Routes(r, mw.Idempotency(idempotency, cfg.Redis.IdempotencyTTL))

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down bookings service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Bookings service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting bookings service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Bookings service error", "error", err)
		os.Exit(1)
	}
}
