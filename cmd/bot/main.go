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
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/viper"

	"github.com/coinclub/backend/internal/bot"
	"github.com/coinclub/backend/internal/config"
	"github.com/coinclub/backend/internal/database"
	"github.com/coinclub/backend/internal/handlers"
	mW "github.com/coinclub/backend/internal/middleware"
	"github.com/coinclub/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

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

	viper.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)

	cfg := config.LoadTransferConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	defer redisClient.Close()

	api, err := tgbotapi.NewBotAPI(viper.GetString("telegram.token"))
	if err != nil {
		log.Fatalf("Failed to connect to Telegram: %v", err)
	}
	log.Printf("Authorized as @%s", api.Self.UserName)
	cfg.BotUsername = api.Self.UserName

	// Services
	messenger := bot.NewMessenger(api)
	accountService := services.NewAccountService(db)
	checker := services.NewEligibilityChecker(accountService)
	transferService := services.NewTransferService(db, checker)
	callbackService := services.NewCallbackService(cfg)
	velocityGuard := services.NewVelocityGuard(db, redisClient, accountService, messenger, cfg)
	pipeline := services.NewSideEffectPipeline(accountService, callbackService, velocityGuard, messenger, cfg)
	transferService.SetEffects(pipeline)
	confirmationService := services.NewConfirmationService(redisClient, transferService, checker, cfg)
	wizardService := services.NewWizardService(redisClient, accountService, transferService)
	promoService := services.NewPromoService(db, redisClient)
	qrService := services.NewQRService(cfg)
	adminAuth := services.NewAdminAuthService(db)
	transferHandler := handlers.NewTransferHandler(transferService)

	pipeline.Start()

	// Telegram router
	tgBot := bot.New(api, messenger, accountService, transferService, confirmationService,
		wizardService, promoService, qrService)

	ctx, cancel := context.WithCancel(context.Background())
	go tgBot.Run(ctx)

	// Admin API router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", adminAuth.Login)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/transfers/check", transferHandler.CheckTransfer)
			r.Post("/transfers", transferHandler.SendCoins)
			r.Get("/accounts/{accountId}/transfers", transferHandler.ListTransfers)
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

	go func() {
		log.Printf("Admin API starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Let queued side effects finish before the process exits.
	pipeline.Close()

	log.Println("Stopped")
}
