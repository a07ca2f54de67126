package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"savegame-system/config"
	"savegame-system/handlers"
	"savegame-system/middleware"
	"savegame-system/models"
	"savegame-system/services"
	"savegame-system/utils"
	"savegame-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Notifications ---
	var sms services.SMSSender
	if cfg.AfricasTalking.Enabled() {
		at := cfg.AfricasTalking
		sms = services.NewAfricasTalkingClient(at.BaseURL, at.APIKey, at.Username, at.SenderID)
	} else {
		log.Println("⚠️  AT_API_KEY not set, notifications will be stored but not delivered")
	}
	notificationService := services.NewNotificationService(db, sms)

	// --- Pipeline ---
	leaderboardService := services.NewLeaderboardService(db, notificationService)
	achievementService := services.NewAchievementService(db, notificationService)
	processor := services.NewTransactionProcessor(db, leaderboardService, achievementService, notificationService)
	challengeService := services.NewChallengeService(db, notificationService)
	sweeper := services.NewCompletionSweeper(db, leaderboardService, achievementService, notificationService)

	// --- Payments ---
	var gateway services.PaymentGateway
	var mpesa *services.MpesaClient
	if cfg.Mpesa.Enabled() {
		m := cfg.Mpesa
		mpesa = services.NewMpesaClient(m.BaseURL(), m.ConsumerKey, m.ConsumerSecret, m.Shortcode, m.Passkey, m.CallbackURL)
		gateway = mpesa
	} else {
		log.Println("⚠️  MPESA_CONSUMER_KEY not set, deposits are disabled")
	}
	paymentService := services.NewPaymentService(db, gateway, processor)

	var archive handlers.PayloadArchiver
	if cfg.Archive.Enabled() {
		a := cfg.Archive
		r2, err := utils.NewR2Archive(ctx, a.AccountID, a.AccessKeyID, a.AccessKeySecret, a.BucketName)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archive = r2
	}

	// --- Background jobs ---
	rateStore := middleware.NewDBStorage(db)

	sched, err := services.StartPipelineScheduler(ctx, services.SchedulerConfig{
		SweepInterval:      cfg.SweepInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
		ReconcileBatchSize: cfg.ReconcileBatchSize,
		PurgeInterval:      10 * time.Minute,
	}, sweeper, processor, rateStore)
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}

	go workers.PollNotifications(ctx, notificationService, cfg.NotificationRetryInterval, cfg.NotificationMaxAttempts)

	if mpesa != nil {
		workers.NewPaymentStatusWorker(db, mpesa, time.Minute).Start(ctx)
	}

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Origins(), ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-Organization-ID, X-User-Roles",
		MaxAge:       86400,
	}))

	// Provider callbacks come straight from Safaricom and AfricasTalking
	handlers.SetupWebhookRoutes(app, &handlers.WebhookHandler{
		Payments:      paymentService,
		Notifications: notificationService,
		Archive:       archive,
		CallbackToken: cfg.Mpesa.CallbackToken,
	})

	// 🔐 Everything under /s must come through the gateway
	secured := app.Group("/s",
		middleware.GatewayAuthMiddleware(cfg.GatewayServiceToken),
		middleware.UserContextMiddleware(),
		middleware.RateLimit(rateStore, cfg.RateLimitMax, cfg.RateLimitWindow),
	)
	admin := secured.Group("/admin", middleware.RequireRole(string(models.RoleOrgAdmin), string(models.RoleSuperAdmin)))

	handlers.SetupTransactionRoutes(secured, admin, processor, paymentService)
	handlers.SetupChallengeRoutes(secured, admin, challengeService, leaderboardService, sweeper)
	handlers.SetupProgressionRoutes(secured, admin, achievementService)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	slog.Info("✅ Server running", "port", cfg.Port)
	slog.Info("✅ Scheduler running", "sweep", cfg.SweepInterval.String(), "reconcile", cfg.ReconcileInterval.String())
	slog.Info("✅ Notification retry running", "interval", cfg.NotificationRetryInterval.String())
	slog.Info("✅ CORS configured", "origins", cfg.AllowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Printf("scheduler shutdown: %v", err)
	}
}
