// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vipgate/internal/access"
	catalogrepository "vipgate/internal/catalog/repository"
	"vipgate/internal/config"
	"vipgate/internal/dashboard"
	dashboardhttp "vipgate/internal/dashboard/transport/http"
	dashboardtelegram "vipgate/internal/dashboard/transport/telegram"
	"vipgate/internal/logger"
	"vipgate/internal/metrics"
	"vipgate/internal/notify"
	stripepayment "vipgate/internal/payment/stripe"
	stripehttp "vipgate/internal/payment/stripe/transport/http"
	stripetelegram "vipgate/internal/payment/stripe/transport/telegram"
	"vipgate/internal/payment/ton"
	tonhttp "vipgate/internal/payment/ton/transport/http"
	tontelegram "vipgate/internal/payment/ton/transport/telegram"
	"vipgate/internal/settings"
	settingsrepository "vipgate/internal/settings/repository"
	subscriptionrepository "vipgate/internal/subscription/repository"
	subscriptionservice "vipgate/internal/subscription/service"
	subscriptionhttp "vipgate/internal/subscription/transport/http"
	"vipgate/internal/sweeper"
	"vipgate/internal/telegram"
	"vipgate/pkg/db"
	"vipgate/pkg/jwt"
	"vipgate/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Config: invalid configuration")
	}
	log := logger.New(cfg.LogLevel)
	log.Info().Msg("VIPGate starting...")

	metrics.InitMetrics()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		log.Fatal().Err(err).Msg("Database migration failed")
	}
	log.Info().Msg("Connected to PostgreSQL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	bot, err := telegram.NewBot(cfg.TelegramBotToken, log.With().Str("component", "telegram").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Telegram bot init failed")
	}

	settingsProvider := settings.NewResolver(
		settingsrepository.NewPostgresRepository(database),
		cfg.PaymentSettings(),
		settings.DefaultNotificationSettings(cfg.AdminChatID),
	)
	plans := catalogrepository.NewPostgresCatalog(database)
	subRepo := subscriptionrepository.NewPostgresRepository(database)

	accessController := access.NewController(bot, log)
	notifier := notify.NewNotifier(bot, settingsProvider, log)
	subService := subscriptionservice.NewService(subRepo, plans, accessController, notifier, log)

	// Stripe
	stripeReconciler := stripepayment.NewReconciler(subService, subRepo, plans, notifier, settingsProvider, log)
	checkout := stripepayment.NewCheckoutService(plans, settingsProvider, cfg.CheckoutReturnURL(), log)
	portal := stripepayment.NewPortalService(subRepo, settingsProvider, cfg.CheckoutReturnURL(), log)
	stripeHandler := stripehttp.NewHandler(stripeReconciler, checkout, portal)
	stripetelegram.NewHandler(portal, log).Register(bot.Raw())

	// TON
	tonReconciler := ton.NewReconciler(subService, subRepo, plans, notifier, settingsProvider,
		ton.NewTonAPIClient(cfg.TonAPIBaseURL, cfg.TonProxyAddr, log),
		ton.NewToncenterClient(cfg.ToncenterBaseURL, cfg.ToncenterAPIKey, cfg.TonProxyAddr, log),
		log,
	)
	tonHandler := tonhttp.NewHandler(tonReconciler)
	tontelegram.NewHandler(tonReconciler, log).Register(bot.Raw())

	// Панель
	dashboardtelegram.NewHandler(dashboard.NewIssuer(cfg.JWTSecret, cfg.DashboardURL, cfg.AdminIDs), log).Register(bot.Raw())
	dashboardHandler := dashboardhttp.NewHandler()

	// Sweeper
	expirySweeper := sweeper.New(subRepo, accessController, notifier, cfg.SweepInterval, log)
	subHandler := subscriptionhttp.NewSubscriptionHandler(subService, expirySweeper)

	// --- РОУТЕР ---
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Stripe подписывает сырое тело, поэтому без JSON-валидации
	r.Post("/webhooks/stripe", stripeHandler.Webhook)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	metricsHandler := http.Handler(promhttp.Handler())
	if cfg.MetricsUser != "" {
		metricsHandler = middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword)(metricsHandler)
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	limiter := middleware.NewRateLimiter(30, time.Minute)

	// 🔐 Защищённая группа маршрутов
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.JWTAuth(cfg.JWTSecret))
		pr.Use(limiter.Middleware)

		pr.Get("/auth/me", dashboardHandler.Me)
		pr.Get("/api/subscriptions/me", subHandler.Mine)
		// без тела: клиент берётся из подписок пользователя
		pr.Post("/api/payments/stripe/portal", stripeHandler.Portal)

		pr.Group(func(pay chi.Router) {
			pay.Use(middleware.ValidateRequest)
			pay.Post("/api/payments/stripe/checkout", stripeHandler.Checkout)
			pay.Post("/api/payments/ton/initiate", tonHandler.Initiate)
			pay.Post("/api/payments/ton/confirm", tonHandler.Confirm)
		})

		pr.Route("/api/admin", func(ar chi.Router) {
			ar.Use(middleware.RequireRole(jwt.RoleAdmin))
			ar.Get("/subscriptions", subHandler.List)
			ar.With(middleware.ValidateRequest).Post("/subscriptions/grant", subHandler.Grant)
			ar.With(middleware.ValidateRequest).Post("/subscriptions/kick", subHandler.Kick)
			ar.Post("/sweep", subHandler.Sweep)
		})
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go bot.Start(ctx)
	if err := expirySweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Sweeper start failed")
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown на сигналы ОС
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	shutdown(server, expirySweeper, stripeReconciler, log)
}

func shutdown(server *http.Server, sw *sweeper.Sweeper, webhooks *stripepayment.Reconciler, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	sw.Stop()
	// дожидаемся выдачи доступа по уже принятым вебхукам
	webhooks.Wait()

	log.Info().Msg("Server stopped")
}
