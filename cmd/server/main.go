package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/movie-ticket-booking/internal/config"
	"github.com/iliyamo/movie-ticket-booking/internal/database"
	"github.com/iliyamo/movie-ticket-booking/internal/handler"
	"github.com/iliyamo/movie-ticket-booking/internal/middleware"
	"github.com/iliyamo/movie-ticket-booking/internal/notify"
	"github.com/iliyamo/movie-ticket-booking/internal/payment"
	"github.com/iliyamo/movie-ticket-booking/internal/queue"
	"github.com/iliyamo/movie-ticket-booking/internal/repository"
	"github.com/iliyamo/movie-ticket-booking/internal/router"
	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := setupLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting movie ticket booking API", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User:    cfg.DBUser,
		Pass:    cfg.DBPass,
		Host:    cfg.DBHost,
		Port:    cfg.DBPort,
		Name:    cfg.DBName,
		Timeout: cfg.StorageTimeout,
	})
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	keyFunc, err := buildKeyfunc(ctx, cfg, logger)
	if err != nil {
		logger.Error("jwt key setup failed", "err", err)
		os.Exit(1)
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithStorageTimeout(cfg.StorageTimeout),
		service.WithPaymentTimeout(cfg.PaymentTimeout),
		service.WithNotifyTimeout(cfg.NotifyTimeout),
	}
	bookings := repository.NewBookingRepo(db)
	shows := repository.NewShowRepo(db)
	stripe := payment.NewStripeProvider(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.PaymentTimeout,
	})

	ledger := service.NewLedger(bookings, opts...)
	inventory := service.NewInventory(bookings, shows, opts...)
	orchestrator := service.NewOrchestrator(ledger, inventory, stripe, service.CheckoutConfig{
		Currency:      cfg.Currency,
		ClientURL:     cfg.ClientURL,
		MaxSeats:      cfg.MaxSeatsPerBooking,
		PaymentWindow: cfg.PendingTTL,
	}, opts...)
	confirmer := service.NewConfirmer(ledger, stripe, buildNotifier(ctx, cfg, logger), cfg.Currency, opts...)

	// Pending bookings are released only once their checkout session can
	// no longer take payment.
	var reapAfter time.Duration
	if cfg.PendingTTL > 0 {
		reapAfter = payment.ReapAfter(cfg.PendingTTL, cfg.PaymentTimeout)
	}
	go service.NewReaper(ledger, reapAfter, cfg.ReaperInterval, opts...).Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(requestLogger(logger))

	router.Register(e, router.Deps{
		DB:        db,
		Redis:     rdb,
		Keyfunc:   keyFunc,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
		Bookings:  handler.NewBookingHandler(orchestrator, ledger, confirmer),
		Admin:     handler.NewAdminHandler(ledger),
		Shows:     handler.NewShowHandler(inventory),
		Webhook:   handler.NewWebhookHandler(stripe, confirmer, logger),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}
	logger.Info("server exited")
}

func setupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// buildKeyfunc prefers a JWKS endpoint and falls back to the shared secret.
func buildKeyfunc(ctx context.Context, cfg config.Config, logger *slog.Logger) (jwt.Keyfunc, error) {
	if cfg.JWKSURL != "" {
		return middleware.JWKSKeyfunc(ctx, cfg.JWKSURL, logger)
	}
	return middleware.HMACKeyfunc(cfg.JWTSecret), nil
}

// buildNotifier picks the confirmation channel.  In queue mode the
// process also runs the consumer that delivers by SMTP when configured.
func buildNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) service.Notifier {
	var mailer service.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.SMTPHost != "" && cfg.FromEmail != "" {
		mailer = notify.NewMailer(notify.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			User:      cfg.SMTPUser,
			Pass:      cfg.SMTPPass,
			From:      cfg.FromEmail,
			PosterDir: cfg.PosterDir,
		}, logger)
	}

	switch cfg.NotifyMode {
	case config.NotifyQueue:
		consumer := &queue.Consumer{
			URL:     cfg.RabbitMQURL,
			Deliver: mailer,
			Timeout: cfg.NotifyTimeout,
			Logger:  logger.With("component", "booking-consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", "err", err)
			}
		}()
		return queue.NewPublisher(cfg.RabbitMQURL, logger)
	case config.NotifyLog:
		return notify.LogNotifier{Logger: logger}
	}
	return mailer
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "request_id", v.RequestID,
			}
			if v.Error != nil {
				attrs = append(attrs, "err", v.Error)
				logger.Warn("request", attrs...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}
