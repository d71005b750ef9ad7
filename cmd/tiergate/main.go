package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/tiergate/app/controllers"
	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
	"github.com/ManuelReschke/tiergate/internal/pkg/env"
	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
	"github.com/ManuelReschke/tiergate/internal/pkg/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := env.SetupEnvFile(); err != nil && !errors.Is(err, env.ErrNoEnvFile) {
		log.Fatalf("[Config] Failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := metrics.NewRecorder()
	if err != nil {
		log.Fatalf("[Startup] %v", err)
	}

	b, err := openBackends(ctx, cfg, recorder)
	if err != nil {
		log.Fatalf("[Startup] %v", err)
	}

	app := NewApplication(cfg, b, recorder)

	if b.retention != nil {
		b.retention.Start()
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Startup] Listener stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("[Shutdown] Signal received, draining requests")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Shutdown] %v", err)
	}
	if b.retention != nil {
		b.retention.Stop()
	}
	b.Close()
}

// NewApplication wires the services onto a fiber app.
func NewApplication(cfg *config.Config, b *backends, recorder *metrics.Recorder) *fiber.App {
	webhooks := billing.NewWebhookService(
		billing.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance),
		b.guard,
		billing.NewReconciler(b.store),
	).WithObserver(recorder)

	minter := billing.NewSessionMinter(billing.NewStripeSessionCreator(cfg.Stripe.SecretKey), billing.CheckoutConfig{
		Prices:     billing.PriceTable(cfg.Prices()),
		SuccessURL: cfg.SuccessURL(),
		CancelURL:  cfg.CancelURL(),
	}).WithObserver(recorder)

	bc := controllers.NewBillingController(webhooks, minter, billing.NewEntitlementService(b.store), cfg.Stripe.WebhookTimeout)

	app := fiber.New(fiber.Config{
		AppName:   "tiergate",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Dependencies{
		Billing:           bc,
		Metrics:           recorder,
		AllowedOrigins:    cfg.Checkout.FrontendURL,
		CheckoutRateLimit: cfg.Checkout.RateLimit,
		LimiterStorage:    b.limiterStorage,
		AdminAPIKey:       cfg.AdminAPIKey,
	})

	log.Infof("[Startup] store=%s idempotency=%s listening on %s", cfg.Store.Driver, cfg.Idempotency.Driver, cfg.ListenAddr())
	return app
}
