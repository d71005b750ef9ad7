package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/tiergate/internal/pkg/constants"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	bc := h.deps.Billing

	// raw body, signature-verified in the controller; no CORS, no limiter
	app.Post(constants.WebhookRoute, bc.HandleWebhook)

	app.Get(constants.PingRoute, bc.HandlePing)
	if h.deps.Metrics != nil {
		app.Get(constants.MetricsRoute, h.deps.Metrics.Handler())
	}

	corsConfig := cors.Config{
		AllowOrigins: h.deps.AllowedOrigins,
		AllowMethods: "POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}
	if corsConfig.AllowOrigins == "" {
		corsConfig.AllowOrigins = "*"
	}
	limit := h.deps.CheckoutRateLimit
	if limit <= 0 {
		limit = 20
	}
	checkout := app.Group(constants.CheckoutSessionRoute, cors.New(corsConfig))
	checkout.Post("/", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
		},
	}), bc.HandleCreateCheckoutSession)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
