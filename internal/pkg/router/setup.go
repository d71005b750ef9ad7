package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/tiergate/app/controllers"
	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routers need.
type Dependencies struct {
	Billing *controllers.BillingController
	Metrics *metrics.Recorder

	AllowedOrigins    string
	CheckoutRateLimit int
	// LimiterStorage shares rate limits across instances; nil keeps them in memory.
	LimiterStorage fiber.Storage

	AdminAPIKey string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewApiRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
