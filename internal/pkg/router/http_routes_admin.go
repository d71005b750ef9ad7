package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/tiergate/internal/pkg/constants"
	"github.com/ManuelReschke/tiergate/internal/pkg/middleware"
)

type AdminRouter struct {
	deps Dependencies
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	adminGroup := app.Group(constants.AdminRoute, middleware.AdminAPIKeyMiddleware(h.deps.AdminAPIKey))
	adminGroup.Get(constants.EntitlementRoute, h.deps.Billing.HandleGetEntitlement)
	adminGroup.Put(constants.EntitlementRoute, h.deps.Billing.HandleOverrideEntitlement)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
