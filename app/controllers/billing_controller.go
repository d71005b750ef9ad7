package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

const defaultWebhookTimeout = 8 * time.Second

// BillingController is the HTTP boundary of the reconciliation engine.
type BillingController struct {
	webhooks       *billing.WebhookService
	checkout       *billing.SessionMinter
	entitlements   *billing.EntitlementService
	webhookTimeout time.Duration
}

func NewBillingController(webhooks *billing.WebhookService, checkout *billing.SessionMinter, ents *billing.EntitlementService, webhookTimeout time.Duration) *BillingController {
	if webhookTimeout <= 0 {
		webhookTimeout = defaultWebhookTimeout
	}
	return &BillingController{
		webhooks:       webhooks,
		checkout:       checkout,
		entitlements:   ents,
		webhookTimeout: webhookTimeout,
	}
}

// HandleWebhook passes the untouched body to the pipeline. Body parsing must
// not happen before verification.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(billing.SignatureHeader)

	ctx, cancel := context.WithTimeout(c.UserContext(), bc.webhookTimeout)
	defer cancel()

	out := bc.webhooks.Handle(ctx, rawBody, signature)
	switch out.Kind {
	case billing.OutcomeRejected:
		return c.Status(out.HTTPStatus()).JSON(fiber.Map{"error": "invalid_webhook", "reason": out.Reason})
	case billing.OutcomeFailed:
		return c.Status(out.HTTPStatus()).JSON(fiber.Map{"error": "processing_failed"})
	default:
		body := fiber.Map{"received": true, "status": string(out.Kind)}
		if out.Reason != "" {
			body["reason"] = out.Reason
		}
		return c.Status(out.HTTPStatus()).JSON(body)
	}
}

type checkoutSessionRequest struct {
	Email  string `json:"email"`
	Tier   string `json:"tier"`
	UserID string `json:"userId"`
	UID    string `json:"uid"`
}

func (bc *BillingController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var body checkoutSessionRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		userID = strings.TrimSpace(body.UID)
	}

	ref, err := bc.checkout.CreateSession(c.UserContext(), billing.CheckoutRequest{
		UserID: userID,
		Email:  body.Email,
		Tier:   body.Tier,
	})
	if err != nil {
		if billing.IsClientError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("[Checkout] Failed to create session for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not create checkout session"})
	}

	log.Infof("[Checkout] Created session %s for user %s (%s)", ref.SessionID, ref.Intent.UserID, ref.Intent.Tier)
	return c.Status(fiber.StatusOK).JSON(ref)
}

func (bc *BillingController) HandlePing(c *fiber.Ctx) error {
	return c.SendString("pong")
}

func (bc *BillingController) HandleGetEntitlement(c *fiber.Ctx) error {
	rec, err := bc.entitlements.Get(c.UserContext(), c.Params("userId"))
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		log.Errorf("[Entitlements] Lookup failed for %s: %v", c.Params("userId"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.JSON(rec)
}

type overrideRequest struct {
	Tier               *string `json:"tier"`
	SubscriptionStatus *string `json:"subscription_status"`
}

func (bc *BillingController) HandleOverrideEntitlement(c *fiber.Ctx) error {
	var body overrideRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var tier *entitlements.Tier
	if body.Tier != nil {
		t := entitlements.Tier(*body.Tier)
		tier = &t
	}
	var status *entitlements.Status
	if body.SubscriptionStatus != nil {
		s := entitlements.Status(*body.SubscriptionStatus)
		status = &s
	}

	rec, err := bc.entitlements.Override(c.UserContext(), c.Params("userId"), tier, status)
	if err != nil {
		if billing.IsClientError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("[Entitlements] Override failed for %s: %v", c.Params("userId"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "override_failed"})
	}
	return c.JSON(rec)
}
