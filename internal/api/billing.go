package api

import (
	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/auth"
	"github.com/gensy-ai/creative-ledger/internal/services/billing"

	"github.com/gofiber/fiber/v2"
)

// BillingHandler exposes credit purchase: package catalog, checkout
// session creation and the Stripe webhook.
type BillingHandler struct {
	stripe *billing.StripeService
}

func NewBillingHandler(stripe *billing.StripeService) *BillingHandler {
	return &BillingHandler{stripe: stripe}
}

// ListPackages returns the purchasable credit packages
func (h *BillingHandler) ListPackages(c *fiber.Ctx) error {
	pkgs, err := h.stripe.ListPackages(c.Context())
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"packages": pkgs})
}

type checkoutRequest struct {
	PackageID  uint   `json:"package_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Email      string `json:"email"`
}

// CreateCheckoutSession starts a Stripe checkout for a credit package
func (h *BillingHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return respondError(c, models.NewValidationError("success_url and cancel_url are required", nil))
	}

	sess, err := h.stripe.CreateCheckoutSession(c.Context(), billing.CreateCheckoutParams{
		UserID:        userID,
		PackageID:     req.PackageID,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.Email,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}

// StripeWebhook receives payment events from Stripe
func (h *BillingHandler) StripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing Stripe-Signature header",
		})
	}

	if err := h.stripe.HandleWebhook(c.Context(), c.Body(), signature); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"received": true})
}
