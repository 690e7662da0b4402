package api

import (
	"encoding/json"
	"fmt"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	svix "github.com/svix/svix-webhooks/go"
)

// ClerkWebhookHandler grants the welcome bonus when Clerk reports a new
// user. Svix signature verification guards the endpoint.
type ClerkWebhookHandler struct {
	webhookSecret string
	credits       *credits.Service
	bonusCredits  int64
}

func NewClerkWebhookHandler(webhookSecret string, creditService *credits.Service, bonusCredits int64) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		webhookSecret: webhookSecret,
		credits:       creditService,
		bonusCredits:  bonusCredits,
	}
}

type ClerkWebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ClerkUserData struct {
	ID             string `json:"id"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (h *ClerkWebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	payload := c.Body()

	headers := make(map[string][]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = []string{string(value)}
	})

	wh, err := svix.NewWebhook(h.webhookSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to initialize webhook verifier",
		})
	}

	if err := wh.Verify(payload, headers); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON payload",
		})
	}

	switch event.Type {
	case "user.created":
		if err := h.handleUserCreated(c, event.Data); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to process user.created event: %v", err),
			})
		}
	}

	return c.JSON(fiber.Map{
		"received": true,
	})
}

func (h *ClerkWebhookHandler) handleUserCreated(c *fiber.Ctx, data json.RawMessage) error {
	var userData ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	if userData.ID == "" {
		return fmt.Errorf("user.created event missing user ID")
	}

	if h.bonusCredits <= 0 {
		fiberlog.Debugf("Welcome bonus disabled, skipping grant for user %s", userData.ID)
		return nil
	}

	_, err := h.credits.Credit(c.Context(), models.CreditParams{
		UserID:      userData.ID,
		Amount:      h.bonusCredits,
		Kind:        models.TransactionBonus,
		Description: "Welcome bonus for new user",
	})
	if err != nil {
		return fmt.Errorf("failed to award welcome bonus: %w", err)
	}

	return nil
}
