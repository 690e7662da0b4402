package api

import (
	"github.com/gensy-ai/creative-ledger/internal/models"

	"github.com/gofiber/fiber/v2"
)

// respondError maps an application error to its HTTP status with a
// sanitized JSON body.
func respondError(c *fiber.Ctx, err error) error {
	appErr := models.SanitizeError(err)

	body := fiber.Map{
		"error": appErr.Message,
		"type":  string(appErr.Type),
	}
	if appErr.Code != "" {
		body["code"] = appErr.Code
	}
	if appErr.Type == models.ErrorTypeInsufficientCredits {
		body["required"] = appErr.Required
		body["available"] = appErr.Available
	}

	return c.Status(appErr.GetStatusCode()).JSON(body)
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Authentication required",
	})
}
