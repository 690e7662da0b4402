package api

import (
	"strconv"

	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/auth"

	"github.com/gofiber/fiber/v2"
)

// APIKeysHandler manages the user's programmatic access keys
type APIKeysHandler struct {
	service *auth.APIKeyService
}

func NewAPIKeysHandler(service *auth.APIKeyService) *APIKeysHandler {
	return &APIKeysHandler{service: service}
}

// Create mints a new API key; the plaintext key appears only in this response
func (h *APIKeysHandler) Create(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.APIKeyCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}
	req.UserID = userID

	resp, err := h.service.CreateAPIKey(c.Context(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List returns the user's keys without hashes
func (h *APIKeysHandler) List(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	keys, err := h.service.ListAPIKeys(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"api_keys": keys})
}

// Revoke deactivates one of the user's keys
func (h *APIKeysHandler) Revoke(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	keyID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return respondError(c, models.NewValidationError("invalid API key ID", err))
	}

	if err := h.service.RevokeAPIKey(c.Context(), userID, uint(keyID)); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"revoked": true})
}
