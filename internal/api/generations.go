package api

import (
	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/auth"
	"github.com/gensy-ai/creative-ledger/internal/services/generation"

	"github.com/gofiber/fiber/v2"
)

// GenerationsHandler exposes the generation lifecycle: start, list,
// poll status and cancel.
type GenerationsHandler struct {
	service *generation.Service
	poller  *generation.Poller
}

func NewGenerationsHandler(service *generation.Service, poller *generation.Poller) *GenerationsHandler {
	return &GenerationsHandler{service: service, poller: poller}
}

type createGenerationRequest struct {
	Type            models.GenerationType `json:"type"`
	Provider        string                `json:"provider"`
	ProviderJobID   string                `json:"provider_job_id"`
	CreditsRequired int64                 `json:"credits_required"`
	Metadata        models.Metadata       `json:"metadata"`
}

// Create reserves credits and registers a new generation
func (h *GenerationsHandler) Create(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req createGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}

	gen, err := h.service.Start(c.Context(), models.StartGenerationParams{
		UserID:          userID,
		Type:            req.Type,
		Provider:        req.Provider,
		ProviderJobID:   req.ProviderJobID,
		CreditsRequired: req.CreditsRequired,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(gen)
}

type createBatchRequest struct {
	Items []createGenerationRequest `json:"items"`
}

// CreateBatch starts several generations under one batch ID. Items are
// charged independently, so the response carries per-item outcomes.
func (h *GenerationsHandler) CreateBatch(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}

	items := make([]models.StartGenerationParams, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.StartGenerationParams{
			Type:            item.Type,
			Provider:        item.Provider,
			ProviderJobID:   item.ProviderJobID,
			CreditsRequired: item.CreditsRequired,
			Metadata:        item.Metadata,
		})
	}

	batchID, results, err := h.service.StartBatch(c.Context(), models.StartBatchParams{
		UserID: userID,
		Items:  items,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"batch_id": batchID,
		"items":    results,
	})
}

// List returns the user's generations with optional status/type filters
func (h *GenerationsHandler) List(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	status := models.GenerationStatus(c.Query("status"))
	genType := models.GenerationType(c.Query("type"))
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	gens, total, err := h.service.List(c.Context(), userID, status, genType, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"generations": gens,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// Get returns a single generation owned by the user
func (h *GenerationsHandler) Get(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	gen, err := h.service.GetForUser(c.Context(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(gen)
}

// Status polls the generation's current status, advancing the lifecycle
// when the provider reports progress
func (h *GenerationsHandler) Status(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	result, err := h.poller.Poll(c.Context(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}

// Cancel aborts a pending or processing generation
func (h *GenerationsHandler) Cancel(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	gen, err := h.service.Cancel(c.Context(), c.Params("id"), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(gen)
}
