package api

import (
	"github.com/gensy-ai/creative-ledger/internal/models"
	"github.com/gensy-ai/creative-ledger/internal/services/auth"
	"github.com/gensy-ai/creative-ledger/internal/services/credits"

	"github.com/gofiber/fiber/v2"
)

// CreditsHandler exposes balance reads, affordability checks and the
// transaction history. The debit endpoint is service-only and carries
// an explicit user ID instead of reading it from the auth context.
type CreditsHandler struct {
	credits *credits.Service
}

func NewCreditsHandler(creditService *credits.Service) *CreditsHandler {
	return &CreditsHandler{credits: creditService}
}

// GetBalance returns the authenticated user's credit balance
func (h *CreditsHandler) GetBalance(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	balance, err := h.credits.Balance(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

type checkBalanceRequest struct {
	Required int64 `json:"required"`
}

// CheckBalance reports whether the user can afford a charge. The answer
// is advisory: the binding check happens when the debit runs.
func (h *CreditsHandler) CheckBalance(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req checkBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}

	check, err := h.credits.HasSufficientBalance(c.Context(), userID, req.Required)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(check)
}

type debitRequest struct {
	UserID       string          `json:"user_id"`
	Amount       int64           `json:"amount"`
	Description  string          `json:"description"`
	GenerationID string          `json:"generation_id"`
	Metadata     models.Metadata `json:"metadata"`
}

// Debit charges a user on behalf of an internal service
func (h *CreditsHandler) Debit(c *fiber.Ctx) error {
	var req debitRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}
	if req.UserID == "" {
		return respondError(c, models.NewValidationError("user_id is required", nil))
	}

	result, err := h.credits.Debit(c.Context(), models.DebitParams{
		UserID:       req.UserID,
		Amount:       req.Amount,
		Description:  req.Description,
		GenerationID: req.GenerationID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}

// ListTransactions returns the user's ledger history newest first
func (h *CreditsHandler) ListTransactions(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return unauthorized(c)
	}

	kind := models.TransactionKind(c.Query("kind"))
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, total, err := h.credits.History(c.Context(), userID, kind, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"transactions": entries,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}
