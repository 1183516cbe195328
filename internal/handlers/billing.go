package handlers

import (
	"errors"

	"sitegen/internal/models"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/purchase"
	"sitegen/internal/services/wallet"
	"sitegen/internal/utils"
	"sitegen/internal/utils/pagination"

	"github.com/gofiber/fiber/v2"
)

// BillingHandler serves the user-facing billing surface: balance
// summary, transaction history, project charges and token purchases.
type BillingHandler struct {
	walletService   wallet.Service
	ledgerService   ledger.Service
	purchaseService purchase.Service
	config          wallet.Config
}

func NewBillingHandler(walletService wallet.Service, ledgerService ledger.Service, purchaseService purchase.Service, config wallet.Config) *BillingHandler {
	return &BillingHandler{
		walletService:   walletService,
		ledgerService:   ledgerService,
		purchaseService: purchaseService,
		config:          config,
	}
}

func (h *BillingHandler) GetBalance(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	summary, err := h.walletService.GetUserTokenSummary(c.Context(), claims.UserID)
	if err != nil {
		return utils.InternalError(c, "Failed to get token summary")
	}

	return utils.Success(c, summary)
}

func (h *BillingHandler) ListTransactions(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	p := pagination.ParseFromRequest(c, ledger.DefaultHistoryLimit, ledger.MaxHistoryLimit)
	entries, err := h.ledgerService.GetTransactionHistory(c.Context(), claims.UserID, p.Limit, p.Offset)
	if err != nil {
		return utils.InternalError(c, "Failed to get transaction history")
	}

	return utils.Success(c, pagination.Response(p, entries))
}

// ChargeProjectCreation debits the project creation cost. A decline is
// not an error: the client gets a 402 with charged=false and the
// balance is untouched.
func (h *BillingHandler) ChargeProjectCreation(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		ProjectID   string `json:"project_id"`
		ProjectName string `json:"project_name"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if input.ProjectID == "" {
		return utils.BadRequest(c, "project_id is required")
	}

	charged, err := h.ledgerService.DeductTokens(c.Context(), claims.UserID,
		h.config.RequiredProjectTokens, models.EntryTypeProjectCreation,
		"Project creation charge",
		map[string]interface{}{
			"project_id":   input.ProjectID,
			"project_name": input.ProjectName,
		})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return utils.BadRequest(c, "Invalid charge amount")
		}
		return utils.InternalError(c, "Failed to charge project creation")
	}
	if !charged {
		return utils.Respond(c, fiber.StatusPaymentRequired, fiber.Map{
			"charged": false,
			"error":   "insufficient tokens",
		})
	}

	return utils.Success(c, fiber.Map{
		"charged": true,
		"amount":  h.config.RequiredProjectTokens,
	})
}

func (h *BillingHandler) ListPacks(c *fiber.Ctx) error {
	return utils.Success(c, fiber.Map{"packs": h.purchaseService.ListPacks()})
}

func (h *BillingHandler) CreatePurchase(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		PackID string `json:"pack_id"`
	}
	if err := c.BodyParser(&input); err != nil || input.PackID == "" {
		return utils.BadRequest(c, "pack_id is required")
	}

	intent, err := h.purchaseService.CreateTokenPurchase(c.Context(), claims.UserID, input.PackID)
	if err != nil {
		if errors.Is(err, purchase.ErrUnknownPack) {
			return utils.BadRequest(c, "Unknown token pack")
		}
		return utils.InternalError(c, "Failed to create purchase")
	}

	return utils.Success(c, intent)
}

func (h *BillingHandler) ConfirmPurchase(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		IntentID string `json:"intent_id"`
	}
	if err := c.BodyParser(&input); err != nil || input.IntentID == "" {
		return utils.BadRequest(c, "intent_id is required")
	}

	result, err := h.purchaseService.ConfirmTokenPurchase(c.Context(), claims.UserID, input.IntentID)
	if err != nil {
		switch {
		case errors.Is(err, purchase.ErrIntentMismatch):
			return utils.Forbidden(c, "Payment does not belong to this account")
		case errors.Is(err, purchase.ErrPaymentNotComplete):
			return utils.BadRequest(c, "Payment not complete")
		case errors.Is(err, purchase.ErrAlreadyConfirmed):
			return utils.Conflict(c, "Purchase already confirmed")
		default:
			return utils.InternalError(c, "Failed to confirm purchase")
		}
	}

	return utils.Success(c, result)
}
