package handlers

import (
	"errors"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/reset"
	"sitegen/internal/services/wallet"
	"sitegen/internal/utils"
	"sitegen/internal/utils/pagination"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler serves the operator surface: manual balance
// adjustments, per-user resets, wallet provisioning and the bulk
// daily-reset controls. Every mutation records who performed it.
type AdminHandler struct {
	ledgerService ledger.Service
	walletService wallet.Service
	resetService  reset.Service
}

func NewAdminHandler(ledgerService ledger.Service, walletService wallet.Service, resetService reset.Service) *AdminHandler {
	return &AdminHandler{
		ledgerService: ledgerService,
		walletService: walletService,
		resetService:  resetService,
	}
}

func actorMetadata(claims *models.UserClaims) map[string]interface{} {
	return map[string]interface{}{
		"actor_id":    claims.UserID,
		"actor_email": claims.Email,
	}
}

// AdjustBalance credits or debits a user's standard wallet by a signed
// amount. Debits that would push the balance negative are declined,
// not errors.
func (h *AdminHandler) AdjustBalance(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		UserID      uint   `json:"user_id"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if input.UserID == 0 || input.Amount == 0 {
		return utils.BadRequest(c, "user_id and a non-zero amount are required")
	}

	description := input.Description
	if description == "" {
		description = "Manual balance adjustment"
	}
	meta := actorMetadata(claims)

	var applied bool
	if input.Amount > 0 {
		applied, err = h.ledgerService.GrantTokens(c.Context(), input.UserID, input.Amount,
			models.EntryTypeAdminAdjustment, description, meta)
	} else {
		applied, err = h.ledgerService.DeductTokens(c.Context(), input.UserID, -input.Amount,
			models.EntryTypeAdminAdjustment, description, meta)
	}
	if err != nil {
		return utils.InternalError(c, "Failed to adjust balance")
	}
	if !applied {
		return utils.Respond(c, fiber.StatusConflict, fiber.Map{
			"applied": false,
			"error":   "adjustment declined",
		})
	}

	return utils.Success(c, fiber.Map{
		"applied": true,
		"user_id": input.UserID,
		"amount":  input.Amount,
	})
}

// ResetUser restores a single user's standard wallet to the daily
// allotment, outside the scheduled run.
func (h *AdminHandler) ResetUser(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return utils.BadRequest(c, "Invalid user id")
	}

	meta := actorMetadata(claims)
	meta["trigger"] = "admin_reset"
	if err := h.walletService.ResetDailyTokens(c.Context(), uint(userID), meta); err != nil {
		return utils.InternalError(c, "Failed to reset user tokens")
	}

	return utils.Success(c, fiber.Map{"user_id": userID, "reset": true})
}

func (h *AdminHandler) CreateWallet(c *fiber.Ctx) error {
	var input struct {
		UserID        uint   `json:"user_id"`
		WalletType    string `json:"wallet_type"`
		InitialTokens int64  `json:"initial_tokens"`
		ExpiresAt     string `json:"expires_at"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if input.UserID == 0 {
		return utils.BadRequest(c, "user_id is required")
	}

	var expiresAt *time.Time
	if input.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, input.ExpiresAt)
		if err != nil {
			return utils.BadRequest(c, "expires_at must be RFC3339")
		}
		expiresAt = &t
	}

	w, err := h.walletService.CreateWallet(c.Context(), input.UserID,
		models.WalletType(input.WalletType), input.InitialTokens, expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidWalletType):
			return utils.BadRequest(c, "Invalid wallet type")
		case errors.Is(err, wallet.ErrInvalidAmount):
			return utils.BadRequest(c, "Invalid initial token amount")
		case errors.Is(err, wallet.ErrWalletAlreadyActive):
			return utils.Conflict(c, "User already has an active wallet of this type")
		default:
			return utils.InternalError(c, "Failed to create wallet")
		}
	}

	return utils.Created(c, fiber.Map{"wallet": w})
}

func (h *AdminHandler) UserTransactions(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return utils.BadRequest(c, "Invalid user id")
	}

	p := pagination.ParseFromRequest(c, ledger.DefaultHistoryLimit, ledger.MaxHistoryLimit)
	entries, err := h.ledgerService.GetTransactionHistory(c.Context(), uint(userID), p.Limit, p.Offset)
	if err != nil {
		return utils.InternalError(c, "Failed to get transaction history")
	}

	return utils.Success(c, pagination.Response(p, entries))
}

// ResetDue reports whether any standard wallet has not yet been reset
// since the most recent local-midnight boundary.
func (h *AdminHandler) ResetDue(c *fiber.Ctx) error {
	due, err := h.resetService.ShouldResetTokens(c.Context())
	if err != nil {
		return utils.InternalError(c, "Failed to check reset status")
	}
	return utils.Success(c, fiber.Map{"due": due})
}

// RunReset triggers the bulk daily reset immediately.
func (h *AdminHandler) RunReset(c *fiber.Ctx) error {
	result, err := h.resetService.ResetAllUsersTokens(c.Context())
	if err != nil {
		return utils.InternalError(c, "Failed to run daily reset")
	}
	return utils.Success(c, result)
}

// ReconcileWallet replays a wallet's ledger entries and compares the
// sum against the live balance.
func (h *AdminHandler) ReconcileWallet(c *fiber.Ctx) error {
	walletID, err := c.ParamsInt("id")
	if err != nil || walletID <= 0 {
		return utils.BadRequest(c, "Invalid wallet id")
	}

	report, err := h.ledgerService.Reconcile(c.Context(), uint(walletID))
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return utils.NotFound(c, "Wallet not found")
		}
		return utils.InternalError(c, "Failed to reconcile wallet")
	}

	return utils.Success(c, report)
}
