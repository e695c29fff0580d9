// internal/handlers/trader.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

// TraderHandler serves trader profiles.
type TraderHandler struct {
	traderService *services.TraderService
}

func NewTraderHandler(traderService *services.TraderService) *TraderHandler {
	return &TraderHandler{
		traderService: traderService,
	}
}

// GET /traders/me
func (h *TraderHandler) Me(c *gin.Context) {
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	trader, err := h.traderService.GetTrader(c.Request.Context(), traderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, h.traderService.Details(c.Request.Context(), trader))
}

// GET /traders
func (h *TraderHandler) ListTraders(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	result, err := h.traderService.ListTraders(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// PUT /traders/me/password
func (h *TraderHandler) ChangePassword(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := h.traderService.ChangePassword(c.Request.Context(), traderID, &req); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAuthPasswordChanged),
	})
}
