// internal/handlers/order.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// POST /buyer/purchase
func (h *OrderHandler) Purchase(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	order, err := h.orderService.Purchase(c.Request.Context(), traderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, order)
}

// POST /verifier/orders/:id/verify
func (h *OrderHandler) Verify(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	// Custodial verifiers send no body
	var req services.VerifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
			return
		}
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	order, err := h.orderService.Verify(c.Request.Context(), traderID, orderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

// POST /seller/orders/:id/close
func (h *OrderHandler) Close(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	var req services.CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
			return
		}
	}

	result, err := h.orderService.Close(c.Request.Context(), traderID, orderID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /history
func (h *OrderHandler) History(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	searchParams := services.OrderSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
		Role:             models.OrderRoleBuyer,
	}

	switch role := models.OrderRole(c.Query("role")); role {
	case "":
	case models.OrderRoleBuyer, models.OrderRoleSeller, models.OrderRoleVerifier:
		searchParams.Role = role
	default:
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "role"), nil)
		return
	}

	if stateStr := c.Query("state"); stateStr != "" {
		state := models.OrderState(stateStr)
		if !state.Valid() {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "state"), nil)
			return
		}
		searchParams.State = &state
	}

	result, err := h.orderService.ListOrders(c.Request.Context(), traderID, searchParams)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /history/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	traderID, ok := utils.GetTraderIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), traderID, orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}
