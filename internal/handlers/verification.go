// internal/handlers/verification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

// VerificationHandler checks and produces the off-ledger authorizations
// buyers, sellers and verifiers exchange.
type VerificationHandler struct {
	authorizationService *services.AuthorizationService
}

func NewVerificationHandler(authorizationService *services.AuthorizationService) *VerificationHandler {
	return &VerificationHandler{
		authorizationService: authorizationService,
	}
}

// POST /seller/verify-balance
func (h *VerificationHandler) VerifyBalance(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.BalanceAuthorization
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := h.authorizationService.VerifyBalanceAuthorization(req); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"valid":   true,
		"message": i18n.T(lang, i18n.KeyAuthorizationValid),
	})
}

// POST /verifier/verify
func (h *VerificationHandler) VerifyVerification(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.VerificationAuthorization
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := h.authorizationService.VerifyVerificationAuthorization(req); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"valid":   true,
		"message": i18n.T(lang, i18n.KeyAuthorizationValid),
	})
}

// POST /buyer/authorize
func (h *VerificationHandler) AuthorizeBalance(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	account, ok := utils.GetAccountFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.SignBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	signed, err := h.authorizationService.SignBalance(account, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, signed)
}

// POST /verifier/sign
func (h *VerificationHandler) SignVerification(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	account, ok := utils.GetAccountFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.SignVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	signed, err := h.authorizationService.SignVerification(account, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, signed)
}
