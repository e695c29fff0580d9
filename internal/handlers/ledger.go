// internal/handlers/ledger.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type LedgerHandler struct {
	ledgerService *services.LedgerService
}

func NewLedgerHandler(ledgerService *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
	}
}

// GET /ledger/info
func (h *LedgerHandler) Info(c *gin.Context) {
	info, err := h.ledgerService.Info(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, info)
}

// GET /ledger/balance?account=0x...
// Defaults to the caller's own account.
func (h *LedgerHandler) Balance(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	account := c.Query("account")
	if account == "" {
		account, _ = utils.GetAccountFromContext(c)
	}
	if !utils.IsLedgerAddress(account) {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "account"), nil)
		return
	}

	balance, err := h.ledgerService.Balance(c.Request.Context(), account)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}

// GET /ledger/channels/:buyer/:seller/:marker
func (h *LedgerHandler) ChannelInfo(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	marker, err := strconv.ParseUint(c.Param("marker"), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "marker"), err.Error())
		return
	}

	info, err := h.ledgerService.ChannelInfo(c.Request.Context(), c.Param("buyer"), c.Param("seller"), marker)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, info)
}

// GET /ledger/nonce/:account
func (h *LedgerHandler) Nonce(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	account := c.Param("account")
	if !utils.IsLedgerAddress(account) {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "account"), nil)
		return
	}

	nonce, err := h.ledgerService.Nonce(c.Request.Context(), account)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"account": account,
		"nonce":   nonce,
	})
}

// POST /ledger/fund
func (h *LedgerHandler) Fund(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	receipt, err := h.ledgerService.Fund(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, receipt)
}

// POST /ledger/raw-tx
func (h *LedgerHandler) SubmitRawTx(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.RawTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	receipt, err := h.ledgerService.SubmitRawTx(c.Request.Context(), req.Data)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, receipt)
}
