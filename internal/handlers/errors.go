// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type errorMapping struct {
	target error
	status int
	code   string
	key    string
	// reason refines a shared code in the details
	reason string
}

// Order matters: wrapped errors can carry several sentinels and the first
// match decides the response.
var errorMappings = []errorMapping{
	{services.ErrTraderNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyTraderNotFound, ""},
	{services.ErrListingNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyListingNotFound, ""},
	{services.ErrOrderNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyOrderNotFound, ""},
	{services.ErrContentNotFound, http.StatusNotFound, "NOT_FOUND", i18n.KeyContentNotFound, ""},
	{services.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "", ""},
	{services.ErrTraderExists, http.StatusConflict, "ALREADY_EXISTS", i18n.KeyAuthTraderExists, ""},
	{services.ErrListingExists, http.StatusConflict, "ALREADY_EXISTS", i18n.KeyListingExists, ""},
	{services.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "", ""},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", i18n.KeyAuthInvalidCredentials, ""},
	{services.ErrTraderSuspended, http.StatusForbidden, "TRADER_SUSPENDED", i18n.KeyTraderSuspended, ""},
	{services.ErrForbidden, http.StatusForbidden, "FORBIDDEN", i18n.KeyAccessDenied, ""},
	{services.ErrContentTooLarge, http.StatusRequestEntityTooLarge, "CONTENT_TOO_LARGE", i18n.KeyContentTooLarge, ""},
	{services.ErrSignerUnavailable, http.StatusBadRequest, "SIGNER_UNAVAILABLE", i18n.KeySignerUnavailable, ""},
	{ledger.ErrBalanceVerificationFailed, http.StatusBadRequest, "BALANCE_VERIFICATION_FAILED", i18n.KeyBalanceVerificationFailed, ""},
	{ledger.ErrVerificationFailed, http.StatusBadRequest, "VERIFICATION_FAILED", i18n.KeyVerificationFailed, ""},
	{ledger.ErrUnknownChannel, http.StatusBadRequest, "UNKNOWN_CHANNEL", i18n.KeyUnknownChannel, ""},
	{ledger.ErrTransactionTimeout, http.StatusBadRequest, "TRANSACTION_TIMEOUT", i18n.KeyTransactionTimeout, ""},
	{ledger.ErrTransactionFailed, http.StatusBadRequest, "TRANSACTION_FAILED", i18n.KeyTransactionFailed, ""},
	{target: ledger.ErrInsufficientFunds, status: http.StatusBadRequest, code: "CONSTRAINT_VIOLATION", key: i18n.KeyInsufficientFunds, reason: "insufficient_funds"},
	{ledger.ErrConstraintViolation, http.StatusBadRequest, "CONSTRAINT_VIOLATION", i18n.KeyConstraintViolation, ""},
	{ledger.ErrInvalidSignature, http.StatusBadRequest, "INVALID_SIGNATURE", i18n.KeyInvalidSignature, ""},
	{ledger.ErrUnsupported, http.StatusNotImplemented, "UNSUPPORTED", "", ""},
	{ledger.ErrLedgerUnavailable, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", i18n.KeyLedgerUnavailable, ""},
}

// respondError turns a service error into the response envelope. The
// translated message is for people; code and details are for clients.
func respondError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(validationErrs))
		return
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := err.Error()
		if m.key != "" {
			message = i18n.T(lang, m.key)
		}
		details := errorDetails(err)
		if m.reason != "" {
			details = gin.H{"reason": m.reason, "error": err.Error()}
		}
		utils.ErrorResponse(c, m.status, m.code, message, details)
		return
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
	}).Error("Unhandled request error")
	utils.InternalErrorResponse(c, "")
}

func errorDetails(err error) interface{} {
	var txErr *ledger.TxError
	if errors.As(err, &txErr) {
		return gin.H{
			"error":      err.Error(),
			"tx":         txErr.TxHash,
			"gas":        txErr.Gas,
			"gas_used":   txErr.GasUsed,
			"out_of_gas": txErr.OutOfGas(),
		}
	}
	return err.Error()
}
