// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeyInternalError = "internal_error"
	KeyAccessDenied  = "access_denied"
	KeyRateLimited   = "rate_limited"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthTraderExists       = "auth.trader_exists"
	KeyAuthPasswordChanged    = "auth.password_changed"

	// Traders
	KeyTraderNotFound  = "trader.not_found"
	KeyTraderSuspended = "trader.suspended"

	// Listings
	KeyListingNotFound = "listing.not_found"
	KeyListingExists   = "listing.exists"
	KeyContentNotFound = "content.not_found"
	KeyContentTooLarge = "content.too_large"

	// Orders
	KeyOrderNotFound = "order.not_found"

	// Ledger and authorization outcomes
	KeyConstraintViolation       = "ledger.constraint_violation"
	KeyBalanceVerificationFailed = "ledger.balance_verification_failed"
	KeyVerificationFailed        = "ledger.verification_failed"
	KeyTransactionFailed         = "ledger.transaction_failed"
	KeyTransactionTimeout        = "ledger.transaction_timeout"
	KeyUnknownChannel            = "ledger.unknown_channel"
	KeyInsufficientFunds         = "ledger.insufficient_funds"
	KeyLedgerUnavailable         = "ledger.unavailable"
	KeyInvalidSignature          = "ledger.invalid_signature"
	KeySignerUnavailable         = "ledger.signer_unavailable"
	KeyAuthorizationValid        = "ledger.authorization_valid"
)
