// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	traderNamePattern = regexp.MustCompile("^[a-zA-Z0-9_]+$")
	signaturePattern  = regexp.MustCompile("^(0x)?[0-9a-fA-F]{130}$")
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("strong_password", validateStrongPassword)
	validate.RegisterValidation("trader_name", validateTraderName)
	validate.RegisterValidation("ledger_address", validateLedgerAddress)
	validate.RegisterValidation("signature", validateSignature)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

func validateTraderName(fl validator.FieldLevel) bool {
	name := fl.Field().String()

	// Letters, digits and underscores, 3-64 characters
	if len(name) < 3 || len(name) > 64 {
		return false
	}

	return traderNamePattern.MatchString(name)
}

func validateLedgerAddress(fl validator.FieldLevel) bool {
	return IsLedgerAddress(fl.Field().String())
}

// IsLedgerAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsLedgerAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func validateSignature(fl validator.FieldLevel) bool {
	return signaturePattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "strong_password":
		return "Password must contain at least 8 characters with uppercase, lowercase, number, and special character"
	case "trader_name":
		return "Name must be 3-64 characters and contain only letters, numbers, and underscores"
	case "ledger_address":
		return e.Field() + " must be a 0x-prefixed 20-byte hex address"
	case "signature":
		return e.Field() + " must be a 65-byte hex signature"
	default:
		return e.Field() + " is invalid"
	}
}
