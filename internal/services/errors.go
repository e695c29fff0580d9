// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrSignerUnavailable  = errors.New("no signer holds this account")
	ErrContentTooLarge    = errors.New("content too large")

	ErrTraderNotFound  = fmt.Errorf("trader %w", ErrNotFound)
	ErrListingNotFound = fmt.Errorf("listing %w", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("purchase order %w", ErrNotFound)
	ErrContentNotFound = fmt.Errorf("content %w", ErrNotFound)
	ErrTraderExists    = fmt.Errorf("trader %w", ErrAlreadyExists)
	ErrListingExists   = fmt.Errorf("listing %w", ErrAlreadyExists)
	ErrTraderSuspended = fmt.Errorf("trader not active: %w", ErrForbidden)
)

// translateDBError maps persistence failures onto the service taxonomy so
// handlers never see driver errors.
func translateDBError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case isDuplicate(err):
		return fmt.Errorf("%s: %w", what, ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// lookupError is translateDBError for single-record reads, reporting a
// miss with the resource's own sentinel.
func lookupError(err error, notFound error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, notFound)
	}
	return translateDBError(err, what)
}

func insertError(err error, exists error, what string) error {
	if err != nil && isDuplicate(err) {
		return fmt.Errorf("%s: %w", what, exists)
	}
	return translateDBError(err, what)
}

// isDuplicate recognizes unique violations from drivers that do not
// implement gorm's error translator.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
