// internal/ledger/errors.go
package ledger

import (
	"errors"
	"fmt"

	"github.com/scrylabs/scry-backend/internal/signature"
)

var (
	ErrConstraintViolation       = errors.New("constraint violation")
	ErrBalanceVerificationFailed = errors.New("balance verification failed")
	ErrVerificationFailed        = errors.New("verification failed")
	ErrTransactionFailed         = errors.New("transaction failed")
	ErrTransactionTimeout        = errors.New("transaction timeout")
	ErrUnknownChannel            = errors.New("unknown channel")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrLedgerUnavailable         = errors.New("ledger unavailable")
	ErrUnsupported               = errors.New("operation not supported by ledger driver")

	// ErrInvalidSignature is shared with the signature codec so callers only
	// need one sentinel.
	ErrInvalidSignature = signature.ErrInvalidSignature
)

// TxError describes a ledger transaction that did not finalize successfully.
// Gas is the limit the transaction was submitted with; when GasUsed reaches
// it the transaction ran out of gas rather than being rejected.
type TxError struct {
	TxHash  string
	Gas     uint64
	GasUsed uint64
	Timeout bool
	Reason  string
}

func (e *TxError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transaction %s not final before deadline", e.TxHash)
	}
	if e.Reason != "" {
		return fmt.Sprintf("transaction %s failed: %s (gas %d/%d)", e.TxHash, e.Reason, e.GasUsed, e.Gas)
	}
	return fmt.Sprintf("transaction %s failed (gas %d/%d)", e.TxHash, e.GasUsed, e.Gas)
}

func (e *TxError) Unwrap() error {
	if e.Timeout {
		return ErrTransactionTimeout
	}
	return ErrTransactionFailed
}

// OutOfGas reports whether the transaction consumed its entire allowance.
func (e *TxError) OutOfGas() bool {
	return !e.Timeout && e.Gas > 0 && e.GasUsed >= e.Gas
}
