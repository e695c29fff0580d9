// internal/signature/codec.go
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature cannot be decoded or
// public-key recovery does not yield a well-formed address.
var ErrInvalidSignature = errors.New("invalid signature")

// Length of a recoverable secp256k1 signature: r || s || v.
const Length = 65

// BalanceMessage builds the text a buyer signs to release amount to seller
// from the channel opened at marker. The seller address has a fixed width
// and the two integers are separated by distinct labels, so distinct
// (seller, marker, amount) triples never share a message.
func BalanceMessage(seller common.Address, marker uint64, amount int64) []byte {
	return []byte(fmt.Sprintf("Receiver: %s, Balance: %d, Channel ID: %d",
		strings.ToLower(seller.Hex()), amount, marker))
}

// VerificationMessage builds the text a verifier signs to attest that the
// content identified by contentID was delivered by seller.
func VerificationMessage(seller common.Address, contentID string) []byte {
	return []byte(fmt.Sprintf("Receiver: %s, Content: %s",
		strings.ToLower(seller.Hex()), contentID))
}

// Digest is the personal-sign hash of message, matching what wallets
// produce for eth_sign / personal_sign.
func Digest(message []byte) []byte {
	return accounts.TextHash(message)
}

// Sign produces a wallet-compatible signature (v in {27, 28}) over message.
// Only signers living outside the request path call this.
func Sign(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(Digest(message), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address whose key produced sig over message.
func RecoverSigner(message, sig []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, Length, len(sig))
	}

	normalized := make([]byte, Length)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id %d", ErrInvalidSignature, sig[64])
	}

	pub, err := ethcrypto.SigToPub(Digest(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SameAddress compares two ledger addresses ignoring hex case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

// Encode renders a signature as 0x-prefixed hex.
func Encode(sig []byte) string {
	return hexutil.Encode(sig)
}

// Decode accepts hex with or without the 0x prefix.
func Decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSignature)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// ParseAddress validates a hex ledger address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid ledger address %q", s)
	}
	return common.HexToAddress(s), nil
}
