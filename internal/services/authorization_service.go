// internal/services/authorization_service.go
package services

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/signature"
)

// AuthorizationService checks signed balance and verification proofs
// before they are recorded or submitted to the ledger. With a signer it
// also produces them for node-held accounts.
type AuthorizationService struct {
	signer Signer
}

func NewAuthorizationService(signer Signer) *AuthorizationService {
	return &AuthorizationService{signer: signer}
}

type BalanceAuthorization struct {
	Buyer     string `json:"buyer" validate:"required,ledger_address"`
	Seller    string `json:"seller" validate:"required,ledger_address"`
	Marker    uint64 `json:"marker" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Signature string `json:"signature" validate:"required,signature"`
}

type VerificationAuthorization struct {
	Seller    string `json:"seller" validate:"required,ledger_address"`
	ContentID string `json:"content_id" validate:"required"`
	Verifier  string `json:"verifier" validate:"required,ledger_address"`
	Signature string `json:"signature" validate:"required,signature"`
}

// VerifyBalanceAuthorization succeeds when sig over the balance message for
// (seller, marker, amount) was produced by buyer.
func (s *AuthorizationService) VerifyBalanceAuthorization(auth BalanceAuthorization) error {
	buyer, seller, err := parsePair(auth.Buyer, auth.Seller)
	if err != nil {
		return err
	}
	sig, err := signature.Decode(auth.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBalanceVerificationFailed, err)
	}

	signer, err := signature.RecoverSigner(signature.BalanceMessage(seller, auth.Marker, auth.Amount), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrBalanceVerificationFailed, err)
	}
	if signer != buyer {
		return fmt.Errorf("%w: signed by %s, expected %s", ledger.ErrBalanceVerificationFailed, signer.Hex(), buyer.Hex())
	}
	return nil
}

// VerifyVerificationAuthorization succeeds when sig over the verification
// message for (seller, contentID) was produced by verifier.
func (s *AuthorizationService) VerifyVerificationAuthorization(auth VerificationAuthorization) error {
	verifier, seller, err := parsePair(auth.Verifier, auth.Seller)
	if err != nil {
		return err
	}
	sig, err := signature.Decode(auth.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrVerificationFailed, err)
	}

	signer, err := signature.RecoverSigner(signature.VerificationMessage(seller, auth.ContentID), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrVerificationFailed, err)
	}
	if signer != verifier {
		return fmt.Errorf("%w: signed by %s, expected %s", ledger.ErrVerificationFailed, signer.Hex(), verifier.Hex())
	}
	return nil
}

type SignBalanceRequest struct {
	Seller string `json:"seller" validate:"required,ledger_address"`
	Marker uint64 `json:"marker" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

type SignVerificationRequest struct {
	Seller    string `json:"seller" validate:"required,ledger_address"`
	ContentID string `json:"content_id" validate:"required"`
}

type SignatureResponse struct {
	Account   string `json:"account"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// SignBalance has the node sign a balance authorization on behalf of a
// custodial buyer account.
func (s *AuthorizationService) SignBalance(account string, req *SignBalanceRequest) (*SignatureResponse, error) {
	buyer, seller, err := parsePair(account, req.Seller)
	if err != nil {
		return nil, err
	}
	return s.sign(buyer, signature.BalanceMessage(seller, req.Marker, req.Amount))
}

// SignVerification has the node sign a verification authorization on
// behalf of a custodial verifier account.
func (s *AuthorizationService) SignVerification(account string, req *SignVerificationRequest) (*SignatureResponse, error) {
	verifier, seller, err := parsePair(account, req.Seller)
	if err != nil {
		return nil, err
	}
	return s.sign(verifier, signature.VerificationMessage(seller, req.ContentID))
}

func (s *AuthorizationService) sign(account common.Address, message []byte) (*SignatureResponse, error) {
	if s.signer == nil || !s.signer.CanSign(account) {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrSignerUnavailable)
	}
	sig, err := s.signer.SignMessage(account, message)
	if err != nil {
		return nil, err
	}
	return &SignatureResponse{
		Account:   account.Hex(),
		Message:   string(message),
		Signature: signature.Encode(sig),
	}, nil
}

func parsePair(a, b string) (common.Address, common.Address, error) {
	first, err := parseAccount(a)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	second, err := parseAccount(b)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return first, second, nil
}

func parseAccount(s string) (common.Address, error) {
	addr, err := signature.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ledger.ErrConstraintViolation, err)
	}
	return addr, nil
}
