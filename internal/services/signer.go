// internal/services/signer.go
package services

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scrylabs/scry-backend/internal/signature"
)

// Signer produces authorizations for accounts whose keys the node holds in
// custody. Traders that keep their own keys sign off-process and never go
// through a Signer.
type Signer interface {
	CanSign(account common.Address) bool
	SignMessage(account common.Address, message []byte) ([]byte, error)
	Import(key *ecdsa.PrivateKey) (common.Address, error)
}

// KeySigner keeps raw private keys in memory.
type KeySigner struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewKeySigner(keys ...*ecdsa.PrivateKey) *KeySigner {
	s := &KeySigner{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for _, key := range keys {
		s.Import(key)
	}
	return s
}

// ParsePrivateKey accepts a hex secp256k1 key with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func (s *KeySigner) CanSign(account common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[account]
	return ok
}

func (s *KeySigner) SignMessage(account common.Address, message []byte) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.keys[account]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrSignerUnavailable)
	}
	return signature.Sign(message, key)
}

func (s *KeySigner) Import(key *ecdsa.PrivateKey) (common.Address, error) {
	address := ethcrypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	s.keys[address] = key
	s.mu.Unlock()
	return address, nil
}

// KeystoreSigner signs with encrypted keys from a go-ethereum keystore, the
// same store the ethereum ledger sends transactions from.
type KeystoreSigner struct {
	ks         *keystore.KeyStore
	passphrase string
}

func NewKeystoreSigner(ks *keystore.KeyStore, passphrase string) *KeystoreSigner {
	return &KeystoreSigner{ks: ks, passphrase: passphrase}
}

func (s *KeystoreSigner) CanSign(account common.Address) bool {
	return s.ks.HasAddress(account)
}

func (s *KeystoreSigner) SignMessage(account common.Address, message []byte) ([]byte, error) {
	if !s.ks.HasAddress(account) {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrSignerUnavailable)
	}
	sig, err := s.ks.SignHashWithPassphrase(accounts.Account{Address: account}, s.passphrase, signature.Digest(message))
	if err != nil {
		return nil, fmt.Errorf("keystore sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (s *KeystoreSigner) Import(key *ecdsa.PrivateKey) (common.Address, error) {
	acct, err := s.ks.ImportECDSA(key, s.passphrase)
	if errors.Is(err, keystore.ErrAccountAlreadyExists) {
		return ethcrypto.PubkeyToAddress(key.PublicKey), nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("keystore import: %w", err)
	}
	return acct.Address, nil
}
