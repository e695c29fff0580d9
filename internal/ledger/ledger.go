// internal/ledger/ledger.go
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Ledger is the settlement layer boundary. Mutating calls block until the
// underlying transaction is final or ctx expires; they are never retried
// internally.
type Ledger interface {
	Info(ctx context.Context) (*Info, error)
	Balance(ctx context.Context, account common.Address) (int64, error)
	Fund(ctx context.Context, account common.Address, amount int64) (*Receipt, error)
	OpenChannel(ctx context.Context, req OpenChannelRequest) (uint64, error)
	CloseChannel(ctx context.Context, req CloseChannelRequest) (*Receipt, error)
	ChannelInfo(ctx context.Context, buyer, seller common.Address, marker uint64) (*ChannelInfo, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	SubmitRawTx(ctx context.Context, raw []byte) (*Receipt, error)
	Close() error
}

type Info struct {
	Driver         string `json:"driver"`
	ChainID        string `json:"chain_id"`
	TokenAddress   string `json:"token_address"`
	ChannelAddress string `json:"channel_address"`
	Owner          string `json:"owner"`
	LatestBlock    uint64 `json:"latest_block"`
}

type Receipt struct {
	TxHash  string `json:"tx_hash"`
	Block   uint64 `json:"block"`
	GasUsed uint64 `json:"gas_used"`
}

type ChannelInfo struct {
	Key    string `json:"key"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Marker uint64 `json:"marker"`
	Amount int64  `json:"amount"`

	// Nil when the driver cannot recover the open payload.
	Terms *ChannelTerms `json:"terms,omitempty"`
}

// ChannelTerms are the payout terms written into the open payload. The
// ledger settles with these, whatever the order recorded.
type ChannelTerms struct {
	RewardPercent uint32 `json:"reward_percent"`
	VerifierCount uint32 `json:"verifier_count"`
}

type OpenChannelRequest struct {
	Buyer         common.Address
	Seller        common.Address
	Amount        int64
	RewardPercent uint32
	VerifierCount uint32
}

// CloseChannelRequest carries everything the ledger needs to validate and
// settle a channel. Verifier is the zero address when the order has none.
type CloseChannelRequest struct {
	Buyer       common.Address
	Seller      common.Address
	Verifier    common.Address
	Marker      uint64
	ContentID   string
	Amount      int64
	BalanceSig  []byte
	VerifierSig []byte
}

func (r CloseChannelRequest) HasVerifier() bool {
	return r.Verifier != (common.Address{})
}

// ChannelKey derives the channel identity from (buyer, seller, marker).
func ChannelKey(buyer, seller common.Address, marker uint64) common.Hash {
	return ethcrypto.Keccak256Hash(
		buyer.Bytes(),
		seller.Bytes(),
		[]byte(strconv.FormatUint(marker, 10)),
	)
}

// OpenPayloadLength is seller(20) | reward percent(4) | verifier count(4).
const OpenPayloadLength = common.AddressLength + 8

// EncodeOpenPayload builds the data attached to the escrow transfer so the
// channel contract can validate the payout split on close.
func EncodeOpenPayload(seller common.Address, rewardPercent, verifierCount uint32) []byte {
	payload := make([]byte, OpenPayloadLength)
	copy(payload, seller.Bytes())
	binary.BigEndian.PutUint32(payload[common.AddressLength:], rewardPercent)
	binary.BigEndian.PutUint32(payload[common.AddressLength+4:], verifierCount)
	return payload
}

func DecodeOpenPayload(payload []byte) (common.Address, uint32, uint32, error) {
	if len(payload) != OpenPayloadLength {
		return common.Address{}, 0, 0, fmt.Errorf("open payload: expected %d bytes, got %d", OpenPayloadLength, len(payload))
	}
	seller := common.BytesToAddress(payload[:common.AddressLength])
	reward := binary.BigEndian.Uint32(payload[common.AddressLength:])
	verifiers := binary.BigEndian.Uint32(payload[common.AddressLength+4:])
	return seller, reward, verifiers, nil
}

// SettlementSplit returns the seller payout and verifier reward for a close
// of amount. Without a verifier the whole amount goes to the seller.
func SettlementSplit(amount int64, rewardPercent uint32, hasVerifier bool) (sellerPart, reward int64) {
	if !hasVerifier || rewardPercent == 0 {
		return amount, 0
	}
	reward = Reward(amount, rewardPercent)
	return amount - reward, reward
}

// Reward is floor(amount * pct / 100) with pct capped at 100. The split
// form keeps the product inside int64 for any amount.
func Reward(amount int64, pct uint32) int64 {
	if amount <= 0 || pct == 0 {
		return 0
	}
	p := int64(pct)
	if p > 100 {
		p = 100
	}
	return amount/100*p + amount%100*p/100
}
