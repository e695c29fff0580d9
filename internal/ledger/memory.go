// internal/ledger/memory.go
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/signature"
)

var (
	memoryTokenAddress   = common.HexToAddress("0x000000000000000000000000000000000000700c")
	memoryChannelAddress = common.HexToAddress("0x000000000000000000000000000000000000c4a1")
)

type memoryChannel struct {
	buyer         common.Address
	seller        common.Address
	marker        uint64
	deposit       int64
	rewardPercent uint32
	verifierCount uint32
}

// Memory is an in-process ledger with the same settlement rules as the
// channel contract. Every mutation advances the block counter by one and the
// new height doubles as the channel marker.
type Memory struct {
	mu       sync.Mutex
	owner    common.Address
	block    uint64
	balances map[common.Address]int64
	nonces   map[common.Address]uint64
	channels map[common.Hash]*memoryChannel
	failNext error
	emitter  events.Emitter
}

type MemoryOption func(*Memory)

func WithEmitter(emitter events.Emitter) MemoryOption {
	return func(m *Memory) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// NewMemory mints supply to owner.
func NewMemory(owner common.Address, supply int64, opts ...MemoryOption) *Memory {
	m := &Memory{
		owner:    owner,
		balances: map[common.Address]int64{owner: supply},
		nonces:   make(map[common.Address]uint64),
		channels: make(map[common.Hash]*memoryChannel),
		emitter:  events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next mutating call return err without touching state.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *Memory) Info(ctx context.Context) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Info{
		Driver:         "memory",
		ChainID:        "memory",
		TokenAddress:   memoryTokenAddress.Hex(),
		ChannelAddress: memoryChannelAddress.Hex(),
		Owner:          m.owner.Hex(),
		LatestBlock:    m.block,
	}, nil
}

func (m *Memory) Balance(ctx context.Context, account common.Address) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) Fund(ctx context.Context, account common.Address, amount int64) (*Receipt, error) {
	var emitted []events.Event
	defer func() { m.publish(emitted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.precheck(ctx); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fund amount must be positive", ErrConstraintViolation)
	}
	if m.balances[m.owner] < amount {
		return nil, fmt.Errorf("%w: owner holds %d, need %d", ErrInsufficientFunds, m.balances[m.owner], amount)
	}

	m.balances[m.owner] -= amount
	m.balances[account] += amount
	m.nonces[m.owner]++
	m.block++

	emitted = append(emitted, transferEvent(m.owner, account, amount, m.block))
	return m.receipt("fund", account.Bytes()), nil
}

func (m *Memory) OpenChannel(ctx context.Context, req OpenChannelRequest) (uint64, error) {
	var emitted []events.Event
	defer func() { m.publish(emitted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.precheck(ctx); err != nil {
		return 0, err
	}
	if req.Amount <= 0 {
		return 0, fmt.Errorf("%w: deposit must be positive", ErrConstraintViolation)
	}
	if req.Buyer == req.Seller {
		return 0, fmt.Errorf("%w: buyer and seller are the same account", ErrConstraintViolation)
	}
	if m.balances[req.Buyer] < req.Amount {
		return 0, fmt.Errorf("%w: balance %d below deposit %d", ErrInsufficientFunds, m.balances[req.Buyer], req.Amount)
	}

	m.block++
	marker := m.block
	key := ChannelKey(req.Buyer, req.Seller, marker)
	m.balances[req.Buyer] -= req.Amount
	m.nonces[req.Buyer]++
	m.channels[key] = &memoryChannel{
		buyer:         req.Buyer,
		seller:        req.Seller,
		marker:        marker,
		deposit:       req.Amount,
		rewardPercent: req.RewardPercent,
		verifierCount: req.VerifierCount,
	}

	logrus.WithFields(logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
		"marker": marker,
	}).Debug("Channel opened")

	emitted = append(emitted,
		transferEvent(req.Buyer, memoryChannelAddress, req.Amount, marker),
		events.Event{
			Kind: events.KindChannelCreated,
			Args: map[string]interface{}{
				"sender":    hexAddr(req.Buyer),
				"receiver":  hexAddr(req.Seller),
				"deposit":   req.Amount,
				"reward":    req.RewardPercent,
				"verifiers": req.VerifierCount,
			},
			Block: events.AtBlock(marker),
		},
	)
	return marker, nil
}

func (m *Memory) CloseChannel(ctx context.Context, req CloseChannelRequest) (*Receipt, error) {
	var emitted []events.Event
	defer func() { m.publish(emitted) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.precheck(ctx); err != nil {
		return nil, err
	}

	key := ChannelKey(req.Buyer, req.Seller, req.Marker)
	ch, ok := m.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, key.Hex())
	}

	if err := checkCloseSignatures(req, ch.verifierCount > 0); err != nil {
		return nil, err
	}
	if req.Amount < 0 || req.Amount > ch.deposit {
		return nil, fmt.Errorf("%w: close amount %d outside deposit %d", ErrConstraintViolation, req.Amount, ch.deposit)
	}

	sellerPart, reward := SettlementSplit(req.Amount, ch.rewardPercent, req.HasVerifier())
	refund := ch.deposit - req.Amount

	delete(m.channels, key)
	m.balances[req.Seller] += sellerPart
	if reward > 0 {
		m.balances[req.Verifier] += reward
	}
	if refund > 0 {
		m.balances[req.Buyer] += refund
	}
	m.nonces[req.Seller]++
	m.block++

	logrus.WithFields(logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
		"marker": req.Marker,
		"reward": reward,
	}).Debug("Channel settled")

	emitted = append(emitted, transferEvent(memoryChannelAddress, req.Seller, sellerPart, m.block))
	if reward > 0 {
		emitted = append(emitted, transferEvent(memoryChannelAddress, req.Verifier, reward, m.block))
	}
	if refund > 0 {
		emitted = append(emitted, transferEvent(memoryChannelAddress, req.Buyer, refund, m.block))
	}
	settled := map[string]interface{}{
		"sender":   hexAddr(req.Buyer),
		"receiver": hexAddr(req.Seller),
		"marker":   req.Marker,
		"balance":  req.Amount,
		"reward":   reward,
		"cid":      req.ContentID,
	}
	if req.HasVerifier() {
		settled["verifier"] = hexAddr(req.Verifier)
	}
	emitted = append(emitted, events.Event{Kind: events.KindChannelSettled, Args: settled, Block: events.AtBlock(m.block)})

	return m.receipt("close", key.Bytes()), nil
}

func (m *Memory) ChannelInfo(ctx context.Context, buyer, seller common.Address, marker uint64) (*ChannelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ChannelKey(buyer, seller, marker)
	ch, ok := m.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, key.Hex())
	}
	return &ChannelInfo{
		Key:    key.Hex(),
		Buyer:  ch.buyer.Hex(),
		Seller: ch.seller.Hex(),
		Marker: ch.marker,
		Amount: ch.deposit,
		Terms:  &ChannelTerms{RewardPercent: ch.rewardPercent, VerifierCount: ch.verifierCount},
	}, nil
}

func (m *Memory) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

func (m *Memory) SubmitRawTx(ctx context.Context, raw []byte) (*Receipt, error) {
	return nil, fmt.Errorf("%w: raw transactions need an ethereum ledger", ErrUnsupported)
}

func (m *Memory) Close() error { return nil }

// precheck runs with m.mu held.
func (m *Memory) precheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TxError{Timeout: true, Reason: err.Error()}
	}
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

func (m *Memory) receipt(op string, salt []byte) *Receipt {
	hash := ethcrypto.Keccak256Hash([]byte(op), salt, []byte(strconv.FormatUint(m.block, 10)))
	return &Receipt{TxHash: hash.Hex(), Block: m.block}
}

func (m *Memory) publish(evs []events.Event) {
	for _, ev := range evs {
		m.emitter.Publish(ev)
	}
}

// checkCloseSignatures validates the buyer's balance proof and, when the
// channel expects one or a verifier is named, the verifier's attestation.
func checkCloseSignatures(req CloseChannelRequest, verifierRequired bool) error {
	balanceMsg := signature.BalanceMessage(req.Seller, req.Marker, req.Amount)
	signer, err := signature.RecoverSigner(balanceMsg, req.BalanceSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceVerificationFailed, err)
	}
	if signer != req.Buyer {
		return fmt.Errorf("%w: signed by %s", ErrBalanceVerificationFailed, signer.Hex())
	}

	if !verifierRequired && !req.HasVerifier() {
		return nil
	}
	if !req.HasVerifier() {
		return fmt.Errorf("%w: channel requires a verifier", ErrVerificationFailed)
	}
	verifyMsg := signature.VerificationMessage(req.Seller, req.ContentID)
	signer, err = signature.RecoverSigner(verifyMsg, req.VerifierSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if signer != req.Verifier {
		return fmt.Errorf("%w: signed by %s", ErrVerificationFailed, signer.Hex())
	}
	return nil
}

func transferEvent(from, to common.Address, value int64, block uint64) events.Event {
	return events.Event{
		Kind: events.KindTransfer,
		Args: map[string]interface{}{
			"from":  hexAddr(from),
			"to":    hexAddr(to),
			"value": value,
		},
		Block: events.AtBlock(block),
	}
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
