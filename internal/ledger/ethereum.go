// internal/ledger/ethereum.go
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/scrylabs/scry-backend/internal/events"
)

const tokenABIJSON = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"_owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"_from","type":"address","indexed":true},
             {"name":"_to","type":"address","indexed":true},
             {"name":"_value","type":"uint256","indexed":false}]}
]`

// The escrow transfer is the ERC223 overload carrying the open payload.
const tokenEscrowABIJSON = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"},{"name":"_data","type":"bytes"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const channelABIJSON = `[
  {"type":"function","name":"close","stateMutability":"nonpayable",
   "inputs":[{"name":"_sender_address","type":"address"},
             {"name":"_open_block_number","type":"uint32"},
             {"name":"_balance","type":"uint192"},
             {"name":"_balance_msg_sig","type":"bytes"},
             {"name":"_verifier","type":"address"},
             {"name":"_cid","type":"string"},
             {"name":"_verify_sig","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"getChannelInfo","stateMutability":"view",
   "inputs":[{"name":"_sender_address","type":"address"},
             {"name":"_receiver_address","type":"address"},
             {"name":"_open_block_number","type":"uint32"}],
   "outputs":[{"name":"","type":"bytes32"},{"name":"","type":"uint192"}]},
  {"type":"event","name":"ChannelCreated","anonymous":false,
   "inputs":[{"name":"_sender_address","type":"address","indexed":true},
             {"name":"_receiver_address","type":"address","indexed":true},
             {"name":"_deposit","type":"uint192","indexed":false}]},
  {"type":"event","name":"ChannelSettled","anonymous":false,
   "inputs":[{"name":"_sender_address","type":"address","indexed":true},
             {"name":"_receiver_address","type":"address","indexed":true},
             {"name":"_open_block_number","type":"uint32","indexed":true},
             {"name":"_balance","type":"uint192","indexed":false},
             {"name":"_receiver_tokens","type":"uint192","indexed":false}]}
]`

// RPCClient is the subset of ethclient.Client the ledger relies on.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

type EthereumConfig struct {
	RPCURL          string
	TokenAddress    common.Address
	ChannelAddress  common.Address
	Owner           common.Address
	KeystoreDir     string
	Passphrase      string
	FinalityTimeout time.Duration
	PollInterval    time.Duration
	OpenGas         uint64
	CloseGas        uint64
	TransferGas     uint64
}

// Ethereum settles channels against the deployed token and channel
// contracts. Transactions from node-held accounts are signed with the
// configured keystore.
type Ethereum struct {
	client   RPCClient
	chainID  *big.Int
	cfg      EthereumConfig
	keystore *keystore.KeyStore
	emitter  events.Emitter

	tokenABI   abi.ABI
	escrowABI  abi.ABI
	channelABI abi.ABI

	// serializes nonce allocation for node-held accounts
	sendMu sync.Mutex
}

// DialEthereum connects to the RPC endpoint. Connectivity failures are
// reported as ErrLedgerUnavailable.
func DialEthereum(ctx context.Context, cfg EthereumConfig, emitter events.Emitter) (*Ethereum, error) {
	client, err := ethclient.DialContext(ctx, strings.TrimSpace(cfg.RPCURL))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrLedgerUnavailable, cfg.RPCURL, err)
	}

	var ks *keystore.KeyStore
	if cfg.KeystoreDir != "" {
		ks = keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	}

	eth, err := NewEthereum(ctx, client, cfg, ks, emitter)
	if err != nil {
		client.Close()
		return nil, err
	}
	return eth, nil
}

// NewEthereum builds a ledger over an existing client.
func NewEthereum(ctx context.Context, client RPCClient, cfg EthereumConfig, ks *keystore.KeyStore, emitter events.Emitter) (*Ethereum, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrLedgerUnavailable, err)
	}

	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.OpenGas == 0 {
		cfg.OpenGas = 200000
	}
	if cfg.CloseGas == 0 {
		cfg.CloseGas = 300000
	}
	if cfg.TransferGas == 0 {
		cfg.TransferGas = 100000
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	e := &Ethereum{
		client:   client,
		chainID:  chainID,
		cfg:      cfg,
		keystore: ks,
		emitter:  emitter,
	}
	for _, parsed := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&e.tokenABI, tokenABIJSON},
		{&e.escrowABI, tokenEscrowABIJSON},
		{&e.channelABI, channelABIJSON},
	} {
		if *parsed.dst, err = abi.JSON(strings.NewReader(parsed.json)); err != nil {
			return nil, fmt.Errorf("parse contract abi: %w", err)
		}
	}
	return e, nil
}

// Keystore exposes the node-held accounts for off-process signing helpers.
func (e *Ethereum) Keystore() *keystore.KeyStore {
	return e.keystore
}

func (e *Ethereum) Info(ctx context.Context) (*Info, error) {
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %v", ErrLedgerUnavailable, err)
	}
	return &Info{
		Driver:         "ethereum",
		ChainID:        e.chainID.String(),
		TokenAddress:   e.cfg.TokenAddress.Hex(),
		ChannelAddress: e.cfg.ChannelAddress.Hex(),
		Owner:          e.cfg.Owner.Hex(),
		LatestBlock:    head,
	}, nil
}

func (e *Ethereum) Balance(ctx context.Context, account common.Address) (int64, error) {
	out, err := e.call(ctx, e.cfg.TokenAddress, e.tokenABI, "balanceOf", account)
	if err != nil {
		return 0, fmt.Errorf("%w: balanceOf: %v", ErrLedgerUnavailable, err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("balanceOf: unexpected output %T", out[0])
	}
	return toInt64(balance)
}

func (e *Ethereum) Fund(ctx context.Context, account common.Address, amount int64) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fund amount must be positive", ErrConstraintViolation)
	}
	data, err := e.tokenABI.Pack("transfer", account, big.NewInt(amount))
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	receipt, err := e.send(ctx, e.cfg.Owner, e.cfg.TokenAddress, data, e.cfg.TransferGas)
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

func (e *Ethereum) OpenChannel(ctx context.Context, req OpenChannelRequest) (uint64, error) {
	if req.Amount <= 0 {
		return 0, fmt.Errorf("%w: deposit must be positive", ErrConstraintViolation)
	}
	if req.Buyer == req.Seller {
		return 0, fmt.Errorf("%w: buyer and seller are the same account", ErrConstraintViolation)
	}

	balance, err := e.Balance(ctx, req.Buyer)
	if err != nil {
		return 0, err
	}
	if balance < req.Amount {
		return 0, fmt.Errorf("%w: balance %d below deposit %d", ErrInsufficientFunds, balance, req.Amount)
	}

	payload := EncodeOpenPayload(req.Seller, req.RewardPercent, req.VerifierCount)
	data, err := e.escrowABI.Pack("transfer", e.cfg.ChannelAddress, big.NewInt(req.Amount), payload)
	if err != nil {
		return 0, fmt.Errorf("pack escrow transfer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
	}).Info("Opening channel")

	receipt, err := e.send(ctx, req.Buyer, e.cfg.TokenAddress, data, e.cfg.OpenGas)
	if err != nil {
		return 0, err
	}
	return receipt.BlockNumber.Uint64(), nil
}

func (e *Ethereum) CloseChannel(ctx context.Context, req CloseChannelRequest) (*Receipt, error) {
	if req.Marker > math.MaxUint32 {
		return nil, fmt.Errorf("%w: marker %d out of range", ErrUnknownChannel, req.Marker)
	}
	// Reject bad proofs before paying for a transaction that would revert.
	if err := checkCloseSignatures(req, false); err != nil {
		return nil, err
	}
	info, err := e.channelDeposit(ctx, req.Buyer, req.Seller, req.Marker)
	if err != nil {
		return nil, err
	}
	if req.Amount < 0 || req.Amount > info.Amount {
		return nil, fmt.Errorf("%w: close amount %d outside deposit %d", ErrConstraintViolation, req.Amount, info.Amount)
	}

	verifierSig := req.VerifierSig
	if verifierSig == nil {
		verifierSig = []byte{}
	}
	data, err := e.channelABI.Pack("close",
		req.Buyer,
		uint32(req.Marker),
		big.NewInt(req.Amount),
		req.BalanceSig,
		req.Verifier,
		req.ContentID,
		verifierSig,
	)
	if err != nil {
		return nil, fmt.Errorf("pack close: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
		"marker": req.Marker,
	}).Info("Closing channel")

	receipt, err := e.send(ctx, req.Seller, e.cfg.ChannelAddress, data, e.cfg.CloseGas)
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

// ChannelInfo reads the deposit from the channel contract and recovers the
// payout terms from the escrow transfer that opened the channel.
func (e *Ethereum) ChannelInfo(ctx context.Context, buyer, seller common.Address, marker uint64) (*ChannelInfo, error) {
	info, err := e.channelDeposit(ctx, buyer, seller, marker)
	if err != nil {
		return nil, err
	}
	terms, err := e.channelTerms(ctx, buyer, seller, marker)
	if err != nil {
		logrus.WithError(err).WithField("channel", info.Key).Warn("Channel terms lookup failed")
		return info, nil
	}
	info.Terms = terms
	return info, nil
}

func (e *Ethereum) channelDeposit(ctx context.Context, buyer, seller common.Address, marker uint64) (*ChannelInfo, error) {
	if marker > math.MaxUint32 {
		return nil, fmt.Errorf("%w: marker %d out of range", ErrUnknownChannel, marker)
	}
	out, err := e.call(ctx, e.cfg.ChannelAddress, e.channelABI, "getChannelInfo", buyer, seller, uint32(marker))
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownChannel, err)
		}
		return nil, fmt.Errorf("%w: getChannelInfo: %v", ErrLedgerUnavailable, err)
	}
	key, ok := out[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("getChannelInfo: unexpected key %T", out[0])
	}
	deposit, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getChannelInfo: unexpected deposit %T", out[1])
	}
	if deposit.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, common.Hash(key).Hex())
	}
	amount, err := toInt64(deposit)
	if err != nil {
		return nil, err
	}
	return &ChannelInfo{
		Key:    common.Hash(key).Hex(),
		Buyer:  buyer.Hex(),
		Seller: seller.Hex(),
		Marker: marker,
		Amount: amount,
	}, nil
}

// channelTerms scans the token Transfer logs of the open block for the
// buyer's escrow deposit and decodes its payload.
func (e *Ethereum) channelTerms(ctx context.Context, buyer, seller common.Address, marker uint64) (*ChannelTerms, error) {
	transfer := e.tokenABI.Events["Transfer"].ID
	block := new(big.Int).SetUint64(marker)
	logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: block,
		ToBlock:   block,
		Addresses: []common.Address{e.cfg.TokenAddress},
		Topics: [][]common.Hash{
			{transfer},
			{common.BytesToHash(buyer.Bytes())},
			{common.BytesToHash(e.cfg.ChannelAddress.Bytes())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs: %v", ErrLedgerUnavailable, err)
	}

	escrow := e.escrowABI.Methods["transfer"]
	seen := make(map[common.Hash]bool)
	for _, lg := range logs {
		if lg.BlockNumber != marker || len(lg.Topics) < 3 || lg.Topics[0] != transfer ||
			common.BytesToAddress(lg.Topics[1].Bytes()) != buyer ||
			common.BytesToAddress(lg.Topics[2].Bytes()) != e.cfg.ChannelAddress {
			continue
		}
		if seen[lg.TxHash] {
			continue
		}
		seen[lg.TxHash] = true

		tx, _, err := e.client.TransactionByHash(ctx, lg.TxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %s: %v", ErrLedgerUnavailable, lg.TxHash.Hex(), err)
		}
		data := tx.Data()
		if len(data) < 4 || !bytes.Equal(data[:4], escrow.ID) {
			continue
		}
		args, err := escrow.Inputs.Unpack(data[4:])
		if err != nil || len(args) != 3 {
			continue
		}
		payload, ok := args[2].([]byte)
		if !ok {
			continue
		}
		payee, reward, verifiers, err := DecodeOpenPayload(payload)
		if err != nil || payee != seller {
			continue
		}
		return &ChannelTerms{RewardPercent: reward, VerifierCount: verifiers}, nil
	}
	return nil, fmt.Errorf("no escrow transfer for %s at block %d", seller.Hex(), marker)
}

func (e *Ethereum) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := e.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce: %v", ErrLedgerUnavailable, err)
	}
	return nonce, nil
}

// SubmitRawTx relays a client-signed transaction and waits for finality.
func (e *Ethereum) SubmitRawTx(ctx context.Context, raw []byte) (*Receipt, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: decode raw transaction: %v", ErrConstraintViolation, err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return nil, &TxError{TxHash: tx.Hash().Hex(), Gas: tx.Gas(), Reason: err.Error()}
	}
	receipt, err := e.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

func (e *Ethereum) Close() error {
	e.client.Close()
	return nil
}

// Watch bridges contract logs into the emitter until ctx is done, starting
// at fromBlock. Zero starts after the current head.
func (e *Ethereum) Watch(ctx context.Context, fromBlock uint64) error {
	next := fromBlock
	if next == 0 {
		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("%w: block number: %v", ErrLedgerUnavailable, err)
		}
		next = head + 1
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Ledger watch: block number failed")
			continue
		}
		if head < next {
			continue
		}

		logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(next),
			ToBlock:   new(big.Int).SetUint64(head),
			Addresses: []common.Address{e.cfg.TokenAddress, e.cfg.ChannelAddress},
		})
		if err != nil {
			logrus.WithError(err).Warn("Ledger watch: filter logs failed")
			continue
		}
		for _, lg := range logs {
			ev, err := e.decodeLog(lg)
			if err != nil {
				logrus.WithError(err).WithField("tx", lg.TxHash.Hex()).Debug("Ledger watch: skipping log")
				continue
			}
			e.emitter.Publish(ev)
		}
		next = head + 1
	}
}

func (e *Ethereum) decodeLog(lg types.Log) (events.Event, error) {
	if len(lg.Topics) == 0 {
		return events.Event{}, errors.New("anonymous log")
	}
	contract := e.channelABI
	if lg.Address == e.cfg.TokenAddress {
		contract = e.tokenABI
	}
	event, err := contract.EventByID(lg.Topics[0])
	if err != nil {
		return events.Event{}, err
	}

	raw := make(map[string]interface{})
	if len(lg.Data) > 0 {
		if err := contract.UnpackIntoMap(raw, event.Name, lg.Data); err != nil {
			return events.Event{}, fmt.Errorf("unpack %s: %w", event.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(raw, indexed, lg.Topics[1:]); err != nil {
		return events.Event{}, fmt.Errorf("topics %s: %w", event.Name, err)
	}

	args := make(map[string]interface{}, len(raw))
	for name, value := range raw {
		args[argName(name)] = argValue(value)
	}
	return events.Event{Kind: event.Name, Args: args, Block: events.AtBlock(lg.BlockNumber)}, nil
}

func (e *Ethereum) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contract.Unpack(method, out)
}

// send signs a transaction from a node-held account and waits for it.
func (e *Ethereum) send(ctx context.Context, from, to common.Address, data []byte, gas uint64) (*types.Receipt, error) {
	if e.keystore == nil {
		return nil, fmt.Errorf("%w: no keystore configured for %s", ErrUnsupported, from.Hex())
	}

	signed, err := e.signAndSend(ctx, from, to, data, gas)
	if err != nil {
		return nil, err
	}
	return e.waitMined(ctx, signed)
}

func (e *Ethereum) signAndSend(ctx context.Context, from, to common.Address, data []byte, gas uint64) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrLedgerUnavailable, err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", ErrLedgerUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})
	signed, err := e.keystore.SignTxWithPassphrase(accounts.Account{Address: from}, e.cfg.Passphrase, tx, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction for %s: %w", from.Hex(), err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, &TxError{TxHash: signed.Hash().Hex(), Gas: gas, Reason: err.Error()}
	}
	return signed, nil
}

// waitMined polls for the receipt until it appears or the finality window
// closes. A reverted receipt becomes a TxError carrying gas figures.
func (e *Ethereum) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FinalityTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	hash := tx.Hash()
	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			txErr := &TxError{TxHash: hash.Hex(), Gas: tx.Gas(), GasUsed: receipt.GasUsed, Reason: "reverted"}
			logrus.WithFields(logrus.Fields{
				"tx":       hash.Hex(),
				"gas":      txErr.Gas,
				"gas_used": txErr.GasUsed,
			}).Warn("Ledger transaction failed")
			return nil, txErr
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			logrus.WithError(err).WithField("tx", hash.Hex()).Debug("Receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, &TxError{TxHash: hash.Hex(), Gas: tx.Gas(), Timeout: true}
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{TxHash: r.TxHash.Hex(), GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.Block = r.BlockNumber.Uint64()
	}
	return out
}

func toInt64(v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount %s exceeds int64", v.String())
	}
	return v.Int64(), nil
}

func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "invalid opcode")
}

// argName maps contract argument names onto event field names, e.g.
// _sender_address becomes sender.
func argName(name string) string {
	name = strings.TrimPrefix(name, "_")
	return strings.TrimSuffix(name, "_address")
}

func argValue(v interface{}) interface{} {
	switch val := v.(type) {
	case common.Address:
		return hexAddr(val)
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case [32]byte:
		return common.Hash(val).Hex()
	case []byte:
		return hexutil.Encode(val)
	default:
		return v
	}
}
