// internal/services/ledger_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/ledger"
)

// LedgerService fronts the settlement layer for handlers and the order
// service. Read-only calls are retried on connectivity errors; mutating
// calls are attempted exactly once.
type LedgerService struct {
	ledger  ledger.Ledger
	metrics *Metrics
	retries int
	backoff time.Duration
}

type FundRequest struct {
	Account string `json:"account" validate:"required,ledger_address"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
}

type RawTxRequest struct {
	Data string `json:"data" validate:"required"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

func NewLedgerService(l ledger.Ledger, cfg *config.Config, metrics *Metrics) *LedgerService {
	retries := cfg.Ledger.ReadRetryAttempts
	if retries < 1 {
		retries = 1
	}
	return &LedgerService{
		ledger:  l,
		metrics: metrics,
		retries: retries,
		backoff: 200 * time.Millisecond,
	}
}

func (s *LedgerService) Info(ctx context.Context) (*ledger.Info, error) {
	var info *ledger.Info
	err := s.read(ctx, "info", func() error {
		var err error
		info, err = s.ledger.Info(ctx)
		return err
	})
	return info, err
}

func (s *LedgerService) Balance(ctx context.Context, account string) (*BalanceResponse, error) {
	addr, err := parseAccount(account)
	if err != nil {
		return nil, err
	}

	var balance int64
	err = s.read(ctx, "balance", func() error {
		var err error
		balance, err = s.ledger.Balance(ctx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{Account: addr.Hex(), Balance: balance}, nil
}

func (s *LedgerService) ChannelInfo(ctx context.Context, buyer, seller string, marker uint64) (*ledger.ChannelInfo, error) {
	buyerAddr, sellerAddr, err := parsePair(buyer, seller)
	if err != nil {
		return nil, err
	}

	var info *ledger.ChannelInfo
	err = s.read(ctx, "channel_info", func() error {
		var err error
		info, err = s.ledger.ChannelInfo(ctx, buyerAddr, sellerAddr, marker)
		return err
	})
	return info, err
}

func (s *LedgerService) Nonce(ctx context.Context, account string) (uint64, error) {
	addr, err := parseAccount(account)
	if err != nil {
		return 0, err
	}

	var nonce uint64
	err = s.read(ctx, "nonce", func() error {
		var err error
		nonce, err = s.ledger.Nonce(ctx, addr)
		return err
	})
	return nonce, err
}

// Fund moves tokens from the ledger owner to a trader account.
func (s *LedgerService) Fund(ctx context.Context, req *FundRequest) (*ledger.Receipt, error) {
	addr, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}

	receipt, err := s.ledger.Fund(ctx, addr, req.Amount)
	s.metrics.observeLedger("fund", err)
	if err != nil {
		logLedgerFailure("fund", err, logrus.Fields{"account": addr.Hex(), "amount": req.Amount})
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"account": addr.Hex(),
		"amount":  req.Amount,
		"tx":      receipt.TxHash,
	}).Info("Account funded")
	return receipt, nil
}

// SubmitRawTx relays a client-signed transaction and waits for finality.
func (s *LedgerService) SubmitRawTx(ctx context.Context, data string) (*ledger.Receipt, error) {
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: raw transaction is not hex: %v", ledger.ErrConstraintViolation, err)
	}

	receipt, err := s.ledger.SubmitRawTx(ctx, raw)
	s.metrics.observeLedger("raw_tx", err)
	if err != nil {
		logLedgerFailure("raw_tx", err, nil)
		return nil, err
	}
	return receipt, nil
}

func (s *LedgerService) openChannel(ctx context.Context, req ledger.OpenChannelRequest) (uint64, error) {
	marker, err := s.ledger.OpenChannel(ctx, req)
	s.metrics.observeLedger("open", err)
	fields := logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
	}
	if err != nil {
		logLedgerFailure("open", err, fields)
		return 0, err
	}
	fields["marker"] = marker
	logrus.WithFields(fields).Info("Channel opened")
	return marker, nil
}

func (s *LedgerService) closeChannel(ctx context.Context, req ledger.CloseChannelRequest) (*ledger.Receipt, error) {
	receipt, err := s.ledger.CloseChannel(ctx, req)
	s.metrics.observeLedger("close", err)
	fields := logrus.Fields{
		"amount": req.Amount,
		"buyer":  req.Buyer.Hex(),
		"seller": req.Seller.Hex(),
		"marker": req.Marker,
	}
	if err != nil {
		logLedgerFailure("close", err, fields)
		return nil, err
	}
	fields["tx"] = receipt.TxHash
	logrus.WithFields(fields).Info("Channel closed")
	return receipt, nil
}

// read retries fn while the ledger reports connectivity trouble.
func (s *LedgerService) read(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ledger.ErrLedgerUnavailable) || attempt == s.retries {
			break
		}
		logrus.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempt}).Warn("Ledger read failed, retrying")
		select {
		case <-ctx.Done():
			s.metrics.observeLedger(op, err)
			return err
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	s.metrics.observeLedger(op, err)
	return err
}

func logLedgerFailure(op string, err error, fields logrus.Fields) {
	entry := logrus.WithError(err).WithField("op", op)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	var txErr *ledger.TxError
	if errors.As(err, &txErr) {
		entry = entry.WithFields(logrus.Fields{
			"tx":         txErr.TxHash,
			"gas":        txErr.Gas,
			"gas_used":   txErr.GasUsed,
			"out_of_gas": txErr.OutOfGas(),
		})
	}
	entry.Warn("Ledger operation failed")
}
