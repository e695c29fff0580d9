package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/signature"
)

type party struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newParty(t *testing.T) party {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return party{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func balanceSig(t *testing.T, buyer party, seller common.Address, marker uint64, amount int64) []byte {
	t.Helper()
	sig, err := signature.Sign(signature.BalanceMessage(seller, marker, amount), buyer.key)
	require.NoError(t, err)
	return sig
}

func verifySig(t *testing.T, verifier party, seller common.Address, cid string) []byte {
	t.Helper()
	sig, err := signature.Sign(signature.VerificationMessage(seller, cid), verifier.key)
	require.NoError(t, err)
	return sig
}

func TestMemoryFundAndBalance(t *testing.T) {
	ctx := context.Background()
	owner, buyer := newParty(t), newParty(t)
	rec := &recorder{}
	mem := NewMemory(owner.addr, 1000, WithEmitter(rec))

	_, err := mem.Fund(ctx, buyer.addr, 100)
	require.NoError(t, err)

	bal, err := mem.Balance(ctx, buyer.addr)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	bal, err = mem.Balance(ctx, owner.addr)
	require.NoError(t, err)
	assert.Equal(t, int64(900), bal)

	_, err = mem.Fund(ctx, buyer.addr, 5000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = mem.Fund(ctx, buyer.addr, 0)
	assert.ErrorIs(t, err, ErrConstraintViolation)

	assert.Equal(t, []string{events.KindTransfer}, rec.kinds())
}

func TestMemoryOpenCloseWithVerifier(t *testing.T) {
	ctx := context.Background()
	owner, buyer, seller, verifier := newParty(t), newParty(t), newParty(t), newParty(t)
	rec := &recorder{}
	mem := NewMemory(owner.addr, 1000, WithEmitter(rec))
	_, err := mem.Fund(ctx, buyer.addr, 100)
	require.NoError(t, err)

	marker, err := mem.OpenChannel(ctx, OpenChannelRequest{
		Buyer: buyer.addr, Seller: seller.addr, Amount: 40, RewardPercent: 10, VerifierCount: 1,
	})
	require.NoError(t, err)

	info, err := mem.ChannelInfo(ctx, buyer.addr, seller.addr, marker)
	require.NoError(t, err)
	assert.Equal(t, int64(40), info.Amount)
	assert.Equal(t, ChannelKey(buyer.addr, seller.addr, marker).Hex(), info.Key)
	require.NotNil(t, info.Terms)
	assert.Equal(t, ChannelTerms{RewardPercent: 10, VerifierCount: 1}, *info.Terms)

	bal, _ := mem.Balance(ctx, buyer.addr)
	assert.Equal(t, int64(60), bal)

	cid := "QmContent"
	receipt, err := mem.CloseChannel(ctx, CloseChannelRequest{
		Buyer: buyer.addr, Seller: seller.addr, Verifier: verifier.addr,
		Marker: marker, ContentID: cid, Amount: 40,
		BalanceSig:  balanceSig(t, buyer, seller.addr, marker, 40),
		VerifierSig: verifySig(t, verifier, seller.addr, cid),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Greater(t, receipt.Block, marker)

	sellerBal, _ := mem.Balance(ctx, seller.addr)
	verifierBal, _ := mem.Balance(ctx, verifier.addr)
	buyerBal, _ := mem.Balance(ctx, buyer.addr)
	assert.Equal(t, int64(36), sellerBal)
	assert.Equal(t, int64(4), verifierBal)
	assert.Equal(t, int64(60), buyerBal)

	_, err = mem.ChannelInfo(ctx, buyer.addr, seller.addr, marker)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	assert.Equal(t, []string{
		events.KindTransfer,
		events.KindTransfer, events.KindChannelCreated,
		events.KindTransfer, events.KindTransfer, events.KindChannelSettled,
	}, rec.kinds())
}

func TestMemoryCloseIsSingleUse(t *testing.T) {
	ctx := context.Background()
	owner, buyer, seller := newParty(t), newParty(t), newParty(t)
	mem := NewMemory(owner.addr, 1000)
	_, err := mem.Fund(ctx, buyer.addr, 50)
	require.NoError(t, err)

	marker, err := mem.OpenChannel(ctx, OpenChannelRequest{Buyer: buyer.addr, Seller: seller.addr, Amount: 50})
	require.NoError(t, err)

	req := CloseChannelRequest{
		Buyer: buyer.addr, Seller: seller.addr, Marker: marker, Amount: 30,
		BalanceSig: balanceSig(t, buyer, seller.addr, marker, 30),
	}
	_, err = mem.CloseChannel(ctx, req)
	require.NoError(t, err)

	_, err = mem.CloseChannel(ctx, req)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	sellerBal, _ := mem.Balance(ctx, seller.addr)
	buyerBal, _ := mem.Balance(ctx, buyer.addr)
	assert.Equal(t, int64(30), sellerBal)
	assert.Equal(t, int64(20), buyerBal)
}

func TestMemoryCloseRejectsBadProofs(t *testing.T) {
	ctx := context.Background()
	owner, buyer, seller, verifier, other := newParty(t), newParty(t), newParty(t), newParty(t), newParty(t)
	mem := NewMemory(owner.addr, 1000)
	_, err := mem.Fund(ctx, buyer.addr, 100)
	require.NoError(t, err)

	marker, err := mem.OpenChannel(ctx, OpenChannelRequest{
		Buyer: buyer.addr, Seller: seller.addr, Amount: 40, RewardPercent: 10, VerifierCount: 1,
	})
	require.NoError(t, err)

	base := CloseChannelRequest{
		Buyer: buyer.addr, Seller: seller.addr, Verifier: verifier.addr,
		Marker: marker, ContentID: "cid", Amount: 40,
		BalanceSig:  balanceSig(t, buyer, seller.addr, marker, 40),
		VerifierSig: verifySig(t, verifier, seller.addr, "cid"),
	}

	tests := []struct {
		name   string
		mutate func(*CloseChannelRequest)
		want   error
	}{
		{"balance signed by other", func(r *CloseChannelRequest) {
			r.BalanceSig = balanceSig(t, other, seller.addr, marker, 40)
		}, ErrBalanceVerificationFailed},
		{"balance for other amount", func(r *CloseChannelRequest) {
			r.BalanceSig = balanceSig(t, buyer, seller.addr, marker, 39)
		}, ErrBalanceVerificationFailed},
		{"balance garbage", func(r *CloseChannelRequest) {
			r.BalanceSig = []byte{1, 2, 3}
		}, ErrBalanceVerificationFailed},
		{"verification signed by other", func(r *CloseChannelRequest) {
			r.VerifierSig = verifySig(t, other, seller.addr, "cid")
		}, ErrVerificationFailed},
		{"verification for other content", func(r *CloseChannelRequest) {
			r.VerifierSig = verifySig(t, verifier, seller.addr, "other")
		}, ErrVerificationFailed},
		{"missing verifier", func(r *CloseChannelRequest) {
			r.Verifier = common.Address{}
		}, ErrVerificationFailed},
		{"amount above deposit", func(r *CloseChannelRequest) {
			r.Amount = 41
			r.BalanceSig = balanceSig(t, buyer, seller.addr, marker, 41)
		}, ErrConstraintViolation},
		{"wrong marker", func(r *CloseChannelRequest) {
			r.Marker = marker + 100
		}, ErrUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := mem.CloseChannel(ctx, req)
			assert.ErrorIs(t, err, tt.want)

			info, err := mem.ChannelInfo(ctx, buyer.addr, seller.addr, marker)
			require.NoError(t, err)
			assert.Equal(t, int64(40), info.Amount)
		})
	}
}

func TestMemoryOpenRequiresFunds(t *testing.T) {
	ctx := context.Background()
	owner, buyer, seller := newParty(t), newParty(t), newParty(t)
	mem := NewMemory(owner.addr, 1000)
	_, err := mem.Fund(ctx, buyer.addr, 10)
	require.NoError(t, err)

	_, err = mem.OpenChannel(ctx, OpenChannelRequest{Buyer: buyer.addr, Seller: seller.addr, Amount: 11})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = mem.OpenChannel(ctx, OpenChannelRequest{Buyer: buyer.addr, Seller: buyer.addr, Amount: 5})
	assert.ErrorIs(t, err, ErrConstraintViolation)

	bal, _ := mem.Balance(ctx, buyer.addr)
	assert.Equal(t, int64(10), bal)
}

func TestMemoryFailNextAndTimeout(t *testing.T) {
	owner, buyer, seller := newParty(t), newParty(t), newParty(t)
	mem := NewMemory(owner.addr, 1000)
	_, err := mem.Fund(context.Background(), buyer.addr, 10)
	require.NoError(t, err)

	injected := &TxError{TxHash: "0x01", Gas: 100, GasUsed: 100}
	mem.FailNext(injected)
	_, err = mem.OpenChannel(context.Background(), OpenChannelRequest{Buyer: buyer.addr, Seller: seller.addr, Amount: 5})
	assert.ErrorIs(t, err, ErrTransactionFailed)

	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.True(t, txErr.OutOfGas())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mem.OpenChannel(ctx, OpenChannelRequest{Buyer: buyer.addr, Seller: seller.addr, Amount: 5})
	assert.ErrorIs(t, err, ErrTransactionTimeout)

	bal, _ := mem.Balance(context.Background(), buyer.addr)
	assert.Equal(t, int64(10), bal)
}

func TestMemorySubmitRawTxUnsupported(t *testing.T) {
	mem := NewMemory(common.Address{}, 0)
	_, err := mem.SubmitRawTx(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestOpenPayloadRoundTrip(t *testing.T) {
	seller := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payload := EncodeOpenPayload(seller, 10, 1)
	assert.Len(t, payload, OpenPayloadLength)

	gotSeller, reward, verifiers, err := DecodeOpenPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, seller, gotSeller)
	assert.Equal(t, uint32(10), reward)
	assert.Equal(t, uint32(1), verifiers)

	_, _, _, err = DecodeOpenPayload(payload[:10])
	assert.Error(t, err)
}

func TestSettlementSplit(t *testing.T) {
	tests := []struct {
		amount      int64
		pct         uint32
		hasVerifier bool
		seller      int64
		reward      int64
	}{
		{40, 10, true, 36, 4},
		{40, 10, false, 40, 0},
		{99, 33, true, 67, 32},
		{10, 250, true, 0, 10},
		{7, 0, true, 7, 0},
	}
	for _, tt := range tests {
		seller, reward := SettlementSplit(tt.amount, tt.pct, tt.hasVerifier)
		assert.Equal(t, tt.seller, seller)
		assert.Equal(t, tt.reward, reward)
	}
}

func TestSettlementSplitLargeAmounts(t *testing.T) {
	const ether = int64(1_000_000_000_000_000_000)
	seller, reward := SettlementSplit(ether, 10, true)
	assert.Equal(t, ether/10, reward)
	assert.Equal(t, ether-ether/10, seller)

	seller, reward = SettlementSplit(math.MaxInt64, 50, true)
	assert.Equal(t, int64(math.MaxInt64/2), reward)
	assert.Equal(t, int64(math.MaxInt64)-reward, seller)

	for _, amount := range []int64{ether, 9 * ether, math.MaxInt64 - 7, math.MaxInt64} {
		for _, pct := range []uint32{1, 37, 99, 100, 1 << 31} {
			seller, reward := SettlementSplit(amount, pct, true)
			assert.GreaterOrEqual(t, reward, int64(0), "amount=%d pct=%d", amount, pct)
			assert.GreaterOrEqual(t, seller, int64(0), "amount=%d pct=%d", amount, pct)
			assert.Equal(t, amount, seller+reward, "amount=%d pct=%d", amount, pct)
		}
	}
}

func TestChannelKeyDistinct(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	assert.NotEqual(t, ChannelKey(a, b, 1), ChannelKey(b, a, 1))
	assert.NotEqual(t, ChannelKey(a, b, 1), ChannelKey(a, b, 2))
	assert.Equal(t, ChannelKey(a, b, 7), ChannelKey(a, b, 7))
}
