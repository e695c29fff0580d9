package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry-backend/internal/ledger"
)

func trader(account string) *Trader {
	return &Trader{BaseModel: BaseModel{ID: uuid.New()}, Name: account, Account: account}
}

func listingOf(owner *Trader, price int64) *Listing {
	return &Listing{BaseModel: BaseModel{ID: uuid.New()}, OwnerID: owner.ID, Owner: owner, Price: price, ContentID: "cid"}
}

func TestComputeReward(t *testing.T) {
	tests := []struct {
		price       int64
		pct         int
		hasVerifier bool
		want        int64
	}{
		{40, 10, true, 4},
		{40, 10, false, 0},
		{40, -10, true, 4},
		{99, 33, true, 32},
		{1, 99, true, 0},
		{10, 150, true, 10},
		{10, -250, true, 10},
		{10, 0, true, 0},
	}
	for _, tt := range tests {
		got := ComputeReward(tt.price, tt.pct, tt.hasVerifier)
		assert.Equal(t, tt.want, got, "price=%d pct=%d verifier=%v", tt.price, tt.pct, tt.hasVerifier)
	}
}

func TestComputeRewardBounds(t *testing.T) {
	for price := int64(1); price <= 300; price += 7 {
		for pct := -120; pct <= 120; pct++ {
			reward := ComputeReward(price, pct, true)
			assert.GreaterOrEqual(t, reward, int64(0))
			assert.LessOrEqual(t, reward, price)
			if pct >= 0 && pct <= 100 {
				assert.Equal(t, price*int64(pct)/100, reward)
			}
		}
	}
}

func TestComputeRewardLargePrices(t *testing.T) {
	const ether = int64(1_000_000_000_000_000_000)
	assert.Equal(t, ether/10, ComputeReward(ether, 10, true))
	assert.Equal(t, int64(math.MaxInt64), ComputeReward(math.MaxInt64, 100, true))

	for _, price := range []int64{ether, 5 * ether, math.MaxInt64 / 3, math.MaxInt64 - 1, math.MaxInt64} {
		for _, pct := range []int{1, 33, 50, 99, 100} {
			reward := ComputeReward(price, pct, true)
			assert.GreaterOrEqual(t, reward, int64(0), "price=%d pct=%d", price, pct)
			assert.LessOrEqual(t, reward, price, "price=%d pct=%d", price, pct)
		}
	}
}

func TestCheckParties(t *testing.T) {
	buyer, seller, verifier := trader("0xaa"), trader("0xbb"), trader("0xcc")

	assert.NoError(t, CheckParties(buyer, seller, verifier))
	assert.NoError(t, CheckParties(buyer, seller, nil))
	assert.ErrorIs(t, CheckParties(buyer, trader("0xAA"), nil), ledger.ErrConstraintViolation)
	assert.ErrorIs(t, CheckParties(buyer, seller, trader("0xaa")), ledger.ErrConstraintViolation)
	assert.ErrorIs(t, CheckParties(buyer, seller, trader("0xBB")), ledger.ErrConstraintViolation)
}

func TestOrderLifecycleWithVerifier(t *testing.T) {
	buyer, seller, verifier := trader("0xaa"), trader("0xbb"), trader("0xcc")
	order, err := NewPurchaseOrder(buyer, listingOf(seller, 40), verifier, 10, 7, "0xsig")
	require.NoError(t, err)

	assert.Equal(t, OrderStateAwaitingVerification, order.State)
	assert.True(t, order.NeedsVerification())
	assert.True(t, order.NeedsClosure())
	assert.Equal(t, int64(4), order.Reward)
	assert.Equal(t, int64(40), order.Amount)

	// Close before verification is rejected.
	assert.ErrorIs(t, order.Settle("0xtx", 9, time.Now()), ledger.ErrConstraintViolation)

	require.NoError(t, order.Verify("0xverify", time.Now()))
	assert.False(t, order.NeedsVerification())
	assert.True(t, order.NeedsClosure())

	// Second verification is rejected.
	assert.ErrorIs(t, order.Verify("0xverify", time.Now()), ledger.ErrConstraintViolation)

	require.NoError(t, order.Settle("0xtx", 9, time.Now()))
	assert.False(t, order.NeedsClosure())
	assert.Equal(t, OrderStateSettled, order.State)

	// Settled orders stay settled.
	assert.ErrorIs(t, order.Settle("0xtx2", 10, time.Now()), ledger.ErrConstraintViolation)
	assert.ErrorIs(t, order.Verify("0xverify", time.Now()), ledger.ErrConstraintViolation)
	assert.Equal(t, "0xtx", order.SettlementTx)
}

func TestOrderWithoutVerifier(t *testing.T) {
	buyer, seller := trader("0xaa"), trader("0xbb")
	order, err := NewPurchaseOrder(buyer, listingOf(seller, 40), nil, 25, 7, "0xsig")
	require.NoError(t, err)

	assert.Equal(t, OrderStateAwaitingClosure, order.State)
	assert.False(t, order.NeedsVerification())
	assert.Equal(t, int64(0), order.Reward)
	assert.Equal(t, 0, order.RewardPercent)
	assert.ErrorIs(t, order.Verify("0xverify", time.Now()), ledger.ErrConstraintViolation)
	assert.NoError(t, order.CanClose())
}

func TestNewPurchaseOrderRejectsSelfDealing(t *testing.T) {
	buyer, seller := trader("0xaa"), trader("0xbb")

	_, err := NewPurchaseOrder(buyer, listingOf(buyer, 40), nil, 0, 1, "0xsig")
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	_, err = NewPurchaseOrder(buyer, listingOf(seller, 40), seller, 10, 1, "0xsig")
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	_, err = NewPurchaseOrder(buyer, listingOf(seller, 40), nil, 0, 1, "")
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)
}

func TestOrderJSONCarriesFlags(t *testing.T) {
	buyer, seller, verifier := trader("0xaa"), trader("0xbb"), trader("0xcc")
	order, err := NewPurchaseOrder(buyer, listingOf(seller, 40), verifier, 10, 7, "0xsig")
	require.NoError(t, err)

	raw, err := json.Marshal(order)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, true, out["needs_verification"])
	assert.Equal(t, true, out["needs_closure"])
	assert.Equal(t, "awaiting_verification", out["state"])
	assert.Equal(t, float64(4), out["reward"])
}

func TestListingPublicHidesContent(t *testing.T) {
	l := listingOf(trader("0xbb"), 10)
	pub := l.Public()
	assert.Empty(t, pub.ContentID)
	assert.Equal(t, "cid", l.ContentID)
}

func TestOrderChannelKey(t *testing.T) {
	buyer := trader("0x00000000000000000000000000000000000000aa")
	seller := trader("0x00000000000000000000000000000000000000bb")

	a, err := NewPurchaseOrder(buyer, listingOf(seller, 40), nil, 0, 7, "0xsig")
	require.NoError(t, err)
	b, err := NewPurchaseOrder(buyer, listingOf(seller, 10), nil, 0, 7, "0xsig")
	require.NoError(t, err)
	c, err := NewPurchaseOrder(buyer, listingOf(seller, 40), nil, 0, 8, "0xsig")
	require.NoError(t, err)

	// One channel backs at most one order, whatever the listing.
	assert.Equal(t, a.ChannelKey, b.ChannelKey)
	assert.NotEqual(t, a.ChannelKey, c.ChannelKey)
	assert.Len(t, a.ChannelKey, 66)
}
