// internal/models/order.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/signature"
)

// PurchaseOrder tracks one purchase from channel open to settlement. The
// state column replaces the legacy needs_verification / needs_closure pair;
// both flags are still derived for API consumers.
type PurchaseOrder struct {
	BaseModel
	BuyerID          uuid.UUID  `json:"buyer_id" gorm:"type:uuid;not null;index"`
	ListingID        uuid.UUID  `json:"listing_id" gorm:"type:uuid;not null;index"`
	VerifierID       *uuid.UUID `json:"verifier_id" gorm:"type:uuid;index"`
	OpenMarker       uint64     `json:"open_marker" gorm:"not null"`
	ChannelKey       string     `json:"channel_key" gorm:"size:66;not null;uniqueIndex"`
	Amount           int64      `json:"amount" gorm:"not null"`
	RewardPercent    int        `json:"reward_percent" gorm:"not null;default:0"`
	Reward           int64      `json:"reward" gorm:"not null;default:0"`
	State            OrderState `json:"state" gorm:"type:varchar(32);not null;index"`
	BuyerAuth        string     `json:"buyer_auth" gorm:"type:text;not null"`
	VerifierAuth     string     `json:"verifier_auth,omitempty" gorm:"type:text"`
	SettlementTx     string     `json:"settlement_tx,omitempty" gorm:"size:66"`
	SettlementMarker *uint64    `json:"settlement_marker,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at"`
	SettledAt        *time.Time `json:"settled_at"`

	// Relationships
	Buyer    *Trader  `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	Listing  *Listing `json:"listing,omitempty" gorm:"foreignKey:ListingID"`
	Verifier *Trader  `json:"verifier,omitempty" gorm:"foreignKey:VerifierID"`
}

// ComputeReward applies the canonical reward rule: nothing without a
// verifier, otherwise floor(price * |pct| / 100) with |pct| capped at 100.
func ComputeReward(price int64, pct int, hasVerifier bool) int64 {
	if !hasVerifier || price <= 0 {
		return 0
	}
	return ledger.Reward(price, uint32(ClampRewardPercent(pct)))
}

// ClampRewardPercent folds negative input to its magnitude and caps it at 100.
func ClampRewardPercent(pct int) int {
	if pct < 0 {
		pct = -pct
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CheckParties enforces that buyer, seller and the optional verifier are
// three distinct ledger accounts.
func CheckParties(buyer, seller, verifier *Trader) error {
	if buyer == nil || seller == nil {
		return fmt.Errorf("%w: buyer and seller are required", ledger.ErrConstraintViolation)
	}
	if signature.SameAddress(buyer.Account, seller.Account) {
		return fmt.Errorf("%w: buyer owns the listing", ledger.ErrConstraintViolation)
	}
	if verifier == nil {
		return nil
	}
	if signature.SameAddress(verifier.Account, buyer.Account) {
		return fmt.Errorf("%w: verifier is the buyer", ledger.ErrConstraintViolation)
	}
	if signature.SameAddress(verifier.Account, seller.Account) {
		return fmt.Errorf("%w: verifier is the seller", ledger.ErrConstraintViolation)
	}
	return nil
}

// NewPurchaseOrder builds an order for a channel that has already been
// opened. The returned order is in its first persisted state.
func NewPurchaseOrder(buyer *Trader, listing *Listing, verifier *Trader, rewardPercent int, marker uint64, buyerAuth string) (*PurchaseOrder, error) {
	if listing == nil || listing.Owner == nil {
		return nil, fmt.Errorf("%w: listing owner not loaded", ledger.ErrConstraintViolation)
	}
	if err := CheckParties(buyer, listing.Owner, verifier); err != nil {
		return nil, err
	}
	if buyerAuth == "" {
		return nil, fmt.Errorf("%w: buyer authorization missing", ledger.ErrConstraintViolation)
	}

	hasVerifier := verifier != nil
	order := &PurchaseOrder{
		BuyerID:    buyer.ID,
		ListingID:  listing.ID,
		OpenMarker: marker,
		ChannelKey: ledger.ChannelKey(
			common.HexToAddress(buyer.Account),
			common.HexToAddress(listing.Owner.Account),
			marker,
		).Hex(),
		Amount:    listing.Price,
		Reward:    ComputeReward(listing.Price, rewardPercent, hasVerifier),
		State:     OrderStateCreated,
		BuyerAuth: buyerAuth,
		Buyer:     buyer,
		Listing:   listing,
	}
	if hasVerifier {
		order.VerifierID = &verifier.ID
		order.Verifier = verifier
		order.RewardPercent = ClampRewardPercent(rewardPercent)
		order.State = OrderStateAwaitingVerification
	} else {
		order.State = OrderStateAwaitingClosure
	}
	return order, nil
}

func (o *PurchaseOrder) NeedsVerification() bool {
	return o.State == OrderStateAwaitingVerification
}

func (o *PurchaseOrder) NeedsClosure() bool {
	return o.State != OrderStateSettled
}

func (o *PurchaseOrder) HasVerifier() bool {
	return o.VerifierID != nil
}

// IsParty reports whether trader is the buyer, seller or verifier. Listing
// must be loaded for the seller check.
func (o *PurchaseOrder) IsParty(traderID uuid.UUID) bool {
	if o.BuyerID == traderID {
		return true
	}
	if o.VerifierID != nil && *o.VerifierID == traderID {
		return true
	}
	return o.Listing != nil && o.Listing.OwnerID == traderID
}

// CanVerify reports whether Verify would be accepted.
func (o *PurchaseOrder) CanVerify() error {
	switch o.State {
	case OrderStateAwaitingVerification:
		return nil
	case OrderStateSettled:
		return fmt.Errorf("%w: order has already been closed", ledger.ErrConstraintViolation)
	default:
		return fmt.Errorf("%w: order is %s, not awaiting verification", ledger.ErrConstraintViolation, o.State)
	}
}

// Verify attaches the verifier's attestation. Only legal while the order is
// waiting for verification.
func (o *PurchaseOrder) Verify(verifierAuth string, at time.Time) error {
	if err := o.CanVerify(); err != nil {
		return err
	}
	if verifierAuth == "" {
		return fmt.Errorf("%w: verifier authorization missing", ledger.ErrConstraintViolation)
	}
	o.VerifierAuth = verifierAuth
	o.VerifiedAt = &at
	o.State = OrderStateAwaitingClosure
	return nil
}

// CanClose reports whether Settle would be accepted.
func (o *PurchaseOrder) CanClose() error {
	switch o.State {
	case OrderStateAwaitingClosure:
		return nil
	case OrderStateAwaitingVerification:
		return fmt.Errorf("%w: order needs verification", ledger.ErrConstraintViolation)
	case OrderStateSettled:
		return fmt.Errorf("%w: order has already been closed", ledger.ErrConstraintViolation)
	default:
		return fmt.Errorf("%w: order is %s", ledger.ErrConstraintViolation, o.State)
	}
}

// Settle records a landed close. Once settled an order never reopens.
func (o *PurchaseOrder) Settle(txHash string, marker uint64, at time.Time) error {
	if err := o.CanClose(); err != nil {
		return err
	}
	o.SettlementTx = txHash
	o.SettlementMarker = &marker
	o.SettledAt = &at
	o.State = OrderStateSettled
	return nil
}

func (o PurchaseOrder) MarshalJSON() ([]byte, error) {
	type alias PurchaseOrder
	return json.Marshal(struct {
		alias
		NeedsVerification bool `json:"needs_verification"`
		NeedsClosure      bool `json:"needs_closure"`
	}{
		alias:             alias(o),
		NeedsVerification: o.NeedsVerification(),
		NeedsClosure:      o.NeedsClosure(),
	})
}
