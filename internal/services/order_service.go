// internal/services/order_service.go
package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/database"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/signature"
	"github.com/scrylabs/scry-backend/internal/utils"
)

// OrderService runs the purchase order lifecycle: purchase opens (or
// adopts) a channel, verify records the verifier's attestation and close
// settles the channel. Operations on one order are serialized; different
// orders proceed in parallel.
type OrderService struct {
	db              *gorm.DB
	cfg             *config.Config
	ledger          *LedgerService
	auth            *AuthorizationService
	signer          Signer
	defaultVerifier *DefaultVerifier
	notify          *NotificationService
	metrics         *Metrics
	locks           *keyedMutex
}

// DefaultVerifier attests content for orders placed without a verifier.
type DefaultVerifier struct {
	Account common.Address
	key     *ecdsa.PrivateKey
}

func NewDefaultVerifier(hexKey string) (*DefaultVerifier, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &DefaultVerifier{Account: ethcrypto.PubkeyToAddress(key.PublicKey), key: key}, nil
}

func (v *DefaultVerifier) sign(seller common.Address, contentID string) ([]byte, error) {
	return signature.Sign(signature.VerificationMessage(seller, contentID), v.key)
}

// PurchaseRequest either adopts a channel the buyer opened themselves
// (OpenMarker and BuyerAuth set) or asks the node to open one for a
// custodial buyer account.
type PurchaseRequest struct {
	ListingID     uuid.UUID `json:"listing_id" validate:"required"`
	Verifier      string    `json:"verifier,omitempty" validate:"omitempty,ledger_address"`
	RewardPercent *int      `json:"reward_percent,omitempty"`
	OpenMarker    *uint64   `json:"open_marker,omitempty"`
	BuyerAuth     string    `json:"buyer_auth,omitempty" validate:"required_with=OpenMarker,omitempty,signature"`
}

type VerifyRequest struct {
	VerifierAuth string `json:"verifier_auth,omitempty" validate:"omitempty,signature"`
}

type CloseRequest struct {
	CloseTx string `json:"close_tx,omitempty"`
}

type CloseResponse struct {
	Order   *models.PurchaseOrder `json:"purchase"`
	Receipt *ledger.Receipt       `json:"receipt"`
	// Reconciled is set when the channel was already closed on the ledger
	// and only the order record was brought up to date.
	Reconciled bool `json:"reconciled,omitempty"`
}

type OrderSearchParams struct {
	utils.PaginationParams
	Role  models.OrderRole   `json:"role"`
	State *models.OrderState `json:"state,omitempty"`
}

func NewOrderService(
	db *gorm.DB,
	cfg *config.Config,
	ledgerService *LedgerService,
	auth *AuthorizationService,
	signer Signer,
	defaultVerifier *DefaultVerifier,
	notify *NotificationService,
	metrics *Metrics,
) *OrderService {
	return &OrderService{
		db:              db,
		cfg:             cfg,
		ledger:          ledgerService,
		auth:            auth,
		signer:          signer,
		defaultVerifier: defaultVerifier,
		notify:          notify,
		metrics:         metrics,
		locks:           newKeyedMutex(),
	}
}

func (s *OrderService) Purchase(ctx context.Context, buyerID uuid.UUID, req *PurchaseRequest) (*models.PurchaseOrder, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// Load parties
	var buyer models.Trader
	if err := s.db.WithContext(ctx).First(&buyer, "id = ?", buyerID).Error; err != nil {
		return nil, lookupError(err, ErrTraderNotFound, "buyer")
	}
	var listing models.Listing
	if err := s.db.WithContext(ctx).Preload("Owner").First(&listing, "id = ?", req.ListingID).Error; err != nil {
		return nil, lookupError(err, ErrListingNotFound, "listing")
	}
	var verifier *models.Trader
	if req.Verifier != "" {
		var v models.Trader
		if err := s.db.WithContext(ctx).Where("account = ?", lower(req.Verifier)).First(&v).Error; err != nil {
			return nil, lookupError(err, ErrTraderNotFound, "verifier "+req.Verifier)
		}
		verifier = &v
	}

	if err := models.CheckParties(&buyer, listing.Owner, verifier); err != nil {
		return nil, err
	}

	rewardPercent := 0
	if verifier != nil {
		rewardPercent = s.cfg.Market.DefaultRewardPercent
		if req.RewardPercent != nil {
			rewardPercent = *req.RewardPercent
		}
		rewardPercent = models.ClampRewardPercent(rewardPercent)
	}

	buyerAddr := common.HexToAddress(buyer.Account)
	sellerAddr := common.HexToAddress(listing.Owner.Account)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Market.OperationWindow())
	defer cancel()

	var (
		marker    uint64
		buyerAuth string
		err       error
	)
	if req.OpenMarker != nil {
		marker = *req.OpenMarker
		buyerAuth, err = s.adoptChannel(ctx, &buyer, &listing, marker, req.BuyerAuth, rewardPercent, verifier != nil)
	} else {
		marker, buyerAuth, err = s.openChannel(ctx, buyerAddr, sellerAddr, &listing, rewardPercent, verifier != nil)
	}
	if err != nil {
		return nil, err
	}

	order, err := models.NewPurchaseOrder(&buyer, &listing, verifier, rewardPercent, marker, buyerAuth)
	if err != nil {
		return nil, err
	}

	// The channel exists at this point; the record is written strictly after it.
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"buyer":  buyerAddr.Hex(),
			"seller": sellerAddr.Hex(),
			"marker": marker,
		}).Error("Channel is open but the purchase order could not be saved")
		return nil, translateDBError(err, "create purchase order")
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer":    buyerAddr.Hex(),
		"seller":   sellerAddr.Hex(),
		"marker":   marker,
		"amount":   order.Amount,
		"reward":   order.Reward,
		"state":    order.State,
	}).Info("Purchase order created")

	s.metrics.orderCreated()
	s.notify.PurchaseCreated(order)
	return order, nil
}

// adoptChannel checks a channel the buyer opened and the balance
// authorization they signed for it. The ledger settles with the terms in the
// channel, so they must match the order being recorded.
func (s *OrderService) adoptChannel(ctx context.Context, buyer *models.Trader, listing *models.Listing, marker uint64, buyerAuth string, rewardPercent int, hasVerifier bool) (string, error) {
	info, err := s.ledger.ChannelInfo(ctx, buyer.Account, listing.Owner.Account, marker)
	if err != nil {
		return "", err
	}
	if info.Amount < listing.Price {
		return "", fmt.Errorf("%w: channel holds %d, listing costs %d", ledger.ErrConstraintViolation, info.Amount, listing.Price)
	}
	if info.Terms == nil {
		return "", fmt.Errorf("%w: cannot read the terms of channel %s", ledger.ErrConstraintViolation, info.Key)
	}
	if (info.Terms.VerifierCount > 0) != hasVerifier {
		return "", fmt.Errorf("%w: channel expects %d verifiers, order names a verifier: %t",
			ledger.ErrConstraintViolation, info.Terms.VerifierCount, hasVerifier)
	}
	if info.Terms.RewardPercent != uint32(rewardPercent) {
		return "", fmt.Errorf("%w: channel pays %d%% to the verifier, order records %d%%",
			ledger.ErrConstraintViolation, info.Terms.RewardPercent, rewardPercent)
	}

	if err := s.auth.VerifyBalanceAuthorization(BalanceAuthorization{
		Buyer:     buyer.Account,
		Seller:    listing.Owner.Account,
		Marker:    marker,
		Amount:    listing.Price,
		Signature: buyerAuth,
	}); err != nil {
		return "", err
	}

	sig, err := signature.Decode(buyerAuth)
	if err != nil {
		return "", err
	}
	return signature.Encode(sig), nil
}

// openChannel escrows the listing price from a custodial buyer account and
// signs the matching balance authorization.
func (s *OrderService) openChannel(ctx context.Context, buyer, seller common.Address, listing *models.Listing, rewardPercent int, hasVerifier bool) (uint64, string, error) {
	if s.signer == nil || !s.signer.CanSign(buyer) {
		return 0, "", fmt.Errorf("buyer %s: %w", buyer.Hex(), ErrSignerUnavailable)
	}

	balance, err := s.ledger.Balance(ctx, buyer.Hex())
	if err != nil {
		return 0, "", err
	}
	if balance.Balance < listing.Price {
		return 0, "", fmt.Errorf("%w: %w: balance %d below price %d",
			ledger.ErrConstraintViolation, ledger.ErrInsufficientFunds, balance.Balance, listing.Price)
	}

	verifierCount := uint32(0)
	if hasVerifier {
		verifierCount = 1
	}
	marker, err := s.ledger.openChannel(ctx, ledger.OpenChannelRequest{
		Buyer:         buyer,
		Seller:        seller,
		Amount:        listing.Price,
		RewardPercent: uint32(rewardPercent),
		VerifierCount: verifierCount,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) && !errors.Is(err, ledger.ErrConstraintViolation) {
			err = fmt.Errorf("%w: %w", ledger.ErrConstraintViolation, err)
		}
		return 0, "", err
	}

	sig, err := s.signer.SignMessage(buyer, signature.BalanceMessage(seller, marker, listing.Price))
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"buyer":  buyer.Hex(),
			"seller": seller.Hex(),
			"marker": marker,
		}).Error("Channel is open but the buyer authorization could not be signed")
		return 0, "", err
	}
	return marker, signature.Encode(sig), nil
}

// Verify attaches the verifier's attestation to an order. Without an
// explicit signature the node signs for a custodial verifier account.
func (s *OrderService) Verify(ctx context.Context, verifierID, orderID uuid.UUID, req *VerifyRequest) (*models.PurchaseOrder, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.VerifierID == nil || *order.VerifierID != verifierID {
		return nil, fmt.Errorf("order %s is not assigned to this verifier: %w", orderID, ErrForbidden)
	}
	if err := order.CanVerify(); err != nil {
		return nil, err
	}

	seller := common.HexToAddress(order.Listing.Owner.Account)
	verifierAuth := req.VerifierAuth
	if verifierAuth == "" {
		verifier := common.HexToAddress(order.Verifier.Account)
		if s.signer == nil || !s.signer.CanSign(verifier) {
			return nil, fmt.Errorf("verifier %s: %w", verifier.Hex(), ErrSignerUnavailable)
		}
		sig, err := s.signer.SignMessage(verifier, signature.VerificationMessage(seller, order.Listing.ContentID))
		if err != nil {
			return nil, err
		}
		verifierAuth = signature.Encode(sig)
	}

	if err := s.auth.VerifyVerificationAuthorization(VerificationAuthorization{
		Seller:    order.Listing.Owner.Account,
		ContentID: order.Listing.ContentID,
		Verifier:  order.Verifier.Account,
		Signature: verifierAuth,
	}); err != nil {
		return nil, err
	}

	if err := order.Verify(verifierAuth, time.Now()); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, order, models.OrderStateAwaitingVerification, map[string]interface{}{
		"state":         order.State,
		"verifier_auth": order.VerifierAuth,
		"verified_at":   order.VerifiedAt,
	}); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"verifier": order.Verifier.Account,
	}).Info("Purchase order verified")

	s.metrics.orderVerified()
	s.notify.OrderVerified(order)
	return order, nil
}

// Close settles an order's channel. The seller either relays a close
// transaction they signed or lets the node close with the stored
// authorizations.
func (s *OrderService) Close(ctx context.Context, sellerID, orderID uuid.UUID, req *CloseRequest) (*CloseResponse, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Listing.OwnerID != sellerID {
		return nil, fmt.Errorf("order %s belongs to another seller: %w", orderID, ErrForbidden)
	}
	if err := order.CanClose(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Market.OperationWindow())
	defer cancel()

	var (
		receipt    *ledger.Receipt
		reconciled bool
	)
	if req.CloseTx != "" {
		receipt, err = s.relayClose(ctx, order, req.CloseTx)
	} else {
		receipt, err = s.closeChannel(ctx, order)
		if errors.Is(err, ledger.ErrUnknownChannel) {
			// An earlier close settled the channel but the order write failed.
			receipt, err = s.closedReceipt(ctx, order)
			reconciled = err == nil
		}
	}
	if err != nil {
		return nil, err
	}

	if err := order.Settle(receipt.TxHash, receipt.Block, time.Now()); err != nil {
		return nil, err
	}
	if err := s.settle(ctx, order); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"order_id": order.ID,
			"tx":       receipt.TxHash,
		}).Error("Channel closed but the order could not be marked settled")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"tx":       receipt.TxHash,
		"block":    receipt.Block,
	}).Info("Purchase order settled")

	s.metrics.orderSettled()
	s.notify.OrderSettled(order)
	return &CloseResponse{Order: order, Receipt: receipt, Reconciled: reconciled}, nil
}

// closedReceipt stands in for the receipt of a close that already happened.
// The channel existed when the order was written, so a missing channel has
// been settled.
func (s *OrderService) closedReceipt(ctx context.Context, order *models.PurchaseOrder) (*ledger.Receipt, error) {
	info, err := s.ledger.Info(ctx)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"channel":  order.ChannelKey,
		"block":    info.LatestBlock,
	}).Warn("Channel already settled on the ledger, reconciling order")
	return &ledger.Receipt{Block: info.LatestBlock}, nil
}

func (s *OrderService) closeChannel(ctx context.Context, order *models.PurchaseOrder) (*ledger.Receipt, error) {
	seller := common.HexToAddress(order.Listing.Owner.Account)
	closeReq := ledger.CloseChannelRequest{
		Buyer:     common.HexToAddress(order.Buyer.Account),
		Seller:    seller,
		Marker:    order.OpenMarker,
		ContentID: order.Listing.ContentID,
		Amount:    order.Amount,
	}

	// Check the stored buyer authorization before spending gas on it
	if err := s.auth.VerifyBalanceAuthorization(BalanceAuthorization{
		Buyer:     order.Buyer.Account,
		Seller:    order.Listing.Owner.Account,
		Marker:    order.OpenMarker,
		Amount:    order.Amount,
		Signature: order.BuyerAuth,
	}); err != nil {
		return nil, err
	}
	balanceSig, err := signature.Decode(order.BuyerAuth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrBalanceVerificationFailed, err)
	}
	closeReq.BalanceSig = balanceSig

	switch {
	case order.HasVerifier():
		verifierSig, err := signature.Decode(order.VerifierAuth)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ledger.ErrVerificationFailed, err)
		}
		closeReq.Verifier = common.HexToAddress(order.Verifier.Account)
		closeReq.VerifierSig = verifierSig
	case s.defaultVerifier != nil && s.defaultVerifier.Account != closeReq.Buyer && s.defaultVerifier.Account != seller:
		verifierSig, err := s.defaultVerifier.sign(seller, order.Listing.ContentID)
		if err != nil {
			return nil, err
		}
		closeReq.Verifier = s.defaultVerifier.Account
		closeReq.VerifierSig = verifierSig
	}

	return s.ledger.closeChannel(ctx, closeReq)
}

// relayClose submits a seller-signed close and confirms it settled this
// order's channel.
func (s *OrderService) relayClose(ctx context.Context, order *models.PurchaseOrder, closeTx string) (*ledger.Receipt, error) {
	receipt, err := s.ledger.SubmitRawTx(ctx, closeTx)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.ChannelInfo(ctx, order.Buyer.Account, order.Listing.Owner.Account, order.OpenMarker)
	switch {
	case errors.Is(err, ledger.ErrUnknownChannel):
		return receipt, nil
	case err != nil:
		return nil, err
	default:
		return nil, fmt.Errorf("%w: transaction %s did not close channel %s", ledger.ErrConstraintViolation, receipt.TxHash, order.ChannelKey)
	}
}

// settle records the settlement and counts the sale in one transaction.
func (s *OrderService) settle(ctx context.Context, order *models.PurchaseOrder) error {
	db := s.db.WithContext(context.WithoutCancel(ctx))
	return database.WithTransaction(db, func(tx *gorm.DB) error {
		if err := transitionIn(tx, order, models.OrderStateAwaitingClosure, map[string]interface{}{
			"state":             order.State,
			"settlement_tx":     order.SettlementTx,
			"settlement_marker": order.SettlementMarker,
			"settled_at":        order.SettledAt,
		}); err != nil {
			return err
		}
		err := tx.Model(&models.Listing{}).Where("id = ?", order.ListingID).
			UpdateColumn("sales", gorm.Expr("sales + ?", 1)).Error
		if err != nil {
			return fmt.Errorf("failed to count sale: %w", err)
		}
		return nil
	})
}

func (s *OrderService) transition(ctx context.Context, order *models.PurchaseOrder, from models.OrderState, updates map[string]interface{}) error {
	return transitionIn(s.db.WithContext(context.WithoutCancel(ctx)), order, from, updates)
}

// transitionIn persists a state change only if the stored state is still
// from. Losing the race means another request already moved the order.
func transitionIn(db *gorm.DB, order *models.PurchaseOrder, from models.OrderState, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := db.Model(&models.PurchaseOrder{}).
		Where("id = ? AND state = ?", order.ID, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update purchase order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer %s", ledger.ErrConstraintViolation, order.ID, from)
	}
	return nil
}

// GetOrder returns one order with its parties. Content ids are only shown to
// the parties of the order.
func (s *OrderService) GetOrder(ctx context.Context, traderID, orderID uuid.UUID) (*models.PurchaseOrder, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(traderID) {
		public := order.Listing.Public()
		order.Listing = &public
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, traderID uuid.UUID, params OrderSearchParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.PurchaseOrder{})

	switch params.Role {
	case models.OrderRoleSeller:
		query = query.Joins("JOIN listings ON listings.id = purchase_orders.listing_id").
			Where("listings.owner_id = ?", traderID)
	case models.OrderRoleVerifier:
		query = query.Where("purchase_orders.verifier_id = ?", traderID)
	default:
		query = query.Where("purchase_orders.buyer_id = ?", traderID)
	}
	if params.State != nil {
		query = query.Where("purchase_orders.state = ?", *params.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count purchase orders: %w", err)
	}

	var orders []models.PurchaseOrder
	query = query.Preload("Buyer").Preload("Listing.Owner").Preload("Verifier").Scopes(
		// listings share column names once joined
		utils.SortBy(params.PaginationParams, "purchase_orders", "created_at", "amount", "state"),
		utils.Paginate(params.PaginationParams),
	)
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch purchase orders: %w", err)
	}

	result := utils.CreatePaginationResult(orders, total, params.PaginationParams)
	return &result, nil
}

func (s *OrderService) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	if err := s.db.WithContext(ctx).
		Preload("Buyer").
		Preload("Listing.Owner").
		Preload("Verifier").
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, lookupError(err, ErrOrderNotFound, "load")
	}
	return &order, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*refMutex)}
}

func (k *keyedMutex) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
