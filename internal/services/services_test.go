package services

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/database"
	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/utils"
)

const testPassword = "Passw0rd!"

var ownerAccount = common.HexToAddress("0x00000000000000000000000000000000000000f0")

// market wires every service against sqlite, the in-memory ledger and an
// in-process key signer.
type market struct {
	db       *gorm.DB
	cfg      *config.Config
	ledger   *ledger.Memory
	signer   *KeySigner
	hub      *events.Hub
	store    *MemoryContentStore
	ledgers  *LedgerService
	traders  *TraderService
	listings *ListingService
	orders   *OrderService
}

type marketOption func(*config.Config)

func withDefaultVerifier(hexKey string) marketOption {
	return func(cfg *config.Config) { cfg.Market.DefaultVerifierKey = hexKey }
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-secret", AccessTokenTTL: 1, RefreshTokenTTL: 2},
		Storage:     config.StorageConfig{Driver: "memory", MaxUploadSize: 1 << 10},
		Ledger:      config.LedgerConfig{Driver: "memory", ReadRetryAttempts: 1},
		Market:      config.MarketConfig{DefaultRewardPercent: 10, OperationTimeout: 5},
	}
}

func newMarket(t *testing.T, opts ...marketOption) *market {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	db, err := database.Initialize(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		LogLevel:   "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))
	t.Cleanup(func() { database.Close(db) })

	hub := events.NewHub(events.NewRoleBook(map[string]string{"owner": ownerAccount.Hex()}))
	t.Cleanup(hub.Close)

	mem := ledger.NewMemory(ownerAccount, 1_000_000, ledger.WithEmitter(hub))
	signer := NewKeySigner()
	notify := NewNotificationService(hub)
	ledgers := NewLedgerService(mem, cfg, nil)
	store := NewMemoryContentStore()

	var defaultVerifier *DefaultVerifier
	if cfg.Market.DefaultVerifierKey != "" {
		defaultVerifier, err = NewDefaultVerifier(cfg.Market.DefaultVerifierKey)
		require.NoError(t, err)
	}

	return &market{
		db:       db,
		cfg:      cfg,
		ledger:   mem,
		signer:   signer,
		hub:      hub,
		store:    store,
		ledgers:  ledgers,
		traders:  NewTraderService(db, cfg, ledgers, signer, notify),
		listings: NewListingService(db, cfg, store, notify),
		orders:   NewOrderService(db, cfg, ledgers, NewAuthorizationService(signer), signer, defaultVerifier, notify, nil),
	}
}

type party struct {
	trader *models.Trader
	key    *ecdsa.PrivateKey
}

func (p party) address() common.Address {
	return common.HexToAddress(p.trader.Account)
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func keyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}

// custodial signs up a trader whose key the node holds.
func (m *market) custodial(t *testing.T, name string) party {
	t.Helper()
	key := newKey(t)
	resp, err := m.traders.Signup(context.Background(), &SignupRequest{
		Name:       name,
		Password:   testPassword,
		PrivateKey: keyHex(key),
	})
	require.NoError(t, err)
	return party{trader: resp.Trader, key: key}
}

// selfCustody signs up a trader who keeps their key.
func (m *market) selfCustody(t *testing.T, name string) party {
	t.Helper()
	key := newKey(t)
	resp, err := m.traders.Signup(context.Background(), &SignupRequest{
		Name:     name,
		Password: testPassword,
		Account:  ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
	})
	require.NoError(t, err)
	return party{trader: resp.Trader, key: key}
}

func (m *market) fund(t *testing.T, p party, amount int64) {
	t.Helper()
	_, err := m.ledgers.Fund(context.Background(), &FundRequest{Account: p.trader.Account, Amount: amount})
	require.NoError(t, err)
}

func (m *market) balance(t *testing.T, p party) int64 {
	t.Helper()
	b, err := m.ledgers.Balance(context.Background(), p.trader.Account)
	require.NoError(t, err)
	return b.Balance
}

func (m *market) list(t *testing.T, seller party, content string, price int64) *models.Listing {
	t.Helper()
	listing, err := m.listings.Upload(context.Background(), seller.trader.ID, &UploadListingRequest{
		Name:  content,
		Price: price,
	}, []byte(content))
	require.NoError(t, err)
	return listing
}

func (m *market) storedState(t *testing.T, id uuid.UUID) models.OrderState {
	t.Helper()
	var order models.PurchaseOrder
	require.NoError(t, m.db.First(&order, "id = ?", id).Error)
	return order.State
}

func intPtr(v int) *int { return &v }

func waitForEvent(t *testing.T, sub *events.Subscription, kind string) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}
