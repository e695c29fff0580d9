package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Initialize(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		LogLevel:   "silent",
	})
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	t.Cleanup(func() { Close(db) })
	return db
}

func newTrader(name, account string) *models.Trader {
	tr := &models.Trader{Name: name, Account: account}
	_ = tr.SetPassword("pw")
	return tr
}

func TestMigrationsAndUniqueness(t *testing.T) {
	db := setupTestDB(t)

	alice := newTrader("alice", "0xAAAA000000000000000000000000000000000001")
	require.NoError(t, db.Create(alice).Error)
	assert.NotEqual(t, uuid.Nil, alice.ID)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", alice.Account)

	// Same name.
	assert.Error(t, db.Create(newTrader("alice", "0x0000000000000000000000000000000000000002")).Error)
	// Same account in different case.
	assert.Error(t, db.Create(newTrader("bob", "0xaaaa000000000000000000000000000000000001")).Error)

	listing := &models.Listing{ContentID: "cid-1", OwnerID: alice.ID, Name: "data", Size: 10, Price: 5}
	require.NoError(t, db.Create(listing).Error)

	dup := &models.Listing{ContentID: "cid-1", OwnerID: alice.ID, Name: "again", Size: 10, Price: 6}
	assert.Error(t, db.Create(dup).Error)

	free := &models.Listing{ContentID: "cid-2", OwnerID: alice.ID, Name: "free", Size: 10, Price: 0}
	assert.Error(t, db.Create(free).Error)
}

func TestWithTransaction(t *testing.T) {
	db := setupTestDB(t)
	boom := errors.New("boom")

	err := WithTransaction(db, func(tx *gorm.DB) error {
		if err := tx.Create(newTrader("carol", "0x0000000000000000000000000000000000000003")).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.Trader{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	err = WithTransaction(db, func(tx *gorm.DB) error {
		return tx.Create(newTrader("dave", "0x0000000000000000000000000000000000000004")).Error
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Trader{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOrderRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	buyer := newTrader("buyer", "0x00000000000000000000000000000000000000b1")
	seller := newTrader("seller", "0x0000000000000000000000000000000000000051")
	require.NoError(t, db.Create(buyer).Error)
	require.NoError(t, db.Create(seller).Error)

	listing := &models.Listing{ContentID: "cid", OwnerID: seller.ID, Name: "x", Size: 1, Price: 40}
	require.NoError(t, db.Create(listing).Error)
	listing.Owner = seller

	order, err := models.NewPurchaseOrder(buyer, listing, nil, 0, 12, "0xsig")
	require.NoError(t, err)
	require.NoError(t, db.Omit("Buyer", "Listing", "Verifier").Create(order).Error)

	var loaded models.PurchaseOrder
	require.NoError(t, db.Preload("Buyer").Preload("Listing.Owner").First(&loaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderStateAwaitingClosure, loaded.State)
	assert.Equal(t, uint64(12), loaded.OpenMarker)
	assert.Equal(t, "buyer", loaded.Buyer.Name)
	assert.Equal(t, "seller", loaded.Listing.Owner.Name)
	assert.Nil(t, loaded.VerifierID)
}
