package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry-backend/internal/utils"
)

func TestUploadIsContentAddressed(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()
	seller := m.custodial(t, "seller")

	listing := m.list(t, seller, "hello", 5)
	assert.Equal(t, utils.ContentID([]byte("hello")), listing.ContentID)
	assert.Equal(t, int64(5), listing.Size)
	assert.Equal(t, seller.trader.ID, listing.Owner.ID)

	// Same owner, same bytes.
	_, err := m.listings.Upload(ctx, seller.trader.ID, &UploadListingRequest{Name: "again", Price: 9}, []byte("hello"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Another seller may list the same content.
	other := m.custodial(t, "other")
	relisted, err := m.listings.CreateListing(ctx, other.trader.ID, &CreateListingRequest{
		ContentID: listing.ContentID,
		Name:      "resale",
		Price:     7,
	})
	require.NoError(t, err)
	assert.Equal(t, listing.ContentID, relisted.ContentID)

	_, err = m.listings.CreateListing(ctx, other.trader.ID, &CreateListingRequest{
		ContentID: utils.ContentID([]byte("missing")),
		Name:      "ghost",
		Price:     7,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.listings.Upload(ctx, uuid.New(), &UploadListingRequest{Name: "orphan", Price: 1}, []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadRejectsOversizedContent(t *testing.T) {
	m := newMarket(t)
	seller := m.custodial(t, "seller")

	big := bytes.Repeat([]byte{1}, int(m.cfg.Storage.MaxUploadSize)+1)
	_, err := m.listings.Upload(context.Background(), seller.trader.ID, &UploadListingRequest{Name: "big", Price: 1}, big)
	assert.ErrorIs(t, err, ErrContentTooLarge)

	has, err := m.store.Has(context.Background(), utils.ContentID(big))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListingsHideContentID(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()
	seller := m.custodial(t, "seller")
	listing := m.list(t, seller, "hidden", 3)

	got, err := m.listings.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ContentID)
	assert.Equal(t, "hidden", got.Name)

	res, err := m.listings.ListListings(ctx, ListingSearchParams{
		PaginationParams: utils.PaginationParams{Page: 1, Limit: 10, Sort: "price", Order: "asc", Search: "hid"},
		OwnerID:          &seller.trader.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)

	_, err = m.listings.GetListing(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadAccess(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	buyer := m.custodial(t, "buyer")
	seller := m.custodial(t, "seller")
	verifier := m.custodial(t, "verifier")
	stranger := m.custodial(t, "stranger")
	m.fund(t, buyer, 10)
	listing := m.list(t, seller, "secret", 10)

	data, err := m.listings.Download(ctx, seller.trader.ID, listing.ContentID)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), data)

	_, err = m.listings.Download(ctx, buyer.trader.ID, listing.ContentID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = m.orders.Purchase(ctx, buyer.trader.ID, &PurchaseRequest{
		ListingID: listing.ID,
		Verifier:  verifier.trader.Account,
	})
	require.NoError(t, err)

	for _, p := range []party{buyer, verifier} {
		data, err := m.listings.Download(ctx, p.trader.ID, listing.ContentID)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), data)
	}

	_, err = m.listings.Download(ctx, stranger.trader.ID, listing.ContentID)
	assert.ErrorIs(t, err, ErrForbidden)
}
