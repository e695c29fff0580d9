package services

import (
	"context"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/utils"
)

func TestSignupAndLogin(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	alice := m.selfCustody(t, "alice")
	assert.Equal(t, strings.ToLower(alice.trader.Account), alice.trader.Account)
	assert.Equal(t, models.TraderStatusActive, alice.trader.Status)

	resp, err := m.traders.Login(ctx, &LoginRequest{Name: "alice", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)

	claims, err := utils.ValidateJWT(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.trader.ID.String(), claims.TraderID)
	assert.Equal(t, alice.trader.Account, claims.Account)

	stored, err := m.traders.GetTrader(ctx, alice.trader.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = m.traders.Login(ctx, &LoginRequest{Name: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.traders.Login(ctx, &LoginRequest{Name: "nobody", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	refreshed, err := m.traders.RefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = m.traders.RefreshToken(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignupRejectsDuplicates(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	alice := m.selfCustody(t, "alice")

	_, err := m.traders.Signup(ctx, &SignupRequest{
		Name:     "alice",
		Password: testPassword,
		Account:  "0x00000000000000000000000000000000000000a1",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = m.traders.Signup(ctx, &SignupRequest{
		Name:     "alice2",
		Password: testPassword,
		Account:  "0x" + strings.ToUpper(alice.trader.Account[2:]),
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = m.traders.Signup(ctx, &SignupRequest{Name: "bob", Password: "weak"})
	assert.Error(t, err)
}

func TestSignupTakesCustody(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	key := newKey(t)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	other := newKey(t)
	_, err := m.traders.Signup(ctx, &SignupRequest{
		Name:       "carol",
		Password:   testPassword,
		Account:    addr.Hex(),
		PrivateKey: keyHex(other),
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	_, err = m.traders.Signup(ctx, &SignupRequest{
		Name:       "carol",
		Password:   testPassword,
		PrivateKey: "not-a-key",
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	resp, err := m.traders.Signup(ctx, &SignupRequest{
		Name:       "carol",
		Password:   testPassword,
		Account:    addr.Hex(),
		PrivateKey: "0x" + keyHex(key),
	})
	require.NoError(t, err)
	assert.True(t, m.signer.CanSign(addr))

	details := m.traders.Details(ctx, resp.Trader)
	assert.True(t, details.Custodial)
	require.NotNil(t, details.Balance)
	assert.Zero(t, *details.Balance)

	// The event stream learns the new name.
	name, ok := m.hub.Roles().Lookup(addr.Hex())
	assert.True(t, ok)
	assert.Equal(t, "carol", name)
}

func TestChangePassword(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()
	alice := m.selfCustody(t, "alice")

	err := m.traders.ChangePassword(ctx, alice.trader.ID, &ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "N3w-Passw0rd",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, m.traders.ChangePassword(ctx, alice.trader.ID, &ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "N3w-Passw0rd",
	}))

	_, err = m.traders.Login(ctx, &LoginRequest{Name: "alice", Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.traders.Login(ctx, &LoginRequest{Name: "alice", Password: "N3w-Passw0rd"})
	assert.NoError(t, err)
}

func TestSuspendedTraderCannotLogin(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()
	alice := m.selfCustody(t, "alice")

	require.NoError(t, m.db.Model(alice.trader).Update("status", models.TraderStatusSuspended).Error)

	_, err := m.traders.Login(ctx, &LoginRequest{Name: "alice", Password: testPassword})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, err, ErrTraderSuspended)
}

func TestListTradersAndRoleAccounts(t *testing.T) {
	m := newMarket(t)
	ctx := context.Background()

	alice := m.selfCustody(t, "alice")
	bob := m.custodial(t, "bob")
	m.fund(t, bob, 7)

	res, err := m.traders.ListTraders(ctx, utils.PaginationParams{Page: 1, Limit: 10, Sort: "name", Order: "asc", Search: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	details := res.Data.([]*TraderDetails)
	require.Len(t, details, 1)
	assert.Equal(t, "bob", details[0].Name)
	assert.True(t, details[0].Custodial)
	require.NotNil(t, details[0].Balance)
	assert.Equal(t, int64(7), *details[0].Balance)

	roles, err := m.traders.RoleAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"alice": alice.trader.Account,
		"bob":   bob.trader.Account,
	}, roles)

	found, err := m.traders.GetByAccount(ctx, "0x"+strings.ToUpper(bob.trader.Account[2:]))
	require.NoError(t, err)
	assert.Equal(t, bob.trader.ID, found.ID)

	_, err = m.traders.GetByAccount(ctx, "0x00000000000000000000000000000000000000ee")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.traders.GetTrader(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
