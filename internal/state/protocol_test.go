package state

import (
	"encoding/json"
	"testing"

	fpmath "TroveLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAsset(t *testing.T) {
	f := newFixture(t, "ETH")
	stranger := user(42)

	register := func(sender Identity, p AssetParams) error {
		return f.exec(func(pm *ProtocolManager) error { return pm.RegisterAsset(sender, p) })
	}

	assert.ErrorIs(t, register(stranger, DefaultAssetParams("BTC", priceSource)), ErrNotOwner)
	assert.ErrorIs(t, register(admin, DefaultAssetParams("ETH", priceSource)), ErrAssetAlreadyRegistered)
	assert.ErrorIs(t, register(admin, DefaultAssetParams("USDF", priceSource)), ErrInvalidParams)
	assert.ErrorIs(t, register(admin, DefaultAssetParams("a/b", priceSource)), ErrInvalidParams)

	bad := DefaultAssetParams("BTC", priceSource)
	bad.MCR = fpmath.Precision
	assert.ErrorIs(t, register(admin, bad), ErrInvalidParams)
	bad = DefaultAssetParams("BTC", priceSource)
	bad.PostLiquidationRatio = bad.MCR
	assert.ErrorIs(t, register(admin, bad), ErrInvalidParams)
	assert.ErrorIs(t, register(admin, DefaultAssetParams("BTC", ZeroIdentity)), ErrInvalidParams)

	require.NoError(t, register(admin, DefaultAssetParams("BTC", priceSource)))
	assets, err := f.view().Assets()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, assets)

	limit, err := f.asset("BTC").Troves.List().MaxSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultMaxListSize), limit)
}

func TestUpdateAssetParams(t *testing.T) {
	f := newFixture(t, "ETH")
	p := DefaultAssetParams("ETH", priceSource)
	p.MCR = 1_100_000_000
	p.MaxListSize = 5

	err := f.exec(func(pm *ProtocolManager) error { return pm.UpdateAssetParams(user(42), p) })
	assert.ErrorIs(t, err, ErrNotOwner)

	missing := DefaultAssetParams("BTC", priceSource)
	err = f.exec(func(pm *ProtocolManager) error { return pm.UpdateAssetParams(admin, missing) })
	assert.ErrorIs(t, err, ErrInvalidAsset)

	f.mustExec(func(pm *ProtocolManager) error { return pm.UpdateAssetParams(admin, p) })
	inst := f.asset("ETH")
	assert.Equal(t, uint64(1_100_000_000), inst.Params.MCR)
	limit, err := inst.Troves.List().MaxSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), limit)
}

func TestInitGenesis(t *testing.T) {
	f := newFixture(t)
	f.mustExec(func(pm *ProtocolManager) error { return pm.InitGenesis(admin) })

	err := f.exec(func(pm *ProtocolManager) error { return pm.InitGenesis(user(42)) })
	assert.ErrorIs(t, err, ErrNotOwner)
	err = f.exec(func(pm *ProtocolManager) error { return pm.InitGenesis(ZeroIdentity) })
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	got, err := f.view().Admin()
	require.NoError(t, err)
	assert.Equal(t, admin, got)
}

func TestPostPrice(t *testing.T) {
	f := newFixture(t, "ETH")
	post := func(source Identity, asset string, price uint64) error {
		return f.exec(func(pm *ProtocolManager) error { return pm.PostPrice(source, asset, price) })
	}

	assert.ErrorIs(t, post(user(42), "ETH", fpmath.Precision), ErrNotAuthorized)
	assert.ErrorIs(t, post(admin, "ETH", fpmath.Precision), ErrNotAuthorized)
	assert.ErrorIs(t, post(priceSource, "ETH", 0), ErrInvalidAmount)
	assert.ErrorIs(t, post(priceSource, "BTC", fpmath.Precision), ErrInvalidAsset)

	f.advance(30)
	require.NoError(t, post(priceSource, "ETH", 2*fpmath.Precision))
	pm := f.view()
	price, err := pm.Oracle().GetPrice("ETH")
	require.NoError(t, err)
	assert.Equal(t, 2*fpmath.Precision, price)
	ts, err := pm.Oracle().LastUpdate("ETH")
	require.NoError(t, err)
	assert.Equal(t, f.now, ts)
}

func TestStabilityDeposit(t *testing.T) {
	f := newFixture(t, "ETH")
	a := user(1)
	f.open("ETH", a, e9(1200), e9(600))

	err := f.exec(func(pm *ProtocolManager) error { return pm.StabilityPool().Provide(a, e9(1000)) })
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	err = f.exec(func(pm *ProtocolManager) error { return pm.StabilityPool().Provide(a, 0) })
	assert.ErrorIs(t, err, ErrInvalidAmount)

	f.provide(a, e9(500))
	assert.Equal(t, e9(500), f.view().StabilityPool().AvailableDebtToken())
	f.checkInvariants()
}

func TestIdentity(t *testing.T) {
	id := Contract(common.HexToHash("0xabc"))
	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = ParseIdentity("address:0x1")
	require.NoError(t, err)
	assert.Equal(t, Address(common.HexToHash("0x01")), parsed)

	for _, bad := range []string{"0x1", "robot:0x1", "address:1", "address:0xzz"} {
		_, err := ParseIdentity(bad)
		assert.Error(t, err, bad)
	}

	raw, err := json.Marshal(map[string]Identity{"owner": id})
	require.NoError(t, err)
	var back map[string]Identity
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, id, back["owner"])
	assert.NotEqual(t, Address(id.ID), id)
}
