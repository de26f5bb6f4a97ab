package domain_test

import (
	"strings"
	"testing"

	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniverse_Resolve(t *testing.T) {
	u, err := domain.NewUniverse(wethUSDC())
	require.NoError(t, err)

	inst, side, err := u.Resolve(strings.ToLower(wethAddr), usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, "WETH-USDC", inst.Symbol)
	assert.Equal(t, domain.SideBuy, side)

	_, side, err = u.Resolve(usdcAddr, wethAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.SideSell, side)

	_, _, err = u.Resolve(wethAddr, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrUnknownPair)
}

func TestUniverse_RejectsDuplicatesAndBadInstruments(t *testing.T) {
	_, err := domain.NewUniverse(wethUSDC(), wethUSDC())
	assert.Error(t, err)

	bad := wethUSDC()
	bad.ExposureLimit = dec("0")
	_, err = domain.NewUniverse(bad)
	assert.Error(t, err)

	u, err := domain.NewUniverse(wethUSDC())
	require.NoError(t, err)
	_, err = u.Get("BTC-USDC")
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
}

func TestToken_UnitConversion(t *testing.T) {
	usdc := domain.Token{Address: usdcAddr, Decimals: 6}
	assert.Equal(t, "1800.5", usdc.ToUnits(dec("1800500000")).String())
	assert.Equal(t, "1800500000", usdc.FromUnits(dec("1800.5000009")).String())
}

func TestDesiredOrder_Drifted(t *testing.T) {
	inst := wethUSDC() // 20 bps price, 10% size
	o := domain.Order{Price: dec("1800"), Size: dec("1"), Filled: dec("0")}

	same := domain.DesiredOrder{Price: dec("1800.5"), Size: dec("1")}
	assert.False(t, same.Drifted(o, inst))

	moved := domain.DesiredOrder{Price: dec("1805"), Size: dec("1")}
	assert.True(t, moved.Drifted(o, inst))

	o.Filled = dec("0.5")
	assert.True(t, same.Drifted(o, inst), "remaining size halved")
}
