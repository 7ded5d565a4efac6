package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-spot-grid-bot/internal/models"
)

func newTestSim() *SimExchange {
	return NewSimExchange(&models.Config{
		Symbol:            "BTCUSDT",
		InitialInvestment: 1000,
		MakerFeeRate:      0.001,
	})
}

func TestSimPlaceOrderLocksFunds(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	order, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 1, 90, "GTC", "t-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusNew), order.Status)

	// 90 USDT moved from free to locked, total unchanged.
	free, err := sim.GetAssetBalance("USDT")
	require.NoError(t, err)
	assert.InDelta(t, 910.0, free, 1e-9)
	assert.InDelta(t, 1000.0, sim.QuoteBalance(), 1e-9)
}

func TestSimPlaceOrderInsufficientBalance(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	_, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 20, 100, "GTC", "t-1")
	require.Error(t, err)
	var apiErr *models.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(-2010), apiErr.Code)
}

func TestSimBuyFillPath(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	order, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 2, 95, "GTC", "t-1")
	require.NoError(t, err)

	// The candle low touches the limit price: the order fills at 95.
	sim.SetPrice(98, 99, 94, 96, time.Now())

	filled, err := sim.GetOrderStatus("BTCUSDT", order.OrderId)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusFilled), filled.Status)

	// 2 BTC received minus 0.1% commission in base asset.
	assert.InDelta(t, 2*0.999, sim.BaseAssetQty(), 1e-9)
	assert.InDelta(t, 810.0, sim.QuoteBalance(), 1e-9)

	trades, err := sim.GetTradeHistory("BTCUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, order.OrderId, trades[0].OrderId)
	assert.True(t, trades[0].IsBuyer)
	assert.Equal(t, "BTC", trades[0].CommissionAsset)
}

func TestSimSellFillDeductsQuoteCommission(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	// Buy 2 at 95, then sell the net amount at 105.
	buy, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 2, 95, "GTC", "t-1")
	require.NoError(t, err)
	sim.SetPrice(96, 96, 94, 96, time.Now())
	_ = buy

	sell, err := sim.PlaceOrder("BTCUSDT", "SELL", "LIMIT", 1.998, 105, "GTC", "t-2")
	require.NoError(t, err)

	sim.SetPrice(104, 106, 104, 105, time.Now())

	filled, err := sim.GetOrderStatus("BTCUSDT", sell.OrderId)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusFilled), filled.Status)

	// Proceeds: 1.998 * 105 minus 0.1% commission in USDT.
	proceeds := 1.998 * 105
	expectedQuote := 1000 - 190 + proceeds*(1-0.001)
	assert.InDelta(t, expectedQuote, sim.QuoteBalance(), 1e-9)
	assert.InDelta(t, 0.0, sim.BaseAssetQty(), 1e-9)

	trades, err := sim.GetTradeHistory("BTCUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "USDT", trades[1].CommissionAsset)
	assert.False(t, trades[1].IsBuyer)
}

func TestSimCancelRefundsLockedFunds(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	order, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 1, 90, "GTC", "t-1")
	require.NoError(t, err)

	require.NoError(t, sim.CancelOrder("BTCUSDT", order.OrderId))
	free, err := sim.GetAssetBalance("USDT")
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, free, 1e-9)

	// Cancelling a non-NEW order is a venue rejection.
	err = sim.CancelOrder("BTCUSDT", order.OrderId)
	var apiErr *models.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, int64(-2011), apiErr.Code)
}

func TestSimBuyNotFilledAboveLimit(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())

	order, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 1, 90, "GTC", "t-1")
	require.NoError(t, err)

	// The candle never reaches 90.
	sim.SetPrice(98, 101, 95, 99, time.Now())

	status, err := sim.GetOrderStatus("BTCUSDT", order.OrderId)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusNew), status.Status)
}

func TestSimEquityCurveTracksPrice(t *testing.T) {
	sim := newTestSim()
	sim.SetPrice(100, 100, 100, 100, time.Now())
	require.Len(t, sim.EquityCurve, 1)
	assert.InDelta(t, 1000.0, sim.EquityCurve[0], 1e-9)

	// Buy 1 at 95, then the price rises to 110: equity reflects the gain.
	_, err := sim.PlaceOrder("BTCUSDT", "BUY", "LIMIT", 1, 95, "GTC", "t-1")
	require.NoError(t, err)
	sim.SetPrice(96, 96, 94, 96, time.Now())
	sim.SetPrice(100, 111, 100, 110, time.Now())

	require.Len(t, sim.EquityCurve, 3)
	// 905 USDT + 0.999 BTC * 110
	assert.InDelta(t, 905+0.999*110, sim.EquityCurve[2], 1e-9)
}

func TestSimGetPriceRequiresInitialization(t *testing.T) {
	sim := newTestSim()
	_, err := sim.GetPrice("BTCUSDT")
	assert.Error(t, err)
}
