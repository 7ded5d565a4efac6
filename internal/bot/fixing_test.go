package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-spot-grid-bot/internal/models"
)

func filledOrder(id int64) models.PlacedOrder {
	return models.PlacedOrder{OrderID: id, Status: models.StatusFilled}
}

func openOrder(id int64) models.PlacedOrder {
	return models.PlacedOrder{OrderID: id, Status: models.StatusNew}
}

func TestFixingCreateNoFilledOrders(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	fo, err := m.Create([]models.PlacedOrder{openOrder(1), openOrder(2)}, 1)
	require.NoError(t, err)
	assert.Nil(t, fo)
	assert.Empty(t, ex.placedBySide("SELL"), "no sell order without a filled buy")
}

func TestFixingCreateTradesNotYetVisible(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	fo, err := m.Create([]models.PlacedOrder{filledOrder(1)}, 1)
	require.NoError(t, err)
	assert.Nil(t, fo, "creation is deferred until trades are visible")
	assert.Empty(t, ex.placedBySide("SELL"))
}

func TestFixingCreateAggregatesTrades(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	// Two fills across two orders, plus noise that must be ignored:
	// a trade from a foreign order and a sell-side trade.
	ex.addBuyTrade(1, 0.001, 50000, 0.000001)
	ex.addBuyTrade(1, 0.001, 50000, 0.000001)
	ex.addBuyTrade(2, 0.002, 48000, 0.000002)
	ex.addBuyTrade(999, 0.5, 50000, 0.0005)
	ex.addSellTrade(1, 100, 0.1)

	fo, err := m.Create([]models.PlacedOrder{filledOrder(1), filledOrder(2)}, 2)
	require.NoError(t, err)
	require.NotNil(t, fo)

	// totalQty = 0.004, cost = 2*50 + 96 = 196, commission = 0.000004 BTC
	assert.InDelta(t, 49000.0, fo.WeightedAvgPrice, 1e-6)
	assert.InDelta(t, 196.0, fo.TotalSoldCost, 1e-9)
	// net = 0.004 - 0.000004 = 0.003996, floored to 5 decimals
	assert.InDelta(t, 0.00399, fo.NetQuantity, 1e-12)
	assert.InDelta(t, 0.000006, fo.UnsoldAsset, 1e-12)
	// sell price = 49000 * 1.02
	assert.InDelta(t, 49980.0, fo.Price, 1e-9)

	sells := ex.placedBySide("SELL")
	require.Len(t, sells, 1)
	assert.Equal(t, "LIMIT", sells[0].OrderType)
	assert.InDelta(t, 0.00399, sells[0].Quantity, 1e-12)
	assert.InDelta(t, 49980.0, sells[0].Price, 1e-9)
}

func TestFixingCreateIgnoresQuoteCommission(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	// Commission charged in USDT must not be netted from the base quantity.
	ex.Lock()
	ex.trades = append(ex.trades, models.Trade{
		OrderId:         1,
		Price:           "50000.00000000",
		Qty:             "0.00100000",
		QuoteQty:        "50.00000000",
		Commission:      "0.05000000",
		CommissionAsset: "USDT",
		IsBuyer:         true,
	})
	ex.Unlock()

	fo, err := m.Create([]models.PlacedOrder{filledOrder(1)}, 1)
	require.NoError(t, err)
	require.NotNil(t, fo)
	assert.InDelta(t, 0.001, fo.NetQuantity, 1e-12)
}

func TestFixingCreateFloorsToAssetPrecision(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	// 0.00038 bought minus 0.00000038 BTC commission = 0.00037962,
	// floored to 5 decimals leaves 0.00037 sellable and a residue.
	ex.addBuyTrade(1, 0.00038, 79200, 0.00000038)

	fo, err := m.Create([]models.PlacedOrder{filledOrder(1)}, 1)
	require.NoError(t, err)
	require.NotNil(t, fo)
	assert.InDelta(t, 0.00037, fo.NetQuantity, 1e-12)
	assert.InDelta(t, 0.00000962, fo.UnsoldAsset, 1e-12)
}

func TestFixingCreateNetQuantityNonPositive(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	// Degenerate case: the base-asset commission swallows the whole fill.
	ex.addBuyTrade(1, 0.0001, 50000, 0.0002)

	fo, err := m.Create([]models.PlacedOrder{filledOrder(1)}, 1)
	assert.ErrorIs(t, err, ErrNetQuantityNonPositive)
	assert.Nil(t, fo)
	assert.Empty(t, ex.placedBySide("SELL"))
}

func TestFixingIncome(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	ex.addSellTrade(42, 30.0, 0.03)
	ex.addSellTrade(42, 20.0, 0.02)
	// A trade of another order must not contribute.
	ex.addSellTrade(43, 99.0, 0.09)

	income, err := m.Income(&models.FixingOrder{OrderID: 42})
	require.NoError(t, err)
	assert.InDelta(t, 49.95, income, 1e-9)
}

func TestFixingReplaceToleratesCancelFailure(t *testing.T) {
	ex := newMockExchange(80000, 1000)
	m := NewFixingOrderManager(ex, "BTCUSDT", "BTC")

	ex.addBuyTrade(1, 0.001, 50000, 0.000001)
	ex.Lock()
	ex.cancelErr = errors.New("order does not exist")
	ex.Unlock()

	// The old order may already be gone; the replacement is created anyway.
	fo, err := m.Replace(&models.FixingOrder{OrderID: 7}, []models.PlacedOrder{filledOrder(1)}, 1)
	require.NoError(t, err)
	require.NotNil(t, fo)
	assert.Len(t, ex.placedBySide("SELL"), 1)
}
