package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLotSpecFor(t *testing.T) {
	btc := LotSpecFor("BTC")
	assert.Equal(t, 0.00001, btc.Step)
	assert.Equal(t, 5, btc.Precision)

	eth := LotSpecFor("ETH")
	assert.Equal(t, 0.0001, eth.Step)
	assert.Equal(t, 4, eth.Precision)

	// The lookup is case-insensitive: a lowercase asset name from the
	// config must not silently fall through to the default precision.
	assert.Equal(t, btc, LotSpecFor("btc"))
	assert.Equal(t, eth, LotSpecFor("eth"))

	// Unknown assets fall back to the conservative default.
	unknown := LotSpecFor("DOGE")
	assert.Equal(t, 0.000001, unknown.Step)
	assert.Equal(t, 8, unknown.Precision)
}

func TestRoundToAndFloorTo(t *testing.T) {
	assert.InDelta(t, 1.23, RoundTo(1.234, 2), 1e-12)
	assert.InDelta(t, 1.24, RoundTo(1.235, 2), 1e-12)
	assert.InDelta(t, 1.23, FloorTo(1.2399, 2), 1e-12)
	assert.InDelta(t, 0.00012, FloorTo(0.000129, 5), 1e-15)
}

func TestPlanRejectsNonPositiveOrderCount(t *testing.T) {
	_, err := Plan(100, 1, 10, 0, 100, 0, "BTC")
	require.Error(t, err)
}

// TestPlanPriceLadder verifies the linear ladder between the first price
// (market minus the offset) and the lower bound, with quote-step rounding.
func TestPlanPriceLadder(t *testing.T) {
	orders, err := Plan(83206, 1, 10, 3, 19.99, 10, "BTC")
	require.NoError(t, err)
	require.Len(t, orders, 3)

	// first = 83206 * 0.99 = 82373.94, lower = first * 0.9 = 74136.546
	assert.InDelta(t, 82373.94, orders[0].Price, 1e-9)
	assert.InDelta(t, 78255.24, orders[1].Price, 1e-9)
	assert.InDelta(t, 74136.55, orders[2].Price, 1e-9)

	for i, o := range orders {
		assert.Equal(t, i+1, o.OrderNumber)
	}
	for i := 1; i < len(orders); i++ {
		assert.Less(t, orders[i].Price, orders[i-1].Price, "prices must strictly decrease")
	}
}

func TestPlanSingleOrder(t *testing.T) {
	orders, err := Plan(100, 1, 10, 1, 50, 10, "BTC")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// The entire budget lands on the only rung at market * (1 - offset/100).
	assert.InDelta(t, 99.0, orders[0].Price, 1e-9)
	assert.InDelta(t, 0.50505, orders[0].AssetQuantity, 1e-9)
}

// TestPlanGeometricAllocation checks that successive rung budgets grow by
// the configured ratio before quantities are snapped to the lot step.
func TestPlanGeometricAllocation(t *testing.T) {
	// Use a fine-grained default-precision asset so the lot snapping barely
	// disturbs the geometric progression.
	orders, err := Plan(2.5, 1, 10, 3, 300, 10, "XRP")
	require.NoError(t, err)
	require.Len(t, orders, 3)

	// X * (1.1^3 - 1) / 0.1 = 300 => X = 300 * 0.1 / 0.331
	ratio21 := orders[1].USDTAllocation / orders[0].USDTAllocation
	ratio32 := orders[2].USDTAllocation / orders[1].USDTAllocation
	assert.InDelta(t, 1.1, ratio21, 0.01)
	assert.InDelta(t, 1.1, ratio32, 0.01)
}

func TestPlanEqualAllocationWhenNoIncrease(t *testing.T) {
	orders, err := Plan(100, 1, 10, 4, 400, 0, "XRP")
	require.NoError(t, err)
	require.Len(t, orders, 4)

	for _, o := range orders {
		assert.InDelta(t, 100, o.USDTAllocation, 0.01)
	}
}

// TestPlanBudgetConformance verifies that after the correction loop the
// rounded total never exceeds the budget (unless the last rung has been
// driven below one lot step, which terminates the loop).
func TestPlanBudgetConformance(t *testing.T) {
	cases := []struct {
		name        string
		marketPrice float64
		offset      float64
		length      float64
		numOrders   int
		total       float64
		increase    float64
		asset       string
	}{
		{"btc small budget", 83206, 1, 10, 3, 19.99, 10, "BTC"},
		{"btc many rungs", 60000, 0.5, 15, 20, 500, 5, "BTC"},
		{"eth equal split", 3000, 1, 10, 10, 250, 0, "ETH"},
		{"default asset", 2.5, 2, 20, 8, 120, 12, "XRP"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders, err := Plan(tc.marketPrice, tc.offset, tc.length, tc.numOrders, tc.total, tc.increase, tc.asset)
			require.NoError(t, err)
			require.Len(t, orders, tc.numOrders)

			spec := LotSpecFor(tc.asset)
			total := effectiveTotal(orders)
			lastQty := orders[tc.numOrders-1].AssetQuantity
			if total > tc.total {
				assert.Less(t, lastQty, spec.Step,
					"total %.2f exceeds budget %.2f but last rung still holds a sellable quantity", total, tc.total)
			}

			for _, o := range orders {
				assert.GreaterOrEqual(t, o.AssetQuantity, 0.0)
			}
		})
	}
}

// TestPlanCorrectionOnlyTouchesLastRung pins down that budget correction
// shrinks the deepest rung and leaves all shallower rungs untouched.
func TestPlanCorrectionOnlyTouchesLastRung(t *testing.T) {
	// Parameters picked so that nearest-step quantity rounding overshoots
	// the budget (25.74 + 25.839 = 51.58 > 51) and the correction loop runs.
	orders, err := Plan(100000, 1, 10, 2, 51, 0, "BTC")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.InDelta(t, 99000.0, orders[0].Price, 1e-9)
	assert.InDelta(t, 89100.0, orders[1].Price, 1e-9)

	// The first rung keeps its nearest-step quantity.
	assert.InDelta(t, 0.00026, orders[0].AssetQuantity, 1e-12)
	// The last rung was decremented by one lot step (0.00029 -> 0.00028).
	assert.InDelta(t, 0.00028, orders[1].AssetQuantity, 1e-12)
	assert.InDelta(t, 24.95, orders[1].USDTAllocation, 1e-9)

	assert.LessOrEqual(t, effectiveTotal(orders), 51.0)
}
