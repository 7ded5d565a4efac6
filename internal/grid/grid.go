package grid

import (
	"fmt"
	"math"
	"strings"

	"binance-spot-grid-bot/internal/models"
)

// LotSpec 描述了一个基础资产的最小交易步长和数量精度。
type LotSpec struct {
	Step      float64 // 最小交易步长 (lot step)
	Precision int     // 数量小数位数
}

// lotTable 是按资产查找交易精度的静态表。
// 新增资产只需在这里加一行，不需要改代码逻辑。
var lotTable = map[string]LotSpec{
	"BTC": {Step: 0.00001, Precision: 5},
	"ETH": {Step: 0.0001, Precision: 4},
}

// defaultLotSpec 是未收录资产的保守默认精度。
var defaultLotSpec = LotSpec{Step: 0.000001, Precision: 8}

// LotSpecFor 返回指定资产的交易精度，未收录的资产使用保守默认值。
// 查表前统一转为大写，配置里的小写资产名不会错配到默认精度。
func LotSpecFor(asset string) LotSpec {
	if spec, ok := lotTable[strings.ToUpper(asset)]; ok {
		return spec
	}
	return defaultLotSpec
}

// RoundTo 将数值四舍五入到指定小数位。
func RoundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

// FloorTo 将数值向下取整到指定小数位。
func FloorTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Floor(value*factor) / factor
}

// Plan 根据市价和策略参数计算整张网格的买单列表。
//
// 价格在 firstPrice 和 lowerPrice 之间线性等分(含两端)，按0.01的报价步长取整；
// 预算按公比 r = 1 + increasePercent/100 的等比数列分配到各档，
// 分配额在换算成数量之前不做取整，避免舍入误差累积；
// 数量按资产步长就近取整后，若总占用超出预算，只从最后(最深)一档逐步长递减，
// 直到总占用不超过预算为止。
func Plan(
	marketPrice float64,
	offsetPercent float64,
	gridLengthPercent float64,
	numOrders int,
	totalUSDT float64,
	increasePercent float64,
	asset string,
) ([]models.PlannedOrder, error) {
	if numOrders < 1 {
		return nil, fmt.Errorf("网格档位数必须不小于1, 实际为: %d", numOrders)
	}

	firstPrice := marketPrice * (1 - offsetPercent/100)
	lowerPrice := firstPrice * (1 - gridLengthPercent/100)

	prices := make([]float64, numOrders)
	if numOrders == 1 {
		prices[0] = firstPrice
	} else {
		step := (firstPrice - lowerPrice) / float64(numOrders-1)
		for i := 0; i < numOrders; i++ {
			prices[i] = firstPrice - float64(i)*step
		}
	}
	for i := range prices {
		prices[i] = RoundTo(prices[i], 2)
	}

	allocations := make([]float64, numOrders)
	r := 1 + increasePercent/100
	if r == 1 {
		for i := range allocations {
			allocations[i] = totalUSDT / float64(numOrders)
		}
	} else {
		// 解 X: totalUSDT = X * (r^N - 1) / (r - 1)
		x := totalUSDT * (r - 1) / (math.Pow(r, float64(numOrders)) - 1)
		for i := range allocations {
			allocations[i] = x * math.Pow(r, float64(i))
		}
	}

	spec := LotSpecFor(asset)

	orders := make([]models.PlannedOrder, numOrders)
	for i := 0; i < numOrders; i++ {
		rawQty := allocations[i] / prices[i]
		qty := math.Round(rawQty/spec.Step) * spec.Step
		orders[i] = models.PlannedOrder{
			OrderNumber:    i + 1,
			Price:          prices[i],
			USDTAllocation: qty * prices[i],
			AssetQuantity:  qty,
		}
	}

	// 预算符合性校正：若总占用超出预算，只递减最后一档的数量。
	// 最后一档是最深、价格最低的一档，少买它是最安全的。
	totalEffective := effectiveTotal(orders)
	for totalEffective > totalUSDT && orders[numOrders-1].AssetQuantity >= spec.Step {
		last := &orders[numOrders-1]
		last.AssetQuantity = RoundTo(last.AssetQuantity-spec.Step, spec.Precision)
		last.USDTAllocation = RoundTo(last.AssetQuantity*last.Price, 2)
		totalEffective = effectiveTotal(orders)
	}

	return orders, nil
}

// effectiveTotal 计算全部档位实际占用的USDT总额，保留2位小数。
func effectiveTotal(orders []models.PlannedOrder) float64 {
	var sum float64
	for _, o := range orders {
		sum += o.USDTAllocation
	}
	return RoundTo(sum, 2)
}
