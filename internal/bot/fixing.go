package bot

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"binance-spot-grid-bot/internal/exchange"
	"binance-spot-grid-bot/internal/grid"
	"binance-spot-grid-bot/internal/logger"
	"binance-spot-grid-bot/internal/models"
)

// ErrNetQuantityNonPositive 表示扣除手续费后的净买入数量非正，无法创建回收单。
// 这是退化状态：手续费超过了买入数量，等更多成交积累后重试。
var ErrNetQuantityNonPositive = fmt.Errorf("扣除手续费后净买入数量非正，无法创建回收单")

// FixingOrderManager 负责聚合卖出(回收)订单的生命周期：
// 根据已成交买单的成交记录计算可卖数量和止盈价格，创建、替换回收单并统计其实收金额。
type FixingOrderManager struct {
	exchange exchange.Exchange
	symbol   string
	asset    string
	logger   *zap.SugaredLogger
}

// NewFixingOrderManager 创建一个回收单管理器。
func NewFixingOrderManager(ex exchange.Exchange, symbol, asset string) *FixingOrderManager {
	return &FixingOrderManager{
		exchange: ex,
		symbol:   symbol,
		asset:    asset,
		logger:   logger.S(),
	}
}

// Create 根据本机器人已成交买单的成交记录创建回收单。
//
// 从账户成交历史中筛选出属于本网格买单的买方成交，聚合总数量、总成本，
// 以及以基础资产收取的手续费；净数量按资产精度向下取整，保证卖出量
// 永远不超过实际持有量，取整残余作为无法卖出的资产计入 UnsoldAsset。
// 没有相关成交时返回 (nil, nil)，周期尚不能开始。
func (m *FixingOrderManager) Create(gridOrders []models.PlacedOrder, profitPercent float64) (*models.FixingOrder, error) {
	anyFilled := false
	botOrderIDs := make(map[int64]bool, len(gridOrders))
	for _, order := range gridOrders {
		botOrderIDs[order.OrderID] = true
		if order.Status == models.StatusFilled {
			anyFilled = true
		}
	}
	if !anyFilled {
		m.logger.Info("没有已成交的买单，不创建回收单。")
		return nil, nil
	}

	trades, err := m.exchange.GetTradeHistory(m.symbol)
	if err != nil {
		return nil, fmt.Errorf("获取成交记录失败: %v", err)
	}

	// 成交历史是事实来源：只统计属于本网格买单的买方成交
	var totalQty, totalCost, totalCommission float64
	relevant := 0
	for _, trade := range trades {
		if !trade.IsBuyer || !botOrderIDs[trade.OrderId] {
			continue
		}
		qty, _ := strconv.ParseFloat(trade.Qty, 64)
		price, _ := strconv.ParseFloat(trade.Price, 64)
		totalQty += qty
		totalCost += qty * price
		if trade.CommissionAsset == m.asset {
			commission, _ := strconv.ParseFloat(trade.Commission, 64)
			totalCommission += commission
		}
		relevant++
	}
	if relevant == 0 {
		m.logger.Info("已成交买单暂无可见的成交记录，不创建回收单。")
		return nil, nil
	}

	netQtyBought := totalQty - totalCommission
	if netQtyBought <= 0 {
		return nil, ErrNetQuantityNonPositive
	}

	weightedAvgPrice := totalCost / totalQty
	sellPrice := grid.RoundTo(weightedAvgPrice*(1+profitPercent/100), 2)

	// 向下取整而不是四舍五入，卖出数量绝不能超过实际持有量
	spec := grid.LotSpecFor(m.asset)
	netQty := grid.FloorTo(netQtyBought, spec.Precision)
	unsold := netQtyBought - netQty

	res, err := m.exchange.PlaceOrder(m.symbol, "SELL", "LIMIT", netQty, sellPrice, "GTC", newClientOrderID("fix"))
	if err != nil {
		return nil, fmt.Errorf("提交回收单失败: %w", err)
	}

	m.logger.Infof("已创建回收单: ID %d, 价格 %.2f, 数量 %.8f", res.OrderId, sellPrice, netQty)
	return &models.FixingOrder{
		OrderID:          res.OrderId,
		Price:            sellPrice,
		NetQuantity:      netQty,
		UnsoldAsset:      unsold,
		WeightedAvgPrice: weightedAvgPrice,
		TotalSoldCost:    totalCost,
		Status:           models.NormalizeStatus(res.Status),
	}, nil
}

// Income 重新读取成交记录，返回回收单的实收金额：
// 成交的USDT金额之和减去以USDT收取的手续费。
func (m *FixingOrderManager) Income(fo *models.FixingOrder) (float64, error) {
	trades, err := m.exchange.GetTradeHistory(m.symbol)
	if err != nil {
		return 0, fmt.Errorf("获取成交记录失败: %v", err)
	}

	var quoteQty, commission float64
	for _, trade := range trades {
		if trade.OrderId != fo.OrderID {
			continue
		}
		q, _ := strconv.ParseFloat(trade.QuoteQty, 64)
		quoteQty += q
		// 只有以USDT收取的手续费才从实收金额中扣除
		if trade.CommissionAsset == "USDT" {
			c, _ := strconv.ParseFloat(trade.Commission, 64)
			commission += c
		}
	}
	return quoteQty - commission, nil
}

// Replace 撤掉现有回收单(容忍撤单失败)并按最新的成交集合重新创建。
// 网格有新增买单成交时调用。
func (m *FixingOrderManager) Replace(existing *models.FixingOrder, gridOrders []models.PlacedOrder, profitPercent float64) (*models.FixingOrder, error) {
	if existing != nil {
		if err := m.exchange.CancelOrder(m.symbol, existing.OrderID); err != nil {
			// 订单可能已经不存在(例如恰好在此刻成交)，记录后继续重建
			m.logger.Errorf("撤销回收单 %d 失败: %v", existing.OrderID, err)
		} else {
			m.logger.Infof("已撤销回收单 %d", existing.OrderID)
		}
	}
	return m.Create(gridOrders, profitPercent)
}
