package reporter

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"binance-spot-grid-bot/internal/exchange"
	"binance-spot-grid-bot/internal/logger"
	"binance-spot-grid-bot/internal/models"
)

// Metrics 存储计算出的回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	CompletedCycles  int
	CycleProfitUSDT  float64
	UnsoldAsset      float64
	TotalTrades      int
	TotalFees        float64
	MaxDrawdown      float64
	EndingCash       float64 // 期末USDT
	EndingAssetValue float64 // 期末持仓市值
	TotalAssetQty    float64 // 持有基础资产的总数量
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 根据模拟交易所和机器人统计计算并打印回测报告。
func GenerateReport(sim *exchange.SimExchange, stats models.BotStats, dataPath string, startTime, endTime time.Time) {
	m := calculateMetrics(sim, stats)
	m.StartTime = startTime
	m.EndTime = endTime

	t := table.NewWriter()
	t.SetTitle("回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易对", sim.Symbol},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USDT", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f USDT", m.FinalBalance)},
		{"总利润", fmt.Sprintf("%.2f USDT", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"完成周期数", m.CompletedCycles},
		{"周期累计利润", fmt.Sprintf("%.4f USDT", m.CycleProfitUSDT)},
		{"累计残余资产", fmt.Sprintf("%.8f", m.UnsoldAsset)},
		{"总成交笔数", m.TotalTrades},
		{"累计手续费", fmt.Sprintf("%.4f USDT", m.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", fmt.Sprintf("%.2f USDT", m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%.2f USDT (共 %.8f)", m.EndingAssetValue, m.TotalAssetQty)},
	})
	fmt.Println(t.Render())
}

// RenderStats 将机器人状态快照渲染为表格文本，供命令行定期输出。
func RenderStats(stats models.BotStats) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("机器人状态 [%s]", stats.Symbol))
	t.AppendRows([]table.Row{
		{"周期进行中", stats.CycleStarted},
		{"初始市价", fmt.Sprintf("%.2f", stats.InitialMarketPrice)},
		{"完成周期数", stats.CompletedCycles},
		{"累计利润", fmt.Sprintf("%.4f USDT", stats.TotalProfitUSDT)},
		{"累计残余资产", fmt.Sprintf("%.8f", stats.TotalUnsoldAsset)},
		{"当前网格挂单数", len(stats.CurrentGridOrders)},
	})
	if stats.FixingOrder != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"回收单ID", stats.FixingOrder.OrderID},
			{"回收单价格", fmt.Sprintf("%.2f", stats.FixingOrder.Price)},
			{"回收单数量", fmt.Sprintf("%.8f", stats.FixingOrder.NetQuantity)},
		})
	}

	orders := table.NewWriter()
	orders.AppendHeader(table.Row{"#", "订单ID", "价格", "数量", "状态"})
	for _, o := range stats.CurrentGridOrders {
		orders.AppendRow(table.Row{o.OrderNumber, o.OrderID, fmt.Sprintf("%.2f", o.Price), fmt.Sprintf("%.8f", o.AssetQuantity), o.Status})
	}

	if len(stats.CurrentGridOrders) == 0 {
		return t.Render()
	}
	return t.Render() + "\n" + orders.Render()
}

func calculateMetrics(sim *exchange.SimExchange, stats models.BotStats) *Metrics {
	m := &Metrics{
		InitialBalance:  sim.InitialBalance,
		CompletedCycles: stats.CompletedCycles,
		CycleProfitUSDT: stats.TotalProfitUSDT,
		UnsoldAsset:     stats.TotalUnsoldAsset,
		TotalFees:       sim.TotalFees,
	}

	trades, err := sim.GetTradeHistory(sim.Symbol)
	if err != nil {
		logger.S().Errorf("读取模拟成交记录失败: %v", err)
	}
	m.TotalTrades = len(trades)

	m.EndingCash = sim.QuoteBalance()
	m.TotalAssetQty = sim.BaseAssetQty()
	m.EndingAssetValue = m.TotalAssetQty * sim.CurrentPrice
	m.FinalBalance = m.EndingCash + m.EndingAssetValue

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(sim.EquityCurve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0
	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
