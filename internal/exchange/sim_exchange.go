package exchange

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"binance-spot-grid-bot/internal/models"
)

// SimExchange 实现了 Exchange 接口，模拟币安现货的订单撮合与资金划转，用于回测。
//
// 资金模型：下LIMIT买单时立即冻结名义价值的USDT，下卖单时冻结基础资产；
// 成交时按挂单价成交，买入手续费从收到的基础资产中扣除，
// 卖出手续费从收到的USDT中扣除，与币安现货的手续费行为一致。
type SimExchange struct {
	Symbol         string
	Asset          string // 基础资产，如 "BTC"
	InitialBalance float64
	MakerFeeRate   float64

	CurrentPrice float64
	CurrentTime  time.Time

	freeQuote   float64 // 可用USDT
	lockedQuote float64 // 买单冻结的USDT
	freeBase    float64 // 可用基础资产
	lockedBase  float64 // 卖单冻结的基础资产

	orders      map[int64]*models.Order
	TradeLog    []models.Trade
	EquityCurve []float64
	TotalFees   float64 // 以USDT计的累计手续费

	nextOrderID int64
	nextTradeID int64
	mu          sync.Mutex
}

// NewSimExchange 创建一个新的模拟现货交易所实例。
func NewSimExchange(cfg *models.Config) *SimExchange {
	return &SimExchange{
		Symbol:         cfg.Symbol,
		Asset:          strings.TrimSuffix(cfg.Symbol, "USDT"),
		InitialBalance: cfg.InitialInvestment,
		MakerFeeRate:   cfg.MakerFeeRate,
		freeQuote:      cfg.InitialInvestment,
		orders:         make(map[int64]*models.Order),
		TradeLog:       make([]models.Trade, 0),
		EquityCurve:    make([]float64, 0, 10000),
		nextOrderID:    1,
		nextTradeID:    1,
	}
}

// SetPrice 是回测的核心：按 O->L->H->C 的路径模拟K线内部的价格行为，
// 在每个价格点检查挂单成交，最后更新权益曲线。
func (e *SimExchange) SetPrice(open, high, low, close float64, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.CurrentTime = timestamp

	e.matchAtPrice(open)
	e.matchAtPrice(low)
	e.matchAtPrice(high)
	e.matchAtPrice(close)

	e.CurrentPrice = close
	e.EquityCurve = append(e.EquityCurve, e.equityLocked())
}

// matchAtPrice 在指定价格点检查所有挂单是否可以成交。调用方必须已持有锁。
func (e *SimExchange) matchAtPrice(price float64) {
	ids := make([]int64, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		order := e.orders[id]
		if models.NormalizeStatus(order.Status) != models.StatusNew || order.Type != "LIMIT" {
			continue
		}
		limitPrice, _ := strconv.ParseFloat(order.Price, 64)
		if (order.Side == "BUY" && price <= limitPrice) || (order.Side == "SELL" && price >= limitPrice) {
			e.fillOrder(order, limitPrice)
		}
	}
}

// fillOrder 以挂单价成交一个订单并记录成交流水。调用方必须已持有锁。
func (e *SimExchange) fillOrder(order *models.Order, price float64) {
	qty, _ := strconv.ParseFloat(order.OrigQty, 64)
	quoteQty := qty * price

	var commission float64
	var commissionAsset string
	if order.Side == "BUY" {
		// 冻结的USDT换成基础资产，手续费从收到的资产中扣除
		e.lockedQuote -= quoteQty
		commission = qty * e.MakerFeeRate
		commissionAsset = e.Asset
		e.freeBase += qty - commission
		e.TotalFees += commission * price
	} else {
		// 冻结的基础资产换成USDT，手续费从收到的USDT中扣除
		e.lockedBase -= qty
		commission = quoteQty * e.MakerFeeRate
		commissionAsset = "USDT"
		e.freeQuote += quoteQty - commission
		e.TotalFees += commission
	}

	order.Status = string(models.StatusFilled)
	order.ExecutedQty = order.OrigQty
	order.UpdateTime = e.CurrentTime.UnixMilli()

	e.TradeLog = append(e.TradeLog, models.Trade{
		Symbol:          e.Symbol,
		Id:              e.nextTradeID,
		OrderId:         order.OrderId,
		Price:           fmt.Sprintf("%.8f", price),
		Qty:             order.OrigQty,
		QuoteQty:        fmt.Sprintf("%.8f", quoteQty),
		Commission:      fmt.Sprintf("%.8f", commission),
		CommissionAsset: commissionAsset,
		Time:            e.CurrentTime.UnixMilli(),
		IsBuyer:         order.Side == "BUY",
		IsMaker:         true,
	})
	e.nextTradeID++
}

// equityLocked 计算当前总权益(USDT)。调用方必须已持有锁。
func (e *SimExchange) equityLocked() float64 {
	return e.freeQuote + e.lockedQuote + (e.freeBase+e.lockedBase)*e.CurrentPrice
}

// Equity 返回当前总权益(USDT)。
func (e *SimExchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked()
}

// BaseAssetQty 返回当前持有的基础资产总量。
func (e *SimExchange) BaseAssetQty() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeBase + e.lockedBase
}

// QuoteBalance 返回当前持有的USDT总量(含冻结)。
func (e *SimExchange) QuoteBalance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeQuote + e.lockedQuote
}

// --- Exchange 接口实现 ---

func (e *SimExchange) GetPrice(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CurrentPrice == 0 {
		return 0, fmt.Errorf("模拟交易所尚未设置价格")
	}
	return e.CurrentPrice, nil
}

func (e *SimExchange) GetAssetBalance(asset string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch asset {
	case "USDT":
		return e.freeQuote, nil
	case e.Asset:
		return e.freeBase, nil
	}
	return 0, nil
}

func (e *SimExchange) PlaceOrder(symbol, side, orderType string, quantity, price float64, timeInForce, clientOrderID string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if orderType != "LIMIT" {
		return nil, fmt.Errorf("模拟交易所仅支持LIMIT订单, 实际为: %s", orderType)
	}

	// 下单即冻结资金，可用余额不足时拒单
	if side == "BUY" {
		notional := quantity * price
		if notional > e.freeQuote {
			return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
		}
		e.freeQuote -= notional
		e.lockedQuote += notional
	} else {
		if quantity > e.freeBase {
			return nil, &models.Error{Code: -2010, Msg: "Account has insufficient balance for requested action."}
		}
		e.freeBase -= quantity
		e.lockedBase += quantity
	}

	order := &models.Order{
		Symbol:        symbol,
		OrderId:       e.nextOrderID,
		ClientOrderId: clientOrderID,
		Price:         fmt.Sprintf("%.8f", price),
		OrigQty:       fmt.Sprintf("%.8f", quantity),
		ExecutedQty:   "0",
		Status:        string(models.StatusNew),
		TimeInForce:   timeInForce,
		Type:          orderType,
		Side:          side,
		Time:          e.CurrentTime.UnixMilli(),
		TransactTime:  e.CurrentTime.UnixMilli(),
	}
	e.orders[order.OrderId] = order
	e.nextOrderID++
	return order, nil
}

func (e *SimExchange) CancelOrder(symbol string, orderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("未找到订单 %d", orderID)
	}
	if models.NormalizeStatus(order.Status) != models.StatusNew {
		return &models.Error{Code: -2011, Msg: "Unknown order sent."}
	}

	// 解冻下单时锁定的资金
	qty, _ := strconv.ParseFloat(order.OrigQty, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)
	if order.Side == "BUY" {
		e.lockedQuote -= qty * price
		e.freeQuote += qty * price
	} else {
		e.lockedBase -= qty
		e.freeBase += qty
	}

	order.Status = string(models.StatusCanceled)
	order.UpdateTime = e.CurrentTime.UnixMilli()
	return nil
}

func (e *SimExchange) GetOrderStatus(symbol string, orderID int64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("未找到订单 %d", orderID)
	}
	copied := *order
	return &copied, nil
}

func (e *SimExchange) GetTradeHistory(symbol string) ([]models.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	trades := make([]models.Trade, len(e.TradeLog))
	copy(trades, e.TradeLog)
	return trades, nil
}

func (e *SimExchange) GetServerTime() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.CurrentTime.IsZero() {
		return e.CurrentTime.UnixMilli(), nil
	}
	return time.Now().UnixMilli(), nil
}
