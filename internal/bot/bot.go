package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"

	"binance-spot-grid-bot/internal/config"
	"binance-spot-grid-bot/internal/exchange"
	"binance-spot-grid-bot/internal/grid"
	"binance-spot-grid-bot/internal/journal"
	"binance-spot-grid-bot/internal/logger"
	"binance-spot-grid-bot/internal/models"
)

// ValidationError 表示周期启动前的前置条件校验失败(余额、最小名义价值、参数范围)。
// 返回该错误时没有任何订单被提交。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ErrBotAlreadyExists 表示进程内已存在一个机器人实例。
var ErrBotAlreadyExists = fmt.Errorf("机器人实例已存在，每个进程只允许一个")

// 进程级互斥：同一进程内最多只能创建一个机器人实例，
// 并发的启动请求不会各自创建一个。
var (
	instanceMu     sync.Mutex
	instanceActive bool
)

// cyclePhase 表示周期状态机的当前阶段。
type cyclePhase int

const (
	phaseIdle              cyclePhase = iota // 尚未启动任何周期
	phasePlacing                             // 等待(重新)铺设网格
	phaseAwaitingFirstFill                   // 网格已挂出，等待第一笔成交
	phaseCycleActive                         // 周期已开始，监控回收单和后续成交
)

// SpotGridBot 是现货网格周期机器人的核心结构。
//
// 它驱动一个有界的状态机循环：铺设买单网格 -> 等待首笔成交 ->
// 周期进行中(回收单监控) -> 周期完成后回到铺设阶段，用存储的策略参数自动开始下一轮。
// 周期重启永远是状态转移，不是递归调用。
type SpotGridBot struct {
	cfg        *models.Config
	exchange   exchange.Exchange
	journal    journal.Journal // 可为nil：周期完成记录仅作流水，不用于恢复
	fixing     *FixingOrderManager
	symbol     string
	asset      string
	isBacktest bool
	logger     *zap.SugaredLogger

	mutex              sync.RWMutex
	strategy           *models.StrategyConfig
	currentGridOrders  []models.PlacedOrder
	fixingOrder        *models.FixingOrder
	cycleStarted       bool
	initialMarketPrice float64
	completedCycles    int
	totalProfitUSDT    float64
	totalUnsoldAsset   float64
	phase              cyclePhase

	isRunning   bool
	stopChannel chan struct{}
	feed        *priceFeed
}

// NewSpotGridBot 创建一个新的机器人实例。
// 进程内已存在活动实例时返回 ErrBotAlreadyExists。
func NewSpotGridBot(cfg *models.Config, ex exchange.Exchange, jnl journal.Journal, isBacktest bool) (*SpotGridBot, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instanceActive {
		return nil, ErrBotAlreadyExists
	}

	asset := strings.TrimSuffix(cfg.Symbol, "USDT")
	b := &SpotGridBot{
		cfg:        cfg,
		exchange:   ex,
		journal:    jnl,
		fixing:     NewFixingOrderManager(ex, cfg.Symbol, asset),
		symbol:     cfg.Symbol,
		asset:      asset,
		isBacktest: isBacktest,
		phase:      phaseIdle,
		logger:     logger.S(),
	}
	if !isBacktest && !cfg.DisablePriceFeed && cfg.WSBaseURL != "" {
		b.feed = newPriceFeed(cfg)
	}

	instanceActive = true
	return b, nil
}

// releaseInstance 释放进程级的实例占位，之后允许再次创建机器人。
func releaseInstance() {
	instanceMu.Lock()
	instanceActive = false
	instanceMu.Unlock()
}

// StartCycle 校验前置条件、铺设网格并确保监控循环在运行。
// 返回本次铺设的市价和订单列表；任何前置条件失败时不提交任何订单。
func (b *SpotGridBot) StartCycle(strategy models.StrategyConfig) (*models.CycleStartResult, error) {
	if err := config.ValidateStrategy(&strategy); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	// 余额检查是一次性读取，与下单之间没有资金预留，这是设计上接受的竞态
	balance, err := b.exchange.GetAssetBalance("USDT")
	if err != nil {
		return nil, fmt.Errorf("获取USDT余额失败: %v", err)
	}
	if balance < strategy.USDTAmount {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("USDT余额不足: 需要 %.2f, 可用 %.2f", strategy.USDTAmount, balance),
		}
	}

	b.mutex.Lock()
	cfgCopy := strategy
	b.strategy = &cfgCopy
	b.mutex.Unlock()

	result, err := b.placeGrid()
	if err != nil {
		return nil, err
	}

	b.ensureMonitorLoop()
	return result, nil
}

// ensureMonitorLoop 确保监控循环正在运行；重复调用是无操作(幂等)。
func (b *SpotGridBot) ensureMonitorLoop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.isRunning {
		return
	}
	b.isRunning = true
	b.stopChannel = make(chan struct{})
	if b.feed != nil {
		b.feed.Start()
	}
	if !b.isBacktest {
		go b.monitorLoop()
	}
}

// monitorLoop 是机器人的主循环，按固定间隔推进状态机。
func (b *SpotGridBot) monitorLoop() {
	interval := time.Duration(b.cfg.MonitorIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChannel:
			return
		case <-ticker.C:
			b.ProcessTick()
		}
	}
}

// ProcessTick 执行一次状态机推进。实盘由监控循环驱动，回测由K线重放逐tick调用。
func (b *SpotGridBot) ProcessTick() {
	b.mutex.RLock()
	phase := b.phase
	b.mutex.RUnlock()

	switch phase {
	case phasePlacing:
		// 上一个周期已完成，用存储的策略参数自动开启下一轮
		if _, err := b.placeGrid(); err != nil {
			// 失败保持在铺设阶段，下一个tick重试
			b.logger.Errorf("自动重启周期失败，下个tick重试: %v", err)
		}
	case phaseAwaitingFirstFill:
		if !b.checkFirstFill() {
			b.checkReposition()
		}
	case phaseCycleActive:
		b.checkCycleProgress()
	}
}

// placeGrid 获取市价、计算网格并顺序提交所有买单，然后进入等待首笔成交阶段。
// 任何一档的名义价值低于交易所下限时整体中止，不会部分提交。
func (b *SpotGridBot) placeGrid() (*models.CycleStartResult, error) {
	// 上一次铺设中途失败时状态里会残留已提交的挂单，
	// 重新铺设前必须先撤掉，否则它们会脱离跟踪、永远锁住资金
	b.cancelAllOrders()

	b.mutex.RLock()
	strategy := *b.strategy
	b.mutex.RUnlock()

	marketPrice, err := b.exchange.GetPrice(b.symbol)
	if err != nil {
		return nil, fmt.Errorf("获取当前价格失败: %v", err)
	}

	planned, err := grid.Plan(
		marketPrice,
		strategy.FirstOrderOffsetPercent,
		strategy.GridLengthPercent,
		strategy.NumGridOrders,
		strategy.USDTAmount,
		strategy.IncreasePercent,
		b.asset,
	)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	// 先整体校验名义价值，再提交任何订单
	for _, order := range planned {
		notional := order.AssetQuantity * order.Price
		if notional < b.cfg.MinNotionalValue {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("第%d档订单名义价值 %.7f USDT 低于交易所下限 %.2f USDT",
					order.OrderNumber, notional, b.cfg.MinNotionalValue),
			}
		}
	}

	placed := make([]models.PlacedOrder, 0, len(planned))
	for _, order := range planned {
		res, err := b.exchange.PlaceOrder(b.symbol, "BUY", "LIMIT", order.AssetQuantity, order.Price, "GTC", newClientOrderID("grid"))
		if err != nil {
			// 网关错误直接中止本次铺设；已提交的订单记录进状态，
			// 由 Stop 或下一次铺设开头的撤单清掉
			b.setGridState(marketPrice, placed)
			return nil, fmt.Errorf("提交第%d档买单失败: %w", order.OrderNumber, err)
		}
		placed = append(placed, models.PlacedOrder{
			PlannedOrder: order,
			OrderID:      res.OrderId,
			Status:       models.NormalizeStatus(res.Status),
		})
		b.logger.Infof("已挂第%d档买单: ID %d, 价格 %.2f, 数量 %.8f", order.OrderNumber, res.OrderId, order.Price, order.AssetQuantity)
	}

	b.setGridState(marketPrice, placed)
	b.mutex.Lock()
	b.phase = phaseAwaitingFirstFill
	b.mutex.Unlock()

	b.logger.Infof("网格已铺设完成: 市价 %.2f, 共%d档", marketPrice, len(placed))
	return &models.CycleStartResult{MarketPrice: marketPrice, PlacedOrders: placed}, nil
}

// setGridState 原子地写入新一轮网格的初始状态。
func (b *SpotGridBot) setGridState(marketPrice float64, placed []models.PlacedOrder) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.initialMarketPrice = marketPrice
	b.currentGridOrders = placed
	b.fixingOrder = nil
	b.cycleStarted = false
}

// checkFirstFill 轮询网格订单，发现第一笔成交后创建回收单并进入周期进行阶段。
// 返回是否已发现成交。单个订单的查询失败只记录日志，不影响其他订单。
func (b *SpotGridBot) checkFirstFill() bool {
	orders := b.gridOrdersSnapshot()

	for i, order := range orders {
		status, err := b.exchange.GetOrderStatus(b.symbol, order.OrderID)
		if err != nil {
			b.logger.Errorf("查询订单 %d 状态失败: %v", order.OrderID, err)
			continue
		}
		if models.NormalizeStatus(status.Status) != models.StatusFilled {
			continue
		}

		b.mutex.Lock()
		if i < len(b.currentGridOrders) && b.currentGridOrders[i].OrderID == order.OrderID {
			b.currentGridOrders[i].Status = models.StatusFilled
		}
		b.cycleStarted = true
		b.phase = phaseCycleActive
		b.mutex.Unlock()
		b.logger.Infof("周期开始: 订单 %d 已成交", order.OrderID)

		b.createFixingOrder()
		return true
	}
	return false
}

// createFixingOrder 根据当前已成交的买单创建回收单。
// 成交记录尚未可见或净数量非正时不创建，等待下一个tick积累更多成交后重试。
func (b *SpotGridBot) createFixingOrder() {
	b.mutex.RLock()
	strategy := *b.strategy
	orders := make([]models.PlacedOrder, len(b.currentGridOrders))
	copy(orders, b.currentGridOrders)
	b.mutex.RUnlock()

	fo, err := b.fixing.Create(orders, strategy.ProfitPercent)
	if err != nil {
		b.logger.Errorf("创建回收单失败: %v", err)
		return
	}
	if fo == nil {
		return
	}

	b.mutex.Lock()
	b.fixingOrder = fo
	b.mutex.Unlock()
}

// checkReposition 在尚无成交时检查市价是否已上穿重挂阈值，
// 若是则撤掉整张网格并以最新市价重新铺设(策略参数不变)。
func (b *SpotGridBot) checkReposition() {
	currentPrice, err := b.currentMarketPrice()
	if err != nil {
		b.logger.Errorf("重挂检查期间获取价格失败: %v", err)
		return
	}

	b.mutex.RLock()
	triggerPrice := b.initialMarketPrice * (1 + b.cfg.RepositionThresholdPercent/100)
	b.mutex.RUnlock()

	if currentPrice < triggerPrice {
		return
	}

	b.logger.Infof("网格重挂: 当前价 %.2f >= 触发价 %.2f", currentPrice, triggerPrice)
	// placeGrid 开头会撤掉当前网格，这里无需重复撤单
	if _, err := b.placeGrid(); err != nil {
		b.logger.Errorf("重挂网格失败: %v", err)
	}
}

// currentMarketPrice 优先使用WebSocket行情的新鲜价格，否则回退到REST查询。
func (b *SpotGridBot) currentMarketPrice() (float64, error) {
	if b.feed != nil {
		maxAge := 2 * time.Duration(b.cfg.MonitorIntervalSec) * time.Second
		if price, ok := b.feed.Price(maxAge); ok {
			return price, nil
		}
	}
	return b.exchange.GetPrice(b.symbol)
}

// checkCycleProgress 是周期进行阶段的一次轮询：
// 先检查回收单是否成交(周期完成)，再扫描新增的买单成交并相应地重建回收单。
func (b *SpotGridBot) checkCycleProgress() {
	b.mutex.RLock()
	fo := b.fixingOrder
	b.mutex.RUnlock()

	// 回收单可能因成交记录滞后或净数量退化而尚未创建，这里重试
	if fo == nil {
		b.createFixingOrder()
		b.mutex.RLock()
		fo = b.fixingOrder
		b.mutex.RUnlock()
	}

	if fo != nil {
		status, err := b.exchange.GetOrderStatus(b.symbol, fo.OrderID)
		if err != nil {
			b.logger.Errorf("查询回收单 %d 状态失败: %v", fo.OrderID, err)
		} else if models.NormalizeStatus(status.Status) == models.StatusFilled {
			b.completeCycle(fo)
			return
		}
	}

	b.checkAdditionalFills()
}

// completeCycle 结算已成交的回收单：累计利润与残余资产，撤掉剩余买单，
// 然后转移回铺设阶段，下一个tick自动开启新周期。
func (b *SpotGridBot) completeCycle(fo *models.FixingOrder) {
	income, err := b.fixing.Income(fo)
	if err != nil {
		b.logger.Errorf("获取回收单实收金额失败，下个tick重试: %v", err)
		return
	}
	profit := income - fo.TotalSoldCost

	b.mutex.Lock()
	b.totalProfitUSDT += profit
	b.totalUnsoldAsset += fo.UnsoldAsset
	b.completedCycles++
	cycleNumber := b.completedCycles
	b.mutex.Unlock()

	b.logger.Infof("回收单 %d 已成交，周期完成。利润: %.4f USDT", fo.OrderID, profit)

	if b.journal != nil {
		rec := journal.CycleRecord{
			CycleNumber:   cycleNumber,
			Symbol:        b.symbol,
			ProfitUSDT:    profit,
			UnsoldAsset:   fo.UnsoldAsset,
			FixingOrderID: fo.OrderID,
			SellPrice:     fo.Price,
			NetQuantity:   fo.NetQuantity,
			CompletedAt:   time.Now(),
		}
		if err := b.journal.Append(rec); err != nil {
			b.logger.Errorf("写入周期流水失败: %v", err)
		}
	}

	b.cancelAllOrders()

	b.mutex.Lock()
	b.cycleStarted = false
	b.fixingOrder = nil
	b.currentGridOrders = nil
	b.phase = phasePlacing
	b.mutex.Unlock()
	b.logger.Info("周期完成，将用存储的策略参数自动开始新周期。")
}

// checkAdditionalFills 扫描尚未标记成交的买单，发现新增成交时重建回收单以覆盖新的总量。
func (b *SpotGridBot) checkAdditionalFills() {
	orders := b.gridOrdersSnapshot()

	additionalFill := false
	for i, order := range orders {
		if order.Status == models.StatusFilled {
			continue
		}
		status, err := b.exchange.GetOrderStatus(b.symbol, order.OrderID)
		if err != nil {
			b.logger.Errorf("查询订单 %d 状态失败: %v", order.OrderID, err)
			continue
		}
		if models.NormalizeStatus(status.Status) == models.StatusFilled {
			b.mutex.Lock()
			if i < len(b.currentGridOrders) && b.currentGridOrders[i].OrderID == order.OrderID {
				b.currentGridOrders[i].Status = models.StatusFilled
			}
			b.mutex.Unlock()
			additionalFill = true
		}
	}

	if !additionalFill {
		return
	}
	b.logger.Info("发现新增买单成交，重建回收单。")

	b.mutex.RLock()
	strategy := *b.strategy
	fo := b.fixingOrder
	snapshot := make([]models.PlacedOrder, len(b.currentGridOrders))
	copy(snapshot, b.currentGridOrders)
	b.mutex.RUnlock()

	newFO, err := b.fixing.Replace(fo, snapshot, strategy.ProfitPercent)
	if err != nil {
		b.logger.Errorf("重建回收单失败: %v", err)
		return
	}

	b.mutex.Lock()
	b.fixingOrder = newFO
	b.mutex.Unlock()
}

// cancelAllOrders 撤掉当前网格的所有买单和回收单(若存在)。
// 每笔撤单独立尝试，单笔失败只记录日志，不影响其余订单。
func (b *SpotGridBot) cancelAllOrders() {
	b.mutex.Lock()
	orders := b.currentGridOrders
	fo := b.fixingOrder
	b.currentGridOrders = nil
	b.fixingOrder = nil
	b.mutex.Unlock()

	for _, order := range orders {
		if err := b.exchange.CancelOrder(b.symbol, order.OrderID); err != nil {
			b.logger.Errorf("撤销买单 %d 失败: %v", order.OrderID, err)
		} else {
			b.logger.Infof("已撤销买单 %d", order.OrderID)
		}
	}
	if fo != nil {
		if err := b.exchange.CancelOrder(b.symbol, fo.OrderID); err != nil {
			b.logger.Errorf("撤销回收单 %d 失败: %v", fo.OrderID, err)
		} else {
			b.logger.Infof("已撤销回收单 %d", fo.OrderID)
		}
	}
}

// gridOrdersSnapshot 返回当前网格订单的副本，网络请求在无锁状态下进行。
func (b *SpotGridBot) gridOrdersSnapshot() []models.PlacedOrder {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	orders := make([]models.PlacedOrder, len(b.currentGridOrders))
	copy(orders, b.currentGridOrders)
	return orders
}

// Stats 返回机器人状态的只读快照。
func (b *SpotGridBot) Stats() models.BotStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	stats := models.BotStats{
		Symbol:             b.symbol,
		CycleStarted:       b.cycleStarted,
		InitialMarketPrice: b.initialMarketPrice,
		CompletedCycles:    b.completedCycles,
		TotalProfitUSDT:    b.totalProfitUSDT,
		TotalUnsoldAsset:   b.totalUnsoldAsset,
	}
	if b.strategy != nil {
		cfgCopy := *b.strategy
		stats.Config = &cfgCopy
	}
	if b.fixingOrder != nil {
		foCopy := *b.fixingOrder
		stats.FixingOrder = &foCopy
	}
	stats.CurrentGridOrders = make([]models.PlacedOrder, len(b.currentGridOrders))
	copy(stats.CurrentGridOrders, b.currentGridOrders)
	return stats
}

// Stop 停止监控循环，撤掉所有挂单，并释放进程级的实例占位。
func (b *SpotGridBot) Stop() {
	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		releaseInstance()
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	b.mutex.Unlock()

	if b.feed != nil {
		b.feed.Stop()
	}

	b.logger.Info("正在撤销所有活动订单...")
	b.cancelAllOrders()
	releaseInstance()
	b.logger.Info("网格周期机器人已停止。")
}

// newClientOrderID 生成带前缀的自定义订单ID，便于在交易所界面中识别机器人的订单。
func newClientOrderID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, base62.FormatInt(time.Now().UnixNano()))
}
