package models

import "fmt"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet     bool   `json:"is_testnet"` // 是否使用测试网
	LiveAPIURL    string `json:"live_api_url"`
	LiveWSURL     string `json:"live_ws_url"`
	TestnetAPIURL string `json:"testnet_api_url"`
	TestnetWSURL  string `json:"testnet_ws_url"`

	Symbol                     string  `json:"symbol"`                       // 交易对，如 "BTCUSDT"
	RepositionThresholdPercent float64 `json:"reposition_threshold_percent"` // 网格上移触发阈值 (%)
	MinNotionalValue           float64 `json:"min_notional_value"`           // 交易所最小订单名义价值 (例如 5 USDT)
	MonitorIntervalSec         int     `json:"monitor_interval_sec"`         // 监控循环轮询间隔(秒)
	JournalDBPath              string  `json:"journal_db_path"`              // 周期流水数据库路径，留空则不落盘
	DisablePriceFeed           bool    `json:"disable_price_feed,omitempty"` // 禁用WebSocket行情，仅用REST轮询

	WebSocketPingIntervalSec int `json:"websocket_ping_interval_sec,omitempty"` // WebSocket Ping消息发送间隔(秒)
	WebSocketPongTimeoutSec  int `json:"websocket_pong_timeout_sec,omitempty"`  // WebSocket Pong消息超时时间(秒)

	Strategy StrategyConfig `json:"strategy"` // 每个周期复用的策略参数
	Log      LogConfig      `json:"log"`      // 日志配置

	// 回测引擎特定配置
	InitialInvestment float64 `json:"initial_investment"` // 回测起始资金 (USDT)
	MakerFeeRate      float64 `json:"maker_fee_rate"`     // 挂单手续费率

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// StrategyConfig 定义了单个交易周期的不可变参数。
// 机器人在每次自动重启周期时原样复用这组参数。
type StrategyConfig struct {
	USDTAmount              float64 `json:"usdt_amount"`                // 本周期投入的USDT总预算
	GridLengthPercent       float64 `json:"grid_length_percent"`        // 网格深度 (%)
	FirstOrderOffsetPercent float64 `json:"first_order_offset_percent"` // 首单相对市价的偏移 (%)
	NumGridOrders           int     `json:"num_grid_orders"`            // 网格档位数量
	IncreasePercent         float64 `json:"increase_percent"`           // 逐档递增比例 (%)
	ProfitPercent           float64 `json:"profit_percent"`             // 止盈目标 (%)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// OrderStatus 是交易所订单生命周期状态的封闭枚举。
// 网关返回的任何未知字符串都会被归一化为 StatusUnknown，而不是被静默忽略。
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusUnknown         OrderStatus = "UNKNOWN"
)

// NormalizeStatus 将网关返回的状态字符串映射到封闭枚举。
func NormalizeStatus(s string) OrderStatus {
	switch OrderStatus(s) {
	case StatusNew, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return OrderStatus(s)
	default:
		return StatusUnknown
	}
}

// PlannedOrder 表示网格中的一个档位，由规划器产出。
// 预算校正阶段可能下调最后一档的 AssetQuantity/USDTAllocation，其余字段不再变动。
type PlannedOrder struct {
	OrderNumber    int     `json:"order_number"`    // 1..N，1为最靠近市价的一档
	Price          float64 `json:"price"`           // 报价货币单位，2位小数
	USDTAllocation float64 `json:"usdt_allocation"` // 该档实际占用的预算 (取整后)
	AssetQuantity  float64 `json:"asset_quantity"`  // 基础资产数量，按档位步长取整
}

// PlacedOrder 是已提交到交易所的网格档位。
type PlacedOrder struct {
	PlannedOrder
	OrderID int64       `json:"order_id"` // 交易所分配的订单ID
	Status  OrderStatus `json:"status"`   // 轮询更新的订单状态
}

// FixingOrder 是聚合卖出(回收)订单：以加权均价加利润率一次性卖出所有已成交的买入量。
type FixingOrder struct {
	OrderID          int64       `json:"order_id"`
	Price            float64     `json:"price"`              // 卖出价格，2位小数
	NetQuantity      float64     `json:"net_quantity"`       // 扣除基础资产手续费并向下取整后的可卖数量
	UnsoldAsset      float64     `json:"unsold_asset"`       // 低于最小步长无法卖出的残余数量
	WeightedAvgPrice float64     `json:"weighted_avg_price"` // 买入加权均价
	TotalSoldCost    float64     `json:"total_sold_cost"`    // 买入总成本，作为利润基准
	Status           OrderStatus `json:"status"`
}

// BotStats 是机器人状态的只读快照，供上层展示。
type BotStats struct {
	Symbol             string          `json:"symbol"`
	Config             *StrategyConfig `json:"config"`
	CycleStarted       bool            `json:"cycle_started"`
	InitialMarketPrice float64         `json:"initial_market_price"`
	CompletedCycles    int             `json:"completed_cycles"`
	TotalProfitUSDT    float64         `json:"total_profit_usdt"`
	TotalUnsoldAsset   float64         `json:"total_unsold_asset"`
	CurrentGridOrders  []PlacedOrder   `json:"current_grid_orders"`
	FixingOrder        *FixingOrder    `json:"fixing_order"`
}

// CycleStartResult 是一次成功的周期启动返回给调用方的结果。
type CycleStartResult struct {
	MarketPrice  float64       `json:"market_price"`
	PlacedOrders []PlacedOrder `json:"placed_orders"`
}

// Order 定义了币安现货订单信息
type Order struct {
	Symbol              string `json:"symbol"`
	OrderId             int64  `json:"orderId"`
	ClientOrderId       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
	TransactTime        int64  `json:"transactTime"`
}

// Trade 定义了账户成交记录 (myTrades)
type Trade struct {
	Symbol          string `json:"symbol"`
	Id              int64  `json:"id"`
	OrderId         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// Balance 定义了账户中单个资产的余额
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo 定义了币安现货账户信息
type AccountInfo struct {
	Balances []Balance `json:"balances"`
}

// Error 是币安API返回的业务错误，携带交易所的拒绝详情。
type Error struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("binance error code=%d, msg=%s", e.Code, e.Msg)
}
