package exchange

import "binance-spot-grid-bot/internal/models"

// Exchange 定义了周期控制器所依赖的现货交易所能力接口。
// 这层抽象使得机器人可以在真实交易和模拟盘之间轻松切换。
type Exchange interface {
	// GetPrice 获取指定交易对的最新现货价格。
	GetPrice(symbol string) (float64, error)
	// GetAssetBalance 获取指定资产的可用余额。
	GetAssetBalance(asset string) (float64, error)
	// PlaceOrder 下单。LIMIT单需要提供价格和timeInForce (通常为GTC)。
	PlaceOrder(symbol, side, orderType string, quantity, price float64, timeInForce, clientOrderID string) (*models.Order, error)
	// CancelOrder 按订单ID撤单。
	CancelOrder(symbol string, orderID int64) error
	// GetOrderStatus 查询订单状态。
	GetOrderStatus(symbol string, orderID int64) (*models.Order, error)
	// GetTradeHistory 获取该交易对的账户成交记录。
	GetTradeHistory(symbol string) ([]models.Trade, error)
	// GetServerTime 获取交易所服务器时间(毫秒)。
	GetServerTime() (int64, error)
}
