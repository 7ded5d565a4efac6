package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"binance-spot-grid-bot/internal/models"
)

// LiveExchange 实现了 Exchange 接口，用于与真实的币安现货交易所进行交互。
type LiveExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
	timeOffset int64
}

// NewLiveExchange 创建一个新的 LiveExchange 实例，并与服务器同步时间。
func NewLiveExchange(apiKey, secretKey, baseURL string, logger *zap.SugaredLogger) (*LiveExchange, error) {
	e := &LiveExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("与币安服务器同步时间失败: %v", err)
	}
	return e, nil
}

// syncTime 与币安服务器同步时间，计算时间偏移。
func (e *LiveExchange) syncTime() error {
	serverTime, err := e.GetServerTime()
	if err != nil {
		return err
	}
	e.timeOffset = serverTime - time.Now().UnixMilli()
	e.logger.Infow("与币安服务器时间同步完成", "timeOffsetMs", e.timeOffset)
	return nil
}

// doRequest 是一个通用的请求处理函数，用于向币安现货API发送请求。
func (e *LiveExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		// 签名请求需附带时间戳并对整个查询串做HMAC-SHA256签名
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
		payloadToSign := queryParams.Encode()
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, e.sign(payloadToSign))
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else { // POST, PUT
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	// 币安的业务错误以 {code, msg} 形式返回，原样带给上层调用者
	var binanceError models.Error
	if json.Unmarshal(body, &binanceError) == nil && binanceError.Code != 0 {
		return body, &binanceError
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sign 对请求参数进行签名。
func (e *LiveExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- Exchange 接口实现 ---

// GetPrice 获取指定交易对的当前现货价格。
func (e *LiveExchange) GetPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

// GetAssetBalance 获取指定资产的可用余额。
func (e *LiveExchange) GetAssetBalance(asset string) (float64, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return 0, fmt.Errorf("获取账户信息失败: %v", err)
	}

	var accInfo models.AccountInfo
	if err := json.Unmarshal(data, &accInfo); err != nil {
		return 0, fmt.Errorf("解析账户信息失败: %v", err)
	}
	for _, b := range accInfo.Balances {
		if b.Asset == asset {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, nil
}

// PlaceOrder 下单。
func (e *LiveExchange) PlaceOrder(symbol, side, orderType string, quantity, price float64, timeInForce, clientOrderID string) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(side))
	params.Set("type", strings.ToUpper(orderType))
	params.Set("quantity", fmt.Sprintf("%.8f", quantity))
	if strings.ToUpper(orderType) == "LIMIT" {
		params.Set("price", fmt.Sprintf("%.2f", price))
		params.Set("timeInForce", timeInForce)
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	data, err := e.doRequest(http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		e.logger.Errorw("下单请求失败，交易所返回错误", "error", err, "rawResponse", string(data))
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder 取消订单。
func (e *LiveExchange) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := e.doRequest(http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// GetOrderStatus 获取订单状态。
func (e *LiveExchange) GetOrderStatus(symbol string, orderID int64) (*models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	data, err := e.doRequest(http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetTradeHistory 获取该交易对的账户成交记录。
func (e *LiveExchange) GetTradeHistory(symbol string) ([]models.Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var trades []models.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetServerTime 获取服务器时间。
func (e *LiveExchange) GetServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.ServerTime, nil
}
