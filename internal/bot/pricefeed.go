package bot

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"binance-spot-grid-bot/internal/logger"
	"binance-spot-grid-bot/internal/models"
)

// priceFeed 通过币安aggTrade行情流维护最新市价，供重挂检查在两次REST轮询之间使用。
// 连接断开时自动重连；行情不新鲜时调用方回退到REST查询。
type priceFeed struct {
	wsBaseURL    string
	symbol       string
	pingInterval time.Duration
	pongWait     time.Duration
	logger       *zap.SugaredLogger

	mu         sync.RWMutex
	lastPrice  float64
	lastUpdate time.Time

	stopChannel chan struct{}
	stopOnce    sync.Once
}

func newPriceFeed(cfg *models.Config) *priceFeed {
	pingInterval := time.Duration(cfg.WebSocketPingIntervalSec) * time.Second
	pongWait := time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	if pongWait <= pingInterval {
		pongWait = pingInterval + 6*time.Second
	}
	return &priceFeed{
		wsBaseURL:    cfg.WSBaseURL,
		symbol:       cfg.Symbol,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		logger:       logger.S(),
		stopChannel:  make(chan struct{}),
	}
}

// Start 启动行情守护循环。
func (f *priceFeed) Start() {
	go f.loop()
}

// Stop 停止行情循环。
func (f *priceFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopChannel) })
}

// Price 返回最新价格；超过maxAge未更新时视为不新鲜，返回 (0, false)。
func (f *priceFeed) Price(maxAge time.Duration) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastPrice == 0 || time.Since(f.lastUpdate) > maxAge {
		return 0, false
	}
	return f.lastPrice, true
}

// loop 是一个守护循环，负责维持WebSocket的连接和重连。
func (f *priceFeed) loop() {
	for {
		select {
		case <-f.stopChannel:
			f.logger.Info("行情循环已停止。")
			return
		default:
			conn, err := f.connect()
			if err != nil {
				f.logger.Errorf("行情WebSocket连接失败: %v。5秒后重试...", err)
				if f.sleepOrStop(5 * time.Second) {
					return
				}
				continue
			}

			f.logger.Info("行情WebSocket连接成功。")
			if err := f.readMessages(conn); err != nil {
				f.logger.Errorf("行情WebSocket处理时发生错误: %v", err)
			}
			conn.Close()

			select {
			case <-f.stopChannel:
				return
			default:
			}
			f.logger.Info("行情WebSocket连接已断开，准备重连...")
			if f.sleepOrStop(5 * time.Second) {
				return
			}
		}
	}
}

func (f *priceFeed) connect() (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", f.wsBaseURL, strings.ToLower(f.symbol))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// readMessages 为一个已建立的连接处理消息，并通过Ping/Pong维持心跳。
// 阻塞直到连接断开或收到停止信号。
func (f *priceFeed) readMessages(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(f.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.pongWait))
		return nil
	})

	pingTicker := time.NewTicker(f.pingInterval)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Errorf("发送Ping失败: %v", err)
					return
				}
			case <-pingStop:
				return
			case <-f.stopChannel:
				return
			}
		}
	}()

	for {
		select {
		case <-f.stopChannel:
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return fmt.Errorf("发送WebSocket关闭帧失败: %v", err)
			}
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				// 任何读取错误都意味着连接已损坏，交给外层循环重连
				return fmt.Errorf("读取消息失败: %v", err)
			}

			var ticker struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &ticker); err != nil {
				f.logger.Errorf("解析行情消息失败: %v", err)
				continue
			}
			price, err := ticker.Price.Float64()
			if err != nil {
				continue
			}

			f.mu.Lock()
			f.lastPrice = price
			f.lastUpdate = time.Now()
			f.mu.Unlock()
		}
	}
}

// sleepOrStop 等待给定时长；期间收到停止信号时返回true。
func (f *priceFeed) sleepOrStop(d time.Duration) bool {
	select {
	case <-f.stopChannel:
		return true
	case <-time.After(d):
		return false
	}
}
