package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"binance-spot-grid-bot/internal/bot"
	"binance-spot-grid-bot/internal/config"
	"binance-spot-grid-bot/internal/downloader"
	"binance-spot-grid-bot/internal/exchange"
	"binance-spot-grid-bot/internal/journal"
	"binance-spot-grid-bot/internal/logger"
	"binance-spot-grid-bot/internal/models"
	"binance-spot-grid-bot/internal/reporter"
)

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BTCUSDT-2025-03-15-2025-06-15.csv" -> "BTCUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]

	symbolParts := strings.Split(fileName, "-")
	if len(symbolParts) > 0 {
		return symbolParts[0]
	}
	return ""
}

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to backtest (e.g., BTCUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 提前用默认配置初始化日志，保证加载.env和配置文件时就能输出
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.Log)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := handleBacktestMode(*symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'backtest'。", *mode)
	}
}

// handleBacktestMode 处理回测模式的启动逻辑，包括数据下载。
// 成功后返回数据文件路径，失败则返回错误。
func handleBacktestMode(symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""

	if shouldDownload {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
		}

		dl := downloader.NewKlineDownloader()
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", symbol, startDate, endDate)
		if err := dl.DownloadKlines(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("下载数据失败: %v", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("回测模式需要通过 --data 或 --symbol/start/end 参数指定数据源")
	}
	return dataPath, nil
}

// runLiveMode 运行实盘交易机器人
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实盘交易模式 ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}

	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		logger.S().Info("正在使用币安测试网...")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
		logger.S().Info("正在使用币安生产网...")
	}

	liveExchange, err := exchange.NewLiveExchange(apiKey, secretKey, cfg.BaseURL, logger.S())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v", err)
	}

	var jnl journal.Journal
	if cfg.JournalDBPath != "" {
		jnl, err = journal.NewBadgerJournal(cfg.JournalDBPath)
		if err != nil {
			logger.S().Fatalf("打开周期流水数据库失败: %v", err)
		}
		defer jnl.Close()
	}

	gridBot, err := bot.NewSpotGridBot(cfg, liveExchange, jnl, false)
	if err != nil {
		logger.S().Fatalf("创建机器人失败: %v", err)
	}

	result, err := gridBot.StartCycle(cfg.Strategy)
	if err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}
	logger.S().Infof("网格已铺设: 市价 %.2f, 共%d档买单。", result.MarketPrice, len(result.PlacedOrders))

	// 定期打印状态快照
	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()
	statusDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-statusDone:
				return
			case <-statusTicker.C:
				fmt.Println(reporter.RenderStats(gridBot.Stats()))
			}
		}
	}()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(statusDone)
	gridBot.Stop()
	logger.S().Info("机器人已成功停止。")
}

// runBacktestMode 运行回测模式
func runBacktestMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- 启动回测模式 ---")

	// 从数据路径中提取 symbol，并用它来覆盖 config 中的值
	backtestSymbol := extractSymbolFromPath(dataPath)
	if backtestSymbol == "" {
		logger.S().Fatalf("无法从数据文件路径 %s 中提取交易对", dataPath)
	}
	cfg.Symbol = backtestSymbol

	sim := exchange.NewSimExchange(cfg)
	gridBot, err := bot.NewSpotGridBot(cfg, sim, nil, true)
	if err != nil {
		logger.S().Fatalf("创建机器人失败: %v", err)
	}

	file, err := os.Open(dataPath)
	if err != nil {
		logger.S().Fatalf("无法打开历史数据文件: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		logger.S().Fatalf("无法读取所有CSV记录: %v", err)
	}
	if len(records) <= 1 {
		logger.S().Fatal("历史数据文件为空或只有表头。")
	}
	records = records[1:]

	startTimeMs, _ := strconv.ParseInt(records[0][0], 10, 64)
	endTimeMs, _ := strconv.ParseInt(records[len(records)-1][0], 10, 64)
	startTime := time.UnixMilli(startTimeMs)
	endTime := time.UnixMilli(endTimeMs)

	// 用第一根K线初始化模拟盘价格，然后启动第一个周期
	if err := applyKline(sim, records[0]); err != nil {
		logger.S().Fatalf("无法解析初始K线: %v", err)
	}
	if _, err := gridBot.StartCycle(cfg.Strategy); err != nil {
		logger.S().Fatalf("回测机器人初始化失败: %v", err)
	}

	logger.S().Info("开始回测...")
	for _, record := range records {
		if err := applyKline(sim, record); err != nil {
			logger.S().Warnf("无法解析K线数据，跳过此条记录: %v", record)
			continue
		}
		gridBot.ProcessTick()
	}
	logger.S().Info("回测结束。")

	reporter.GenerateReport(sim, gridBot.Stats(), dataPath, startTime, endTime)
}

// applyKline 将一条CSV记录应用到模拟交易所。
func applyKline(sim *exchange.SimExchange, record []string) error {
	if len(record) < 5 {
		return fmt.Errorf("字段不足")
	}
	timestampMs, errT := strconv.ParseInt(record[0], 10, 64)
	open, errO := strconv.ParseFloat(record[1], 64)
	high, errH := strconv.ParseFloat(record[2], 64)
	low, errL := strconv.ParseFloat(record[3], 64)
	close, errC := strconv.ParseFloat(record[4], 64)
	if errT != nil || errO != nil || errH != nil || errL != nil || errC != nil {
		return fmt.Errorf("解析失败")
	}
	sim.SetPrice(open, high, low, close, time.UnixMilli(timestampMs))
	return nil
}
