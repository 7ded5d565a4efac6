package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"binance-spot-grid-bot/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &models.Config{}
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.MonitorIntervalSec <= 0 {
		cfg.MonitorIntervalSec = 2
	}
	if cfg.MinNotionalValue <= 0 {
		cfg.MinNotionalValue = 5
	}
	if cfg.MakerFeeRate <= 0 {
		cfg.MakerFeeRate = 0.001
	}
}

// Validate 校验配置参数是否在允许范围内。
// 策略参数的边界沿用交易所和策略本身的约束。
func Validate(cfg *models.Config) error {
	// 统一成大写规范形式，交易对和资产名在下游都按大写比较
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	if !strings.HasSuffix(cfg.Symbol, "USDT") {
		return fmt.Errorf("不支持的交易对 %q: 仅支持以USDT计价的现货交易对", cfg.Symbol)
	}
	if cfg.RepositionThresholdPercent <= 0 {
		return fmt.Errorf("reposition_threshold_percent 必须大于0, 实际为: %v", cfg.RepositionThresholdPercent)
	}
	return ValidateStrategy(&cfg.Strategy)
}

// ValidateStrategy 校验单个周期的策略参数。
func ValidateStrategy(s *models.StrategyConfig) error {
	if s.USDTAmount < 5 {
		return fmt.Errorf("usdt_amount 必须不小于5 USDT, 实际为: %v", s.USDTAmount)
	}
	if s.GridLengthPercent <= 0 || s.GridLengthPercent >= 100 {
		return fmt.Errorf("grid_length_percent 必须在(0, 100)区间内, 实际为: %v", s.GridLengthPercent)
	}
	if s.FirstOrderOffsetPercent <= 0 || s.FirstOrderOffsetPercent >= 100 {
		return fmt.Errorf("first_order_offset_percent 必须在(0, 100)区间内, 实际为: %v", s.FirstOrderOffsetPercent)
	}
	if s.NumGridOrders < 1 || s.NumGridOrders > 200 {
		return fmt.Errorf("num_grid_orders 必须在[1, 200]区间内, 实际为: %d", s.NumGridOrders)
	}
	if s.IncreasePercent < 0 {
		return fmt.Errorf("increase_percent 不能为负数, 实际为: %v", s.IncreasePercent)
	}
	if s.ProfitPercent <= 0 {
		return fmt.Errorf("profit_percent 必须大于0, 实际为: %v", s.ProfitPercent)
	}
	return nil
}
