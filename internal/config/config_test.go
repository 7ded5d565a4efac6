package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-spot-grid-bot/internal/models"
)

func validStrategy() models.StrategyConfig {
	return models.StrategyConfig{
		USDTAmount:              100,
		GridLengthPercent:       10,
		FirstOrderOffsetPercent: 1,
		NumGridOrders:           10,
		IncreasePercent:         10,
		ProfitPercent:           1,
	}
}

func TestValidateStrategyAcceptsValidParams(t *testing.T) {
	s := validStrategy()
	assert.NoError(t, ValidateStrategy(&s))
}

func TestValidateStrategyBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.StrategyConfig)
	}{
		{"budget below exchange minimum", func(s *models.StrategyConfig) { s.USDTAmount = 4.99 }},
		{"zero grid length", func(s *models.StrategyConfig) { s.GridLengthPercent = 0 }},
		{"grid length at 100", func(s *models.StrategyConfig) { s.GridLengthPercent = 100 }},
		{"zero offset", func(s *models.StrategyConfig) { s.FirstOrderOffsetPercent = 0 }},
		{"offset at 100", func(s *models.StrategyConfig) { s.FirstOrderOffsetPercent = 100 }},
		{"zero orders", func(s *models.StrategyConfig) { s.NumGridOrders = 0 }},
		{"too many orders", func(s *models.StrategyConfig) { s.NumGridOrders = 201 }},
		{"negative increase", func(s *models.StrategyConfig) { s.IncreasePercent = -1 }},
		{"zero profit", func(s *models.StrategyConfig) { s.ProfitPercent = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validStrategy()
			tc.mutate(&s)
			assert.Error(t, ValidateStrategy(&s))
		})
	}
}

func TestValidateStrategyBoundaryValues(t *testing.T) {
	// The inclusive edges are legal.
	s := validStrategy()
	s.USDTAmount = 5
	s.NumGridOrders = 1
	s.IncreasePercent = 0
	assert.NoError(t, ValidateStrategy(&s))

	s.NumGridOrders = 200
	assert.NoError(t, ValidateStrategy(&s))
}

func TestValidateRejectsNonUSDTSymbol(t *testing.T) {
	cfg := &models.Config{
		Symbol:                     "BTCBUSD",
		RepositionThresholdPercent: 3,
		Strategy:                   validStrategy(),
	}
	assert.Error(t, Validate(cfg))
}

func TestValidateNormalizesSymbolCase(t *testing.T) {
	cfg := &models.Config{
		Symbol:                     "btcUSDT",
		RepositionThresholdPercent: 3,
		Strategy:                   validStrategy(),
	}
	require.NoError(t, Validate(cfg))
	// Downstream code compares symbols and commission assets in upper case.
	assert.Equal(t, "BTCUSDT", cfg.Symbol)

	cfg.Symbol = "ethusdt"
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
}

func TestValidateRejectsZeroRepositionThreshold(t *testing.T) {
	cfg := &models.Config{
		Symbol:                     "BTCUSDT",
		RepositionThresholdPercent: 0,
		Strategy:                   validStrategy(),
	}
	assert.Error(t, Validate(cfg))
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	content := `{
		"symbol": "BTCUSDT",
		"reposition_threshold_percent": 3,
		"strategy": {
			"usdt_amount": 100,
			"grid_length_percent": 10,
			"first_order_offset_percent": 1,
			"num_grid_orders": 10,
			"increase_percent": 10,
			"profit_percent": 1
		}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MonitorIntervalSec)
	assert.Equal(t, 5.0, cfg.MinNotionalValue)
	assert.Equal(t, 0.001, cfg.MakerFeeRate)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidStrategy(t *testing.T) {
	content := `{
		"symbol": "BTCUSDT",
		"reposition_threshold_percent": 3,
		"strategy": {
			"usdt_amount": 1,
			"grid_length_percent": 10,
			"first_order_offset_percent": 1,
			"num_grid_orders": 10,
			"increase_percent": 10,
			"profit_percent": 1
		}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
