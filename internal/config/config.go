package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ai-trading-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件，补齐默认值并做合法性检查
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的字段填入与原始风控口径一致的默认值
func ApplyDefaults(cfg *models.Config) {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTC-USD", "ETH-USD"}
	}
	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 60
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 10000
	}
	if cfg.CapitalFloorPct <= 0 {
		cfg.CapitalFloorPct = 0.97
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = 0.015
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = 0.05
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.60
	}
	if cfg.KellySafetyFactor <= 0 {
		cfg.KellySafetyFactor = 0.25
	}
	if cfg.PayoffRatio <= 0 {
		cfg.PayoffRatio = 1.5
	}
	if cfg.CostCeilingRatio <= 0 {
		cfg.CostCeilingRatio = 0.01
	}
	if cfg.MinOrderNotional <= 0 {
		cfg.MinOrderNotional = 10
	}
	if cfg.ProfitTargetPct <= 0 {
		cfg.ProfitTargetPct = 0.05
	}
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = 0.03
	}
	if cfg.TrailingStopPct <= 0 {
		cfg.TrailingStopPct = 0.02
	}
	if cfg.TrailingArmedPct <= 0 {
		cfg.TrailingArmedPct = 0.03
	}
	if cfg.MaxHoldHours <= 0 {
		cfg.MaxHoldHours = 24
	}
	if cfg.StaleProfitPct <= 0 {
		cfg.StaleProfitPct = 0.02
	}
	if cfg.SignalTimeoutSec <= 0 {
		cfg.SignalTimeoutSec = 10
	}
	if cfg.AIWeight <= 0 {
		cfg.AIWeight = 0.6
	}
	if cfg.TechnicalWeight <= 0 {
		cfg.TechnicalWeight = 0.4
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = "gpt-4o-mini"
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldownSec <= 0 {
		cfg.BreakerCooldownSec = 120
	}
	if cfg.ExecutionTimeoutSec <= 0 {
		cfg.ExecutionTimeoutSec = 15
	}
	if cfg.RetryInitialDelayMs <= 0 {
		cfg.RetryInitialDelayMs = 500
	}
	if cfg.FillPollIntervalMs <= 0 {
		cfg.FillPollIntervalMs = 250
	}
	if cfg.ExchangeRateLimit <= 0 {
		cfg.ExchangeRateLimit = 5
	}
	if cfg.SimSeed == 0 {
		cfg.SimSeed = 42
	}
	if cfg.SimSlippageRate <= 0 {
		cfg.SimSlippageRate = 0.0015
	}
	if cfg.SimFeeRate <= 0 {
		cfg.SimFeeRate = 0.001
	}
	if cfg.SimMaxNotional <= 0 {
		cfg.SimMaxNotional = 50000
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/bot_db"
	}
	if cfg.APIListenAddr == "" {
		cfg.APIListenAddr = ":8080"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// Validate 检查各比例参数是否位于合理区间
func Validate(cfg *models.Config) error {
	if cfg.CapitalFloorPct >= 1 {
		return fmt.Errorf("capital_floor_pct 必须小于 1, 当前为 %.4f", cfg.CapitalFloorPct)
	}
	if cfg.MaxDailyLossPct >= 1 {
		return fmt.Errorf("max_daily_loss_pct 必须小于 1, 当前为 %.4f", cfg.MaxDailyLossPct)
	}
	if cfg.MaxPositionPct > 1 {
		return fmt.Errorf("max_position_pct 不能超过 1, 当前为 %.4f", cfg.MaxPositionPct)
	}
	if cfg.MinConfidence > 1 {
		return fmt.Errorf("min_confidence 不能超过 1, 当前为 %.4f", cfg.MinConfidence)
	}
	if cfg.KellySafetyFactor > 1 {
		return fmt.Errorf("kelly_safety_factor 不能超过 1, 当前为 %.4f", cfg.KellySafetyFactor)
	}
	if !cfg.SimulationMode {
		if os.Getenv("EXCHANGE_API_KEY") == "" || os.Getenv("EXCHANGE_API_SECRET") == "" {
			return fmt.Errorf("实盘模式需要设置 EXCHANGE_API_KEY 和 EXCHANGE_API_SECRET 环境变量")
		}
	}
	return nil
}
