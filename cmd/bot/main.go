package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ai-trading-bot-go/internal/analysis"
	"ai-trading-bot-go/internal/api"
	"ai-trading-bot-go/internal/bot"
	"ai-trading-bot-go/internal/config"
	"ai-trading-bot-go/internal/exchange"
	"ai-trading-bot-go/internal/ledger"
	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/market"
	"ai-trading-bot-go/internal/models"
	"ai-trading-bot-go/internal/persistence"
	"ai-trading-bot-go/internal/reporter"
	"ai-trading-bot-go/internal/risk"
	tradesignal "ai-trading-bot-go/internal/signal"
	"ai-trading-bot-go/internal/sizing"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 先用默认配置初始化日志，保证加载配置的过程也有日志可看
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
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("无法打开数据库 %s: %v", cfg.DBPath, err)
	}
	defer repo.Close()

	ldg, err := restoreLedger(repo, cfg)
	if err != nil {
		logger.S().Fatalf("无法恢复账本: %v", err)
	}
	ldg.Start()
	defer ldg.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, backend, err := buildTradingStack(ctx, cfg)
	if err != nil {
		logger.S().Fatalf("无法初始化交易组件: %v", err)
	}

	generator := tradesignal.NewGenerator(
		buildAnalyzer(cfg),
		time.Duration(cfg.SignalTimeoutSec)*time.Second,
		cfg.AIWeight,
		cfg.TechnicalWeight,
	)
	gatekeeper := risk.NewGatekeeper(ldg, sizing.NewKellySizer(cfg.KellySafetyFactor, cfg.PayoffRatio))
	adapter := exchange.NewAdapter(backend, cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := bot.NewMetrics(registry)

	controller := bot.NewController(cfg, ldg, provider, generator, gatekeeper, adapter, metrics)

	server := &http.Server{
		Addr:    cfg.APIListenAddr,
		Handler: api.NewServer(controller, registry).Handler(),
	}
	go func() {
		logger.S().Infof("HTTP API 监听于 %s", cfg.APIListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.S().Errorf("HTTP 服务退出: %v", err)
		}
	}()

	if cfg.AutoStart {
		if err := controller.Start(); err != nil {
			logger.S().Fatalf("自动启动失败: %v", err)
		}
	} else {
		logger.S().Info("等待通过 API 启动 (POST /api/bot/start)")
	}

	// 持久化最终配置，便于下次启动对照
	if err := repo.SaveConfig(cfg); err != nil {
		logger.S().Warnf("持久化配置失败: %v", err)
	}

	<-ctx.Done()
	logger.S().Info("收到退出信号，开始优雅停机...")

	controller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.S().Errorf("HTTP 服务停机失败: %v", err)
	}
	if closer, ok := provider.(interface{ Close() }); ok {
		closer.Close()
	}

	printFinalReport(ldg)
	logger.S().Info("停机完成。")
}

// restoreLedger 优先从持久化状态恢复账本；没有历史状态时用初始资金初始化
func restoreLedger(repo persistence.Repository, cfg *models.Config) (*ledger.Ledger, error) {
	state, err := repo.LoadLedger()
	if err != nil {
		return nil, err
	}
	if state != nil {
		logger.S().Infof("从持久化状态恢复账本: 现金 %.2f, 持仓 %d, 历史最高权益 %.2f",
			state.Cash, len(state.Positions), state.MaxEquity)
		return ledger.New(state, repo), nil
	}
	logger.S().Infof("无历史状态，以初始资金 %.2f 新建账本", cfg.InitialCash)
	return ledger.NewFromCash(cfg.InitialCash, repo), nil
}

// buildTradingStack 按配置装配行情源和撮合后端：模拟或实盘，二选一
func buildTradingStack(ctx context.Context, cfg *models.Config) (market.Provider, exchange.Backend, error) {
	if cfg.SimulationMode {
		logger.S().Info("模拟模式：使用随机游走行情与确定性撮合引擎")
		return market.NewSimProvider(cfg.SimSeed, 0, 0.01), exchange.NewSimBackend(cfg), nil
	}

	logger.S().Info("实盘模式：连接交易所行情与下单接口")
	provider, err := market.NewLiveProvider(ctx, cfg.Symbols)
	if err != nil {
		return nil, nil, err
	}
	backend := exchange.NewLiveBackend(
		os.Getenv("EXCHANGE_API_KEY"),
		os.Getenv("EXCHANGE_API_SECRET"),
		cfg.SimFeeRate,
		cfg.ExchangeRateLimit,
	)
	return provider, backend, nil
}

// buildAnalyzer 装配带熔断器的 AI 分析客户端
func buildAnalyzer(cfg *models.Config) analysis.Analyzer {
	return analysis.NewLLMAnalyzer(
		cfg.AnalysisBaseURL,
		os.Getenv("ANALYSIS_API_KEY"),
		cfg.AnalysisModel,
		cfg.BreakerMaxFailures,
		time.Duration(cfg.BreakerCooldownSec)*time.Second,
	)
}

// printFinalReport 进程退出前输出本次运行的表现汇总
func printFinalReport(ldg *ledger.Ledger) {
	trades, err := ldg.Trades(0)
	if err != nil {
		logger.S().Warnf("读取交易记录失败，跳过报告: %v", err)
		return
	}
	metrics := reporter.Calculate(trades, ldg.EquitySeries())
	reporter.Render(os.Stdout, metrics)
}
