package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"riptide/alert"
	"riptide/analysis"
	"riptide/api"
	"riptide/broker"
	"riptide/config"
	"riptide/intelligence"
	"riptide/pkg/logger"
	"riptide/risk"
	signalpkg "riptide/signal"
	"riptide/trader"
)

func main() {
	logger.InitLogger("logs", os.Getenv("DEBUG") == "true")
	log := logger.NewModuleLogger("main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败", zap.Error(err))
	}

	db, err := config.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("数据库初始化失败", zap.Error(err))
	}
	defer db.Close()

	// 符号路由表: 内置表 + 可选的 yaml 覆盖
	registry := broker.NewRegistry()
	if cfg.RoutingFile != "" {
		if err := registry.LoadRoutingFile(cfg.RoutingFile); err != nil {
			log.Fatal("路由表加载失败", zap.String("file", cfg.RoutingFile), zap.Error(err))
		}
	}

	router := broker.NewRouter(registry)
	registerBrokers(cfg, router, log)
	defer router.CloseAll()

	notifier, err := alert.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal("telegram 初始化失败", zap.Error(err))
	}

	brokerIDs := router.BrokerIDs()
	riskMgr := risk.NewManager(cfg.RiskConfig(brokerIDs), db, registry)

	engine := trader.NewEngine(trader.DefaultEngineConfig(), router, riskMgr, db, notifier)
	monitor := trader.NewMonitor(trader.DefaultMonitorConfig(), router, db, engine)
	tracker := analysis.NewTracker(db, router)
	provider := intelligence.NewClient(intelligence.Config{
		BaseURL: cfg.IntelligenceURL,
		APIKey:  cfg.IntelligenceAPIKey,
	})
	setups := signalpkg.NewSetupStore(24 * time.Hour)

	auto := trader.NewAutoTrader(
		cfg.AutoTraderConfig(), router, engine, monitor, riskMgr,
		provider, cfg.ValidatorConfig(), setups, tracker, db, db)

	hub := api.NewHub(func() interface{} {
		return map[string]interface{}{
			"last_cycle":     auto.LastCycleTime(),
			"breaker_active": riskMgr.BreakerActive(),
			"timestamp":      time.Now().UTC(),
		}
	}, 5*time.Second)
	go hub.Run()

	server := api.NewServer(router, riskMgr, auto, db, hub, cfg.APIPort)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("API 服务启动失败", zap.Error(err))
		}
	}()

	auto.Start()
	notifier.Notify("🚀 riptide 已启动")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号，开始收尾")
	notifier.Notify("🛑 riptide 正在停机")
	auto.Stop()
	hub.Stop()
	logger.Info("已退出")
}

// registerBrokers 按配置注册交易所
// paper 模式: 真实行情 + 模拟成交（composite 组合真实数据源和 paper 执行端）
func registerBrokers(cfg *config.Config, router *broker.Router, log *zap.Logger) {
	if cfg.PaperTrading {
		paperCrypto := broker.NewPaperBroker("binance", cfg.StartingEquity)
		if cfg.BinanceAPIKey != "" {
			data := broker.NewBinanceBroker(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.BinanceTestnet)
			router.Register(broker.NewCompositeBroker("binance", data, paperCrypto))
		} else {
			router.Register(paperCrypto)
		}

		paperForex := broker.NewPaperBroker("oanda", cfg.StartingEquity)
		if cfg.OandaAPIToken != "" {
			data := broker.NewOandaBroker(cfg.OandaAPIToken, cfg.OandaAccountID, cfg.OandaPractice)
			router.Register(broker.NewCompositeBroker("oanda", data, paperForex))
		} else {
			router.Register(paperForex)
		}
		log.Info("📝 paper 模式: 模拟成交")
		return
	}

	if cfg.BinanceAPIKey != "" {
		router.Register(broker.NewBinanceBroker(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.BinanceTestnet))
	}
	if cfg.OandaAPIToken != "" {
		router.Register(broker.NewOandaBroker(cfg.OandaAPIToken, cfg.OandaAccountID, cfg.OandaPractice))
	}
	log.Info("💰 实盘模式", zap.Strings("brokers", router.BrokerIDs()))
}
