package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riptide/broker"
	"riptide/market"
	"riptide/pkg/logger"
	"riptide/pkg/retry"
	"riptide/risk"
	"riptide/signal"

	"go.uber.org/zap"
)

// SignalProvider 信号生成协作方（intelligence 服务客户端实现）
// 返回 nil, nil 表示本根K线没有信号
type SignalProvider interface {
	Analyze(ctx context.Context, symbol, timeframe string, ind *market.IndicatorSet) (*signal.Signal, error)
}

// OutcomeTracker 信号结果跟踪器（analysis 包实现）
type OutcomeTracker interface {
	Evaluate()
}

// AnalysisKey 去重键: 同一根已收盘K线只分析一次
type AnalysisKey struct {
	Symbol    string
	Timeframe string
	CandleTS  time.Time
}

func (k AnalysisKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Symbol, k.Timeframe, k.CandleTS.Unix())
}

// CycleStore 周期编排的持久化依赖
type CycleStore interface {
	// AnalyzedCandles 启动时回填去重缓存，避免重启后重复分析
	AnalyzedCandles(since time.Time) ([]AnalysisKey, error)
	RecordAnalysisCycle(symbol, timeframe string, candleTS time.Time, signalID string, validated bool, reason string) error
	RecordPortfolioSnapshot(brokerID string, equity, available, dailyPnL float64, openPositions int) error
}

// AutoTraderConfig 自动交易编排配置
type AutoTraderConfig struct {
	Symbols          []string
	EntryTimeframe   string // 入场周期 (默认 1h)
	ConfirmTimeframe string // 高周期确认 (默认 4h)
	MTFEnabled       bool   // 多周期确认开关

	AnalysisInterval time.Duration // 默认 5m
	MonitorInterval  time.Duration // 默认 2m
	OutcomeInterval  time.Duration // 默认 5m

	CandleLimit     int           // 每次分析拉取的K线数量
	DedupRetention  time.Duration // 去重缓存保留时长
	AnalyzeAttempts int           // 智能层调用重试次数
	AnalyzeBackoff  time.Duration
}

// DefaultAutoTraderConfig 默认编排配置
func DefaultAutoTraderConfig() AutoTraderConfig {
	return AutoTraderConfig{
		EntryTimeframe:   "1h",
		ConfirmTimeframe: "4h",
		AnalysisInterval: 5 * time.Minute,
		MonitorInterval:  2 * time.Minute,
		OutcomeInterval:  5 * time.Minute,
		CandleLimit:      200,
		DedupRetention:   48 * time.Hour,
		AnalyzeAttempts:  3,
		AnalyzeBackoff:   2 * time.Second,
	}
}

// AutoTrader 周期编排器: 分析 / 持仓监控 / 结果跟踪 三条循环
type AutoTrader struct {
	cfg       AutoTraderConfig
	router    *broker.Router
	engine    *Engine
	monitor   *Monitor
	riskMgr   *risk.Manager
	provider  SignalProvider
	validator signal.ValidatorConfig
	setups    *signal.SetupStore
	tracker   OutcomeTracker
	store     Store
	cycles    CycleStore
	log       *zap.Logger

	mu        sync.Mutex
	analyzed  map[string]time.Time // 去重缓存: key → K线收盘时间
	lastCycle time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAutoTrader 创建周期编排器
func NewAutoTrader(
	cfg AutoTraderConfig,
	router *broker.Router,
	engine *Engine,
	monitor *Monitor,
	riskMgr *risk.Manager,
	provider SignalProvider,
	validatorCfg signal.ValidatorConfig,
	setups *signal.SetupStore,
	tracker OutcomeTracker,
	store Store,
	cycles CycleStore,
) *AutoTrader {
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = 5 * time.Minute
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 2 * time.Minute
	}
	if cfg.OutcomeInterval <= 0 {
		cfg.OutcomeInterval = 5 * time.Minute
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 200
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = 48 * time.Hour
	}
	if cfg.EntryTimeframe == "" {
		cfg.EntryTimeframe = "1h"
	}
	if cfg.ConfirmTimeframe == "" {
		cfg.ConfirmTimeframe = "4h"
	}
	if cfg.AnalyzeAttempts <= 0 {
		cfg.AnalyzeAttempts = 3
	}
	return &AutoTrader{
		cfg:       cfg,
		router:    router,
		engine:    engine,
		monitor:   monitor,
		riskMgr:   riskMgr,
		provider:  provider,
		validator: validatorCfg,
		setups:    setups,
		tracker:   tracker,
		store:     store,
		cycles:    cycles,
		log:       logger.NewModuleLogger("trader.auto"),
		analyzed:  make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动三条循环并回填去重缓存
func (at *AutoTrader) Start() {
	at.seedDedupCache()

	at.log.Info("🚀 自动交易启动",
		zap.Strings("symbols", at.cfg.Symbols),
		zap.String("entry_tf", at.cfg.EntryTimeframe),
		zap.Bool("mtf", at.cfg.MTFEnabled),
		zap.Duration("analysis_interval", at.cfg.AnalysisInterval))

	at.wg.Add(3)
	go at.loop("analysis", at.cfg.AnalysisInterval, at.runAnalysisCycle)
	go at.loop("monitor", at.cfg.MonitorInterval, at.runMonitorCycle)
	go at.loop("outcome", at.cfg.OutcomeInterval, at.runOutcomeCycle)
}

// Stop 通知所有循环退出并等待收尾
func (at *AutoTrader) Stop() {
	close(at.stopCh)
	at.wg.Wait()
	at.log.Info("🛑 自动交易已停止")
}

// LastCycleTime 最近一次分析周期的完成时间（status API 使用）
func (at *AutoTrader) LastCycleTime() time.Time {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.lastCycle
}

func (at *AutoTrader) loop(name string, interval time.Duration, fn func()) {
	defer at.wg.Done()
	// 启动时先跑一轮
	fn()
	for {
		if !at.waitForNextCycle(interval) {
			at.log.Info("循环退出", zap.String("loop", name))
			return
		}
		fn()
	}
}

// waitForNextCycle 等待下一个周期，收到停止信号返回 false
func (at *AutoTrader) waitForNextCycle(interval time.Duration) bool {
	select {
	case <-at.stopCh:
		return false
	case <-time.After(interval):
		return true
	}
}

// seedDedupCache 从库中回填最近已分析的K线，重启不重复分析
func (at *AutoTrader) seedDedupCache() {
	keys, err := at.cycles.AnalyzedCandles(time.Now().UTC().Add(-at.cfg.DedupRetention))
	if err != nil {
		at.log.Warn("去重缓存回填失败，从空缓存启动", zap.Error(err))
		return
	}
	at.mu.Lock()
	for _, k := range keys {
		at.analyzed[k.String()] = k.CandleTS
	}
	at.mu.Unlock()
	at.log.Info("去重缓存已回填", zap.Int("entries", len(keys)))
}

// runAnalysisCycle 一轮完整分析: 组合快照 → 熔断检查 → 按交易对分析
func (at *AutoTrader) runAnalysisCycle() {
	start := time.Now()
	at.pruneDedupCache()

	// 每个交易所独立构建组合状态，互不影响
	portfolios := make(map[string]*risk.PortfolioState)
	for _, brokerID := range at.router.BrokerIDs() {
		p := at.buildPortfolio(brokerID)
		if p == nil {
			continue
		}
		portfolios[brokerID] = p

		if err := at.cycles.RecordPortfolioSnapshot(
			brokerID, p.TotalEquity, p.AvailableBalance, p.DailyPnL, p.ActiveCount()); err != nil {
			at.log.Warn("组合快照写入失败", zap.String("broker", brokerID), zap.Error(err))
		}
		// 熔断检查在任何开仓判断之前
		at.riskMgr.CheckCircuitBreakers(p)
	}

	timeframes := []string{at.cfg.EntryTimeframe}
	if at.cfg.MTFEnabled {
		timeframes = append(timeframes, at.cfg.ConfirmTimeframe)
	}

	for _, symbol := range at.cfg.Symbols {
		for _, tf := range timeframes {
			if err := at.analyzeSymbol(symbol, tf, portfolios); err != nil {
				// 单个交易对失败不影响本轮其余交易对
				at.log.Error("分析失败，跳过",
					zap.String("symbol", symbol), zap.String("timeframe", tf), zap.Error(err))
			}
		}
	}

	expired := at.setups.ExpireStale()
	if expired > 0 {
		at.log.Debug("过期 setup 已清理", zap.Int("count", expired))
	}

	at.mu.Lock()
	at.lastCycle = time.Now().UTC()
	at.mu.Unlock()
	at.log.Info("📊 分析周期完成", zap.Duration("elapsed", time.Since(start)))
}

func (at *AutoTrader) buildPortfolio(brokerID string) *risk.PortfolioState {
	b, err := at.router.GetBrokerByID(brokerID)
	if err != nil {
		return nil
	}
	if !at.router.IsHealthy(brokerID) {
		at.log.Debug("交易所不可用，跳过组合构建", zap.String("broker", brokerID))
		return nil
	}
	bal, err := b.FetchBalance()
	if err != nil {
		at.log.Warn("获取余额失败", zap.String("broker", brokerID), zap.Error(err))
		at.router.MarkUnhealthy(brokerID, "获取余额失败")
		return nil
	}
	p, err := at.riskMgr.BuildPortfolio(brokerID, bal)
	if err != nil {
		at.log.Error("组合状态构建失败", zap.String("broker", brokerID), zap.Error(err))
		return nil
	}
	return p
}

func (at *AutoTrader) analyzeSymbol(symbol, timeframe string, portfolios map[string]*risk.PortfolioState) error {
	b, err := at.router.GetBroker(symbol)
	if err != nil {
		return err
	}
	if !at.router.IsHealthy(b.ID()) {
		return nil
	}

	candles, err := b.FetchOHLCV(symbol, timeframe, at.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("拉取K线失败: %w", err)
	}
	if len(candles) < 2 {
		return nil
	}
	// 最后一根是未收盘K线，用倒数第二根做去重锚点
	closed := candles[len(candles)-2]
	key := AnalysisKey{Symbol: symbol, Timeframe: timeframe, CandleTS: closed.Timestamp}

	if at.alreadyAnalyzed(key) {
		return nil
	}

	ind := market.ComputeDefaultIndicators(candles[:len(candles)-1], symbol, timeframe)

	// 智能层是外部协作方，有限重试
	var sig *signal.Signal
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	err = retry.Do(ctx, at.cfg.AnalyzeAttempts, at.cfg.AnalyzeBackoff, func() error {
		var aerr error
		sig, aerr = at.provider.Analyze(ctx, symbol, timeframe, ind)
		return aerr
	})
	if err != nil {
		return fmt.Errorf("智能层调用失败: %w", err)
	}

	at.markAnalyzed(key)

	if sig == nil || !sig.DivergenceDetected {
		if rerr := at.cycles.RecordAnalysisCycle(symbol, timeframe, closed.Timestamp, "", false, "无信号"); rerr != nil {
			at.log.Warn("分析记录写入失败", zap.Error(rerr))
		}
		return nil
	}
	sig.Symbol = symbol
	sig.Timeframe = timeframe
	sig.BrokerID = b.ID()

	result := signal.Validate(sig, ind, at.validator)
	sig.Validated = result.Passed
	sig.ValidationReason = result.Reason
	if err := at.store.CreateSignal(sig); err != nil {
		at.log.Warn("信号落库失败", zap.Error(err))
	}
	if rerr := at.cycles.RecordAnalysisCycle(symbol, timeframe, closed.Timestamp, sig.ID, result.Passed, result.Reason); rerr != nil {
		at.log.Warn("分析记录写入失败", zap.Error(rerr))
	}

	if !result.Passed {
		at.log.Info("🚫 信号未通过验证",
			zap.String("symbol", symbol),
			zap.Int("failed_rule", result.FailedRule),
			zap.String("reason", result.Reason))
		return nil
	}

	at.log.Info("✅ 信号通过验证",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("confidence", sig.Confidence))

	// 多周期确认: 高周期信号只登记 setup，入场周期信号必须消费一个 setup
	if at.cfg.MTFEnabled {
		if timeframe == at.cfg.ConfirmTimeframe {
			at.setups.Add(sig)
			at.log.Info("📌 高周期 setup 已登记", zap.String("symbol", symbol))
			return nil
		}
		if at.setups.Match(sig) == nil {
			at.log.Info("⏸ 无高周期确认，放弃入场", zap.String("symbol", symbol))
			return nil
		}
	}

	portfolio, ok := portfolios[sig.BrokerID]
	if !ok {
		at.log.Warn("组合状态缺失，放弃入场", zap.String("broker", sig.BrokerID))
		return nil
	}
	if _, err := at.engine.ExecuteSignal(sig, portfolio); err != nil {
		return fmt.Errorf("执行信号失败: %w", err)
	}
	return nil
}

// runMonitorCycle 持仓监控周期: 超时撤单 → 持仓评估 → 健康检查
func (at *AutoTrader) runMonitorCycle() {
	for _, brokerID := range at.router.BrokerIDs() {
		at.engine.CancelStale(brokerID)
	}
	at.monitor.Tick()
	at.router.CheckHealth()
}

func (at *AutoTrader) runOutcomeCycle() {
	if at.tracker != nil {
		at.tracker.Evaluate()
	}
}

func (at *AutoTrader) alreadyAnalyzed(key AnalysisKey) bool {
	at.mu.Lock()
	defer at.mu.Unlock()
	_, ok := at.analyzed[key.String()]
	return ok
}

func (at *AutoTrader) markAnalyzed(key AnalysisKey) {
	at.mu.Lock()
	at.analyzed[key.String()] = key.CandleTS
	at.mu.Unlock()
}

// pruneDedupCache 清理超过保留期的去重键
func (at *AutoTrader) pruneDedupCache() {
	cutoff := time.Now().UTC().Add(-at.cfg.DedupRetention)
	at.mu.Lock()
	for k, ts := range at.analyzed {
		if ts.Before(cutoff) {
			delete(at.analyzed, k)
		}
	}
	at.mu.Unlock()
}
