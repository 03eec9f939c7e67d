package risk

import (
	"fmt"
	"sync"
	"time"

	"riptide/broker"
	"riptide/pkg/logger"
	"riptide/signal"

	"go.uber.org/zap"
)

// BrokerLimits 单个交易所的独立风控限制（绝不跨交易所合并）
type BrokerLimits struct {
	MaxOpenPositions      int     // 最大并发持仓数
	MaxCorrelatedExposure int     // 同资产类别同方向的最大持仓数
	MinConfidence         float64 // 该交易所可接受的最低置信度
}

// Config 风控配置（不可变，构造时传入）
type Config struct {
	RiskPerTradePct float64 // 单笔风险占权益百分比 (默认 2.0)
	MaxNotionalPct  float64 // 名义价值上限占权益百分比 (默认 50.0)
	MaxDailyLossPct float64 // 日亏损熔断阈值 (默认 5.0)
	MaxDrawdownPct  float64 // 回撤熔断阈值 (默认 15.0)

	// 方向敞口: 持仓 >= DirectionalCapMinPositions 时，
	// 单一方向占比不允许超过 DirectionalCapPct
	DirectionalCapPct           float64 // 默认 70.0
	DirectionalCapMinPositions  int     // 默认 3

	// 按交易所隔离的限制，未配置的交易所用 DefaultLimits
	Limits        map[string]BrokerLimits
	DefaultLimits BrokerLimits

	// 各交易所的初始权益（权益=初始+累计已实现盈亏）
	StartingEquity map[string]float64
}

// DefaultConfig 默认风控配置
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:            2.0,
		MaxNotionalPct:             50.0,
		MaxDailyLossPct:            5.0,
		MaxDrawdownPct:             15.0,
		DirectionalCapPct:          70.0,
		DirectionalCapMinPositions: 3,
		DefaultLimits: BrokerLimits{
			MaxOpenPositions:      4,
			MaxCorrelatedExposure: 3,
			MinConfidence:         0.7,
		},
		Limits:         map[string]BrokerLimits{},
		StartingEquity: map[string]float64{},
	}
}

// Manager 风控管理器：仓位计算、敞口限制、熔断
// 硬编码规则，任何信号都不能绕过
type Manager struct {
	cfg      Config
	store    Store
	registry *broker.Registry
	log      *zap.Logger

	mu sync.Mutex
	// 日亏损熔断: 当日有效，新的UTC交易日自动复位
	dailyActive      bool
	dailyReason      string
	dailyTrippedDate string
	dailyEventID     int64
	// 回撤熔断: 持久生效，只能显式复位
	drawdownActive  bool
	drawdownReason  string
	drawdownEventID int64
}

// NewManager 创建风控管理器
func NewManager(cfg Config, store Store, registry *broker.Registry) *Manager {
	if registry == nil {
		registry = broker.DefaultRegistry
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		registry: registry,
		log:      logger.NewModuleLogger("risk"),
	}
}

// limitsFor 取交易所限制，未配置时用默认值
func (m *Manager) limitsFor(brokerID string) BrokerLimits {
	if l, ok := m.cfg.Limits[brokerID]; ok {
		return l
	}
	return m.cfg.DefaultLimits
}

// CheckCircuitBreakers 熔断检查，必须先于其他风控逻辑执行
// 返回 true 表示熔断生效（禁止新开仓）
func (m *Manager) CheckCircuitBreakers(portfolio *PortfolioState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 新的UTC交易日自动复位日亏损熔断
	today := time.Now().UTC().Format("2006-01-02")
	if m.dailyActive && m.dailyTrippedDate != today {
		m.log.Info("🔄 新交易日，日亏损熔断自动复位")
		m.resetDailyLocked()
	}

	if m.dailyActive || m.drawdownActive {
		return true
	}

	// 日亏损检查
	if portfolio.TotalEquity > 0 && portfolio.DailyPnL < 0 {
		lossPct := -portfolio.DailyPnL / portfolio.TotalEquity * 100
		if lossPct >= m.cfg.MaxDailyLossPct {
			m.tripDailyLocked(fmt.Sprintf("[%s] 日亏损 %.1f%% 超过 %.1f%% 限制",
				portfolio.BrokerID, lossPct, m.cfg.MaxDailyLossPct))
			return true
		}
	}

	// 回撤熔断检查（相对历史权益峰值）
	peak := portfolio.PeakEquity
	if peak > 0 && portfolio.TotalEquity < peak {
		drawdownPct := (peak - portfolio.TotalEquity) / peak * 100
		if drawdownPct >= m.cfg.MaxDrawdownPct {
			m.tripDrawdownLocked(fmt.Sprintf("[%s] 权益 %.2f 较峰值 %.2f 回撤 %.1f%% (限制 %.1f%%)",
				portfolio.BrokerID, portfolio.TotalEquity, peak, drawdownPct, m.cfg.MaxDrawdownPct))
			return true
		}
	}

	return false
}

// CheckEntry 开仓前的全部风控检查
// 限制按交易所隔离：crypto 持仓不会挡住 forex 交易，反之亦然
func (m *Manager) CheckEntry(sig *signal.Signal, portfolio *PortfolioState) RiskCheckResult {
	// 检查1: 熔断（日亏损 + 回撤，必须最先执行）
	if m.CheckCircuitBreakers(portfolio) {
		m.mu.Lock()
		reason := m.dailyReason
		if m.drawdownActive {
			reason = "回撤熔断: " + m.drawdownReason
		} else {
			reason = "日亏损熔断: " + reason
		}
		m.mu.Unlock()
		return RiskCheckResult{Approved: false, Reason: reason}
	}

	limits := m.limitsFor(portfolio.BrokerID)

	// 检查2: 该交易所的置信度下限
	if sig.Confidence < limits.MinConfidence {
		return RiskCheckResult{
			Approved: false,
			Reason: fmt.Sprintf("置信度 %.2f 低于 %s 的最低要求 %.2f",
				sig.Confidence, portfolio.BrokerID, limits.MinConfidence),
		}
	}

	// 检查3: 同品种重复持仓 — 同方向拒绝，反方向是反手信号
	for _, pos := range portfolio.OpenPositions {
		if pos.Symbol != sig.Symbol {
			continue
		}
		if pos.Direction != sig.Direction {
			// 反手信号: 批准但标记需要先平掉现有持仓（受反手保护规则约束）
			return RiskCheckResult{
				Approved:        true,
				Reason:          fmt.Sprintf("REVERSAL:%s", pos.OrderID),
				ReversalOrderID: pos.OrderID,
			}
		}
		return RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("%s 已有 %s 持仓", sig.Symbol, pos.Direction),
		}
	}

	// 检查4: 最大持仓数（按交易所）
	if portfolio.ActiveCount() >= limits.MaxOpenPositions {
		return RiskCheckResult{
			Approved: false,
			Reason: fmt.Sprintf("%s 已达最大持仓数 %d (当前 %d)",
				portfolio.BrokerID, limits.MaxOpenPositions, portfolio.ActiveCount()),
		}
	}

	// 检查5: 相关性敞口 — 按资产类别计数，跨类别互不阻塞
	assetClass := m.registry.GetAssetClass(sig.Symbol)
	sameClassSameDir := 0
	for _, pos := range portfolio.OpenPositions {
		if pos.Direction == sig.Direction && m.registry.GetAssetClass(pos.Symbol) == assetClass {
			sameClassSameDir++
		}
	}
	if sameClassSameDir >= limits.MaxCorrelatedExposure {
		return RiskCheckResult{
			Approved: false,
			Reason: fmt.Sprintf("相关性限制: %s 方向已有 %d 个 %s 持仓 (上限 %d)",
				sig.Direction, sameClassSameDir, assetClass, limits.MaxCorrelatedExposure),
		}
	}

	// 检查6: 方向敞口上限 — 持仓达到门槛后，单方向占比不得突破上限
	if portfolio.ActiveCount() >= m.cfg.DirectionalCapMinPositions && m.cfg.DirectionalCapPct > 0 {
		sameDir := portfolio.DirectionCount(sig.Direction)
		sharePct := float64(sameDir+1) / float64(portfolio.ActiveCount()+1) * 100
		if sharePct > m.cfg.DirectionalCapPct {
			return RiskCheckResult{
				Approved: false,
				Reason: fmt.Sprintf("方向敞口上限: 新增后 %s 占比 %.0f%% 超过 %.0f%% 上限",
					sig.Direction, sharePct, m.cfg.DirectionalCapPct),
			}
		}
	}

	return RiskCheckResult{Approved: true, Reason: "全部风控检查通过"}
}

// CalculateSize ATR止损距离法计算仓位，再用名义价值上限截断
// 上限的意义: 止损很紧时距离法会算出超大仓位，必须硬性封顶
func (m *Manager) CalculateSize(sig *signal.Signal, portfolio *PortfolioState) float64 {
	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 {
		return 0
	}
	stopDistance := sig.EntryPrice - sig.StopLoss
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	if stopDistance == 0 {
		return 0
	}

	riskAmount := portfolio.TotalEquity * (m.cfg.RiskPerTradePct / 100)
	quantity := riskAmount / stopDistance

	// 名义价值封顶
	maxNotional := portfolio.TotalEquity * (m.cfg.MaxNotionalPct / 100)
	maxQuantity := maxNotional / sig.EntryPrice
	if quantity > maxQuantity {
		quantity = maxQuantity
	}

	m.log.Debug("仓位计算",
		zap.String("symbol", sig.Symbol),
		zap.Float64("quantity", quantity),
		zap.Float64("risk_amount", riskAmount),
		zap.Float64("stop_distance", stopDistance))

	return quantity
}

// AllowReversalClose 反手保护：已部分止盈或已有正盈亏的持仓不允许被反手信号平掉
// 这类持仓交给正常的止盈/追踪止损逻辑处理
func (m *Manager) AllowReversalClose(pos *OpenPosition) bool {
	if pos.TPStage >= 1 {
		m.log.Info("🛡 反手保护: 持仓已部分止盈，拒绝反手平仓",
			zap.String("order_id", pos.OrderID), zap.Int("tp_stage", pos.TPStage))
		return false
	}
	if pos.PnL > 0 {
		m.log.Info("🛡 反手保护: 持仓已有正盈亏，拒绝反手平仓",
			zap.String("order_id", pos.OrderID), zap.Float64("pnl", pos.PnL))
		return false
	}
	return true
}

// BuildPortfolio 从持久层 + 最新余额重建组合状态（每个周期重算，不缓存）
func (m *Manager) BuildPortfolio(brokerID string, balance *broker.Balance) (*PortfolioState, error) {
	startingEq := m.cfg.StartingEquity[brokerID]
	cumPnL, err := m.store.CumulativePnL(brokerID)
	if err != nil {
		return nil, fmt.Errorf("查询累计盈亏失败: %w", err)
	}
	totalEquity := startingEq + cumPnL
	available := totalEquity
	if balance != nil && balance.Total > 0 {
		// 有真实余额时以交易所为准
		totalEquity = balance.Total
		available = balance.Available
	}

	positions, err := m.store.OpenPositions(brokerID)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}
	dailyPnL, dailyTrades, err := m.store.DailyPnL(brokerID)
	if err != nil {
		return nil, fmt.Errorf("查询当日盈亏失败: %w", err)
	}
	peak, err := m.store.PeakEquity(brokerID)
	if err != nil {
		return nil, fmt.Errorf("查询权益峰值失败: %w", err)
	}
	if peak < startingEq {
		peak = startingEq
	}

	return &PortfolioState{
		BrokerID:         brokerID,
		TotalEquity:      totalEquity,
		AvailableBalance: available,
		OpenPositions:    positions,
		DailyPnL:         dailyPnL,
		DailyTrades:      dailyTrades,
		PeakEquity:       peak,
	}, nil
}

// tripDailyLocked 触发日亏损熔断（调用方持锁）
func (m *Manager) tripDailyLocked(reason string) {
	m.dailyActive = true
	m.dailyReason = reason
	m.dailyTrippedDate = time.Now().UTC().Format("2006-01-02")
	m.log.Error("🚨 日亏损熔断触发，今日停止新开仓", zap.String("reason", reason))
	if m.store != nil {
		if id, err := m.store.InsertCircuitBreakerEvent(reason, ""); err == nil {
			m.dailyEventID = id
		} else {
			m.log.Error("记录熔断事件失败", zap.Error(err))
		}
	}
}

// tripDrawdownLocked 触发回撤熔断（调用方持锁）
func (m *Manager) tripDrawdownLocked(reason string) {
	m.drawdownActive = true
	m.drawdownReason = reason
	m.log.Error("🚨 回撤熔断触发，需要人工复位", zap.String("reason", reason))
	if m.store != nil {
		if id, err := m.store.InsertCircuitBreakerEvent("MAX DRAWDOWN: "+reason, ""); err == nil {
			m.drawdownEventID = id
		} else {
			m.log.Error("记录熔断事件失败", zap.Error(err))
		}
	}
}

func (m *Manager) resetDailyLocked() {
	if m.dailyEventID != 0 && m.store != nil {
		if err := m.store.ResolveCircuitBreakerEvent(m.dailyEventID); err != nil {
			m.log.Error("解除熔断事件失败", zap.Error(err))
		}
	}
	m.dailyActive = false
	m.dailyReason = ""
	m.dailyTrippedDate = ""
	m.dailyEventID = 0
}

// ResetDailyBreaker 显式复位日亏损熔断（运维操作）
func (m *Manager) ResetDailyBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked()
	m.log.Warn("日亏损熔断已人工复位")
}

// ResetDrawdownBreaker 显式复位回撤熔断（唯一的解除方式）
func (m *Manager) ResetDrawdownBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drawdownEventID != 0 && m.store != nil {
		if err := m.store.ResolveCircuitBreakerEvent(m.drawdownEventID); err != nil {
			m.log.Error("解除熔断事件失败", zap.Error(err))
		}
	}
	m.drawdownActive = false
	m.drawdownReason = ""
	m.drawdownEventID = 0
	m.log.Warn("回撤熔断已人工复位")
}

// BreakerActive 任一熔断是否生效
func (m *Manager) BreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyActive || m.drawdownActive
}

// BreakerStatus 当前熔断状态（观测接口用）
func (m *Manager) BreakerStatus() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"daily_active":    m.dailyActive,
		"daily_reason":    m.dailyReason,
		"drawdown_active": m.drawdownActive,
		"drawdown_reason": m.drawdownReason,
	}
}
