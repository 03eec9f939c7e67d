package trader

import (
	"fmt"

	"riptide/broker"
	"riptide/pkg/logger"
	"riptide/signal"

	"go.uber.org/zap"
)

// MonitorConfig 持仓监控配置
type MonitorConfig struct {
	// PartialCloseFraction TP1 部分平仓比例
	PartialCloseFraction float64
	// TrailBreakevenProgress 入场→TP2 行程达到该比例时止损移至保本
	TrailBreakevenProgress float64
	// TrailLockProgress 行程达到该比例时锁定部分利润
	TrailLockProgress float64
	// TrailLockFraction 锁定利润 = 入场 + 该比例 × (TP2-入场)
	TrailLockFraction float64
}

// DefaultMonitorConfig 默认监控配置
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PartialCloseFraction:   0.5,
		TrailBreakevenProgress: 0.5,
		TrailLockProgress:      0.75,
		TrailLockFraction:      0.25,
	}
}

// Monitor 持仓监控器
// 每个监控周期对所有活跃订单按固定优先级评估:
// 止损 > TP1 部分平仓 > TP2 全平 > 追踪止损
// 大阳/大阴线跳空穿越多个价位时在同一 tick 内按序处理，不重入
type Monitor struct {
	cfg    MonitorConfig
	router *broker.Router
	store  Store
	engine *Engine
	log    *zap.Logger
}

// NewMonitor 创建持仓监控器
func NewMonitor(cfg MonitorConfig, router *broker.Router, store Store, engine *Engine) *Monitor {
	if cfg.PartialCloseFraction <= 0 || cfg.PartialCloseFraction >= 1 {
		cfg.PartialCloseFraction = 0.5
	}
	if cfg.TrailBreakevenProgress <= 0 {
		cfg.TrailBreakevenProgress = 0.5
	}
	if cfg.TrailLockProgress <= 0 {
		cfg.TrailLockProgress = 0.75
	}
	if cfg.TrailLockFraction <= 0 {
		cfg.TrailLockFraction = 0.25
	}
	return &Monitor{
		cfg:    cfg,
		router: router,
		store:  store,
		engine: engine,
		log:    logger.NewModuleLogger("trader.monitor"),
	}
}

// Tick 执行一轮监控: 拉取行情并评估所有挂单与持仓
func (m *Monitor) Tick() {
	orders, err := m.activeOrders()
	if err != nil {
		m.log.Error("查询活跃订单失败", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	// 同一 tick 内同一交易对只取一次行情
	prices := make(map[string]float64)
	for _, o := range orders {
		if _, ok := prices[o.Symbol]; ok {
			continue
		}
		b, err := m.router.GetBroker(o.Symbol)
		if err != nil {
			m.log.Warn("无可用交易所", zap.String("symbol", o.Symbol), zap.Error(err))
			continue
		}
		ticker, err := b.FetchTicker(o.Symbol)
		if err != nil {
			m.log.Warn("获取行情失败", zap.String("symbol", o.Symbol), zap.Error(err))
			continue
		}
		prices[o.Symbol] = ticker.Last
	}

	for _, o := range orders {
		price, ok := prices[o.Symbol]
		if !ok {
			continue
		}
		if err := m.EvaluateOrder(o, price); err != nil {
			// 单个订单的失败不影响同周期其他订单
			m.log.Error("订单评估失败",
				zap.String("order_id", o.ID), zap.String("symbol", o.Symbol), zap.Error(err))
		}
	}
}

func (m *Monitor) activeOrders() ([]*Order, error) {
	var all []*Order
	for _, id := range m.router.BrokerIDs() {
		pending, err := m.store.PendingOrders(id)
		if err != nil {
			return nil, err
		}
		open, err := m.store.OpenOrders(id)
		if err != nil {
			return nil, err
		}
		all = append(all, pending...)
		all = append(all, open...)
	}
	return all, nil
}

// EvaluateOrder 对单个订单执行一轮完整评估
// 对 CLOSED/终态订单调用是无操作。跳空穿越多个价位时单次调用内
// 顺序完成: 成交确认 → 止损 → TP1 部分平仓 → TP2 全平
func (m *Monitor) EvaluateOrder(o *Order, price float64) error {
	if o.State.IsTerminal() {
		return nil
	}

	// 挂单成交确认
	if o.State == StatePending {
		if !limitTouched(o, price) {
			return nil
		}
		// 先写库: 成交记录失败则内存状态停留在 PENDING，下轮重试
		if err := m.store.RecordFill(o.ID, o.EntryPrice); err != nil {
			return fmt.Errorf("成交记录写入失败: %w", err)
		}
		o.FilledPrice = o.EntryPrice
		if err := o.Transition(StateOpen); err != nil {
			return err
		}
		m.log.Info("✅ 挂单成交",
			zap.String("symbol", o.Symbol), zap.Float64("price", o.FilledPrice))
	}

	// 优先级 1: 止损（止损优先于任何止盈动作）
	if stopTouched(o, price) {
		return m.engine.CloseOrder(o, price, "止损触发")
	}

	// 优先级 2: TP1 部分平仓
	if o.TPStage == 0 && tpTouched(o, o.TakeProfit1, price) {
		if err := m.partialCloseAtTP1(o); err != nil {
			return err
		}
		// 跳空直接穿过 TP2: 同一 tick 内继续处理，不等下一轮
	}

	// 优先级 3: TP2 全平
	if o.TPStage >= 1 && tpTouched(o, o.TakeProfit2, price) {
		return m.engine.CloseOrder(o, o.TakeProfit2, "TP2 触发全平")
	}

	// 优先级 4: 阶段 1 渐进追踪止损
	if o.TPStage >= 1 {
		m.trail(o, price)
	}
	return nil
}

// partialCloseAtTP1 TP1 触发: 平掉部分仓位、止损移至保本、进入阶段 1
func (m *Monitor) partialCloseAtTP1(o *Order) error {
	closedQty := o.RemainingQuantity * m.cfg.PartialCloseFraction
	pnlDelta := realizedPnL(o, o.TakeProfit1, closedQty)
	breakeven := entryOf(o)

	// 先写库，成功后才推进内存状态
	if err := m.store.RecordPartialClose(o.ID, closedQty, pnlDelta, breakeven, 1); err != nil {
		return fmt.Errorf("部分平仓写入失败: %w", err)
	}

	o.PnL += pnlDelta
	o.RemainingQuantity -= closedQty
	o.StopLoss = breakeven
	o.TPStage = 1
	if err := o.Transition(StatePartiallyClosed); err != nil {
		return err
	}

	m.log.Info("🎯 TP1 部分平仓",
		zap.String("symbol", o.Symbol),
		zap.Float64("closed_qty", closedQty),
		zap.Float64("pnl_delta", pnlDelta),
		zap.Float64("new_stop", breakeven))
	m.engine.notify(fmt.Sprintf("🎯 TP1 部分平仓 %s qty=%.6f 盈亏+%.2f 止损→保本 %.4f",
		o.Symbol, closedQty, pnlDelta, breakeven))
	return nil
}

// trail 阶段 1 渐进追踪: 按入场→TP2 的行程比例上移止损
// 止损只朝有利方向移動，永不后退
func (m *Monitor) trail(o *Order, price float64) {
	entry := entryOf(o)
	tpRange := o.TakeProfit2 - entry
	if tpRange == 0 {
		return
	}
	progress := (price - entry) / tpRange // 多空同式: 空头价差与区间同为负

	var target float64
	var stage int
	switch {
	case progress >= m.cfg.TrailLockProgress:
		target = entry + m.cfg.TrailLockFraction*tpRange
		stage = 2
	case progress >= m.cfg.TrailBreakevenProgress:
		target = entry
		stage = 1
	default:
		return
	}

	if !stopImproves(o, target) {
		return
	}
	if err := m.store.UpdateStopLoss(o.ID, target, stage); err != nil {
		m.log.Error("追踪止损写入失败", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	o.StopLoss = target
	if stage > o.TrailStage {
		o.TrailStage = stage
	}
	m.log.Info("📈 追踪止损上移",
		zap.String("symbol", o.Symbol),
		zap.Float64("progress", progress),
		zap.Float64("new_stop", target))
}

func entryOf(o *Order) float64 {
	if o.FilledPrice != 0 {
		return o.FilledPrice
	}
	return o.EntryPrice
}

// limitTouched 入场限价是否被触及（多头回落到价位，空头上冲到价位）
func limitTouched(o *Order, price float64) bool {
	if o.Direction == signal.DirectionLong {
		return price <= o.EntryPrice
	}
	return price >= o.EntryPrice
}

func stopTouched(o *Order, price float64) bool {
	if o.Direction == signal.DirectionLong {
		return price <= o.StopLoss
	}
	return price >= o.StopLoss
}

func tpTouched(o *Order, tp, price float64) bool {
	if o.Direction == signal.DirectionLong {
		return price >= tp
	}
	return price <= tp
}

// stopImproves 目标止损是否严格优于当前止损
func stopImproves(o *Order, target float64) bool {
	if o.Direction == signal.DirectionLong {
		return target > o.StopLoss
	}
	return target < o.StopLoss
}
