package trader

import (
	"fmt"
	"time"

	"riptide/broker"
	"riptide/pkg/logger"
	"riptide/risk"
	"riptide/signal"

	"go.uber.org/zap"
)

// Notifier 告警协作方（telegram 实现），不可用时注入 nil 即静默
type Notifier interface {
	Notify(msg string)
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	// PartialCloseFraction TP1 触发时平掉的仓位比例 (默认 0.5)
	PartialCloseFraction float64
	// FillTimeout 挂单未成交的撤销窗口 (默认 30 分钟)
	FillTimeout time.Duration
}

// DefaultEngineConfig 默认执行配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PartialCloseFraction: 0.5,
		FillTimeout:          30 * time.Minute,
	}
}

// Engine 确定性交易执行引擎
// 上游智能层只负责推荐，真正的下单决策全部由硬编码规则完成
type Engine struct {
	cfg      EngineConfig
	router   *broker.Router
	riskMgr  *risk.Manager
	store    Store
	notifier Notifier
	log      *zap.Logger
}

// NewEngine 创建执行引擎
func NewEngine(cfg EngineConfig, router *broker.Router, riskMgr *risk.Manager, store Store, notifier Notifier) *Engine {
	if cfg.PartialCloseFraction <= 0 || cfg.PartialCloseFraction >= 1 {
		cfg.PartialCloseFraction = 0.5
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		router:   router,
		riskMgr:  riskMgr,
		store:    store,
		notifier: notifier,
		log:      logger.NewModuleLogger("trader.engine"),
	}
}

// ExecuteSignal 信号到订单的完整管线
// 1. 幂等检查 2. 风控 3. 仓位计算 4. 提交交易所 5. 落库 6. 告警
// 返回 nil, nil 表示被正常拒绝（不是错误）
func (e *Engine) ExecuteSignal(sig *signal.Signal, portfolio *risk.PortfolioState) (*Order, error) {
	// 幂等: 一个信号至多一笔活跃订单，周期与重试重叠时防止重复提交
	if existing, err := e.store.OrderBySignalID(sig.ID); err == nil && existing != nil {
		e.log.Debug("信号已有订单，跳过", zap.String("signal_id", sig.ID))
		return nil, nil
	}

	// 风控检查
	result := e.riskMgr.CheckEntry(sig, portfolio)
	if !result.Approved {
		e.log.Warn("风控拒绝",
			zap.String("symbol", sig.Symbol), zap.String("reason", result.Reason))
		e.notify(fmt.Sprintf("⚠️ 风控拒绝 %s: %s", sig.Symbol, result.Reason))
		return nil, nil
	}

	// 反手信号: 先尝试平掉反方向持仓（受反手保护约束）
	if result.ReversalOrderID != "" {
		closed, err := e.closeForReversal(result.ReversalOrderID)
		if err != nil {
			return nil, fmt.Errorf("反手平仓失败: %w", err)
		}
		if !closed {
			// 反手保护生效: 保留现有持仓，放弃这个信号
			return nil, nil
		}
	}

	// 仓位计算
	quantity := e.riskMgr.CalculateSize(sig, portfolio)
	if quantity <= 0 {
		e.log.Warn("仓位计算为零，跳过", zap.String("symbol", sig.Symbol))
		return nil, nil
	}

	order := NewOrder(sig, portfolio.BrokerID, quantity)

	b, err := e.router.GetBrokerByID(order.BrokerID)
	if err != nil {
		return nil, err
	}
	if !e.router.IsHealthy(order.BrokerID) {
		e.log.Warn("交易所不可用，跳过下单", zap.String("broker", order.BrokerID))
		return nil, nil
	}

	side := "buy"
	slSide := "sell"
	if sig.Direction == signal.DirectionShort {
		side = "sell"
		slSide = "buy"
	}

	// 提交入场限价单
	res, err := b.CreateLimitOrder(order.Symbol, side, order.Quantity, order.EntryPrice)
	if err != nil {
		order.State = StateRejected
		if persistErr := e.store.CreateOrder(order); persistErr != nil {
			e.log.Error("拒绝订单落库失败", zap.Error(persistErr))
		}
		e.notify(fmt.Sprintf("❌ 下单失败 %s: %v", order.Symbol, err))
		return nil, fmt.Errorf("提交入场单失败 %s: %w", order.Symbol, err)
	}
	order.BrokerOrderID = res.OrderID

	// 挂止损单
	if _, err := b.CreateStopOrder(order.Symbol, slSide, order.Quantity, order.StopLoss); err != nil {
		e.log.Error("挂止损单失败", zap.String("symbol", order.Symbol), zap.Error(err))
		e.notify(fmt.Sprintf("⚠️ 止损单失败 %s: %v", order.Symbol, err))
	}

	// PENDING 订单落库
	if err := e.store.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("订单落库失败: %w", err)
	}

	// 立即成交（paper/市价級别的限价）时推进到 OPEN
	// 先写库再推进内存状态: RecordFill 失败则停留在 PENDING
	if res.Status == "filled" || res.Status == "FILLED" {
		if err := e.store.RecordFill(order.ID, order.EntryPrice); err != nil {
			e.log.Error("成交记录写入失败，状态保持 PENDING", zap.Error(err))
		} else {
			order.FilledPrice = order.EntryPrice
			if err := order.Transition(StateOpen); err != nil {
				return nil, err
			}
		}
	}

	e.log.Info("📬 订单已提交",
		zap.String("symbol", order.Symbol),
		zap.String("direction", string(order.Direction)),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("entry", order.EntryPrice),
		zap.Float64("stop", order.StopLoss),
		zap.String("state", string(order.State)))
	e.notify(fmt.Sprintf("📬 开仓 %s %s qty=%.6f @ %.4f SL=%.4f TP1=%.4f",
		order.Symbol, order.Direction, order.Quantity,
		order.EntryPrice, order.StopLoss, order.TakeProfit1))

	return order, nil
}

// closeForReversal 反手信号平掉现有持仓
// 返回 false 表示反手保护拒绝了平仓
func (e *Engine) closeForReversal(orderID string) (bool, error) {
	o, err := e.store.OrderByID(orderID)
	if err != nil || o == nil {
		return false, fmt.Errorf("查询反手持仓失败: %v", err)
	}
	if !o.IsActive() {
		// 已经不在持仓（重复检查是无害的无操作）
		return true, nil
	}

	pos := &risk.OpenPosition{
		OrderID:           o.ID,
		Symbol:            o.Symbol,
		Direction:         o.Direction,
		RemainingQuantity: o.RemainingQuantity,
		EntryPrice:        o.EntryPrice,
		TPStage:           o.TPStage,
		PnL:               o.PnL,
	}
	if !e.riskMgr.AllowReversalClose(pos) {
		return false, nil
	}

	b, err := e.router.GetBrokerByID(o.BrokerID)
	if err != nil {
		return false, err
	}
	ticker, err := b.FetchTicker(o.Symbol)
	if err != nil {
		return false, fmt.Errorf("获取行情失败: %w", err)
	}

	if err := e.CloseOrder(o, ticker.Last, "反手信号平仓"); err != nil {
		return false, err
	}
	return true, nil
}

// CloseOrder 按给定价格平掉剩余全部仓位
// 对已 CLOSED 的订单重复调用是无操作，不报错
func (e *Engine) CloseOrder(o *Order, price float64, reason string) error {
	if !o.IsActive() {
		return nil
	}

	pnlDelta := realizedPnL(o, price, o.RemainingQuantity)

	// 先撤交易所侧的止损挂单
	b, err := e.router.GetBrokerByID(o.BrokerID)
	if err == nil {
		closeSide := "sell"
		if o.Direction == signal.DirectionShort {
			closeSide = "buy"
		}
		if _, err := b.CreateLimitOrder(o.Symbol, closeSide, o.RemainingQuantity, price); err != nil {
			e.log.Error("平仓单提交失败", zap.String("symbol", o.Symbol), zap.Error(err))
		}
	}

	// 先写库，成功后才推进内存状态
	if err := e.store.RecordFinalClose(o.ID, price, pnlDelta, StateClosed); err != nil {
		return fmt.Errorf("平仓记录写入失败: %w", err)
	}

	o.PnL += pnlDelta
	o.ExitPrice = price
	o.RemainingQuantity = 0
	if err := o.Transition(StateClosed); err != nil {
		return err
	}

	e.log.Info("🏁 持仓已平",
		zap.String("symbol", o.Symbol),
		zap.Float64("exit", price),
		zap.Float64("pnl", o.PnL),
		zap.String("reason", reason))
	e.notify(fmt.Sprintf("🏁 平仓 %s @ %.4f 盈亏=%.2f (%s)", o.Symbol, price, o.PnL, reason))
	return nil
}

// CancelStale 撤销超过成交窗口仍未成交的挂单
func (e *Engine) CancelStale(brokerID string) int {
	pending, err := e.store.PendingOrders(brokerID)
	if err != nil {
		e.log.Error("查询挂单失败", zap.String("broker", brokerID), zap.Error(err))
		return 0
	}

	cancelled := 0
	now := time.Now().UTC()
	for _, o := range pending {
		if now.Sub(o.CreatedAt) < e.cfg.FillTimeout {
			continue
		}
		if b, err := e.router.GetBrokerByID(o.BrokerID); err == nil && o.BrokerOrderID != "" {
			if err := b.CancelOrder(o.Symbol, o.BrokerOrderID); err != nil {
				e.log.Warn("撤单失败", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
		if err := e.store.UpdateOrderState(o.ID, StateCancelled); err != nil {
			e.log.Error("撤单状态写入失败", zap.Error(err))
			continue
		}
		if err := o.Transition(StateCancelled); err == nil {
			cancelled++
			e.log.Info("🗑 挂单超时撤销", zap.String("symbol", o.Symbol), zap.String("order_id", o.ID))
		}
	}
	return cancelled
}

// realizedPnL 按方向计算已实现盈亏（基于成交价，缺省用入场价）
func realizedPnL(o *Order, exitPrice, quantity float64) float64 {
	entry := o.FilledPrice
	if entry == 0 {
		entry = o.EntryPrice
	}
	if o.Direction == signal.DirectionLong {
		return (exitPrice - entry) * quantity
	}
	return (entry - exitPrice) * quantity
}

func (e *Engine) notify(msg string) {
	if e.notifier != nil {
		e.notifier.Notify(msg)
	}
}
