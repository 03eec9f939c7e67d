package trader

import (
	"fmt"
	"time"

	"riptide/signal"

	"github.com/google/uuid"
)

// OrderState 订单生命周期状态（封闭枚举 + 转移表，非法转移直接拒绝）
type OrderState string

const (
	StatePending         OrderState = "pending"          // 已提交交易所，等待成交
	StateOpen            OrderState = "open"             // 已成交，持仓中
	StatePartiallyClosed OrderState = "partially_closed" // TP1 已部分平仓
	StateClosed          OrderState = "closed"           // 终态: 全部平仓
	StateCancelled       OrderState = "cancelled"        // 终态: 已撤销
	StateRejected        OrderState = "rejected"         // 终态: 交易所拒绝
)

// transitions 合法状态转移表
var transitions = map[OrderState][]OrderState{
	StatePending:         {StateOpen, StateRejected, StateCancelled},
	StateOpen:            {StatePartiallyClosed, StateClosed, StateCancelled},
	StatePartiallyClosed: {StateClosed, StateCancelled},
	StateClosed:          {},
	StateCancelled:       {},
	StateRejected:        {},
}

// IsTerminal 是否终态
func (s OrderState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition 判断能否转移到目标状态
func (s OrderState) CanTransition(target OrderState) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Order 一笔交易所侧执行单及其完整生命周期
// 只允许 trader 包内的生命周期状态机改写
type Order struct {
	ID            string     `json:"id"`
	SignalID      string     `json:"signal_id"`
	BrokerOrderID string     `json:"broker_order_id"`
	BrokerID      string     `json:"broker_id"`
	Symbol        string     `json:"symbol"`
	Direction     signal.Direction `json:"direction"`
	State         OrderState `json:"state"`

	EntryPrice float64 `json:"entry_price"`
	// OriginalStopLoss 初始止损，不可变，R倍数计算基于它
	OriginalStopLoss float64 `json:"original_stop_loss"`
	// StopLoss 当前止损，追踪止损逻辑会上移它
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit_1"`
	TakeProfit2 float64 `json:"take_profit_2"`
	TakeProfit3 float64 `json:"take_profit_3"`

	Quantity float64 `json:"quantity"`
	// RemainingQuantity 未平仓数量，单调递减，CLOSED 时恰好为 0
	RemainingQuantity float64 `json:"remaining_quantity"`
	FilledPrice       float64 `json:"filled_price"`
	// ExitPrice 只在平仓事件写入，永不覆盖 FilledPrice
	ExitPrice float64 `json:"exit_price"`
	// PnL 跨部分平仓累加，只加不覆盖
	PnL  float64 `json:"pnl"`
	Fees float64 `json:"fees"`

	// TPStage 止盈阶段: 0=未触发, 1=TP1已部分平仓, ...
	TPStage    int `json:"tp_stage"`
	TrailStage int `json:"trail_stage"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewOrder 从通过风控的信号创建待提交订单
func NewOrder(sig *signal.Signal, brokerID string, quantity float64) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:                uuid.NewString(),
		SignalID:          sig.ID,
		BrokerID:          brokerID,
		Symbol:            sig.Symbol,
		Direction:         sig.Direction,
		State:             StatePending,
		EntryPrice:        sig.EntryPrice,
		OriginalStopLoss:  sig.StopLoss,
		StopLoss:          sig.StopLoss,
		TakeProfit1:       sig.TakeProfit1,
		TakeProfit2:       sig.TakeProfit2,
		TakeProfit3:       sig.TakeProfit3,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Transition 执行状态转移，非法转移返回错误（CLOSED → OPEN 之类在类型层面被拒绝）
func (o *Order) Transition(target OrderState) error {
	if !o.State.CanTransition(target) {
		return fmt.Errorf("非法状态转移 %s -> %s (订单 %s)", o.State, target, o.ID)
	}
	o.State = target
	o.UpdatedAt = time.Now().UTC()
	if target.IsTerminal() && target != StateRejected {
		now := time.Now().UTC()
		o.ClosedAt = &now
	}
	return nil
}

// IsActive 是否仍在持仓（参与敞口与监控）
func (o *Order) IsActive() bool {
	return o.State == StateOpen || o.State == StatePartiallyClosed
}

// UnrealizedPnL 按当前价格估算未实现盈亏（只算剩余数量）
func (o *Order) UnrealizedPnL(currentPrice float64) float64 {
	if !o.IsActive() || o.RemainingQuantity <= 0 {
		return 0
	}
	entry := o.FilledPrice
	if entry == 0 {
		entry = o.EntryPrice
	}
	if o.Direction == signal.DirectionLong {
		return (currentPrice - entry) * o.RemainingQuantity
	}
	return (entry - currentPrice) * o.RemainingQuantity
}
