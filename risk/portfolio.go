package risk

import (
	"time"

	"riptide/signal"
)

// OpenPosition 风控视角的持仓快照（从订单派生，带剩余数量算敞口）
type OpenPosition struct {
	OrderID           string           `json:"order_id"`
	SignalID          string           `json:"signal_id"`
	Symbol            string           `json:"symbol"`
	Direction         signal.Direction `json:"direction"`
	RemainingQuantity float64          `json:"remaining_quantity"`
	EntryPrice        float64          `json:"entry_price"`
	TPStage           int              `json:"tp_stage"`
	PnL               float64          `json:"pnl"`
}

// PortfolioState 单个交易所的组合状态
// 每个周期开始时从持久化订单 + 最新余额重算，绝不跨周期缓存
type PortfolioState struct {
	BrokerID         string         `json:"broker_id"`
	TotalEquity      float64        `json:"total_equity"`
	AvailableBalance float64        `json:"available_balance"`
	OpenPositions    []OpenPosition `json:"open_positions"`
	DailyPnL         float64        `json:"daily_pnl"`
	DailyTrades      int            `json:"daily_trades"`
	PeakEquity       float64        `json:"peak_equity"`
}

// ActiveCount 当前持仓数量
func (p *PortfolioState) ActiveCount() int {
	return len(p.OpenPositions)
}

// DirectionCount 统计某方向的持仓数量
func (p *PortfolioState) DirectionCount(dir signal.Direction) int {
	count := 0
	for _, pos := range p.OpenPositions {
		if pos.Direction == dir {
			count++
		}
	}
	return count
}

// CircuitBreakerEvent 熔断审计记录
// Risk Manager 在阈值突破时创建；只能由运维显式解除
type CircuitBreakerEvent struct {
	ID         int64      `json:"id"`
	Reason     string     `json:"reason"`
	Details    string     `json:"details,omitempty"`
	TrippedAt  time.Time  `json:"tripped_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store 风控所需的持久化契约（由 config.Database 实现）
type Store interface {
	// CumulativePnL 某交易所累计已实现盈亏
	CumulativePnL(brokerID string) (float64, error)
	// DailyPnL 某交易所今日已实现盈亏与交易笔数
	DailyPnL(brokerID string) (pnl float64, trades int, err error)
	// PeakEquity 某交易所历史权益峰值
	PeakEquity(brokerID string) (float64, error)
	// OpenPositions 某交易所的持仓（带剩余数量）
	OpenPositions(brokerID string) ([]OpenPosition, error)
	// InsertCircuitBreakerEvent 记录熔断事件，返回事件ID
	InsertCircuitBreakerEvent(reason, details string) (int64, error)
	// ResolveCircuitBreakerEvent 标记熔断事件已解除
	ResolveCircuitBreakerEvent(id int64) error
}

// RiskCheckResult 风控检查结果
// 拒绝是正常且预期的结果，不是错误；Reason 必须指出触发的具体限制
type RiskCheckResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
	// ReversalOrderID 反手信号要先平掉的持仓订单ID（空表示非反手）
	ReversalOrderID string `json:"reversal_order_id,omitempty"`
}
