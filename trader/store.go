package trader

import "riptide/signal"

// Store 订单/信号持久化契约（由 config.Database 实现）
// 成交、部分平仓、最终平仓是三个独立的写入操作：
// 入场价、出场价、累计盈亏各自只被一种操作写入，互不覆盖
type Store interface {
	// CreateSignal 信号落库（校验通过与否都立即保存）
	CreateSignal(sig *signal.Signal) error

	// CreateOrder 新订单落库 (PENDING)
	CreateOrder(o *Order) error

	// RecordFill 记录成交：只写 filled_price 和状态
	// 写入失败时调用方不得把内存状态推进到 PENDING 之后
	RecordFill(orderID string, fillPrice float64) error

	// RecordPartialClose 记录部分平仓：盈亏累加，剩余数量减少，止损上移
	RecordPartialClose(orderID string, closedQty, pnlDelta, newStop float64, tpStage int) error

	// RecordFinalClose 记录最终平仓：只写 exit_price，绝不碰 filled_price
	RecordFinalClose(orderID string, exitPrice, pnlDelta float64, state OrderState) error

	// UpdateStopLoss 追踪止损更新当前止损位
	UpdateStopLoss(orderID string, newStop float64, trailStage int) error

	// UpdateOrderState 其他状态迁移 (REJECTED/CANCELLED)
	UpdateOrderState(orderID string, state OrderState) error

	// OpenOrders 某交易所的活跃订单 (OPEN / PARTIALLY_CLOSED)
	OpenOrders(brokerID string) ([]*Order, error)

	// PendingOrders 等待成交的订单
	PendingOrders(brokerID string) ([]*Order, error)

	// OrderBySignalID 按信号查订单（同一信号至多一笔活跃订单）
	OrderBySignalID(signalID string) (*Order, error)

	// OrderByID 按订单ID查询
	OrderByID(orderID string) (*Order, error)
}
