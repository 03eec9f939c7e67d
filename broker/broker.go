package broker

import "riptide/market"

// Broker 交易所统一接口
// 所有交易所适配器（含组合适配器）实现同一套能力，调用方只持有接口
// 这个接口形状不允许变动：Validator/Risk/Trader 都多态依赖它
type Broker interface {
	// ID 交易所唯一标识（如 "binance", "oanda", "paper"）
	ID() string

	// CheckConnectivity 连通性检查（失败表示该交易所暂不可用）
	CheckConnectivity() error

	// FetchOHLCV 获取K线（按时间顺序，最新的在最后）
	FetchOHLCV(symbol, timeframe string, limit int) ([]market.Candle, error)

	// FetchTicker 获取最新行情
	FetchTicker(symbol string) (*Ticker, error)

	// FetchBalance 获取账户余额
	FetchBalance() (*Balance, error)

	// CreateLimitOrder 下限价单 side: "buy" | "sell"
	CreateLimitOrder(symbol, side string, amount, price float64) (*OrderResult, error)

	// CreateStopOrder 下止损单（触价市价）
	CreateStopOrder(symbol, side string, amount, stopPrice float64) (*OrderResult, error)

	// CancelOrder 取消委托
	CancelOrder(symbol, orderID string) error

	// Close 关闭连接，释放资源
	Close() error
}

// Ticker 最新行情快照
type Ticker struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Balance 账户余额快照
type Balance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Currency  string  `json:"currency"`
}

// OrderResult 交易所下单返回
type OrderResult struct {
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Amount  float64 `json:"amount"`
	Price   float64 `json:"price"`
	Status  string  `json:"status"`
}
