package broker

import "riptide/market"

// CompositeBroker 组合适配器：行情走一个交易所，下单走另一个
// 典型用法是纸面交易：行情来自币安真实数据，订单落到 PaperBroker
// 对调用方完全透明——它实现的就是 Broker 接口本身
type CompositeBroker struct {
	id   string
	data Broker // 行情类调用 (OHLCV/Ticker)
	exec Broker // 账户与订单类调用
}

// NewCompositeBroker 创建组合适配器 id 为空时沿用执行方的 ID
func NewCompositeBroker(id string, data, exec Broker) *CompositeBroker {
	if id == "" {
		id = exec.ID()
	}
	return &CompositeBroker{id: id, data: data, exec: exec}
}

func (c *CompositeBroker) ID() string {
	return c.id
}

// CheckConnectivity 两边都要通
func (c *CompositeBroker) CheckConnectivity() error {
	if err := c.data.CheckConnectivity(); err != nil {
		return err
	}
	return c.exec.CheckConnectivity()
}

func (c *CompositeBroker) FetchOHLCV(symbol, timeframe string, limit int) ([]market.Candle, error) {
	return c.data.FetchOHLCV(symbol, timeframe, limit)
}

func (c *CompositeBroker) FetchTicker(symbol string) (*Ticker, error) {
	return c.data.FetchTicker(symbol)
}

func (c *CompositeBroker) FetchBalance() (*Balance, error) {
	return c.exec.FetchBalance()
}

func (c *CompositeBroker) CreateLimitOrder(symbol, side string, amount, price float64) (*OrderResult, error) {
	return c.exec.CreateLimitOrder(symbol, side, amount, price)
}

func (c *CompositeBroker) CreateStopOrder(symbol, side string, amount, stopPrice float64) (*OrderResult, error) {
	return c.exec.CreateStopOrder(symbol, side, amount, stopPrice)
}

func (c *CompositeBroker) CancelOrder(symbol, orderID string) error {
	return c.exec.CancelOrder(symbol, orderID)
}

// Close 先关行情端再关执行端，两边的错误都不吞
func (c *CompositeBroker) Close() error {
	errData := c.data.Close()
	errExec := c.exec.Close()
	if errData != nil {
		return errData
	}
	return errExec
}
