package broker

import (
	"fmt"
	"strconv"
	"sync"

	"riptide/market"
)

// PaperBroker 模拟交易所：订单全部立即"成交"，不触网
// 行情方法返回内部价格表（测试用），生产环境用 CompositeBroker
// 把行情委托给真实交易所、下单委托到这里
type PaperBroker struct {
	id      string
	mu      sync.Mutex
	nextID  int64
	balance Balance
	prices  map[string]float64
	candles map[string][]market.Candle
	orders  map[string]*OrderResult
}

// NewPaperBroker 创建模拟交易所
func NewPaperBroker(id string, startingEquity float64) *PaperBroker {
	if id == "" {
		id = "paper"
	}
	return &PaperBroker{
		id:      id,
		nextID:  1,
		balance: Balance{Total: startingEquity, Available: startingEquity, Currency: "USDT"},
		prices:  make(map[string]float64),
		candles: make(map[string][]market.Candle),
		orders:  make(map[string]*OrderResult),
	}
}

func (p *PaperBroker) ID() string {
	return p.id
}

func (p *PaperBroker) CheckConnectivity() error {
	return nil
}

// SetPrice 设置模拟价格（测试注入）
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetCandles 设置模拟K线（测试注入）
func (p *PaperBroker) SetCandles(symbol, timeframe string, candles []market.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[symbol+"/"+timeframe] = candles
}

func (p *PaperBroker) FetchOHLCV(symbol, timeframe string, limit int) ([]market.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candles, ok := p.candles[symbol+"/"+timeframe]
	if !ok {
		return nil, fmt.Errorf("模拟交易所没有 %s/%s 的K线数据", symbol, timeframe)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]market.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (p *PaperBroker) FetchTicker(symbol string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("模拟交易所没有 %s 的价格", symbol)
	}
	return &Ticker{Symbol: symbol, Last: price, Bid: price, Ask: price}, nil
}

func (p *PaperBroker) FetchBalance() (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bal := p.balance
	return &bal, nil
}

// SetBalance 调整模拟余额（测试注入）
func (p *PaperBroker) SetBalance(total, available float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance.Total = total
	p.balance.Available = available
}

func (p *PaperBroker) CreateLimitOrder(symbol, side string, amount, price float64) (*OrderResult, error) {
	return p.createOrder(symbol, side, amount, price, "filled")
}

func (p *PaperBroker) CreateStopOrder(symbol, side string, amount, stopPrice float64) (*OrderResult, error) {
	return p.createOrder(symbol, side, amount, stopPrice, "pending")
}

func (p *PaperBroker) createOrder(symbol, side string, amount, price float64, status string) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := strconv.FormatInt(p.nextID, 10)
	p.nextID++
	order := &OrderResult{
		OrderID: "paper-" + id,
		Symbol:  symbol,
		Side:    side,
		Amount:  amount,
		Price:   price,
		Status:  status,
	}
	p.orders[order.OrderID] = order
	return order, nil
}

func (p *PaperBroker) CancelOrder(symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("订单不存在: %s", orderID)
	}
	order.Status = "cancelled"
	return nil
}

func (p *PaperBroker) Close() error {
	return nil
}
