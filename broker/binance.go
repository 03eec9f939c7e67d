package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"riptide/market"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceBroker 币安合约适配器
type BinanceBroker struct {
	client  *futures.Client
	timeout time.Duration
}

// NewBinanceBroker 创建币安合约适配器
func NewBinanceBroker(apiKey, secretKey string, testnet bool) *BinanceBroker {
	if testnet {
		futures.UseTestnet = true
	}
	return &BinanceBroker{
		client:  futures.NewClient(apiKey, secretKey),
		timeout: 15 * time.Second,
	}
}

func (b *BinanceBroker) ID() string {
	return "binance"
}

// ctx 每次调用独立超时，避免卡死监控周期
func (b *BinanceBroker) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// toBinanceSymbol "BTC/USDT" -> "BTCUSDT"
func toBinanceSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (b *BinanceBroker) CheckConnectivity() error {
	ctx, cancel := b.ctx()
	defer cancel()
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("币安连通性检查失败: %w", err)
	}
	return nil
}

func (b *BinanceBroker) FetchOHLCV(symbol, timeframe string, limit int) ([]market.Candle, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	klines, err := b.client.NewKlinesService().
		Symbol(toBinanceSymbol(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败 %s/%s: %w", symbol, timeframe, err)
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}

func (b *BinanceBroker) FetchTicker(symbol string) (*Ticker, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	books, err := b.client.NewListBookTickersService().
		Symbol(toBinanceSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取行情失败 %s: %w", symbol, err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("行情为空: %s", symbol)
	}
	return bookTickerToTicker(symbol, books[0]), nil
}

// bookTickerToTicker 把合约盘口转成内部 Ticker，中间价作为最新价
func bookTickerToTicker(symbol string, bt *futures.BookTicker) *Ticker {
	bid, _ := strconv.ParseFloat(bt.BidPrice, 64)
	ask, _ := strconv.ParseFloat(bt.AskPrice, 64)
	return &Ticker{
		Symbol: symbol,
		Last:   (bid + ask) / 2,
		Bid:    bid,
		Ask:    ask,
	}
}

func (b *BinanceBroker) FetchBalance() (*Balance, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取余额失败: %w", err)
	}
	for _, bal := range balances {
		if bal.Asset == "USDT" {
			total, _ := strconv.ParseFloat(bal.Balance, 64)
			avail, _ := strconv.ParseFloat(bal.AvailableBalance, 64)
			return &Balance{Total: total, Available: avail, Currency: "USDT"}, nil
		}
	}
	return &Balance{Currency: "USDT"}, nil
}

func (b *BinanceBroker) CreateLimitOrder(symbol, side string, amount, price float64) (*OrderResult, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	res, err := b.client.NewCreateOrderService().
		Symbol(toBinanceSymbol(symbol)).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatQuantity(amount)).
		Price(formatQuantity(price)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下限价单失败 %s: %w", symbol, err)
	}
	return &OrderResult{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:  symbol,
		Side:    side,
		Amount:  amount,
		Price:   price,
		Status:  string(res.Status),
	}, nil
}

func (b *BinanceBroker) CreateStopOrder(symbol, side string, amount, stopPrice float64) (*OrderResult, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	res, err := b.client.NewCreateOrderService().
		Symbol(toBinanceSymbol(symbol)).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(formatQuantity(amount)).
		StopPrice(formatQuantity(stopPrice)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下止损单失败 %s: %w", symbol, err)
	}
	return &OrderResult{
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Symbol:  symbol,
		Side:    side,
		Amount:  amount,
		Price:   stopPrice,
		Status:  string(res.Status),
	}, nil
}

func (b *BinanceBroker) CancelOrder(symbol, orderID string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的订单ID %s: %w", orderID, err)
	}
	if _, err := b.client.NewCancelOrderService().
		Symbol(toBinanceSymbol(symbol)).
		OrderID(id).
		Do(ctx); err != nil {
		return fmt.Errorf("取消订单失败 %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

func (b *BinanceBroker) Close() error {
	return nil
}

func toBinanceSide(side string) futures.SideType {
	if strings.EqualFold(side, "buy") {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// formatQuantity 格式化数量/价格到合理精度
func formatQuantity(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
