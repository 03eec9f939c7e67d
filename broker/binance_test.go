package broker

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookTickerToTicker(t *testing.T) {
	bt := &futures.BookTicker{
		Symbol:   "BTCUSDT",
		BidPrice: "49999.50",
		AskPrice: "50000.50",
	}
	ticker := bookTickerToTicker("BTC/USDT", bt)
	require.NotNil(t, ticker)
	assert.Equal(t, "BTC/USDT", ticker.Symbol)
	assert.Equal(t, 49999.50, ticker.Bid)
	assert.Equal(t, 50000.50, ticker.Ask)
	assert.InDelta(t, 50000.0, ticker.Last, 1e-9)
}

func TestToBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toBinanceSymbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", toBinanceSymbol("ETHUSDT"))
}

func TestToBinanceSide(t *testing.T) {
	assert.Equal(t, futures.SideTypeBuy, toBinanceSide("buy"))
	assert.Equal(t, futures.SideTypeBuy, toBinanceSide("BUY"))
	assert.Equal(t, futures.SideTypeSell, toBinanceSide("sell"))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.5", formatQuantity(0.5))
	assert.Equal(t, "40", formatQuantity(40))
	assert.Equal(t, "0.000001", formatQuantity(0.000001))
}
