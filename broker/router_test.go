package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riptide/market"
)

// flakyBroker 连通性可控的模拟交易所，用于健康检查测试
type flakyBroker struct {
	*PaperBroker
	connErr error
}

func (f *flakyBroker) CheckConnectivity() error {
	return f.connErr
}

func TestRouterRoutesBySymbol(t *testing.T) {
	router := NewRouter(nil)
	binance := NewPaperBroker("binance", 10000)
	oanda := NewPaperBroker("oanda", 10000)
	router.Register(binance)
	router.Register(oanda)

	b, err := router.GetBroker("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", b.ID())

	b, err = router.GetBroker("EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, "oanda", b.ID())

	_, err = router.GetBrokerByID("kraken")
	assert.Error(t, err)
}

func TestRouterHealthLifecycle(t *testing.T) {
	router := NewRouter(nil)
	flaky := &flakyBroker{
		PaperBroker: NewPaperBroker("binance", 10000),
		connErr:     errors.New("invalid api key"),
	}
	router.Register(flaky)
	assert.True(t, router.IsHealthy("binance"))

	router.MarkUnhealthy("binance", "凭证错误")
	assert.False(t, router.IsHealthy("binance"))

	// 连通性仍失败时保持不可用
	router.CheckHealth()
	assert.False(t, router.IsHealthy("binance"))

	// 恢复后重新启用
	flaky.connErr = nil
	router.CheckHealth()
	assert.True(t, router.IsHealthy("binance"))
}

func TestRouterBrokerIDs(t *testing.T) {
	router := NewRouter(nil)
	router.Register(NewPaperBroker("binance", 10000))
	router.Register(NewPaperBroker("oanda", 10000))

	ids := router.BrokerIDs()
	assert.ElementsMatch(t, []string{"binance", "oanda"}, ids)
}

func TestRegistryBuiltinForex(t *testing.T) {
	reg := NewRegistry()

	info := reg.Get("EUR_USD")
	assert.Equal(t, "oanda", info.BrokerID)
	assert.Equal(t, AssetForex, info.AssetClass)
	assert.Equal(t, 0.0001, info.PipSize)

	// JPY 对的点值不同
	assert.Equal(t, 0.01, reg.Get("USD_JPY").PipSize)
}

func TestRegistryCryptoAutoGenerate(t *testing.T) {
	reg := NewRegistry()

	info := reg.Get("SOL/USDT")
	assert.Equal(t, "binance", info.BrokerID)
	assert.Equal(t, AssetCrypto, info.AssetClass)
	assert.Equal(t, "SOL", info.BaseCCY)
	assert.Equal(t, "USDT", info.QuoteCCY)

	assert.Equal(t, "binance", reg.RouteSymbol("BTC/USDT"))
	assert.Equal(t, AssetCrypto, reg.GetAssetClass("ETH/USDT"))
}

func TestCompositeBrokerSplitsDataAndExec(t *testing.T) {
	data := NewPaperBroker("data", 0)
	exec := NewPaperBroker("exec", 10000)
	data.SetPrice("BTC/USDT", 50000)
	data.SetCandles("BTC/USDT", "1h", []market.Candle{{Close: 50000}})
	exec.SetBalance(20000, 15000)

	c := NewCompositeBroker("binance", data, exec)
	assert.Equal(t, "binance", c.ID())

	// 行情走 data 端
	ticker, err := c.FetchTicker("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, ticker.Last)

	candles, err := c.FetchOHLCV("BTC/USDT", "1h", 10)
	require.NoError(t, err)
	assert.Len(t, candles, 1)

	// 账户与下单走 exec 端
	bal, err := c.FetchBalance()
	require.NoError(t, err)
	assert.Equal(t, 20000.0, bal.Total)

	res, err := c.CreateLimitOrder("BTC/USDT", "buy", 0.1, 50000)
	require.NoError(t, err)
	assert.Equal(t, "filled", res.Status)
	require.NoError(t, c.CancelOrder("BTC/USDT", res.OrderID))
}

func TestCompositeBrokerDefaultsToExecID(t *testing.T) {
	c := NewCompositeBroker("", NewPaperBroker("data", 0), NewPaperBroker("exec", 0))
	assert.Equal(t, "exec", c.ID())
}

func TestPaperBrokerOrders(t *testing.T) {
	p := NewPaperBroker("paper", 10000)

	limit, err := p.CreateLimitOrder("BTC/USDT", "buy", 0.5, 50000)
	require.NoError(t, err)
	assert.Equal(t, "filled", limit.Status)
	assert.Equal(t, 0.5, limit.Amount)

	stop, err := p.CreateStopOrder("BTC/USDT", "sell", 0.5, 48000)
	require.NoError(t, err)
	assert.Equal(t, "pending", stop.Status)
	assert.NotEqual(t, limit.OrderID, stop.OrderID)

	require.NoError(t, p.CancelOrder("BTC/USDT", stop.OrderID))
	assert.Error(t, p.CancelOrder("BTC/USDT", "missing"))
}

func TestPaperBrokerOHLCVLimit(t *testing.T) {
	p := NewPaperBroker("paper", 0)
	candles := make([]market.Candle, 10)
	for i := range candles {
		candles[i].Close = float64(i)
	}
	p.SetCandles("BTC/USDT", "1h", candles)

	got, err := p.FetchOHLCV("BTC/USDT", "1h", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 9.0, got[2].Close)

	_, err = p.FetchOHLCV("ETH/USDT", "1h", 3)
	assert.Error(t, err)
}
