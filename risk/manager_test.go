package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riptide/signal"
)

type memRiskStore struct {
	events   map[int64]bool
	nextID   int64
	cumPnL   map[string]float64
	peak     map[string]float64
	dailyPnL map[string]float64
	open     map[string][]OpenPosition
}

func newMemRiskStore() *memRiskStore {
	return &memRiskStore{
		events:   make(map[int64]bool),
		nextID:   1,
		cumPnL:   make(map[string]float64),
		peak:     make(map[string]float64),
		dailyPnL: make(map[string]float64),
		open:     make(map[string][]OpenPosition),
	}
}

func (s *memRiskStore) CumulativePnL(brokerID string) (float64, error) {
	return s.cumPnL[brokerID], nil
}

func (s *memRiskStore) DailyPnL(brokerID string) (float64, int, error) {
	return s.dailyPnL[brokerID], 0, nil
}

func (s *memRiskStore) PeakEquity(brokerID string) (float64, error) {
	return s.peak[brokerID], nil
}

func (s *memRiskStore) OpenPositions(brokerID string) ([]OpenPosition, error) {
	return s.open[brokerID], nil
}

func (s *memRiskStore) InsertCircuitBreakerEvent(reason, details string) (int64, error) {
	id := s.nextID
	s.nextID++
	s.events[id] = false
	return id, nil
}

func (s *memRiskStore) ResolveCircuitBreakerEvent(id int64) error {
	s.events[id] = true
	return nil
}

func riskSignal(symbol string, dir signal.Direction) *signal.Signal {
	s := signal.NewSignal(symbol, "1h")
	s.Confidence = 0.85
	s.Direction = dir
	s.EntryPrice = 100
	s.StopLoss = 95
	s.TakeProfit1 = 110
	if dir == signal.DirectionShort {
		s.StopLoss = 105
		s.TakeProfit1 = 90
	}
	return s
}

func portfolioWith(positions ...OpenPosition) *PortfolioState {
	return &PortfolioState{
		BrokerID:         "binance",
		TotalEquity:      10000,
		AvailableBalance: 10000,
		PeakEquity:       10000,
		OpenPositions:    positions,
	}
}

func pos(orderID, symbol string, dir signal.Direction) OpenPosition {
	return OpenPosition{
		OrderID:           orderID,
		Symbol:            symbol,
		Direction:         dir,
		RemainingQuantity: 1,
		EntryPrice:        100,
	}
}

func newTestManager() (*Manager, *memRiskStore) {
	cfg := DefaultConfig()
	cfg.DefaultLimits.MaxOpenPositions = 6 // 方向上限测试需要容纳 4+ 持仓
	cfg.DefaultLimits.MaxCorrelatedExposure = 5
	cfg.StartingEquity["binance"] = 10000
	store := newMemRiskStore()
	return NewManager(cfg, store, nil), store
}

func TestCheckEntryApprovesCleanSignal(t *testing.T) {
	m, _ := newTestManager()
	result := m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), portfolioWith())
	assert.True(t, result.Approved, result.Reason)
}

func TestCheckEntryConfidenceFloor(t *testing.T) {
	m, _ := newTestManager()
	sig := riskSignal("BTC/USDT", signal.DirectionLong)
	sig.Confidence = 0.65

	result := m.CheckEntry(sig, portfolioWith())
	assert.False(t, result.Approved)
}

func TestCheckEntryDuplicateSymbolSameDirection(t *testing.T) {
	m, _ := newTestManager()
	p := portfolioWith(pos("o1", "BTC/USDT", signal.DirectionLong))

	result := m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), p)
	assert.False(t, result.Approved)
}

func TestCheckEntryOppositeDirectionIsReversal(t *testing.T) {
	m, _ := newTestManager()
	p := portfolioWith(pos("o1", "BTC/USDT", signal.DirectionLong))

	result := m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionShort), p)
	assert.True(t, result.Approved)
	assert.Equal(t, "o1", result.ReversalOrderID)
	assert.Contains(t, result.Reason, "REVERSAL:o1")
}

func TestCheckEntryMaxOpenPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimits.MaxOpenPositions = 2
	cfg.StartingEquity["binance"] = 10000
	m := NewManager(cfg, newMemRiskStore(), nil)

	p := portfolioWith(
		pos("o1", "BTC/USDT", signal.DirectionLong),
		pos("o2", "SOL/USDT", signal.DirectionShort),
	)
	result := m.CheckEntry(riskSignal("ETH/USDT", signal.DirectionLong), p)
	assert.False(t, result.Approved)
}

func TestCheckEntryDirectionalCap(t *testing.T) {
	m, _ := newTestManager()

	// 3 个同向持仓: 第 4 个同向会把占比推到 4/4=100% > 70%
	p := portfolioWith(
		pos("o1", "BTC/USDT", signal.DirectionLong),
		pos("o2", "ETH/USDT", signal.DirectionLong),
		pos("o3", "SOL/USDT", signal.DirectionLong),
	)
	rejected := m.CheckEntry(riskSignal("XRP/USDT", signal.DirectionLong), p)
	assert.False(t, rejected.Approved)
	assert.Contains(t, rejected.Reason, "方向敞口上限")

	// 反方向把占比拉向均衡，必须放行
	accepted := m.CheckEntry(riskSignal("XRP/USDT", signal.DirectionShort), p)
	assert.True(t, accepted.Approved, accepted.Reason)
}

func TestCheckEntryCorrelatedExposure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimits.MaxOpenPositions = 6
	cfg.DefaultLimits.MaxCorrelatedExposure = 2
	cfg.DirectionalCapPct = 100 // 本用例只测相关性
	cfg.StartingEquity["binance"] = 10000
	m := NewManager(cfg, newMemRiskStore(), nil)

	p := portfolioWith(
		pos("o1", "BTC/USDT", signal.DirectionLong),
		pos("o2", "ETH/USDT", signal.DirectionLong),
	)
	result := m.CheckEntry(riskSignal("SOL/USDT", signal.DirectionLong), p)
	assert.False(t, result.Approved)
	assert.Contains(t, result.Reason, "相关性限制")
}

func TestCalculateSizeRiskBased(t *testing.T) {
	m, _ := newTestManager()
	// 10000 × 2% / 5 = 40
	qty := m.CalculateSize(riskSignal("BTC/USDT", signal.DirectionLong), portfolioWith())
	assert.InDelta(t, 40.0, qty, 1e-9)
}

func TestCalculateSizeNotionalClamp(t *testing.T) {
	m, _ := newTestManager()
	sig := riskSignal("BTC/USDT", signal.DirectionLong)
	sig.StopLoss = 99.5 // 距离 0.5 → 距离法给出 400

	qty := m.CalculateSize(sig, portfolioWith())
	// 名义价值恰好封在 50%: 50 × 100 = 5000 = 10000 × 50%
	assert.InDelta(t, 50.0, qty, 1e-9)
	assert.InDelta(t, 5000.0, qty*sig.EntryPrice, 1e-6)
}

func TestCalculateSizeZeroStopDistance(t *testing.T) {
	m, _ := newTestManager()
	sig := riskSignal("BTC/USDT", signal.DirectionLong)
	sig.StopLoss = sig.EntryPrice
	assert.Zero(t, m.CalculateSize(sig, portfolioWith()))
}

func TestDailyLossBreakerTripsAndBlocks(t *testing.T) {
	m, _ := newTestManager()

	p := portfolioWith()
	p.DailyPnL = -600 // 6% 亏损，超过 5% 阈值
	require.True(t, m.CheckCircuitBreakers(p))
	assert.True(t, m.BreakerActive())

	// 熔断期间任何开仓都被拒绝，即使组合自身已经恢复
	recovered := portfolioWith()
	result := m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), recovered)
	assert.False(t, result.Approved)

	m.ResetDailyBreaker()
	assert.False(t, m.BreakerActive())
	result = m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), recovered)
	assert.True(t, result.Approved, result.Reason)
}

func TestDrawdownBreakerNeedsExplicitReset(t *testing.T) {
	m, _ := newTestManager()

	p := portfolioWith()
	p.TotalEquity = 8000
	p.PeakEquity = 10000 // 20% 回撤 > 15%
	require.True(t, m.CheckCircuitBreakers(p))

	result := m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), portfolioWith())
	assert.False(t, result.Approved)

	m.ResetDrawdownBreaker()
	result = m.CheckEntry(riskSignal("BTC/USDT", signal.DirectionLong), portfolioWith())
	assert.True(t, result.Approved, result.Reason)
}

func TestBreakerEventPersisted(t *testing.T) {
	m, store := newTestManager()

	p := portfolioWith()
	p.DailyPnL = -600
	require.True(t, m.CheckCircuitBreakers(p))
	assert.Len(t, store.events, 1)

	m.ResetDailyBreaker()
	for _, resolved := range store.events {
		assert.True(t, resolved, "breaker event must be resolved on reset")
	}
}

func TestAllowReversalClose(t *testing.T) {
	m, _ := newTestManager()

	fresh := &OpenPosition{OrderID: "o1", TPStage: 0, PnL: 0}
	assert.True(t, m.AllowReversalClose(fresh))

	losing := &OpenPosition{OrderID: "o2", TPStage: 0, PnL: -25}
	assert.True(t, m.AllowReversalClose(losing))

	afterTP1 := &OpenPosition{OrderID: "o3", TPStage: 1, PnL: 10}
	assert.False(t, m.AllowReversalClose(afterTP1), "partially profit-taken position is protected")

	inProfit := &OpenPosition{OrderID: "o4", TPStage: 0, PnL: 5}
	assert.False(t, m.AllowReversalClose(inProfit), "profitable position is protected")
}

func TestBuildPortfolioDerivesEquity(t *testing.T) {
	m, store := newTestManager()
	store.cumPnL["binance"] = 250
	store.peak["binance"] = 10400

	p, err := m.BuildPortfolio("binance", nil)
	require.NoError(t, err)
	assert.Equal(t, "binance", p.BrokerID)
	assert.InDelta(t, 10250.0, p.TotalEquity, 1e-9)
	assert.InDelta(t, 10400.0, p.PeakEquity, 1e-9)
}

func TestPerBrokerIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultLimits.MaxOpenPositions = 2
	cfg.StartingEquity["binance"] = 10000
	cfg.StartingEquity["oanda"] = 10000
	m := NewManager(cfg, newMemRiskStore(), nil)

	// binance 已满仓，oanda 的组合不受影响
	binance := portfolioWith(
		pos("o1", "BTC/USDT", signal.DirectionLong),
		pos("o2", "ETH/USDT", signal.DirectionShort),
	)
	rejected := m.CheckEntry(riskSignal("SOL/USDT", signal.DirectionLong), binance)
	assert.False(t, rejected.Approved)

	oanda := &PortfolioState{
		BrokerID:         "oanda",
		TotalEquity:      10000,
		AvailableBalance: 10000,
		PeakEquity:       10000,
	}
	fx := riskSignal("EUR_USD", signal.DirectionLong)
	accepted := m.CheckEntry(fx, oanda)
	assert.True(t, accepted.Approved, accepted.Reason)
}
