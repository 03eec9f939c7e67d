package trader

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riptide/broker"
	"riptide/risk"
	"riptide/signal"
)

// fakeStore 内存版持久化，trader 包测试共用
type fakeStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	signals  []*signal.Signal
	failFill bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]*Order)}
}

func cloneOrder(o *Order) *Order {
	c := *o
	return &c
}

func (f *fakeStore) CreateSignal(sig *signal.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeStore) CreateOrder(o *Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = cloneOrder(o)
	return nil
}

func (f *fakeStore) RecordFill(orderID string, fillPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFill {
		return errors.New("模拟写入失败")
	}
	o, ok := f.orders[orderID]
	if !ok {
		return errors.New("订单不存在")
	}
	o.FilledPrice = fillPrice
	o.State = StateOpen
	return nil
}

func (f *fakeStore) RecordPartialClose(orderID string, closedQty, pnlDelta, newStop float64, tpStage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errors.New("订单不存在")
	}
	o.PnL += pnlDelta
	o.RemainingQuantity -= closedQty
	o.StopLoss = newStop
	o.TPStage = tpStage
	o.State = StatePartiallyClosed
	return nil
}

func (f *fakeStore) RecordFinalClose(orderID string, exitPrice, pnlDelta float64, state OrderState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errors.New("订单不存在")
	}
	o.PnL += pnlDelta
	o.ExitPrice = exitPrice
	o.RemainingQuantity = 0
	o.State = state
	return nil
}

func (f *fakeStore) UpdateStopLoss(orderID string, newStop float64, trailStage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errors.New("订单不存在")
	}
	o.StopLoss = newStop
	o.TrailStage = trailStage
	return nil
}

func (f *fakeStore) UpdateOrderState(orderID string, state OrderState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errors.New("订单不存在")
	}
	o.State = state
	return nil
}

func (f *fakeStore) ordersByState(brokerID string, states ...OrderState) []*Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Order
	for _, o := range f.orders {
		if o.BrokerID != brokerID {
			continue
		}
		for _, s := range states {
			if o.State == s {
				out = append(out, cloneOrder(o))
				break
			}
		}
	}
	return out
}

func (f *fakeStore) OpenOrders(brokerID string) ([]*Order, error) {
	return f.ordersByState(brokerID, StateOpen, StatePartiallyClosed), nil
}

func (f *fakeStore) PendingOrders(brokerID string) ([]*Order, error) {
	return f.ordersByState(brokerID, StatePending), nil
}

func (f *fakeStore) OrderBySignalID(signalID string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.SignalID == signalID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) OrderByID(orderID string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		return cloneOrder(o), nil
	}
	return nil, nil
}

func (f *fakeStore) get(orderID string) *Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneOrder(f.orders[orderID])
}

// fakeRiskStore 风控持久化的最小桩
type fakeRiskStore struct{}

func (fakeRiskStore) CumulativePnL(string) (float64, error)             { return 0, nil }
func (fakeRiskStore) DailyPnL(string) (float64, int, error)             { return 0, 0, nil }
func (fakeRiskStore) PeakEquity(string) (float64, error)                { return 0, nil }
func (fakeRiskStore) OpenPositions(string) ([]risk.OpenPosition, error) { return nil, nil }
func (fakeRiskStore) InsertCircuitBreakerEvent(string, string) (int64, error) {
	return 1, nil
}
func (fakeRiskStore) ResolveCircuitBreakerEvent(int64) error { return nil }

// failingBroker 所有下单都失败的交易所桩
type failingBroker struct {
	*broker.PaperBroker
}

func (failingBroker) CreateLimitOrder(string, string, float64, float64) (*broker.OrderResult, error) {
	return nil, errors.New("交易所拒绝")
}

func testPortfolio(brokerID string) *risk.PortfolioState {
	return &risk.PortfolioState{
		BrokerID:         brokerID,
		TotalEquity:      10000,
		AvailableBalance: 10000,
		PeakEquity:       10000,
	}
}

func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *broker.PaperBroker, *risk.Manager) {
	t.Helper()
	paper := broker.NewPaperBroker("binance", 10000)
	router := broker.NewRouter(nil)
	router.Register(paper)

	cfg := risk.DefaultConfig()
	cfg.StartingEquity["binance"] = 10000
	riskMgr := risk.NewManager(cfg, fakeRiskStore{}, nil)

	return NewEngine(DefaultEngineConfig(), router, riskMgr, store, nil), paper, riskMgr
}

func TestExecuteSignalOpensOrder(t *testing.T) {
	store := newFakeStore()
	engine, _, _ := newTestEngine(t, store)

	sig := testSignal()
	o, err := engine.ExecuteSignal(sig, testPortfolio("binance"))
	require.NoError(t, err)
	require.NotNil(t, o)

	// 2% 风险 / 5 止损距离 = 40
	assert.InDelta(t, 40.0, o.Quantity, 1e-9)
	assert.Equal(t, StateOpen, o.State, "paper fills immediately")
	assert.Equal(t, sig.EntryPrice, o.FilledPrice)

	stored := store.get(o.ID)
	assert.Equal(t, StateOpen, stored.State)
	assert.Equal(t, sig.EntryPrice, stored.FilledPrice)
}

func TestExecuteSignalIdempotentPerSignal(t *testing.T) {
	store := newFakeStore()
	engine, _, _ := newTestEngine(t, store)

	sig := testSignal()
	first, err := engine.ExecuteSignal(sig, testPortfolio("binance"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := engine.ExecuteSignal(sig, testPortfolio("binance"))
	require.NoError(t, err)
	assert.Nil(t, second, "same signal must not produce a second order")
	assert.Len(t, store.orders, 1)
}

func TestExecuteSignalRiskRejection(t *testing.T) {
	store := newFakeStore()
	engine, _, _ := newTestEngine(t, store)

	sig := testSignal()
	sig.Confidence = 0.5 // 低于交易所最低置信度

	o, err := engine.ExecuteSignal(sig, testPortfolio("binance"))
	require.NoError(t, err, "risk rejection is a structured result, not an error")
	assert.Nil(t, o)
	assert.Empty(t, store.orders)
}

func TestExecuteSignalBrokerDeclineRecordsRejected(t *testing.T) {
	store := newFakeStore()
	paper := broker.NewPaperBroker("binance", 10000)
	router := broker.NewRouter(nil)
	router.Register(failingBroker{paper})

	cfg := risk.DefaultConfig()
	cfg.StartingEquity["binance"] = 10000
	riskMgr := risk.NewManager(cfg, fakeRiskStore{}, nil)
	engine := NewEngine(DefaultEngineConfig(), router, riskMgr, store, nil)

	_, err := engine.ExecuteSignal(testSignal(), testPortfolio("binance"))
	require.Error(t, err)

	require.Len(t, store.orders, 1)
	for _, o := range store.orders {
		assert.Equal(t, StateRejected, o.State)
	}
}

func TestExecuteSignalFillWriteFailureKeepsPending(t *testing.T) {
	store := newFakeStore()
	store.failFill = true
	engine, _, _ := newTestEngine(t, store)

	o, err := engine.ExecuteSignal(testSignal(), testPortfolio("binance"))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, StatePending, o.State, "fill write failure must not advance past PENDING")
	assert.Zero(t, o.FilledPrice)
}

func TestCloseOrderIsIdempotent(t *testing.T) {
	store := newFakeStore()
	engine, _, _ := newTestEngine(t, store)

	o, err := engine.ExecuteSignal(testSignal(), testPortfolio("binance"))
	require.NoError(t, err)

	require.NoError(t, engine.CloseOrder(o, 110, "test"))
	assert.Equal(t, StateClosed, o.State)
	assert.Equal(t, 110.0, o.ExitPrice)
	pnlAfterClose := o.PnL

	// 重复平仓是无操作
	require.NoError(t, engine.CloseOrder(o, 90, "test again"))
	assert.Equal(t, 110.0, o.ExitPrice)
	assert.Equal(t, pnlAfterClose, o.PnL)
}

func TestCancelStaleCancelsTimedOutPending(t *testing.T) {
	store := newFakeStore()
	engine, _, _ := newTestEngine(t, store)
	engine.cfg.FillTimeout = 1 // 1ns, 任何挂单都立即超时

	store.failFill = true // 让订单停留在 PENDING
	o, err := engine.ExecuteSignal(testSignal(), testPortfolio("binance"))
	require.NoError(t, err)
	require.Equal(t, StatePending, o.State)

	cancelled := engine.CancelStale("binance")
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, StateCancelled, store.get(o.ID).State)
}
