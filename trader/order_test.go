package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riptide/signal"
)

func testSignal() *signal.Signal {
	s := signal.NewSignal("BTC/USDT", "1h")
	s.DivergenceDetected = true
	s.Confidence = 0.85
	s.Direction = signal.DirectionLong
	s.EntryPrice = 100
	s.StopLoss = 95
	s.TakeProfit1 = 110
	s.TakeProfit2 = 120
	return s
}

func TestNewOrderStartsPending(t *testing.T) {
	o := NewOrder(testSignal(), "binance", 1.5)

	assert.Equal(t, StatePending, o.State)
	assert.Equal(t, 1.5, o.Quantity)
	assert.Equal(t, 1.5, o.RemainingQuantity)
	assert.Equal(t, o.StopLoss, o.OriginalStopLoss)
	assert.NotEmpty(t, o.ID)
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from, to OrderState
	}{
		{StatePending, StateOpen},
		{StatePending, StateRejected},
		{StatePending, StateCancelled},
		{StateOpen, StatePartiallyClosed},
		{StateOpen, StateClosed},
		{StateOpen, StateCancelled},
		{StatePartiallyClosed, StateClosed},
		{StatePartiallyClosed, StateCancelled},
	}
	for _, tr := range legal {
		assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	illegal := []struct {
		from, to OrderState
	}{
		{StatePending, StatePartiallyClosed},
		{StatePending, StateClosed},
		{StateOpen, StatePending},
		{StateOpen, StateRejected},
		{StatePartiallyClosed, StateOpen},
		{StateClosed, StateOpen},
		{StateClosed, StateClosed},
		{StateCancelled, StateOpen},
		{StateRejected, StatePending},
	}
	for _, tr := range illegal {
		assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	o := NewOrder(testSignal(), "binance", 1)

	err := o.Transition(StateClosed)
	require.Error(t, err)
	assert.Equal(t, StatePending, o.State, "failed transition must not change state")

	require.NoError(t, o.Transition(StateOpen))
	require.NoError(t, o.Transition(StatePartiallyClosed))
	require.NoError(t, o.Transition(StateClosed))
	assert.NotNil(t, o.ClosedAt)

	// 终态之后任何转移都被拒绝
	assert.Error(t, o.Transition(StateOpen))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StateClosed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateOpen.IsTerminal())
	assert.False(t, StatePartiallyClosed.IsTerminal())
}

func TestIsActive(t *testing.T) {
	o := NewOrder(testSignal(), "binance", 1)
	assert.False(t, o.IsActive(), "pending order is not yet a position")

	require.NoError(t, o.Transition(StateOpen))
	assert.True(t, o.IsActive())

	require.NoError(t, o.Transition(StatePartiallyClosed))
	assert.True(t, o.IsActive())

	require.NoError(t, o.Transition(StateClosed))
	assert.False(t, o.IsActive())
}

func TestUnrealizedPnL(t *testing.T) {
	o := NewOrder(testSignal(), "binance", 2)
	require.NoError(t, o.Transition(StateOpen))
	o.FilledPrice = 100

	assert.InDelta(t, 20.0, o.UnrealizedPnL(110), 1e-9)
	assert.InDelta(t, -10.0, o.UnrealizedPnL(95), 1e-9)

	short := testSignal()
	short.Direction = signal.DirectionShort
	short.StopLoss = 105
	short.TakeProfit1 = 90
	so := NewOrder(short, "binance", 2)
	require.NoError(t, so.Transition(StateOpen))
	so.FilledPrice = 100
	assert.InDelta(t, 20.0, so.UnrealizedPnL(90), 1e-9)
}
