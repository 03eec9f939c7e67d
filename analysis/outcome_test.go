package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"riptide/market"
	"riptide/signal"
)

func longOutcome() *Outcome {
	return &Outcome{
		SignalID:   "sig-1",
		Symbol:     "BTC/USDT",
		Direction:  signal.DirectionLong,
		EntryPrice: 100,
		StopLoss:   95,
		TP1:        110,
		TP2:        120,
		Verdict:    VerdictPending,
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func shortOutcome() *Outcome {
	o := longOutcome()
	o.Direction = signal.DirectionShort
	o.StopLoss = 105
	o.TP1 = 90
	o.TP2 = 80
	return o
}

func TestUpdateExcursionsLong(t *testing.T) {
	o := longOutcome()
	UpdateExcursions(o, []market.Candle{
		{High: 108, Low: 99, Close: 105},
		{High: 112, Low: 104, Close: 111}, // 触及 TP1
		{High: 115, Low: 107, Close: 109},
	})

	assert.True(t, o.TP1Hit)
	assert.False(t, o.TP2Hit)
	assert.False(t, o.SLHit)
	assert.InDelta(t, 15.0, o.MFE, 1e-9) // 最高价 115
	assert.InDelta(t, -1.0, o.MAE, 1e-9) // 最低价 99
}

func TestUpdateExcursionsShortStopHit(t *testing.T) {
	o := shortOutcome()
	UpdateExcursions(o, []market.Candle{
		{High: 103, Low: 97, Close: 98},
		{High: 106, Low: 101, Close: 104}, // 高点扫到止损
	})

	assert.True(t, o.SLHit)
	assert.False(t, o.TP1Hit)
	assert.InDelta(t, 3.0, o.MFE, 1e-9)  // 最低价 97
	assert.InDelta(t, -6.0, o.MAE, 1e-9) // 最高价 106
}

func TestUpdateExcursionsGapThroughBothTargets(t *testing.T) {
	o := longOutcome()
	UpdateExcursions(o, []market.Candle{
		{High: 125, Low: 101, Close: 122},
	})
	assert.True(t, o.TP1Hit)
	assert.True(t, o.TP2Hit)
}

func TestResolveVerdict(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(o *Outcome)
		elapsed   time.Duration
		lastClose float64
		want      string
	}{
		{"TP2到达即correct", func(o *Outcome) { o.TP1Hit = true; o.TP2Hit = true }, 2 * time.Hour, 118, VerdictCorrect},
		{"TP2优先于止损", func(o *Outcome) { o.TP2Hit = true; o.SLHit = true }, 2 * time.Hour, 90, VerdictCorrect},
		{"先打止损为incorrect", func(o *Outcome) { o.SLHit = true }, 2 * time.Hour, 94, VerdictIncorrect},
		{"TP1后回落打止损为partial", func(o *Outcome) { o.TP1Hit = true; o.SLHit = true }, 2 * time.Hour, 94, VerdictPartial},
		{"只到TP1为partial", func(o *Outcome) { o.TP1Hit = true }, 2 * time.Hour, 108, VerdictPartial},
		{"24h内无触及保持pending", func(o *Outcome) {}, 6 * time.Hour, 103, VerdictPending},
		{"24h满按方向判定-有利", func(o *Outcome) {}, 25 * time.Hour, 104, VerdictCorrect},
		{"24h满按方向判定-不利", func(o *Outcome) {}, 25 * time.Hour, 98, VerdictIncorrect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := longOutcome()
			tt.mutate(o)
			assert.Equal(t, tt.want, ResolveVerdict(o, tt.elapsed, tt.lastClose))
		})
	}
}

func TestResolveVerdictShortFallback(t *testing.T) {
	o := shortOutcome()
	// 空头 24h 满，收盘低于入场价即有利
	assert.Equal(t, VerdictCorrect, ResolveVerdict(o, 25*time.Hour, 97))
	assert.Equal(t, VerdictIncorrect, ResolveVerdict(o, 25*time.Hour, 102))
}
