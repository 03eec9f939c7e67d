package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 构造一段趋势K线：每根收盘价按 step 递增，带固定振幅
func trendCandles(n int, start, step float64) []Candle {
	candles := make([]Candle, n)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		close := start + float64(i)*step
		candles[i] = Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      close - step,
			High:      close + 1,
			Low:       close - step - 1,
			Close:     close,
			Volume:    100,
		}
	}
	return candles
}

func TestCalculateRSIBounds(t *testing.T) {
	// 单边上涨 RSI 应接近 100
	up := make([]float64, 30)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	assert.Equal(t, 100.0, CalculateRSI(up, 14))

	// 单边下跌 RSI 应接近 0
	down := make([]float64, 30)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	assert.Less(t, CalculateRSI(down, 14), 1.0)

	// 数据不足返回 0
	assert.Equal(t, 0.0, CalculateRSI([]float64{1, 2, 3}, 14))
}

func TestCalculateRSISeriesWarmup(t *testing.T) {
	data := make([]float64, 20)
	for i := range data {
		data[i] = 100 + float64(i%3)
	}
	series := CalculateRSISeries(data, 14)
	require.Len(t, series, 20)
	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(series[i]), "预热期下标 %d 应为 NaN", i)
	}
	for i := 14; i < 20; i++ {
		assert.False(t, math.IsNaN(series[i]))
		assert.GreaterOrEqual(t, series[i], 0.0)
		assert.LessOrEqual(t, series[i], 100.0)
	}
}

func TestCalculateEMAConvergesToConstant(t *testing.T) {
	data := make([]float64, 50)
	for i := range data {
		data[i] = 42
	}
	ema := CalculateEMA(data, 9)
	require.Len(t, ema, 50)
	assert.True(t, math.IsNaN(ema[0]))
	assert.InDelta(t, 42.0, ema[49], 1e-9)

	// 数据不足周期时返回 nil
	assert.Nil(t, CalculateEMA([]float64{1, 2}, 9))
}

func TestCalculateATRConstantRange(t *testing.T) {
	// 每根K线波幅固定为 2，且无跳空，ATR 收敛到 2
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	atr := CalculateATR(highs, lows, closes, 14)
	require.Len(t, atr, n)
	assert.True(t, math.IsNaN(atr[13]))
	assert.InDelta(t, 2.0, atr[n-1], 1e-9)
}

func TestCalculateADXTrendVsChop(t *testing.T) {
	n := 60
	// 强趋势
	highsUp := make([]float64, n)
	lowsUp := make([]float64, n)
	closesUp := make([]float64, n)
	for i := 0; i < n; i++ {
		closesUp[i] = 100 + float64(i)*2
		highsUp[i] = closesUp[i] + 1
		lowsUp[i] = closesUp[i] - 1
	}
	trending := LastValid(CalculateADX(highsUp, lowsUp, closesUp, 14))
	assert.Greater(t, trending, 25.0)

	// 横盘震荡
	highsFlat := make([]float64, n)
	lowsFlat := make([]float64, n)
	closesFlat := make([]float64, n)
	for i := 0; i < n; i++ {
		offset := float64(i%2) - 0.5
		closesFlat[i] = 100 + offset
		highsFlat[i] = closesFlat[i] + 1
		lowsFlat[i] = closesFlat[i] - 1
	}
	choppy := LastValid(CalculateADX(highsFlat, lowsFlat, closesFlat, 14))
	assert.Less(t, choppy, trending)
}

func TestCalculateSMA(t *testing.T) {
	sma := CalculateSMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, sma, 5)
	assert.True(t, math.IsNaN(sma[1]))
	assert.InDelta(t, 2.0, sma[2], 1e-9)
	assert.InDelta(t, 4.0, sma[4], 1e-9)
}

func TestDetectCandlePatterns(t *testing.T) {
	candles := []Candle{
		// 看跌K线，为吞没形态做铺垫
		{Open: 105, High: 106, Low: 99, Close: 100},
		// 看涨吞没：实体完全覆盖前一根
		{Open: 99, High: 107, Low: 98, Close: 106},
		// 锤子线：长下影、短上影
		{Open: 105, High: 105.5, Low: 95, Close: 104},
		// 射击之星：长上影、短下影
		{Open: 104, High: 114, Low: 103.5, Close: 103.8},
		// 下影线超过全幅10%，不再算射击之星
		{Open: 104, High: 114, Low: 102, Close: 103.8},
	}
	patterns := DetectCandlePatterns(candles)

	assert.Equal(t, 100.0, patterns["engulfing"][1])
	assert.Equal(t, 100.0, patterns["hammer"][2])
	assert.Equal(t, -100.0, patterns["shooting_star"][3])
	assert.Equal(t, 0.0, patterns["shooting_star"][4])
	assert.Equal(t, 0.0, patterns["hammer"][4])
	assert.Equal(t, 0.0, patterns["hammer"][0])
}

func TestComputeDefaultIndicators(t *testing.T) {
	candles := trendCandles(120, 100, 0.5)
	set := ComputeDefaultIndicators(candles, "BTC/USDT", "1h")

	assert.Equal(t, "BTC/USDT", set.Symbol)
	assert.Equal(t, "1h", set.Timeframe)
	assert.Equal(t, candles[119].Timestamp, set.Timestamp)
	require.Len(t, set.Closes, 120)

	// 预热完成后所有序列都有有效值
	assert.False(t, math.IsNaN(LastValid(set.RSI)))
	assert.False(t, math.IsNaN(LastValid(set.ATR)))
	assert.False(t, math.IsNaN(LastValid(set.ADX)))
	assert.False(t, math.IsNaN(LastValid(set.EMALong)))
	assert.False(t, math.IsNaN(LastValid(set.VolumeSMA)))
	require.Contains(t, set.CandlePatterns, "engulfing")
}

func TestLastValidAndValidValues(t *testing.T) {
	arr := []float64{math.NaN(), 1, math.NaN(), 3}
	assert.Equal(t, 3.0, LastValid(arr))
	assert.Equal(t, []float64{1, 3}, ValidValues(arr))
	assert.True(t, math.IsNaN(LastValid([]float64{math.NaN()})))
}
