package market

import (
	"math"
	"time"
)

// Candle 单根K线
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorSet 某个 symbol/timeframe 的全部已计算指标
// 指标在预热期内没有值，用 NaN 占位（对齐K线下标）
type IndicatorSet struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time

	RSI       []float64
	MACDLine  []float64
	MACDSig   []float64
	MACDHist  []float64
	ATR       []float64
	ADX       []float64
	EMAShort  []float64
	EMAMedium []float64
	EMALong   []float64
	VolumeSMA []float64

	// K线形态检测结果: 形态名 -> 每根K线的值 (+100=看涨, -100=看跌, 0=无)
	CandlePatterns map[string][]float64

	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

// LastValid 返回序列中最后一个非 NaN 值，没有则返回 NaN
func LastValid(arr []float64) float64 {
	for i := len(arr) - 1; i >= 0; i-- {
		if !math.IsNaN(arr[i]) {
			return arr[i]
		}
	}
	return math.NaN()
}

// ValidValues 过滤掉序列中的 NaN
func ValidValues(arr []float64) []float64 {
	out := make([]float64, 0, len(arr))
	for _, v := range arr {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
