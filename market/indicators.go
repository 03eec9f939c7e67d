package market

import "math"

// CalculateRSI 计算相对强弱指数 (Wilder's RSI)
// data: 价格序列 (按时间顺序，最新的在最后)
// period: 周期 (通常为 14)
func CalculateRSI(data []float64, period int) float64 {
	if len(data) < period+1 {
		return 0
	}

	var gains, losses float64

	// 1. 计算初始平均值 (SMA)
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// 2. 计算后续值的平滑平均 (Wilder's Smoothing)
	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var currentGain, currentLoss float64
		if diff > 0 {
			currentGain = diff
		} else {
			currentLoss = -diff
		}

		avgGain = ((avgGain * float64(period-1)) + currentGain) / float64(period)
		avgLoss = ((avgLoss * float64(period-1)) + currentLoss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateRSISeries 计算整条 RSI 序列（预热期为 NaN，下标与输入对齐）
func CalculateRSISeries(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if len(data) < period+1 {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var g, l float64
		if diff > 0 {
			g = diff
		} else {
			l = -diff
		}
		avgGain = ((avgGain * float64(period-1)) + g) / float64(period)
		avgLoss = ((avgLoss * float64(period-1)) + l) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateEMA 计算指数移动平均
func CalculateEMA(data []float64, period int) []float64 {
	if len(data) == 0 {
		return nil
	}

	ema := make([]float64, len(data))
	k := 2.0 / float64(period+1)

	// 初始EMA通常使用SMA
	sum := 0.0
	if len(data) < period {
		return nil
	}

	for i := 0; i < period; i++ {
		sum += data[i]
		ema[i] = math.NaN()
	}
	ema[period-1] = sum / float64(period)

	// 计算后续EMA
	for i := period; i < len(data); i++ {
		ema[i] = (data[i] * k) + (ema[i-1] * (1 - k))
	}

	return ema
}

// CalculateMACD 计算 MACD (12, 26, 9)
// 返回最新的 macdLine, signalLine, histogram
func CalculateMACD(data []float64) (float64, float64, float64) {
	if len(data) < 26 {
		return 0, 0, 0
	}

	ema12 := CalculateEMA(data, 12)
	ema26 := CalculateEMA(data, 26)

	// MACD Line = EMA12 - EMA26
	macdLine := make([]float64, len(data))
	for i := 26; i < len(data); i++ {
		macdLine[i] = ema12[i] - ema26[i]
	}

	// Signal Line = EMA9 of MACD Line
	validMacd := macdLine[26:]
	signalLineVals := CalculateEMA(validMacd, 9)

	if len(signalLineVals) == 0 {
		return 0, 0, 0
	}

	lastIdx := len(data) - 1
	validLastIdx := len(signalLineVals) - 1

	currMacd := macdLine[lastIdx]
	currSignal := signalLineVals[validLastIdx]
	currHist := currMacd - currSignal

	return currMacd, currSignal, currHist
}

// CalculateATR 计算平均真实波幅 (Wilder)，返回整条序列
func CalculateATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < period+1 || len(highs) != n || len(lows) != n {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr

	for i := period + 1; i < n; i++ {
		atr = ((atr * float64(period-1)) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// CalculateADX 计算平均趋向指数 (Wilder)，返回整条序列
func CalculateADX(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < 2*period+1 || len(highs) != n || len(lows) != n {
		return out
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	// Wilder 平滑
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := make([]float64, n)
	computeDX := func(i int) float64 {
		if smTR == 0 {
			return 0
		}
		pdi := 100 * smPlus / smTR
		mdi := 100 * smMinus / smTR
		if pdi+mdi == 0 {
			return 0
		}
		return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}
	dx[period] = computeDX(period)

	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = computeDX(i)
	}

	// ADX = DX 的 Wilder 平滑
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx := sum / float64(period)
	out[2*period-1] = adx
	for i := 2 * period; i < n; i++ {
		adx = ((adx * float64(period-1)) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out
}

// CalculateSMA 计算简单移动平均，返回整条序列（用于成交量均线）
func CalculateSMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if len(data) < period || period <= 0 {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(data); i++ {
		sum += data[i] - data[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

// DetectCandlePatterns 检测反转K线形态
// 返回 形态名 -> 序列 (+100=看涨形态, -100=看跌形态, 0=无)，对齐 TA-Lib 的取值习惯
func DetectCandlePatterns(candles []Candle) map[string][]float64 {
	n := len(candles)
	patterns := map[string][]float64{
		"hammer":       make([]float64, n),
		"shooting_star": make([]float64, n),
		"engulfing":    make([]float64, n),
	}
	if n == 0 {
		return patterns
	}

	for i := 0; i < n; i++ {
		c := candles[i]
		body := math.Abs(c.Close - c.Open)
		upper := c.High - math.Max(c.Open, c.Close)
		lower := math.Min(c.Open, c.Close) - c.Low
		total := c.High - c.Low
		if total <= 0 {
			continue
		}

		// 锤子线: 下影线至少为实体2倍，上影线不超过全幅的10%
		if body > 0 && lower >= 2*body && upper <= total*0.1 {
			patterns["hammer"][i] = 100
		}
		// 射击之星: 上影线至少为实体2倍，下影线不超过全幅的10%
		if body > 0 && upper >= 2*body && lower <= total*0.1 {
			patterns["shooting_star"][i] = -100
		}
		// 吞没形态: 当前实体完全覆盖前一根实体且方向相反
		if i > 0 {
			prev := candles[i-1]
			prevBody := math.Abs(prev.Close - prev.Open)
			if prevBody > 0 {
				bullish := c.Close > c.Open && prev.Close < prev.Open &&
					c.Close >= prev.Open && c.Open <= prev.Close
				bearish := c.Close < c.Open && prev.Close > prev.Open &&
					c.Open >= prev.Close && c.Close <= prev.Open
				if bullish {
					patterns["engulfing"][i] = 100
				} else if bearish {
					patterns["engulfing"][i] = -100
				}
			}
		}
	}
	return patterns
}

// ComputeDefaultIndicators 用常用周期参数计算指标 (RSI/ATR/ADX 14, EMA 9/21/50, 量均 20)
func ComputeDefaultIndicators(candles []Candle, symbol, timeframe string) *IndicatorSet {
	return ComputeIndicators(candles, symbol, timeframe, 14, 14, 14, 9, 21, 50, 20)
}

// ComputeIndicators 从K线计算 Validator 需要的全部指标
func ComputeIndicators(candles []Candle, symbol, timeframe string, rsiPeriod, atrPeriod, adxPeriod, emaShort, emaMedium, emaLong, volSMAPeriod int) *IndicatorSet {
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	set := &IndicatorSet{
		Symbol:         symbol,
		Timeframe:      timeframe,
		RSI:            CalculateRSISeries(closes, rsiPeriod),
		ATR:            CalculateATR(highs, lows, closes, atrPeriod),
		ADX:            CalculateADX(highs, lows, closes, adxPeriod),
		EMAShort:       CalculateEMA(closes, emaShort),
		EMAMedium:      CalculateEMA(closes, emaMedium),
		EMALong:        CalculateEMA(closes, emaLong),
		VolumeSMA:      CalculateSMA(volumes, volSMAPeriod),
		CandlePatterns: DetectCandlePatterns(candles),
		Closes:         closes,
		Highs:          highs,
		Lows:           lows,
		Volumes:        volumes,
	}
	if n > 0 {
		set.Timestamp = candles[n-1].Timestamp
	}

	// MACD 只保留最新值有意义，这里保存整条线用于展示
	macd, sig, hist := CalculateMACD(closes)
	set.MACDLine = []float64{macd}
	set.MACDSig = []float64{sig}
	set.MACDHist = []float64{hist}

	return set
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
