package signal

import (
	"fmt"
	"math"

	"riptide/broker"
	"riptide/market"
)

// ATRBounds 止损距离允许的ATR倍数区间
type ATRBounds struct {
	Min float64
	Max float64
}

// ValidatorConfig 校验器配置
// 所有阈值都可配置：纸面交易阶段会持续调整（见 DESIGN.md 的 Open Question），
// 阈值为 0/负值表示对应规则显式跳过，而不是恒真或恒假
type ValidatorConfig struct {
	MinConfidence float64
	MinRiskReward float64

	// 规则6: 振荡器与方向矛盾的极值
	RSIOverbought float64
	RSIOversold   float64

	// 规则7: 按资产类别的ATR倍数区间（crypto 的下限比 forex 宽）
	ATRBounds map[broker.AssetClass]ATRBounds

	// 规则8: 按资产类别的趋势强度下限，缺省的类别跳过该规则
	MinADX map[broker.AssetClass]float64

	// 规则9: 震荡市检测
	RangingADXCeiling  float64
	RangingEMASlopePct float64

	// 规则10: 最少确认振荡器数量 (≤0 跳过)
	MinConfirmingIndicators int

	// 规则11: 按时间周期的最小摆动长度 (缺省周期跳过)
	MinSwingBars map[string]int

	// 规则12: 主振荡器最小背离幅度 (≤0 跳过)
	MinDivergenceMagnitude float64

	// 规则14: 成交量相对均线的下限 (≤0 跳过整条规则)
	VolumeLowThreshold float64

	// 规则15: K线反转形态确认（可独立开关）
	CandleGateEnabled  bool
	CandleGateLookback int
}

// DefaultValidatorConfig 默认校验配置
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinConfidence: 0.7,
		MinRiskReward: 2.0,
		RSIOverbought: 80,
		RSIOversold:   20,
		ATRBounds: map[broker.AssetClass]ATRBounds{
			broker.AssetCrypto: {Min: 1.0, Max: 5.0},
			broker.AssetForex:  {Min: 0.5, Max: 5.0},
		},
		MinADX: map[broker.AssetClass]float64{
			broker.AssetCrypto: 20,
		},
		RangingADXCeiling:       25,
		RangingEMASlopePct:      0.05,
		MinConfirmingIndicators: 2,
		MinSwingBars:            map[string]int{"1h": 5, "4h": 3},
		MinDivergenceMagnitude:  5.0,
		VolumeLowThreshold:      0.5,
		CandleGateEnabled:       false,
		CandleGateLookback:      3,
	}
}

type ruleOutcome int

const (
	rulePass ruleOutcome = iota
	ruleFail
	ruleSkip // 阈值被禁用时显式短路，不参与判定
)

type rule struct {
	index int
	name  string
	eval  func(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string)
}

// rules 固定顺序的规则表，逐条求值，遇到第一条失败立即返回
var rules = []rule{
	{1, "direction", ruleDirection},
	{2, "confidence", ruleConfidence},
	{3, "required_fields", ruleRequiredFields},
	{4, "stop_side", ruleStopSide},
	{5, "risk_reward", ruleRiskReward},
	{6, "oscillator_contradiction", ruleOscillator},
	{7, "atr_stop_distance", ruleATRStopDistance},
	{8, "trend_strength", ruleTrendStrength},
	{9, "ranging_market", ruleRangingMarket},
	{10, "confirming_indicators", ruleConfirming},
	{11, "swing_length", ruleSwingLength},
	{12, "divergence_magnitude", ruleDivergenceMagnitude},
	{13, "zero_volume", ruleZeroVolume},
	{14, "low_volume", ruleLowVolume},
	{15, "candle_gate", ruleCandleGate},
}

// Validate 确定性信号校验：纯函数，无 I/O，首个失败规则即返回
func Validate(s *Signal, indicators *market.IndicatorSet, cfg ValidatorConfig) ValidationResult {
	for _, r := range rules {
		outcome, reason := r.eval(s, indicators, &cfg)
		if outcome == ruleFail {
			return ValidationResult{Passed: false, FailedRule: r.index, Reason: reason}
		}
	}
	return ValidationResult{Passed: true, Reason: "全部校验规则通过"}
}

// 规则1: 必须有方向
func ruleDirection(s *Signal, _ *market.IndicatorSet, _ *ValidatorConfig) (ruleOutcome, string) {
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return ruleFail, "信号缺少方向 (long/short)"
	}
	return rulePass, ""
}

// 规则2: 置信度下限
func ruleConfidence(s *Signal, _ *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.MinConfidence <= 0 {
		return ruleSkip, ""
	}
	if s.Confidence < cfg.MinConfidence {
		return ruleFail, fmt.Sprintf("置信度 %.2f 低于阈值 %.2f", s.Confidence, cfg.MinConfidence)
	}
	return rulePass, ""
}

// 规则3: 必填字段（入场价、止损、TP1）
func ruleRequiredFields(s *Signal, _ *market.IndicatorSet, _ *ValidatorConfig) (ruleOutcome, string) {
	if s.EntryPrice == 0 || s.StopLoss == 0 || s.TakeProfit1 == 0 {
		return ruleFail, "缺少 entry_price、stop_loss 或 take_profit_1"
	}
	return rulePass, ""
}

// 规则4: 止损必须在入场价的正确一侧
func ruleStopSide(s *Signal, _ *market.IndicatorSet, _ *ValidatorConfig) (ruleOutcome, string) {
	if s.Direction == DirectionLong {
		if s.StopLoss >= s.EntryPrice {
			return ruleFail, "做多信号: 止损必须低于入场价"
		}
		if s.TakeProfit1 <= s.EntryPrice {
			return ruleFail, "做多信号: TP1 必须高于入场价"
		}
	} else {
		if s.StopLoss <= s.EntryPrice {
			return ruleFail, "做空信号: 止损必须高于入场价"
		}
		if s.TakeProfit1 >= s.EntryPrice {
			return ruleFail, "做空信号: TP1 必须低于入场价"
		}
	}
	return rulePass, ""
}

// 规则5: 盈亏比下限
func ruleRiskReward(s *Signal, _ *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.MinRiskReward <= 0 {
		return ruleSkip, ""
	}
	risk := math.Abs(s.EntryPrice - s.StopLoss)
	if risk == 0 {
		return ruleFail, "风险距离为零 (entry == stop_loss)"
	}
	reward := math.Abs(s.TakeProfit1 - s.EntryPrice)
	rr := reward / risk
	// 留 0.01 容差，避免浮点边界误杀
	if rr < cfg.MinRiskReward-0.01 {
		return ruleFail, fmt.Sprintf("盈亏比 %.2f 低于最小值 %.2f", rr, cfg.MinRiskReward)
	}
	return rulePass, ""
}

// 规则6: RSI 不能与方向矛盾
func ruleOscillator(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	latestRSI := market.LastValid(ind.RSI)
	if math.IsNaN(latestRSI) {
		return ruleSkip, ""
	}
	if s.Direction == DirectionLong && latestRSI > cfg.RSIOverbought {
		return ruleFail, fmt.Sprintf("做多信号但 RSI=%.1f 极度超买 (>%.0f)", latestRSI, cfg.RSIOverbought)
	}
	if s.Direction == DirectionShort && latestRSI < cfg.RSIOversold {
		return ruleFail, fmt.Sprintf("做空信号但 RSI=%.1f 极度超卖 (<%.0f)", latestRSI, cfg.RSIOversold)
	}
	return rulePass, ""
}

// 规则7: 止损距离必须在资产类别对应的ATR倍数区间内
func ruleATRStopDistance(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	latestATR := market.LastValid(ind.ATR)
	if math.IsNaN(latestATR) || latestATR <= 0 {
		return ruleSkip, ""
	}
	bounds, ok := cfg.ATRBounds[broker.GetAssetClass(s.Symbol)]
	if !ok {
		bounds = ATRBounds{Min: 0.5, Max: 5.0}
	}
	stopDistance := math.Abs(s.EntryPrice - s.StopLoss)
	atrMultiple := stopDistance / latestATR
	if atrMultiple < bounds.Min {
		return ruleFail, fmt.Sprintf("止损太紧: %.1fx ATR (最小 %.1fx)", atrMultiple, bounds.Min)
	}
	if atrMultiple > bounds.Max {
		return ruleFail, fmt.Sprintf("止损太宽: %.1fx ATR (最大 %.1fx)", atrMultiple, bounds.Max)
	}
	return rulePass, ""
}

// 规则8: 趋势强度下限（按资产类别，未配置的类别跳过）
func ruleTrendStrength(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	minADX, ok := cfg.MinADX[broker.GetAssetClass(s.Symbol)]
	if !ok || minADX <= 0 {
		return ruleSkip, ""
	}
	latestADX := market.LastValid(ind.ADX)
	if math.IsNaN(latestADX) {
		return ruleSkip, ""
	}
	if latestADX < minADX {
		return ruleFail, fmt.Sprintf("市场趋势太弱: ADX=%.1f (最小 %.0f)", latestADX, minADX)
	}
	return rulePass, ""
}

// 规则9: 震荡市检测 — ADX 低 + EMA200 走平时背离不可靠
func ruleRangingMarket(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.RangingADXCeiling <= 0 {
		return ruleSkip, ""
	}
	latestADX := market.LastValid(ind.ADX)
	if math.IsNaN(latestADX) || latestADX >= cfg.RangingADXCeiling {
		return rulePass, ""
	}
	emaVals := market.ValidValues(ind.EMALong)
	if len(emaVals) < 10 {
		return ruleSkip, ""
	}
	emaNow := emaVals[len(emaVals)-1]
	ema10Ago := emaVals[len(emaVals)-10]
	if ema10Ago == 0 {
		return ruleSkip, ""
	}
	slopePct := math.Abs(emaNow-ema10Ago) / math.Abs(ema10Ago) * 100
	if slopePct < cfg.RangingEMASlopePct {
		return ruleFail, fmt.Sprintf("震荡市: ADX=%.1f, EMA200 斜率=%.3f%% — 背离不可靠",
			latestADX, slopePct)
	}
	return rulePass, ""
}

// 规则10: 最少确认振荡器数量
func ruleConfirming(s *Signal, _ *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.MinConfirmingIndicators <= 0 {
		return ruleSkip, ""
	}
	if !s.DivergenceDetected || s.ConfirmingIndicators == nil {
		return ruleSkip, ""
	}
	if len(s.ConfirmingIndicators) < cfg.MinConfirmingIndicators {
		return ruleFail, fmt.Sprintf("只有 %d 个确认指标 (最少 %d)",
			len(s.ConfirmingIndicators), cfg.MinConfirmingIndicators)
	}
	return rulePass, ""
}

// 规则11: 按时间周期的最小摆动长度
func ruleSwingLength(s *Signal, _ *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if s.SwingLengthBars <= 0 {
		return ruleSkip, ""
	}
	minBars, ok := cfg.MinSwingBars[s.Timeframe]
	if !ok || minBars <= 0 {
		return ruleSkip, ""
	}
	if s.SwingLengthBars < minBars {
		return ruleFail, fmt.Sprintf("摆动长度 %d 根K线低于 %s 周期最小值 %d",
			s.SwingLengthBars, s.Timeframe, minBars)
	}
	return rulePass, ""
}

// 规则12: 主振荡器最小背离幅度
func ruleDivergenceMagnitude(s *Signal, _ *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.MinDivergenceMagnitude <= 0 {
		return ruleSkip, ""
	}
	if s.DivergenceMagnitude == 0 || s.Indicator != "RSI" {
		return ruleSkip, ""
	}
	if s.DivergenceMagnitude < cfg.MinDivergenceMagnitude {
		return ruleFail, fmt.Sprintf("RSI 背离幅度 %.1f 低于最小值 %.1f",
			s.DivergenceMagnitude, cfg.MinDivergenceMagnitude)
	}
	return rulePass, ""
}

// 规则13: 近零成交量防护（始终生效，与规则14独立）
func ruleZeroVolume(_ *Signal, ind *market.IndicatorSet, _ *ValidatorConfig) (ruleOutcome, string) {
	if len(ind.Volumes) < 3 {
		return ruleSkip, ""
	}
	recent := ind.Volumes[len(ind.Volumes)-3:]
	for _, v := range recent {
		if v == 0 {
			return ruleFail, "最近3根K线出现零成交量"
		}
	}
	volSMA := market.LastValid(ind.VolumeSMA)
	if !math.IsNaN(volSMA) && volSMA > 0 {
		maxRecent := recent[0]
		for _, v := range recent[1:] {
			if v > maxRecent {
				maxRecent = v
			}
		}
		if maxRecent < volSMA*0.01 {
			return ruleFail, fmt.Sprintf("近零成交量: 最近最大 %.2f < 成交量均线 %.2f 的 1%%",
				maxRecent, volSMA)
		}
	}
	return rulePass, ""
}

// 规则14: 成交量相对均线的下限（阈值 ≤0 时显式跳过）
func ruleLowVolume(_ *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if cfg.VolumeLowThreshold <= 0 {
		return ruleSkip, ""
	}
	if len(ind.Volumes) == 0 {
		return ruleSkip, ""
	}
	volSMA := market.LastValid(ind.VolumeSMA)
	if math.IsNaN(volSMA) || volSMA <= 0 {
		return ruleSkip, ""
	}
	currentVol := ind.Volumes[len(ind.Volumes)-1]
	if currentVol < volSMA*cfg.VolumeLowThreshold {
		return ruleFail, fmt.Sprintf("成交量偏低: %.2f < 均线 %.2f 的 %.0f%%",
			currentVol, volSMA, cfg.VolumeLowThreshold*100)
	}
	return rulePass, ""
}

// 规则15: K线反转形态确认（可独立开关）
func ruleCandleGate(s *Signal, ind *market.IndicatorSet, cfg *ValidatorConfig) (ruleOutcome, string) {
	if !cfg.CandleGateEnabled {
		return ruleSkip, ""
	}
	if len(ind.CandlePatterns) == 0 {
		return ruleSkip, ""
	}
	lookback := cfg.CandleGateLookback
	if lookback <= 0 {
		lookback = 3
	}

	found := false
	if s.Direction == DirectionLong {
		// 看涨形态: 锤子线 或 看涨吞没 (+100)
		found = patternInLookback(ind.CandlePatterns["hammer"], lookback, func(v float64) bool { return v > 0 }) ||
			patternInLookback(ind.CandlePatterns["engulfing"], lookback, func(v float64) bool { return v > 0 })
	} else {
		// 看跌形态: 射击之星 或 看跌吞没 (-100)
		found = patternInLookback(ind.CandlePatterns["shooting_star"], lookback, func(v float64) bool { return v < 0 }) ||
			patternInLookback(ind.CandlePatterns["engulfing"], lookback, func(v float64) bool { return v < 0 })
	}

	if !found {
		label := "看涨"
		if s.Direction == DirectionShort {
			label = "看跌"
		}
		return ruleFail, fmt.Sprintf("最近 %d 根K线没有%s反转形态", lookback, label)
	}
	return rulePass, ""
}

func patternInLookback(vals []float64, lookback int, match func(float64) bool) bool {
	if len(vals) == 0 {
		return false
	}
	start := len(vals) - lookback
	if start < 0 {
		start = 0
	}
	for _, v := range vals[start:] {
		if match(v) {
			return true
		}
	}
	return false
}
