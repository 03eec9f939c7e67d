package intelligence

import (
	"context"
	"fmt"
	"math"
	"time"

	"riptide/market"
	"riptide/pkg/logger"
	"riptide/signal"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config 智能层服务配置
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// TailBars 每次请求携带的最近K线数量
	TailBars int
}

// Client 信号生成协作方的 HTTP 客户端
// 智能层只做分析与推荐，所有下单决策在本地硬规则里完成
type Client struct {
	http *resty.Client
	cfg  Config
	log  *zap.Logger
}

// NewClient 创建智能层客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.TailBars <= 0 {
		cfg.TailBars = 100
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Client{
		http: c,
		cfg:  cfg,
		log:  logger.NewModuleLogger("intelligence"),
	}
}

// analyzeRequest 发送给智能层的行情摘要
type analyzeRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	Closes  []float64 `json:"closes"`
	Highs   []float64 `json:"highs"`
	Lows    []float64 `json:"lows"`
	Volumes []float64 `json:"volumes"`

	RSI        []float64            `json:"rsi"`
	RSILatest  float64              `json:"rsi_latest"`
	MACDLine   []float64            `json:"macd_line"`
	MACDSignal []float64            `json:"macd_signal"`
	MACDHist   []float64            `json:"macd_hist"`
	ATR        float64              `json:"atr"`
	ADX        float64              `json:"adx"`
	EMAShort   float64              `json:"ema_short"`
	EMAMedium  float64              `json:"ema_medium"`
	EMALong    float64              `json:"ema_long"`
	Patterns   map[string][]float64 `json:"candle_patterns,omitempty"`
}

// analyzeResponse 智能层的分析结论
type analyzeResponse struct {
	DivergenceDetected   bool     `json:"divergence_detected"`
	DivergenceType       string   `json:"divergence_type"`
	Indicator            string   `json:"indicator"`
	Confidence           float64  `json:"confidence"`
	Direction            string   `json:"direction"`
	EntryPrice           float64  `json:"entry_price"`
	StopLoss             float64  `json:"stop_loss"`
	TakeProfit1          float64  `json:"take_profit_1"`
	TakeProfit2          float64  `json:"take_profit_2"`
	TakeProfit3          float64  `json:"take_profit_3"`
	SwingLengthBars      int      `json:"swing_length_bars"`
	DivergenceMagnitude  float64  `json:"divergence_magnitude"`
	ConfirmingIndicators []string `json:"confirming_indicators"`
	Reasoning            string   `json:"reasoning"`
}

// Analyze 把指标摘要交给智能层，换回候选信号
// 无背离时返回 nil, nil
func (c *Client) Analyze(ctx context.Context, symbol, timeframe string, ind *market.IndicatorSet) (*signal.Signal, error) {
	req := c.buildRequest(symbol, timeframe, ind)

	var out analyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/analyze")
	if err != nil {
		return nil, fmt.Errorf("智能层请求失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("智能层返回 %d: %s", resp.StatusCode(), resp.String())
	}

	if !out.DivergenceDetected {
		c.log.Debug("无背离信号", zap.String("symbol", symbol), zap.String("timeframe", timeframe))
		return nil, nil
	}

	sig := signal.NewSignal(symbol, timeframe)
	sig.DivergenceDetected = true
	sig.DivergenceType = signal.DivergenceType(out.DivergenceType)
	sig.Indicator = out.Indicator
	sig.Confidence = out.Confidence
	sig.Direction = signal.Direction(out.Direction)
	sig.EntryPrice = out.EntryPrice
	sig.StopLoss = out.StopLoss
	sig.TakeProfit1 = out.TakeProfit1
	sig.TakeProfit2 = out.TakeProfit2
	sig.TakeProfit3 = out.TakeProfit3
	sig.SwingLengthBars = out.SwingLengthBars
	sig.DivergenceMagnitude = out.DivergenceMagnitude
	sig.ConfirmingIndicators = out.ConfirmingIndicators
	sig.Reasoning = out.Reasoning

	c.log.Info("🔮 收到候选信号",
		zap.String("symbol", symbol),
		zap.String("direction", out.Direction),
		zap.Float64("confidence", out.Confidence))
	return sig, nil
}

func (c *Client) buildRequest(symbol, timeframe string, ind *market.IndicatorSet) analyzeRequest {
	return analyzeRequest{
		Symbol:    symbol,
		Timeframe: timeframe,
		Closes:    tail(ind.Closes, c.cfg.TailBars),
		Highs:     tail(ind.Highs, c.cfg.TailBars),
		Lows:      tail(ind.Lows, c.cfg.TailBars),
		Volumes:   tail(ind.Volumes, c.cfg.TailBars),
		RSI:        cleanTail(ind.RSI, c.cfg.TailBars),
		RSILatest:  market.CalculateRSI(ind.Closes, 14),
		MACDLine:   cleanTail(ind.MACDLine, c.cfg.TailBars),
		MACDSignal: cleanTail(ind.MACDSig, c.cfg.TailBars),
		MACDHist:   cleanTail(ind.MACDHist, c.cfg.TailBars),
		ATR:        cleanScalar(market.LastValid(ind.ATR)),
		ADX:        cleanScalar(market.LastValid(ind.ADX)),
		EMAShort:   cleanScalar(market.LastValid(ind.EMAShort)),
		EMAMedium:  cleanScalar(market.LastValid(ind.EMAMedium)),
		EMALong:    cleanScalar(market.LastValid(ind.EMALong)),
		Patterns:   ind.CandlePatterns,
	}
}

// cleanScalar 序列全是预热 NaN 时 LastValid 返回 NaN，JSON 不允许
func cleanScalar(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// cleanTail 截尾并把 NaN 预热段替换为 0，JSON 不允许 NaN
func cleanTail(xs []float64, n int) []float64 {
	t := tail(xs, n)
	out := make([]float64, len(t))
	for i, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
			continue
		}
		out[i] = v
	}
	return out
}
