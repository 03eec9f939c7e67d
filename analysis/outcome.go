package analysis

import (
	"time"

	"riptide/broker"
	"riptide/market"
	"riptide/pkg/logger"
	"riptide/signal"

	"go.uber.org/zap"
)

// Verdict 信号结果判定
const (
	VerdictPending   = "pending"
	VerdictCorrect   = "correct"
	VerdictPartial   = "partial"
	VerdictIncorrect = "incorrect"
)

// Outcome 单个已验证信号的事后跟踪记录
// 入场后 1h/4h/12h/24h 各记一次检查点价格，24h 满时敲定判定
type Outcome struct {
	ID         int64            `json:"id"`
	SignalID   string           `json:"signal_id"`
	Symbol     string           `json:"symbol"`
	Timeframe  string           `json:"timeframe"`
	Direction  signal.Direction `json:"direction"`
	EntryPrice float64          `json:"entry_price"`
	StopLoss   float64          `json:"stop_loss"`
	TP1        float64          `json:"tp1"`
	TP2        float64          `json:"tp2"`

	// 检查点价格，未到时间为 nil
	Price1h  *float64 `json:"price_1h"`
	Price4h  *float64 `json:"price_4h"`
	Price12h *float64 `json:"price_12h"`
	Price24h *float64 `json:"price_24h"`

	// MFE/MAE 以入场价为基准的最大有利/不利偏移（百分比）
	MFE float64 `json:"mfe"`
	MAE float64 `json:"mae"`

	TP1Hit bool `json:"tp1_hit"`
	TP2Hit bool `json:"tp2_hit"`
	SLHit  bool `json:"sl_hit"`

	Verdict    string     `json:"verdict"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// Store 结果跟踪的持久化依赖
type Store interface {
	// SignalsWithoutOutcome 已验证但尚未建立跟踪记录的信号
	SignalsWithoutOutcome() ([]*signal.Signal, error)
	CreateOutcome(o *Outcome) (int64, error)
	UnresolvedOutcomes() ([]*Outcome, error)
	UpdateOutcome(o *Outcome) error
}

// Tracker 信号结果跟踪器
// 与订单生命周期无关: 即使信号没有成交，也跟踪它的市场走向，
// 为上游智能层的准确率统计提供原始数据
type Tracker struct {
	store  Store
	router *broker.Router
	log    *zap.Logger
}

// NewTracker 创建结果跟踪器
func NewTracker(store Store, router *broker.Router) *Tracker {
	return &Tracker{
		store:  store,
		router: router,
		log:    logger.NewModuleLogger("analysis.outcome"),
	}
}

// Evaluate 执行一轮结果跟踪: 建立新记录 + 推进未解决的记录
func (t *Tracker) Evaluate() {
	t.adoptNewSignals()

	outcomes, err := t.store.UnresolvedOutcomes()
	if err != nil {
		t.log.Error("查询未解决结果失败", zap.Error(err))
		return
	}
	for _, o := range outcomes {
		if err := t.evaluateOne(o); err != nil {
			t.log.Warn("结果评估失败",
				zap.String("signal_id", o.SignalID), zap.Error(err))
		}
	}
}

func (t *Tracker) adoptNewSignals() {
	sigs, err := t.store.SignalsWithoutOutcome()
	if err != nil {
		t.log.Error("查询待跟踪信号失败", zap.Error(err))
		return
	}
	for _, s := range sigs {
		o := &Outcome{
			SignalID:   s.ID,
			Symbol:     s.Symbol,
			Timeframe:  s.Timeframe,
			Direction:  s.Direction,
			EntryPrice: s.EntryPrice,
			StopLoss:   s.StopLoss,
			TP1:        s.TakeProfit1,
			TP2:        s.TakeProfit2,
			Verdict:    VerdictPending,
			CreatedAt:  s.CreatedAt,
		}
		id, err := t.store.CreateOutcome(o)
		if err != nil {
			t.log.Warn("结果记录创建失败", zap.String("signal_id", s.ID), zap.Error(err))
			continue
		}
		o.ID = id
	}
}

func (t *Tracker) evaluateOne(o *Outcome) error {
	b, err := t.router.GetBroker(o.Symbol)
	if err != nil {
		return err
	}

	// 用 1h K线重建入场以来的行情轨迹
	candles, err := b.FetchOHLCV(o.Symbol, "1h", 48)
	if err != nil {
		return err
	}

	filtered := candles[:0:0]
	for _, c := range candles {
		if !c.Timestamp.Before(o.CreatedAt) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	UpdateExcursions(o, filtered)
	t.recordCheckpoints(o, filtered)

	elapsed := time.Since(o.CreatedAt)
	o.Verdict = ResolveVerdict(o, elapsed, filtered[len(filtered)-1].Close)

	if elapsed >= 24*time.Hour && !o.Resolved {
		o.Resolved = true
		now := time.Now().UTC()
		o.ResolvedAt = &now
		t.log.Info("🧾 信号结果已敲定",
			zap.String("symbol", o.Symbol),
			zap.String("verdict", o.Verdict),
			zap.Float64("mfe", o.MFE),
			zap.Float64("mae", o.MAE))
	}

	return t.store.UpdateOutcome(o)
}

// UpdateExcursions 用入场以来的K线更新 MFE/MAE 与 TP/SL 触及标记
func UpdateExcursions(o *Outcome, candles []market.Candle) {
	for _, c := range candles {
		var favorable, adverse float64
		if o.Direction == signal.DirectionLong {
			favorable = (c.High - o.EntryPrice) / o.EntryPrice * 100
			adverse = (c.Low - o.EntryPrice) / o.EntryPrice * 100
			if c.High >= o.TP1 {
				o.TP1Hit = true
			}
			if c.High >= o.TP2 {
				o.TP2Hit = true
			}
			if c.Low <= o.StopLoss {
				o.SLHit = true
			}
		} else {
			favorable = (o.EntryPrice - c.Low) / o.EntryPrice * 100
			adverse = (o.EntryPrice - c.High) / o.EntryPrice * 100
			if c.Low <= o.TP1 {
				o.TP1Hit = true
			}
			if c.Low <= o.TP2 {
				o.TP2Hit = true
			}
			if c.High >= o.StopLoss {
				o.SLHit = true
			}
		}
		if favorable > o.MFE {
			o.MFE = favorable
		}
		if adverse < o.MAE {
			o.MAE = adverse
		}
	}
}

func (t *Tracker) recordCheckpoints(o *Outcome, candles []market.Candle) {
	checkpoints := []struct {
		after time.Duration
		slot  **float64
	}{
		{1 * time.Hour, &o.Price1h},
		{4 * time.Hour, &o.Price4h},
		{12 * time.Hour, &o.Price12h},
		{24 * time.Hour, &o.Price24h},
	}
	for _, cp := range checkpoints {
		if *cp.slot != nil {
			continue
		}
		deadline := o.CreatedAt.Add(cp.after)
		for _, c := range candles {
			if !c.Timestamp.Before(deadline) {
				price := c.Close
				*cp.slot = &price
				break
			}
		}
	}
}

// ResolveVerdict 按触及情况判定信号结果
// TP2 到达即 correct；只到 TP1 为 partial；先打止损为 incorrect；
// 24h 内都没碰到任何价位时按收盘价相对入场价的方向判定
func ResolveVerdict(o *Outcome, elapsed time.Duration, lastClose float64) string {
	switch {
	case o.TP2Hit:
		return VerdictCorrect
	case o.SLHit && !o.TP1Hit:
		return VerdictIncorrect
	case o.TP1Hit:
		return VerdictPartial
	}
	if elapsed < 24*time.Hour {
		return VerdictPending
	}
	favorable := lastClose > o.EntryPrice
	if o.Direction == signal.DirectionShort {
		favorable = lastClose < o.EntryPrice
	}
	if favorable {
		return VerdictCorrect
	}
	return VerdictIncorrect
}
