package signal

import (
	"time"

	"github.com/google/uuid"
)

// Direction 信号方向
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// DivergenceType 背离类型
type DivergenceType string

const (
	BullishRegular DivergenceType = "bullish_regular"
	BearishRegular DivergenceType = "bearish_regular"
	BullishHidden  DivergenceType = "bullish_hidden"
	BearishHidden  DivergenceType = "bearish_hidden"
)

// Signal 上游智能层产出的候选交易信号
// 持久化后不可变，只有 Validated/ValidationReason 由 Validator 回写
type Signal struct {
	ID                   string         `json:"id"`
	Symbol               string         `json:"symbol"`
	Timeframe            string         `json:"timeframe"`
	DivergenceDetected   bool           `json:"divergence_detected"`
	DivergenceType       DivergenceType `json:"divergence_type,omitempty"`
	Indicator            string         `json:"indicator,omitempty"`
	Confidence           float64        `json:"confidence" validate:"gte=0,lte=1"`
	Direction            Direction      `json:"direction,omitempty"`
	EntryPrice           float64        `json:"entry_price,omitempty"`
	StopLoss             float64        `json:"stop_loss,omitempty"`
	TakeProfit1          float64        `json:"take_profit_1,omitempty"`
	TakeProfit2          float64        `json:"take_profit_2,omitempty"`
	TakeProfit3          float64        `json:"take_profit_3,omitempty"`
	SwingLengthBars      int            `json:"swing_length_bars,omitempty"`
	DivergenceMagnitude  float64        `json:"divergence_magnitude,omitempty"`
	ConfirmingIndicators []string       `json:"confirming_indicators,omitempty"`
	Reasoning            string         `json:"reasoning,omitempty"`
	BrokerID             string         `json:"broker_id,omitempty"`
	Validated            bool           `json:"validated"`
	ValidationReason     string         `json:"validation_reason,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// NewSignal 创建带ID和时间戳的信号
func NewSignal(symbol, timeframe string) *Signal {
	return &Signal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Timeframe: timeframe,
		CreatedAt: time.Now().UTC(),
	}
}

// ValidationResult 确定性校验结果
// FailedRule 为首个失败规则的序号 (1-15)，通过时为 0
type ValidationResult struct {
	Passed     bool   `json:"passed"`
	FailedRule int    `json:"failed_rule,omitempty"`
	Reason     string `json:"reason"`
}
