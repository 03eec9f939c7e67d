package broker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssetClass 资产类别（相关性分组、ATR规则按类别生效）
type AssetClass string

const (
	AssetCrypto    AssetClass = "crypto"
	AssetForex     AssetClass = "forex"
	AssetIndex     AssetClass = "index"
	AssetCommodity AssetClass = "commodity"
	AssetBond      AssetClass = "bond"
)

// InstrumentInfo 交易品种元信息
type InstrumentInfo struct {
	Symbol      string     `yaml:"symbol"`
	BrokerID    string     `yaml:"broker"`
	AssetClass  AssetClass `yaml:"asset_class"`
	DisplayName string     `yaml:"display_name"`
	PipSize     float64    `yaml:"pip_size"`
	MinUnits    float64    `yaml:"min_units"`
	FeeRate     float64    `yaml:"fee_rate"`
	BaseCCY     string     `yaml:"base_currency"`
	QuoteCCY    string     `yaml:"quote_currency"`
}

// 内置外汇品种（OANDA 下划线格式）
var forexInstruments = map[string]InstrumentInfo{
	"EUR_USD": {Symbol: "EUR_USD", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "EUR/USD", PipSize: 0.0001, MinUnits: 1, BaseCCY: "EUR", QuoteCCY: "USD"},
	"GBP_USD": {Symbol: "GBP_USD", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "GBP/USD", PipSize: 0.0001, MinUnits: 1, BaseCCY: "GBP", QuoteCCY: "USD"},
	"AUD_USD": {Symbol: "AUD_USD", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "AUD/USD", PipSize: 0.0001, MinUnits: 1, BaseCCY: "AUD", QuoteCCY: "USD"},
	"USD_JPY": {Symbol: "USD_JPY", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "USD/JPY", PipSize: 0.01, MinUnits: 1, BaseCCY: "USD", QuoteCCY: "JPY"},
	"EUR_GBP": {Symbol: "EUR_GBP", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "EUR/GBP", PipSize: 0.0001, MinUnits: 1, BaseCCY: "EUR", QuoteCCY: "GBP"},
	"AUD_NZD": {Symbol: "AUD_NZD", BrokerID: "oanda", AssetClass: AssetForex, DisplayName: "AUD/NZD", PipSize: 0.0001, MinUnits: 1, BaseCCY: "AUD", QuoteCCY: "NZD"},
}

// Registry 品种注册表：symbol -> 品种信息 + 路由
// 每个可交易 symbol 映射到恰好一个 broker
type Registry struct {
	instruments map[string]InstrumentInfo
}

// NewRegistry 创建内置注册表（外汇走 oanda，其余按 crypto 规则走 binance）
func NewRegistry() *Registry {
	instruments := make(map[string]InstrumentInfo, len(forexInstruments))
	for k, v := range forexInstruments {
		instruments[k] = v
	}
	return &Registry{instruments: instruments}
}

// routingFile instruments.yaml 的文件结构
type routingFile struct {
	Instruments []InstrumentInfo `yaml:"instruments"`
}

// LoadRoutingFile 从 YAML 文件追加/覆盖品种路由
func (r *Registry) LoadRoutingFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取路由表失败: %w", err)
	}
	var file routingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析路由表失败: %w", err)
	}
	for _, inst := range file.Instruments {
		if inst.Symbol == "" || inst.BrokerID == "" {
			return fmt.Errorf("路由表条目缺少 symbol 或 broker: %+v", inst)
		}
		r.instruments[inst.Symbol] = inst
	}
	return nil
}

// Get 返回品种元信息，未注册的 crypto symbol 自动生成
func (r *Registry) Get(symbol string) InstrumentInfo {
	if info, ok := r.instruments[symbol]; ok {
		return info
	}

	// 自动生成 crypto 品种（如 "BTC/USDT" 或 "BTCUSDT"）
	base := symbol
	quote := "USDT"
	if parts := strings.Split(symbol, "/"); len(parts) == 2 {
		base = parts[0]
		quote = parts[1]
	}
	return InstrumentInfo{
		Symbol:      symbol,
		BrokerID:    "binance",
		AssetClass:  AssetCrypto,
		DisplayName: symbol,
		PipSize:     0.01,
		FeeRate:     0.001, // 0.1% 单边
		BaseCCY:     base,
		QuoteCCY:    quote,
	}
}

// RouteSymbol 返回 symbol 归属的 broker ID
func (r *Registry) RouteSymbol(symbol string) string {
	return r.Get(symbol).BrokerID
}

// GetAssetClass 返回 symbol 的资产类别
func (r *Registry) GetAssetClass(symbol string) AssetClass {
	return r.Get(symbol).AssetClass
}

// DefaultRegistry 全局默认注册表（Validator 规则按资产类别取阈值时使用）
var DefaultRegistry = NewRegistry()

// GetAssetClass 便捷入口，走默认注册表
func GetAssetClass(symbol string) AssetClass {
	return DefaultRegistry.GetAssetClass(symbol)
}
