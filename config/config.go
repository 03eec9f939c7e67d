package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"riptide/risk"
	"riptide/signal"
	"riptide/trader"
)

// Config 全部运行配置，.env / 环境变量加载
type Config struct {
	// 数据库: SQLite 文件路径或 MySQL DSN（含 "@tcp(" 视为 MySQL）
	DatabaseDSN string `validate:"required"`

	APIPort int `validate:"gt=0,lte=65535"`

	// 交易标的
	Symbols          []string `validate:"required,min=1"`
	EntryTimeframe   string   `validate:"required"`
	ConfirmTimeframe string
	MTFEnabled       bool

	// PaperTrading 真实行情 + 模拟成交
	PaperTrading bool

	BinanceAPIKey    string
	BinanceSecretKey string
	BinanceTestnet   bool

	OandaAPIToken  string
	OandaAccountID string
	OandaPractice  bool

	TelegramToken  string
	TelegramChatID int64

	IntelligenceURL    string `validate:"required,url"`
	IntelligenceAPIKey string

	// 风控
	RiskPerTradePct   float64 `validate:"gt=0,lte=10"`
	MaxNotionalPct    float64 `validate:"gt=0,lte=100"`
	MaxDailyLossPct   float64 `validate:"gt=0,lte=100"`
	MaxDrawdownPct    float64 `validate:"gt=0,lte=100"`
	DirectionalCapPct float64 `validate:"gt=0,lte=100"`
	MaxOpenPositions  int     `validate:"gt=0"`
	StartingEquity    float64 `validate:"gt=0"`

	// 验证器
	MinConfidence    float64 `validate:"gte=0,lte=1"`
	MinRiskReward    float64 `validate:"gt=0"`
	CandleGate       bool
	RoutingFile      string

	// 周期
	AnalysisInterval time.Duration
	MonitorInterval  time.Duration
	OutcomeInterval  time.Duration
}

// Load 加载 .env 并读取环境变量，缺省值与校验一并处理
func Load() (*Config, error) {
	// .env 不存在不算错误，生产环境直接用环境变量
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDSN:      getEnv("DATABASE_DSN", "riptide.db"),
		APIPort:          getEnvInt("API_PORT", 8080),
		Symbols:          splitCSV(getEnv("SYMBOLS", "BTC/USDT,ETH/USDT")),
		EntryTimeframe:   getEnv("ENTRY_TIMEFRAME", "1h"),
		ConfirmTimeframe: getEnv("CONFIRM_TIMEFRAME", "4h"),
		MTFEnabled:       getEnvBool("MTF_ENABLED", false),

		PaperTrading: getEnvBool("PAPER_TRADING", true),

		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecretKey: os.Getenv("BINANCE_SECRET_KEY"),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", false),

		OandaAPIToken:  os.Getenv("OANDA_API_TOKEN"),
		OandaAccountID: os.Getenv("OANDA_ACCOUNT_ID"),
		OandaPractice:  getEnvBool("OANDA_PRACTICE", true),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),

		IntelligenceURL:    getEnv("INTELLIGENCE_URL", "http://localhost:8100"),
		IntelligenceAPIKey: os.Getenv("INTELLIGENCE_API_KEY"),

		RiskPerTradePct:   getEnvFloat("RISK_PER_TRADE_PCT", 2.0),
		MaxNotionalPct:    getEnvFloat("MAX_NOTIONAL_PCT", 50.0),
		MaxDailyLossPct:   getEnvFloat("MAX_DAILY_LOSS_PCT", 5.0),
		MaxDrawdownPct:    getEnvFloat("MAX_DRAWDOWN_PCT", 15.0),
		DirectionalCapPct: getEnvFloat("DIRECTIONAL_CAP_PCT", 70.0),
		MaxOpenPositions:  getEnvInt("MAX_OPEN_POSITIONS", 5),
		StartingEquity:    getEnvFloat("STARTING_EQUITY", 10000),

		MinConfidence: getEnvFloat("MIN_CONFIDENCE", 0.7),
		MinRiskReward: getEnvFloat("MIN_RISK_REWARD", 2.0),
		CandleGate:    getEnvBool("CANDLE_GATE_ENABLED", false),
		RoutingFile:   os.Getenv("ROUTING_FILE"),

		AnalysisInterval: getEnvDuration("ANALYSIS_INTERVAL", 5*time.Minute),
		MonitorInterval:  getEnvDuration("MONITOR_INTERVAL", 2*time.Minute),
		OutcomeInterval:  getEnvDuration("OUTCOME_INTERVAL", 5*time.Minute),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// ValidatorConfig 派生验证器配置
func (c *Config) ValidatorConfig() signal.ValidatorConfig {
	vc := signal.DefaultValidatorConfig()
	vc.MinConfidence = c.MinConfidence
	vc.MinRiskReward = c.MinRiskReward
	vc.CandleGateEnabled = c.CandleGate
	return vc
}

// RiskConfig 派生风控配置
func (c *Config) RiskConfig(brokerIDs []string) risk.Config {
	rc := risk.DefaultConfig()
	rc.RiskPerTradePct = c.RiskPerTradePct
	rc.MaxNotionalPct = c.MaxNotionalPct
	rc.MaxDailyLossPct = c.MaxDailyLossPct
	rc.MaxDrawdownPct = c.MaxDrawdownPct
	rc.DirectionalCapPct = c.DirectionalCapPct
	rc.DefaultLimits.MaxOpenPositions = c.MaxOpenPositions
	rc.DefaultLimits.MinConfidence = c.MinConfidence
	for _, id := range brokerIDs {
		rc.StartingEquity[id] = c.StartingEquity
	}
	return rc
}

// AutoTraderConfig 派生周期编排配置
func (c *Config) AutoTraderConfig() trader.AutoTraderConfig {
	ac := trader.DefaultAutoTraderConfig()
	ac.Symbols = c.Symbols
	ac.EntryTimeframe = c.EntryTimeframe
	ac.ConfirmTimeframe = c.ConfirmTimeframe
	ac.MTFEnabled = c.MTFEnabled
	ac.AnalysisInterval = c.AnalysisInterval
	ac.MonitorInterval = c.MonitorInterval
	ac.OutcomeInterval = c.OutcomeInterval
	return ac
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
