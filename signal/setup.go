package signal

import (
	"sync"
	"time"

	"riptide/pkg/logger"

	"go.uber.org/zap"
)

// Setup 等待低周期确认的高周期信号
// 24小时内未被确认即过期；确认后被消费，不可复用
type Setup struct {
	Signal    *Signal   `json:"signal"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Confirmed bool      `json:"confirmed"`
}

// SetupStore 多周期确认机制的內存存储
// 高周期信号通过校验后先存为 Setup，由同方向的低周期信号触发执行
// 开关不影响 Validator 和 Risk Manager
type SetupStore struct {
	mu     sync.Mutex
	expiry time.Duration
	setups []*Setup
	log    *zap.Logger
}

// NewSetupStore 创建 Setup 存储 expiry≤0 时使用默认 24h
func NewSetupStore(expiry time.Duration) *SetupStore {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &SetupStore{
		expiry: expiry,
		log:    logger.NewModuleLogger("signal.setup"),
	}
}

// Add 存入一个高周期 Setup
func (st *SetupStore) Add(sig *Signal) *Setup {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	setup := &Setup{
		Signal:    sig,
		CreatedAt: now,
		ExpiresAt: now.Add(st.expiry),
	}
	st.setups = append(st.setups, setup)
	st.log.Info("📌 高周期 Setup 已挂起，等待低周期确认",
		zap.String("symbol", sig.Symbol),
		zap.String("timeframe", sig.Timeframe),
		zap.String("direction", string(sig.Direction)),
		zap.Time("expires_at", setup.ExpiresAt))
	return setup
}

// Match 用低周期信号匹配活跃 Setup
// 命中时把 Setup 标记为已确认（消费掉）并返回它；没有匹配返回 nil
func (st *SetupStore) Match(sig *Signal) *Setup {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	for _, setup := range st.setups {
		if setup.Confirmed || now.After(setup.ExpiresAt) {
			continue
		}
		if setup.Signal.Symbol == sig.Symbol && setup.Signal.Direction == sig.Direction {
			setup.Confirmed = true
			st.log.Info("✅ 低周期信号确认了高周期 Setup",
				zap.String("symbol", sig.Symbol),
				zap.String("setup_tf", setup.Signal.Timeframe),
				zap.String("trigger_tf", sig.Timeframe))
			return setup
		}
	}
	return nil
}

// ExpireStale 清理过期与已消费的 Setup，返回清理数量
func (st *SetupStore) ExpireStale() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	kept := st.setups[:0]
	removed := 0
	for _, setup := range st.setups {
		if setup.Confirmed || now.After(setup.ExpiresAt) {
			removed++
			if !setup.Confirmed {
				st.log.Info("⏰ Setup 过期未确认，丢弃",
					zap.String("symbol", setup.Signal.Symbol),
					zap.String("timeframe", setup.Signal.Timeframe))
			}
			continue
		}
		kept = append(kept, setup)
	}
	st.setups = kept
	return removed
}

// Pending 当前活跃（未确认未过期）的 Setup 数量
func (st *SetupStore) Pending() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, setup := range st.setups {
		if !setup.Confirmed && now.Before(setup.ExpiresAt) {
			count++
		}
	}
	return count
}
