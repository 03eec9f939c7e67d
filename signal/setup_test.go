package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSignal(symbol, timeframe string, dir Direction) *Signal {
	s := NewSignal(symbol, timeframe)
	s.Direction = dir
	s.Confidence = 0.8
	return s
}

func TestSetupMatchConsumes(t *testing.T) {
	st := NewSetupStore(24 * time.Hour)
	st.Add(setupSignal("BTC/USDT", "4h", DirectionLong))
	require.Equal(t, 1, st.Pending())

	matched := st.Match(setupSignal("BTC/USDT", "1h", DirectionLong))
	require.NotNil(t, matched)
	assert.True(t, matched.Confirmed)
	assert.Equal(t, "4h", matched.Signal.Timeframe)

	// 已消费的 Setup 不能再次匹配
	assert.Nil(t, st.Match(setupSignal("BTC/USDT", "1h", DirectionLong)))
	assert.Zero(t, st.Pending())
}

func TestSetupMatchRequiresSymbolAndDirection(t *testing.T) {
	st := NewSetupStore(24 * time.Hour)
	st.Add(setupSignal("BTC/USDT", "4h", DirectionLong))

	assert.Nil(t, st.Match(setupSignal("ETH/USDT", "1h", DirectionLong)), "different symbol")
	assert.Nil(t, st.Match(setupSignal("BTC/USDT", "1h", DirectionShort)), "different direction")
	assert.Equal(t, 1, st.Pending(), "failed matches must not consume")
}

func TestSetupExpiryWindow(t *testing.T) {
	st := NewSetupStore(24 * time.Hour)
	setup := st.Add(setupSignal("BTC/USDT", "4h", DirectionLong))

	// T+23h: 仍在窗口内
	setup.ExpiresAt = time.Now().UTC().Add(1 * time.Hour)
	require.NotNil(t, st.Match(setupSignal("BTC/USDT", "1h", DirectionLong)))

	// T+25h: 已过期
	expired := st.Add(setupSignal("ETH/USDT", "4h", DirectionLong))
	expired.ExpiresAt = time.Now().UTC().Add(-1 * time.Hour)
	assert.Nil(t, st.Match(setupSignal("ETH/USDT", "1h", DirectionLong)))
}

func TestExpireStaleRemovesExpiredAndConsumed(t *testing.T) {
	st := NewSetupStore(24 * time.Hour)

	expired := st.Add(setupSignal("BTC/USDT", "4h", DirectionLong))
	expired.ExpiresAt = time.Now().UTC().Add(-1 * time.Minute)

	st.Add(setupSignal("ETH/USDT", "4h", DirectionShort))
	require.NotNil(t, st.Match(setupSignal("ETH/USDT", "1h", DirectionShort)))

	st.Add(setupSignal("SOL/USDT", "4h", DirectionLong))

	removed := st.ExpireStale()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, st.Pending())
}
