package broker

import (
	"fmt"
	"sync"
	"time"

	"riptide/pkg/logger"

	"go.uber.org/zap"
)

// Router 按 symbol 把调用路由到对应的交易所
// 同时维护每个交易所的健康状态：永久性失败（如凭证错误）会把该所
// 标记为不健康并暂停其交易，直到连通性检查重新通过
// 一个交易所的故障不影响其他交易所
type Router struct {
	registry *Registry
	mu       sync.RWMutex
	brokers  map[string]Broker
	healthy  map[string]bool
	log      *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(registry *Registry) *Router {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Router{
		registry: registry,
		brokers:  make(map[string]Broker),
		healthy:  make(map[string]bool),
		log:      logger.NewModuleLogger("broker.router"),
	}
}

// Register 注册一个交易所实例
func (r *Router) Register(b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[b.ID()] = b
	r.healthy[b.ID()] = true
}

// GetBroker 根据 symbol 查找交易所
func (r *Router) GetBroker(symbol string) (Broker, error) {
	brokerID := r.registry.RouteSymbol(symbol)
	return r.GetBrokerByID(brokerID)
}

// GetBrokerByID 按 ID 直接查找
func (r *Router) GetBrokerByID(brokerID string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[brokerID]
	if !ok {
		return nil, fmt.Errorf("未注册的交易所: %s", brokerID)
	}
	return b, nil
}

// IsHealthy 交易所当前是否可交易
func (r *Router) IsHealthy(brokerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[brokerID]
}

// MarkUnhealthy 标记交易所不可用（凭证错误/品种无效等永久性失败）
func (r *Router) MarkUnhealthy(brokerID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.healthy[brokerID] {
		r.healthy[brokerID] = false
		r.log.Warn("⛔ 交易所被标记为不可用，暂停其交易",
			zap.String("broker", brokerID), zap.String("reason", reason))
	}
}

// CheckHealth 对不健康的交易所做连通性检查，恢复则重新启用
func (r *Router) CheckHealth() {
	r.mu.RLock()
	var toCheck []Broker
	for id, ok := range r.healthy {
		if !ok {
			if b, exists := r.brokers[id]; exists {
				toCheck = append(toCheck, b)
			}
		}
	}
	r.mu.RUnlock()

	for _, b := range toCheck {
		start := time.Now()
		if err := b.CheckConnectivity(); err != nil {
			r.log.Debug("交易所连通性检查仍然失败",
				zap.String("broker", b.ID()), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.healthy[b.ID()] = true
		r.mu.Unlock()
		r.log.Info("✅ 交易所恢复可用",
			zap.String("broker", b.ID()),
			zap.Duration("check_time", time.Since(start)))
	}
}

// AllBrokers 所有已注册的交易所
func (r *Router) AllBrokers() []Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Broker, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	return out
}

// BrokerIDs 所有已注册交易所的 ID
func (r *Router) BrokerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.brokers))
	for id := range r.brokers {
		out = append(out, id)
	}
	return out
}

// CloseAll 关闭所有交易所连接
func (r *Router) CloseAll() {
	for _, b := range r.AllBrokers() {
		if err := b.Close(); err != nil {
			r.log.Warn("关闭交易所连接失败", zap.String("broker", b.ID()), zap.Error(err))
		}
	}
}
