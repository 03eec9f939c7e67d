package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"riptide/broker"
	"riptide/pkg/logger"
	"riptide/risk"
	"riptide/trader"
)

// HealthStore 深度健康检查的持久化依赖
type HealthStore interface {
	Ping() error
}

// Server 观测面 API: 健康 / 状态 / 组合 / 风控
type Server struct {
	router  *gin.Engine
	brokers *broker.Router
	riskMgr *risk.Manager
	auto    *trader.AutoTrader
	store   HealthStore
	hub     *Hub
	port    int
	started time.Time
	log     *zap.Logger
}

// NewServer 创建 API 服务
func NewServer(brokers *broker.Router, riskMgr *risk.Manager, auto *trader.AutoTrader, store HealthStore, hub *Hub, port int) *Server {
	// Release模式减少gin自身的日志输出
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		brokers: brokers,
		riskMgr: riskMgr,
		auto:    auto,
		store:   store,
		hub:     hub,
		port:    port,
		started: time.Now().UTC(),
		log:     logger.NewModuleLogger("api"),
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)
		api.GET("/health/deep", s.handleDeepHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/portfolio", s.handlePortfolio)
		api.GET("/risk", s.handleRisk)
		api.POST("/risk/reset-daily", s.handleResetDaily)
		api.POST("/risk/reset-drawdown", s.handleResetDrawdown)
	}
	if s.hub != nil {
		s.router.GET("/ws", s.hub.HandleWS)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

// handleDeepHealth 深度检查: 数据库连通 + 每个交易所连通
func (s *Server) handleDeepHealth(c *gin.Context) {
	result := gin.H{"status": "ok"}
	healthy := true

	if err := s.store.Ping(); err != nil {
		result["database"] = err.Error()
		healthy = false
	} else {
		result["database"] = "ok"
	}

	brokerStatus := gin.H{}
	for _, b := range s.brokers.AllBrokers() {
		if err := b.CheckConnectivity(); err != nil {
			brokerStatus[b.ID()] = err.Error()
			healthy = false
		} else {
			brokerStatus[b.ID()] = "ok"
		}
	}
	result["brokers"] = brokerStatus

	code := http.StatusOK
	if !healthy {
		result["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	brokerHealth := gin.H{}
	for _, id := range s.brokers.BrokerIDs() {
		brokerHealth[id] = s.brokers.IsHealthy(id)
	}
	c.JSON(http.StatusOK, gin.H{
		"uptime":         time.Since(s.started).String(),
		"last_cycle":     s.auto.LastCycleTime(),
		"broker_health":  brokerHealth,
		"breaker_active": s.riskMgr.BreakerActive(),
	})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	portfolios := gin.H{}
	for _, id := range s.brokers.BrokerIDs() {
		b, err := s.brokers.GetBrokerByID(id)
		if err != nil {
			continue
		}
		bal, err := b.FetchBalance()
		if err != nil {
			portfolios[id] = gin.H{"error": err.Error()}
			continue
		}
		p, err := s.riskMgr.BuildPortfolio(id, bal)
		if err != nil {
			portfolios[id] = gin.H{"error": err.Error()}
			continue
		}
		portfolios[id] = p
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": portfolios})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.BreakerStatus())
}

func (s *Server) handleResetDaily(c *gin.Context) {
	s.riskMgr.ResetDailyBreaker()
	s.log.Info("日亏损熔断已手动复位")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleResetDrawdown(c *gin.Context) {
	s.riskMgr.ResetDrawdownBreaker()
	s.log.Info("回撤熔断已手动复位")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Start 启动 HTTP 服务（阻塞）
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("🌐 API 服务启动", zap.String("addr", addr))
	return s.router.Run(addr)
}
