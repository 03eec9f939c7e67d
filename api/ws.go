package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"riptide/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 观测面接口，跨域订阅放行
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub websocket 状态推送: 定期把状态快照广播给所有订阅方
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	statusFn func() interface{}
	interval time.Duration
	stopCh   chan struct{}
	log      *zap.Logger
}

// NewHub 创建状态推送 hub，statusFn 提供每次广播的快照
func NewHub(statusFn func() interface{}, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		clients:  make(map[*websocket.Conn]struct{}),
		statusFn: statusFn,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      logger.NewModuleLogger("api.ws"),
	}
}

// Run 周期广播循环，需在独立 goroutine 运行
func (h *Hub) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

// Stop 停止广播并断开所有连接
func (h *Hub) Stop() {
	close(h.stopCh)
}

// HandleWS 升级连接并注册订阅
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket 升级失败", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket 订阅建立", zap.Int("clients", count))

	// 读循环只用于感知断开
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast() {
	payload := h.statusFn()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
