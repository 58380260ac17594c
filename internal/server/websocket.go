package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/coop-platformer/internal/config"
	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 系統設計問題：
//   遊戲畫面每秒數十次更新，控制器輸入同樣頻繁；
//   手機網路不穩，某條連線跟不上時，如何不拖慢整個房間？
//
// 核心挑戰：
//   1. 持鎖發送：room.Manager 在持鎖狀態下呼叫 Send，任何阻塞都會卡住所有房間
//   2. 慢客戶端：緩衝區被塞滿時要有明確的處理方式
//   3. 死連接：手機鎖屏或切換網路後 TCP 不一定會斷
//   4. 惡意或失控的客戶端：短時間內送出大量訊框
//
// 設計方案：
//   ✅ 每條連線一組 readPump / writePump - 唯一讀取者與唯一寫入者
//   ✅ 緩衝 channel + 非阻塞 select - Send / SendVolatile 永不阻塞
//   ✅ 兩種發送語意：
//        可靠（Send）：緩衝滿代表客戶端已失效，關閉連線，由寬限期流程接手重連
//        可丟棄（SendVolatile）：玩家輸入、觀眾快照；緩衝超過門檻即丟棄，下一幀會補上
//   ✅ Ping/Pong 心跳 - PongWait 內沒有任何訊框即視為死連接（預設 54s/60s）
//   ✅ rate.Limiter - 每條連線的入站訊框限速，超出直接丟棄
//
// 停機順序：
//   Manager.Stop 先廣播 room-closed，Hub.Stop 再關閉 send channel，
//   writePump 送完緩衝中的訊框後送出關閉訊框。

const (
	writeWait = 10 * time.Second
)

// HubOptions 連線層設定
type HubOptions struct {
	SendBuffer        int
	VolatileThreshold int
	MaxMessageBytes   int64
	MessageRate       float64 // 每秒允許的入站訊框數
	MessageBurst      int
	PongWait          time.Duration
	AllowedOrigins    []string
}

// HubOptionsFromConfig 由服務配置取出連線層設定。
func HubOptionsFromConfig(cfg config.Config) HubOptions {
	return HubOptions{
		SendBuffer:        cfg.SendBuffer,
		VolatileThreshold: cfg.VolatileThreshold,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessageRate:       cfg.MessageRate,
		MessageBurst:      cfg.MessageBurst,
		PongWait:          cfg.PongWait,
		AllowedOrigins:    cfg.AllowedOrigins,
	}
}

func (o HubOptions) withDefaults() HubOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.VolatileThreshold <= 0 || o.VolatileThreshold > o.SendBuffer {
		o.VolatileThreshold = o.SendBuffer / 4
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.MessageRate <= 0 {
		o.MessageRate = 240
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 2 * int(o.MessageRate)
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

// pingPeriod 必須小於 PongWait
func (o HubOptions) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Hub WebSocket 連線中心
type Hub struct {
	manager  *room.Manager
	logger   *zap.SugaredLogger
	opts     HubOptions
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection // connID -> Connection
	stopped     bool
	wg          sync.WaitGroup
}

// Connection 一條 WebSocket 連線，實作 room.Peer。
type Connection struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	limiter *rate.Limiter

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	lastPong time.Time
	dropped  int // 被丟棄的可丟棄訊息數
}

var _ room.Peer = (*Connection)(nil)

// NewHub 創建 WebSocket Hub
func NewHub(manager *room.Manager, opts HubOptions, logger *zap.SugaredLogger) *Hub {
	opts = opts.withDefaults()
	hub := &Hub{
		manager:     manager,
		logger:      logger.Named("ws"),
		opts:        opts,
		connections: make(map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// checkOrigin 未設定 AllowedOrigins 時接受所有來源（區網內的手機控制器）。
func (hub *Hub) checkOrigin(r *http.Request) bool {
	if len(hub.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range hub.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnw("升級 WebSocket 失敗", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		hub:      hub,
		limiter:  rate.NewLimiter(rate.Limit(hub.opts.MessageRate), hub.opts.MessageBurst),
		send:     make(chan []byte, hub.opts.SendBuffer),
		lastPong: time.Now(),
	}

	if !hub.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	hub.manager.Connect(c)

	hub.wg.Add(2)
	go c.writePump()
	go c.readPump()

	hub.logger.Infow("WebSocket 連接建立", "conn_id", c.id, "remote", r.RemoteAddr)
}

// register 註冊連接；Hub 已停止時回傳 false。
func (hub *Hub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c.id] = c
	return true
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	if actual, ok := hub.connections[c.id]; ok && actual == c {
		delete(hub.connections, c.id)
	}
	hub.mu.Unlock()

	c.closeSend()
}

// ConnectionCount 獲取連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接並等待讀寫 goroutine 結束，或直到 ctx 到期。
func (hub *Hub) Stop(ctx context.Context) error {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for _, c := range hub.connections {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	// 先關閉 Send channel，writePump 送出關閉訊框後關閉連接
	for _, c := range conns {
		c.closeSend()
	}

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Infow("WebSocket Hub 已停止", "connections", len(conns))
		return nil
	case <-ctx.Done():
		for _, c := range conns {
			c.conn.Close()
		}
		return ctx.Err()
	}
}

// ID 實作 room.Peer
func (c *Connection) ID() string {
	return c.id
}

// Send 可靠發送；緩衝區滿代表客戶端跟不上，直接關閉連線。
func (c *Connection) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.hub.logger.Warnw("連接緩衝區滿，關閉連線", "conn_id", c.id, "buffer", cap(c.send))
		c.closeSendLocked()
		return false
	}
}

// SendVolatile 可丟棄的發送；緩衝超過門檻時丟棄。
func (c *Connection) SendVolatile(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.send) >= c.hub.opts.VolatileThreshold {
		c.dropped++
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.dropped++
		return false
	}
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendLocked()
}

func (c *Connection) closeSendLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump 讀取客戶端消息
//
// 60 秒（PongWait）內沒有收到任何訊框（包括 Pong）即視為死連接。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.manager.Disconnect(c.id)
		c.conn.Close()

		c.mu.Lock()
		dropped, lastPong := c.dropped, c.lastPong
		c.mu.Unlock()
		c.hub.logger.Infow("WebSocket 連接關閉",
			"conn_id", c.id,
			"dropped_volatile", dropped,
			"last_pong", lastPong)
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
		c.hub.logger.Errorw("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warnw("WebSocket 讀取錯誤", "conn_id", c.id, "error", err)
			}
			return
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.hub.logger.Debugw("入站訊息過多，丟棄", "conn_id", c.id)
			continue
		}

		c.handleMessage(message)
	}
}

// handleMessage 交給房間層處理；單一訊息的 panic 不應拖垮整條連線。
func (c *Connection) handleMessage(message []byte) {
	defer func() {
		if err := recover(); err != nil {
			c.hub.logger.Errorw("處理訊息時發生 panic", "conn_id", c.id, "error", err)
		}
	}()

	c.hub.manager.HandleMessage(c.id, message)
}

// writePump 寫入消息到客戶端，並定時發送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// 通道已關閉，嘗試送出關閉訊框（連接可能已關閉，忽略錯誤）
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Debugw("發送消息失敗", "conn_id", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
