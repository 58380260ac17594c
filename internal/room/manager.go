// Package room 實作派對平台遊戲的房間協調層。
//
// Manager 是唯一的房間登記處：建立與關閉房間、指派角色（主機 / 玩家 / 觀眾）、
// 處理準備與開始、斷線寬限期與重連、輸入轉發與狀態廣播。
//
// 所有訊息處理與計時器回呼都在 Manager.mu 之下執行完畢，彼此不會交錯；
// 對連線的發送一律是非阻塞的（Peer 實作必須保證），因此持鎖發送是安全的。
package room

import (
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"
)

// 系統設計問題：
//   主機、玩家、觀眾分散在不同連線上，斷線重連又很頻繁，
//   如何讓同一個房間的狀態在任何時刻都只有一個版本？
//
// 核心挑戰：
//   1. 角色解析：斷線時只知道 connID，必須立即找出它在哪個房間、扮演什麼角色
//   2. 寬限期競態：重連（取消計時器）與計時器觸發可能同時發生
//   3. 房間碼：4 位數空間有限，必須避開仍在使用中的房間碼
//   4. 資源回收：沒人理會的房間要自動關閉
//
// 設計方案：
//   ✅ 單一 Manager.mu - 訊息處理與計時器回呼全部序列化，不存在交錯狀態
//   ✅ members 索引 - connID -> 角色，與每次房間變更同步維護（O(1) 解析）
//   ✅ take/claim 所有權 - 計時器觸發時必須取回「同一個」條目才生效
//   ✅ 拒絕取樣 - fastrand 產生 1000-9999，碰撞就重抽
//   ✅ cleanupLoop - 依最後活動時間清理閒置房間（與 Stop 共用 stopCh / wg）
//
// 寬限期時序（主機為例）：
//
//	t0  主機斷線        armHost：登記條目並啟動 AfterFunc
//	t1  主機重新連線    takeHost：移除條目、停止計時器，之後才接管房間
//	t2  計時器仍然觸發  claimHost：條目已不在表中（或已換成新條目），直接返回
//
// 玩家只有在 playing 狀態斷線才保留座位；遊戲結束回到大廳時，
// 尚未取回的座位一律視為離開。

const (
	minCode   = 1000
	codeSpace = 9000 // 1000–9999
)

// Peer 一條已連線的客戶端連線。
//
// Send / SendVolatile 都不可阻塞；SendVolatile 在接收端忙碌時直接丟棄。
type Peer interface {
	ID() string
	Send(frame []byte) bool
	SendVolatile(frame []byte) bool
}

// Options Manager 設定
type Options struct {
	GracePeriod     time.Duration // 主機 / 玩家斷線保留時間
	IdleTimeout     time.Duration // 無活動房間自動關閉，0 表示不清理
	CleanupInterval time.Duration // 清理掃描間隔，0 表示不啟動清理 goroutine
	AdvertiseHost   string        // room-created 回覆中的主機位址提示
	AdvertisePort   int
	Now             func() time.Time
}

// DefaultGracePeriod 預設寬限期。
const DefaultGracePeriod = 30 * time.Second

// Manager 房間管理器
type Manager struct {
	mu      sync.Mutex
	rooms   map[string]*Room      // code -> Room
	peers   map[string]Peer       // connID -> Peer（在線連線）
	members map[string]Membership // connID -> 角色索引
	grace   *graceTable

	opts   Options
	now    func() time.Time
	logger *zap.SugaredLogger

	stopped  bool // Stop 之後不再建立房間或接受加入
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 創建房間管理器
func NewManager(opts Options, logger *zap.SugaredLogger) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	m := &Manager{
		rooms:   make(map[string]*Room),
		peers:   make(map[string]Peer),
		members: make(map[string]Membership),
		grace:   newGraceTable(opts.GracePeriod),
		opts:    opts,
		now:     now,
		logger:  logger.Named("room"),
		stopCh:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 && opts.IdleTimeout > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}

	return m
}

// Connect 登記一條新連線。
func (m *Manager) Connect(p Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peers[p.ID()] = p
	m.logger.Debugw("連線建立", "conn_id", p.ID())
}

// Disconnect 連線中斷。
//
// 主機：開始主機寬限期。遊戲中的玩家：座位移出並保留，通知主機暫時斷線。
// 其他狀態的玩家：立即離開。觀眾：移出觀眾集合。
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.peers, connID)

	member, ok := m.members[connID]
	if !ok {
		m.logger.Debugw("連線中斷", "conn_id", connID)
		return
	}
	delete(m.members, connID)

	r, ok := m.rooms[member.RoomCode]
	if !ok {
		return
	}

	switch member.Role {
	case RoleHost:
		if r.HostConnID != connID {
			return
		}
		m.grace.armHost(r.Code, connID, m.now(), m.expireHost)
		m.logger.Infow("主機斷線，開始寬限期",
			"room", r.Code,
			"conn_id", connID,
			"grace", m.opts.GracePeriod)

	case RolePlayer:
		seat, ok := r.Players[connID]
		if !ok {
			return
		}
		delete(r.Players, connID)

		if r.State == StatePlaying {
			m.grace.armSeat(r.Code, *seat, m.now(), m.expireSeat)
			m.emit(r.HostConnID, EventPlayerTemporarilyDisconnected, seatMsg{
				PlayerIndex: seat.PlayerIndex,
				Nickname:    seat.Nickname,
				Face:        seat.Face,
			})
			m.logger.Infow("玩家斷線，保留座位",
				"room", r.Code,
				"player_index", seat.PlayerIndex,
				"grace", m.opts.GracePeriod)
			return
		}

		m.broadcast(r, EventPlayerLeft, playerLeftMsg{PlayerIndex: seat.PlayerIndex, PlayerList: r.PlayerList()})
		m.logger.Infow("玩家離開房間", "room", r.Code, "player_index", seat.PlayerIndex)

	case RoleViewer:
		delete(r.Viewers, connID)
		m.logger.Debugw("觀眾離開", "room", r.Code, "conn_id", connID)
	}
}

// CreateRoom 為 connID 建立新房間並成為主機。
//
// 同一連線同時只能主持一個房間，舊房間會先被關閉。
func (m *Manager) CreateRoom(connID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return "", ErrServerStopped
	}

	if member, ok := m.members[connID]; ok {
		switch member.Role {
		case RoleHost:
			m.closeRoomLocked(member.RoomCode, CloseHostCreatedNewRoom)
		default:
			m.detachLocked(connID)
		}
	}

	code, err := m.generateCodeLocked()
	if err != nil {
		m.logger.Errorw("無法產生房間碼", "rooms", len(m.rooms), "error", err)
		return "", err
	}

	now := m.now()
	m.rooms[code] = NewRoom(code, connID, now)
	m.members[connID] = Membership{Role: RoleHost, RoomCode: code}

	m.emit(connID, EventRoomCreated, roomCreatedMsg{
		RoomCode: code,
		LocalIP:  m.opts.AdvertiseHost,
		Port:     m.opts.AdvertisePort,
	})

	m.logger.Infow("房間已創建", "room", code, "host", connID)
	return code, nil
}

// LookupRoom 取得房間快照。
func (m *Manager) LookupRoom(code string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return r.Snapshot(), nil
}

// Exists 房間是否存在。
func (m *Manager) Exists(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.rooms[code]
	return ok
}

// CloseRoom 通知所有成員並移除房間與其計時器。
func (m *Manager) CloseRoom(code, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[code]; !ok {
		return ErrRoomNotFound
	}
	m.closeRoomLocked(code, reason)
	return nil
}

func (m *Manager) closeRoomLocked(code, reason string) {
	r, ok := m.rooms[code]
	if !ok {
		return
	}

	m.broadcast(r, EventRoomClosed, reasonMsg{Reason: reason})

	m.unindexLocked(r.HostConnID, code)
	for connID := range r.Players {
		m.unindexLocked(connID, code)
	}
	for connID := range r.Viewers {
		m.unindexLocked(connID, code)
	}

	timers := m.grace.dropRoom(code)
	delete(m.rooms, code)

	m.logger.Infow("房間已關閉", "room", code, "reason", reason, "timers_cancelled", timers)
}

// expireHost 主機寬限期到期。
func (m *Manager) expireHost(entry *HostGrace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.grace.claimHost(entry) {
		return
	}

	r, ok := m.rooms[entry.RoomCode]
	if !ok || r.HostConnID != entry.ConnID {
		return
	}

	m.logger.Infow("主機寬限期到期", "room", entry.RoomCode, "disconnected_at", entry.DisconnectedAt)
	m.closeRoomLocked(entry.RoomCode, CloseHostTimeout)
}

// expireSeat 玩家寬限期到期，永久離開。
func (m *Manager) expireSeat(entry *SeatGrace) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.grace.claimSeat(entry) {
		return
	}

	r, ok := m.rooms[entry.RoomCode]
	if !ok {
		return
	}

	m.releaseSeatLocked(r, entry)
	m.logger.Infow("玩家寬限期到期", "room", entry.RoomCode, "player_index", entry.PlayerIndex)
}

// releaseSeatLocked 保留的座位正式釋放：通知房間成員與主機。
func (m *Manager) releaseSeatLocked(r *Room, entry *SeatGrace) {
	m.broadcast(r, EventPlayerLeft, playerLeftMsg{PlayerIndex: entry.PlayerIndex, PlayerList: r.PlayerList()})
	m.emit(r.HostConnID, EventPlayerDisconnected, seatMsg{PlayerIndex: entry.PlayerIndex})
}

// generateCodeLocked 以拒絕取樣產生不重複的四位數房間碼。
func (m *Manager) generateCodeLocked() (string, error) {
	if len(m.rooms) >= codeSpace {
		return "", ErrNoCodeAvailable
	}
	for {
		code := strconv.Itoa(minCode + int(fastrand.Uint32n(codeSpace)))
		if _, exists := m.rooms[code]; !exists {
			return code, nil
		}
	}
}

// cleanupLoop 清理閒置房間
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 關閉閒置超過 IdleTimeout 的房間（公開方法供測試使用）
func (m *Manager) Cleanup() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var idle []string
	for code, r := range m.rooms {
		if now.Sub(r.idleSince()) > m.opts.IdleTimeout {
			idle = append(idle, code)
		}
	}
	for _, code := range idle {
		m.closeRoomLocked(code, CloseIdle)
	}
	return len(idle)
}

// Stop 停止清理並關閉所有房間
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		m.mu.Lock()
		m.stopped = true
		for code := range m.rooms {
			m.closeRoomLocked(code, CloseServerShutdown)
		}
		m.grace.stopAll()
		m.mu.Unlock()

		m.logger.Info("房間管理器已停止")
	})
}

// Stats 統計資訊
type Stats struct {
	TotalRooms       int           `json:"total_rooms"`
	TotalPlayers     int           `json:"total_players"`
	TotalViewers     int           `json:"total_viewers"`
	Connections      int           `json:"connections"`
	PendingHostGrace int           `json:"pending_host_grace"`
	PendingSeatGrace int           `json:"pending_seat_grace"`
	ByState          map[State]int `json:"by_state"`
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalRooms:  len(m.rooms),
		Connections: len(m.peers),
		ByState:     make(map[State]int),
	}
	for _, r := range m.rooms {
		stats.ByState[r.State]++
		stats.TotalPlayers += len(r.Players)
		stats.TotalViewers += len(r.Viewers)
	}
	stats.PendingHostGrace, stats.PendingSeatGrace = m.grace.len()
	return stats
}

// --- 發送 ---

// emit 可靠發送給單一連線；連線不在線則略過。
func (m *Manager) emit(connID, event string, data any) {
	p, ok := m.peers[connID]
	if !ok {
		return
	}
	frame, err := Encode(event, data)
	if err != nil {
		m.logger.Errorw("序列化事件失敗", "event", event, "error", err)
		return
	}
	p.Send(frame)
}

// broadcast 發送給房間所有成員（主機、玩家、觀眾），只序列化一次。
func (m *Manager) broadcast(r *Room, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		m.logger.Errorw("序列化事件失敗", "event", event, "error", err)
		return
	}

	if p, ok := m.peers[r.HostConnID]; ok {
		p.Send(frame)
	}
	for connID := range r.Players {
		if p, ok := m.peers[connID]; ok {
			p.Send(frame)
		}
	}
	for connID := range r.Viewers {
		if p, ok := m.peers[connID]; ok {
			p.Send(frame)
		}
	}
}

// emitPlayers 只發送給玩家連線。
func (m *Manager) emitPlayers(r *Room, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		m.logger.Errorw("序列化事件失敗", "event", event, "error", err)
		return
	}
	for connID := range r.Players {
		if p, ok := m.peers[connID]; ok {
			p.Send(frame)
		}
	}
}
