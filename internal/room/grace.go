package room

import (
	"sort"
	"time"
)

// 寬限期計時表
//
// 主機或遊戲中的玩家斷線時，先保留其身分一段時間等待重連。
// 計時器的「取消」與「觸發」可能同時發生，以「從表中移除條目」作為唯一的所有權轉移：
//   - 取消路徑（重連）先 take 條目，成功後才做任何可觀察的變更
//   - 觸發路徑也必須 take 到「同一個」條目才繼續，否則代表已被取消或換成新的計時器
//
// graceTable 本身不加鎖，由 Manager.mu 保護。

// HostGrace 主機斷線後的保留
type HostGrace struct {
	RoomCode       string
	ConnID         string // 斷線的主機連線
	DisconnectedAt time.Time
	timer          *time.Timer
}

// SeatKey 玩家保留的鍵（房間 + 座位索引）
type SeatKey struct {
	RoomCode    string
	PlayerIndex int
}

// SeatGrace 玩家斷線後的座位保留，含還原座位所需的快照
type SeatGrace struct {
	SeatKey
	Nickname       string
	Face           Face
	DisconnectedAt time.Time
	timer          *time.Timer
}

type graceTable struct {
	period time.Duration
	hosts  map[string]*HostGrace
	seats  map[SeatKey]*SeatGrace
}

func newGraceTable(period time.Duration) *graceTable {
	return &graceTable{
		period: period,
		hosts:  make(map[string]*HostGrace),
		seats:  make(map[SeatKey]*SeatGrace),
	}
}

// armHost 開始主機寬限期。同房間若已有計時器則先取消。
func (g *graceTable) armHost(code, connID string, now time.Time, fire func(*HostGrace)) *HostGrace {
	g.takeHost(code)

	entry := &HostGrace{RoomCode: code, ConnID: connID, DisconnectedAt: now}
	entry.timer = time.AfterFunc(g.period, func() { fire(entry) })
	g.hosts[code] = entry
	return entry
}

// takeHost 取消並移除主機計時器；回傳被移除的條目。
func (g *graceTable) takeHost(code string) (*HostGrace, bool) {
	entry, ok := g.hosts[code]
	if !ok {
		return nil, false
	}
	delete(g.hosts, code)
	entry.timer.Stop()
	return entry, true
}

// claimHost 觸發路徑使用：只有表中仍是 entry 本身時才移除並回傳 true。
func (g *graceTable) claimHost(entry *HostGrace) bool {
	if current, ok := g.hosts[entry.RoomCode]; !ok || current != entry {
		return false
	}
	delete(g.hosts, entry.RoomCode)
	return true
}

func (g *graceTable) hostPending(code string) bool {
	_, ok := g.hosts[code]
	return ok
}

// armSeat 開始玩家寬限期。
func (g *graceTable) armSeat(code string, seat Seat, now time.Time, fire func(*SeatGrace)) *SeatGrace {
	key := SeatKey{RoomCode: code, PlayerIndex: seat.PlayerIndex}
	g.takeSeat(key)

	entry := &SeatGrace{
		SeatKey:        key,
		Nickname:       seat.Nickname,
		Face:           seat.Face,
		DisconnectedAt: now,
	}
	entry.timer = time.AfterFunc(g.period, func() { fire(entry) })
	g.seats[key] = entry
	return entry
}

func (g *graceTable) takeSeat(key SeatKey) (*SeatGrace, bool) {
	entry, ok := g.seats[key]
	if !ok {
		return nil, false
	}
	delete(g.seats, key)
	entry.timer.Stop()
	return entry, true
}

func (g *graceTable) claimSeat(entry *SeatGrace) bool {
	if current, ok := g.seats[entry.SeatKey]; !ok || current != entry {
		return false
	}
	delete(g.seats, entry.SeatKey)
	return true
}

// reserved 房間內仍在寬限期的座位索引。
func (g *graceTable) reserved(code string) map[int]bool {
	out := make(map[int]bool)
	for key := range g.seats {
		if key.RoomCode == code {
			out[key.PlayerIndex] = true
		}
	}
	return out
}

// releaseSeats 移除房間所有保留座位並停止計時器，依座位索引排序回傳。
func (g *graceTable) releaseSeats(code string) []*SeatGrace {
	var out []*SeatGrace
	for key := range g.seats {
		if key.RoomCode != code {
			continue
		}
		if entry, ok := g.takeSeat(key); ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerIndex < out[j].PlayerIndex })
	return out
}

// dropRoom 取消房間的所有計時器（房間因其他原因關閉時）。
func (g *graceTable) dropRoom(code string) int {
	n := 0
	if _, ok := g.takeHost(code); ok {
		n++
	}
	for key := range g.seats {
		if key.RoomCode == code {
			g.takeSeat(key)
			n++
		}
	}
	return n
}

func (g *graceTable) stopAll() {
	for code := range g.hosts {
		g.takeHost(code)
	}
	for key := range g.seats {
		g.takeSeat(key)
	}
}

func (g *graceTable) len() (hosts, seats int) {
	return len(g.hosts), len(g.seats)
}
