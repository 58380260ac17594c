package room

// Role 連線在房間中的角色
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
	RoleViewer Role = "viewer"
)

// Membership 連線所屬房間與角色；PlayerIndex 只對玩家有意義。
type Membership struct {
	Role        Role   `json:"role"`
	RoomCode    string `json:"roomCode"`
	PlayerIndex int    `json:"playerIndex,omitempty"`
}

// Resolve 反查連線的角色。
//
// 以 connID 索引查詢，索引與房間欄位在同一把鎖下同步更新。
func (m *Manager) Resolve(connID string) (Membership, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[connID]
	return member, ok
}

// scanLocked 逐一掃描房間：先比對主機，再比對玩家，最後比對觀眾。
// 與索引結果應一致，僅用於驗證。
func (m *Manager) scanLocked(connID string) (Membership, bool) {
	for code, r := range m.rooms {
		if r.HostConnID == connID {
			return Membership{Role: RoleHost, RoomCode: code}, true
		}
	}
	for code, r := range m.rooms {
		if seat, ok := r.Players[connID]; ok {
			return Membership{Role: RolePlayer, RoomCode: code, PlayerIndex: seat.PlayerIndex}, true
		}
	}
	for code, r := range m.rooms {
		if _, ok := r.Viewers[connID]; ok {
			return Membership{Role: RoleViewer, RoomCode: code}, true
		}
	}
	return Membership{}, false
}

// unindexLocked 只在索引仍指向該房間時移除。
func (m *Manager) unindexLocked(connID, code string) {
	if member, ok := m.members[connID]; ok && member.RoomCode == code {
		delete(m.members, connID)
	}
}

// detachLocked 連線改變角色前，先離開目前的玩家座位或觀眾集合（不進入寬限期）。
// 主機身分不在此處理。
func (m *Manager) detachLocked(connID string) {
	member, ok := m.members[connID]
	if !ok || member.Role == RoleHost {
		return
	}
	delete(m.members, connID)

	r, ok := m.rooms[member.RoomCode]
	if !ok {
		return
	}

	switch member.Role {
	case RolePlayer:
		seat, ok := r.Players[connID]
		if !ok {
			return
		}
		delete(r.Players, connID)
		m.broadcast(r, EventPlayerLeft, playerLeftMsg{PlayerIndex: seat.PlayerIndex, PlayerList: r.PlayerList()})
		if r.State == StatePlaying {
			m.emit(r.HostConnID, EventPlayerDisconnected, seatMsg{PlayerIndex: seat.PlayerIndex})
		}
	case RoleViewer:
		delete(r.Viewers, connID)
	}
}

// hostRoomLocked 取得 connID 目前主持的房間；非主機回傳 ErrNotHost。
func (m *Manager) hostRoomLocked(connID, code string) (*Room, error) {
	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.HostConnID != connID {
		return nil, ErrNotHost
	}
	r.touch(m.now())
	return r, nil
}

// seatLocked 取得 connID 在房間中的座位。
func (m *Manager) seatLocked(connID, code string) (*Room, *Seat, error) {
	r, ok := m.rooms[code]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	seat, ok := r.Players[connID]
	if !ok {
		return nil, nil, ErrNotMember
	}
	r.touch(m.now())
	return r, seat, nil
}
