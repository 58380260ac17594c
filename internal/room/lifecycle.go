package room

import (
	"fmt"
)

// 房間生命週期
//
// 主機專屬的操作若來自非目前主機的連線，一律靜默忽略（回傳錯誤僅供呼叫端記錄），
// 避免主機交接後舊連線或惡意客戶端改動共享狀態。
// 重連失敗則必須回覆 rejoin-failed{reason}，讓客戶端能決定下一步。

// RejoinHost 主機重新取回房間（例如重新整理頁面）。
func (m *Manager) RejoinHost(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return m.rejectRejoin(connID, ErrRoomNotFound)
	}

	if r.HostConnID == connID {
		m.emit(connID, EventRoomRejoined, r.Snapshot())
		return nil
	}
	if member, ok := m.members[connID]; ok && member.Role == RoleHost {
		return m.rejectRejoin(connID, fmt.Errorf("%w: already hosting %s", ErrInvalidPayload, member.RoomCode))
	}

	fallback := false
	if _, pending := m.grace.takeHost(code); !pending {
		if _, alive := m.peers[r.HostConnID]; alive {
			return m.rejectRejoin(connID, ErrHostConnected)
		}
		// 舊主機已不在線卻沒有計時器，仍允許取回
		fallback = true
	}

	m.detachLocked(connID)
	m.unindexLocked(r.HostConnID, code)
	r.HostConnID = connID
	m.members[connID] = Membership{Role: RoleHost, RoomCode: code}
	r.touch(m.now())

	m.emit(connID, EventRoomRejoined, r.Snapshot())
	m.logger.Infow("主機重新取回房間",
		"room", code,
		"conn_id", connID,
		"state", r.State,
		"fallback", fallback)
	return nil
}

func (m *Manager) rejectRejoin(connID string, err error) error {
	m.emit(connID, EventRejoinFailed, reasonMsg{Reason: rejoinReason(err)})
	m.logger.Debugw("重連失敗", "conn_id", connID, "error", err)
	return err
}

// SetPlayerCount 大廳中設定真人座位數（1–4）。
func (m *Manager) SetPlayerCount(connID, code string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}

	occupied := len(r.Players) + len(m.grace.reserved(code))
	if !r.SetPlayerCount(count, occupied) {
		return ErrInvalidState
	}

	m.broadcast(r, EventPlayerCountUpdate, playerCountMsg{PlayerCount: r.PlayerCount})
	m.logger.Infow("設定玩家數", "room", code, "player_count", r.PlayerCount)
	return nil
}

// SetStartLevel 大廳中設定起始關卡（1–9），不廣播。
func (m *Manager) SetStartLevel(connID, code string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if !r.SetStartLevel(level) {
		return ErrInvalidState
	}

	m.logger.Debugw("設定起始關卡", "room", code, "start_level", r.StartLevel)
	return nil
}

// ResumeGame 主機恢復遊戲畫面時取得目前進度。
func (m *Manager) ResumeGame(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StatePlaying {
		return ErrInvalidState
	}

	m.emit(connID, EventResumeGameState, progressMsg{
		Level: r.CurrentLevel,
		Lives: r.DisplayLives(),
		Score: r.Score,
	})
	return nil
}

// JoinPlayer 玩家加入房間，指派最小可用座位。
func (m *Manager) JoinPlayer(connID, code, nickname string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		m.emit(connID, EventJoinError, errorMsg{Message: "Server is shutting down"})
		return -1, ErrServerStopped
	}

	r, ok := m.rooms[code]
	if !ok {
		m.emit(connID, EventJoinError, errorMsg{Message: "Room not found"})
		return -1, ErrRoomNotFound
	}

	member, isMember := m.members[connID]
	switch {
	case isMember && member.Role == RoleHost:
		m.emit(connID, EventJoinError, errorMsg{Message: "Host cannot join as a player"})
		return -1, ErrHostCannotJoin
	case isMember && member.Role == RolePlayer && member.RoomCode == code:
		m.emit(connID, EventJoinSuccess, joinSuccessMsg{PlayerIndex: member.PlayerIndex})
		return member.PlayerIndex, nil
	}

	seat, err := r.AddSeat(connID, nickname, m.grace.reserved(code))
	if err != nil {
		m.emit(connID, EventJoinError, errorMsg{Message: "Room is full"})
		m.logger.Debugw("房間已滿", "room", code, "conn_id", connID)
		return -1, err
	}

	if isMember {
		m.detachLocked(connID)
	}
	m.members[connID] = Membership{Role: RolePlayer, RoomCode: code, PlayerIndex: seat.PlayerIndex}
	r.touch(m.now())

	m.broadcast(r, EventPlayerJoined, playerListMsg{PlayerList: r.PlayerList()})
	m.emit(connID, EventJoinSuccess, joinSuccessMsg{PlayerIndex: seat.PlayerIndex})

	m.logger.Infow("玩家加入房間",
		"room", code,
		"player_index", seat.PlayerIndex,
		"nickname", seat.Nickname)
	return seat.PlayerIndex, nil
}

// RejoinPlayer 玩家在寬限期內取回原座位。
func (m *Manager) RejoinPlayer(connID, code string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[code]
	if !ok {
		return m.rejectRejoin(connID, ErrRoomNotFound)
	}
	if member, ok := m.members[connID]; ok && member.Role == RoleHost {
		return m.rejectRejoin(connID, ErrHostCannotJoin)
	}
	if index < 0 || index >= MaxSeats {
		return m.rejectRejoin(connID, fmt.Errorf("%w: player index %d", ErrInvalidPayload, index))
	}

	entry, ok := m.grace.takeSeat(SeatKey{RoomCode: code, PlayerIndex: index})
	if !ok {
		if r.SeatByIndex(index) != nil {
			return m.rejectRejoin(connID, ErrSeatTaken)
		}
		return m.rejectRejoin(connID, ErrNoReservation)
	}

	m.detachLocked(connID)
	seat := &Seat{
		ConnID:      connID,
		Nickname:    entry.Nickname,
		PlayerIndex: index,
		Ready:       true,
		Face:        entry.Face,
	}
	r.Players[connID] = seat
	m.members[connID] = Membership{Role: RolePlayer, RoomCode: code, PlayerIndex: index}
	r.touch(m.now())

	m.emit(connID, EventRejoinSuccess, rejoinSuccessMsg{
		RoomCode:    code,
		PlayerIndex: index,
		Nickname:    seat.Nickname,
		Face:        seat.Face,
		GameState:   r.State,
		PlayerCount: r.PlayerCount,
		Level:       r.CurrentLevel,
		Lives:       r.DisplayLives(),
		Score:       r.Score,
	})
	m.emit(r.HostConnID, EventPlayerRejoined, seatMsg{
		PlayerIndex: index,
		Nickname:    seat.Nickname,
		Face:        seat.Face,
	})

	m.logger.Infow("玩家重新連線",
		"room", code,
		"player_index", index,
		"offline", m.now().Sub(entry.DisconnectedAt))
	return nil
}

// SetReady 玩家準備；全員準備時開始遊戲。
func (m *Manager) SetReady(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, seat, err := m.seatLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StateLobby {
		return ErrInvalidState
	}

	seat.Ready = true
	m.broadcast(r, EventPlayerReadyUpdate, playerListMsg{PlayerList: r.PlayerList()})

	if !r.AllReady() {
		return nil
	}

	r.Start(m.now())
	humans := r.HumanPlayers()
	m.broadcast(r, EventGameStart, gameStartMsg{
		Level:        r.CurrentLevel,
		Lives:        r.DisplayLives(),
		PlayerCount:  r.PlayerCount,
		HumanPlayers: humans,
		Faces:        r.FaceMap(),
	})

	m.logger.Infow("遊戲開始",
		"room", code,
		"level", r.CurrentLevel,
		"player_count", r.PlayerCount,
		"humans", humans)
	return nil
}

// SelectFace 大廳中選擇角色表情。
func (m *Manager) SelectFace(connID, code string, face Face) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, seat, err := m.seatLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StateLobby {
		return ErrInvalidState
	}
	if !face.Valid() {
		return fmt.Errorf("%w: face %q", ErrInvalidPayload, face)
	}

	seat.Face = face
	m.broadcast(r, EventPlayerReadyUpdate, playerListMsg{PlayerList: r.PlayerList()})
	return nil
}

// JoinViewer 加入觀眾集合並回覆完整快照。
func (m *Manager) JoinViewer(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		m.emit(connID, EventViewerJoinError, errorMsg{Message: "Server is shutting down"})
		return ErrServerStopped
	}

	r, ok := m.rooms[code]
	if !ok {
		m.emit(connID, EventViewerJoinError, errorMsg{Message: "Room not found"})
		return ErrRoomNotFound
	}

	member, isMember := m.members[connID]
	if isMember && member.Role == RoleHost {
		m.emit(connID, EventViewerJoinError, errorMsg{Message: "Host cannot join as a viewer"})
		return ErrHostCannotJoin
	}
	if isMember && !(member.Role == RoleViewer && member.RoomCode == code) {
		m.detachLocked(connID)
	}

	r.Viewers[connID] = struct{}{}
	m.members[connID] = Membership{Role: RoleViewer, RoomCode: code}
	r.touch(m.now())

	m.emit(connID, EventViewerJoined, r.Snapshot())
	m.logger.Debugw("觀眾加入", "room", code, "viewers", len(r.Viewers))
	return nil
}

// CompleteLevel 主機回報過關。
func (m *Manager) CompleteLevel(connID, code string, nextLevel int, levelTimeMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StatePlaying {
		return ErrInvalidState
	}
	if nextLevel < MinLevel {
		return fmt.Errorf("%w: next level %d", ErrInvalidPayload, nextLevel)
	}

	r.CompleteLevel(nextLevel, levelTimeMs, m.now())
	m.broadcast(r, EventLevelTransition, levelTransitionMsg{
		NextLevel: nextLevel,
		Score:     r.Score,
		Lives:     r.DisplayLives(),
	})

	m.logger.Infow("過關", "room", code, "next_level", nextLevel, "score", r.Score)
	return nil
}

// PlayerDied 主機回報角色死亡，扣一條命。
func (m *Manager) PlayerDied(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StatePlaying {
		return ErrInvalidState
	}

	over := r.LoseLife()
	m.broadcast(r, EventLivesUpdate, livesMsg{Lives: r.DisplayLives()})

	if over {
		m.broadcast(r, EventGameOverLives, finalScoreMsg{Score: r.Score, Level: r.CurrentLevel})
		m.logger.Infow("生命耗盡", "room", code, "level", r.CurrentLevel, "score", r.Score)
		return nil
	}

	// 只通知手機控制器（震動回饋）
	m.emitPlayers(r, EventResetLevel, nil)
	return nil
}

// FinishGame 主機回報通過最後一關。
func (m *Manager) FinishGame(connID, code string, levelTimeMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StatePlaying {
		return ErrInvalidState
	}

	r.Win(levelTimeMs)
	m.broadcast(r, EventGameVictory, victoryMsg{Score: r.Score, Lives: r.DisplayLives()})

	m.logger.Infow("遊戲勝利", "room", code, "score", r.Score, "lives", r.Lives)
	return nil
}

// Retry gameover 後重試；restart 為 true 時從第一關重來。
func (m *Manager) Retry(connID, code string, restart bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StateGameOver {
		return ErrInvalidState
	}

	r.Retry(restart, m.now())
	m.broadcast(r, EventRetryLevel, progressMsg{
		Level: r.CurrentLevel,
		Lives: r.DisplayLives(),
		Score: r.Score,
	})

	m.logger.Infow("重試關卡", "room", code, "level", r.CurrentLevel, "restart", restart)
	return nil
}

// PlayAgain 勝利後回到大廳。
func (m *Manager) PlayAgain(connID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return err
	}
	if r.State != StateVictory {
		return ErrInvalidState
	}

	// 保留的座位只在遊戲中有效，回到大廳後視為離開
	released := m.grace.releaseSeats(code)
	r.BackToLobby()
	for _, entry := range released {
		m.releaseSeatLocked(r, entry)
	}
	m.broadcast(r, EventBackToLobby, playerListMsg{PlayerList: r.PlayerList()})

	m.logger.Infow("回到大廳", "room", code, "released_seats", len(released))
	return nil
}
