package room_test

import (
	"testing"
	"time"

	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

// TestHostGrace_RejoinWithinWindow 寬限期內主機以新連線取回房間
func TestHostGrace_RejoinWithinWindow(t *testing.T) {
	m := newTestManager(t, room.Options{GracePeriod: time.Hour})
	tb := newTable(t, m, 2, 2)
	tb.start(t)
	require.NoError(t, m.CompleteLevel("host", tb.code, 2, 0))

	m.Disconnect("host")
	assert.Equal(t, 1, m.Stats().PendingHostGrace)
	assert.True(t, m.Exists(tb.code))

	host2 := connect(m, "host2")
	require.NoError(t, m.RejoinHost("host2", tb.code))

	snap := decodeAs[room.Snapshot](t, host2, room.EventRoomRejoined)
	assert.Equal(t, room.StatePlaying, snap.GameState)
	assert.Equal(t, 2, snap.CurrentLevel)
	assert.Equal(t, 4000, snap.Score)
	assert.Equal(t, []int{0, 1}, snap.HumanPlayers)
	assert.Equal(t, 0, m.Stats().PendingHostGrace)

	member, ok := m.Resolve("host2")
	require.True(t, ok)
	assert.Equal(t, room.RoleHost, member.Role)
	_, ok = m.Resolve("host")
	assert.False(t, ok)

	// 新主機接手輸入與主機操作
	require.NoError(t, m.RelayInput("p0", tb.code, []byte(`{"jump":true}`)))
	assert.True(t, host2.has(room.EventPlayerInput))
	assert.ErrorIs(t, m.PlayerDied("host", tb.code), room.ErrNotHost)
	require.NoError(t, m.PlayerDied("host2", tb.code))
}

// TestHostGrace_Expires 寬限期到期關閉房間
func TestHostGrace_Expires(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 2, 2)
	viewer := connect(m, "v")
	require.NoError(t, m.JoinViewer("v", tb.code))

	m.Disconnect("host")
	require.Eventually(t, func() bool { return !m.Exists(tb.code) }, eventually, 5*time.Millisecond)

	for _, p := range []*fakePeer{tb.players[0], tb.players[1], viewer} {
		assert.Equal(t, room.CloseHostTimeout, decodeAs[reasonView](t, p, room.EventRoomClosed).Reason)
		_, ok := m.Resolve(p.id)
		assert.False(t, ok, p.id)
	}

	late := connect(m, "late-host")
	assert.ErrorIs(t, m.RejoinHost("late-host", tb.code), room.ErrRoomNotFound)
	assert.Equal(t, room.ReasonRoomNotFound, decodeAs[reasonView](t, late, room.EventRejoinFailed).Reason)

	stats := m.Stats()
	assert.Equal(t, 0, stats.TotalRooms)
	assert.Equal(t, 0, stats.PendingHostGrace)
}

// TestHostGrace_RejoinAfterDisconnectTwice 第二次斷線重新計時
func TestHostGrace_RejoinAfterDisconnectTwice(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 1, 1)

	m.Disconnect("host")
	connect(m, "host2")
	require.NoError(t, m.RejoinHost("host2", tb.code))

	time.Sleep(2 * testGrace)
	require.True(t, m.Exists(tb.code), "cancelled timer must not close the room")

	m.Disconnect("host2")
	require.Eventually(t, func() bool { return !m.Exists(tb.code) }, eventually, 5*time.Millisecond)
}

// TestRejoinHost_HostStillConnected 原主機仍在線時拒絕
func TestRejoinHost_HostStillConnected(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 2, 1)
	intruder := connect(m, "intruder")

	assert.ErrorIs(t, m.RejoinHost("intruder", tb.code), room.ErrHostConnected)
	assert.Equal(t, room.ReasonHostConnected, decodeAs[reasonView](t, intruder, room.EventRejoinFailed).Reason)

	member, ok := m.Resolve("host")
	require.True(t, ok)
	assert.Equal(t, room.RoleHost, member.Role)
	_, ok = m.Resolve("intruder")
	assert.False(t, ok)
}

// TestRejoinHost_WithoutTimer 舊主機已不在線但沒有計時器時仍可取回
func TestRejoinHost_WithoutTimer(t *testing.T) {
	m := newTestManager(t, room.Options{})

	// ghost 從未登記連線
	code, err := m.CreateRoom("ghost")
	require.NoError(t, err)

	host := connect(m, "host")
	require.NoError(t, m.RejoinHost("host", code))
	assert.Equal(t, code, decodeAs[room.Snapshot](t, host, room.EventRoomRejoined).RoomCode)

	_, ok := m.Resolve("ghost")
	assert.False(t, ok)
}

// TestRejoinHost_AlreadyHostingAnotherRoom 一條連線只能主持一個房間
func TestRejoinHost_AlreadyHostingAnotherRoom(t *testing.T) {
	m := newTestManager(t, room.Options{GracePeriod: time.Hour})
	tb := newTable(t, m, 1, 0)
	m.Disconnect("host")

	other := connect(m, "other")
	_, err := m.CreateRoom("other")
	require.NoError(t, err)

	assert.ErrorIs(t, m.RejoinHost("other", tb.code), room.ErrInvalidPayload)
	assert.Equal(t, room.ReasonInvalidRequest, decodeAs[reasonView](t, other, room.EventRejoinFailed).Reason)
	assert.Equal(t, 1, m.Stats().PendingHostGrace)
}

// TestPlayerGrace_RejoinRestoresSeat 遊戲中斷線保留座位，重連後還原
func TestPlayerGrace_RejoinRestoresSeat(t *testing.T) {
	m := newTestManager(t, room.Options{GracePeriod: time.Hour})
	tb := newTable(t, m, 2, 2)
	require.NoError(t, m.SelectFace("p0", tb.code, room.FaceCool))
	tb.start(t)

	m.Disconnect("p0")
	temp := decodeAs[seatView](t, tb.host, room.EventPlayerTemporarilyDisconnected)
	assert.Equal(t, seatView{PlayerIndex: 0, Nickname: "nick0", Face: room.FaceCool}, temp)
	assert.False(t, tb.players[1].has(room.EventPlayerLeft))
	assert.Equal(t, 1, m.Stats().PendingSeatGrace)

	// 保留的座位計入容量
	stranger := connect(m, "stranger")
	_, err := m.JoinPlayer("stranger", tb.code, "x")
	assert.ErrorIs(t, err, room.ErrRoomFull)
	assert.Equal(t, "Room is full", decodeAs[messageView](t, stranger, room.EventJoinError).Message)

	back := connect(m, "p0-again")
	require.NoError(t, m.RejoinPlayer("p0-again", tb.code, 0))

	rejoin := decodeAs[rejoinView](t, back, room.EventRejoinSuccess)
	assert.Equal(t, rejoinView{
		RoomCode:    tb.code,
		PlayerIndex: 0,
		Nickname:    "nick0",
		Face:        room.FaceCool,
		GameState:   room.StatePlaying,
		PlayerCount: 2,
		Level:       1,
		Lives:       3,
		Score:       0,
	}, rejoin)
	assert.Equal(t, seatView{PlayerIndex: 0, Nickname: "nick0", Face: room.FaceCool},
		decodeAs[seatView](t, tb.host, room.EventPlayerRejoined))

	snap := tb.snapshot(t)
	require.Len(t, snap.PlayerList, 2)
	assert.True(t, snap.PlayerList[0].Ready)
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)

	require.NoError(t, m.RelayInput("p0-again", tb.code, []byte(`{}`)))
	assert.Equal(t, 0, decodeAs[playerListView](t, tb.host, room.EventPlayerInput).PlayerIndex)
}

// TestPlayerGrace_Expires 寬限期到期永久離開，座位可再被佔用
func TestPlayerGrace_Expires(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 2, 2)
	tb.start(t)

	m.Disconnect("p1")
	require.Eventually(t, func() bool { return tb.host.has(room.EventPlayerDisconnected) }, eventually, 5*time.Millisecond)

	assert.Equal(t, 1, decodeAs[seatView](t, tb.host, room.EventPlayerDisconnected).PlayerIndex)
	left := decodeAs[playerListView](t, tb.players[0], room.EventPlayerLeft)
	assert.Equal(t, 1, left.PlayerIndex)
	assert.Len(t, left.PlayerList, 1)
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)

	late := connect(m, "late")
	assert.ErrorIs(t, m.RejoinPlayer("late", tb.code, 1), room.ErrNoReservation)
	assert.Equal(t, room.ReasonNoReservation, decodeAs[reasonView](t, late, room.EventRejoinFailed).Reason)

	idx, err := m.JoinPlayer("late", tb.code, "late")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

// TestPlayerGrace_ReleasedOnPlayAgain 回到大廳時保留的座位正式釋放
func TestPlayerGrace_ReleasedOnPlayAgain(t *testing.T) {
	m := newTestManager(t, room.Options{GracePeriod: time.Hour})
	tb := newTable(t, m, 2, 2)
	tb.start(t)

	m.Disconnect("p1")
	require.Equal(t, 1, m.Stats().PendingSeatGrace)

	require.NoError(t, m.FinishGame("host", tb.code, 0))
	require.NoError(t, m.PlayAgain("host", tb.code))

	assert.Equal(t, 1, decodeAs[seatView](t, tb.host, room.EventPlayerDisconnected).PlayerIndex)
	left := decodeAs[playerListView](t, tb.players[0], room.EventPlayerLeft)
	assert.Equal(t, 1, left.PlayerIndex)
	assert.Len(t, left.PlayerList, 1)
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)

	back := connect(m, "p1-again")
	assert.ErrorIs(t, m.RejoinPlayer("p1-again", tb.code, 1), room.ErrNoReservation)
	assert.Equal(t, room.ReasonNoReservation, decodeAs[reasonView](t, back, room.EventRejoinFailed).Reason)

	// 重新加入的玩家必須在新的大廳中按下準備
	idx, err := m.JoinPlayer("p1-again", tb.code, "nick1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	tb.host.reset()
	require.NoError(t, m.SetReady("p0", tb.code))
	assert.False(t, tb.host.has(room.EventGameStart))

	snap := tb.snapshot(t)
	assert.Equal(t, room.StateLobby, snap.GameState)
	require.Len(t, snap.PlayerList, 2)
	assert.False(t, snap.PlayerList[1].Ready)
}

// TestRejoinPlayer_Failures 測試玩家重連失敗原因
func TestRejoinPlayer_Failures(t *testing.T) {
	tests := []struct {
		name       string
		connID     string
		code       func(tb *table) string
		index      int
		wantErr    error
		wantReason string
	}{
		{"room not found", "x", func(*table) string { return "0000" }, 0, room.ErrRoomNotFound, room.ReasonRoomNotFound},
		{"slot taken", "x", func(tb *table) string { return tb.code }, 1, room.ErrSeatTaken, room.ReasonSeatTaken},
		{"no reservation", "x", func(tb *table) string { return tb.code }, 3, room.ErrNoReservation, room.ReasonNoReservation},
		{"index out of range", "x", func(tb *table) string { return tb.code }, 7, room.ErrInvalidPayload, room.ReasonInvalidRequest},
		{"host", "host", func(tb *table) string { return tb.code }, 0, room.ErrHostCannotJoin, room.ReasonHostCannotRejoinSeat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, room.Options{GracePeriod: time.Hour})
			tb := newTable(t, m, 2, 2)
			tb.start(t)
			m.Disconnect("p0")

			p := tb.host
			if tt.connID != "host" {
				p = connect(m, tt.connID)
			}

			assert.ErrorIs(t, m.RejoinPlayer(tt.connID, tt.code(tb), tt.index), tt.wantErr)
			assert.Equal(t, tt.wantReason, decodeAs[reasonView](t, p, room.EventRejoinFailed).Reason)
			assert.Equal(t, 1, m.Stats().PendingSeatGrace, "reservation survives a failed rejoin")
		})
	}
}

// TestDisconnect_LobbyPlayerLeavesImmediately 大廳與結束畫面不保留座位
func TestDisconnect_LobbyPlayerLeavesImmediately(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 2, 2)

	m.Disconnect("p1")
	assert.Equal(t, 1, decodeAs[playerListView](t, tb.players[0], room.EventPlayerLeft).PlayerIndex)
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)
	assert.False(t, tb.host.has(room.EventPlayerTemporarilyDisconnected))

	tb.players = tb.players[:1]
	tb.start(t)
	require.NoError(t, m.FinishGame("host", tb.code, 0))

	m.Disconnect("p0")
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)
	assert.Empty(t, tb.snapshot(t).PlayerList)
}

// TestCloseRoom_CancelsTimers 關閉房間時取消所有寬限期
func TestCloseRoom_CancelsTimers(t *testing.T) {
	m := newTestManager(t, room.Options{})
	tb := newTable(t, m, 2, 2)
	tb.start(t)

	m.Disconnect("p1")
	require.Equal(t, 1, m.Stats().PendingSeatGrace)

	require.NoError(t, m.CloseRoom(tb.code, room.CloseIdle))
	assert.Equal(t, 0, m.Stats().PendingSeatGrace)
	assert.Equal(t, room.CloseIdle, decodeAs[reasonView](t, tb.players[0], room.EventRoomClosed).Reason)

	time.Sleep(3 * testGrace)
	assert.False(t, tb.host.has(room.EventPlayerDisconnected))
	assert.ErrorIs(t, m.CloseRoom(tb.code, room.CloseIdle), room.ErrRoomNotFound)
}
