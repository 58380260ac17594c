package room_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testGrace = 50 * time.Millisecond

// fakePeer 記錄所有送出的訊框
type fakePeer struct {
	id string

	mu       sync.Mutex
	frames   []room.Envelope
	volatile []bool
	busy     bool // 模擬接收端忙碌，SendVolatile 丟棄
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) bool {
	return p.record(frame, false)
}

func (p *fakePeer) SendVolatile(frame []byte) bool {
	p.mu.Lock()
	busy := p.busy
	p.mu.Unlock()
	if busy {
		return false
	}
	return p.record(frame, true)
}

func (p *fakePeer) record(frame []byte, volatile bool) bool {
	env, err := room.Decode(frame)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, env)
	p.volatile = append(p.volatile, volatile)
	return true
}

func (p *fakePeer) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Event)
	}
	return out
}

// last 回傳最後一個指定事件的資料。
func (p *fakePeer) last(event string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Event == event {
			return p.frames[i].Data, true
		}
	}
	return nil, false
}

func (p *fakePeer) lastVolatile(event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.frames) - 1; i >= 0; i-- {
		if p.frames[i].Event == event {
			return p.volatile[i]
		}
	}
	return false
}

func (p *fakePeer) count(event string) int {
	n := 0
	for _, e := range p.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (p *fakePeer) has(event string) bool {
	return p.count(event) > 0
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
	p.volatile = nil
}

func decodeAs[T any](t *testing.T, p *fakePeer, event string) T {
	t.Helper()
	data, ok := p.last(event)
	require.Truef(t, ok, "%s never received %s (got %v)", p.id, event, p.events())
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts room.Options) *room.Manager {
	t.Helper()
	if opts.GracePeriod == 0 {
		opts.GracePeriod = testGrace
	}
	m := room.NewManager(opts, zap.NewNop().Sugar())
	t.Cleanup(m.Stop)
	return m
}

func connect(m *room.Manager, id string) *fakePeer {
	p := &fakePeer{id: id}
	m.Connect(p)
	return p
}

// table 一個主機加上 n 位已加入的玩家
type table struct {
	m       *room.Manager
	code    string
	host    *fakePeer
	players []*fakePeer
}

func newTable(t *testing.T, m *room.Manager, playerCount, players int) *table {
	t.Helper()
	tb := &table{m: m, host: connect(m, "host")}

	code, err := m.CreateRoom("host")
	require.NoError(t, err)
	tb.code = code

	require.NoError(t, m.SetPlayerCount("host", code, playerCount))
	for i := 0; i < players; i++ {
		p := connect(m, "p"+string(rune('0'+i)))
		_, err := m.JoinPlayer(p.id, code, "nick"+string(rune('0'+i)))
		require.NoError(t, err)
		tb.players = append(tb.players, p)
	}
	return tb
}

// start 全員準備，進入 playing。
func (tb *table) start(t *testing.T) {
	t.Helper()
	for _, p := range tb.players {
		require.NoError(t, tb.m.SetReady(p.id, tb.code))
	}
	snap, err := tb.m.LookupRoom(tb.code)
	require.NoError(t, err)
	require.Equal(t, room.StatePlaying, snap.GameState)
}

func (tb *table) snapshot(t *testing.T) room.Snapshot {
	t.Helper()
	snap, err := tb.m.LookupRoom(tb.code)
	require.NoError(t, err)
	return snap
}

// 以下為解析回覆用的檢視型別

type reasonView struct {
	Reason string `json:"reason"`
}

type messageView struct {
	Message string `json:"message"`
}

type seatView struct {
	PlayerIndex int       `json:"playerIndex"`
	Nickname    string    `json:"nickname"`
	Face        room.Face `json:"face"`
}

type playerListView struct {
	PlayerIndex int         `json:"playerIndex"`
	PlayerList  []room.Seat `json:"playerList"`
}

type progressView struct {
	Level     int `json:"level"`
	NextLevel int `json:"nextLevel"`
	Lives     int `json:"lives"`
	Score     int `json:"score"`
}

type gameStartView struct {
	Level        int               `json:"level"`
	Lives        int               `json:"lives"`
	PlayerCount  int               `json:"playerCount"`
	HumanPlayers []int             `json:"humanPlayers"`
	Faces        map[int]room.Face `json:"faces"`
}

type rejoinView struct {
	RoomCode    string     `json:"roomCode"`
	PlayerIndex int        `json:"playerIndex"`
	Nickname    string     `json:"nickname"`
	Face        room.Face  `json:"face"`
	GameState   room.State `json:"gameState"`
	PlayerCount int        `json:"playerCount"`
	Level       int        `json:"level"`
	Lives       int        `json:"lives"`
	Score       int        `json:"score"`
}

type createdView struct {
	RoomCode string `json:"roomCode"`
	LocalIP  string `json:"localIP"`
	Port     int    `json:"port"`
}
