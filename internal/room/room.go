package room

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// State 房間狀態
//
// 有限狀態機：
//
//	lobby → playing → gameover → playing（重試 / 從第一關重來）
//	           ↓
//	        victory → lobby
//
// 所有轉換都由伺服器依據特定訊息觸發。
type State string

const (
	StateLobby    State = "lobby"    // 等待玩家準備
	StatePlaying  State = "playing"  // 遊戲進行中
	StateGameOver State = "gameover" // 生命耗盡
	StateVictory  State = "victory"  // 通過最後一關
)

// Face 玩家角色表情（純外觀）
type Face string

const (
	FaceHappy     Face = "happy"
	FaceCool      Face = "cool"
	FaceAngry     Face = "angry"
	FaceSleepy    Face = "sleepy"
	FaceSurprised Face = "surprised"
	FaceSilly     Face = "silly"
)

// DefaultFace 未選擇時的預設表情。
const DefaultFace = FaceHappy

// Faces 可選表情（固定集合）。
var Faces = []Face{FaceHappy, FaceCool, FaceAngry, FaceSleepy, FaceSurprised, FaceSilly}

// Valid 檢查是否為合法表情。
func (f Face) Valid() bool {
	for _, v := range Faces {
		if v == f {
			return true
		}
	}
	return false
}

const (
	MaxSeats          = 4 // 座位索引 0..3
	MinLevel          = 1
	MaxLevel          = 9
	StartingLives     = 3
	DefaultPlayers    = 2
	maxNicknameLength = 20
)

// Seat 一位真人玩家保留的座位
type Seat struct {
	ConnID      string `json:"-"`
	Nickname    string `json:"nickname"`
	PlayerIndex int    `json:"playerIndex"`
	Ready       bool   `json:"ready"`
	Face        Face   `json:"face"`
}

// Room 遊戲房間
//
// Room 本身不加鎖，所有欄位只在 Manager 持有鎖時存取。
type Room struct {
	Code        string
	HostConnID  string
	Players     map[string]*Seat    // connID -> Seat
	Viewers     map[string]struct{} // connID 集合
	State       State
	PlayerCount int
	StartLevel  int

	CurrentLevel   int
	Lives          int
	Score          int
	LevelStartTime time.Time

	CreatedAt  time.Time
	lastActive time.Time
}

// NewRoom 建立大廳狀態的新房間。
func NewRoom(code, hostConnID string, now time.Time) *Room {
	return &Room{
		Code:           code,
		HostConnID:     hostConnID,
		Players:        make(map[string]*Seat),
		Viewers:        make(map[string]struct{}),
		State:          StateLobby,
		PlayerCount:    DefaultPlayers,
		StartLevel:     MinLevel,
		CurrentLevel:   MinLevel,
		Lives:          StartingLives,
		LevelStartTime: now,
		CreatedAt:      now,
		lastActive:     now,
	}
}

// SeatByIndex 依座位索引找出在線座位。
func (r *Room) SeatByIndex(index int) *Seat {
	for _, s := range r.Players {
		if s.PlayerIndex == index {
			return s
		}
	}
	return nil
}

// AddSeat 指派最小可用索引給新玩家。
//
// reserved 為寬限期中保留的索引，視同已佔用並計入容量。
func (r *Room) AddSeat(connID, nickname string, reserved map[int]bool) (*Seat, error) {
	if len(r.Players)+len(reserved) >= r.PlayerCount {
		return nil, ErrRoomFull
	}

	taken := make(map[int]bool, len(r.Players)+len(reserved))
	for _, s := range r.Players {
		taken[s.PlayerIndex] = true
	}
	for idx := range reserved {
		taken[idx] = true
	}

	index := -1
	for i := 0; i < MaxSeats; i++ {
		if !taken[i] {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, ErrRoomFull
	}

	seat := &Seat{
		ConnID:      connID,
		Nickname:    normalizeNickname(nickname, index),
		PlayerIndex: index,
		Face:        DefaultFace,
	}
	r.Players[connID] = seat
	return seat, nil
}

// AllReady 至少一位玩家且全員已準備。
func (r *Room) AllReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, s := range r.Players {
		if !s.Ready {
			return false
		}
	}
	return true
}

// SetPlayerCount 只在大廳可修改；下限為目前佔用的座位數。
func (r *Room) SetPlayerCount(count, occupied int) bool {
	if r.State != StateLobby {
		return false
	}
	r.PlayerCount = clamp(count, max(1, occupied), MaxSeats)
	return true
}

// SetStartLevel 只在大廳可修改。
func (r *Room) SetStartLevel(level int) bool {
	if r.State != StateLobby {
		return false
	}
	r.StartLevel = clamp(level, MinLevel, MaxLevel)
	return true
}

// Start lobby → playing
func (r *Room) Start(now time.Time) {
	r.State = StatePlaying
	r.CurrentLevel = r.StartLevel
	if r.CurrentLevel < MinLevel {
		r.CurrentLevel = MinLevel
	}
	r.Lives = StartingLives
	r.Score = 0
	r.LevelStartTime = now
}

// CompleteLevel 主機回報過關，累加分數並前進到 nextLevel。
func (r *Room) CompleteLevel(nextLevel int, levelTimeMs int64, now time.Time) {
	r.Score += LevelScore(levelTimeMs)
	r.CurrentLevel = nextLevel
	r.LevelStartTime = now
}

// LoseLife 扣一條命；回傳是否因此進入 gameover。
//
// Lives 保留未截斷的值，<= 0 即觸發結束；對外顯示一律用 DisplayLives。
func (r *Room) LoseLife() bool {
	r.Lives--
	if r.Lives <= 0 {
		r.State = StateGameOver
		return true
	}
	return false
}

// Win playing → victory，加上最後一關分數與剩餘生命獎勵。
func (r *Room) Win(levelTimeMs int64) {
	r.Score += LevelScore(levelTimeMs) + r.DisplayLives()*LivesBonus
	r.State = StateVictory
}

// Retry gameover → playing；restart 時回到第一關。
func (r *Room) Retry(restart bool, now time.Time) {
	if restart {
		r.CurrentLevel = MinLevel
	}
	r.Lives = StartingLives
	r.Score = 0
	r.State = StatePlaying
	r.LevelStartTime = now
}

// BackToLobby victory → lobby，清除所有準備狀態。
func (r *Room) BackToLobby() {
	r.State = StateLobby
	r.CurrentLevel = MinLevel
	r.Lives = StartingLives
	r.Score = 0
	for _, s := range r.Players {
		s.Ready = false
	}
}

// DisplayLives 對外顯示的生命數（不為負）。
func (r *Room) DisplayLives() int {
	return max(r.Lives, 0)
}

// PlayerList 依座位索引排序的座位清單。
func (r *Room) PlayerList() []Seat {
	list := make([]Seat, 0, len(r.Players))
	for _, s := range r.Players {
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PlayerIndex < list[j].PlayerIndex })
	return list
}

// HumanPlayers 真人座位索引（已排序）。不在清單內的索引由模擬端視為 AI。
func (r *Room) HumanPlayers() []int {
	indices := make([]int, 0, len(r.Players))
	for _, s := range r.Players {
		indices = append(indices, s.PlayerIndex)
	}
	sort.Ints(indices)
	return indices
}

// FaceMap playerIndex -> face
func (r *Room) FaceMap() map[int]Face {
	faces := make(map[int]Face, len(r.Players))
	for _, s := range r.Players {
		faces[s.PlayerIndex] = s.Face
	}
	return faces
}

// Snapshot 完整房間狀態（主機重連、觀眾加入、HTTP 查詢共用）。
func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		RoomCode:     r.Code,
		GameState:    r.State,
		PlayerList:   r.PlayerList(),
		HumanPlayers: r.HumanPlayers(),
		Faces:        r.FaceMap(),
		PlayerCount:  r.PlayerCount,
		StartLevel:   r.StartLevel,
		CurrentLevel: r.CurrentLevel,
		Lives:        r.DisplayLives(),
		Score:        r.Score,
	}
}

func (r *Room) touch(now time.Time) {
	r.lastActive = now
}

// idleSince 最後一次收到房間相關訊息的時間。
func (r *Room) idleSince() time.Time {
	return r.lastActive
}

func normalizeNickname(nickname string, index int) string {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return defaultNickname(index)
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		nickname = string([]rune(nickname)[:maxNicknameLength])
	}
	return nickname
}

func defaultNickname(index int) string {
	return "Player " + string(rune('1'+index))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
