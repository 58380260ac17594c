package room

import (
	"encoding/json"
	"fmt"
)

// 客戶端 → 伺服器
const (
	EventHostCreateRoom   = "host-create-room"
	EventHostRejoinRoom   = "host-rejoin-room"
	EventSetPlayerCount   = "set-player-count"
	EventSetStartLevel    = "set-start-level"
	EventHostResumedGame  = "host-resumed-game"
	EventPlayerJoin       = "player-join"
	EventPlayerRejoin     = "player-rejoin"
	EventPlayerReady      = "player-ready"
	EventPlayerFaceSelect = "player-face-select"
	EventPlayerInput      = "player-input"
	EventViewerJoin       = "viewer-join"
	EventGameStateUpdate  = "game-state-update"
	EventLevelComplete    = "level-complete"
	EventPlayerDied       = "player-died"
	EventGameOver         = "game-over"
	EventTryAgain         = "try-again"
	EventRestartGame      = "restart-game"
	EventPlayAgain        = "play-again"

	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"
	EventWebRTCReady        = "webrtc-ready"
)

// 伺服器 → 客戶端
const (
	EventRoomCreated                   = "room-created"
	EventRoomRejoined                  = "room-rejoined"
	EventRejoinFailed                  = "rejoin-failed"
	EventPlayerCountUpdate             = "player-count-update"
	EventResumeGameState               = "resume-game-state"
	EventJoinSuccess                   = "join-success"
	EventJoinError                     = "join-error"
	EventPlayerJoined                  = "player-joined"
	EventRejoinSuccess                 = "rejoin-success"
	EventPlayerRejoined                = "player-rejoined"
	EventPlayerReadyUpdate             = "player-ready-update"
	EventGameStart                     = "game-start"
	EventViewerJoined                  = "viewer-joined"
	EventViewerJoinError               = "viewer-join-error"
	EventLevelTransition               = "level-transition"
	EventLivesUpdate                   = "lives-update"
	EventResetLevel                    = "reset-level"
	EventGameOverLives                 = "game-over-lives"
	EventGameVictory                   = "game-victory"
	EventRetryLevel                    = "retry-level"
	EventBackToLobby                   = "back-to-lobby"
	EventRoomClosed                    = "room-closed"
	EventPlayerLeft                    = "player-left"
	EventPlayerDisconnected            = "player-disconnected"
	EventPlayerTemporarilyDisconnected = "player-temporarily-disconnected"
)

// Envelope 所有 WebSocket 文字訊框的外層格式。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 將事件與資料編碼成訊框。
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode 解析訊框外層。
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}
	return env, nil
}

// --- 請求 ---

type roomRequest struct {
	RoomCode string `json:"roomCode"`
}

type playerCountRequest struct {
	RoomCode    string `json:"roomCode"`
	PlayerCount *int   `json:"playerCount"`
	Count       *int   `json:"count"` // playerCount 的別名
}

type startLevelRequest struct {
	RoomCode string `json:"roomCode"`
	Level    int    `json:"level"`
}

type joinRequest struct {
	RoomCode string `json:"roomCode"`
	Nickname string `json:"nickname"`
}

type rejoinRequest struct {
	RoomCode    string `json:"roomCode"`
	PlayerIndex *int   `json:"playerIndex"`
}

type faceRequest struct {
	RoomCode string `json:"roomCode"`
	Face     Face   `json:"face"`
}

type inputRequest struct {
	RoomCode string          `json:"roomCode"`
	Input    json.RawMessage `json:"input"`
}

type levelCompleteRequest struct {
	RoomCode  string `json:"roomCode"`
	NextLevel int    `json:"nextLevel"`
	LevelTime int64  `json:"levelTime"`
}

type gameOverRequest struct {
	RoomCode  string `json:"roomCode"`
	LevelTime int64  `json:"levelTime"`
}

type signalRequest struct {
	RoomCode string          `json:"roomCode"`
	To       json.RawMessage `json:"to"`
}

// --- 回覆 / 廣播 ---

// Snapshot 房間完整狀態
type Snapshot struct {
	RoomCode     string       `json:"roomCode"`
	GameState    State        `json:"gameState"`
	PlayerList   []Seat       `json:"playerList"`
	HumanPlayers []int        `json:"humanPlayers"`
	Faces        map[int]Face `json:"faces"`
	PlayerCount  int          `json:"playerCount"`
	StartLevel   int          `json:"startLevel"`
	CurrentLevel int          `json:"currentLevel"`
	Lives        int          `json:"lives"`
	Score        int          `json:"score"`
}

type roomCreatedMsg struct {
	RoomCode string `json:"roomCode"`
	LocalIP  string `json:"localIP"`
	Port     int    `json:"port"`
}

type reasonMsg struct {
	Reason string `json:"reason"`
}

type errorMsg struct {
	Message string `json:"message"`
}

type playerCountMsg struct {
	PlayerCount int `json:"playerCount"`
}

type progressMsg struct {
	Level int `json:"level"`
	Lives int `json:"lives"`
	Score int `json:"score"`
}

type joinSuccessMsg struct {
	PlayerIndex int `json:"playerIndex"`
}

type playerListMsg struct {
	PlayerList []Seat `json:"playerList"`
}

type rejoinSuccessMsg struct {
	RoomCode    string `json:"roomCode"`
	PlayerIndex int    `json:"playerIndex"`
	Nickname    string `json:"nickname"`
	Face        Face   `json:"face"`
	GameState   State  `json:"gameState"`
	PlayerCount int    `json:"playerCount"`
	Level       int    `json:"level"`
	Lives       int    `json:"lives"`
	Score       int    `json:"score"`
}

type seatMsg struct {
	PlayerIndex int    `json:"playerIndex"`
	Nickname    string `json:"nickname,omitempty"`
	Face        Face   `json:"face,omitempty"`
}

type playerLeftMsg struct {
	PlayerIndex int    `json:"playerIndex"`
	PlayerList  []Seat `json:"playerList"`
}

type gameStartMsg struct {
	Level        int          `json:"level"`
	Lives        int          `json:"lives"`
	PlayerCount  int          `json:"playerCount"`
	HumanPlayers []int        `json:"humanPlayers"`
	Faces        map[int]Face `json:"faces"`
}

type inputMsg struct {
	PlayerIndex int             `json:"playerIndex"`
	Input       json.RawMessage `json:"input"`
}

type levelTransitionMsg struct {
	NextLevel int `json:"nextLevel"`
	Score     int `json:"score"`
	Lives     int `json:"lives"`
}

type livesMsg struct {
	Lives int `json:"lives"`
}

type finalScoreMsg struct {
	Score int `json:"score"`
	Level int `json:"level"`
}

type victoryMsg struct {
	Score int `json:"score"`
	Lives int `json:"lives"`
}
