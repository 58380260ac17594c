package room

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HandleMessage 解析一個客戶端訊框並分派到對應操作。
//
// 錯誤只記錄不外傳：需要回覆的操作（加入、重連）已自行送出失敗訊息，
// 其餘（非主機、狀態不符、格式錯誤）一律靜默忽略。
func (m *Manager) HandleMessage(connID string, frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		m.logger.Debugw("無效訊框", "conn_id", connID, "error", err)
		return
	}

	if err := m.dispatch(connID, env); err != nil {
		m.logger.Debugw("訊息未處理",
			"conn_id", connID,
			"event", env.Event,
			"error", err)
	}
}

func (m *Manager) dispatch(connID string, env Envelope) error {
	switch env.Event {
	case EventHostCreateRoom:
		_, err := m.CreateRoom(connID)
		return err

	case EventHostRejoinRoom:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return m.failRejoin(connID, err)
		}
		return m.RejoinHost(connID, req.RoomCode)

	case EventSetPlayerCount:
		var req playerCountRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		count := req.PlayerCount
		if count == nil {
			count = req.Count
		}
		if count == nil {
			return fmt.Errorf("%w: missing player count", ErrInvalidPayload)
		}
		return m.SetPlayerCount(connID, req.RoomCode, *count)

	case EventSetStartLevel:
		var req startLevelRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.SetStartLevel(connID, req.RoomCode, req.Level)

	case EventHostResumedGame:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.ResumeGame(connID, req.RoomCode)

	case EventPlayerJoin:
		var req joinRequest
		if err := decodePayload(env.Data, &req); err != nil {
			m.mu.Lock()
			m.emit(connID, EventJoinError, errorMsg{Message: "Invalid request"})
			m.mu.Unlock()
			return err
		}
		_, err := m.JoinPlayer(connID, req.RoomCode, req.Nickname)
		return err

	case EventPlayerRejoin:
		var req rejoinRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return m.failRejoin(connID, err)
		}
		if req.PlayerIndex == nil {
			return m.failRejoin(connID, fmt.Errorf("%w: missing player index", ErrInvalidPayload))
		}
		return m.RejoinPlayer(connID, req.RoomCode, *req.PlayerIndex)

	case EventPlayerReady:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.SetReady(connID, req.RoomCode)

	case EventPlayerFaceSelect:
		var req faceRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.SelectFace(connID, req.RoomCode, req.Face)

	case EventPlayerInput:
		var req inputRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.RelayInput(connID, req.RoomCode, req.Input)

	case EventViewerJoin:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			m.mu.Lock()
			m.emit(connID, EventViewerJoinError, errorMsg{Message: "Invalid request"})
			m.mu.Unlock()
			return err
		}
		return m.JoinViewer(connID, req.RoomCode)

	case EventGameStateUpdate:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		_, err := m.BroadcastState(connID, req.RoomCode, env.Data)
		return err

	case EventLevelComplete:
		var req levelCompleteRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.CompleteLevel(connID, req.RoomCode, req.NextLevel, req.LevelTime)

	case EventPlayerDied:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.PlayerDied(connID, req.RoomCode)

	case EventGameOver:
		var req gameOverRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.FinishGame(connID, req.RoomCode, req.LevelTime)

	case EventTryAgain, EventRestartGame:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.Retry(connID, req.RoomCode, env.Event == EventRestartGame)

	case EventPlayAgain:
		var req roomRequest
		if err := decodePayload(env.Data, &req); err != nil {
			return err
		}
		return m.PlayAgain(connID, req.RoomCode)

	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate, EventWebRTCReady:
		return m.RelaySignal(connID, env.Event, env.Data)

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

func (m *Manager) failRejoin(connID string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejectRejoin(connID, err)
}

var errEmptyPayload = errors.New("empty payload")

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, errEmptyPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
