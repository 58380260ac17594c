package room

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RelayInput 將玩家輸入轉給目前主機，附上座位索引。
//
// 輸入是持續更新的狀態而非事件紀錄，主機忙碌時直接丟棄，不排隊也不重送。
func (m *Manager) RelayInput(connID, code string, input json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, seat, err := m.seatLocked(connID, code)
	if err != nil {
		return err
	}

	host, ok := m.peers[r.HostConnID]
	if !ok {
		return nil
	}

	frame, err := Encode(EventPlayerInput, inputMsg{PlayerIndex: seat.PlayerIndex, Input: input})
	if err != nil {
		return err
	}
	host.SendVolatile(frame)
	return nil
}

// BroadcastState 將主機的遊戲快照原封不動轉給所有觀眾（不含主機）。
// 回傳實際送出的觀眾數。
func (m *Manager) BroadcastState(connID, code string, snapshot json.RawMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.hostRoomLocked(connID, code)
	if err != nil {
		return 0, err
	}
	if len(r.Viewers) == 0 {
		return 0, nil
	}

	frame, err := Encode(EventGameStateUpdate, snapshot)
	if err != nil {
		return 0, err
	}

	sent := 0
	for viewerID := range r.Viewers {
		if p, ok := m.peers[viewerID]; ok && p.SendVolatile(frame) {
			sent++
		}
	}
	return sent, nil
}

// signalTargetHost WebRTC 訊號目標為主機時的 to 值。
const signalTargetHost = "host"

// RelaySignal 轉發 WebRTC 點對點訊號（offer / answer / ice-candidate / ready）。
//
// payload 原樣轉發；目標由 to 決定："host" 或玩家座位索引。
func (m *Manager) RelaySignal(connID, event string, payload json.RawMessage) error {
	var req signalRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[req.RoomCode]
	if !ok {
		return ErrRoomNotFound
	}
	if member, ok := m.members[connID]; !ok || member.RoomCode != req.RoomCode || member.Role == RoleViewer {
		return ErrNotMember
	}

	target, err := signalTarget(r, req.To)
	if err != nil {
		return err
	}
	if target == connID {
		return nil
	}

	p, ok := m.peers[target]
	if !ok {
		return nil
	}

	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	r.touch(m.now())
	p.Send(frame)
	return nil
}

func signalTarget(r *Room, to json.RawMessage) (string, error) {
	to = bytes.TrimSpace(to)
	if len(to) == 0 {
		return "", fmt.Errorf("%w: missing target", ErrInvalidPayload)
	}

	if to[0] == '"' {
		var name string
		if err := json.Unmarshal(to, &name); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if name != signalTargetHost {
			return "", fmt.Errorf("%w: target %q", ErrInvalidPayload, name)
		}
		return r.HostConnID, nil
	}

	var index int
	if err := json.Unmarshal(to, &index); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	seat := r.SeatByIndex(index)
	if seat == nil {
		return "", ErrNotMember
	}
	return seat.ConnID, nil
}
