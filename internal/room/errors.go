package room

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrNoCodeAvailable = errors.New("no room code available")
	ErrNotHost         = errors.New("sender is not the room host")
	ErrNotMember       = errors.New("sender is not a member of the room")
	ErrInvalidState    = errors.New("operation not allowed in current room state")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrHostConnected   = errors.New("host already connected")
	ErrSeatTaken       = errors.New("seat already taken")
	ErrNoReservation   = errors.New("no reservation for seat")
	ErrHostCannotJoin  = errors.New("host cannot join as player or viewer")
	ErrServerStopped   = errors.New("server is shutting down")
)

// 重連失敗原因（rejoin-failed.reason）
const (
	ReasonRoomNotFound         = "room-not-found"
	ReasonHostConnected        = "host-already-connected"
	ReasonSeatTaken            = "slot-taken"
	ReasonNoReservation        = "no-reservation"
	ReasonInvalidRequest       = "invalid-request"
	ReasonHostCannotRejoinSeat = "host-cannot-rejoin-seat"
)

// rejoinReason 將錯誤轉為回覆給客戶端的原因代碼。
func rejoinReason(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return ReasonRoomNotFound
	case errors.Is(err, ErrHostConnected):
		return ReasonHostConnected
	case errors.Is(err, ErrSeatTaken):
		return ReasonSeatTaken
	case errors.Is(err, ErrNoReservation):
		return ReasonNoReservation
	case errors.Is(err, ErrHostCannotJoin):
		return ReasonHostCannotRejoinSeat
	default:
		return ReasonInvalidRequest
	}
}

// 房間關閉原因（room-closed.reason）
const (
	CloseHostCreatedNewRoom = "host-created-new-room"
	CloseHostTimeout        = "host-timeout"
	CloseIdle               = "idle"
	CloseServerShutdown     = "server-shutdown"
)
