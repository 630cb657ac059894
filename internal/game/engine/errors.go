package engine

import "errors"

// CommandError 玩家指令被拒绝的原因，Code 会原样下发给客户端
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

var (
	ErrRoomFull            = &CommandError{Code: "ROOM_FULL", Message: "room is full"}
	ErrAlreadyJoined       = &CommandError{Code: "ALREADY_JOINED", Message: "player already in room"}
	ErrRoomBusy            = &CommandError{Code: "ROOM_BUSY", Message: "round in progress, try again later"}
	ErrNotInRoom           = &CommandError{Code: "NOT_IN_ROOM", Message: "player not in room"}
	ErrWrongPhase          = &CommandError{Code: "WRONG_PHASE", Message: "action not allowed in current phase"}
	ErrBetAlreadyPlaced    = &CommandError{Code: "BET_ALREADY_PLACED", Message: "bet already placed this round"}
	ErrBetOutOfRange       = &CommandError{Code: "BET_OUT_OF_RANGE", Message: "bet outside table limits"}
	ErrInsufficientBalance = &CommandError{Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance"}
	ErrNotYourTurn         = &CommandError{Code: "NOT_YOUR_TURN", Message: "not your turn"}
	ErrHandFinished        = &CommandError{Code: "HAND_FINISHED", Message: "hand already finished"}
	ErrSessionClosed       = &CommandError{Code: "SESSION_CLOSED", Message: "session closed"}
)

// Code 取错误码，非指令错误一律 INTERNAL
func Code(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "INTERNAL"
}
