package core

import "errors"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUserNotFound       = errors.New("user not found")
	ErrNoCurrentRoom      = errors.New("no current room")
	ErrTargetUnreachable  = errors.New("target unreachable")
	ErrNotInVoice         = errors.New("not in voice")
	ErrEmptyMessage       = errors.New("empty message")
	ErrMessageTooLong     = errors.New("message too long")
	ErrRoomSwitchRejected = errors.New("room switch rejected while in voice")
	ErrConnectionGone     = errors.New("connection gone")
	ErrRateLimited        = errors.New("rate limited")

	// storage
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username taken")
)
