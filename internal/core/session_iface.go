package core

import (
	"time"

	"github.com/dkeye/Chorus/internal/domain"
)

// ConnID identifies one live transport connection.
type ConnID string

// Session binds an authenticated user to a connection.
type Session struct {
	Conn ConnID
	User domain.User
}

// VoicePresence is a session's seat in a room's voice sub-channel.
// RoomID is fixed at join time.
type VoicePresence struct {
	Conn     ConnID
	UserID   domain.UserID
	Username string
	Avatar   string
	RoomID   domain.RoomID
	PeerID   string
	Speaking bool
	JoinedAt time.Time
}

func NewVoicePresence(s Session, room domain.RoomID) VoicePresence {
	return VoicePresence{
		Conn:     s.Conn,
		UserID:   s.User.ID,
		Username: s.User.Username,
		Avatar:   s.User.Avatar,
		RoomID:   room,
		JoinedAt: time.Now(),
	}
}
