package core

import (
	"time"

	"github.com/dkeye/Chorus/internal/domain"
)

// RoomInfo is a read-only occupancy view for APIs.
type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"member_count"`
	Voice   int           `json:"voice_count"`
}

// UserDTO is what snapshots carry about a user.
type UserDTO struct {
	ID       domain.UserID     `json:"id"`
	Username string            `json:"username"`
	Avatar   string            `json:"avatar"`
	Status   domain.UserStatus `json:"status,omitempty"`
}

// VoiceUserDTO is one voice roster entry. ConnectionID lets peers address
// signaling messages to each other.
type VoiceUserDTO struct {
	ID           domain.UserID `json:"id"`
	Username     string        `json:"username"`
	Avatar       string        `json:"avatar"`
	ConnectionID ConnID        `json:"connectionId"`
	PeerID       string        `json:"peerId,omitempty"`
	Speaking     bool          `json:"speaking"`
	JoinedAt     time.Time     `json:"joinedAt"`
}
