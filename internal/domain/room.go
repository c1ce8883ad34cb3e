package domain

import "time"

type RoomID int64

type RoomType string

const (
	RoomText  RoomType = "text"
	RoomVoice RoomType = "voice"
)

type Room struct {
	ID          RoomID    `json:"id"`
	Name        string    `json:"name"`
	Type        RoomType  `json:"type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultRooms is what a fresh store is seeded with.
func DefaultRooms() []Room {
	return []Room{
		{Name: "general", Type: RoomText, Description: "Main chat"},
		{Name: "random", Type: RoomText, Description: "Off-topic talk"},
		{Name: "help", Type: RoomText, Description: "Help and support"},
		{Name: "voice-chat", Type: RoomVoice, Description: "Voice chat"},
	}
}
