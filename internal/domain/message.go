package domain

import "time"

type MessageID int64

// Message is a persisted chat line joined with its author's display fields.
type Message struct {
	ID        MessageID `json:"id"`
	RoomID    RoomID    `json:"room_id"`
	UserID    UserID    `json:"user_id"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	LikedBy   []UserID  `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
}

// Like records a like from uid once. It reports whether the count changed.
func (m *Message) Like(uid UserID) bool {
	for _, id := range m.LikedBy {
		if id == uid {
			return false
		}
	}
	m.LikedBy = append(m.LikedBy, uid)
	m.Likes++
	return true
}
