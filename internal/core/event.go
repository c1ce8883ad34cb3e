package core

import "encoding/json"

// Outbound event names.
const (
	EvAuthenticated    = "authenticated"
	EvAuthError        = "auth-error"
	EvRoomsList        = "rooms-list"
	EvOnlineUsers      = "online-users"
	EvMessageHistory   = "message-history"
	EvRoomInfo         = "room-info"
	EvNewMessage       = "new-message"
	EvMessageLiked     = "message-liked"
	EvMessageError     = "message-error"
	EvJoinError        = "join-error"
	EvUserJoinedRoom   = "user-joined-room"
	EvUserLeftRoom     = "user-left-room"
	EvUserJoinedVoice  = "user-joined-voice"
	EvUserLeftVoice    = "user-left-voice"
	EvVoiceUsersUpdate = "voice-users-update"
	EvSpeakingUsers    = "speaking-users-update"
	EvUserPeerID       = "user-peer-id"
	EvWebRTCOffer      = "webrtc-offer"
	EvWebRTCAnswer     = "webrtc-answer"
	EvWebRTCCandidate  = "webrtc-ice-candidate"
	EvPong             = "pong"
)

// Envelope is the single frame shape in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event typ carrying v.
func Encode(typ string, v any) (Frame, error) {
	out := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: typ, Data: v}
	return json.Marshal(out)
}
