package orch

import (
	"github.com/dkeye/Chorus/internal/core"
	"github.com/rs/zerolog/log"
)

type leftVoicePayload struct {
	Username string `json:"username"`
}

type peerIDPayload struct {
	UserID       int64       `json:"userId"`
	Username     string      `json:"username"`
	PeerID       string      `json:"peerId"`
	ConnectionID core.ConnID `json:"connectionId"`
}

// JoinVoice seats cid in the voice channel of its current room. A second call
// while present is a no-op; a presence left behind in another room is moved.
func (o *Orchestrator) JoinVoice(cid core.ConnID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		return core.ErrUnauthenticated
	}
	room, ok := o.Rooms.CurrentRoom(cid)
	if !ok {
		return core.ErrNoCurrentRoom
	}
	if p, ok := o.Voice.Get(cid); ok {
		if p.RoomID == room {
			return nil
		}
		o.leaveVoiceLocked(cid, true)
	}

	o.Voice.Join(core.NewVoicePresence(sess, room))
	o.toAudienceLocked(room, cid, core.EvUserJoinedVoice, roomPeer(sess.User))
	o.pushVoiceRosterLocked(room, "")
	log.Info().Str("module", "orch").Str("sid", string(cid)).Str("username", sess.User.Username).Msg("joined voice")
	return nil
}

// LeaveVoice is idempotent.
func (o *Orchestrator) LeaveVoice(cid core.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.leaveVoiceLocked(cid, true)
}

// leaveVoiceLocked removes the presence of cid and notifies its voice room.
// The leaver gets the new roster only when notifySelf is set.
func (o *Orchestrator) leaveVoiceLocked(cid core.ConnID, notifySelf bool) bool {
	p, ok := o.Voice.Leave(cid)
	if !ok {
		return false
	}
	except := cid
	if notifySelf {
		except = ""
	}
	o.toAudienceLocked(p.RoomID, cid, core.EvUserLeftVoice, leftVoicePayload{Username: p.Username})
	o.pushVoiceRosterLocked(p.RoomID, except)
	if p.Speaking {
		o.pushSpeakingLocked(p.RoomID, except)
	}
	return true
}

// SetSpeaking flips the speaking flag of a voice user and pushes the room's
// speaking set when it changed.
func (o *Orchestrator) SetSpeaking(cid core.ConnID, speaking bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.Voice.Get(cid)
	if !ok {
		return core.ErrNotInVoice
	}
	if o.Voice.SetSpeaking(cid, speaking) {
		o.pushSpeakingLocked(p.RoomID, "")
	}
	return nil
}

// AnnouncePeer relays an opaque peer identifier to the sender's room. A voice
// user's roster entry carries it too, so the roster is pushed again.
func (o *Orchestrator) AnnouncePeer(cid core.ConnID, peerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		return core.ErrUnauthenticated
	}
	room, ok := o.Rooms.CurrentRoom(cid)
	p, inVoice := o.Voice.Get(cid)
	if inVoice {
		o.Voice.SetPeerID(cid, peerID)
		room, ok = p.RoomID, true
	}
	if !ok {
		return core.ErrNoCurrentRoom
	}
	o.toAudienceLocked(room, cid, core.EvUserPeerID, peerIDPayload{
		UserID:       int64(sess.User.ID),
		Username:     sess.User.Username,
		PeerID:       peerID,
		ConnectionID: cid,
	})
	if inVoice {
		o.pushVoiceRosterLocked(room, "")
	}
	return nil
}
