package orch

import (
	"github.com/dkeye/Chorus/internal/app"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type peerPayload struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

func roomPeer(u domain.User) peerPayload {
	return peerPayload{Username: u.Username, Avatar: u.Avatar}
}

// onlineSnapshotLocked has one entry per user with a live Session, in order
// of first authentication.
func (o *Orchestrator) onlineSnapshotLocked() []core.UserDTO {
	sessions := lo.UniqBy(o.Registry.Sessions(), func(s core.Session) domain.UserID { return s.User.ID })
	return lo.Map(sessions, func(s core.Session, _ int) core.UserDTO {
		return core.UserDTO{
			ID:       s.User.ID,
			Username: s.User.Username,
			Avatar:   s.User.Avatar,
			Status:   domain.StatusOnline,
		}
	})
}

func voiceUsers(ps []core.VoicePresence) []core.VoiceUserDTO {
	return lo.Map(ps, func(p core.VoicePresence, _ int) core.VoiceUserDTO {
		return core.VoiceUserDTO{
			ID:           p.UserID,
			Username:     p.Username,
			Avatar:       p.Avatar,
			ConnectionID: p.Conn,
			PeerID:       p.PeerID,
			Speaking:     p.Speaking,
			JoinedAt:     p.JoinedAt,
		}
	})
}

func (o *Orchestrator) pushVoiceRosterLocked(room domain.RoomID, except core.ConnID) {
	o.toAudienceLocked(room, except, core.EvVoiceUsersUpdate, voiceUsers(o.Voice.Roster(room)))
}

func (o *Orchestrator) pushSpeakingLocked(room domain.RoomID, except core.ConnID) {
	o.toAudienceLocked(room, except, core.EvSpeakingUsers, voiceUsers(o.Voice.Speaking(room)))
}

// audienceLocked is everyone who cares about room's voice channel: its text
// members plus voice users bound to it from elsewhere.
func (o *Orchestrator) audienceLocked(room domain.RoomID) []core.ConnID {
	conns := o.Rooms.Members(room)
	for _, p := range o.Voice.Roster(room) {
		conns = append(conns, p.Conn)
	}
	return lo.Uniq(conns)
}

func (o *Orchestrator) toAudienceLocked(room domain.RoomID, except core.ConnID, typ string, v any) {
	o.toConnsLocked(lo.Without(o.audienceLocked(room), except), typ, v)
}

// toRoomLocked sends to room members except the given connection; pass ""
// to include everyone.
func (o *Orchestrator) toRoomLocked(room domain.RoomID, except core.ConnID, typ string, v any) {
	o.toConnsLocked(o.Rooms.Others(room, except), typ, v)
}

// toAllLocked sends to every attached connection, authenticated or not.
func (o *Orchestrator) toAllLocked(typ string, v any) {
	o.toConnsLocked(o.Registry.Conns(), typ, v)
}

func (o *Orchestrator) toConnsLocked(cids []core.ConnID, typ string, v any) {
	if len(cids) == 0 {
		return
	}
	frame, err := core.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.broadcast").Str("type", typ).Msg("encode")
		return
	}
	for _, cid := range cids {
		if sig, ok := o.Registry.Signal(cid); ok {
			if o.deliver(cid, sig, frame) == app.KickMember {
				o.kickLocked(cid, sig)
			}
		}
	}
	log.Debug().Str("module", "orch.broadcast").Str("type", typ).Int("targets", len(cids)).Msg("broadcast")
}

func (o *Orchestrator) sendLocked(cid core.ConnID, typ string, v any) {
	sig, ok := o.Registry.Signal(cid)
	if !ok {
		return
	}
	frame, err := core.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.broadcast").Str("type", typ).Msg("encode")
		return
	}
	if o.deliver(cid, sig, frame) == app.KickMember {
		o.kickLocked(cid, sig)
	}
}

// emit sends to one connection from outside the lock.
func (o *Orchestrator) emit(cid core.ConnID, typ string, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendLocked(cid, typ, v)
}

// push sends through a signal captured earlier. It must be called without
// the lock held; only a kick takes it.
func (o *Orchestrator) push(cid core.ConnID, sig core.SignalConnection, typ string, v any) {
	frame, err := core.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.broadcast").Str("type", typ).Msg("encode")
		return
	}
	if o.deliver(cid, sig, frame) == app.KickMember {
		o.mu.Lock()
		o.kickLocked(cid, sig)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) deliver(cid core.ConnID, sig core.SignalConnection, frame core.Frame) app.BackpressureAction {
	err := sig.TrySend(frame)
	if err == nil {
		return app.NoAction
	}
	action := o.Policy.OnBackPressure(cid, err)
	if action == app.DropFrame {
		log.Debug().Err(err).Str("module", "orch.broadcast").Str("sid", string(cid)).Msg("frame dropped")
	}
	return action
}

// kickLocked cancels the connection's context and closes its transport. The
// read loop then runs Disconnect as for any other close.
func (o *Orchestrator) kickLocked(cid core.ConnID, sig core.SignalConnection) {
	log.Warn().Str("module", "orch.broadcast").Str("sid", string(cid)).Msg("kicking slow connection")
	o.Registry.Cancel(cid)
	sig.Close()
}
