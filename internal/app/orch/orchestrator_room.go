package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Chorus/internal/app"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

type errorPayload struct {
	Message string `json:"message"`
}

// JoinRoom moves cid into room with leave-then-join semantics and privately
// sends the room's recent history and metadata.
func (o *Orchestrator) JoinRoom(ctx context.Context, cid core.ConnID, room domain.RoomID) error {
	o.mu.Lock()
	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		o.mu.Unlock()
		return core.ErrUnauthenticated
	}
	cur, inRoom := o.Rooms.CurrentRoom(cid)
	if !inRoom || cur != room {
		if p, inVoice := o.Voice.Get(cid); inVoice && p.RoomID != room {
			switch o.voiceSwitch {
			case app.VoiceReject:
				o.sendLocked(cid, core.EvJoinError, errorPayload{Message: "leave voice before switching rooms"})
				o.mu.Unlock()
				return core.ErrRoomSwitchRejected
			case app.VoiceLeave:
				o.leaveVoiceLocked(cid, true)
			case app.VoiceStay:
			}
		}
		prev, hadPrev := o.Rooms.Join(cid, room)
		if hadPrev {
			o.toRoomLocked(prev, cid, core.EvUserLeftRoom, roomPeer(sess.User))
		}
		o.toRoomLocked(room, cid, core.EvUserJoinedRoom, roomPeer(sess.User))
	}
	sig, _ := o.Registry.Signal(cid)
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(cid)).Int64("room", int64(room)).Msg("joined room")

	history, err := o.Store.ListMessages(ctx, room, o.historyLimit)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("room", int64(room)).Msg("load history")
	} else {
		o.push(cid, sig, core.EvMessageHistory, nonNil(history))
	}

	info, err := o.Store.GetRoom(ctx, room)
	switch {
	case err == nil:
		o.push(cid, sig, core.EvRoomInfo, info)
	case !errors.Is(err, core.ErrNotFound):
		log.Error().Err(err).Str("module", "orch").Int64("room", int64(room)).Msg("load room info")
	}
	return nil
}

// CurrentRoom reports the room cid occupies.
func (o *Orchestrator) CurrentRoom(cid core.ConnID) (domain.RoomID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Rooms.CurrentRoom(cid)
}

// SendMessage persists text and fans it out to the sender's room, sender
// included. A storage failure is reported to the sender only.
func (o *Orchestrator) SendMessage(ctx context.Context, cid core.ConnID, text string) error {
	o.mu.Lock()
	sess, ok := o.Registry.GetSession(cid)
	if !ok {
		o.mu.Unlock()
		return core.ErrUnauthenticated
	}
	room, ok := o.Rooms.CurrentRoom(cid)
	if !ok {
		o.mu.Unlock()
		return core.ErrNoCurrentRoom
	}
	sig, _ := o.Registry.Signal(cid)
	o.mu.Unlock()

	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return core.ErrEmptyMessage
	case utf8.RuneCountInString(text) > o.maxMessageLen:
		o.push(cid, sig, core.EvMessageError, errorPayload{Message: "message too long"})
		return core.ErrMessageTooLong
	case !o.Limiter.Allow(sess.User.ID):
		o.push(cid, sig, core.EvMessageError, errorPayload{Message: "slow down"})
		return core.ErrRateLimited
	}

	msg, err := o.Store.InsertMessage(ctx, room, sess.User.ID, text)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(cid)).Int64("room", int64(room)).Msg("insert message")
		o.push(cid, sig, core.EvMessageError, errorPayload{Message: "message not saved"})
		return fmt.Errorf("insert message: %w", err)
	}
	msg.Username = sess.User.Username
	msg.Avatar = sess.User.Avatar

	o.mu.Lock()
	o.toRoomLocked(room, "", core.EvNewMessage, msg)
	o.mu.Unlock()

	log.Debug().Str("module", "orch").Str("username", sess.User.Username).Int64("room", int64(room)).Msg("message sent")
	return nil
}

// LikeMessage records a like and pushes the updated message to its room.
func (o *Orchestrator) LikeMessage(ctx context.Context, cid core.ConnID, id domain.MessageID) error {
	sess, ok := o.Session(cid)
	if !ok {
		return core.ErrUnauthenticated
	}
	msg, err := o.Store.LikeMessage(ctx, id, sess.User.ID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Error().Err(err).Str("module", "orch").Int64("message", int64(id)).Msg("like message")
		}
		return fmt.Errorf("like message %d: %w", id, err)
	}

	o.mu.Lock()
	o.toRoomLocked(msg.RoomID, "", core.EvMessageLiked, msg)
	o.mu.Unlock()
	return nil
}
