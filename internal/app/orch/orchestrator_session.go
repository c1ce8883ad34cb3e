package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

type authErrorPayload struct {
	Message string `json:"message"`
}

type authenticatedPayload struct {
	User domain.User `json:"user"`
}

// Authenticate binds uid to cid. An unknown uid leaves the connection as it
// was and is reported with auth-error. Re-authenticating as another user
// leaves voice, re-announces the connection to its room and releases the
// previous user when this was their last session.
func (o *Orchestrator) Authenticate(ctx context.Context, cid core.ConnID, uid domain.UserID) error {
	user, err := o.Store.FindUserByID(ctx, uid)
	if err != nil {
		msg := "user not found"
		if !errors.Is(err, core.ErrNotFound) {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(cid)).Msg("authenticate lookup")
			msg = "authentication failed"
		}
		o.emit(cid, core.EvAuthError, authErrorPayload{Message: msg})
		if errors.Is(err, core.ErrNotFound) {
			return core.ErrUserNotFound
		}
		return fmt.Errorf("find user %d: %w", uid, err)
	}

	rooms, err := o.Store.ListRooms(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("list rooms")
	}

	o.mu.Lock()
	prev, _ := o.Registry.GetSession(cid)
	sess, replaced, ok := o.Registry.Bind(cid, user.Public())
	if !ok {
		o.mu.Unlock()
		return core.ErrConnectionGone
	}
	switched := replaced && prev.User.ID != sess.User.ID
	if switched {
		o.leaveVoiceLocked(cid, true)
		if room, inRoom := o.Rooms.CurrentRoom(cid); inRoom {
			o.toRoomLocked(room, cid, core.EvUserLeftRoom, roomPeer(prev.User))
			o.toRoomLocked(room, cid, core.EvUserJoinedRoom, roomPeer(sess.User))
		}
	}
	o.sendLocked(cid, core.EvAuthenticated, authenticatedPayload{User: sess.User})
	if err == nil {
		o.sendLocked(cid, core.EvRoomsList, nonNil(rooms))
	}
	o.toAllLocked(core.EvOnlineUsers, o.onlineSnapshotLocked())
	prevReleased := switched && o.Registry.SessionsOfUser(prev.User.ID) == 0
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(cid)).Str("username", user.Username).Bool("switched", switched).Msg("authenticated")
	o.setStatus(ctx, user.ID, domain.StatusOnline)
	if prevReleased {
		o.Limiter.Forget(prev.User.ID)
		o.setStatus(ctx, prev.User.ID, domain.StatusOffline)
	}
	return nil
}

// Session exposes the registry guard to adapters.
func (o *Orchestrator) Session(cid core.ConnID) (core.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Registry.GetSession(cid)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
