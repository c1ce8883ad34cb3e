// Package orch coordinates the connection registry, room membership, voice
// presence and signaling relay. Every mutation runs under one mutex so the
// trackers never observe a torn state; persistence calls happen outside it.
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/Chorus/internal/app"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit  = 100
	DefaultMaxMessageLen = 2000
)

type Options struct {
	HistoryLimit  int
	MaxMessageLen int
	VoiceSwitch   app.VoiceSwitch
	Policy        app.Policy
	Limiter       *app.RateLimiter
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.Rooms
	Voice    *app.Voice
	Policy   app.Policy
	Store    core.Store
	Limiter  *app.RateLimiter

	historyLimit  int
	maxMessageLen int
	voiceSwitch   app.VoiceSwitch

	mu sync.Mutex
}

func New(store core.Store, opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = DefaultMaxMessageLen
	}
	if opts.VoiceSwitch == "" {
		opts.VoiceSwitch = app.VoiceStay
	}
	if opts.Policy == nil {
		opts.Policy = app.SimplePolicy{}
	}
	return &Orchestrator{
		Registry:      app.NewRegistry(),
		Rooms:         app.NewRooms(),
		Voice:         app.NewVoice(),
		Policy:        opts.Policy,
		Store:         store,
		Limiter:       opts.Limiter,
		historyLimit:  opts.HistoryLimit,
		maxMessageLen: opts.MaxMessageLen,
		voiceSwitch:   opts.VoiceSwitch,
	}
}

// Connect registers a live transport connection. It stays unauthenticated
// until Authenticate succeeds.
func (o *Orchestrator) Connect(cid core.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Registry.Attach(cid, sig, cancel)
}

// Disconnect tears down voice presence, room membership and the Session of
// cid in one pass, then fires the resulting notifications.
func (o *Orchestrator) Disconnect(ctx context.Context, cid core.ConnID) {
	o.mu.Lock()
	sess, authed := o.Registry.GetSession(cid)

	o.leaveVoiceLocked(cid, false)
	room, inRoom := o.Rooms.Leave(cid)
	o.Registry.Drop(cid)

	if authed && inRoom {
		o.toRoomLocked(room, cid, core.EvUserLeftRoom, roomPeer(sess.User))
	}
	lastSession := false
	if authed {
		o.toAllLocked(core.EvOnlineUsers, o.onlineSnapshotLocked())
		lastSession = o.Registry.SessionsOfUser(sess.User.ID) == 0
	}
	o.mu.Unlock()

	if !authed {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(cid)).Str("username", sess.User.Username).Msg("user disconnected")
	if lastSession {
		o.Limiter.Forget(sess.User.ID)
		o.setStatus(ctx, sess.User.ID, domain.StatusOffline)
	}
}

// Shutdown closes every transport. Each transport's teardown still runs
// Disconnect, so presence is cleaned up the normal way.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cid := range o.Registry.Conns() {
		if sig, ok := o.Registry.Signal(cid); ok {
			sig.Close()
		}
	}
	log.Info().Str("module", "orch").Int("conns", o.Registry.Len()).Msg("closed all connections")
}

// OnlineUsers is the in-memory online set, the ground truth for presence.
func (o *Orchestrator) OnlineUsers() []core.UserDTO {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.onlineSnapshotLocked()
}

// Connections counts attached transports, authenticated or not.
func (o *Orchestrator) Connections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Registry.Len()
}

// RoomStats reports occupancy for rooms with members or voice users.
func (o *Orchestrator) RoomStats() []core.RoomInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	seen := make(map[domain.RoomID]bool)
	out := make([]core.RoomInfo, 0)
	add := func(id domain.RoomID) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, core.RoomInfo{ID: id, Members: o.Rooms.Count(id), Voice: o.Voice.Count(id)})
	}
	for _, id := range o.Rooms.Occupied() {
		add(id)
	}
	for _, s := range o.Registry.Sessions() {
		if p, ok := o.Voice.Get(s.Conn); ok {
			add(p.RoomID)
		}
	}
	return out
}

func (o *Orchestrator) setStatus(ctx context.Context, uid domain.UserID, status domain.UserStatus) {
	if err := o.Store.SetUserStatus(ctx, uid, status); err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("user", int64(uid)).Str("status", string(status)).Msg("set user status")
	}
}
