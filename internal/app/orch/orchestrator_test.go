package orch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Chorus/internal/app"
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestOrchestrator_ChatScenario(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.store.EXPECT().
		InsertMessage(gomock.Any(), general.ID, alice.ID, "hi").
		Return(domain.Message{ID: 7, RoomID: general.ID, UserID: alice.ID, Content: "hi"}, nil)

	a, sigA := h.login("conn-a", alice)
	h.join(a, general)

	var history []domain.Message
	sigA.last(t, core.EvMessageHistory, &history)
	req.Empty(history)
	var info domain.Room
	sigA.last(t, core.EvRoomInfo, &info)
	req.Equal("general", info.Name)

	b, sigB := h.login("conn-b", bob)
	h.join(b, general)

	var joined peerPayload
	sigA.last(t, core.EvUserJoinedRoom, &joined)
	req.Equal("B", joined.Username)

	req.NoError(h.o.SendMessage(h.ctx, a, "hi"))
	for _, sig := range []*fakeSignal{sigA, sigB} {
		var msg domain.Message
		sig.last(t, core.EvNewMessage, &msg)
		req.Equal("hi", msg.Content)
		req.Equal("A", msg.Username)
	}

	sigB.reset()
	req.NoError(h.o.JoinVoice(a))
	req.Equal([]string{core.EvUserJoinedVoice, core.EvVoiceUsersUpdate}, sigB.types())
	var roster []core.VoiceUserDTO
	sigB.last(t, core.EvVoiceUsersUpdate, &roster)
	req.Len(roster, 1)
	req.Equal("A", roster[0].Username)
	req.Equal(a, roster[0].ConnectionID)

	sigB.reset()
	h.o.Disconnect(h.ctx, a)
	req.Equal([]string{
		core.EvUserLeftVoice,
		core.EvVoiceUsersUpdate,
		core.EvUserLeftRoom,
		core.EvOnlineUsers,
	}, sigB.types())

	var online []core.UserDTO
	sigB.last(t, core.EvOnlineUsers, &online)
	req.Len(online, 1)
	req.Equal(bob.ID, online[0].ID)
	req.Equal(domain.StatusOnline, online[0].Status)
}

func TestOrchestrator_Authenticate(t *testing.T) {
	t.Run("should send user, rooms and online users", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		_, sig := h.login("c1", alice)

		req.Equal([]string{core.EvAuthenticated, core.EvRoomsList, core.EvOnlineUsers}, sig.types())
		var got authenticatedPayload
		sig.last(t, core.EvAuthenticated, &got)
		req.Equal(alice.ID, got.User.ID)
		req.Empty(got.User.PasswordHash)

		var rooms []domain.Room
		sig.last(t, core.EvRoomsList, &rooms)
		req.Len(rooms, 3)
	})

	t.Run("should replace the session on re-authentication", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		cid, _ := h.login("c1", alice)
		req.NoError(h.o.Authenticate(h.ctx, cid, bob.ID))

		sess, ok := h.o.Session(cid)
		req.True(ok)
		req.Equal(bob.ID, sess.User.ID)
		req.Len(h.o.Registry.Sessions(), 1)
		req.Equal([]core.UserDTO{{ID: bob.ID, Username: "B", Avatar: bob.Avatar, Status: domain.StatusOnline}}, h.o.OnlineUsers())
	})

	t.Run("should release the previous user on re-authentication as someone else", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, general)
		h.join(b, general)
		req.NoError(h.o.JoinVoice(a))
		sigB.reset()

		req.NoError(h.o.Authenticate(h.ctx, a, carol.ID))

		_, inVoice := h.o.Voice.Get(a)
		req.False(inVoice)
		req.Empty(h.o.Voice.Roster(general.ID))
		req.Equal([]core.UserDTO{
			{ID: bob.ID, Username: "B", Avatar: bob.Avatar, Status: domain.StatusOnline},
			{ID: carol.ID, Username: "C", Avatar: carol.Avatar, Status: domain.StatusOnline},
		}, h.o.OnlineUsers())

		var left, joined peerPayload
		sigB.last(t, core.EvUserLeftRoom, &left)
		sigB.last(t, core.EvUserJoinedRoom, &joined)
		req.Equal("A", left.Username)
		req.Equal("C", joined.Username)
		req.Equal(1, sigB.count(core.EvUserLeftVoice))
		var roster []core.VoiceUserDTO
		sigB.last(t, core.EvVoiceUsersUpdate, &roster)
		req.Empty(roster)

		req.Equal([]domain.UserStatus{domain.StatusOnline, domain.StatusOffline}, h.statusWrites(alice.ID))
		req.Equal([]domain.UserStatus{domain.StatusOnline}, h.statusWrites(carol.ID))
	})

	t.Run("should keep the previous user online while another session remains", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a1, _ := h.login("a1", alice)
		h.login("a2", alice)

		req.NoError(h.o.Authenticate(h.ctx, a1, bob.ID))
		req.NotContains(h.statusWrites(alice.ID), domain.StatusOffline)
		req.Len(h.o.OnlineUsers(), 2)
	})

	t.Run("should keep voice when the same user authenticates again", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		h.join(a, general)
		req.NoError(h.o.JoinVoice(a))

		req.NoError(h.o.Authenticate(h.ctx, a, alice.ID))
		_, inVoice := h.o.Voice.Get(a)
		req.True(inVoice)
		req.NotContains(h.statusWrites(alice.ID), domain.StatusOffline)
	})

	t.Run("should report unknown users with auth-error", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		h.store.EXPECT().FindUserByID(gomock.Any(), domain.UserID(99)).Return(domain.User{}, core.ErrNotFound)

		cid, sig := h.connect("c1")
		err := h.o.Authenticate(h.ctx, cid, 99)
		req.ErrorIs(err, core.ErrUserNotFound)
		req.Equal([]string{core.EvAuthError}, sig.types())
		var payload authErrorPayload
		sig.last(t, core.EvAuthError, &payload)
		req.Equal("user not found", payload.Message)

		_, ok := h.o.Session(cid)
		req.False(ok)
	})

	t.Run("should push online users to unauthenticated connections too", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		_, lurker := h.connect("lurker")
		h.login("c1", alice)
		req.Equal(1, lurker.count(core.EvOnlineUsers))
	})

	t.Run("should list a user with two sessions once", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		h.login("c1", alice)
		h.login("c2", alice)
		h.login("c3", bob)
		online := h.o.OnlineUsers()
		req.Len(online, 2)
		req.Equal(alice.ID, online[0].ID)
		req.Equal(bob.ID, online[1].ID)
	})
}

func TestOrchestrator_JoinRoom(t *testing.T) {
	t.Run("should ignore unauthenticated connections", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		cid, sig := h.connect("c1")
		req.ErrorIs(h.o.JoinRoom(h.ctx, cid, general.ID), core.ErrUnauthenticated)
		req.Empty(sig.types())
		_, ok := h.o.CurrentRoom(cid)
		req.False(ok)
	})

	t.Run("should leave the old room before joining the new one", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		c, sigC := h.login("c", carol)
		h.join(a, general)
		h.join(b, general)
		h.join(c, random)
		sigB.reset()
		sigC.reset()

		h.join(a, random)

		req.Equal(1, sigB.count(core.EvUserLeftRoom))
		req.Equal(0, sigB.count(core.EvUserJoinedRoom))
		req.Equal(1, sigC.count(core.EvUserJoinedRoom))
		req.Equal(0, sigC.count(core.EvUserLeftRoom))

		room, ok := h.o.CurrentRoom(a)
		req.True(ok)
		req.Equal(random.ID, room)
		req.ElementsMatch([]core.ConnID{b}, h.o.Rooms.Members(general.ID))
		req.ElementsMatch([]core.ConnID{a, c}, h.o.Rooms.Members(random.ID))
	})

	t.Run("should not announce a rejoin of the same room", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, sigA := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, general)
		h.join(b, general)
		sigA.reset()
		sigB.reset()

		h.join(a, general)
		req.Empty(sigB.types())
		req.Equal([]string{core.EvMessageHistory, core.EvRoomInfo}, sigA.types())
	})
}

func TestOrchestrator_VoiceSwitchPolicy(t *testing.T) {
	t.Run("stay keeps voice bound to the first room", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{VoiceSwitch: app.VoiceStay})
		a, _ := h.login("a", alice)
		h.join(a, voiceRoom)
		req.NoError(h.o.JoinVoice(a))
		h.join(a, general)

		p, ok := h.o.Voice.Get(a)
		req.True(ok)
		req.Equal(voiceRoom.ID, p.RoomID)
		req.Len(h.o.Voice.Roster(voiceRoom.ID), 1)
	})

	t.Run("leave drops voice before the switch", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{VoiceSwitch: app.VoiceLeave})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, voiceRoom)
		h.join(b, voiceRoom)
		req.NoError(h.o.JoinVoice(a))
		sigB.reset()

		h.join(a, general)
		req.Equal([]string{core.EvUserLeftVoice, core.EvVoiceUsersUpdate, core.EvUserLeftRoom}, sigB.types())
		req.Empty(h.o.Voice.Roster(voiceRoom.ID))
	})

	t.Run("reject refuses the switch", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{VoiceSwitch: app.VoiceReject})
		a, sigA := h.login("a", alice)
		h.join(a, voiceRoom)
		req.NoError(h.o.JoinVoice(a))

		err := h.o.JoinRoom(h.ctx, a, general.ID)
		req.ErrorIs(err, core.ErrRoomSwitchRejected)
		req.Equal(1, sigA.count(core.EvJoinError))
		room, _ := h.o.CurrentRoom(a)
		req.Equal(voiceRoom.ID, room)
	})
}

func TestOrchestrator_Voice(t *testing.T) {
	t.Run("should require a current room", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, sig := h.login("a", alice)
		sig.reset()
		req.ErrorIs(h.o.JoinVoice(a), core.ErrNoCurrentRoom)
		req.Empty(sig.types())
	})

	t.Run("should be idempotent", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, voiceRoom)
		h.join(b, voiceRoom)
		sigB.reset()

		req.NoError(h.o.JoinVoice(a))
		req.NoError(h.o.JoinVoice(a))
		req.Len(h.o.Voice.Roster(voiceRoom.ID), 1)
		req.Equal(1, sigB.count(core.EvUserJoinedVoice))

		h.o.LeaveVoice(a)
		h.o.LeaveVoice(a)
		req.Empty(h.o.Voice.Roster(voiceRoom.ID))
		req.Equal(1, sigB.count(core.EvUserLeftVoice))

		var left leftVoicePayload
		sigB.last(t, core.EvUserLeftVoice, &left)
		req.Equal("A", left.Username)
	})

	t.Run("should broadcast speaking changes once", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, voiceRoom)
		h.join(b, voiceRoom)

		req.ErrorIs(h.o.SetSpeaking(a, true), core.ErrNotInVoice)
		req.NoError(h.o.JoinVoice(a))
		sigB.reset()

		req.NoError(h.o.SetSpeaking(a, true))
		req.NoError(h.o.SetSpeaking(a, true))
		req.Equal(1, sigB.count(core.EvSpeakingUsers))
		var speaking []core.VoiceUserDTO
		sigB.last(t, core.EvSpeakingUsers, &speaking)
		req.Len(speaking, 1)
		req.True(speaking[0].Speaking)

		req.NoError(h.o.SetSpeaking(a, false))
		sigB.last(t, core.EvSpeakingUsers, &speaking)
		req.Empty(speaking)
	})

	t.Run("should announce peer ids to the room", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, voiceRoom)
		h.join(b, voiceRoom)
		req.NoError(h.o.JoinVoice(a))

		req.NoError(h.o.AnnouncePeer(a, "peer-123"))
		var got peerIDPayload
		sigB.last(t, core.EvUserPeerID, &got)
		req.Equal("peer-123", got.PeerID)
		req.Equal(a, got.ConnectionID)

		p, _ := h.o.Voice.Get(a)
		req.Equal("peer-123", p.PeerID)

		var roster []core.VoiceUserDTO
		sigB.last(t, core.EvVoiceUsersUpdate, &roster)
		req.Len(roster, 1)
		req.Equal("peer-123", roster[0].PeerID)
		req.Equal(a, roster[0].ConnectionID)
		req.WithinDuration(time.Now(), roster[0].JoinedAt, time.Minute)
	})
}

func TestOrchestrator_Relay(t *testing.T) {
	t.Run("should deliver only to the target with the true sender", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, sigA := h.login("a", alice)
		b, sigB := h.login("b", bob)
		_, sigC := h.login("c", carol)
		for _, s := range []*fakeSignal{sigA, sigB, sigC} {
			s.reset()
		}

		offer := json.RawMessage(`{"type":"offer","sdp":"v=0","from":"forged"}`)
		req.NoError(h.o.Relay(SignalOffer, a, b, offer))

		req.Empty(sigA.types())
		req.Empty(sigC.types())
		var got struct {
			Offer json.RawMessage `json:"offer"`
			From  core.ConnID     `json:"from"`
		}
		sigB.last(t, core.EvWebRTCOffer, &got)
		req.Equal(a, got.From)
		req.JSONEq(string(offer), string(got.Offer))
	})

	t.Run("should use the field of each kind", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		b, sigB := h.login("b", bob)

		req.NoError(h.o.Relay(SignalAnswer, a, b, json.RawMessage(`{"sdp":"x"}`)))
		req.NoError(h.o.Relay(SignalCandidate, a, b, json.RawMessage(`{"candidate":"c"}`)))

		var answer map[string]json.RawMessage
		sigB.last(t, core.EvWebRTCAnswer, &answer)
		req.Contains(answer, "answer")
		var cand map[string]json.RawMessage
		sigB.last(t, core.EvWebRTCCandidate, &cand)
		req.Contains(cand, "candidate")
	})

	t.Run("should drop messages to unknown targets", func(t *testing.T) {
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		err := h.o.Relay(SignalOffer, a, "gone", json.RawMessage(`{}`))
		require.ErrorIs(t, err, core.ErrTargetUnreachable)
	})

	t.Run("should ignore unauthenticated senders", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		anon, _ := h.connect("anon")
		b, sigB := h.login("b", bob)
		sigB.reset()
		req.ErrorIs(h.o.Relay(SignalOffer, anon, b, json.RawMessage(`{}`)), core.ErrUnauthenticated)
		req.Empty(sigB.types())
	})

	t.Run("should reject unknown kinds", func(t *testing.T) {
		_, err := ParseSignalKind("webrtc-bye")
		require.Error(t, err)
	})
}

func TestOrchestrator_SendMessage(t *testing.T) {
	t.Run("should report storage failures to the sender only", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		h.store.EXPECT().
			InsertMessage(gomock.Any(), general.ID, alice.ID, "hello").
			Return(domain.Message{}, errors.New("disk full"))

		a, sigA := h.login("a", alice)
		b, sigB := h.login("b", bob)
		h.join(a, general)
		h.join(b, general)
		sigB.reset()

		req.Error(h.o.SendMessage(h.ctx, a, "  hello  "))
		req.Equal(1, sigA.count(core.EvMessageError))
		req.Equal(0, sigA.count(core.EvNewMessage))
		req.Empty(sigB.types())
	})

	t.Run("should ignore messages without a room", func(t *testing.T) {
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		require.ErrorIs(t, h.o.SendMessage(h.ctx, a, "hi"), core.ErrNoCurrentRoom)
	})

	t.Run("should reject empty and oversized text", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{MaxMessageLen: 3})
		a, _ := h.login("a", alice)
		h.join(a, general)
		req.ErrorIs(h.o.SendMessage(h.ctx, a, "   "), core.ErrEmptyMessage)
		req.ErrorIs(h.o.SendMessage(h.ctx, a, "four"), core.ErrMessageTooLong)
	})

	t.Run("should rate limit per user", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{Limiter: app.NewRateLimiter(1, time.Minute)})
		h.store.EXPECT().
			InsertMessage(gomock.Any(), general.ID, alice.ID, "one").
			Return(domain.Message{ID: 1, RoomID: general.ID, UserID: alice.ID, Content: "one"}, nil)
		a, sigA := h.login("a", alice)
		h.join(a, general)

		req.NoError(h.o.SendMessage(h.ctx, a, "one"))
		req.ErrorIs(h.o.SendMessage(h.ctx, a, "two"), core.ErrRateLimited)
		req.Equal(1, sigA.count(core.EvMessageError))
	})
}

func TestOrchestrator_LikeMessage(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	h.store.EXPECT().
		LikeMessage(gomock.Any(), domain.MessageID(5), bob.ID).
		Return(domain.Message{ID: 5, RoomID: general.ID, Likes: 1}, nil)

	a, sigA := h.login("a", alice)
	b, _ := h.login("b", bob)
	h.join(a, general)
	h.join(b, general)

	req.NoError(h.o.LikeMessage(h.ctx, b, 5))
	var msg domain.Message
	sigA.last(t, core.EvMessageLiked, &msg)
	req.Equal(1, msg.Likes)
}

func TestOrchestrator_Disconnect(t *testing.T) {
	t.Run("should remove every trace of the connection", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, Options{})
		a, _ := h.login("a", alice)
		h.join(a, voiceRoom)
		req.NoError(h.o.JoinVoice(a))

		h.o.Disconnect(h.ctx, a)

		_, ok := h.o.Session(a)
		req.False(ok)
		_, ok = h.o.CurrentRoom(a)
		req.False(ok)
		_, ok = h.o.Voice.Get(a)
		req.False(ok)
		_, ok = h.o.Registry.Signal(a)
		req.False(ok)
		req.Empty(h.o.OnlineUsers())
		req.Empty(h.o.RoomStats())
	})

	t.Run("should mark offline only after the last session", func(t *testing.T) {
		h := newHarness(t, Options{})
		a1, _ := h.login("a1", alice)
		a2, _ := h.login("a2", alice)

		h.o.Disconnect(h.ctx, a1)
		require.Len(t, h.o.OnlineUsers(), 1)
		require.NotContains(t, h.statusWrites(alice.ID), domain.StatusOffline)
		h.o.Disconnect(h.ctx, a2)
		require.Empty(t, h.o.OnlineUsers())
		require.Equal(t, domain.StatusOffline, lo.LastOrEmpty(h.statusWrites(alice.ID)))
	})

	t.Run("should be silent for unauthenticated connections", func(t *testing.T) {
		h := newHarness(t, Options{})
		anon, _ := h.connect("anon")
		_, sigB := h.login("b", bob)
		sigB.reset()
		h.o.Disconnect(h.ctx, anon)
		require.Empty(t, sigB.types())
	})
}

func TestOrchestrator_Backpressure(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, sigA := h.login("a", alice)
	b, sigB := h.login("b", bob)
	h.join(b, general)
	sigB.mu.Lock()
	sigB.full = true
	sigB.mu.Unlock()

	h.join(a, general)
	req.True(sigB.isClosed())
	req.True(sigB.isCanceled())
	req.False(sigA.isCanceled())

	h.o.Shutdown()
	req.True(sigA.isClosed())
}

func TestOrchestrator_BackpressureOnPrivateReply(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, sigA := h.login("a", alice)
	sigA.mu.Lock()
	sigA.full = true
	sigA.mu.Unlock()

	h.join(a, general)
	req.True(sigA.isCanceled())
	req.True(sigA.isClosed())
}
