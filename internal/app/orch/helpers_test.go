package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/dkeye/Chorus/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeSignal struct {
	mu       sync.Mutex
	frames   []core.Envelope
	closed   bool
	canceled bool
	full     bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	var env core.Envelope
	if err := json.Unmarshal(fr, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignal) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = true
}

func (f *fakeSignal) isCanceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *fakeSignal) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, e := range f.frames {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakeSignal) count(typ string) int {
	n := 0
	for _, x := range f.types() {
		if x == typ {
			n++
		}
	}
	return n
}

// last decodes the data of the newest frame of typ into v.
func (f *fakeSignal) last(t *testing.T, typ string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Type == typ {
			require.NoError(t, json.Unmarshal(f.frames[i].Data, v))
			return
		}
	}
	t.Fatalf("no %q frame received, got %v", typ, f.frames)
}

func (f *fakeSignal) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

var (
	alice = domain.User{ID: 1, Username: "A", Avatar: "https://avatar/a", PasswordHash: "x"}
	bob   = domain.User{ID: 2, Username: "B", Avatar: "https://avatar/b", PasswordHash: "y"}
	carol = domain.User{ID: 3, Username: "C", Avatar: "https://avatar/c"}

	general   = domain.Room{ID: 1, Name: "general", Type: domain.RoomText}
	random    = domain.Room{ID: 2, Name: "random", Type: domain.RoomText}
	voiceRoom = domain.Room{ID: 4, Name: "voice-chat", Type: domain.RoomVoice}
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *mocks.MockStore
	o     *Orchestrator

	mu       sync.Mutex
	statuses map[domain.UserID][]domain.UserStatus
}

// newHarness wires an orchestrator to a mock store that knows alice, bob and
// carol and has empty rooms.
func newHarness(t *testing.T, opts Options) *harness {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	h := &harness{t: t, ctx: context.Background(), store: store, statuses: map[domain.UserID][]domain.UserStatus{}}

	for _, u := range []domain.User{alice, bob, carol} {
		store.EXPECT().FindUserByID(gomock.Any(), u.ID).Return(u, nil).AnyTimes()
	}
	store.EXPECT().ListRooms(gomock.Any()).Return([]domain.Room{general, random, voiceRoom}, nil).AnyTimes()
	store.EXPECT().SetUserStatus(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id domain.UserID, status domain.UserStatus) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.statuses[id] = append(h.statuses[id], status)
			return nil
		}).AnyTimes()
	store.EXPECT().ListMessages(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	for _, r := range []domain.Room{general, random, voiceRoom} {
		store.EXPECT().GetRoom(gomock.Any(), r.ID).Return(r, nil).AnyTimes()
	}

	h.o = New(store, opts)
	return h
}

// statusWrites lists the persisted status changes of uid in order.
func (h *harness) statusWrites(uid domain.UserID) []domain.UserStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.UserStatus(nil), h.statuses[uid]...)
}

func (h *harness) connect(id string) (core.ConnID, *fakeSignal) {
	sig := &fakeSignal{}
	cid := core.ConnID(id)
	h.o.Connect(cid, sig, sig.cancel)
	return cid, sig
}

func (h *harness) login(id string, u domain.User) (core.ConnID, *fakeSignal) {
	cid, sig := h.connect(id)
	require.NoError(h.t, h.o.Authenticate(h.ctx, cid, u.ID))
	return cid, sig
}

func (h *harness) join(cid core.ConnID, room domain.Room) {
	require.NoError(h.t, h.o.JoinRoom(h.ctx, cid, room.ID))
}
