package app

import (
	"cmp"
	"slices"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// Voice tracks who is present in each room's voice sub-channel.
// It is not safe for concurrent use; the orchestrator serializes access.
type Voice struct {
	byConn map[core.ConnID]*voiceEntry
	seq    uint64
}

type voiceEntry struct {
	core.VoicePresence
	seq uint64
}

func NewVoice() *Voice {
	return &Voice{byConn: make(map[core.ConnID]*voiceEntry)}
}

// Join records p. A connection already present keeps its original entry.
func (v *Voice) Join(p core.VoicePresence) bool {
	if _, ok := v.byConn[p.Conn]; ok {
		return false
	}
	v.seq++
	v.byConn[p.Conn] = &voiceEntry{VoicePresence: p, seq: v.seq}
	log.Info().Str("module", "app.voice").Str("sid", string(p.Conn)).Int64("room", int64(p.RoomID)).Msg("joined voice")
	return true
}

// Leave removes cid's presence. Safe to call when absent.
func (v *Voice) Leave(cid core.ConnID) (core.VoicePresence, bool) {
	e, ok := v.byConn[cid]
	if !ok {
		return core.VoicePresence{}, false
	}
	delete(v.byConn, cid)
	log.Info().Str("module", "app.voice").Str("sid", string(cid)).Int64("room", int64(e.RoomID)).Msg("left voice")
	return e.VoicePresence, true
}

func (v *Voice) Get(cid core.ConnID) (core.VoicePresence, bool) {
	e, ok := v.byConn[cid]
	if !ok {
		return core.VoicePresence{}, false
	}
	return e.VoicePresence, true
}

// Roster returns presences bound to room in join order.
func (v *Voice) Roster(room domain.RoomID) []core.VoicePresence {
	entries := make([]*voiceEntry, 0)
	for _, e := range v.byConn {
		if e.RoomID == room {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *voiceEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]core.VoicePresence, len(entries))
	for i, e := range entries {
		out[i] = e.VoicePresence
	}
	return out
}

// Speaking returns the speaking subset of Roster(room).
func (v *Voice) Speaking(room domain.RoomID) []core.VoicePresence {
	out := make([]core.VoicePresence, 0)
	for _, p := range v.Roster(room) {
		if p.Speaking {
			out = append(out, p)
		}
	}
	return out
}

// SetSpeaking reports whether the flag changed. Absent connections are ignored.
func (v *Voice) SetSpeaking(cid core.ConnID, speaking bool) bool {
	e, ok := v.byConn[cid]
	if !ok || e.Speaking == speaking {
		return false
	}
	e.Speaking = speaking
	return true
}

func (v *Voice) SetPeerID(cid core.ConnID, peerID string) bool {
	e, ok := v.byConn[cid]
	if !ok {
		return false
	}
	e.PeerID = peerID
	return true
}

func (v *Voice) Count(room domain.RoomID) int {
	n := 0
	for _, e := range v.byConn {
		if e.RoomID == room {
			n++
		}
	}
	return n
}
