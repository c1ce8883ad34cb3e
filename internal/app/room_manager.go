package app

import (
	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// Rooms tracks which room each connection occupies and the roster of every
// occupied room. A connection is in at most one room.
// It is not safe for concurrent use; the orchestrator serializes access.
type Rooms struct {
	byConn  map[core.ConnID]domain.RoomID
	rosters map[domain.RoomID]map[core.ConnID]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		byConn:  make(map[core.ConnID]domain.RoomID),
		rosters: make(map[domain.RoomID]map[core.ConnID]struct{}),
	}
}

// Join moves cid into room, leaving its previous room first.
func (r *Rooms) Join(cid core.ConnID, room domain.RoomID) (prev domain.RoomID, hadPrev bool) {
	prev, hadPrev = r.Leave(cid)
	roster, ok := r.rosters[room]
	if !ok {
		roster = make(map[core.ConnID]struct{})
		r.rosters[room] = roster
	}
	roster[cid] = struct{}{}
	r.byConn[cid] = room
	log.Info().Str("module", "app.rooms").Str("sid", string(cid)).Int64("room", int64(room)).Msg("member added")
	return prev, hadPrev
}

// Leave removes cid from its room, if any.
func (r *Rooms) Leave(cid core.ConnID) (domain.RoomID, bool) {
	room, ok := r.byConn[cid]
	if !ok {
		return 0, false
	}
	delete(r.byConn, cid)
	if roster, ok := r.rosters[room]; ok {
		delete(roster, cid)
		if len(roster) == 0 {
			delete(r.rosters, room)
		}
	}
	log.Info().Str("module", "app.rooms").Str("sid", string(cid)).Int64("room", int64(room)).Msg("member removed")
	return room, true
}

func (r *Rooms) CurrentRoom(cid core.ConnID) (domain.RoomID, bool) {
	room, ok := r.byConn[cid]
	return room, ok
}

// Members returns the connections in room.
func (r *Rooms) Members(room domain.RoomID) []core.ConnID {
	roster := r.rosters[room]
	out := make([]core.ConnID, 0, len(roster))
	for cid := range roster {
		out = append(out, cid)
	}
	return out
}

// Others returns the connections in room except cid.
func (r *Rooms) Others(room domain.RoomID, cid core.ConnID) []core.ConnID {
	out := r.Members(room)
	for i, m := range out {
		if m == cid {
			return append(out[:i], out[i+1:]...)
		}
	}
	return out
}

func (r *Rooms) Count(room domain.RoomID) int { return len(r.rosters[room]) }

// Occupied lists rooms with at least one member.
func (r *Rooms) Occupied() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(r.rosters))
	for id := range r.rosters {
		out = append(out, id)
	}
	return out
}
